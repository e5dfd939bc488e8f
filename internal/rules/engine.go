package rules

import (
	"context"

	"threatbench/pkg/models"
)

// Engine labels telemetry events with the detection rules they trip.
type Engine interface {
	Match(ctx context.Context, event *models.Event) []models.IoaTag
}

// NoopEngine matches nothing. Synthesis with it yields no alerts.
type NoopEngine struct{}

// Match returns no tags.
func (NoopEngine) Match(context.Context, *models.Event) []models.IoaTag {
	return nil
}
