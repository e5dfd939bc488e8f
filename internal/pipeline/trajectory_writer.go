package pipeline

import "threatbench/pkg/models"

// TrajectoryWriter writes finished episode records.
type TrajectoryWriter interface {
	WriteEpisodes(records []*models.EpisodeRecord) error
	Close() error
}

// Discard drops every record. It is used when no sink is configured.
type Discard struct{}

// WriteEpisodes implements TrajectoryWriter.
func (Discard) WriteEpisodes([]*models.EpisodeRecord) error { return nil }

// Close implements TrajectoryWriter.
func (Discard) Close() error { return nil }
