package incident

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"threatbench/internal/logger"
	"threatbench/internal/rules"
	"threatbench/pkg/models"
)

// SynthOptions controls alert synthesis.
type SynthOptions struct {
	// Cooldown suppresses repeats of one rule on one process.
	Cooldown   time.Duration
	IncidentID string
}

var alertNamespace = uuid.MustParse("6f0c5a8e-3b1d-4c47-9d55-0e7f2b1a9c44")

// Synthesize runs engine over events and emits one alert per matched rule.
// Events must be in time order; ParseStream returns them that way.
func Synthesize(ctx context.Context, events []*models.Event, engine rules.Engine, opts SynthOptions) (*models.Incident, error) {
	if engine == nil {
		engine = rules.NoopEngine{}
	}
	lastFired := make(map[string]time.Time)
	inc := &models.Incident{IncidentID: opts.IncidentID, Title: "Synthesized from Sysmon telemetry"}

	suppressed := 0
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tags := engine.Match(ctx, ev)
		if len(tags) == 0 {
			continue
		}
		ev.IoaTags = tags

		entities, err := encodeEntities(EntitiesFromEvent(ev))
		if err != nil {
			return nil, err
		}
		for _, tag := range tags {
			key := cooldownKey(tag, ev)
			if last, ok := lastFired[key]; ok && opts.Cooldown > 0 && ev.Timestamp.Sub(last) < opts.Cooldown {
				suppressed++
				continue
			}
			lastFired[key] = ev.Timestamp
			inc.Alerts = append(inc.Alerts, models.IncidentAlert{
				SystemAlertID: uuid.NewSHA1(alertNamespace, []byte(key+"|"+ev.Timestamp.Format(time.RFC3339Nano))).String(),
				AlertName:     tag.Name,
				Description:   describe(tag),
				Severity:      tag.Severity,
				Tactics:       tag.Tactic,
				TimeGenerated: ev.Timestamp,
				Entities:      entities,
				IoaTags:       []models.IoaTag{tag},
			})
		}
	}

	logger.Infof("Synthesized %d alerts from %d events (%d suppressed by cooldown)", len(inc.Alerts), len(events), suppressed)
	return inc, nil
}

func cooldownKey(tag models.IoaTag, ev *models.Event) string {
	subject := ev.ProcessKey()
	if subject == "" {
		subject = strings.ToLower(ev.Host())
	}
	id := tag.ID
	if id == "" {
		id = tag.Name
	}
	return id + "|" + subject
}

func describe(tag models.IoaTag) string {
	tactic, technique := tag.Tactic, tag.Technique
	if tactic == "" && technique == "" {
		return tag.Name
	}
	return fmt.Sprintf("%s/%s: %s", tactic, technique, tag.Name)
}

func encodeEntities(entities []models.Entity) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(entities))
	for _, e := range entities {
		raw, err := models.MarshalEntity(e)
		if err != nil {
			return nil, fmt.Errorf("encode %s entity: %w", e.Kind(), err)
		}
		out = append(out, raw)
	}
	return out, nil
}
