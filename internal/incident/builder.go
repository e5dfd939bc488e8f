package incident

import (
	"encoding/json"
	"fmt"

	"threatbench/internal/graph/investigation"
	"threatbench/internal/logger"
	"threatbench/pkg/models"
)

// BuildStats summarizes graph construction.
type BuildStats struct {
	Alerts          int
	Entities        int
	Edges           int
	SkippedEntities int
	PrunedNodes     int
}

// Build adds every alert and entity of inc to a new graph and prunes it to
// its largest component.
func Build(inc *models.Incident) (*investigation.Graph, BuildStats, error) {
	var stats BuildStats
	if inc == nil || len(inc.Alerts) == 0 {
		return nil, stats, fmt.Errorf("incident has no alerts")
	}

	g := investigation.New()
	for i, a := range inc.Alerts {
		record, err := json.Marshal(a)
		if err != nil {
			return nil, stats, fmt.Errorf("encode alert %d: %w", i, err)
		}
		alertID := g.AddAlert(models.AlertRecord{
			Name:        a.AlertName,
			Description: a.Description,
			Record:      record,
		})

		for j, raw := range a.Entities {
			ent, err := models.DecodeEntity(raw)
			if err != nil {
				stats.SkippedEntities++
				logger.Warnf("Skipping entity %d of alert %q: %v", j, a.AlertName, err)
				continue
			}
			for _, entityID := range g.AddEntityIdentifiers(ent) {
				g.Connect(alertID, entityID)
			}
		}
	}

	removed, err := g.PruneToLargestComponent()
	if err != nil {
		return nil, stats, err
	}
	stats.PrunedNodes = removed
	stats.Alerts = len(g.Alerts())
	stats.Entities = len(g.Entities())
	stats.Edges = g.EdgeCount()
	logger.Infof("Incident %s graph: alerts=%d entities=%d edges=%d skipped_entities=%d pruned=%d",
		inc.IncidentID, stats.Alerts, stats.Entities, stats.Edges, stats.SkippedEntities, stats.PrunedNodes)
	return g, stats, nil
}
