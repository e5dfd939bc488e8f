// Package incident turns incident exports and raw telemetry into the
// investigation graph.
package incident

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"threatbench/pkg/models"
)

// Load reads an incident export. The file may hold an incident object or a
// bare array of alerts.
func Load(path string) (*models.Incident, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	inc, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("load incident %s: %w", path, err)
	}
	if inc.IncidentID == "" {
		inc.IncidentID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return inc, nil
}

// Decode parses an incident from r.
func Decode(r io.Reader) (*models.Incident, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty incident document")
	}

	if data[0] == '[' {
		var alerts []models.IncidentAlert
		if err := json.Unmarshal(data, &alerts); err != nil {
			return nil, fmt.Errorf("decode alert array: %w", err)
		}
		return &models.Incident{Alerts: alerts}, nil
	}

	var inc models.Incident
	if err := json.Unmarshal(data, &inc); err != nil {
		return nil, fmt.Errorf("decode incident: %w", err)
	}
	return &inc, nil
}
