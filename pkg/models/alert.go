package models

import (
	"encoding/json"
	"time"
)

// AlertRecord is the payload stored on an alert node. Record is the full
// serialized alert and is never parsed by the graph.
type AlertRecord struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Record      json.RawMessage `json:"record,omitempty"`
}

// IncidentAlert is one alert in an incident export.
type IncidentAlert struct {
	SystemAlertID string            `json:"SystemAlertId,omitempty"`
	AlertName     string            `json:"AlertName"`
	Description   string            `json:"Description,omitempty"`
	Severity      string            `json:"AlertSeverity,omitempty"`
	Tactics       string            `json:"Tactics,omitempty"`
	TimeGenerated time.Time         `json:"TimeGenerated,omitempty"`
	Entities      []json.RawMessage `json:"Entities"`
	IoaTags       []IoaTag          `json:"ioa_tags,omitempty"`
}

// Incident groups the alerts that make up one investigation scenario.
type Incident struct {
	IncidentID string          `json:"incident_id"`
	Title      string          `json:"title,omitempty"`
	Alerts     []IncidentAlert `json:"alerts"`
}
