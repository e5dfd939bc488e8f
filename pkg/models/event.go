package models

import (
	"fmt"
	"strings"
	"time"
)

// Event is a normalized Sysmon telemetry record used for alert synthesis.
type Event struct {
	Timestamp time.Time              `json:"@timestamp"`
	EventID   int                    `json:"event_id"`
	AgentID   string                 `json:"agent_id"`
	Hostname  string                 `json:"hostname"`
	Channel   string                 `json:"channel,omitempty"`
	RecordID  string                 `json:"record_id,omitempty"`
	Fields    map[string]interface{} `json:"fields"`
	IoaTags   []IoaTag               `json:"ioa_tags,omitempty"`
}

// Field returns a field value rendered as a string.
func (e *Event) Field(name string) string {
	if e == nil || e.Fields == nil {
		return ""
	}
	v, ok := e.Fields[name]
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%f", val)
	case bool:
		if val {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", val)
	}
}

// FirstField returns the first non-empty value among names.
func (e *Event) FirstField(names ...string) string {
	for _, name := range names {
		if v := e.Field(name); v != "" && v != "-" {
			return v
		}
	}
	return ""
}

// Host returns the hostname, falling back to the agent id.
func (e *Event) Host() string {
	if e.Hostname != "" {
		return e.Hostname
	}
	return e.AgentID
}

// ProcessKey identifies the acting process for cooldown bookkeeping.
func (e *Event) ProcessKey() string {
	guid := e.FirstField("ProcessGuid", "SourceProcessGuid")
	if guid == "" {
		return ""
	}
	return strings.ToLower(e.Host() + "|" + guid)
}
