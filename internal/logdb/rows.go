// Package logdb loads parsed telemetry into the log databases that agents
// query during episodes.
package logdb

import (
	"encoding/json"

	"threatbench/pkg/models"
)

// Table is the default table name for loaded events.
const Table = "SysmonEvent"

// TimeLayout is how event times are stored.
const TimeLayout = "2006-01-02 15:04:05.000"

// Row is one event flattened into the columns agents query.
type Row struct {
	EventTime       string `json:"event_time"`
	EventID         int    `json:"event_id"`
	Host            string `json:"host"`
	RecordID        string `json:"record_id"`
	ProcessGUID     string `json:"process_guid"`
	Image           string `json:"image"`
	CommandLine     string `json:"command_line"`
	ParentImage     string `json:"parent_image"`
	UserName        string `json:"user_name"`
	TargetFilename  string `json:"target_filename"`
	DestinationIP   string `json:"destination_ip"`
	DestinationPort string `json:"destination_port"`
	QueryName       string `json:"query_name"`
	TargetObject    string `json:"target_object"`
	Fields          string `json:"fields"`
}

var columns = []string{
	"event_time", "event_id", "host", "record_id", "process_guid", "image",
	"command_line", "parent_image", "user_name", "target_filename",
	"destination_ip", "destination_port", "query_name", "target_object", "fields",
}

// FromEvent flattens ev. The full field map is kept as JSON in Fields.
func FromEvent(ev *models.Event) Row {
	raw, _ := json.Marshal(ev.Fields)
	return Row{
		EventTime:       ev.Timestamp.UTC().Format(TimeLayout),
		EventID:         ev.EventID,
		Host:            ev.Host(),
		RecordID:        ev.RecordID,
		ProcessGUID:     ev.FirstField("ProcessGuid", "SourceProcessGuid"),
		Image:           ev.FirstField("Image", "SourceImage"),
		CommandLine:     ev.Field("CommandLine"),
		ParentImage:     ev.Field("ParentImage"),
		UserName:        ev.FirstField("User", "SourceUser"),
		TargetFilename:  ev.FirstField("TargetFilename", "ImageLoaded"),
		DestinationIP:   ev.Field("DestinationIp"),
		DestinationPort: ev.Field("DestinationPort"),
		QueryName:       ev.Field("QueryName"),
		TargetObject:    ev.Field("TargetObject"),
		Fields:          string(raw),
	}
}

func (r Row) values() []interface{} {
	return []interface{}{
		r.EventTime, r.EventID, r.Host, r.RecordID, r.ProcessGUID, r.Image,
		r.CommandLine, r.ParentImage, r.UserName, r.TargetFilename,
		r.DestinationIP, r.DestinationPort, r.QueryName, r.TargetObject, r.Fields,
	}
}
