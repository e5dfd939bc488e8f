package sysmon

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"threatbench/internal/logger"
	"threatbench/pkg/models"
)

const maxLineBytes = 4 << 20

// Parse converts one Sysmon record into an Event. Both winlogbeat documents
// (winlog.event_data) and flat records with EventID at the top level are
// accepted.
func Parse(data []byte) (*models.Event, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	event := &models.Event{Fields: make(map[string]interface{})}
	event.EventID = getInt(raw, "winlog.event_id", "event.code", "EventID", "event_id")
	event.AgentID = getString(raw, "agent.id", "agent_id")
	event.Hostname = getString(raw, "host.name", "host.hostname", "Computer", "hostname")
	event.Channel = getString(raw, "winlog.channel", "Channel")
	event.RecordID = getString(raw, "winlog.record_id", "EventRecordID", "record_id")

	if v, ok := getPath(raw, "winlog.event_data"); ok {
		if m, ok := v.(map[string]interface{}); ok {
			event.Fields = m
		}
	} else {
		for k, v := range raw {
			if _, nested := v.(map[string]interface{}); nested {
				continue
			}
			event.Fields[k] = v
		}
	}

	if ts := getString(raw, "@timestamp", "TimeCreated"); ts != "" {
		if t, ok := parseUtcTime(ts); ok {
			event.Timestamp = t
		}
	}
	if t, ok := parseUtcTime(getString(event.Fields, "UtcTime")); ok {
		event.Timestamp = t
	}
	if event.EventID == 0 {
		return nil, fmt.Errorf("sysmon record has no event id")
	}
	return event, nil
}

// ParseStream reads newline-delimited records and returns events in timestamp
// order. Malformed lines are logged and skipped.
func ParseStream(r io.Reader) ([]*models.Event, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var events []*models.Event
	line := 0
	skipped := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		ev, err := Parse([]byte(text))
		if err != nil {
			skipped++
			logger.Warnf("Skipping sysmon line %d: %v", line, err)
			continue
		}
		events = append(events, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read sysmon stream: %w", err)
	}

	sortByTime(events)
	logger.Infof("Parsed %d sysmon events (%d skipped)", len(events), skipped)
	return events, nil
}

// ParseRecords parses raw records, such as messages popped from a queue,
// and returns events in timestamp order. Malformed records are skipped.
func ParseRecords(records [][]byte) []*models.Event {
	events := make([]*models.Event, 0, len(records))
	for i, rec := range records {
		ev, err := Parse(rec)
		if err != nil {
			logger.Warnf("Skipping sysmon record %d: %v", i, err)
			continue
		}
		events = append(events, ev)
	}
	sortByTime(events)
	return events
}

func sortByTime(events []*models.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
}

func parseUtcTime(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}

	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}

	for _, layout := range []string{
		"2006-01-02 15:04:05.000000000",
		"2006-01-02 15:04:05.0000000",
		"2006-01-02 15:04:05.000000",
		"2006-01-02 15:04:05.000",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.UTC(), true
		}
	}

	return time.Time{}, false
}

func getString(root map[string]interface{}, paths ...string) string {
	for _, path := range paths {
		v, ok := getPath(root, path)
		if !ok {
			continue
		}
		switch val := v.(type) {
		case string:
			return val
		case float64:
			return strconv.FormatFloat(val, 'f', -1, 64)
		case int:
			return strconv.Itoa(val)
		}
	}
	return ""
}

func getInt(root map[string]interface{}, paths ...string) int {
	for _, path := range paths {
		v, ok := getPath(root, path)
		if !ok {
			continue
		}
		switch val := v.(type) {
		case float64:
			return int(val)
		case int:
			return val
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
				return n
			}
		}
	}
	return 0
}

func getPath(root map[string]interface{}, path string) (interface{}, bool) {
	var current interface{} = root
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, ok := m[part]
		if !ok {
			return nil, false
		}
		current = v
	}
	return current, true
}
