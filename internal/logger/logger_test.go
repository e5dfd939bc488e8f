package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, "warn")
	defer SetOutput(&bytes.Buffer{}, "info")

	Infof("hidden %d", 1)
	Warnf("shown %d", 2)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("expected info line to be filtered, got %q", out)
	}
	if !strings.Contains(out, "shown 2") {
		t.Fatalf("expected warn line, got %q", out)
	}
}

func TestWithTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, "debug")
	defer SetOutput(&bytes.Buffer{}, "info")

	log := With("runner")
	log.Info().Int("episodes", 3).Msg("done")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", buf.String(), err)
	}
	if line["component"] != "runner" || line["episodes"] != float64(3) || line["message"] != "done" {
		t.Fatalf("unexpected fields %v", line)
	}
}
