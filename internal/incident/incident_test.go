package incident

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"threatbench/pkg/models"
)

const twoAlertIncident = `{
  "incident_id": "inc-1",
  "alerts": [
    {"AlertName": "Suspicious logon", "Entities": [
      {"Type": "ip", "Address": "1.2.3.4"},
      {"Type": "host", "HostName": "ws1"}
    ]},
    {"AlertName": "Credential dump", "Entities": [
      {"kind": "host", "HostName": "ws1"},
      {"kind": "user", "Name": "alice"},
      {"kind": "url"}
    ]},
    {"AlertName": "Unrelated", "Entities": [
      {"kind": "dns", "DomainName": "elsewhere.example"}
    ]}
  ]
}`

func TestBuildDeduplicatesAndPrunes(t *testing.T) {
	inc, err := Decode(strings.NewReader(twoAlertIncident))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	g, stats, err := Build(inc)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if stats.SkippedEntities != 1 {
		t.Fatalf("expected the empty url entity to be skipped, got %d", stats.SkippedEntities)
	}
	if stats.PrunedNodes != 2 {
		t.Fatalf("expected unrelated alert and its entity pruned, got %d", stats.PrunedNodes)
	}
	if stats.Alerts != 2 || stats.Entities != 3 || stats.Edges != 4 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if _, ok := g.Lookup("HostName", "ws1"); !ok {
		t.Fatalf("expected shared host entity")
	}
}

func TestLoadAcceptsBareAlertArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "case-7.json")
	body := `[{"AlertName":"A","Entities":[{"Type":"ip","Address":"10.0.0.1"}]}]`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	inc, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if inc.IncidentID != "case-7" || len(inc.Alerts) != 1 {
		t.Fatalf("unexpected incident: %+v", inc)
	}
}

func TestBuildRejectsEmptyIncident(t *testing.T) {
	if _, _, err := Build(&models.Incident{}); err == nil {
		t.Fatalf("expected error for incident without alerts")
	}
}

func TestEntitiesFromNetworkEvent(t *testing.T) {
	ev := &models.Event{
		EventID:  3,
		Hostname: "WS1",
		Fields: map[string]interface{}{
			"User":          `CORP\alice`,
			"ProcessGuid":   "{abc}",
			"Image":         `C:\Windows\System32\curl.exe`,
			"DestinationIp": "8.8.8.8",
		},
	}
	got := EntitiesFromEvent(ev)
	kinds := make([]string, 0, len(got))
	for _, e := range got {
		kinds = append(kinds, string(e.Kind()))
	}
	if strings.Join(kinds, ",") != "host,account,process,ip" {
		t.Fatalf("unexpected entity kinds %v", kinds)
	}
	acct := got[1].(models.Account)
	if acct.Name != "alice" || acct.UPNSuffix != "corp" {
		t.Fatalf("unexpected account %+v", acct)
	}
}

type fakeEngine struct{ tag models.IoaTag }

func (f fakeEngine) Match(_ context.Context, ev *models.Event) []models.IoaTag {
	if ev.Field("Image") == "evil.exe" {
		return []models.IoaTag{f.tag}
	}
	return nil
}

func TestSynthesizeHonoursCooldown(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mk := func(offset time.Duration, guid string) *models.Event {
		return &models.Event{
			EventID:   1,
			Hostname:  "ws1",
			Timestamp: base.Add(offset),
			Fields:    map[string]interface{}{"Image": "evil.exe", "ProcessGuid": guid},
		}
	}
	events := []*models.Event{
		mk(0, "p1"),
		mk(30*time.Second, "p1"),
		mk(45*time.Second, "p2"),
		mk(3*time.Minute, "p1"),
		{EventID: 1, Hostname: "ws1", Timestamp: base, Fields: map[string]interface{}{"Image": "calc.exe"}},
	}
	engine := fakeEngine{tag: models.IoaTag{ID: "r1", Name: "Evil", Tactic: "execution", Technique: "T1059"}}

	inc, err := Synthesize(context.Background(), events, engine, SynthOptions{Cooldown: 2 * time.Minute})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(inc.Alerts) != 3 {
		t.Fatalf("expected 3 alerts (repeat within cooldown suppressed), got %d", len(inc.Alerts))
	}
	if inc.Alerts[0].Description != "execution/T1059: Evil" {
		t.Fatalf("unexpected description %q", inc.Alerts[0].Description)
	}
	if inc.Alerts[0].SystemAlertID == inc.Alerts[1].SystemAlertID {
		t.Fatalf("expected distinct alert ids")
	}

	g, _, err := Build(inc)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(g.Alerts()) != 3 {
		t.Fatalf("expected synthesized alerts to share the host and stay connected, got %d", len(g.Alerts()))
	}
}
