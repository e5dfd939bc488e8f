package models

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestStepListDecodesStringOrArray(t *testing.T) {
	cases := map[string]StepList{
		`{"solution": ["a", "b"]}`: {"a", "b"},
		`{"solution": "only"}`:     {"only"},
		`{"solution": "  "}`:       nil,
		`{"solution": null}`:       nil,
		`{}`:                       nil,
	}
	for in, want := range cases {
		var task Task
		if err := json.Unmarshal([]byte(in), &task); err != nil {
			t.Fatalf("%s: %v", in, err)
		}
		if !reflect.DeepEqual(task.Solution, want) {
			t.Fatalf("%s: expected %v, got %v", in, want, task.Solution)
		}
	}

	var task Task
	if err := json.Unmarshal([]byte(`{"solution": 3}`), &task); err == nil {
		t.Fatalf("expected error for numeric solution")
	}
}

func TestTaskPrompt(t *testing.T) {
	task := Task{Context: " Alert on ws1. ", Question: "Which user? "}
	if got := task.Prompt(); got != "Alert on ws1.\n\nWhich user?" {
		t.Fatalf("unexpected prompt %q", got)
	}
	if got := (Task{Question: "Q"}).Prompt(); got != "Q" {
		t.Fatalf("unexpected prompt %q", got)
	}
}

func TestDecodeEntityVariants(t *testing.T) {
	ent, err := DecodeEntity([]byte(`{"Type": "account", "Name": "alice", "UPNSuffix": "corp.example"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	ids := ent.Identifiers()
	if len(ids) != 1 || ids[0] != (Identifier{Field: "Name", Value: "alice@corp.example"}) {
		t.Fatalf("unexpected identifiers %v", ids)
	}

	ent, err = DecodeEntity([]byte(`{"kind": "CloudApplication", "Name": "Office 365", "AppId": 11161}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ent.Kind() != KindCloudApplication {
		t.Fatalf("unexpected kind %s", ent.Kind())
	}

	if _, err := DecodeEntity([]byte(`{"kind": "ip"}`)); err == nil {
		t.Fatalf("expected validation error for ip without address")
	}
	if _, err := DecodeEntity([]byte(`{"kind": "satellite", "Name": "x"}`)); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestMarshalEntityRoundTrip(t *testing.T) {
	in := Process{ProcessID: "4242", CommandLine: "cmd /c whoami"}
	raw, err := MarshalEntity(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out, err := DecodeEntity(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(out, in) {
		t.Fatalf("expected %+v, got %+v", in, out)
	}
}

func TestParseKindAliases(t *testing.T) {
	for raw, want := range map[string]EntityKind{
		"IP":                 KindIP,
		"user":               KindAccount,
		"registry_key":       KindRegistryKey,
		" cloud-application": KindCloudApplication,
	} {
		got, ok := ParseKind(raw)
		if !ok || got != want {
			t.Fatalf("ParseKind(%q) = %s, %v", raw, got, ok)
		}
	}
	if len(KnownKinds()) != 11 {
		t.Fatalf("expected 11 kinds, got %d", len(KnownKinds()))
	}
}
