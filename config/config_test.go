package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "threatbench.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
threatbench:
  environment:
    max_steps: 3
  scorer:
    reflection: true
    stepwise_reflection_prompt: "Re-check each step."
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	ApplyDefaults(cfg)
	require.NoError(t, Validate(cfg))

	tb := cfg.ThreatBench
	assert.Equal(t, 3, tb.Environment.MaxSteps)
	assert.Equal(t, 10, tb.Environment.MaxRows)
	assert.Equal(t, 0.4, tb.Scorer.Discount)
	assert.True(t, tb.Scorer.Reflection)
	assert.Equal(t, "Re-check each step.", tb.Scorer.StepwiseReflectionPrompt)
	assert.Equal(t, "first", tb.Scorer.Authoritative)
	assert.Equal(t, []string{"host", "process"}, tb.Sampler.LowInfoKinds)
	assert.Equal(t, "sqlite", tb.Executor.Mode)
	assert.Equal(t, 2*time.Minute, tb.Rules.Cooldown)
	assert.Equal(t, "sysmon_events", tb.Telemetry.Redis.Key)
	assert.Equal(t, "SysmonEvent", tb.Executor.ClickHouse.Table)
}

func TestValidateRejectsBadValues(t *testing.T) {
	path := writeConfig(t, `
threatbench:
  scorer:
    discount: 1.5
    authoritative: judge
  executor:
    mode: postgres
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	ApplyDefaults(cfg)

	err = Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Discount")
	assert.Contains(t, err.Error(), "Authoritative")
	assert.Contains(t, err.Error(), "Mode")
}

func TestValidateRequiresScenarioFields(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	cfg.ThreatBench.Runner.Scenarios = []ScenarioConfig{{Name: "incident-1"}}
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TasksPath")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}
