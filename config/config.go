package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	ThreatBench ThreatBenchConfig `yaml:"threatbench"`
}

// ThreatBenchConfig is the project configuration.
type ThreatBenchConfig struct {
	Logging     LoggingConfig     `yaml:"logging"`
	Graph       GraphConfig       `yaml:"graph"`
	Sampler     SamplerConfig     `yaml:"sampler"`
	QAGen       QAGenConfig       `yaml:"qagen"`
	Environment EnvironmentConfig `yaml:"environment"`
	Scorer      ScorerConfig      `yaml:"scorer"`
	Oracle      OracleConfig      `yaml:"oracle"`
	Executor    ExecutorConfig    `yaml:"executor"`
	Trajectory  TrajectoryConfig  `yaml:"trajectory"`
	Rules       RulesConfig       `yaml:"rules"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Runner      RunnerConfig      `yaml:"runner"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// GraphConfig controls incident graph construction.
type GraphConfig struct {
	IncidentPath string `yaml:"incident_path"`
	GraphMLPath  string `yaml:"graphml_path"`
}

// SamplerConfig controls alert path sampling.
type SamplerConfig struct {
	StartEntities int      `yaml:"start_entities" validate:"gte=1"`
	Target        int      `yaml:"target" validate:"gte=0"`
	LowInfoKinds  []string `yaml:"low_info_kinds"`
	Seed          int64    `yaml:"seed"`
	OutputPath    string   `yaml:"output_path"`
}

// QAGenConfig controls question generation.
type QAGenConfig struct {
	MaxAttempts int           `yaml:"max_attempts" validate:"gte=1"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	Prompt      string        `yaml:"prompt"`
	OutputPath  string        `yaml:"output_path"`
}

// EnvironmentConfig controls episode budgets and observation truncation.
type EnvironmentConfig struct {
	MaxSteps int `yaml:"max_steps" validate:"gte=1"`
	MaxRows  int `yaml:"max_rows" validate:"gte=1"`
	MaxChars int `yaml:"max_chars" validate:"gte=1"`
}

// ScorerConfig controls answer evaluation.
type ScorerConfig struct {
	Discount                 float64       `yaml:"discount" validate:"gt=0,lt=1"`
	Reflection               bool          `yaml:"reflection"`
	Authoritative            string        `yaml:"authoritative" validate:"oneof=first reflection"`
	MaxParseAttempts         int           `yaml:"max_parse_attempts" validate:"gte=1"`
	RetryDelay               time.Duration `yaml:"retry_delay"`
	VerdictPrompt            string        `yaml:"verdict_prompt"`
	ReflectionPrompt         string        `yaml:"reflection_prompt"`
	StepwisePrompt           string        `yaml:"stepwise_prompt"`
	StepwiseReflectionPrompt string        `yaml:"stepwise_reflection_prompt"`
}

// OracleConfig controls the OpenAI-compatible oracle client.
type OracleConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	APIKeyEnv   string        `yaml:"api_key_env"`
	Model       string        `yaml:"model" validate:"required"`
	Temperature float32       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

// ExecutorConfig selects the query backend.
type ExecutorConfig struct {
	Mode       string           `yaml:"mode" validate:"oneof=sqlite clickhouse"` // sqlite|clickhouse
	SQLite     SQLiteConfig     `yaml:"sqlite"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
}

// SQLiteConfig points at a per-incident log database.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// ClickHouseConfig config for ClickHouse HTTP queries. Table is where
// load-logs writes events.
type ClickHouseConfig struct {
	URL      string            `yaml:"url"`
	Database string            `yaml:"database"`
	Table    string            `yaml:"table"`
	Username string            `yaml:"username"`
	Password string            `yaml:"password"`
	Timeout  time.Duration     `yaml:"timeout"`
	Headers  map[string]string `yaml:"headers"`
}

// TrajectoryConfig controls the episode log sink.
type TrajectoryConfig struct {
	Mode  string           `yaml:"mode" validate:"oneof=file redis http"` // file|redis|http
	File  FileOutputConfig `yaml:"file"`
	Redis RedisConfig      `yaml:"redis"`
	HTTP  HTTPOutputConfig `yaml:"http"`
}

// RulesConfig controls Sigma rules used for telemetry synthesis.
type RulesConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Path     string        `yaml:"path"`
	Cooldown time.Duration `yaml:"cooldown"`
}

// TelemetryConfig controls where raw Sysmon records are read from when no
// file is given.
type TelemetryConfig struct {
	Redis TelemetryRedisConfig `yaml:"redis"`
}

// TelemetryRedisConfig points at a Redis list of raw records.
type TelemetryRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

// RunnerConfig controls concurrent scenario execution.
type RunnerConfig struct {
	Parallel  int              `yaml:"parallel" validate:"gte=1"`
	Scenarios []ScenarioConfig `yaml:"scenarios" validate:"dive"`
}

// ScenarioConfig is one incident with its own task set and log database.
type ScenarioConfig struct {
	Name      string `yaml:"name" validate:"required"`
	TasksPath string `yaml:"tasks_path" validate:"required"`
	SQLite    string `yaml:"sqlite"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// RedisConfig controls a Redis connection.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// FileOutputConfig config for local JSON output.
type FileOutputConfig struct {
	Path string `yaml:"path"`
}

// HTTPOutputConfig config for remote output.
type HTTPOutputConfig struct {
	URL     string            `yaml:"url"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
}

// LoggingConfig controls logging output.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ApplyDefaults fills zero-valued settings.
func ApplyDefaults(cfg *Config) {
	tb := &cfg.ThreatBench

	if tb.Logging.Level == "" {
		tb.Logging.Level = "info"
	}

	if tb.Graph.GraphMLPath == "" {
		tb.Graph.GraphMLPath = "output/incident.graphml"
	}

	if tb.Sampler.StartEntities <= 0 {
		tb.Sampler.StartEntities = 3
	}
	if len(tb.Sampler.LowInfoKinds) == 0 {
		tb.Sampler.LowInfoKinds = []string{"host", "process"}
	}
	if tb.Sampler.OutputPath == "" {
		tb.Sampler.OutputPath = "output/paths.json"
	}

	if tb.QAGen.MaxAttempts <= 0 {
		tb.QAGen.MaxAttempts = 3
	}
	if tb.QAGen.RetryDelay <= 0 {
		tb.QAGen.RetryDelay = 2 * time.Second
	}
	if tb.QAGen.OutputPath == "" {
		tb.QAGen.OutputPath = "output/tasks.json"
	}

	if tb.Environment.MaxSteps <= 0 {
		tb.Environment.MaxSteps = 15
	}
	if tb.Environment.MaxRows <= 0 {
		tb.Environment.MaxRows = 10
	}
	if tb.Environment.MaxChars <= 0 {
		tb.Environment.MaxChars = 5000
	}

	if tb.Scorer.Discount <= 0 {
		tb.Scorer.Discount = 0.4
	}
	if tb.Scorer.Authoritative == "" {
		tb.Scorer.Authoritative = "first"
	}
	if tb.Scorer.MaxParseAttempts <= 0 {
		tb.Scorer.MaxParseAttempts = 3
	}
	if tb.Scorer.RetryDelay <= 0 {
		tb.Scorer.RetryDelay = time.Second
	}

	if tb.Oracle.Model == "" {
		tb.Oracle.Model = "gpt-4o"
	}
	if tb.Oracle.APIKeyEnv == "" {
		tb.Oracle.APIKeyEnv = "OPENAI_API_KEY"
	}
	if tb.Oracle.Timeout <= 0 {
		tb.Oracle.Timeout = 2 * time.Minute
	}

	if tb.Executor.Mode == "" {
		tb.Executor.Mode = "sqlite"
	}
	if tb.Executor.ClickHouse.Database == "" {
		tb.Executor.ClickHouse.Database = "threatbench"
	}
	if tb.Executor.ClickHouse.Table == "" {
		tb.Executor.ClickHouse.Table = "SysmonEvent"
	}
	if tb.Executor.ClickHouse.Timeout <= 0 {
		tb.Executor.ClickHouse.Timeout = 30 * time.Second
	}

	if tb.Trajectory.Mode == "" {
		tb.Trajectory.Mode = "file"
	}
	if tb.Trajectory.File.Path == "" {
		tb.Trajectory.File.Path = "output/trajectories.jsonl"
	}
	if tb.Trajectory.Redis.Addr == "" {
		tb.Trajectory.Redis.Addr = "127.0.0.1:6379"
	}
	if tb.Trajectory.Redis.KeyPrefix == "" {
		tb.Trajectory.Redis.KeyPrefix = "threatbench"
	}
	if tb.Trajectory.HTTP.Timeout <= 0 {
		tb.Trajectory.HTTP.Timeout = 10 * time.Second
	}

	if tb.Rules.Cooldown <= 0 {
		tb.Rules.Cooldown = 2 * time.Minute
	}

	if tb.Telemetry.Redis.Addr == "" {
		tb.Telemetry.Redis.Addr = "127.0.0.1:6379"
	}
	if tb.Telemetry.Redis.Key == "" {
		tb.Telemetry.Redis.Key = "sysmon_events"
	}

	if tb.Runner.Parallel <= 0 {
		tb.Runner.Parallel = 1
	}
}

// Validate checks struct constraints after defaults are applied.
func Validate(cfg *Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
