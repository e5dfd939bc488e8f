package main

import (
	"fmt"

	"threatbench/config"
	"threatbench/internal/executor"
	"threatbench/internal/logger"
	"threatbench/internal/oracle"
	"threatbench/internal/output/trajectoryhttp"
	"threatbench/internal/output/trajectoryjson"
	"threatbench/internal/output/trajectoryredis"
	"threatbench/internal/pipeline"
	"threatbench/internal/scorer"
)

func newOracle(oc config.OracleConfig) (oracle.Oracle, error) {
	o, err := oracle.NewOpenAI(oracle.OpenAIConfig{
		BaseURL:     oc.BaseURL,
		APIKey:      oc.APIKey,
		APIKeyEnv:   oc.APIKeyEnv,
		Model:       oc.Model,
		Temperature: oc.Temperature,
		MaxTokens:   oc.MaxTokens,
		Timeout:     oc.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create oracle: %w", err)
	}
	logger.Infof("Oracle model: %s", oc.Model)
	return o, nil
}

func scorerPrompts(sc config.ScorerConfig) scorer.Prompts {
	return scorer.Prompts{
		Verdict:            sc.VerdictPrompt,
		Reflection:         sc.ReflectionPrompt,
		Stepwise:           sc.StepwisePrompt,
		StepwiseReflection: sc.StepwiseReflectionPrompt,
	}
}

func newScorer(o oracle.Oracle, sc config.ScorerConfig) *scorer.Scorer {
	prompts := scorerPrompts(sc)
	return scorer.New(o, scorer.Config{
		Discount:         sc.Discount,
		Reflection:       sc.Reflection,
		Authoritative:    scorer.Authority(sc.Authoritative),
		MaxParseAttempts: sc.MaxParseAttempts,
		RetryDelay:       sc.RetryDelay,
	}, prompts)
}

func openSink(tc config.TrajectoryConfig) (pipeline.TrajectoryWriter, error) {
	switch tc.Mode {
	case "file":
		w, err := trajectoryjson.NewWriter(tc.File.Path)
		if err != nil {
			return nil, fmt.Errorf("create trajectory file writer: %w", err)
		}
		logger.Infof("Trajectory output mode: file (%s)", tc.File.Path)
		return w, nil
	case "redis":
		s, err := trajectoryredis.NewStore(trajectoryredis.Config{
			Addr:      tc.Redis.Addr,
			Password:  tc.Redis.Password,
			DB:        tc.Redis.DB,
			KeyPrefix: tc.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("create trajectory redis store: %w", err)
		}
		logger.Infof("Trajectory output mode: redis (%s, prefix %s)", tc.Redis.Addr, tc.Redis.KeyPrefix)
		return s, nil
	case "http":
		w, err := trajectoryhttp.NewWriter(trajectoryhttp.Config{
			URL:     tc.HTTP.URL,
			Timeout: tc.HTTP.Timeout,
			Headers: tc.HTTP.Headers,
		})
		if err != nil {
			return nil, fmt.Errorf("create trajectory HTTP writer: %w", err)
		}
		logger.Infof("Trajectory output mode: http (%s)", tc.HTTP.URL)
		return w, nil
	default:
		return nil, fmt.Errorf("unknown trajectory output mode: %s", tc.Mode)
	}
}

// openExecutor gives each scenario its own backend instance. sqlitePath
// overrides executor.sqlite.path.
func openExecutor(ec config.ExecutorConfig, sqlitePath string) (executor.Executor, func() error, error) {
	switch ec.Mode {
	case "sqlite":
		path := orDefault(sqlitePath, ec.SQLite.Path)
		if path == "" {
			return nil, nil, fmt.Errorf("no sqlite log database configured")
		}
		db, err := executor.OpenSQLite(path)
		if err != nil {
			return nil, nil, err
		}
		logger.Infof("Executor: sqlite (%s)", path)
		return db, db.Close, nil
	case "clickhouse":
		ch, err := executor.NewClickHouse(executor.ClickHouseConfig{
			URL:      ec.ClickHouse.URL,
			Database: ec.ClickHouse.Database,
			Username: ec.ClickHouse.Username,
			Password: ec.ClickHouse.Password,
			Timeout:  ec.ClickHouse.Timeout,
			Headers:  ec.ClickHouse.Headers,
		})
		if err != nil {
			return nil, nil, err
		}
		logger.Infof("Executor: clickhouse (%s/%s)", ec.ClickHouse.URL, ec.ClickHouse.Database)
		return ch, func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown executor mode: %s", ec.Mode)
	}
}
