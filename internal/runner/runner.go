// Package runner drives agents through every task of one or more scenarios.
package runner

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"threatbench/internal/env"
	"threatbench/internal/executor"
	"threatbench/internal/logger"
	"threatbench/internal/pipeline"
	"threatbench/pkg/models"
)

// Scenario is one incident: a task set, its own executor, and an agent
// factory. Scenarios must not share an executor.
type Scenario struct {
	Name     string
	Tasks    []models.Task
	Executor executor.Executor
	Scorer   env.Evaluator
	Sink     pipeline.TrajectoryWriter
	Env      env.Config
	// NewAgent returns a fresh agent for each episode.
	NewAgent func() env.Agent
}

// Summary aggregates the episodes of one scenario.
type Summary struct {
	Scenario        string  `json:"scenario"`
	Episodes        int     `json:"episodes"`
	MeanReward      float64 `json:"mean_reward"`
	Solved          int     `json:"solved"`
	ScoringFailures int     `json:"scoring_failures"`
	Truncated       int     `json:"truncated"`
	AgentErrors     int     `json:"agent_errors"`
}

// Run executes scenarios with at most parallel running at once. Episodes
// inside one scenario run sequentially. Summaries are returned in scenario
// order.
func Run(ctx context.Context, scenarios []Scenario, parallel int) ([]Summary, error) {
	if parallel <= 0 {
		parallel = 1
	}
	out := make([]Summary, len(scenarios))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i := range scenarios {
		sc := scenarios[i]
		g.Go(func() error {
			sum, err := runScenario(ctx, sc)
			if err != nil {
				return fmt.Errorf("scenario %s: %w", sc.Name, err)
			}
			out[i] = sum
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, nil
}

func runScenario(ctx context.Context, sc Scenario) (Summary, error) {
	if sc.NewAgent == nil {
		return Summary{}, errors.New("no agent configured")
	}
	cfg := sc.Env
	if cfg.Scenario == "" {
		cfg.Scenario = sc.Name
	}
	e, err := env.New(sc.Tasks, sc.Executor, sc.Scorer, sc.Sink, cfg)
	if err != nil {
		return Summary{}, err
	}
	defer e.Close(ctx)

	sum := Summary{Scenario: sc.Name}
	total := 0.0
	logger.Infof("Scenario %s: running %d tasks", sc.Name, e.Len())
	for idx := 0; idx < e.Len(); idx++ {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		res, err := RunEpisode(ctx, e, sc.NewAgent(), idx)
		if err != nil {
			return sum, err
		}
		sum.Episodes++
		total += res.Reward
		switch {
		case res.AgentErr != nil:
			sum.AgentErrors++
		case res.ScoringFailed:
			sum.ScoringFailures++
		case res.Truncated:
			sum.Truncated++
		case res.Verdict:
			sum.Solved++
		}
	}
	if sum.Episodes > 0 {
		sum.MeanReward = total / float64(sum.Episodes)
	}
	log := logger.With("runner")
	log.Info().
		Str("scenario", sc.Name).
		Int("episodes", sum.Episodes).
		Int("solved", sum.Solved).
		Int("scoring_failures", sum.ScoringFailures).
		Int("truncated", sum.Truncated).
		Float64("mean_reward", sum.MeanReward).
		Msg("Scenario finished")
	return sum, nil
}

// EpisodeResult is the outcome of one episode.
type EpisodeResult struct {
	Reward float64
	// Verdict is true only when the final answer was judged correct.
	// Capped stepwise credit can reach a reward of 1 without it.
	Verdict       bool
	Steps         int
	ScoringFailed bool
	Truncated     bool
	// AgentErr is set when the agent failed before the episode ended.
	AgentErr error
}

// RunEpisode resets e to task idx and alternates agent and environment
// until the episode is done. Only environment misuse is returned as an
// error; an agent failure ends the episode and is reported in the result.
func RunEpisode(ctx context.Context, e *env.Env, agent env.Agent, idx int) (EpisodeResult, error) {
	obs, err := e.Reset(ctx, idx)
	if err != nil {
		return EpisodeResult{}, err
	}

	var res EpisodeResult
	for {
		action, submit, err := agent.Act(ctx, obs)
		if err != nil {
			logger.Warnf("Agent failed on task %d after %d steps: %v", idx, res.Steps, err)
			res.AgentErr = err
			return res, nil
		}
		step, err := e.Step(ctx, action, submit)
		if err != nil {
			return res, err
		}
		res.Steps++
		obs = step.Observation
		if step.Done {
			res.Reward = step.Reward
			res.ScoringFailed = step.Info.ScoringFailed
			res.Truncated = step.Info.Truncated
			if ev := step.Info.Evaluation; ev != nil {
				res.Verdict = ev.Verdict
			}
			return res, nil
		}
	}
}
