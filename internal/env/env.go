// Package env runs one agent through one task at a time: it forwards
// queries to an executor, enforces the step budget, records the trajectory
// and scores the final submission.
package env

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"threatbench/internal/executor"
	"threatbench/internal/logger"
	"threatbench/internal/metrics"
	"threatbench/internal/pipeline"
	"threatbench/pkg/models"
)

var (
	// ErrTaskIndex is returned by Reset for an index outside the task set.
	ErrTaskIndex = errors.New("task index out of range")
	// ErrNotStarted is returned by Step before the first Reset.
	ErrNotStarted = errors.New("episode not started")
	// ErrEpisodeDone is returned by Step once the episode has ended.
	ErrEpisodeDone = errors.New("episode is done")
	// ErrStepBudget marks a step that ran out of budget. It is recorded in
	// the step's Info, never returned.
	ErrStepBudget = errors.New("step budget exhausted")
	// ErrConfig is returned by New for a non-positive budget or limit.
	ErrConfig = errors.New("invalid environment config")
)

// Evaluator grades a submitted answer.
type Evaluator interface {
	Evaluate(ctx context.Context, task models.Task, answer string) (models.EvaluationResult, error)
}

// Agent chooses the next action from the latest observation.
type Agent interface {
	Act(ctx context.Context, observation string) (action string, submit bool, err error)
}

// Config holds the step budget and observation limits.
type Config struct {
	MaxSteps int
	MaxRows  int
	MaxChars int
	// Scenario labels trajectory records.
	Scenario string
}

type state int

const (
	stateIdle state = iota
	stateActive
	stateDone
)

// Env is a single-threaded episode state machine.
type Env struct {
	tasks  []models.Task
	exec   executor.Executor
	scorer Evaluator
	sink   pipeline.TrajectoryWriter
	cfg    Config

	state     state
	stepCount int
	record    *models.EpisodeRecord
}

// New creates an environment over tasks. The budget and limits come from
// configuration and must be positive. A nil sink discards trajectories.
func New(tasks []models.Task, exec executor.Executor, scorer Evaluator, sink pipeline.TrajectoryWriter, cfg Config) (*Env, error) {
	if cfg.MaxSteps <= 0 || cfg.MaxRows <= 0 || cfg.MaxChars <= 0 {
		return nil, fmt.Errorf("%w: max_steps=%d max_rows=%d max_chars=%d",
			ErrConfig, cfg.MaxSteps, cfg.MaxRows, cfg.MaxChars)
	}
	if sink == nil {
		sink = pipeline.Discard{}
	}
	return &Env{tasks: tasks, exec: exec, scorer: scorer, sink: sink, cfg: cfg}, nil
}

// Len returns the number of tasks.
func (e *Env) Len() int {
	return len(e.tasks)
}

// Reset flushes the previous episode, if any, and starts task idx. It
// returns the rendered question as the first observation.
func (e *Env) Reset(ctx context.Context, idx int) (string, error) {
	if idx < 0 || idx >= len(e.tasks) {
		return "", fmt.Errorf("%w: %d (have %d)", ErrTaskIndex, idx, len(e.tasks))
	}
	e.flush()

	task := e.tasks[idx]
	e.state = stateActive
	e.stepCount = 0
	e.record = &models.EpisodeRecord{
		EpisodeID: uuid.NewString(),
		Scenario:  e.cfg.Scenario,
		TaskIndex: idx,
		Task:      task,
		StartedAt: time.Now().UTC(),
	}
	logger.Debugf("Episode %s started on task %d", e.record.EpisodeID, idx)
	return task.Prompt(), nil
}

// Step applies one action. With submit set the action is graded as the
// final answer; otherwise it is run as a query. Query and scoring failures
// are reported in the returned Step, not as errors.
func (e *Env) Step(ctx context.Context, action string, submit bool) (models.Step, error) {
	switch e.state {
	case stateIdle:
		return models.Step{}, ErrNotStarted
	case stateDone:
		return models.Step{}, ErrEpisodeDone
	}

	ctx, span := otel.Tracer("threatbench").Start(ctx, "env.Step",
		trace.WithAttributes(
			attribute.String("episode_id", e.record.EpisodeID),
			attribute.Bool("submit", submit),
			attribute.Int("step", len(e.record.Steps)),
		),
	)
	defer span.End()

	var step models.Step
	if submit {
		step = e.submit(ctx, action)
	} else {
		step = e.query(ctx, action)
	}

	e.record.Steps = append(e.record.Steps, step)
	if step.Done {
		e.finish(step.Reward)
	}
	span.SetAttributes(attribute.Bool("done", step.Done), attribute.Float64("reward", step.Reward))
	if step.Info.Error != "" {
		span.SetStatus(codes.Error, step.Info.Error)
	}
	return step, nil
}

// Close flushes the current episode to the sink.
func (e *Env) Close(ctx context.Context) error {
	e.flush()
	return nil
}

// Record returns the trajectory of the current episode.
func (e *Env) Record() *models.EpisodeRecord {
	return e.record
}

func (e *Env) submit(ctx context.Context, answer string) models.Step {
	res, err := e.scorer.Evaluate(ctx, e.record.Task, answer)
	step := models.Step{
		Action:      answer,
		Observation: "Answer submitted.",
		Reward:      res.Reward,
		Done:        true,
		Info:        models.StepInfo{Submitted: true, Evaluation: &res},
	}
	if err != nil {
		step.Reward = 0
		step.Info.ScoringFailed = true
		step.Info.Error = err.Error()
		logger.Warnf("Episode %s scoring failed: %v", e.record.EpisodeID, err)
	}
	metrics.EnvSteps.WithLabelValues("submit").Inc()
	return step
}

func (e *Env) query(ctx context.Context, q string) models.Step {
	e.stepCount++
	res := e.exec.Execute(ctx, q)

	step := models.Step{Action: q}
	if res.OK() {
		obs, elided := Render(res.Rows, e.cfg.MaxRows, e.cfg.MaxChars)
		step.Observation = obs
		step.Info.QuerySuccess = true
		step.Info.RowsReturned = len(res.Rows) - elided
		step.Info.RowsElided = elided
		metrics.EnvSteps.WithLabelValues("query_ok").Inc()
	} else {
		step.Observation = "Error: " + res.Err.Message
		step.Info.Error = res.Err.Error()
		metrics.EnvSteps.WithLabelValues("query_error").Inc()
		metrics.EnvQueryErrors.WithLabelValues(string(res.Err.Kind)).Inc()
		logger.Debugf("Episode %s query failed: %v", e.record.EpisodeID, res.Err)
	}

	if e.stepCount >= e.cfg.MaxSteps {
		step.Done = true
		step.Reward = 0
		step.Info.Truncated = true
		if step.Info.Error == "" {
			step.Info.Error = ErrStepBudget.Error()
		}
		metrics.EnvSteps.WithLabelValues("budget").Inc()
		logger.Infof("Episode %s hit the step budget (%d)", e.record.EpisodeID, e.cfg.MaxSteps)
	}
	return step
}

func (e *Env) finish(reward float64) {
	e.state = stateDone
	e.record.Done = true
	e.record.Reward = reward
	e.record.EndedAt = time.Now().UTC()
	metrics.EpisodeReward.Observe(reward)
}

// flush writes the current record, active or done, and returns to Idle.
// Sink failures are logged; they never end the run.
func (e *Env) flush() {
	if e.record == nil {
		return
	}
	if e.record.EndedAt.IsZero() {
		e.record.EndedAt = time.Now().UTC()
	}
	if err := e.sink.WriteEpisodes([]*models.EpisodeRecord{e.record}); err != nil {
		metrics.SinkErrors.Inc()
		logger.Errorf("Failed to write trajectory %s: %v", e.record.EpisodeID, err)
	}
	e.record = nil
	e.state = stateIdle
}
