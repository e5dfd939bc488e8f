// Package scorer grades submitted answers with an oracle, falling back to
// discounted per-step credit when the final answer is wrong.
package scorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"threatbench/internal/logger"
	"threatbench/internal/metrics"
	"threatbench/internal/oracle"
	"threatbench/internal/retry"
	"threatbench/pkg/models"
)

var (
	// ErrEvaluationParse means the oracle never produced a parseable response.
	ErrEvaluationParse = errors.New("evaluation response could not be parsed")
	// ErrOracle means the oracle call itself kept failing.
	ErrOracle = errors.New("oracle call failed")
)

// Authority selects which pass decides the verdict when reflection is on.
type Authority string

const (
	AuthorityFirst      Authority = "first"
	AuthorityReflection Authority = "reflection"
)

// DefaultDiscount is the per-step decay for partial credit.
const DefaultDiscount = 0.4

// Config controls grading.
type Config struct {
	Discount         float64
	Reflection       bool
	Authoritative    Authority
	MaxParseAttempts int
	RetryDelay       time.Duration
}

// Scorer evaluates answers. It holds no per-call state and may be shared.
type Scorer struct {
	oracle  oracle.Oracle
	cfg     Config
	prompts Prompts
	policy  retry.Policy
	seed    func() int
}

// New creates a scorer.
func New(o oracle.Oracle, cfg Config, prompts Prompts) *Scorer {
	if cfg.Discount <= 0 || cfg.Discount >= 1 {
		cfg.Discount = DefaultDiscount
	}
	if cfg.MaxParseAttempts <= 0 {
		cfg.MaxParseAttempts = 3
	}
	if cfg.Authoritative == "" {
		cfg.Authoritative = AuthorityFirst
	}
	return &Scorer{
		oracle:  o,
		cfg:     cfg,
		prompts: prompts.withDefaults(),
		policy:  retry.Policy{MaxAttempts: cfg.MaxParseAttempts, Delay: cfg.RetryDelay},
		seed:    func() int { return rand.IntN(1<<31-1) + 1 },
	}
}

type payload struct {
	Question         string   `json:"question"`
	GoldenAnswer     string   `json:"golden_answer"`
	SubmittedAnswer  string   `json:"submitted_answer"`
	Solution         []string `json:"solution,omitempty"`
	PreviousResponse string   `json:"previous_response,omitempty"`
}

// Evaluate grades answer against task. On ErrEvaluationParse or ErrOracle
// the returned result has ParseFailed set and zero reward.
func (s *Scorer) Evaluate(ctx context.Context, task models.Task, answer string) (models.EvaluationResult, error) {
	start := time.Now()
	ctx, span := otel.Tracer("threatbench").Start(ctx, "scorer.Evaluate")
	defer span.End()

	res, outcome, err := s.evaluate(ctx, task, answer)
	metrics.Evaluations.WithLabelValues(outcome).Inc()
	metrics.EvaluationDuration.Observe(time.Since(start).Seconds())
	span.SetAttributes(
		attribute.String("outcome", outcome),
		attribute.Float64("reward", res.Reward),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		logger.Warnf("Scoring failed (%s): %v", outcome, err)
	}
	return res, err
}

func (s *Scorer) evaluate(ctx context.Context, task models.Task, answer string) (models.EvaluationResult, string, error) {
	if strings.TrimSpace(answer) == strings.TrimSpace(task.Answer) {
		return models.EvaluationResult{Reward: 1, Verdict: true, JudgeResponse: "exact match"}, "correct", nil
	}

	p := payload{Question: task.Prompt(), GoldenAnswer: task.Answer, SubmittedAnswer: answer}

	verdict, resp, err := s.verdict(ctx, s.prompts.Verdict, p)
	if err != nil {
		return failed(resp), failureOutcome(err), err
	}
	if s.cfg.Reflection {
		rp := p
		rp.PreviousResponse = resp
		second, resp2, err := s.verdict(ctx, s.prompts.Reflection, rp)
		if err != nil {
			return failed(resp2), failureOutcome(err), err
		}
		if s.cfg.Authoritative == AuthorityReflection {
			verdict, resp = second, resp2
		}
	}
	if verdict {
		return models.EvaluationResult{Reward: 1, Verdict: true, JudgeResponse: resp}, "correct", nil
	}
	if len(task.Solution) == 0 {
		return models.EvaluationResult{JudgeResponse: resp}, "wrong", nil
	}

	p.Solution = numbered(task.Solution)
	steps, stepResp, err := s.stepwise(ctx, s.prompts.Stepwise, p, len(task.Solution))
	if err != nil {
		return failed(stepResp), failureOutcome(err), err
	}
	if s.cfg.Reflection {
		rp := p
		rp.PreviousResponse = stepResp
		second, resp2, err := s.stepwise(ctx, s.prompts.StepwiseReflection, rp, len(task.Solution))
		if err != nil {
			return failed(resp2), failureOutcome(err), err
		}
		if s.cfg.Authoritative == AuthorityReflection {
			steps, stepResp = second, resp2
		}
	}

	flags := make([]bool, len(steps))
	for i, st := range steps {
		flags[i] = st.Correct
	}
	reward := StepwiseReward(flags, s.cfg.Discount)
	outcome := "wrong"
	if reward > 0 {
		outcome = "stepwise"
	}
	return models.EvaluationResult{Reward: reward, JudgeResponse: stepResp, Steps: steps}, outcome, nil
}

func (s *Scorer) verdict(ctx context.Context, system string, p payload) (bool, string, error) {
	var last string
	v, err := retry.Do(ctx, s.policy, func(ctx context.Context, attempt int) (bool, error) {
		text, err := s.call(ctx, system, p, attempt)
		if err != nil {
			return false, err
		}
		last = text
		v, err := parseVerdict(text)
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrEvaluationParse, err)
		}
		return v, nil
	})
	return v, last, err
}

func (s *Scorer) stepwise(ctx context.Context, system string, p payload, n int) ([]models.StepVerdict, string, error) {
	var last string
	steps, err := retry.Do(ctx, s.policy, func(ctx context.Context, attempt int) ([]models.StepVerdict, error) {
		text, err := s.call(ctx, system, p, attempt)
		if err != nil {
			return nil, err
		}
		last = text
		steps, err := parseSteps(text, n)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEvaluationParse, err)
		}
		return steps, nil
	})
	return steps, last, err
}

func (s *Scorer) call(ctx context.Context, system string, p payload, attempt int) (string, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return "", retry.Permanent(err)
	}
	text, err := s.oracle.Complete(ctx, oracle.Request{System: system, User: string(body), Seed: s.seed()})
	if err != nil {
		logger.Debugf("Oracle attempt %d failed: %v", attempt+1, err)
		return "", fmt.Errorf("%w: %v", ErrOracle, err)
	}
	return text, nil
}

func failed(resp string) models.EvaluationResult {
	return models.EvaluationResult{ParseFailed: true, JudgeResponse: resp}
}

func failureOutcome(err error) string {
	if errors.Is(err, ErrOracle) {
		return "oracle_failed"
	}
	return "parse_failed"
}

func numbered(steps []string) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = fmt.Sprintf("%d: %s", i, s)
	}
	return out
}
