// Package qagen turns sampled alert paths into benchmark tasks by asking an
// oracle to phrase a question whose answer is the path's end entity.
package qagen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"threatbench/internal/graph/investigation"
	"threatbench/internal/logger"
	"threatbench/internal/oracle"
	"threatbench/internal/retry"
	"threatbench/pkg/models"
)

// DefaultPrompt is the system instruction for question generation.
const DefaultPrompt = `You write questions for a security investigation benchmark.
You are given a start alert with some of its entities, an end alert, the answer entity
attached to the end alert, and the alerts an analyst must pivot through to get there.
Write one question that can only be answered by investigating from the start context to the
answer entity. Do not mention the answer value or the end alert name in the question.
Also write the ordered solution steps an analyst would take, one per alert on the path,
with the final step naming the answer.
Reply with JSON only: {"question": "...", "answer": "...", "solution": ["...", "..."]}`

var errBadResponse = errors.New("unusable generation response")

// Config controls retries per path.
type Config struct {
	MaxAttempts int
	RetryDelay  time.Duration
}

// Generator produces tasks from paths over one graph.
type Generator struct {
	oracle oracle.Oracle
	g      *investigation.Graph
	prompt string
	policy retry.Policy
}

// New creates a generator. An empty prompt uses DefaultPrompt.
func New(o oracle.Oracle, g *investigation.Graph, cfg Config, prompt string) *Generator {
	if strings.TrimSpace(prompt) == "" {
		prompt = DefaultPrompt
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Generator{
		oracle: o,
		g:      g,
		prompt: prompt,
		policy: retry.Policy{MaxAttempts: cfg.MaxAttempts, Delay: cfg.RetryDelay},
	}
}

type alertView struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type entityView struct {
	ID    int64  `json:"id"`
	Kind  string `json:"kind"`
	Field string `json:"field"`
	Value string `json:"value"`
}

type request struct {
	StartAlert    alertView    `json:"start_alert"`
	StartEntities []entityView `json:"start_entities"`
	EndAlert      alertView    `json:"end_alert"`
	AnswerEntity  entityView   `json:"answer_entity"`
	PathAlerts    []alertView  `json:"path_alerts"`
}

type reply struct {
	Question string          `json:"question"`
	Answer   string          `json:"answer"`
	Solution models.StepList `json:"solution"`
}

// Generate builds one task per path. Paths that keep failing are skipped;
// an error is returned only when ctx ends.
func (gen *Generator) Generate(ctx context.Context, paths []models.AlertPath) ([]models.Task, error) {
	tasks := make([]models.Task, 0, len(paths))
	skipped := 0
	for i, p := range paths {
		if err := ctx.Err(); err != nil {
			return tasks, err
		}
		t, err := gen.generateOne(ctx, p)
		if err != nil {
			if ctx.Err() != nil {
				return tasks, ctx.Err()
			}
			skipped++
			logger.Warnf("Skipping path %d (%d -> %d): %v", i, p.StartAlert, p.EndAlert, err)
			continue
		}
		tasks = append(tasks, t)
	}
	logger.Infof("Generated %d tasks from %d paths (%d skipped)", len(tasks), len(paths), skipped)
	return tasks, nil
}

func (gen *Generator) generateOne(ctx context.Context, p models.AlertPath) (models.Task, error) {
	req, err := gen.request(p)
	if err != nil {
		return models.Task{}, err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return models.Task{}, err
	}

	r, err := retry.Do(ctx, gen.policy, func(ctx context.Context, attempt int) (reply, error) {
		text, err := gen.oracle.Complete(ctx, oracle.Request{System: gen.prompt, User: string(body), Seed: attempt + 1})
		if err != nil {
			return reply{}, err
		}
		return parseReply(text, req.AnswerEntity.Value)
	})
	if err != nil {
		return models.Task{}, err
	}

	return models.Task{
		Context:    renderContext(req),
		Question:   r.Question,
		Answer:     r.Answer,
		Solution:   r.Solution,
		Difficulty: p.Difficulty(),
		StartNode:  p.StartAlert,
		EndNode:    p.EndAlert,
		Hop:        p.Difficulty() - 1,
	}, nil
}

func (gen *Generator) request(p models.AlertPath) (request, error) {
	if len(p.EndEntities) == 0 {
		return request{}, fmt.Errorf("path has no end entity")
	}
	start, err := gen.alert(p.StartAlert)
	if err != nil {
		return request{}, err
	}
	end, err := gen.alert(p.EndAlert)
	if err != nil {
		return request{}, err
	}
	answer, err := gen.entity(p.EndEntities[0])
	if err != nil {
		return request{}, err
	}

	req := request{StartAlert: start, EndAlert: end, AnswerEntity: answer}
	for _, id := range p.StartEntities {
		e, err := gen.entity(id)
		if err != nil {
			return request{}, err
		}
		req.StartEntities = append(req.StartEntities, e)
	}
	for _, id := range p.ShortestAlertPath {
		a, err := gen.alert(id)
		if err != nil {
			return request{}, err
		}
		req.PathAlerts = append(req.PathAlerts, a)
	}
	return req, nil
}

func (gen *Generator) alert(id int64) (alertView, error) {
	n, ok := gen.g.Alert(investigation.AlertID(id))
	if !ok {
		return alertView{}, fmt.Errorf("alert %d not in graph", id)
	}
	return alertView{ID: id, Name: n.Name, Description: n.Description}, nil
}

func (gen *Generator) entity(id int64) (entityView, error) {
	n, ok := gen.g.Entity(investigation.EntityID(id))
	if !ok {
		return entityView{}, fmt.Errorf("entity %d not in graph", id)
	}
	return entityView{ID: id, Kind: string(n.Kind), Field: n.Field, Value: n.Value}, nil
}

// parseReply accepts a reply whose answer mentions the answer entity value.
func parseReply(text, answerValue string) (reply, error) {
	raw, ok := oracle.ExtractJSON(text)
	if !ok {
		return reply{}, fmt.Errorf("%w: no JSON object", errBadResponse)
	}
	var r reply
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return reply{}, fmt.Errorf("%w: %v", errBadResponse, err)
	}
	r.Question = strings.TrimSpace(r.Question)
	r.Answer = strings.TrimSpace(r.Answer)
	if r.Question == "" || r.Answer == "" {
		return reply{}, fmt.Errorf("%w: missing question or answer", errBadResponse)
	}
	if !strings.Contains(strings.ToLower(r.Answer), strings.ToLower(answerValue)) {
		return reply{}, fmt.Errorf("%w: answer %q does not name %q", errBadResponse, r.Answer, answerValue)
	}
	return r, nil
}

func renderContext(req request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Security alert %q was raised.", req.StartAlert.Name)
	if req.StartAlert.Description != "" {
		fmt.Fprintf(&b, " %s", req.StartAlert.Description)
	}
	if len(req.StartEntities) > 0 {
		b.WriteString(" Related entities:")
		for _, e := range req.StartEntities {
			fmt.Fprintf(&b, "\n- %s %s: %s", e.Kind, e.Field, e.Value)
		}
	}
	return b.String()
}
