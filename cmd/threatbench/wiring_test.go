package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatbench/config"
	"threatbench/internal/oracle"
	"threatbench/pkg/models"
)

func TestNewScorerPassesStepwiseReflectionPrompt(t *testing.T) {
	sc := config.ScorerConfig{
		Discount:                 0.4,
		Reflection:               true,
		Authoritative:            "reflection",
		MaxParseAttempts:         1,
		StepwiseReflectionPrompt: "Re-check each step.",
	}
	assert.Equal(t, "Re-check each step.", scorerPrompts(sc).StepwiseReflection)

	replies := []string{
		"False",
		"False",
		`{"0": {"is_step_correct": "False"}, "1": {"is_step_correct": "False"}}`,
		`{"0": {"is_step_correct": "True"}, "1": {"is_step_correct": "False"}}`,
	}
	var systems []string
	o := oracle.Func(func(_ context.Context, req oracle.Request) (string, error) {
		systems = append(systems, req.System)
		return replies[len(systems)-1], nil
	})

	task := models.Task{Question: "q", Answer: "alice", Solution: models.StepList{"s0", "s1"}}
	res, err := newScorer(o, sc).Evaluate(context.Background(), task, "bob")
	require.NoError(t, err)
	require.Len(t, systems, 4)
	assert.Equal(t, "Re-check each step.", systems[3])
	assert.False(t, res.Verdict)
	assert.InDelta(t, 0.4, res.Reward, 1e-9)
}
