package scorer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatbench/internal/oracle"
	"threatbench/pkg/models"
)

type scripted struct {
	replies []string
	errs    []error
	reqs    []oracle.Request
}

func (s *scripted) Complete(_ context.Context, req oracle.Request) (string, error) {
	i := len(s.reqs)
	s.reqs = append(s.reqs, req)
	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	if i >= len(s.replies) {
		return "", errors.New("script exhausted")
	}
	return s.replies[i], nil
}

var task = models.Task{
	Context:  "Alert 'Suspicious logon' fired from 1.2.3.4.",
	Question: "Which account was used afterwards?",
	Answer:   "alice@corp.example",
	Solution: models.StepList{
		"Find the logon from 1.2.3.4 on ws1.",
		"Identify the credential dump alert on ws1.",
		"The dumped account is alice@corp.example.",
	},
}

func TestExactMatchSkipsOracle(t *testing.T) {
	o := &scripted{}
	s := New(o, Config{}, Prompts{})

	res, err := s.Evaluate(context.Background(), task, "  alice@corp.example \n")
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Reward)
	assert.True(t, res.Verdict)
	assert.Empty(t, o.reqs, "oracle must not be called for an exact match")
}

func TestVerdictUsesLastToken(t *testing.T) {
	o := &scripted{replies: []string{"At first glance False, but the UPN matches. True"}}
	s := New(o, Config{}, Prompts{})

	res, err := s.Evaluate(context.Background(), task, "ALICE")
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Reward)
	require.Len(t, o.reqs, 1)

	var p payload
	require.NoError(t, json.Unmarshal([]byte(o.reqs[0].User), &p))
	assert.Equal(t, "alice@corp.example", p.GoldenAnswer)
	assert.Equal(t, "ALICE", p.SubmittedAnswer)
	assert.Equal(t, defaultVerdictPrompt, o.reqs[0].System)
}

func TestWrongWithoutSolutionScoresZero(t *testing.T) {
	o := &scripted{replies: []string{`{"is_correct": false}`}}
	s := New(o, Config{}, Prompts{})
	noSteps := task
	noSteps.Solution = nil

	res, err := s.Evaluate(context.Background(), noSteps, "bob")
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Reward)
	assert.False(t, res.ParseFailed)
}

func TestStepwiseFallback(t *testing.T) {
	o := &scripted{replies: []string{
		"False",
		"```json\n{\"0\": {\"analysis\": \"found logon\", \"is_step_correct\": \"True\"}, \"1\": {\"analysis\": \"missed\", \"is_step_correct\": \"False\"}, \"2\": {\"analysis\": \"wrong account\", \"is_step_correct\": false}}\n```",
	}}
	s := New(o, Config{Discount: 0.4}, Prompts{})

	res, err := s.Evaluate(context.Background(), task, "bob")
	require.NoError(t, err)
	// Only the first of three steps holds: 0.4^2.
	assert.InDelta(t, 0.16, res.Reward, 1e-9)
	require.Len(t, res.Steps, 3)
	assert.True(t, res.Steps[0].Correct)
	assert.Equal(t, "found logon", res.Steps[0].Analysis)
}

func TestStepwiseRewardMonotonicity(t *testing.T) {
	// L=5; the final step is index 4 and is never counted.
	adjacent := []bool{false, false, false, true, false}
	furthest := []bool{true, false, false, false, false}
	assert.InDelta(t, 0.4, StepwiseReward(adjacent, 0.4), 1e-9)
	assert.InDelta(t, 0.0256, StepwiseReward(furthest, 0.4), 1e-9)
	assert.Greater(t, StepwiseReward(adjacent, 0.4), StepwiseReward(furthest, 0.4))

	// At 0.4 every intermediate step together stays below the cap.
	allButFinal := []bool{true, true, true, true, false}
	assert.InDelta(t, 0.6496, StepwiseReward(allButFinal, 0.4), 1e-9)
	assert.Less(t, StepwiseReward(allButFinal, 0.4), 1.0)
}

func TestStepwiseRewardAdjacentStepIsDiscounted(t *testing.T) {
	// A wrong answer with only the step before it correct must not earn
	// full credit.
	assert.InDelta(t, 0.4, StepwiseReward([]bool{false, true, false}, 0.4), 1e-9)
}

func TestStepwiseRewardCapsAfterAddingTerm(t *testing.T) {
	// 0.7 + 0.49 crosses 1 on the second term. The term is added, the total
	// is capped, and the walk stops.
	assert.Equal(t, 1.0, StepwiseReward([]bool{false, false, true, true, false}, 0.7))
	assert.Equal(t, 1.0, StepwiseReward([]bool{true, true, true, true, false}, 0.7))

	// Below the cap nothing is clipped: only the furthest step, 0.9^4.
	assert.InDelta(t, 0.6561, StepwiseReward([]bool{true, false, false, false, false}, 0.9), 1e-9)
	assert.Equal(t, 0.0, StepwiseReward([]bool{true}, 0.4))
	assert.Equal(t, 0.0, StepwiseReward(nil, 0.4))
}

func TestParseFailureIsFlagged(t *testing.T) {
	o := &scripted{replies: []string{"hmm", "no idea", "maybe"}}
	s := New(o, Config{MaxParseAttempts: 3}, Prompts{})

	res, err := s.Evaluate(context.Background(), task, "bob")
	require.ErrorIs(t, err, ErrEvaluationParse)
	assert.True(t, res.ParseFailed)
	assert.Equal(t, 0.0, res.Reward)
	assert.Len(t, o.reqs, 3)

	seeds := map[int]struct{}{}
	for _, r := range o.reqs {
		seeds[r.Seed] = struct{}{}
	}
	assert.Len(t, seeds, 3, "each attempt should use a fresh seed")
}

func TestMissingStepKeyIsParseFailure(t *testing.T) {
	o := &scripted{replies: []string{
		"False",
		`{"0": {"is_step_correct": "True"}, "2": {"is_step_correct": "True"}}`,
	}}
	s := New(o, Config{MaxParseAttempts: 1}, Prompts{})

	res, err := s.Evaluate(context.Background(), task, "bob")
	require.ErrorIs(t, err, ErrEvaluationParse)
	assert.True(t, res.ParseFailed)
}

func TestOracleErrorRetriedThenWrapped(t *testing.T) {
	boom := errors.New("connection reset")
	o := &scripted{errs: []error{boom, boom}}
	s := New(o, Config{MaxParseAttempts: 2}, Prompts{})

	res, err := s.Evaluate(context.Background(), task, "bob")
	require.ErrorIs(t, err, ErrOracle)
	assert.True(t, res.ParseFailed)
	assert.Len(t, o.reqs, 2)
}

func TestOracleRecoversOnRetry(t *testing.T) {
	o := &scripted{errs: []error{errors.New("timeout")}, replies: []string{"", "True"}}
	s := New(o, Config{MaxParseAttempts: 3}, Prompts{})

	res, err := s.Evaluate(context.Background(), task, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Reward)
}

func TestReflectionAuthority(t *testing.T) {
	noSteps := task
	noSteps.Solution = nil

	first := &scripted{replies: []string{"True", "On reflection this is wrong. False"}}
	res, err := New(first, Config{Reflection: true, Authoritative: AuthorityFirst}, Prompts{}).Evaluate(context.Background(), noSteps, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Reward)
	require.Len(t, first.reqs, 2)

	var p payload
	require.NoError(t, json.Unmarshal([]byte(first.reqs[1].User), &p))
	assert.Equal(t, "True", p.PreviousResponse)
	assert.Equal(t, defaultReflectionPrompt, first.reqs[1].System)

	second := &scripted{replies: []string{"True", "On reflection this is wrong. False"}}
	res, err = New(second, Config{Reflection: true, Authoritative: AuthorityReflection}, Prompts{}).Evaluate(context.Background(), noSteps, "bob")
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Reward)
}
