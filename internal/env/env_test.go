package env

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatbench/internal/executor"
	"threatbench/pkg/models"
)

type fakeExec struct {
	queries []string
}

func (f *fakeExec) Execute(_ context.Context, q string) executor.Result {
	f.queries = append(f.queries, q)
	if strings.HasPrefix(q, "BAD") {
		return executor.Failed(executor.ErrorKindQuery, "no such table: nope")
	}
	return executor.Rows([]string{"host", "user"}, [][]string{{"ws1", "alice"}})
}

type fakeScorer struct {
	res models.EvaluationResult
	err error
}

func (f fakeScorer) Evaluate(context.Context, models.Task, string) (models.EvaluationResult, error) {
	return f.res, f.err
}

type memSink struct {
	records []*models.EpisodeRecord
}

func (m *memSink) WriteEpisodes(records []*models.EpisodeRecord) error {
	m.records = append(m.records, records...)
	return nil
}

func (m *memSink) Close() error { return nil }

var tasks = []models.Task{
	{Context: "Alert on ws1.", Question: "Which user?", Answer: "alice"},
	{Context: "Alert on ws2.", Question: "Which IP?", Answer: "1.2.3.4"},
}

func newEnv(scorer Evaluator, maxSteps int) (*Env, *fakeExec, *memSink) {
	ex := &fakeExec{}
	sink := &memSink{}
	e, err := New(tasks, ex, scorer, sink, Config{MaxSteps: maxSteps, MaxRows: 10, MaxChars: 5000, Scenario: "s1"})
	if err != nil {
		panic(err)
	}
	return e, ex, sink
}

func TestNewRejectsNonPositiveLimits(t *testing.T) {
	for _, cfg := range []Config{
		{MaxSteps: 0, MaxRows: 10, MaxChars: 5000},
		{MaxSteps: 15, MaxRows: -1, MaxChars: 5000},
		{MaxSteps: 15, MaxRows: 10},
	} {
		_, err := New(tasks, &fakeExec{}, nil, nil, cfg)
		assert.ErrorIs(t, err, ErrConfig, "config %+v", cfg)
	}
	e, err := New(tasks, &fakeExec{}, nil, nil, Config{MaxSteps: 1, MaxRows: 1, MaxChars: 1})
	require.NoError(t, err)
	assert.Equal(t, len(tasks), e.Len())
}

func TestBudgetTerminatesOnThirdQuery(t *testing.T) {
	e, ex, _ := newEnv(fakeScorer{}, 3)
	ctx := context.Background()

	obs, err := e.Reset(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "Alert on ws1.\n\nWhich user?", obs)

	for i := 1; i <= 2; i++ {
		st, err := e.Step(ctx, fmt.Sprintf("SELECT %d", i), false)
		require.NoError(t, err)
		assert.False(t, st.Done, "step %d ended early", i)
		assert.True(t, st.Info.QuerySuccess)
	}

	st, err := e.Step(ctx, "SELECT 3", false)
	require.NoError(t, err)
	assert.True(t, st.Done)
	assert.Equal(t, 0.0, st.Reward)
	assert.True(t, st.Info.Truncated)
	assert.Len(t, ex.queries, 3)

	_, err = e.Step(ctx, "SELECT 4", false)
	assert.ErrorIs(t, err, ErrEpisodeDone)
	_, err = e.Step(ctx, "alice", true)
	assert.ErrorIs(t, err, ErrEpisodeDone)
	assert.Len(t, e.Record().Steps, 3)
}

func TestStepBeforeResetAndBadIndex(t *testing.T) {
	e, _, _ := newEnv(fakeScorer{}, 3)
	_, err := e.Step(context.Background(), "SELECT 1", false)
	assert.ErrorIs(t, err, ErrNotStarted)

	_, err = e.Reset(context.Background(), 2)
	assert.ErrorIs(t, err, ErrTaskIndex)
	_, err = e.Reset(context.Background(), -1)
	assert.ErrorIs(t, err, ErrTaskIndex)
}

func TestQueryErrorIsObservation(t *testing.T) {
	e, _, _ := newEnv(fakeScorer{}, 5)
	ctx := context.Background()
	_, err := e.Reset(ctx, 0)
	require.NoError(t, err)

	st, err := e.Step(ctx, "BAD SQL", false)
	require.NoError(t, err)
	assert.False(t, st.Done)
	assert.False(t, st.Info.QuerySuccess)
	assert.Equal(t, 0.0, st.Reward)
	assert.Equal(t, "Error: no such table: nope", st.Observation)

	st, err = e.Step(ctx, "SELECT host, user FROM logons", false)
	require.NoError(t, err)
	assert.Equal(t, "ws1 | alice", st.Observation)
}

func TestSubmitScoresAndEnds(t *testing.T) {
	e, _, sink := newEnv(fakeScorer{res: models.EvaluationResult{Reward: 0.4}}, 5)
	ctx := context.Background()
	_, err := e.Reset(ctx, 1)
	require.NoError(t, err)

	st, err := e.Step(ctx, "5.6.7.8", true)
	require.NoError(t, err)
	assert.True(t, st.Done)
	assert.True(t, st.Info.Submitted)
	assert.InDelta(t, 0.4, st.Reward, 1e-9)
	require.NotNil(t, st.Info.Evaluation)

	require.NoError(t, e.Close(ctx))
	require.Len(t, sink.records, 1)
	rec := sink.records[0]
	assert.Equal(t, 1, rec.TaskIndex)
	assert.Equal(t, "s1", rec.Scenario)
	assert.True(t, rec.Done)
	assert.InDelta(t, 0.4, rec.Reward, 1e-9)
	assert.NotEmpty(t, rec.EpisodeID)
	assert.False(t, rec.EndedAt.Before(rec.StartedAt))
}

func TestScoringFailureIsFlagged(t *testing.T) {
	failing := fakeScorer{
		res: models.EvaluationResult{ParseFailed: true},
		err: errors.New("evaluation response could not be parsed"),
	}
	e, _, _ := newEnv(failing, 5)
	ctx := context.Background()
	_, err := e.Reset(ctx, 0)
	require.NoError(t, err)

	st, err := e.Step(ctx, "bob", true)
	require.NoError(t, err)
	assert.True(t, st.Done)
	assert.True(t, st.Info.ScoringFailed)
	assert.Equal(t, 0.0, st.Reward)
}

func TestResetFlushesPreviousEpisode(t *testing.T) {
	e, _, sink := newEnv(fakeScorer{}, 5)
	ctx := context.Background()

	_, err := e.Reset(ctx, 0)
	require.NoError(t, err)
	_, err = e.Step(ctx, "SELECT 1", false)
	require.NoError(t, err)
	assert.Empty(t, sink.records)

	_, err = e.Reset(ctx, 1)
	require.NoError(t, err)
	require.Len(t, sink.records, 1)
	assert.Len(t, sink.records[0].Steps, 1)
	assert.False(t, sink.records[0].Done, "an interrupted episode is flushed as not done")

	require.NoError(t, e.Close(ctx))
	require.NoError(t, e.Close(ctx))
	require.Len(t, sink.records, 2)
	assert.Empty(t, sink.records[1].Steps)
	assert.NotEqual(t, sink.records[0].EpisodeID, sink.records[1].EpisodeID)
}

func TestRenderCapsRows(t *testing.T) {
	rows := make([][]string, 20)
	for i := range rows {
		rows[i] = []string{"a", fmt.Sprintf("%02d", i)}
	}
	text, elided := Render(rows, 3, 50)
	assert.Equal(t, 17, elided)
	assert.Equal(t, "a | 00\na | 01\na | 02\n... (17 more rows truncated)", text)
}

func TestRenderCutsLongText(t *testing.T) {
	text, elided := Render([][]string{{"aaaa"}, {"bbbbbbbbbbbb"}}, 5, 10)
	assert.Equal(t, 1, elided)
	assert.Equal(t, "aaaa\nbbbbb\n... (1 more rows truncated)", text)
}

func TestRenderUnderLimit(t *testing.T) {
	text, elided := Render([][]string{{"x", "y"}}, 1, 100)
	assert.Equal(t, 0, elided)
	assert.Equal(t, "x | y", text)

	text, _ = Render(nil, 1, 100)
	assert.Equal(t, "(no rows)", text)
}
