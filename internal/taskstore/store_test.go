package taskstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatbench/pkg/models"
)

func TestSaveAndLoadTasks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks", "inc-1.json")
	in := []models.Task{
		{Context: "c", Question: "q", Answer: "a", Solution: models.StepList{"s1", "s2"}, Difficulty: 2, Hop: 1},
		{Context: "c2", Question: "q2", Answer: "a2"},
	}
	require.NoError(t, Save(path, in))

	out, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file left behind")
}

func TestLoadAcceptsStringSolution(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	body := `[{"context": "c", "question": "q", "answer": "a", "solution": "only step", "start_node": 4, "end_node": 9}]`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	tasks, err := Load(path)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, models.StepList{"only step"}, tasks[0].Solution)
	assert.Equal(t, int64(9), tasks[0].EndNode)
}

func TestLoadRejectsMissingAnswer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"context": "c", "question": "q"}]`), 0o644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "Answer")
}

func TestSaveRejectsInvalidTask(t *testing.T) {
	err := Save(filepath.Join(t.TempDir(), "tasks.json"), []models.Task{{Question: "q"}})
	assert.Error(t, err)
}

func TestPathsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "paths.json")
	in := []models.AlertPath{{StartAlert: 1, EndAlert: 2, StartEntities: []int64{3}, EndEntities: []int64{4}, ShortestAlertPath: []int64{1, 2}, Path: []int64{1, 5, 2}}}
	require.NoError(t, SavePaths(path, in))

	out, err := LoadPaths(path)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
