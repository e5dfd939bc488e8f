// Package taskstore reads and writes task sets and sampled paths as flat
// JSON arrays.
package taskstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"

	"threatbench/pkg/models"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads a task set and validates every record.
func Load(path string) ([]models.Task, error) {
	var tasks []models.Task
	if err := readJSON(path, &tasks); err != nil {
		return nil, err
	}
	for i := range tasks {
		if err := validate.Struct(tasks[i]); err != nil {
			return nil, fmt.Errorf("task %d in %s: %w", i, path, err)
		}
	}
	return tasks, nil
}

// Save validates tasks and writes them to path.
func Save(path string, tasks []models.Task) error {
	for i := range tasks {
		if err := validate.Struct(tasks[i]); err != nil {
			return fmt.Errorf("task %d: %w", i, err)
		}
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	return writeJSON(path, tasks)
}

// LoadPaths reads sampled alert paths.
func LoadPaths(path string) ([]models.AlertPath, error) {
	var paths []models.AlertPath
	if err := readJSON(path, &paths); err != nil {
		return nil, err
	}
	return paths, nil
}

// SavePaths writes sampled alert paths.
func SavePaths(path string, paths []models.AlertPath) error {
	if paths == nil {
		paths = []models.AlertPath{}
	}
	return writeJSON(path, paths)
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// writeJSON writes to a temporary file in the target directory and renames
// it into place, so readers never see a partial file.
func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
