package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Task is one benchmark question generated from an alert path.
type Task struct {
	Context    string   `json:"context" validate:"required"`
	Question   string   `json:"question" validate:"required"`
	Answer     string   `json:"answer" validate:"required"`
	Solution   StepList `json:"solution,omitempty"`
	Difficulty int      `json:"difficulty,omitempty"`
	StartNode  int64    `json:"start_node,omitempty"`
	EndNode    int64    `json:"end_node,omitempty"`
	Hop        int      `json:"hop,omitempty"`
}

// Prompt renders the initial observation handed to an agent.
func (t Task) Prompt() string {
	ctx := strings.TrimSpace(t.Context)
	q := strings.TrimSpace(t.Question)
	if ctx == "" {
		return q
	}
	return ctx + "\n\n" + q
}

// StepList is an ordered list of solution steps. It decodes from either a
// JSON array of strings or a single string.
type StepList []string

// UnmarshalJSON accepts a string or an array of strings.
func (s *StepList) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		*s = nil
		return nil
	}
	if strings.HasPrefix(trimmed, "\"") {
		var one string
		if err := json.Unmarshal(data, &one); err != nil {
			return err
		}
		if strings.TrimSpace(one) == "" {
			*s = nil
			return nil
		}
		*s = StepList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("solution must be a string or list of strings: %w", err)
	}
	*s = StepList(many)
	return nil
}
