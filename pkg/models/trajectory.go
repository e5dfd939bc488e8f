package models

import "time"

// StepInfo carries per-step diagnostics.
type StepInfo struct {
	QuerySuccess  bool   `json:"query_success"`
	Submitted     bool   `json:"submitted,omitempty"`
	Truncated     bool   `json:"truncated,omitempty"`
	RowsReturned  int    `json:"rows_returned,omitempty"`
	RowsElided    int    `json:"rows_elided,omitempty"`
	Error         string `json:"error,omitempty"`
	ScoringFailed bool   `json:"scoring_failed,omitempty"`
	// Evaluation is set on the submit step.
	Evaluation *EvaluationResult `json:"evaluation,omitempty"`
}

// Step is one action/observation record in a trajectory.
type Step struct {
	Action      string   `json:"action"`
	Observation string   `json:"observation"`
	Reward      float64  `json:"reward"`
	Done        bool     `json:"done"`
	Info        StepInfo `json:"info"`
}

// StepVerdict is the judge's decision on one solution step.
type StepVerdict struct {
	Index    int    `json:"index"`
	Analysis string `json:"analysis,omitempty"`
	Correct  bool   `json:"is_step_correct"`
}

// EvaluationResult is the scored outcome of one submission.
type EvaluationResult struct {
	Reward        float64       `json:"reward"`
	Verdict       bool          `json:"verdict"`
	JudgeResponse string        `json:"judge_response,omitempty"`
	ParseFailed   bool          `json:"parse_failed,omitempty"`
	Steps         []StepVerdict `json:"steps,omitempty"`
}

// EpisodeRecord is the trajectory log entry written when an episode ends.
type EpisodeRecord struct {
	EpisodeID string    `json:"episode_id"`
	Scenario  string    `json:"scenario,omitempty"`
	TaskIndex int       `json:"task_index"`
	Task      Task      `json:"task"`
	Steps     []Step    `json:"steps"`
	Reward    float64   `json:"reward"`
	Done      bool      `json:"done"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}
