package scorer

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"threatbench/internal/oracle"
	"threatbench/pkg/models"
)

var verdictToken = regexp.MustCompile(`(?i)\b(true|false)\b`)

// parseVerdict reads {"is_correct": ...} when present, otherwise the last
// standalone True/False token.
func parseVerdict(text string) (bool, error) {
	if obj, ok := oracle.ExtractJSON(text); ok {
		var v struct {
			IsCorrect interface{} `json:"is_correct"`
		}
		if json.Unmarshal([]byte(obj), &v) == nil && v.IsCorrect != nil {
			return asBool(v.IsCorrect)
		}
	}
	tokens := verdictToken.FindAllString(text, -1)
	if len(tokens) == 0 {
		return false, fmt.Errorf("no True/False verdict in response")
	}
	return strings.EqualFold(tokens[len(tokens)-1], "true"), nil
}

// parseSteps decodes a per-step JSON object into n verdicts. Every index must
// be present.
func parseSteps(text string, n int) ([]models.StepVerdict, error) {
	obj, ok := oracle.ExtractJSON(text)
	if !ok {
		return nil, fmt.Errorf("no JSON object in stepwise response")
	}
	var raw map[string]struct {
		Analysis      string      `json:"analysis"`
		IsStepCorrect interface{} `json:"is_step_correct"`
	}
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return nil, fmt.Errorf("decode stepwise response: %w", err)
	}

	out := make([]models.StepVerdict, n)
	for i := 0; i < n; i++ {
		entry, ok := raw[strconv.Itoa(i)]
		if !ok {
			entry, ok = raw["step_"+strconv.Itoa(i)]
		}
		if !ok {
			return nil, fmt.Errorf("stepwise response missing step %d", i)
		}
		correct, err := asBool(entry.IsStepCorrect)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		out[i] = models.StepVerdict{Index: i, Analysis: entry.Analysis, Correct: correct}
	}
	return out, nil
}

func asBool(v interface{}) (bool, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
	}
	return false, fmt.Errorf("not a boolean: %v", v)
}

// StepwiseReward turns per-step verdicts into partial credit. Steps are
// walked from the final one backwards; the final step is skipped because it
// is the answer that already failed. The step next to it is worth
// discount, the one before discount^2, and so on. The total is capped at 1
// right after the term that reaches it, and the walk stops there.
func StepwiseReward(steps []bool, discount float64) float64 {
	total := 0.0
	weight := discount
	for i := len(steps) - 2; i >= 0; i-- {
		if steps[i] {
			total += weight
			if total >= 1 {
				return 1
			}
		}
		weight *= discount
	}
	return total
}
