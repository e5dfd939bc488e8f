package runner

import (
	"context"
	"fmt"
	"strings"

	"threatbench/internal/oracle"
)

// DefaultAgentPrompt is the system instruction for OracleAgent.
const DefaultAgentPrompt = `You are a security analyst investigating an incident. The logs are in a SQL
database you can query. Each turn, reply with exactly one line:
QUERY: <one SQL statement>
or, once you know the answer:
SUBMIT: <answer>
Query results are returned to you with fields separated by " | ".`

// OracleAgent plays an episode by sending the running transcript to an
// oracle. It keeps state across calls and must not be reused between
// episodes.
type OracleAgent struct {
	oracle     oracle.Oracle
	system     string
	transcript []string
}

// NewOracleAgent creates an agent. An empty prompt uses DefaultAgentPrompt.
func NewOracleAgent(o oracle.Oracle, prompt string) *OracleAgent {
	if strings.TrimSpace(prompt) == "" {
		prompt = DefaultAgentPrompt
	}
	return &OracleAgent{oracle: o, system: prompt}
}

// Act records the observation, asks the oracle for the next move and
// parses it.
func (a *OracleAgent) Act(ctx context.Context, observation string) (string, bool, error) {
	a.transcript = append(a.transcript, "OBSERVATION:\n"+observation)
	text, err := a.oracle.Complete(ctx, oracle.Request{System: a.system, User: strings.Join(a.transcript, "\n\n")})
	if err != nil {
		return "", false, fmt.Errorf("agent oracle: %w", err)
	}
	action, submit := ParseAction(text)
	if action == "" {
		return "", false, fmt.Errorf("agent produced an empty action")
	}
	a.transcript = append(a.transcript, strings.TrimSpace(text))
	return action, submit, nil
}

// ParseAction reads the last "SUBMIT:" or "QUERY:" line of text. Without
// either marker the whole reply, minus code fences, is taken as a query.
func ParseAction(text string) (string, bool) {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "SUBMIT:"):
			return strings.TrimSpace(line[len("SUBMIT:"):]), true
		case strings.HasPrefix(upper, "QUERY:"):
			q := strings.TrimSpace(line[len("QUERY:"):])
			if q == "" && i+1 < len(lines) {
				q = stripFence(strings.Join(lines[i+1:], "\n"))
			}
			return q, false
		}
	}
	return stripFence(text), false
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```sql")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
