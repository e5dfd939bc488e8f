package scorer

// Prompts are the system instructions sent to the oracle. Empty fields fall
// back to the defaults below.
type Prompts struct {
	Verdict            string
	Reflection         string
	Stepwise           string
	StepwiseReflection string
}

const defaultVerdictPrompt = `You grade answers to security investigation questions.
You receive a JSON object with "question", "golden_answer" and "submitted_answer".
Decide whether the submitted answer identifies the same entity or fact as the golden answer.
Ignore formatting, casing and extra explanation. Reply with a short analysis and end with a single word: True or False.`

const defaultReflectionPrompt = `You are reviewing another grader's decision on a security investigation answer.
You receive the original payload and the previous grader's response under "previous_response".
Check the reasoning. Reply with a short analysis and end with a single word: True if the submitted answer is correct, False otherwise.`

const defaultStepwisePrompt = `You grade partial progress on a security investigation.
You receive "question", "golden_answer", "submitted_answer" and an ordered "solution" list.
For each solution step decide whether the submitted answer shows that step was accomplished.
Reply with JSON only, keyed by zero-based step index:
{"0": {"analysis": "...", "is_step_correct": "True"}, "1": {"analysis": "...", "is_step_correct": "False"}}`

const defaultStepwiseReflectionPrompt = `You are reviewing another grader's per-step decisions on a security investigation.
You receive the original payload and the previous grader's JSON under "previous_response".
Correct any mistakes and reply with JSON only, in the same shape:
{"0": {"analysis": "...", "is_step_correct": "True"}}`

// DefaultPrompts returns the built-in instructions.
func DefaultPrompts() Prompts {
	return Prompts{
		Verdict:            defaultVerdictPrompt,
		Reflection:         defaultReflectionPrompt,
		Stepwise:           defaultStepwisePrompt,
		StepwiseReflection: defaultStepwiseReflectionPrompt,
	}
}

func (p Prompts) withDefaults() Prompts {
	d := DefaultPrompts()
	if p.Verdict == "" {
		p.Verdict = d.Verdict
	}
	if p.Reflection == "" {
		p.Reflection = d.Reflection
	}
	if p.Stepwise == "" {
		p.Stepwise = d.Stepwise
	}
	if p.StepwiseReflection == "" {
		p.StepwiseReflection = d.StepwiseReflection
	}
	return p
}
