package engine

import "time"

// Result is where a container's pipeline ended.
type Result string

const (
	ResultPending Result = "pending"
	// ResultUnusable: no question text or no options; the solver was not called.
	ResultUnusable    Result = "unusable"
	ResultSolveFailed Result = "solve_failed"
	// ResultShown: interactive mode rendered the answer.
	ResultShown Result = "shown"
	// ResultBelowGate: autonomous judgment at or under ConfidenceGate.
	ResultBelowGate Result = "below_gate"
	ResultNoMatch   Result = "no_match"
	ResultApplied   Result = "applied"
	// ResultAlreadyChosen: the matched control was already selected.
	ResultAlreadyChosen Result = "already_chosen"
	ResultFailed        Result = "failed"
)

// Outcome is the engine's record of one claimed container.
type Outcome struct {
	ID         string    `json:"id"`
	ClaimedAt  time.Time `json:"claimed_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Result     Result    `json:"result"`

	Question       string   `json:"question,omitempty"`
	Options        []string `json:"options,omitempty"`
	QuestionSource string   `json:"question_source,omitempty"`
	OptionSource   string   `json:"option_source,omitempty"`

	Answer        string  `json:"answer,omitempty"`
	MatchedOption string  `json:"matched_option,omitempty"`
	Confidence    float64 `json:"confidence,omitempty"`

	// Selected is the option text the matcher resolved, Via how it got there.
	Selected    string `json:"selected,omitempty"`
	Via         string `json:"via,omitempty"`
	Highlighted bool   `json:"highlighted,omitempty"`
	// Rendered is the final text of the interactive result area.
	Rendered string `json:"rendered,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Done reports whether the pipeline has finished.
func (o Outcome) Done() bool {
	return o.Result != ResultPending
}
