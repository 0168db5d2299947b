// Package render owns the per-container result area shown in interactive
// mode. The area moves hidden -> loading -> final (or error) and is only
// ever written as plain text.
package render

import (
	"fmt"
	"sync"

	"smartanswer/internal/dom"
)

// State is the observable state of a result area.
type State string

const (
	StateHidden  State = "hidden"
	StateLoading State = "loading"
	StateFinal   State = "final"
	StateError   State = "error"
)

const (
	ClassResult  = "smart-answer-result"
	ClassLoading = "loading"
	ClassError   = "smart-answer-error"

	LoadingText = "Thinking..."

	styleHidden  = "display:none"
	styleVisible = "display:block;white-space:pre-line"
)

// Area is one container's result area.
type Area struct {
	node dom.Node

	mu    sync.Mutex
	state State
	text  string
}

// Mount appends a hidden result area to container.
func Mount(container dom.Node) (*Area, error) {
	node, err := container.AppendElement("div")
	if err != nil {
		return nil, fmt.Errorf("append result area: %w", err)
	}
	a := &Area{node: node}
	if err := a.apply(StateHidden, ClassResult, styleHidden, ""); err != nil {
		return nil, err
	}
	return a, nil
}

// State returns the current state.
func (a *Area) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Text returns the text last written to the area.
func (a *Area) Text() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.text
}

// Node is the underlying element.
func (a *Area) Node() dom.Node {
	return a.node
}

// Loading shows the thinking indicator.
func (a *Area) Loading() error {
	return a.apply(StateLoading, ClassResult+" "+ClassLoading, styleVisible, LoadingText)
}

// Final shows the answer and its confidence as a whole percentage.
func (a *Area) Final(answer string, percent int) error {
	return a.apply(StateFinal, ClassResult, styleVisible, FinalText(answer, percent))
}

// Fail shows msg as an error.
func (a *Area) Fail(msg string) error {
	return a.apply(StateError, ClassResult+" "+ClassError, styleVisible, msg)
}

// FinalText formats the terminal answer line.
func FinalText(answer string, percent int) string {
	return fmt.Sprintf("Answer: %s\nConfidence: %d%%", answer, percent)
}

// SolveErrorText formats a transport/solve failure.
func SolveErrorText(err error) string {
	return fmt.Sprintf("Error: %v. Is backend running?", err)
}

func (a *Area) apply(state State, class, style, text string) error {
	a.mu.Lock()
	a.state = state
	a.text = text
	a.mu.Unlock()

	if err := a.node.SetAttr("class", class); err != nil {
		return fmt.Errorf("set result class: %w", err)
	}
	if err := a.node.SetAttr("style", style); err != nil {
		return fmt.Errorf("set result style: %w", err)
	}
	if err := a.node.SetText(text); err != nil {
		return fmt.Errorf("set result text: %w", err)
	}
	return nil
}
