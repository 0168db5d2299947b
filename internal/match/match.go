// Package match maps a solver's answer string back onto one selectable
// control of a question container and activates it.
package match

import (
	"errors"
	"fmt"
	"strings"

	"smartanswer/internal/dom"
)

var (
	// ErrNotFound means no label or control text matched the answer.
	ErrNotFound = errors.New("no matching option element")
	// ErrUnresolvedLabel means a label matched but neither its for= target
	// nor a nested control could be found. The search stops there.
	ErrUnresolvedLabel = errors.New("matched label has no resolvable control")
)

// Via names the path that produced a match.
type Via string

const (
	ViaLabel         Via = "label"
	ViaControlParent Via = "control-parent"
	ViaNextSibling   Via = "next-sibling"
)

// ChangeEvent is the synthetic event raised after activating a control.
const ChangeEvent = "change"

// Match is a resolved option element.
type Match struct {
	Control dom.Node
	// Anchor is the node carrying the option text: the label, the control's
	// parent, or the control itself when the text was its next sibling.
	Anchor dom.Node
	Text   string
	Via    Via
}

// Matcher locates the control for an answer inside a container.
type Matcher struct {
	Doc             dom.Document
	LabelSelector   string
	ControlSelector string
	// ExcludeSelector marks elements whose text is not option text, such as
	// an injected result area. Optional.
	ExcludeSelector string
}

// Contains is the bidirectional containment test: a contains b or b contains
// a. Blank strings never match.
func Contains(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// Find resolves answer to a control. Labels are tried first in document
// order; the first containing (or contained by) answer is authoritative even
// when a later label is a tighter fit. Only when no label text matches are
// the controls themselves scanned.
func (m *Matcher) Find(container dom.Node, answer string) (*Match, error) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return nil, ErrNotFound
	}

	labels, err := container.QueryAll(m.LabelSelector)
	if err != nil {
		return nil, fmt.Errorf("query labels: %w", err)
	}
	for _, label := range labels {
		text, err := label.Text()
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if !Contains(text, answer) {
			continue
		}
		control, err := m.resolveLabel(label)
		if err != nil {
			return nil, err
		}
		return &Match{Control: control, Anchor: label, Text: text, Via: ViaLabel}, nil
	}

	controls, err := container.QueryAll(m.ControlSelector)
	if err != nil {
		return nil, fmt.Errorf("query controls: %w", err)
	}
	for _, control := range controls {
		if parent, err := control.Parent(); err == nil {
			if text, err := m.optionText(parent); err == nil && Contains(text, answer) {
				return &Match{Control: control, Anchor: parent, Text: text, Via: ViaControlParent}, nil
			}
		}
		if raw, err := control.NextSiblingText(); err == nil && strings.TrimSpace(raw) != "" && Contains(raw, answer) {
			return &Match{Control: control, Anchor: control, Text: raw, Via: ViaNextSibling}, nil
		}
	}
	return nil, ErrNotFound
}

// optionText is n's trimmed text with the text of excluded descendants cut
// out.
func (m *Matcher) optionText(n dom.Node) (string, error) {
	text, err := n.Text()
	if err != nil {
		return "", err
	}
	if m.ExcludeSelector != "" {
		excluded, err := n.QueryAll(m.ExcludeSelector)
		if err != nil {
			return "", fmt.Errorf("query excluded: %w", err)
		}
		for _, x := range excluded {
			xt, err := x.Text()
			if err != nil || strings.TrimSpace(xt) == "" {
				continue
			}
			if i := strings.LastIndex(text, xt); i >= 0 {
				text = text[:i] + text[i+len(xt):]
			}
		}
	}
	return strings.TrimSpace(text), nil
}

// resolveLabel follows the label's for= attribute through the whole
// document, then falls back to a control nested inside the label.
func (m *Matcher) resolveLabel(label dom.Node) (dom.Node, error) {
	if target, ok, err := label.Attr("for"); err == nil && ok && target != "" {
		if control, err := m.Doc.ByID(target); err == nil {
			return control, nil
		}
	}
	nested, err := label.QueryAll(m.ControlSelector)
	if err == nil && len(nested) > 0 {
		return nested[0], nil
	}
	return nil, ErrUnresolvedLabel
}

// Activate chooses control unless it is already chosen. It clicks the
// control and also raises a synthetic change event, since page scripts may
// listen for either. activated is false when the control was already chosen.
func Activate(control dom.Node) (activated bool, err error) {
	chosen, err := control.Checked()
	if err != nil {
		return false, fmt.Errorf("read chosen state: %w", err)
	}
	if chosen {
		return false, nil
	}
	var errs []error
	if err := control.Activate(); err != nil {
		errs = append(errs, fmt.Errorf("click control: %w", err))
	}
	if err := control.Dispatch(ChangeEvent); err != nil {
		errs = append(errs, fmt.Errorf("dispatch %s: %w", ChangeEvent, err))
	}
	return true, errors.Join(errs...)
}
