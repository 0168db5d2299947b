// Package extract turns one question container into a Record: the prompt
// text plus the ordered option texts. Both halves are produced by an ordered
// list of strategies; the first strategy that reports success wins and later
// tiers are not consulted.
package extract

import (
	"errors"
	"strings"

	"smartanswer/internal/dom"
)

var (
	// ErrNoQuestion means every question strategy failed or produced blank text.
	ErrNoQuestion = errors.New("could not detect question text")
	// ErrNoOptions means no non-empty option text survived extraction.
	ErrNoOptions = errors.New("could not detect answer options")
)

// Record is the payload sent to the solver. It is not modified after Extract
// returns it.
type Record struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

// QuestionStrategy yields prompt text for a container. ok=false falls through
// to the next strategy.
type QuestionStrategy interface {
	Name() string
	Question(container dom.Node) (text string, ok bool)
}

// OptionStrategy yields raw option texts for a container. ok=false falls
// through to the next strategy.
type OptionStrategy interface {
	Name() string
	Options(container dom.Node) (texts []string, ok bool)
}

// MarkerQuestion takes the rendered text of the first node matching one of
// the known question-marker selectors. Finding the node is success, even if
// its text turns out blank.
type MarkerQuestion struct {
	Selector string
}

func (MarkerQuestion) Name() string { return "marker" }

func (m MarkerQuestion) Question(c dom.Node) (string, bool) {
	nodes, err := c.QueryAll(m.Selector)
	if err != nil || len(nodes) == 0 {
		return "", false
	}
	text, err := nodes[0].Text()
	if err != nil {
		return "", false
	}
	return text, true
}

// FirstLineQuestion takes the first line of the container's rendered text.
// Noisy when the container opens with instructions rather than the prompt.
type FirstLineQuestion struct{}

func (FirstLineQuestion) Name() string { return "first-line" }

func (FirstLineQuestion) Question(c dom.Node) (string, bool) {
	text, err := c.Text()
	if err != nil {
		return "", false
	}
	line, _, _ := strings.Cut(text, "\n")
	return line, true
}

// LabelOptions uses one option per label node, in document order. Any label
// present means success, so the control fallback never runs alongside it.
type LabelOptions struct {
	Selector string
}

func (LabelOptions) Name() string { return "labels" }

func (l LabelOptions) Options(c dom.Node) ([]string, bool) {
	labels, err := c.QueryAll(l.Selector)
	if err != nil || len(labels) == 0 {
		return nil, false
	}
	texts := make([]string, 0, len(labels))
	for _, label := range labels {
		text, err := label.Text()
		if err != nil {
			continue
		}
		texts = append(texts, text)
	}
	return texts, true
}

// ControlParentOptions uses the rendered text of each selectable control's
// immediate parent. It picks up layout noise such as table-cell padding.
type ControlParentOptions struct {
	Selector string
}

func (ControlParentOptions) Name() string { return "control-parent" }

func (p ControlParentOptions) Options(c dom.Node) ([]string, bool) {
	controls, err := c.QueryAll(p.Selector)
	if err != nil || len(controls) == 0 {
		return nil, false
	}
	texts := make([]string, 0, len(controls))
	for _, control := range controls {
		parent, err := control.Parent()
		if err != nil {
			continue
		}
		text, err := parent.Text()
		if err != nil {
			continue
		}
		texts = append(texts, text)
	}
	return texts, true
}

// Extractor runs the two cascades.
type Extractor struct {
	Questions []QuestionStrategy
	Options   []OptionStrategy
}

// Selectors names the markup patterns the default cascades look for.
type Selectors struct {
	Question string
	Label    string
	Control  string
}

// New builds the default cascade: question marker then first line; labels
// then control parents.
func New(s Selectors) *Extractor {
	return &Extractor{
		Questions: []QuestionStrategy{
			MarkerQuestion{Selector: s.Question},
			FirstLineQuestion{},
		},
		Options: []OptionStrategy{
			LabelOptions{Selector: s.Label},
			ControlParentOptions{Selector: s.Control},
		},
	}
}

// Result carries the record plus the names of the tiers that produced it.
type Result struct {
	Record         Record
	QuestionSource string
	OptionSource   string
}

// Extract produces a record for container. It returns ErrNoQuestion or
// ErrNoOptions when the record would be unusable; the partial Result is
// still returned for diagnostics.
func (x *Extractor) Extract(container dom.Node) (Result, error) {
	var res Result
	for _, s := range x.Questions {
		if text, ok := s.Question(container); ok {
			res.Record.Question = strings.TrimSpace(text)
			res.QuestionSource = s.Name()
			break
		}
	}
	for _, s := range x.Options {
		if texts, ok := s.Options(container); ok {
			res.Record.Options = clean(texts)
			res.OptionSource = s.Name()
			break
		}
	}
	if res.Record.Question == "" {
		return res, ErrNoQuestion
	}
	if len(res.Record.Options) == 0 {
		return res, ErrNoOptions
	}
	return res, nil
}

func clean(texts []string) []string {
	out := make([]string, 0, len(texts))
	for _, t := range texts {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
