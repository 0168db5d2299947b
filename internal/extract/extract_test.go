package extract

import (
	"errors"
	"testing"

	"smartanswer/internal/dom"
	"smartanswer/internal/dom/memdoc"
)

var selectors = Selectors{
	Question: ".vtbegenerated, .legend-visible, .questionText",
	Label:    "label",
	Control:  `input[type="radio"], input[type="checkbox"]`,
}

func extractFrom(t *testing.T, body string) (Result, error) {
	t.Helper()
	doc, err := memdoc.ParseString(`<html><body><div id="c">` + body + `</div></body></html>`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	c, err := doc.ByID("c")
	if err != nil {
		t.Fatalf("ByID: %v", err)
	}
	return New(selectors).Extract(c)
}

func sameOptions(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		question    string
		options     []string
		questionSrc string
		optionSrc   string
		err         error
	}{
		{
			name: "marker and labels",
			body: `<div class="vtbegenerated">  What is 2+2? </div>
				<input type="radio" id="a"><label for="a"> 4 </label>
				<input type="radio" id="b"><label for="b">5</label>`,
			question:    "What is 2+2?",
			options:     []string{"4", "5"},
			questionSrc: "marker",
			optionSrc:   "labels",
		},
		{
			name: "second marker selector",
			body: `<legend class="legend-visible">Capital of France?</legend>
				<label><input type="radio"> Paris</label>`,
			question:    "Capital of France?",
			options:     []string{"Paris"},
			questionSrc: "marker",
			optionSrc:   "labels",
		},
		{
			name: "first line fallback picks up instructions",
			body: `<p>Answer every question.</p><p>Capital of France?</p>
				<label>Paris</label>`,
			question:    "Answer every question.",
			options:     []string{"Paris"},
			questionSrc: "first-line",
			optionSrc:   "labels",
		},
		{
			name: "control parents when no labels",
			body: `<div class="questionText">Pick a prime</div>
				<table>
				<tr><td><input type="radio" name="p"> 4 </td></tr>
				<tr><td><input type="radio" name="p">7</td></tr>
				<tr><td><input type="checkbox" name="p"></td></tr>
				</table>`,
			question:    "Pick a prime",
			options:     []string{"4", "7"},
			questionSrc: "marker",
			optionSrc:   "control-parent",
		},
		{
			name: "blank marker does not fall through",
			body: `<div class="vtbegenerated">   </div><p>Fallback text</p>
				<label>x</label>`,
			question:    "",
			options:     []string{"x"},
			questionSrc: "marker",
			optionSrc:   "labels",
			err:         ErrNoQuestion,
		},
		{
			name: "blank labels do not fall back to controls",
			body: `<div class="vtbegenerated">Q?</div>
				<input type="radio" id="a"><label for="a"> </label>
				<span><input type="radio">yes</span>`,
			question:    "Q?",
			options:     []string{},
			questionSrc: "marker",
			optionSrc:   "labels",
			err:         ErrNoOptions,
		},
		{
			name:        "no options at all",
			body:        `<div class="vtbegenerated">Q?</div><p>Discuss.</p>`,
			question:    "Q?",
			questionSrc: "marker",
			err:         ErrNoOptions,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := extractFrom(t, tt.body)
			if !errors.Is(err, tt.err) {
				t.Fatalf("err = %v, want %v", err, tt.err)
			}
			if res.Record.Question != tt.question {
				t.Errorf("question = %q, want %q", res.Record.Question, tt.question)
			}
			if len(tt.options) > 0 || len(res.Record.Options) > 0 {
				if !sameOptions(res.Record.Options, tt.options) {
					t.Errorf("options = %q, want %q", res.Record.Options, tt.options)
				}
			}
			if res.QuestionSource != tt.questionSrc || res.OptionSource != tt.optionSrc {
				t.Errorf("sources = %s/%s, want %s/%s", res.QuestionSource, res.OptionSource, tt.questionSrc, tt.optionSrc)
			}
		})
	}
}

type fixedQuestion struct {
	name string
	text string
	ok   bool
}

func (f fixedQuestion) Name() string { return f.name }
func (f fixedQuestion) Question(c dom.Node) (string, bool) {
	return f.text, f.ok
}

func TestCustomCascadeFirstSuccessWins(t *testing.T) {
	doc, err := memdoc.ParseString(`<html><body><div id="c"><label>A</label></div></body></html>`)
	if err != nil {
		t.Fatal(err)
	}
	c, _ := doc.ByID("c")

	x := &Extractor{
		Questions: []QuestionStrategy{
			fixedQuestion{name: "skip", ok: false},
			fixedQuestion{name: "pick", text: "chosen", ok: true},
			fixedQuestion{name: "never", text: "ignored", ok: true},
		},
		Options: []OptionStrategy{LabelOptions{Selector: "label"}},
	}
	res, err := x.Extract(c)
	if err != nil {
		t.Fatal(err)
	}
	if res.Record.Question != "chosen" || res.QuestionSource != "pick" {
		t.Errorf("got %q from %s", res.Record.Question, res.QuestionSource)
	}
}
