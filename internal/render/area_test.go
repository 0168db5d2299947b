package render

import (
	"errors"
	"testing"

	"smartanswer/internal/dom"
	"smartanswer/internal/dom/memdoc"
)

func mount(t *testing.T) (*Area, *memdoc.Document) {
	t.Helper()
	doc, err := memdoc.ParseString(`<html><body><div class="takeQuestionDiv" id="q1"><label>4</label></div></body></html>`)
	if err != nil {
		t.Fatal(err)
	}
	c, err := doc.ByID("q1")
	if err != nil {
		t.Fatal(err)
	}
	a, err := Mount(c)
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	return a, doc
}

func attr(t *testing.T, n dom.Node, name string) string {
	t.Helper()
	v, _, err := n.Attr(name)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestAreaLifecycle(t *testing.T) {
	a, doc := mount(t)

	if a.State() != StateHidden || attr(t, a.Node(), "style") != styleHidden {
		t.Fatalf("mounted area state %s style %q", a.State(), attr(t, a.Node(), "style"))
	}
	areas, _ := doc.QueryAll("#q1 ." + ClassResult)
	if len(areas) != 1 {
		t.Fatalf("expected one result area, got %d", len(areas))
	}

	if err := a.Loading(); err != nil {
		t.Fatal(err)
	}
	if a.State() != StateLoading || a.Text() != LoadingText {
		t.Errorf("loading: %s %q", a.State(), a.Text())
	}
	if !dom.HasClass(a.Node(), ClassLoading) {
		t.Error("loading class missing")
	}

	if err := a.Final("4", 95); err != nil {
		t.Fatal(err)
	}
	if a.State() != StateFinal || a.Text() != "Answer: 4\nConfidence: 95%" {
		t.Errorf("final: %s %q", a.State(), a.Text())
	}
	if dom.HasClass(a.Node(), ClassLoading) || attr(t, a.Node(), "style") != styleVisible {
		t.Error("final area must drop the loading class and be visible")
	}
	// Rendered text collapses the line break; pre-line restores it in a browser.
	if text, _ := a.Node().Text(); text != "Answer: 4 Confidence: 95%" {
		t.Errorf("node text = %q", text)
	}
}

func TestAreaFail(t *testing.T) {
	a, _ := mount(t)
	msg := SolveErrorText(errors.New("server error: 500"))
	if msg != "Error: server error: 500. Is backend running?" {
		t.Errorf("SolveErrorText = %q", msg)
	}
	if err := a.Fail(msg); err != nil {
		t.Fatal(err)
	}
	if a.State() != StateError || !dom.HasClass(a.Node(), ClassError) {
		t.Errorf("state %s class %q", a.State(), attr(t, a.Node(), "class"))
	}
}

func TestAreaTextIsNotMarkup(t *testing.T) {
	a, doc := mount(t)
	if err := a.Final("<b>4</b>", 50); err != nil {
		t.Fatal(err)
	}
	if bold, _ := doc.QueryAll("#q1 b"); len(bold) != 0 {
		t.Error("answer text was parsed as markup")
	}
}

func TestMountOnStaleContainer(t *testing.T) {
	doc, err := memdoc.ParseString(`<html><body><div id="q1"></div></body></html>`)
	if err != nil {
		t.Fatal(err)
	}
	c, _ := doc.ByID("q1")
	if _, err := doc.Remove("#q1"); err != nil {
		t.Fatal(err)
	}
	if _, err := Mount(c); !errors.Is(err, dom.ErrStale) {
		t.Errorf("err = %v, want ErrStale", err)
	}
}
