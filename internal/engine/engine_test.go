package engine

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"smartanswer/internal/config"
	"smartanswer/internal/dom"
	"smartanswer/internal/dom/memdoc"
	"smartanswer/internal/extract"
	"smartanswer/internal/mangle"
	"smartanswer/internal/render"
	"smartanswer/internal/solver"
	"smartanswer/internal/solver/solvertest"
)

const arithmeticQuiz = `<html><body><div id="quiz">
<div class="takeQuestionDiv" id="q1">
  <div class="vtbegenerated">What is 2+2?</div>
  <input type="radio" name="q1" id="q1a"><label for="q1a">4</label>
  <input type="radio" name="q1" id="q1b"><label for="q1b">5</label>
  <input type="radio" name="q1" id="q1c"><label for="q1c">6</label>
</div>
</div></body></html>`

type fakeSolver struct {
	mu    sync.Mutex
	calls []extract.Record
	judge func(extract.Record) (solver.Judgment, error)
}

func (f *fakeSolver) Solve(ctx context.Context, rec extract.Record) (solver.Judgment, error) {
	f.mu.Lock()
	f.calls = append(f.calls, rec)
	judge := f.judge
	f.mu.Unlock()
	return judge(rec)
}

func (f *fakeSolver) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func answering(option string, confidence float64) *fakeSolver {
	return &fakeSolver{judge: func(extract.Record) (solver.Judgment, error) {
		opt := option
		return solver.Judgment{Answer: opt, MatchedOption: &opt, Confidence: confidence}, nil
	}}
}

func engineConfig(mode string) config.EngineConfig {
	cfg := config.DefaultEngineConfig()
	cfg.Mode = mode
	return cfg
}

func newEngine(t *testing.T, mode, markup string, s solver.Solver, opts ...Option) (*Engine, *memdoc.Document) {
	t.Helper()
	doc, err := memdoc.ParseString(markup)
	if err != nil {
		t.Fatalf("parse markup: %v", err)
	}
	e, err := New(engineConfig(mode), doc, s, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e, doc
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func allDone(e *Engine, n int) func() bool {
	return func() bool {
		outs := e.Outcomes()
		if len(outs) != n {
			return false
		}
		for _, o := range outs {
			if !o.Done() {
				return false
			}
		}
		return true
	}
}

func checked(t *testing.T, doc *memdoc.Document, id string) bool {
	t.Helper()
	n, err := doc.ByID(id)
	if err != nil {
		t.Fatalf("ByID(%q): %v", id, err)
	}
	on, err := n.Checked()
	if err != nil {
		t.Fatalf("Checked(%q): %v", id, err)
	}
	return on
}

func TestNewRejectsBadConfig(t *testing.T) {
	doc, _ := memdoc.ParseString("<p></p>")
	cfg := engineConfig("manual")
	if _, err := New(cfg, doc, answering("x", 1)); err == nil {
		t.Fatal("expected error for unknown mode")
	}
	if _, err := New(engineConfig(config.ModeInteractive), nil, answering("x", 1)); err == nil {
		t.Fatal("expected error for nil document")
	}
}

func TestOverlappingRescansClaimOnce(t *testing.T) {
	markup := `<html><body>
<div class="takeQuestionDiv"><p class="questionText">Q1</p><label><input type="radio" name="a">A</label></div>
<div class="takeQuestionDiv"><p class="questionText">Q2</p><label><input type="radio" name="b">B</label></div>
<div class="stepcontent"><p class="questionText">Q3</p><label><input type="radio" name="c">C</label></div>
</body></html>`
	s := answering("A", 0.9)
	e, doc := newEngine(t, config.ModeAutonomous, markup, s)

	var wg sync.WaitGroup
	claimed := make(chan int, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := e.Rescan(context.Background())
			if err != nil {
				t.Errorf("Rescan: %v", err)
			}
			claimed <- n
		}()
	}
	wg.Wait()
	close(claimed)
	e.Wait()

	total := 0
	for n := range claimed {
		total += n
	}
	if total != 3 {
		t.Fatalf("claimed %d containers across rescans, want 3", total)
	}
	if got := s.Calls(); got != 3 {
		t.Fatalf("solver called %d times, want 3", got)
	}
	marked, err := doc.QueryAll(`[data-smart-answer-processed="true"]`)
	if err != nil {
		t.Fatal(err)
	}
	if len(marked) != 3 {
		t.Fatalf("%d containers carry the marker, want 3", len(marked))
	}
}

func TestWatcherScansOnInsertionOnly(t *testing.T) {
	s := answering("4", 0.95)
	e, doc := newEngine(t, config.ModeAutonomous, arithmeticQuiz, s)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	waitFor(t, allDone(e, 1))
	if st := e.Status(); st.Scans != 1 || st.Signals != 0 {
		t.Fatalf("after cold start: scans=%d signals=%d, want 1/0", st.Scans, st.Signals)
	}

	if _, err := doc.Remove("#q1"); err != nil {
		t.Fatal(err)
	}
	err := doc.AppendHTML("#quiz", `<div class="stepcontent" id="q2">
  <div class="questionText">Pick four</div>
  <label><input type="radio" name="q2" id="q2a">4</label>
</div>`)
	if err != nil {
		t.Fatal(err)
	}

	waitFor(t, allDone(e, 2))
	st := e.Status()
	if st.Signals != 1 {
		t.Fatalf("signals = %d, want 1 (removed-only batch must not signal)", st.Signals)
	}
	if st.Scans != 2 {
		t.Fatalf("scans = %d, want 2", st.Scans)
	}
	if !checked(t, doc, "q2a") {
		t.Fatal("inserted container was not answered")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
	e.Wait()
	if e.Status().Running {
		t.Fatal("engine still reports running after Run returned")
	}
}

func TestConfidenceGate(t *testing.T) {
	tests := []struct {
		confidence float64
		selected   bool
		result     Result
	}{
		{0.6, false, ResultBelowGate},
		{0.61, true, ResultApplied},
	}
	for _, tt := range tests {
		e, doc := newEngine(t, config.ModeAutonomous, arithmeticQuiz, answering("4", tt.confidence))
		if _, err := e.Rescan(context.Background()); err != nil {
			t.Fatal(err)
		}
		e.Wait()

		if got := checked(t, doc, "q1a"); got != tt.selected {
			t.Errorf("confidence %.2f: q1a checked = %v, want %v", tt.confidence, got, tt.selected)
		}
		outs := e.Outcomes()
		if len(outs) != 1 || outs[0].Result != tt.result {
			t.Errorf("confidence %.2f: outcomes = %+v, want result %s", tt.confidence, outs, tt.result)
		}
		if !tt.selected && len(doc.Events()) != 0 {
			t.Errorf("confidence %.2f: unexpected events %v", tt.confidence, doc.Events())
		}
	}
}

func TestAutonomousEndToEnd(t *testing.T) {
	e, doc := newEngine(t, config.ModeAutonomous, arithmeticQuiz, answering("4", 0.95))
	if _, err := e.Rescan(context.Background()); err != nil {
		t.Fatal(err)
	}
	e.Wait()

	if !checked(t, doc, "q1a") {
		t.Fatal("control linked to label 4 not chosen")
	}
	for _, id := range []string{"q1b", "q1c"} {
		if checked(t, doc, id) {
			t.Errorf("%s should be untouched", id)
		}
	}
	events := doc.Events()
	want := []memdoc.Event{{Type: "click", ID: "q1a", Tag: "input"}, {Type: "change", ID: "q1a", Tag: "input"}}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d = %v, want %v", i, events[i], want[i])
		}
	}
	results, _ := doc.QueryAll("." + render.ClassResult)
	if len(results) != 0 {
		t.Fatal("autonomous mode must not render a result area")
	}
	o := e.Outcomes()[0]
	if o.Selected != "4" || o.Via != "label" {
		t.Errorf("outcome selected=%q via=%q", o.Selected, o.Via)
	}
}

func TestInteractiveEndToEnd(t *testing.T) {
	e, doc := newEngine(t, config.ModeInteractive, arithmeticQuiz, answering("4", 0.95))
	if _, err := e.Rescan(context.Background()); err != nil {
		t.Fatal(err)
	}
	e.Wait()

	highlighted, err := doc.QueryAll("label.smart-answer-highlight")
	if err != nil {
		t.Fatal(err)
	}
	if len(highlighted) != 1 {
		t.Fatalf("%d highlighted labels, want 1", len(highlighted))
	}
	if text, _ := highlighted[0].Text(); text != "4" {
		t.Fatalf("highlighted label %q, want 4", text)
	}
	if checked(t, doc, "q1a") {
		t.Fatal("interactive mode must not select")
	}

	areas, _ := doc.QueryAll("#q1 ." + render.ClassResult)
	if len(areas) != 1 {
		t.Fatalf("%d result areas, want 1", len(areas))
	}
	text, _ := areas[0].Text()
	if !strings.Contains(text, "Answer: 4") || !strings.Contains(text, "Confidence: 95%") {
		t.Fatalf("result text %q", text)
	}
	o := e.Outcomes()[0]
	if o.Rendered != "Answer: 4\nConfidence: 95%" {
		t.Fatalf("rendered %q", o.Rendered)
	}
	if o.Result != ResultShown || !o.Highlighted || o.Question != "What is 2+2?" {
		t.Fatalf("outcome %+v", o)
	}
	if len(o.Options) != 3 || o.Options[0] != "4" || o.OptionSource != "labels" {
		t.Fatalf("options %v from %s", o.Options, o.OptionSource)
	}
}

func TestLabelDocumentOrderDecides(t *testing.T) {
	tests := []struct {
		name   string
		labels [2]string
		want   string
	}{
		{"long first", [2]string{"Paris, France", "Paris"}, "c0"},
		{"short first", [2]string{"Paris", "Paris, France"}, "c0"},
	}
	for _, tt := range tests {
		markup := `<html><body><div class="takeQuestionDiv">
<div class="questionText">Capital of France?</div>
<input type="radio" name="cap" id="c0"><label for="c0">` + tt.labels[0] + `</label>
<input type="radio" name="cap" id="c1"><label for="c1">` + tt.labels[1] + `</label>
</div></body></html>`
		e, doc := newEngine(t, config.ModeAutonomous, markup, answering("Paris", 0.9))
		if _, err := e.Rescan(context.Background()); err != nil {
			t.Fatal(err)
		}
		e.Wait()
		if !checked(t, doc, tt.want) {
			t.Errorf("%s: first label in document order not chosen", tt.name)
		}
		if o := e.Outcomes()[0]; o.Selected != tt.labels[0] {
			t.Errorf("%s: selected %q, want %q", tt.name, o.Selected, tt.labels[0])
		}
	}
}

func TestDanglingLabelLinkAbortsSearch(t *testing.T) {
	markup := `<html><body><div class="takeQuestionDiv">
<div class="questionText">Pick 4</div>
<label for="missing">4</label>
<label for="x1">4 again</label>
<span><input type="radio" name="x" id="x1"> 4</span>
</div></body></html>`
	e, doc := newEngine(t, config.ModeAutonomous, markup, answering("4", 0.9))
	if _, err := e.Rescan(context.Background()); err != nil {
		t.Fatal(err)
	}
	e.Wait()

	if checked(t, doc, "x1") {
		t.Fatal("search fell through past a dangling label")
	}
	o := e.Outcomes()[0]
	if o.Result != ResultNoMatch {
		t.Fatalf("result %s, want %s", o.Result, ResultNoMatch)
	}
}

func TestUnusableRecordSkipsSolver(t *testing.T) {
	tests := []struct {
		name   string
		markup string
		msg    string
	}{
		{
			"no options",
			`<html><body><div class="takeQuestionDiv" id="c"><div class="questionText">Anything?</div><label>  </label></div></body></html>`,
			NoOptionsText,
		},
		{
			"no question",
			`<html><body><div class="takeQuestionDiv" id="c"><div class="questionText">   </div><label><input type="radio">A</label></div></body></html>`,
			NoQuestionText,
		},
	}
	for _, tt := range tests {
		s := answering("A", 0.9)
		e, doc := newEngine(t, config.ModeInteractive, tt.markup, s)
		if _, err := e.Rescan(context.Background()); err != nil {
			t.Fatal(err)
		}
		e.Wait()

		if s.Calls() != 0 {
			t.Errorf("%s: solver called %d times", tt.name, s.Calls())
		}
		o := e.Outcomes()[0]
		if o.Result != ResultUnusable || o.Rendered != tt.msg {
			t.Errorf("%s: outcome %+v", tt.name, o)
		}
		areas, _ := doc.QueryAll("#c ." + render.ClassError)
		if len(areas) != 1 {
			t.Errorf("%s: error area not rendered", tt.name)
		}
	}
}

func TestSolveFailure(t *testing.T) {
	srv := solvertest.New()
	defer srv.Close()
	srv.SetResponder(solvertest.Status(500))
	client := solver.NewClient(srv.SolveURL(), 5*time.Second)

	e, doc := newEngine(t, config.ModeInteractive, arithmeticQuiz, client)
	if _, err := e.Rescan(context.Background()); err != nil {
		t.Fatal(err)
	}
	e.Wait()

	o := e.Outcomes()[0]
	if o.Result != ResultSolveFailed {
		t.Fatalf("result %s", o.Result)
	}
	if !strings.HasPrefix(o.Rendered, "Error: ") || !strings.HasSuffix(o.Rendered, ". Is backend running?") {
		t.Fatalf("rendered %q", o.Rendered)
	}
	areas, _ := doc.QueryAll("." + render.ClassError)
	if len(areas) != 1 {
		t.Fatal("error state not rendered")
	}
	if len(srv.Requests()) != 1 {
		t.Fatalf("solver saw %d requests, want 1", len(srv.Requests()))
	}

	auto, adoc := newEngine(t, config.ModeAutonomous, arithmeticQuiz, client)
	if _, err := auto.Rescan(context.Background()); err != nil {
		t.Fatal(err)
	}
	auto.Wait()
	if areas, _ := adoc.QueryAll("." + render.ClassResult); len(areas) != 0 {
		t.Fatal("autonomous failure must stay silent")
	}
}

func TestAlreadyChosenControlIsNotReactivated(t *testing.T) {
	markup := strings.Replace(arithmeticQuiz, `id="q1a">`, `id="q1a" checked>`, 1)
	e, doc := newEngine(t, config.ModeAutonomous, markup, answering("4", 0.9))
	if _, err := e.Rescan(context.Background()); err != nil {
		t.Fatal(err)
	}
	e.Wait()

	if len(doc.Events()) != 0 {
		t.Fatalf("events %v, want none", doc.Events())
	}
	if o := e.Outcomes()[0]; o.Result != ResultAlreadyChosen {
		t.Fatalf("result %s", o.Result)
	}
}

func TestStaleContainerFailsQuietly(t *testing.T) {
	release := make(chan struct{})
	s := &fakeSolver{judge: func(extract.Record) (solver.Judgment, error) {
		<-release
		opt := "4"
		return solver.Judgment{Answer: opt, MatchedOption: &opt, Confidence: 0.9}, nil
	}}
	e, doc := newEngine(t, config.ModeAutonomous, arithmeticQuiz, s)
	if _, err := e.Rescan(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return s.Calls() == 1 })
	if _, err := doc.Remove("#q1"); err != nil {
		t.Fatal(err)
	}
	close(release)
	e.Wait()

	o := e.Outcomes()[0]
	if o.Result != ResultNoMatch {
		t.Fatalf("result %s, want %s", o.Result, ResultNoMatch)
	}
	if !strings.Contains(o.Error, dom.ErrStale.Error()) {
		t.Fatalf("error %q, want a stale-reference failure", o.Error)
	}
}

func TestPanicInPipelineIsContained(t *testing.T) {
	s := &fakeSolver{judge: func(rec extract.Record) (solver.Judgment, error) {
		if strings.HasPrefix(rec.Question, "Boom") {
			panic("solver exploded")
		}
		opt := "A"
		return solver.Judgment{Answer: opt, MatchedOption: &opt, Confidence: 0.9}, nil
	}}
	markup := `<html><body>
<div class="takeQuestionDiv"><p class="questionText">Boom?</p><label><input type="radio" id="a1">A</label></div>
<div class="takeQuestionDiv"><p class="questionText">Fine?</p><label><input type="radio" id="b1">A</label></div>
</body></html>`
	e, doc := newEngine(t, config.ModeAutonomous, markup, s)
	if _, err := e.Rescan(context.Background()); err != nil {
		t.Fatal(err)
	}
	e.Wait()

	if !checked(t, doc, "b1") {
		t.Fatal("healthy container not answered after sibling panic")
	}
	st := e.Status()
	if st.ByResult[ResultFailed] != 1 || st.ByResult[ResultApplied] != 1 {
		t.Fatalf("status %+v", st)
	}
}

func TestInteractivePanicLeavesErrorShown(t *testing.T) {
	s := &fakeSolver{judge: func(extract.Record) (solver.Judgment, error) {
		panic("solver exploded")
	}}
	e, doc := newEngine(t, config.ModeInteractive, arithmeticQuiz, s)
	if _, err := e.Rescan(context.Background()); err != nil {
		t.Fatal(err)
	}
	e.Wait()

	o := e.Outcomes()[0]
	if o.Result != ResultFailed || o.Rendered != FailedText {
		t.Fatalf("outcome %+v", o)
	}
	areas, _ := doc.QueryAll("#q1 ." + render.ClassError)
	if len(areas) != 1 {
		t.Fatalf("%d error areas, want 1", len(areas))
	}
	if text, _ := areas[0].Text(); text != FailedText {
		t.Fatalf("area text %q, want %q", text, FailedText)
	}
	if loading, _ := doc.QueryAll("." + render.ClassLoading); len(loading) != 0 {
		t.Fatal("area left in loading state")
	}
}

func TestResultAreaTextIsNotAnOption(t *testing.T) {
	markup := `<html><body>
<div class="takeQuestionDiv" id="q1"><div class="questionText">Ready?</div><input type="radio" id="y">Yes<input type="radio" id="n">No</div>
</body></html>`
	e, doc := newEngine(t, config.ModeInteractive, markup, answering("Thinking", 0.9))
	if _, err := e.Rescan(context.Background()); err != nil {
		t.Fatal(err)
	}
	e.Wait()

	o := e.Outcomes()[0]
	if o.Result != ResultShown {
		t.Fatalf("result %s", o.Result)
	}
	if o.Highlighted || o.Selected != "" {
		t.Fatalf("loading text matched as an option: %+v", o)
	}
	if marked, _ := doc.QueryAll(".smart-answer-highlight"); len(marked) != 0 {
		t.Fatalf("%d highlighted nodes, want 0", len(marked))
	}
}

func TestFactsRecorded(t *testing.T) {
	facts, err := mangle.NewEngine(config.MangleConfig{Enable: true, FactBufferLimit: 256}, nil)
	if err != nil {
		t.Fatalf("mangle: %v", err)
	}
	tr := &traceSpy{}
	e, _ := newEngine(t, config.ModeAutonomous, arithmeticQuiz, answering("4", 0.95), WithFacts(facts), WithTracer(tr))
	if _, err := e.Rescan(context.Background()); err != nil {
		t.Fatal(err)
	}
	e.Wait()

	id := e.Outcomes()[0].ID
	answered, err := facts.Query(context.Background(), "answered(C, O).")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(answered) != 1 || answered[0]["C"] != id || answered[0]["O"] != "4" {
		t.Fatalf("answered = %v", answered)
	}
	settled, err := facts.Evaluate(context.Background(), "settled")
	if err != nil {
		t.Fatal(err)
	}
	if len(settled) != 1 {
		t.Fatalf("settled = %v", settled)
	}
	inFlight, err := facts.Evaluate(context.Background(), "in_flight")
	if err != nil {
		t.Fatal(err)
	}
	if len(inFlight) != 0 {
		t.Fatalf("in_flight = %v", inFlight)
	}

	want := []string{"container_claimed", "question_extracted", "judgment_received", "answer_applied"}
	got := tr.types()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("trace = %v, want %v", got, want)
	}
}

type traceSpy struct {
	mu     sync.Mutex
	events []string
}

func (s *traceSpy) Log(eventType, containerID string, data interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, eventType)
}

func (s *traceSpy) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}
