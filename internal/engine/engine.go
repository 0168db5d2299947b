// Package engine watches a document for question containers, claims each one
// exactly once and runs it through extract -> solve -> render or apply.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"smartanswer/internal/config"
	"smartanswer/internal/dom"
	"smartanswer/internal/extract"
	"smartanswer/internal/mangle"
	"smartanswer/internal/match"
	"smartanswer/internal/render"
	"smartanswer/internal/solver"
)

// ConfidenceGate is the autonomous-mode threshold. A judgment is acted on
// only when its confidence is strictly greater.
const ConfidenceGate = 0.6

// FactSink receives pipeline facts. *mangle.Engine satisfies it.
type FactSink interface {
	AddFacts(ctx context.Context, facts []mangle.Fact) error
}

// Tracer receives one event per pipeline stage. *recorder.Recorder satisfies it.
type Tracer interface {
	Log(eventType, containerID string, data interface{})
}

// Option customises an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithFacts records pipeline facts into sink.
func WithFacts(sink FactSink) Option {
	return func(e *Engine) { e.facts = sink }
}

// WithTracer records pipeline events into t.
func WithTracer(t Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// Engine is one watcher over one document. Engines share nothing, so any
// number of them may run side by side.
type Engine struct {
	cfg       config.EngineConfig
	doc       dom.Document
	solver    solver.Solver
	extractor *extract.Extractor
	matcher   *match.Matcher

	logger *slog.Logger
	facts  FactSink
	tracer Tracer

	// scanMu serialises scans so a claim is never interleaved with another
	// scan's query.
	scanMu sync.Mutex
	wg     sync.WaitGroup

	mu       sync.RWMutex
	running  bool
	scans    int
	signals  int
	outcomes map[string]*Outcome
	order    []string
}

// New builds an engine over doc using s as the remote solver.
func New(cfg config.EngineConfig, doc dom.Document, s solver.Solver, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("engine: document is required")
	}
	if s == nil {
		return nil, fmt.Errorf("engine: solver is required")
	}

	e := &Engine{
		cfg:    cfg,
		doc:    doc,
		solver: s,
		extractor: extract.New(extract.Selectors{
			Question: cfg.QuestionSelector(),
			Label:    cfg.LabelSelector,
			Control:  cfg.ControlSelector,
		}),
		matcher: &match.Matcher{
			Doc:             doc,
			LabelSelector:   cfg.LabelSelector,
			ControlSelector: cfg.ControlSelector,
			ExcludeSelector: "." + render.ClassResult,
		},
		logger:   slog.Default(),
		outcomes: make(map[string]*Outcome),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("mode", cfg.Mode)
	return e, nil
}

// Mode returns the configured operating mode.
func (e *Engine) Mode() string {
	return e.cfg.Mode
}

// Wait blocks until every claimed container has finished its pipeline.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Outcomes returns a snapshot of every claimed container, oldest claim first.
func (e *Engine) Outcomes() []Outcome {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Outcome, 0, len(e.order))
	for _, id := range e.order {
		o := *e.outcomes[id]
		o.Options = append([]string(nil), o.Options...)
		out = append(out, o)
	}
	return out
}

// Outcome returns the record for one container id.
func (e *Engine) Outcome(id string) (Outcome, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	o, ok := e.outcomes[id]
	if !ok {
		return Outcome{}, false
	}
	out := *o
	out.Options = append([]string(nil), o.Options...)
	return out, true
}

// Status summarises the engine.
type Status struct {
	Mode     string         `json:"mode"`
	Running  bool           `json:"running"`
	Scans    int            `json:"scans"`
	Signals  int            `json:"signals"`
	Claimed  int            `json:"claimed"`
	InFlight int            `json:"in_flight"`
	ByResult map[Result]int `json:"by_result"`
}

// Status returns counters over the engine's lifetime.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st := Status{
		Mode:     e.cfg.Mode,
		Running:  e.running,
		Scans:    e.scans,
		Signals:  e.signals,
		Claimed:  len(e.order),
		ByResult: make(map[Result]int),
	}
	for _, o := range e.outcomes {
		if o.Result == ResultPending {
			st.InFlight++
			continue
		}
		st.ByResult[o.Result]++
	}
	return st
}

func (e *Engine) register(o *Outcome) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.outcomes[o.ID] = o
	e.order = append(e.order, o.ID)
}

func (e *Engine) update(id string, fn func(o *Outcome)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if o, ok := e.outcomes[id]; ok {
		fn(o)
	}
}

func (e *Engine) emit(ctx context.Context, id, predicate string, args ...interface{}) {
	if e.facts != nil {
		fact := mangle.Fact{
			Predicate: predicate,
			Args:      append([]interface{}{id}, args...),
			Timestamp: time.Now(),
		}
		if err := e.facts.AddFacts(ctx, []mangle.Fact{fact}); err != nil {
			e.logger.Warn("record fact failed", "predicate", predicate, "container", id, "error", err)
		}
	}
	if e.tracer != nil {
		e.tracer.Log(predicate, id, args)
	}
}
