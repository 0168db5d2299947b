package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"smartanswer/internal/dom"
	"smartanswer/internal/extract"
	"smartanswer/internal/match"
	"smartanswer/internal/render"
	"smartanswer/internal/solver"
)

// Messages shown in the result area when no answer can be given.
const (
	NoQuestionText = "Could not detect question text."
	NoOptionsText  = "Could not detect answer options."
	FailedText     = "Error: could not answer this question."
)

// process runs one claimed container to completion. It is never cancelled:
// a solve in flight is allowed to finish even if the engine stops watching,
// and a stale container simply makes later DOM calls fail.
func (e *Engine) process(ctx context.Context, c claim) {
	defer e.wg.Done()
	ctx = context.WithoutCancel(ctx)
	log := e.logger.With("container", c.id)

	var area *render.Area
	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline panic", "panic", r)
			e.emit(ctx, c.id, "answer_skipped", "panic")
			rendered := ""
			if area != nil {
				if err := area.Fail(FailedText); err != nil {
					log.Warn("render failed", "error", err)
				} else {
					rendered = FailedText
				}
			}
			e.finish(c.id, ResultFailed, func(o *Outcome) {
				o.Error = fmt.Sprint(r)
				o.Rendered = rendered
			})
		}
	}()

	if !e.cfg.Autonomous() {
		a, err := render.Mount(c.node)
		if err != nil {
			log.Warn("mount result area failed", "error", err)
		}
		area = a
	}

	res, err := e.extractor.Extract(c.node)
	e.update(c.id, func(o *Outcome) {
		o.Question = res.Record.Question
		o.Options = res.Record.Options
		o.QuestionSource = res.QuestionSource
		o.OptionSource = res.OptionSource
	})
	if err != nil {
		log.Info("record unusable", "error", err)
		e.emit(ctx, c.id, "extraction_failed", err.Error())
		msg := unusableText(err)
		if area != nil {
			if ferr := area.Fail(msg); ferr != nil {
				log.Warn("render failed", "error", ferr)
			}
		}
		e.finish(c.id, ResultUnusable, func(o *Outcome) {
			o.Error = err.Error()
			if area != nil {
				o.Rendered = msg
			}
		})
		return
	}
	e.emit(ctx, c.id, "question_extracted", res.Record.Question, len(res.Record.Options))

	if area != nil {
		if err := area.Loading(); err != nil {
			log.Warn("render failed", "error", err)
		}
	}

	j, err := e.solver.Solve(ctx, res.Record)
	if err != nil {
		log.Warn("solve failed", "error", err)
		e.emit(ctx, c.id, "solve_failed", err.Error())
		msg := render.SolveErrorText(err)
		if area != nil {
			if ferr := area.Fail(msg); ferr != nil {
				log.Warn("render failed", "error", ferr)
			}
		}
		e.finish(c.id, ResultSolveFailed, func(o *Outcome) {
			o.Error = err.Error()
			if area != nil {
				o.Rendered = msg
			}
		})
		return
	}
	log.Info("judgment received", "answer", j.Answer, "matched_option", j.Matched(), "confidence", j.Confidence)
	if j.RawResponse != "" {
		log.Debug("solver raw response", "raw", j.RawResponse)
	}
	e.emit(ctx, c.id, "judgment_received", j.Answer, j.Confidence)
	e.update(c.id, func(o *Outcome) {
		o.Answer = j.Answer
		o.MatchedOption = j.Matched()
		o.Confidence = j.Confidence
	})

	if e.cfg.Autonomous() {
		e.apply(ctx, c, j)
		return
	}
	e.show(ctx, c, area, j)
}

// show renders the judgment and highlights the matched option. The match is
// resolved before the answer is written, and the matcher skips the result
// area's text, so the area can never be mistaken for an option.
func (e *Engine) show(ctx context.Context, c claim, area *render.Area, j solver.Judgment) {
	log := e.logger.With("container", c.id)

	m, merr := e.matcher.Find(c.node, j.Matched())
	if merr != nil {
		log.Debug("nothing to highlight", "error", merr)
	}

	text := render.FinalText(j.Answer, j.Percent())
	if area != nil {
		if err := area.Final(j.Answer, j.Percent()); err != nil {
			log.Warn("render failed", "error", err)
		}
	}

	highlighted := false
	if m != nil {
		if err := dom.AddClass(m.Anchor, e.cfg.HighlightClass); err != nil {
			log.Debug("highlight failed", "error", err)
		} else {
			highlighted = true
		}
	}

	e.emit(ctx, c.id, "answer_shown", j.Answer, j.Percent())
	e.finish(c.id, ResultShown, func(o *Outcome) {
		o.Rendered = text
		o.Highlighted = highlighted
		if m != nil {
			o.Selected = m.Text
			o.Via = string(m.Via)
		}
	})
}

// apply selects the matched control when the judgment clears the gate.
// Every failure here is logged only.
func (e *Engine) apply(ctx context.Context, c claim, j solver.Judgment) {
	log := e.logger.With("container", c.id)

	if j.Confidence <= ConfidenceGate {
		log.Info("confidence below gate, skipping", "confidence", j.Confidence)
		e.emit(ctx, c.id, "answer_skipped", "below_gate")
		e.finish(c.id, ResultBelowGate, nil)
		return
	}

	m, err := e.matcher.Find(c.node, j.Matched())
	if err != nil {
		if !errors.Is(err, match.ErrNotFound) && !errors.Is(err, match.ErrUnresolvedLabel) {
			log.Warn("match failed", "error", err)
		} else {
			log.Info("no matching option", "matched_option", j.Matched(), "error", err)
		}
		e.emit(ctx, c.id, "answer_skipped", "no_match")
		e.finish(c.id, ResultNoMatch, func(o *Outcome) { o.Error = err.Error() })
		return
	}

	activated, err := match.Activate(m.Control)
	if err != nil {
		log.Warn("activate failed", "error", err)
		e.emit(ctx, c.id, "answer_skipped", "activate_failed")
		e.finish(c.id, ResultFailed, func(o *Outcome) {
			o.Selected = m.Text
			o.Via = string(m.Via)
			o.Error = err.Error()
		})
		return
	}

	result := ResultApplied
	if !activated {
		result = ResultAlreadyChosen
	}
	log.Info("answer applied", "option", m.Text, "via", m.Via, "activated", activated)
	e.emit(ctx, c.id, "answer_applied", m.Text, string(m.Via))
	e.finish(c.id, result, func(o *Outcome) {
		o.Selected = m.Text
		o.Via = string(m.Via)
	})
}

func (e *Engine) finish(id string, result Result, fn func(o *Outcome)) {
	e.update(id, func(o *Outcome) {
		if fn != nil {
			fn(o)
		}
		o.Result = result
		o.FinishedAt = time.Now()
	})
}

func unusableText(err error) string {
	if errors.Is(err, extract.ErrNoQuestion) {
		return NoQuestionText
	}
	return NoOptionsText
}
