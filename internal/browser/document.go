package browser

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"smartanswer/internal/dom"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

//go:embed observer.js
var observerJS string

// BindingName is the page global the injected observer reports through.
const BindingName = "__smartAnswerBinding"

// clickTimeout bounds a native click, which waits for the control to be
// interactable.
const clickTimeout = 5 * time.Second

var (
	_ dom.Document = (*Document)(nil)
	_ dom.Node     = (*element)(nil)
)

// Document adapts a live Rod page to dom.Document.
type Document struct {
	page   *rod.Page
	logger *slog.Logger
}

// NewDocument wraps page.
func NewDocument(page *rod.Page, logger *slog.Logger) *Document {
	if logger == nil {
		logger = slog.Default()
	}
	return &Document{page: page, logger: logger}
}

// Page exposes the underlying page.
func (d *Document) Page() *rod.Page {
	return d.page
}

// QueryAll implements dom.Document. It never waits for matches to appear.
func (d *Document) QueryAll(selector string) ([]dom.Node, error) {
	els, err := d.page.Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}
	return d.wrap(els), nil
}

// ByID implements dom.Document using getElementById, so the first element in
// document order wins.
func (d *Document) ByID(id string) (dom.Node, error) {
	if id == "" {
		return nil, dom.ErrNoNode
	}
	found, err := d.page.Eval(`(id) => document.getElementById(id) !== null`, id)
	if err != nil {
		return nil, fmt.Errorf("lookup id %q: %w", id, err)
	}
	if !found.Value.Bool() {
		return nil, dom.ErrNoNode
	}
	el, err := d.page.Sleeper(rod.NotFoundSleeper).ElementByJS(rod.Eval(`(id) => document.getElementById(id)`, id))
	if err != nil {
		return nil, dom.ErrNoNode
	}
	return &element{doc: d, el: el}, nil
}

type bindingPayload struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
}

// Subscribe implements dom.Document. A MutationObserver injected into the
// page (and into every document the page navigates to) reports each
// callback's record batch through a CDP binding.
func (d *Document) Subscribe(ctx context.Context) (<-chan dom.Batch, error) {
	if err := (proto.RuntimeAddBinding{Name: BindingName}).Call(d.page); err != nil {
		return nil, fmt.Errorf("add binding: %w", err)
	}

	ch := make(chan dom.Batch, 64)
	wait := d.page.Context(ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != BindingName {
			return
		}
		var p bindingPayload
		if err := json.Unmarshal([]byte(e.Payload), &p); err != nil {
			d.logger.Warn("parse observer payload", "error", err)
			return
		}
		select {
		case ch <- dom.Batch{Added: p.Added, Removed: p.Removed}:
		case <-ctx.Done():
		}
	})
	go func() {
		wait()
		close(ch)
	}()

	if _, err := d.page.EvalOnNewDocument("(" + observerJS + ")()"); err != nil {
		return nil, fmt.Errorf("install observer on new documents: %w", err)
	}
	if _, err := d.page.Eval(observerJS); err != nil {
		return nil, fmt.Errorf("install observer: %w", err)
	}
	return ch, nil
}

func (d *Document) wrap(els rod.Elements) []dom.Node {
	out := make([]dom.Node, len(els))
	for i, el := range els {
		out[i] = &element{doc: d, el: el}
	}
	return out
}

// element adapts a *rod.Element to dom.Node.
type element struct {
	doc *Document
	el  *rod.Element
}

func (e *element) evalBool(js string, args ...interface{}) (bool, error) {
	res, err := e.el.Eval(js, args...)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

func (e *element) evalString(js string, args ...interface{}) (string, error) {
	res, err := e.el.Eval(js, args...)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

// live fails with dom.ErrStale once the element has left the document.
func (e *element) live() error {
	connected, err := e.evalBool(`() => this.isConnected`)
	if err != nil {
		return fmt.Errorf("%w: %v", dom.ErrStale, err)
	}
	if !connected {
		return dom.ErrStale
	}
	return nil
}

func (e *element) QueryAll(selector string) ([]dom.Node, error) {
	if err := e.live(); err != nil {
		return nil, err
	}
	els, err := e.el.Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}
	return e.doc.wrap(els), nil
}

func (e *element) Attr(name string) (string, bool, error) {
	v, err := e.el.Attribute(name)
	if err != nil {
		return "", false, fmt.Errorf("read attribute %s: %w", name, err)
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

func (e *element) SetAttr(name, value string) error {
	if err := e.live(); err != nil {
		return err
	}
	if _, err := e.el.Eval(`(n, v) => this.setAttribute(n, v)`, name, value); err != nil {
		return fmt.Errorf("set attribute %s: %w", name, err)
	}
	return nil
}

func (e *element) Text() (string, error) {
	text, err := e.evalString(`() => this.innerText || ""`)
	if err != nil {
		return "", fmt.Errorf("read text: %w", err)
	}
	return text, nil
}

func (e *element) NextSiblingText() (string, error) {
	text, err := e.evalString(`() => this.nextSibling ? (this.nextSibling.textContent || "") : ""`)
	if err != nil {
		return "", fmt.Errorf("read sibling text: %w", err)
	}
	return text, nil
}

func (e *element) Parent() (dom.Node, error) {
	has, err := e.evalBool(`() => this.parentElement !== null`)
	if err != nil {
		return nil, fmt.Errorf("read parent: %w", err)
	}
	if !has {
		return nil, dom.ErrNoNode
	}
	parent, err := e.el.Parent()
	if err != nil {
		return nil, fmt.Errorf("read parent: %w", err)
	}
	return &element{doc: e.doc, el: parent}, nil
}

func (e *element) Checked() (bool, error) {
	v, err := e.el.Property("checked")
	if err != nil {
		return false, fmt.Errorf("read checked: %w", err)
	}
	return v.Bool(), nil
}

// Activate performs a native left click. Controls the browser refuses to
// click (hidden inputs behind styled labels) fall back to a scripted click.
func (e *element) Activate() error {
	if err := e.live(); err != nil {
		return err
	}
	if err := e.el.Timeout(clickTimeout).Click(proto.InputMouseButtonLeft, 1); err != nil {
		e.doc.logger.Debug("native click failed, using element.click()", "error", err)
		if _, jsErr := e.el.Eval(`() => this.click()`); jsErr != nil {
			return fmt.Errorf("click: %w (scripted: %v)", err, jsErr)
		}
	}
	return nil
}

func (e *element) Dispatch(eventType string) error {
	_, err := e.el.Eval(`(t) => this.dispatchEvent(new Event(t, { bubbles: true }))`, eventType)
	if err != nil {
		return fmt.Errorf("dispatch %s: %w", eventType, err)
	}
	return nil
}

func (e *element) AppendElement(tag string) (dom.Node, error) {
	child, err := e.el.ElementByJS(rod.Eval(`(t) => this.appendChild(document.createElement(t))`, tag))
	if err != nil {
		return nil, fmt.Errorf("append %s: %w", tag, err)
	}
	return &element{doc: e.doc, el: child}, nil
}

func (e *element) SetText(text string) error {
	if _, err := e.el.Eval(`(t) => { this.textContent = t; }`, text); err != nil {
		return fmt.Errorf("set text: %w", err)
	}
	return nil
}
