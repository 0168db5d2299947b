// Package memdoc is an in-memory dom.Document backed by golang.org/x/net/html.
//
// It mirrors the parts of browser behaviour the engine depends on: CSS-style
// queries in document order, innerText-like rendered text, radio/checkbox
// checked state, and childList mutation batches delivered to subscribers.
// Handles to nodes that have been removed from the tree report dom.ErrStale.
package memdoc

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"smartanswer/internal/dom"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Event is a recorded interaction with an element: a native activation
// ("click") or a dispatched synthetic event.
type Event struct {
	Type string
	ID   string
	Tag  string
}

var (
	_ dom.Document = (*Document)(nil)
	_ dom.Node     = (*element)(nil)
)

// Document is a mutable HTML tree.
type Document struct {
	mu     sync.RWMutex
	root   *html.Node
	events []Event

	subMu sync.Mutex
	subs  map[int]*subscriber
	next  int
}

type subscriber struct {
	ctx context.Context
	ch  chan dom.Batch
}

// Parse builds a Document from an HTML stream.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Document{root: root, subs: make(map[int]*subscriber)}, nil
}

// ParseString builds a Document from an HTML string.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// QueryAll implements dom.Document.
func (d *Document) QueryAll(selector string) ([]dom.Node, error) {
	sel, err := parseSelectorList(selector)
	if err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.wrap(queryAll(d.root, sel)), nil
}

// ByID implements dom.Document.
func (d *Document) ByID(id string) (dom.Node, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var found *html.Node
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				if v, ok := attr(c, "id"); ok && v == id {
					found = c
					return true
				}
			}
			if walk(c) {
				return true
			}
		}
		return false
	}
	if id == "" || !walk(d.root) {
		return nil, dom.ErrNoNode
	}
	return &element{doc: d, n: found}, nil
}

// Subscribe implements dom.Document. The channel is closed when ctx is done.
func (d *Document) Subscribe(ctx context.Context) (<-chan dom.Batch, error) {
	ch := make(chan dom.Batch, 64)
	d.subMu.Lock()
	id := d.next
	d.next++
	d.subs[id] = &subscriber{ctx: ctx, ch: ch}
	d.subMu.Unlock()

	go func() {
		<-ctx.Done()
		d.subMu.Lock()
		delete(d.subs, id)
		close(ch)
		d.subMu.Unlock()
	}()
	return ch, nil
}

// Emit delivers a batch to every subscriber, as if the host had produced it.
func (d *Document) Emit(b dom.Batch) {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	for _, s := range d.subs {
		select {
		case s.ch <- b:
		case <-s.ctx.Done():
		}
	}
}

// AppendHTML parses fragment and appends it to the first element matching
// parentSelector, then emits one batch covering every inserted top-level node.
func (d *Document) AppendHTML(parentSelector, fragment string) error {
	sel, err := parseSelectorList(parentSelector)
	if err != nil {
		return err
	}
	d.mu.Lock()
	parents := queryAll(d.root, sel)
	if len(parents) == 0 {
		d.mu.Unlock()
		return fmt.Errorf("append html: no element matches %q", parentSelector)
	}
	parent := parents[0]
	nodes, err := html.ParseFragment(strings.NewReader(fragment), parent)
	if err != nil {
		d.mu.Unlock()
		return fmt.Errorf("parse fragment: %w", err)
	}
	for _, n := range nodes {
		parent.AppendChild(n)
	}
	d.mu.Unlock()

	d.Emit(dom.Batch{Added: len(nodes)})
	return nil
}

// Remove detaches every element matching selector and emits one batch.
func (d *Document) Remove(selector string) (int, error) {
	sel, err := parseSelectorList(selector)
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	removed := 0
	for _, n := range queryAll(d.root, sel) {
		// A match may already have left the tree with an ancestor.
		if n.Parent != nil && d.attached(n) {
			n.Parent.RemoveChild(n)
			removed++
		}
	}
	d.mu.Unlock()

	if removed > 0 {
		d.Emit(dom.Batch{Removed: removed})
	}
	return removed, nil
}

// Events returns a copy of every recorded interaction, oldest first.
func (d *Document) Events() []Event {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Event, len(d.events))
	copy(out, d.events)
	return out
}

// HTML renders the current tree.
func (d *Document) HTML() (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var b strings.Builder
	if err := html.Render(&b, d.root); err != nil {
		return "", err
	}
	return b.String(), nil
}

func (d *Document) wrap(nodes []*html.Node) []dom.Node {
	out := make([]dom.Node, len(nodes))
	for i, n := range nodes {
		out[i] = &element{doc: d, n: n}
	}
	return out
}

func (d *Document) attached(n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == d.root {
			return true
		}
	}
	return false
}

func (d *Document) record(n *html.Node, eventType string) {
	id, _ := attr(n, "id")
	d.events = append(d.events, Event{Type: eventType, ID: id, Tag: n.Data})
}

// element is a handle to one *html.Node of a Document.
type element struct {
	doc *Document
	n   *html.Node
}

func (e *element) read(fn func() error) error {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	if !e.doc.attached(e.n) {
		return dom.ErrStale
	}
	return fn()
}

func (e *element) write(fn func() error) error {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	if !e.doc.attached(e.n) {
		return dom.ErrStale
	}
	return fn()
}

func (e *element) QueryAll(selector string) ([]dom.Node, error) {
	sel, err := parseSelectorList(selector)
	if err != nil {
		return nil, err
	}
	var out []dom.Node
	err = e.read(func() error {
		out = e.doc.wrap(queryAll(e.n, sel))
		return nil
	})
	return out, err
}

func (e *element) Attr(name string) (string, bool, error) {
	var (
		val string
		ok  bool
	)
	err := e.read(func() error {
		val, ok = attr(e.n, strings.ToLower(name))
		return nil
	})
	return val, ok, err
}

func (e *element) SetAttr(name, value string) error {
	return e.write(func() error {
		setAttr(e.n, strings.ToLower(name), value)
		return nil
	})
}

func (e *element) Text() (string, error) {
	var text string
	err := e.read(func() error {
		text = renderedText(e.n)
		return nil
	})
	return text, err
}

func (e *element) NextSiblingText() (string, error) {
	var text string
	err := e.read(func() error {
		if s := e.n.NextSibling; s != nil {
			text = textContent(s)
		}
		return nil
	})
	return text, err
}

func (e *element) Parent() (dom.Node, error) {
	var parent *html.Node
	err := e.read(func() error {
		parent = e.n.Parent
		return nil
	})
	if err != nil {
		return nil, err
	}
	if parent == nil || parent.Type != html.ElementNode {
		return nil, dom.ErrNoNode
	}
	return &element{doc: e.doc, n: parent}, nil
}

func (e *element) Checked() (bool, error) {
	var checked bool
	err := e.read(func() error {
		_, checked = attr(e.n, "checked")
		return nil
	})
	return checked, err
}

// Activate clicks the element. Radios become checked and clear the other
// radios of their group; checkboxes toggle.
func (e *element) Activate() error {
	return e.write(func() error {
		if e.n.DataAtom == atom.Input {
			kind, _ := attr(e.n, "type")
			switch strings.ToLower(kind) {
			case "radio":
				name, _ := attr(e.n, "name")
				if name != "" {
					for _, other := range queryAll(e.doc.root, selectorList{{{tag: "input", attrs: []attrCond{{key: "name", val: name, hasVal: true}}}}}) {
						if t, _ := attr(other, "type"); strings.ToLower(t) == "radio" {
							removeAttr(other, "checked")
						}
					}
				}
				setAttr(e.n, "checked", "")
			case "checkbox":
				if _, on := attr(e.n, "checked"); on {
					removeAttr(e.n, "checked")
				} else {
					setAttr(e.n, "checked", "")
				}
			}
		}
		e.doc.record(e.n, "click")
		return nil
	})
}

func (e *element) Dispatch(eventType string) error {
	return e.write(func() error {
		e.doc.record(e.n, eventType)
		return nil
	})
}

func (e *element) AppendElement(tag string) (dom.Node, error) {
	tag = strings.ToLower(tag)
	child := &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
	err := e.write(func() error {
		e.n.AppendChild(child)
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.doc.Emit(dom.Batch{Added: 1})
	return &element{doc: e.doc, n: child}, nil
}

func (e *element) SetText(text string) error {
	var removed int
	err := e.write(func() error {
		for c := e.n.FirstChild; c != nil; {
			next := c.NextSibling
			e.n.RemoveChild(c)
			removed++
			c = next
		}
		if text != "" {
			e.n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
		}
		return nil
	})
	if err != nil {
		return err
	}
	b := dom.Batch{Removed: removed}
	if text != "" {
		b.Added = 1
	}
	if b.Added > 0 || b.Removed > 0 {
		e.doc.Emit(b)
	}
	return nil
}
