// Package dom defines the contract between the answer engine and the host
// document it observes. The engine never owns the tree: it queries it, reads
// rendered text, writes a handful of attributes and activates controls.
//
// Two substrates implement the contract: a live Chrome page driven through
// Rod (internal/browser) and an in-memory HTML tree (internal/dom/memdoc).
package dom

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNoNode is returned when a lookup has nothing to return (no parent,
	// no element with the requested id).
	ErrNoNode = errors.New("dom: no such node")
	// ErrStale is returned when a handle no longer points into the live tree.
	ErrStale = errors.New("dom: stale node reference")
)

// Batch summarises one delivery of structural-change notifications.
type Batch struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
}

// HasInsertions reports whether any entry of the batch added nodes.
func (b Batch) HasInsertions() bool {
	return b.Added > 0
}

// Document is the root of a host tree.
type Document interface {
	// QueryAll returns every element matching a CSS selector list, in
	// document order.
	QueryAll(selector string) ([]Node, error)
	// ByID returns the first element whose id attribute equals id, searching
	// the whole document. ErrNoNode when absent.
	ByID(id string) (Node, error)
	// Subscribe delivers structural-change batches for the document body
	// until ctx is done. Batches arrive in the order the host produced them.
	Subscribe(ctx context.Context) (<-chan Batch, error)
}

// Node is an opaque handle to an element of the host tree. Handles may go
// stale at any time; methods then fail with ErrStale (or a substrate error).
type Node interface {
	// QueryAll returns descendants matching a CSS selector list, in document order.
	QueryAll(selector string) ([]Node, error)
	// Attr reads an attribute; ok is false when it is not set.
	Attr(name string) (value string, ok bool, err error)
	SetAttr(name, value string) error
	// Text is the rendered text of the element (innerText semantics).
	Text() (string, error)
	// NextSiblingText is the raw text content of the immediately following
	// sibling node, which may be a text node. Empty when there is none.
	NextSiblingText() (string, error)
	// Parent returns the parent element, or ErrNoNode at the root.
	Parent() (Node, error)
	// Checked reads the chosen state of a selectable control.
	Checked() (bool, error)
	// Activate performs a native interaction (a click) on the element.
	Activate() error
	// Dispatch raises a synthetic bubbling event of the given type.
	Dispatch(eventType string) error
	// AppendElement creates a new child element with the given tag.
	AppendElement(tag string) (Node, error)
	// SetText replaces the element's children with a single text node.
	SetText(text string) error
}

// AddClass appends class to the element's class attribute unless present.
func AddClass(n Node, class string) error {
	current, _, err := n.Attr("class")
	if err != nil {
		return err
	}
	for _, c := range strings.Fields(current) {
		if c == class {
			return nil
		}
	}
	if current == "" {
		return n.SetAttr("class", class)
	}
	return n.SetAttr("class", current+" "+class)
}

// HasClass reports whether the element carries class.
func HasClass(n Node, class string) bool {
	current, _, err := n.Attr("class")
	if err != nil {
		return false
	}
	for _, c := range strings.Fields(current) {
		if c == class {
			return true
		}
	}
	return false
}
