package memdoc

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// Supported selector grammar, a subset of CSS sufficient for question markup:
//   - selector lists separated by commas
//   - descendant combinator (whitespace)
//   - tag, .class, #id, [attr], [attr=val], [attr="val"]
//   - :not(<compound>)

type attrCond struct {
	key    string
	val    string
	hasVal bool
}

type compound struct {
	tag     string
	ids     []string
	classes []string
	attrs   []attrCond
	nots    []compound
}

// complexSel is a descendant chain; the last compound is the subject.
type complexSel []compound

type selectorList []complexSel

func parseSelectorList(s string) (selectorList, error) {
	parts := splitTopLevel(s, func(r rune) bool { return r == ',' })
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty selector")
	}
	list := make(selectorList, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("empty selector in list %q", s)
		}
		chain := splitTopLevel(part, isSpace)
		cs := make(complexSel, 0, len(chain))
		for _, c := range chain {
			if c == "" {
				continue
			}
			comp, err := parseCompound(c)
			if err != nil {
				return nil, fmt.Errorf("parse selector %q: %w", part, err)
			}
			cs = append(cs, comp)
		}
		list = append(list, cs)
	}
	return list, nil
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\f'
}

// splitTopLevel splits s on runes accepted by sep that are not nested inside
// brackets, parentheses or quotes.
func splitTopLevel(s string, sep func(rune) bool) []string {
	var (
		out   []string
		depth int
		quote rune
		start int
	)
	for i, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '[' || r == '(':
			depth++
		case r == ']' || r == ')':
			depth--
		case depth == 0 && sep(r):
			out = append(out, s[start:i])
			start = i + len(string(r))
		}
	}
	out = append(out, s[start:])
	trimmed := out[:0]
	for _, p := range out {
		if strings.TrimSpace(p) != "" {
			trimmed = append(trimmed, strings.TrimSpace(p))
		}
	}
	return trimmed
}

func parseCompound(s string) (compound, error) {
	var c compound
	i := 0
	readIdent := func() string {
		start := i
		for i < len(s) {
			ch := s[i]
			if ch == '.' || ch == '#' || ch == '[' || ch == ':' {
				break
			}
			i++
		}
		return s[start:i]
	}

	if i < len(s) && s[i] != '.' && s[i] != '#' && s[i] != '[' && s[i] != ':' {
		tag := readIdent()
		if tag != "*" {
			c.tag = strings.ToLower(tag)
		}
	}

	for i < len(s) {
		switch s[i] {
		case '.':
			i++
			name := readIdent()
			if name == "" {
				return c, fmt.Errorf("empty class name")
			}
			c.classes = append(c.classes, name)
		case '#':
			i++
			name := readIdent()
			if name == "" {
				return c, fmt.Errorf("empty id")
			}
			c.ids = append(c.ids, name)
		case '[':
			end := closing(s, i, '[', ']')
			if end < 0 {
				return c, fmt.Errorf("unterminated attribute selector")
			}
			c.attrs = append(c.attrs, parseAttr(s[i+1:end]))
			i = end + 1
		case ':':
			if !strings.HasPrefix(s[i:], ":not(") {
				return c, fmt.Errorf("unsupported pseudo-class in %q", s[i:])
			}
			open := i + len(":not")
			end := closing(s, open, '(', ')')
			if end < 0 {
				return c, fmt.Errorf("unterminated :not()")
			}
			inner, err := parseCompound(strings.TrimSpace(s[open+1 : end]))
			if err != nil {
				return c, err
			}
			c.nots = append(c.nots, inner)
			i = end + 1
		default:
			return c, fmt.Errorf("unexpected %q", s[i])
		}
	}
	return c, nil
}

// closing returns the index of the bracket closing the one at s[open],
// ignoring brackets inside quotes.
func closing(s string, open int, left, right byte) int {
	depth := 0
	var quote byte
	for i := open; i < len(s); i++ {
		ch := s[i]
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			}
		case ch == '"' || ch == '\'':
			quote = ch
		case ch == left:
			depth++
		case ch == right:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func parseAttr(body string) attrCond {
	key, val, hasVal := strings.Cut(body, "=")
	cond := attrCond{key: strings.ToLower(strings.TrimSpace(key))}
	if hasVal {
		cond.hasVal = true
		cond.val = strings.Trim(strings.TrimSpace(val), `"'`)
	}
	return cond
}

func (l selectorList) matches(n *html.Node) bool {
	for _, cs := range l {
		if cs.matches(n) {
			return true
		}
	}
	return false
}

func (cs complexSel) matches(n *html.Node) bool {
	if len(cs) == 0 || !cs[len(cs)-1].matches(n) {
		return false
	}
	// Descendant combinators only, so greedy right-to-left matching is exact.
	idx := len(cs) - 2
	for p := n.Parent; p != nil && idx >= 0; p = p.Parent {
		if cs[idx].matches(p) {
			idx--
		}
	}
	return idx < 0
}

func (c compound) matches(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	if c.tag != "" && n.Data != c.tag {
		return false
	}
	for _, id := range c.ids {
		if v, ok := attr(n, "id"); !ok || v != id {
			return false
		}
	}
	if len(c.classes) > 0 {
		v, _ := attr(n, "class")
		have := strings.Fields(v)
		for _, want := range c.classes {
			if !containsString(have, want) {
				return false
			}
		}
	}
	for _, a := range c.attrs {
		v, ok := attr(n, a.key)
		if !ok || (a.hasVal && v != a.val) {
			return false
		}
	}
	for _, not := range c.nots {
		if not.matches(n) {
			return false
		}
	}
	return true
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			continue
		}
		out = append(out, a)
	}
	n.Attr = out
}

// queryAll walks the subtree below root (excluding root) in document order.
func queryAll(root *html.Node, sel selectorList) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if sel.matches(c) {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(root)
	return out
}
