// Package locator finds host-page elements by heuristics: class name, text
// content and visibility. Class names on the host page are generated by its
// build tooling and change between deploys, so every lookup reports absence
// and ambiguity explicitly instead of guessing.
package locator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hazyhaar/gen4eva/page"
)

var (
	// ErrNotFound means the element does not exist yet. It is expected
	// during bootstrap polling and always retried.
	ErrNotFound = errors.New("locator: not found")
	// ErrAmbiguous means a uniqueness-constrained lookup matched more than
	// one element. It is never resolved by picking a candidate.
	ErrAmbiguous = errors.New("locator: ambiguous")
)

// Kind is the heuristic a Ref was found by.
type Kind string

const (
	KindClass     Kind = "class"
	KindText      Kind = "text"
	KindSignature Kind = "signature"
)

// By names a lookup heuristic and its argument.
type By struct {
	Kind  Kind
	Value string
}

// ByClass matches elements carrying every token of class.
func ByClass(class string) By { return By{Kind: KindClass, Value: class} }

// BySignature matches elements by a class signature remembered from an
// earlier observation.
func BySignature(class string) By { return By{Kind: KindSignature, Value: class} }

func (b By) String() string { return string(b.Kind) + ":" + b.Value }

// Ref is a located element together with the heuristic that found it.
type Ref struct {
	page.Node
	By By
}

// TextMatcher accepts a node when its text contains any of the labels. The
// same logical control carries a different label per locale.
type TextMatcher []string

// Match reports whether text contains one of the accepted labels.
func (m TextMatcher) Match(text string) bool {
	for _, label := range m {
		if label != "" && strings.Contains(text, label) {
			return true
		}
	}
	return false
}

func (m TextMatcher) String() string { return strings.Join(m, "|") }

// Locator runs lookups against a page.DOM.
type Locator struct {
	dom    page.DOM
	logger *slog.Logger
}

// New creates a Locator.
func New(dom page.DOM, logger *slog.Logger) *Locator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Locator{dom: dom, logger: logger}
}

// FindUnique returns the single element matching by. It fails with
// ErrNotFound for zero matches and ErrAmbiguous for more than one.
func (l *Locator) FindUnique(ctx context.Context, by By) (Ref, error) {
	if by.Kind == KindText {
		return Ref{}, fmt.Errorf("locator: FindUnique does not support %s lookups", by.Kind)
	}
	nodes, err := l.dom.ByClass(ctx, by.Value)
	if err != nil {
		return Ref{}, fmt.Errorf("locator: %s: %w", by, err)
	}
	switch len(nodes) {
	case 0:
		return Ref{}, fmt.Errorf("%s: %w", by, ErrNotFound)
	case 1:
		return Ref{Node: nodes[0], By: by}, nil
	default:
		return Ref{}, fmt.Errorf("%s (%d matches): %w", by, len(nodes), ErrAmbiguous)
	}
}

// FindFirstVisible returns the first element with the given class whose
// ancestor chain is rendered. The host page keeps hidden duplicates of some
// controls in the DOM.
func (l *Locator) FindFirstVisible(ctx context.Context, class string) (Ref, error) {
	by := ByClass(class)
	nodes, err := l.dom.ByClass(ctx, class)
	if err != nil {
		return Ref{}, fmt.Errorf("locator: %s: %w", by, err)
	}
	return l.firstVisible(ctx, nodes, by)
}

// FindAllMatching returns every element with the given tag whose text is
// accepted by m, in document order.
func (l *Locator) FindAllMatching(ctx context.Context, tag string, m TextMatcher) ([]Ref, error) {
	nodes, err := l.dom.ByTag(ctx, tag)
	if err != nil {
		return nil, fmt.Errorf("locator: tag %s: %w", tag, err)
	}
	by := By{Kind: KindText, Value: m.String()}
	var out []Ref
	for _, n := range nodes {
		if m.Match(n.Text) {
			out = append(out, Ref{Node: n, By: by})
		}
	}
	return out, nil
}

// FirstVisible filters refs down to the first rendered one.
func (l *Locator) FirstVisible(ctx context.Context, refs []Ref) (Ref, error) {
	nodes := make([]page.Node, len(refs))
	for i, r := range refs {
		nodes[i] = r.Node
	}
	by := By{Kind: KindText}
	if len(refs) > 0 {
		by = refs[0].By
	}
	return l.firstVisible(ctx, nodes, by)
}

func (l *Locator) firstVisible(ctx context.Context, nodes []page.Node, by By) (Ref, error) {
	for _, n := range nodes {
		ok, err := l.Visible(ctx, n.Handle)
		if err != nil {
			l.logger.Debug("locator: visibility check failed", "by", by.String(), "handle", n.Handle, "error", err)
			continue
		}
		if ok {
			return Ref{Node: n, By: by}, nil
		}
	}
	return Ref{}, fmt.Errorf("%s (%d candidates, none visible): %w", by, len(nodes), ErrNotFound)
}

// Visible ascends from h through its parents. It stops with false on the
// first element computed as display:none and with true at the document root.
func (l *Locator) Visible(ctx context.Context, h page.Handle) (bool, error) {
	cur := h
	for {
		disp, err := l.dom.Display(ctx, cur)
		if err != nil {
			return false, err
		}
		if disp == "none" {
			return false, nil
		}
		parent, ok, err := l.dom.Parent(ctx, cur)
		if err != nil {
			return false, err
		}
		if !ok {
			return true, nil
		}
		cur = parent.Handle
	}
}
