// Package page defines the narrow host-DOM surface the automation core
// consumes. A production implementation drives a real browser tab over CDP
// (internal/bridge); page/memdom provides an in-memory document for tests.
//
// The core never holds DOM objects directly. It works with Handles, which
// stay valid for as long as the host keeps the element alive, and with Node
// snapshots carrying the few fields the locator heuristics read.
package page

import "context"

// Handle is an opaque reference to a host element.
type Handle string

// Node is a snapshot of an element taken when it was located or observed.
type Node struct {
	Handle Handle `json:"handle"`
	Tag    string `json:"tag"`
	Class  string `json:"class,omitempty"`
	Text   string `json:"text,omitempty"` // truncated; set on ByTag results and controls
	// Images is the number of image descendants at snapshot time.
	Images int `json:"images,omitempty"`
}

// Valid reports whether n refers to an element.
func (n Node) Valid() bool { return n.Handle != "" }

// RecordType is the kind of a mutation record.
type RecordType string

const (
	ChildList  RecordType = "childList"
	Attributes RecordType = "attributes"
)

// Record is one mutation delivered to an Observation callback.
type Record struct {
	Type          RecordType `json:"type"`
	Target        Node       `json:"target"`
	Added         []Node     `json:"added,omitempty"`
	AttributeName string     `json:"attribute_name,omitempty"`
}

// ObserveOptions selects which mutations an Observation reports.
type ObserveOptions struct {
	ChildList  bool `json:"childList"`
	Attributes bool `json:"attributes"`
	Subtree    bool `json:"subtree"`
}

// MutationFunc receives one batch of records. It runs on the scheduler loop.
type MutationFunc func(records []Record)

// Observation is a live subtree-mutation subscription.
type Observation interface {
	Disconnect()
}

// Control describes an injected toggle button.
type Control struct {
	Label      string
	Background string
}

// DOM is the host page as seen by the core. Every callback it accepts
// (mutation batches, control clicks, signals) is delivered on the scheduler
// loop, never concurrently with other core code.
type DOM interface {
	// ByClass returns elements carrying every class token in class, in
	// document order.
	ByClass(ctx context.Context, class string) ([]Node, error)
	// ByTag returns elements with the given tag name, in document order,
	// with their text content.
	ByTag(ctx context.Context, tag string) ([]Node, error)
	// Parent returns the parent element. ok is false at the document root.
	Parent(ctx context.Context, h Handle) (parent Node, ok bool, err error)
	// Display returns the computed CSS display value of h.
	Display(ctx context.Context, h Handle) (string, error)
	// Attr reads an attribute. ok is false when it is absent.
	Attr(ctx context.Context, h Handle, name string) (value string, ok bool, err error)
	// Connected reports whether h is still attached to the document.
	Connected(ctx context.Context, h Handle) (bool, error)

	Observe(ctx context.Context, h Handle, opts ObserveOptions, fn MutationFunc) (Observation, error)

	// Click dispatches a synthetic click on h.
	Click(ctx context.Context, h Handle) error
	// InsertControl appends a flex container holding a new button after
	// anchor, inside anchor's parent. onClick runs on every click.
	InsertControl(ctx context.Context, anchor Handle, c Control, onClick func()) (Node, error)
	UpdateControl(ctx context.Context, h Handle, c Control) error
	// Remove detaches h (and, for controls, their container) from the document.
	Remove(ctx context.Context, h Handle) error

	// OnSignal calls fn whenever the page raises the named re-entry signal.
	OnSignal(ctx context.Context, name string, fn func()) (cancel func(), err error)
	// OnReload calls fn whenever the host page loaded a new document. Every
	// handle and observation from the previous document is dead by then.
	OnReload(ctx context.Context, fn func()) (cancel func(), err error)
}
