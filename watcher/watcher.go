// Package watcher implements the two-tier structural watcher. A watcher
// first observes a container subtree for a qualifying element to appear
// (expensive, noisy), then narrows down to attribute changes on that one
// element (cheap, precise) for the rest of the page session.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hazyhaar/gen4eva/locator"
	"github.com/hazyhaar/gen4eva/page"
	"github.com/hazyhaar/gen4eva/sched"
)

// ErrDetachedTarget is reported when the node under observation left the
// document and could not be re-located by its remembered signature.
var ErrDetachedTarget = errors.New("watcher: watch target detached")

// State is the tier a watcher currently operates in.
type State int

const (
	Detached State = iota
	ContainerWatching
	NodeWatching
)

func (s State) String() string {
	switch s {
	case Detached:
		return "detached"
	case ContainerWatching:
		return "container"
	case NodeWatching:
		return "node"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Kind tells artifact events from notification events.
type Kind string

const (
	Artifact     Kind = "artifact"
	Notification Kind = "notification"
)

// Event is emitted once per detected artifact or notification.
type Event struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	ObservedAt time.Time `json:"observed_at"`
	Source     page.Node `json:"source"`
}

// Qualifier decides whether a newly added element is the one to watch.
type Qualifier func(n page.Node, signature string) bool

// HasImage qualifies elements carrying an image descendant, or matching
// the remembered signature.
func HasImage(n page.Node, signature string) bool {
	return n.Images > 0 || (signature != "" && n.Class == signature)
}

// HasClass qualifies elements whose class attribute contains class.
func HasClass(class string) Qualifier {
	return func(n page.Node, _ string) bool {
		return class != "" && strings.Contains(n.Class, class)
	}
}

// Config configures a Watcher.
type Config struct {
	Kind Kind
	DOM  page.DOM
	// Locator re-finds the watched node by its signature.
	Locator *locator.Locator
	Sched   sched.Scheduler
	Qualify Qualifier
	// Promote moves the watcher to NodeWatching on the first qualifying
	// element. When false every qualifying element emits and the watcher
	// stays on the container.
	Promote bool
	// Attribute is the attribute whose changes emit in NodeWatching.
	// Default: "src".
	Attribute string
	Emit      func(Event)
	Logger    *slog.Logger
}

// Watcher tracks one concern. All methods run on the scheduler loop.
type Watcher struct {
	cfg Config

	state     State
	container page.Observation
	node      page.Observation
	target    page.Node
	signature string
}

// New creates a Detached watcher.
func New(cfg Config) *Watcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Attribute == "" {
		cfg.Attribute = "src"
	}
	if cfg.Qualify == nil {
		cfg.Qualify = HasImage
	}
	if cfg.Emit == nil {
		cfg.Emit = func(Event) {}
	}
	return &Watcher{cfg: cfg}
}

// State returns the current tier.
func (w *Watcher) State() State { return w.state }

// Target returns the node observed in NodeWatching.
func (w *Watcher) Target() page.Node { return w.target }

// Signature returns the remembered class signature, if any.
func (w *Watcher) Signature() string { return w.signature }

// WatchContainer observes anchor for added descendants. Any previous
// observation of this concern is disconnected first.
func (w *Watcher) WatchContainer(ctx context.Context, anchor page.Node) error {
	w.Detach()

	var obs page.Observation
	obs, err := w.cfg.DOM.Observe(ctx, anchor.Handle,
		page.ObserveOptions{ChildList: true, Subtree: true},
		func(recs []page.Record) { w.onContainer(ctx, obs, recs) })
	if err != nil {
		return fmt.Errorf("watcher: %s: observe container: %w", w.cfg.Kind, err)
	}
	w.container = obs
	w.state = ContainerWatching
	w.cfg.Logger.Debug("watcher: container watching", "kind", w.cfg.Kind, "anchor", anchor.Handle)
	return nil
}

// WatchNode observes attribute changes on n and its descendants.
func (w *Watcher) WatchNode(ctx context.Context, n page.Node) error {
	w.disconnectNode()

	var obs page.Observation
	obs, err := w.cfg.DOM.Observe(ctx, n.Handle,
		page.ObserveOptions{ChildList: true, Attributes: true, Subtree: true},
		func(recs []page.Record) { w.onNode(ctx, obs, recs) })
	if err != nil {
		return fmt.Errorf("watcher: %s: observe node: %w", w.cfg.Kind, err)
	}
	w.node = obs
	w.target = n
	w.state = NodeWatching
	w.cfg.Logger.Debug("watcher: node watching", "kind", w.cfg.Kind, "node", n.Handle, "class", n.Class)
	return nil
}

// Reattach re-locates the watched node by its remembered signature after
// the host page replaced it. Exactly one candidate moves the watcher back to
// NodeWatching; zero or several leave it Detached with the signature
// forgotten, and the caller must run a full bootstrap.
func (w *Watcher) Reattach(ctx context.Context) error {
	w.Detach()
	if w.signature == "" {
		return fmt.Errorf("watcher: %s: no remembered signature: %w", w.cfg.Kind, ErrDetachedTarget)
	}

	ref, err := w.cfg.Locator.FindUnique(ctx, locator.BySignature(w.signature))
	if err != nil {
		w.cfg.Logger.Warn("watcher: reattach failed, forgetting signature",
			"kind", w.cfg.Kind, "signature", w.signature, "error", err)
		w.signature = ""
		return fmt.Errorf("watcher: %s: %w: %w", w.cfg.Kind, ErrDetachedTarget, err)
	}
	if err := w.WatchNode(ctx, ref.Node); err != nil {
		return err
	}
	w.cfg.Logger.Info("watcher: reattached", "kind", w.cfg.Kind, "node", ref.Handle)
	return nil
}

// Live reports whether the node under NodeWatching is still in the document.
func (w *Watcher) Live(ctx context.Context) (bool, error) {
	if w.state != NodeWatching {
		return false, nil
	}
	return w.cfg.DOM.Connected(ctx, w.target.Handle)
}

// Detach disconnects every observation. The signature is kept.
func (w *Watcher) Detach() {
	if w.container != nil {
		w.container.Disconnect()
		w.container = nil
	}
	w.disconnectNode()
	w.state = Detached
}

func (w *Watcher) disconnectNode() {
	if w.node != nil {
		w.node.Disconnect()
		w.node = nil
	}
	w.target = page.Node{}
}

func (w *Watcher) onContainer(ctx context.Context, obs page.Observation, recs []page.Record) {
	// A batch delivered after a newer observation replaced this one.
	if obs != w.container {
		return
	}
	for _, rec := range recs {
		for _, added := range rec.Added {
			if !w.cfg.Qualify(added, w.signature) {
				w.cfg.Logger.Debug("watcher: added node does not qualify",
					"kind", w.cfg.Kind, "node", added.Handle, "class", added.Class)
				continue
			}
			if !w.cfg.Promote {
				w.emit(added)
				continue
			}
			w.promote(ctx, added)
			return
		}
	}
}

func (w *Watcher) promote(ctx context.Context, n page.Node) {
	w.signature = n.Class
	if w.container != nil {
		w.container.Disconnect()
		w.container = nil
	}
	if err := w.WatchNode(ctx, n); err != nil {
		w.cfg.Logger.Error("watcher: promote to node failed", "kind", w.cfg.Kind, "error", err)
		w.state = Detached
		return
	}
	w.emit(n)
}

func (w *Watcher) onNode(ctx context.Context, obs page.Observation, recs []page.Record) {
	// A batch queued before a reattach replaced this observation.
	if obs != w.node {
		return
	}
	for _, rec := range recs {
		if rec.Type != page.Attributes || rec.AttributeName != w.cfg.Attribute {
			continue
		}
		_, ok, err := w.cfg.DOM.Attr(ctx, rec.Target.Handle, w.cfg.Attribute)
		if err != nil || !ok {
			continue
		}
		w.emit(rec.Target)
	}
}

func (w *Watcher) emit(n page.Node) {
	w.cfg.Emit(Event{
		ID:         uuid.Must(uuid.NewV7()).String(),
		Kind:       w.cfg.Kind,
		ObservedAt: w.cfg.Sched.Now(),
		Source:     n,
	})
}
