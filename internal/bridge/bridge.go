// Package bridge implements page.DOM over the Chrome DevTools Protocol.
//
// All DOM work happens in an injected script (bridge.js) that keeps a
// handle table, owns the MutationObservers and the injected controls, and
// reports observations, control clicks and page signals back through a
// Runtime binding. Go calls into the script with Runtime.callFunctionOn and
// exchanges JSON with it.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/gen4eva/page"
	"github.com/hazyhaar/gen4eva/sched"
)

const binding = "__gen4eva_emit"

// ErrScript is wrapped by errors raised inside the page script, such as an
// unknown or detached handle.
var ErrScript = errors.New("bridge: page script error")

// ErrNoPage is returned once the bridge is closed.
var ErrNoPage = errors.New("bridge: no page")

// Bridge is a page.DOM backed by a live browser tab.
type Bridge struct {
	page   *rod.Page
	sched  sched.Scheduler
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	unload func() error

	mu        sync.Mutex
	obsSeq    int
	observers map[string]*observation
	controls  map[page.Handle]func()
	signals   map[string]map[int]func()
	sigSeq    int
	reloads   map[int]func()
	revision  string
	doc       string
}

func newBridge(p *rod.Page, s sched.Scheduler, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		page:      p,
		sched:     s,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		observers: make(map[string]*observation),
		controls:  make(map[page.Handle]func()),
		signals:   make(map[string]map[int]func()),
		reloads:   make(map[int]func()),
	}
}

// Attach installs the binding and the bridge script on p. The script is
// registered for every future document too, so a reload of the host page
// brings the bridge back (with a fresh, empty handle table). A bridge left
// in the tab by an earlier run is torn down first, taking its controls
// with it.
func Attach(ctx context.Context, p *rod.Page, s sched.Scheduler, logger *slog.Logger) (*Bridge, error) {
	b := newBridge(p, s, logger)

	if err := (proto.RuntimeAddBinding{Name: binding}).Call(p); err != nil {
		b.logger.Warn("bridge: addBinding failed (may already exist)", "error", err)
	}

	wait := p.Context(b.ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != binding {
			return
		}
		b.dispatch(e.Payload)
	})
	go wait()

	script := Script()
	remove, err := p.Context(ctx).EvalOnNewDocument(script)
	if err != nil {
		b.cancel()
		return nil, fmt.Errorf("bridge: register script: %w", err)
	}
	b.unload = remove

	res, err := (proto.RuntimeEvaluate{Expression: script}).Call(p.Context(ctx))
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("bridge: inject script: %w", err)
	}
	if res.ExceptionDetails != nil {
		b.Close()
		return nil, fmt.Errorf("bridge: inject script: %w: %s", ErrScript, res.ExceptionDetails.Text)
	}

	b.logger.Info("bridge: attached", "revision", Revision())
	return b, nil
}

// Close stops listening for page events and unregisters the script. Page
// state created by the script is left as is.
func (b *Bridge) Close() {
	b.cancel()
	if b.unload != nil {
		if err := b.unload(); err != nil {
			b.logger.Debug("bridge: unregister script", "error", err)
		}
		b.unload = nil
	}
}

// PageRevision is the revision reported by the script in the page, which
// differs from Revision() when a stale tab kept an older bridge.
func (b *Bridge) PageRevision() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.revision
}

const callJS = `(fn, args) => window.__gen4eva
	? window.__gen4eva.call(fn, args)
	: JSON.stringify({ ok: false, err: "bridge not loaded" })`

func (b *Bridge) call(ctx context.Context, fn string, out any, args ...any) error {
	if b.page == nil || b.ctx.Err() != nil {
		return fmt.Errorf("bridge: %s: %w", fn, ErrNoPage)
	}
	if args == nil {
		args = []any{}
	}
	res, err := b.page.Context(ctx).Eval(callJS, fn, args)
	if err != nil {
		return fmt.Errorf("bridge: %s: %w", fn, err)
	}
	return decodeReply(fn, res.Value.Str(), out)
}

type reply struct {
	OK  bool            `json:"ok"`
	V   json.RawMessage `json:"v"`
	Err string          `json:"err"`
}

func decodeReply(fn, raw string, out any) error {
	var r reply
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return fmt.Errorf("bridge: %s: decode reply: %w", fn, err)
	}
	if !r.OK {
		return fmt.Errorf("bridge: %s: %w: %s", fn, ErrScript, r.Err)
	}
	if out == nil || len(r.V) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.V, out); err != nil {
		return fmt.Errorf("bridge: %s: decode value: %w", fn, err)
	}
	return nil
}

// wireNode is a node snapshot as produced by the script.
type wireNode struct {
	H    string `json:"h"`
	Tag  string `json:"tag"`
	Cls  string `json:"cls"`
	Text string `json:"text"`
	Img  int    `json:"img"`
}

func (w wireNode) node() page.Node {
	return page.Node{Handle: page.Handle(w.H), Tag: w.Tag, Class: w.Cls, Text: w.Text, Images: w.Img}
}

func nodes(ws []wireNode) []page.Node {
	if len(ws) == 0 {
		return nil
	}
	out := make([]page.Node, len(ws))
	for i, w := range ws {
		out[i] = w.node()
	}
	return out
}

type wireRecord struct {
	Type   string     `json:"type"`
	Target wireNode   `json:"target"`
	Added  []wireNode `json:"added"`
	Attr   string     `json:"attr"`
}

// message is anything the script reports through the binding.
type message struct {
	T   string       `json:"t"`
	O   string       `json:"o"`
	R   []wireRecord `json:"r"`
	H   string       `json:"h"`
	N   string       `json:"n"`
	Rev string       `json:"rev"`
	Doc string       `json:"doc"`
}

// dispatch routes one binding payload. It runs on the CDP event goroutine
// and hands every callback to the scheduler.
func (b *Bridge) dispatch(payload string) {
	var m message
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		b.logger.Warn("bridge: parse binding payload", "error", err)
		return
	}

	switch m.T {
	case "mutation":
		b.mu.Lock()
		o := b.observers[m.O]
		b.mu.Unlock()
		if o == nil || o.disconnected.Load() {
			return
		}
		recs := make([]page.Record, len(m.R))
		for i, r := range m.R {
			recs[i] = page.Record{
				Type:          page.RecordType(r.Type),
				Target:        r.Target.node(),
				Added:         nodes(r.Added),
				AttributeName: r.Attr,
			}
		}
		b.sched.Post(func() {
			if !o.disconnected.Load() {
				o.fn(recs)
			}
		})

	case "click":
		b.mu.Lock()
		fn := b.controls[page.Handle(m.H)]
		b.mu.Unlock()
		if fn != nil {
			b.sched.Post(fn)
		}

	case "signal":
		b.mu.Lock()
		var fns []func()
		for _, fn := range b.signals[m.N] {
			fns = append(fns, fn)
		}
		b.mu.Unlock()
		for _, fn := range fns {
			b.sched.Post(fn)
		}

	case "ready":
		b.mu.Lock()
		b.revision = m.Rev
		reloaded := b.doc != "" && b.doc != m.Doc
		b.doc = m.Doc
		var fns []func()
		if reloaded {
			for _, fn := range b.reloads {
				fns = append(fns, fn)
			}
		}
		b.mu.Unlock()
		b.logger.Info("bridge: script loaded in page", "revision", m.Rev, "document", m.Doc, "reload", reloaded)
		b.sched.Post(b.relisten)
		for _, fn := range fns {
			b.sched.Post(fn)
		}

	default:
		b.logger.Debug("bridge: unknown message", "type", m.T)
	}
}

// relisten re-registers signal listeners after the page reloaded. Handles
// from the previous document are dead; reload handlers rebuild the rest.
func (b *Bridge) relisten() {
	b.mu.Lock()
	names := make([]string, 0, len(b.signals))
	for name, fns := range b.signals {
		if len(fns) > 0 {
			names = append(names, name)
		}
	}
	b.mu.Unlock()
	for _, name := range names {
		if err := b.call(b.ctx, "listen", nil, name); err != nil {
			b.logger.Warn("bridge: re-listen failed", "signal", name, "error", err)
		}
	}
}

var _ page.DOM = (*Bridge)(nil)

func (b *Bridge) ByClass(ctx context.Context, class string) ([]page.Node, error) {
	var ws []wireNode
	if err := b.call(ctx, "byClass", &ws, class); err != nil {
		return nil, err
	}
	return nodes(ws), nil
}

func (b *Bridge) ByTag(ctx context.Context, tag string) ([]page.Node, error) {
	var ws []wireNode
	if err := b.call(ctx, "byTag", &ws, tag); err != nil {
		return nil, err
	}
	return nodes(ws), nil
}

func (b *Bridge) Parent(ctx context.Context, h page.Handle) (page.Node, bool, error) {
	var w *wireNode
	if err := b.call(ctx, "parent", &w, h); err != nil {
		return page.Node{}, false, err
	}
	if w == nil {
		return page.Node{}, false, nil
	}
	return w.node(), true, nil
}

func (b *Bridge) Display(ctx context.Context, h page.Handle) (string, error) {
	var d string
	err := b.call(ctx, "display", &d, h)
	return d, err
}

func (b *Bridge) Attr(ctx context.Context, h page.Handle, name string) (string, bool, error) {
	var a struct {
		V  string `json:"v"`
		OK bool   `json:"ok"`
	}
	if err := b.call(ctx, "attr", &a, h, name); err != nil {
		return "", false, err
	}
	return a.V, a.OK, nil
}

func (b *Bridge) Connected(ctx context.Context, h page.Handle) (bool, error) {
	var ok bool
	err := b.call(ctx, "connected", &ok, h)
	return ok, err
}

func (b *Bridge) Observe(ctx context.Context, h page.Handle, opts page.ObserveOptions, fn page.MutationFunc) (page.Observation, error) {
	o := b.register(fn)
	if err := b.call(ctx, "observe", nil, h, o.id, opts); err != nil {
		b.unregister(o.id)
		return nil, err
	}
	return o, nil
}

func (b *Bridge) register(fn page.MutationFunc) *observation {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.obsSeq++
	o := &observation{b: b, id: "o" + strconv.Itoa(b.obsSeq), fn: fn}
	b.observers[o.id] = o
	return o
}

func (b *Bridge) unregister(id string) {
	b.mu.Lock()
	delete(b.observers, id)
	b.mu.Unlock()
}

func (b *Bridge) Click(ctx context.Context, h page.Handle) error {
	return b.call(ctx, "click", nil, h)
}

func (b *Bridge) InsertControl(ctx context.Context, anchor page.Handle, c page.Control, onClick func()) (page.Node, error) {
	var w wireNode
	if err := b.call(ctx, "insertControl", &w, anchor, c.Label, c.Background); err != nil {
		return page.Node{}, err
	}
	b.mu.Lock()
	b.controls[page.Handle(w.H)] = onClick
	b.mu.Unlock()
	return w.node(), nil
}

func (b *Bridge) UpdateControl(ctx context.Context, h page.Handle, c page.Control) error {
	return b.call(ctx, "updateControl", nil, h, c.Label, c.Background)
}

func (b *Bridge) Remove(ctx context.Context, h page.Handle) error {
	b.mu.Lock()
	delete(b.controls, h)
	b.mu.Unlock()
	return b.call(ctx, "remove", nil, h)
}

func (b *Bridge) OnSignal(ctx context.Context, name string, fn func()) (func(), error) {
	b.mu.Lock()
	b.sigSeq++
	id := b.sigSeq
	if b.signals[name] == nil {
		b.signals[name] = make(map[int]func())
	}
	b.signals[name][id] = fn
	b.mu.Unlock()

	if err := b.call(ctx, "listen", nil, name); err != nil {
		b.dropSignal(name, id)
		return nil, err
	}
	return func() {
		if b.dropSignal(name, id) {
			if err := b.call(b.ctx, "unlisten", nil, name); err != nil {
				b.logger.Debug("bridge: unlisten", "signal", name, "error", err)
			}
		}
	}, nil
}

func (b *Bridge) OnReload(_ context.Context, fn func()) (func(), error) {
	b.mu.Lock()
	b.sigSeq++
	id := b.sigSeq
	b.reloads[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.reloads, id)
		b.mu.Unlock()
	}, nil
}

// dropSignal removes one handler and reports whether it was the last for name.
func (b *Bridge) dropSignal(name string, id int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.signals[name], id)
	if len(b.signals[name]) == 0 {
		delete(b.signals, name)
		return true
	}
	return false
}

type observation struct {
	b            *Bridge
	id           string
	fn           page.MutationFunc
	disconnected atomic.Bool
}

func (o *observation) Disconnect() {
	if o.disconnected.Swap(true) {
		return
	}
	o.b.unregister(o.id)
	if err := o.b.call(o.b.ctx, "disconnect", nil, o.id); err != nil {
		o.b.logger.Debug("bridge: disconnect observer", "id", o.id, "error", err)
	}
}
