// Package memdom is an in-memory page.DOM. Documents are parsed from HTML
// with golang.org/x/net/html and mutated through helper methods that queue
// MutationObserver-style records, delivered in batches on the scheduler the
// way a browser delivers them as microtasks.
package memdom

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/gen4eva/page"
	"github.com/hazyhaar/gen4eva/sched"
)

// Document is a mutable in-memory DOM. Like the host page it models, it is
// meant to be used from the scheduler loop only.
type Document struct {
	sched     sched.Scheduler
	root      *element
	byHandle  map[page.Handle]*element
	seq       int
	observers []*observation
	clicks    map[page.Handle]int
	listeners map[page.Handle]func()
	signals   map[string]map[int]func()
	signalSeq int
	reloads   map[int]func()
}

type element struct {
	handle   page.Handle
	tag      string
	attrs    map[string]string
	text     string
	parent   *element
	children []*element
}

// Parse builds a Document from an HTML string. Observation callbacks,
// control clicks and signals are delivered through s.
func Parse(s sched.Scheduler, src string) (*Document, error) {
	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("memdom: parse: %w", err)
	}
	d := &Document{
		sched:     s,
		byHandle:  make(map[page.Handle]*element),
		clicks:    make(map[page.Handle]int),
		listeners: make(map[page.Handle]func()),
		signals:   make(map[string]map[int]func()),
		reloads:   make(map[int]func()),
	}
	d.load(root)
	return d, nil
}

func (d *Document) load(root *html.Node) {
	d.root = d.newElement("#document", nil)
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		d.adopt(d.root, c)
	}
}

// Reload replaces the whole document with src, as a navigation does:
// handles of the old document stop resolving, observations and injected
// controls die with it, and reload handlers are posted. Handles are never
// reused across documents. Signal registrations survive, like the bridge
// re-listening on a new document.
func (d *Document) Reload(src string) error {
	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return fmt.Errorf("memdom: parse: %w", err)
	}
	for _, o := range d.observers {
		o.Disconnect()
	}
	d.observers = nil
	d.byHandle = make(map[page.Handle]*element)
	d.listeners = make(map[page.Handle]func())
	d.load(root)
	for _, fn := range d.reloads {
		d.sched.Post(fn)
	}
	return nil
}

// MustParse is Parse for fixtures known to be valid.
func MustParse(s sched.Scheduler, src string) *Document {
	d, err := Parse(s, src)
	if err != nil {
		panic(err)
	}
	return d
}

func (d *Document) newElement(tag string, attrs []html.Attribute) *element {
	d.seq++
	el := &element{
		handle: page.Handle("m" + strconv.Itoa(d.seq)),
		tag:    tag,
		attrs:  make(map[string]string, len(attrs)),
	}
	for _, a := range attrs {
		el.attrs[a.Key] = a.Val
	}
	d.byHandle[el.handle] = el
	return el
}

// adopt converts an x/net/html subtree into elements under parent and
// returns the top-level element created, if any.
func (d *Document) adopt(parent *element, n *html.Node) *element {
	switch n.Type {
	case html.TextNode:
		parent.text += n.Data
		return nil
	case html.ElementNode:
		el := d.newElement(n.Data, n.Attr)
		el.parent = parent
		parent.children = append(parent.children, el)
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			d.adopt(el, c)
		}
		return el
	case html.DocumentNode:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			d.adopt(parent, c)
		}
	}
	return nil
}

// ByID returns the handle of the element with the given id attribute.
func (d *Document) ByID(id string) page.Handle {
	var found page.Handle
	d.walk(d.root, func(el *element) bool {
		if el.attrs["id"] == id {
			found = el.handle
			return false
		}
		return true
	})
	return found
}

// Node returns the current snapshot of h.
func (d *Document) Node(h page.Handle) page.Node {
	el, ok := d.byHandle[h]
	if !ok {
		return page.Node{}
	}
	return el.snapshot()
}

// Clicks returns how many synthetic clicks h has received.
func (d *Document) Clicks(h page.Handle) int { return d.clicks[h] }

// Append parses fragment and appends its elements to parent, queueing one
// childList record per appended top-level element. It returns the first
// appended element.
func (d *Document) Append(parent page.Handle, fragment string) (page.Node, error) {
	p, ok := d.byHandle[parent]
	if !ok {
		return page.Node{}, fmt.Errorf("memdom: unknown parent %q", parent)
	}
	ctxNode := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), ctxNode)
	if err != nil {
		return page.Node{}, fmt.Errorf("memdom: parse fragment: %w", err)
	}
	var added []*element
	for _, n := range nodes {
		if el := d.adopt(p, n); el != nil {
			added = append(added, el)
		}
	}
	if len(added) == 0 {
		return page.Node{}, fmt.Errorf("memdom: fragment has no elements")
	}
	rec := page.Record{Type: page.ChildList, Target: p.snapshot()}
	for _, el := range added {
		rec.Added = append(rec.Added, el.snapshot())
	}
	d.notify(p, rec, false)
	return added[0].snapshot(), nil
}

// SetAttr sets an attribute and queues an attributes record.
func (d *Document) SetAttr(h page.Handle, name, value string) error {
	el, ok := d.byHandle[h]
	if !ok {
		return fmt.Errorf("memdom: unknown element %q", h)
	}
	el.attrs[name] = value
	d.notify(el, page.Record{Type: page.Attributes, Target: el.snapshot(), AttributeName: name}, true)
	return nil
}

// Dispatch raises a named page signal.
func (d *Document) Dispatch(name string) {
	for _, fn := range d.signals[name] {
		d.sched.Post(fn)
	}
}

// notify queues rec for every observation whose target is el or, for
// subtree observations, an ancestor of el.
func (d *Document) notify(el *element, rec page.Record, attr bool) {
	for _, o := range d.observers {
		if o.disconnected {
			continue
		}
		if attr && !o.opts.Attributes || !attr && !o.opts.ChildList {
			continue
		}
		if o.target != el && !(o.opts.Subtree && el.descendantOf(o.target)) {
			continue
		}
		o.queue(d.sched, rec)
	}
}

func (d *Document) walk(el *element, fn func(*element) bool) bool {
	for _, c := range el.children {
		if !fn(c) {
			return false
		}
		if !d.walk(c, fn) {
			return false
		}
	}
	return true
}

func (d *Document) connected(el *element) bool {
	for el != nil {
		if el == d.root {
			return true
		}
		el = el.parent
	}
	return false
}

func (d *Document) lookup(h page.Handle) (*element, error) {
	el, ok := d.byHandle[h]
	if !ok {
		return nil, fmt.Errorf("memdom: unknown element %q", h)
	}
	return el, nil
}

func (el *element) snapshot() page.Node {
	return page.Node{
		Handle: el.handle,
		Tag:    el.tag,
		Class:  el.attrs["class"],
		Text:   el.textContent(),
		Images: el.count("img"),
	}
}

func (el *element) textContent() string {
	var b strings.Builder
	b.WriteString(el.text)
	for _, c := range el.children {
		b.WriteString(c.textContent())
	}
	return b.String()
}

func (el *element) count(tag string) int {
	n := 0
	for _, c := range el.children {
		if c.tag == tag {
			n++
		}
		n += c.count(tag)
	}
	return n
}

func (el *element) descendantOf(anc *element) bool {
	for p := el.parent; p != nil; p = p.parent {
		if p == anc {
			return true
		}
	}
	return false
}

func (el *element) hasClasses(tokens []string) bool {
	have := strings.Fields(el.attrs["class"])
	for _, want := range tokens {
		found := false
		for _, c := range have {
			if c == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (el *element) display() string {
	if _, hidden := el.attrs["hidden"]; hidden {
		return "none"
	}
	for _, decl := range strings.Split(el.attrs["style"], ";") {
		k, v, ok := strings.Cut(decl, ":")
		if ok && strings.TrimSpace(strings.ToLower(k)) == "display" {
			return strings.TrimSpace(strings.ToLower(v))
		}
	}
	switch el.tag {
	case "span", "a", "img", "button":
		return "inline"
	}
	return "block"
}

var _ page.DOM = (*Document)(nil)

func (d *Document) ByClass(_ context.Context, class string) ([]page.Node, error) {
	tokens := strings.Fields(class)
	if len(tokens) == 0 {
		return nil, nil
	}
	var out []page.Node
	d.walk(d.root, func(el *element) bool {
		if el.hasClasses(tokens) {
			out = append(out, el.snapshot())
		}
		return true
	})
	return out, nil
}

func (d *Document) ByTag(_ context.Context, tag string) ([]page.Node, error) {
	tag = strings.ToLower(tag)
	var out []page.Node
	d.walk(d.root, func(el *element) bool {
		if el.tag == tag {
			out = append(out, el.snapshot())
		}
		return true
	})
	return out, nil
}

func (d *Document) Parent(_ context.Context, h page.Handle) (page.Node, bool, error) {
	el, err := d.lookup(h)
	if err != nil {
		return page.Node{}, false, err
	}
	if el.parent == nil || el.parent == d.root {
		return page.Node{}, false, nil
	}
	return el.parent.snapshot(), true, nil
}

func (d *Document) Display(_ context.Context, h page.Handle) (string, error) {
	el, err := d.lookup(h)
	if err != nil {
		return "", err
	}
	return el.display(), nil
}

func (d *Document) Attr(_ context.Context, h page.Handle, name string) (string, bool, error) {
	el, err := d.lookup(h)
	if err != nil {
		return "", false, err
	}
	v, ok := el.attrs[name]
	return v, ok, nil
}

func (d *Document) Connected(_ context.Context, h page.Handle) (bool, error) {
	el, ok := d.byHandle[h]
	if !ok {
		return false, nil
	}
	return d.connected(el), nil
}

func (d *Document) Observe(_ context.Context, h page.Handle, opts page.ObserveOptions, fn page.MutationFunc) (page.Observation, error) {
	el, err := d.lookup(h)
	if err != nil {
		return nil, err
	}
	o := &observation{target: el, opts: opts, fn: fn}
	d.observers = append(d.observers, o)
	return o, nil
}

// Observers returns the number of connected observations.
func (d *Document) Observers() int {
	n := 0
	for _, o := range d.observers {
		if !o.disconnected {
			n++
		}
	}
	return n
}

func (d *Document) Click(_ context.Context, h page.Handle) error {
	el, err := d.lookup(h)
	if err != nil {
		return err
	}
	if !d.connected(el) {
		return fmt.Errorf("memdom: click on detached element %q", h)
	}
	d.clicks[h]++
	if fn, ok := d.listeners[h]; ok {
		d.sched.Post(fn)
	}
	return nil
}

func (d *Document) InsertControl(_ context.Context, anchor page.Handle, c page.Control, onClick func()) (page.Node, error) {
	a, err := d.lookup(anchor)
	if err != nil {
		return page.Node{}, err
	}
	if a.parent == nil {
		return page.Node{}, fmt.Errorf("memdom: anchor %q has no parent", anchor)
	}
	area := d.newElement("div", []html.Attribute{{Key: "style", Val: "display: flex"}})
	area.parent = a.parent
	a.parent.children = append(a.parent.children, area)

	btn := d.newElement("button", nil)
	btn.parent = area
	area.children = append(area.children, btn)
	btn.text = c.Label
	btn.attrs["style"] = "background-color: " + c.Background
	d.listeners[btn.handle] = onClick

	d.notify(a.parent, page.Record{Type: page.ChildList, Target: a.parent.snapshot(), Added: []page.Node{area.snapshot()}}, false)
	return btn.snapshot(), nil
}

func (d *Document) UpdateControl(_ context.Context, h page.Handle, c page.Control) error {
	el, err := d.lookup(h)
	if err != nil {
		return err
	}
	el.text = c.Label
	el.attrs["style"] = "background-color: " + c.Background
	return nil
}

// Remove detaches h. Injected controls take their flex container with them.
func (d *Document) Remove(_ context.Context, h page.Handle) error {
	el, err := d.lookup(h)
	if err != nil {
		return err
	}
	if _, isControl := d.listeners[h]; isControl && el.parent != nil {
		delete(d.listeners, h)
		el = el.parent
	}
	p := el.parent
	if p == nil {
		return nil
	}
	for i, c := range p.children {
		if c == el {
			p.children = append(p.children[:i], p.children[i+1:]...)
			break
		}
	}
	el.parent = nil
	d.notify(p, page.Record{Type: page.ChildList, Target: p.snapshot()}, false)
	return nil
}

func (d *Document) OnSignal(_ context.Context, name string, fn func()) (func(), error) {
	d.signalSeq++
	id := d.signalSeq
	if d.signals[name] == nil {
		d.signals[name] = make(map[int]func())
	}
	d.signals[name][id] = fn
	return func() { delete(d.signals[name], id) }, nil
}

func (d *Document) OnReload(_ context.Context, fn func()) (func(), error) {
	d.signalSeq++
	id := d.signalSeq
	d.reloads[id] = fn
	return func() { delete(d.reloads, id) }, nil
}

// Listening reports how many handlers are registered for a signal.
func (d *Document) Listening(name string) int { return len(d.signals[name]) }

type observation struct {
	target       *element
	opts         page.ObserveOptions
	fn           page.MutationFunc
	pending      []page.Record
	scheduled    bool
	disconnected bool
}

func (o *observation) queue(s sched.Scheduler, rec page.Record) {
	o.pending = append(o.pending, rec)
	if o.scheduled {
		return
	}
	o.scheduled = true
	s.Post(func() {
		recs := o.pending
		o.pending = nil
		o.scheduled = false
		if o.disconnected || len(recs) == 0 {
			return
		}
		o.fn(recs)
	})
}

func (o *observation) Disconnect() {
	o.disconnected = true
	o.pending = nil
}
