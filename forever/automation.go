package forever

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/hazyhaar/gen4eva/locator"
	"github.com/hazyhaar/gen4eva/page"
	"github.com/hazyhaar/gen4eva/sched"
	"github.com/hazyhaar/gen4eva/watcher"
)

// controls locates the host page's generate and save buttons. Lookups are
// redone for every click: the host replaces button nodes freely.
type controls struct {
	dom  page.DOM
	loc  *locator.Locator
	sel  Selectors
	skip func(page.Handle) bool
}

// generate returns the first visible generate button that is not one of
// our own toggles.
func (c *controls) generate(ctx context.Context) (locator.Ref, error) {
	refs, err := c.all(ctx)
	if err != nil {
		return locator.Ref{}, err
	}
	if len(refs) == 0 {
		return locator.Ref{}, fmt.Errorf("forever: generate control %q: %w", c.sel.GenerateLabels, locator.ErrNotFound)
	}
	return c.loc.FirstVisible(ctx, refs)
}

// all returns every generate-button candidate in document order.
func (c *controls) all(ctx context.Context) ([]locator.Ref, error) {
	refs, err := c.loc.FindAllMatching(ctx, c.sel.ButtonTag, c.sel.GenerateLabels)
	if err != nil {
		return nil, err
	}
	out := refs[:0]
	for _, r := range refs {
		if c.skip == nil || !c.skip(r.Handle) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (c *controls) save(ctx context.Context) (locator.Ref, error) {
	if c.sel.SaveClass == "" {
		return locator.Ref{}, fmt.Errorf("forever: no save class configured: %w", locator.ErrNotFound)
	}
	return c.loc.FindFirstVisible(ctx, c.sel.SaveClass)
}

// clickGenerate re-locates and clicks the generate control. Failures abort
// only this attempt.
func (c *controls) clickGenerate(ctx context.Context, logger *slog.Logger, activity ActivityFunc, kind ActivityKind) {
	ref, err := c.generate(ctx)
	if err != nil {
		logger.Warn("forever: generate control not found, skipping cycle", "error", err)
		return
	}
	if err := c.dom.Click(ctx, ref.Handle); err != nil {
		logger.Warn("forever: click generate failed", "handle", ref.Handle, "error", err)
		return
	}
	logger.Info("forever: clicked generate", "handle", ref.Handle, "trigger", kind)
	activity(Activity{Kind: kind, Node: ref.Node})
}

// Automation reacts to coalesced artifact events while armed: optional
// save, then a randomized-delay click on generate.
type Automation struct {
	ctx      context.Context
	controls *controls
	sched    sched.Scheduler
	delay    DelayRange
	rnd      *rand.Rand
	autoSave func() bool
	activity ActivityFunc
	logger   *slog.Logger
}

// Handle runs one automation cycle for ev.
func (a *Automation) Handle(ev watcher.Event) {
	ctx := a.ctx
	a.logger.Debug("forever: artifact", "event", ev.ID, "source", ev.Source.Handle)

	if a.autoSave() {
		ref, err := a.controls.save(ctx)
		if err != nil {
			a.logger.Warn("forever: save control not found, skipping cycle", "error", err)
			return
		}
		if err := a.controls.dom.Click(ctx, ref.Handle); err != nil {
			a.logger.Warn("forever: click save failed, skipping cycle", "error", err)
			return
		}
		a.activity(Activity{Kind: ActivityClickSave, Node: ref.Node})
	}

	d := a.delay.Draw(a.rnd)
	a.logger.Debug("forever: generate scheduled", "delay", d)
	// Not cancelled by disarming: a click may land just after toggle-off.
	a.sched.AfterFunc(d, func() {
		a.controls.clickGenerate(ctx, a.logger, a.activity, ActivityClickGenerate)
	})
}

// Recovery treats every coalesced notification seen while armed as a
// failed generation and clicks generate again after a short delay. It
// cannot tell error toasts from informational ones and does not try to.
type Recovery struct {
	ctx      context.Context
	controls *controls
	sched    sched.Scheduler
	delay    DelayRange
	rnd      *rand.Rand
	armed    func() bool
	activity ActivityFunc
	logger   *slog.Logger
}

// Handle reacts to one coalesced notification.
func (r *Recovery) Handle(ev watcher.Event) {
	if !r.armed() {
		r.logger.Debug("forever: notification while idle, ignored", "event", ev.ID)
		return
	}
	d := r.delay.Draw(r.rnd)
	r.logger.Warn("forever: notification while armed, retrying generate", "event", ev.ID, "delay", d)
	r.sched.AfterFunc(d, func() {
		r.controls.clickGenerate(r.ctx, r.logger, r.activity, ActivityRecovery)
	})
}
