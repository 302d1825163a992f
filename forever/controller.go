package forever

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/gen4eva/bus"
	"github.com/hazyhaar/gen4eva/page"
	"github.com/hazyhaar/gen4eva/watcher"
)

// ErrInconsistentToggle is logged when a disarm finds no subscription to
// cancel. It never propagates past the controller.
var ErrInconsistentToggle = errors.New("forever: inconsistent toggle state")

// ErrAutoSaveUnavailable is returned when auto-save is switched on without a
// configured save control.
var ErrAutoSaveUnavailable = errors.New("forever: auto-save needs selectors.save_class")

// LoopState is the forever-mode state.
type LoopState int

const (
	Idle LoopState = iota
	Armed
)

func (s LoopState) String() string {
	if s == Armed {
		return "armed"
	}
	return "idle"
}

// toggle is an injected two-state button.
type toggle struct {
	dom  page.DOM
	look Appearance
	node page.Node
}

func (t *toggle) control(on bool) page.Control {
	if on {
		return page.Control{Label: t.look.OnLabel, Background: t.look.OnColor}
	}
	return page.Control{Label: t.look.OffLabel, Background: t.look.OffColor}
}

func (t *toggle) insert(ctx context.Context, anchor page.Handle, on bool, onClick func()) error {
	n, err := t.dom.InsertControl(ctx, anchor, t.control(on), onClick)
	if err != nil {
		return err
	}
	t.node = n
	return nil
}

func (t *toggle) render(ctx context.Context, on bool) error {
	if !t.node.Valid() {
		return nil
	}
	return t.dom.UpdateControl(ctx, t.node.Handle, t.control(on))
}

func (t *toggle) remove(ctx context.Context) {
	if !t.node.Valid() {
		return
	}
	_ = t.dom.Remove(ctx, t.node.Handle)
	t.node = page.Node{}
}

func (t *toggle) live(ctx context.Context) bool {
	if !t.node.Valid() {
		return false
	}
	ok, err := t.dom.Connected(ctx, t.node.Handle)
	return err == nil && ok
}

// Controller is the Idle/Armed state machine. While Armed exactly one
// subscription of the automation handler to the coalesced artifact stream
// exists; while Idle none does.
type Controller struct {
	artifacts bus.Source[watcher.Event]
	handle    func(watcher.Event)
	activity  ActivityFunc
	logger    *slog.Logger

	state    LoopState
	sub      *bus.Subscription
	autoSave bool
	// canSave is false without a save selector; the auto-save toggle is
	// then never injected.
	canSave bool

	forever  *toggle
	saveCtrl *toggle
}

func newController(dom page.DOM, artifacts bus.Source[watcher.Event], handle func(watcher.Event), opts Options, activity ActivityFunc, logger *slog.Logger) *Controller {
	canSave := opts.Selectors.SaveClass != ""
	if opts.AutoSaveEnabled && !canSave {
		logger.Warn("forever: auto-save requested without a save selector, disabled", "error", ErrAutoSaveUnavailable)
	}
	return &Controller{
		artifacts: artifacts,
		handle:    handle,
		activity:  activity,
		logger:    logger,
		autoSave:  opts.AutoSaveEnabled && canSave,
		canSave:   canSave,
		forever:   &toggle{dom: dom, look: opts.Forever},
		saveCtrl:  &toggle{dom: dom, look: opts.AutoSave},
	}
}

// State returns the current loop state.
func (c *Controller) State() LoopState { return c.state }

// AutoSave reports whether auto-save is enabled.
func (c *Controller) AutoSave() bool { return c.autoSave }

// CanSave reports whether auto-save can be switched on at all.
func (c *Controller) CanSave() bool { return c.canSave }

// Subscribed reports whether the automation subscription is live.
func (c *Controller) Subscribed() bool { return c.sub.Active() }

// Toggle flips between Idle and Armed.
func (c *Controller) Toggle(ctx context.Context) {
	if c.state == Armed {
		c.disarm(ctx)
		return
	}
	c.arm(ctx)
}

func (c *Controller) arm(ctx context.Context) {
	if c.sub.Active() {
		c.logger.Error("forever: arm with live subscription", "error", ErrInconsistentToggle)
		c.sub.Unsubscribe()
	}
	c.state = Armed
	c.sub = c.artifacts.Subscribe(c.handle)
	if err := c.forever.render(ctx, true); err != nil {
		c.logger.Warn("forever: render toggle failed", "error", err)
	}
	c.logger.Info("forever: armed")
	c.activity(Activity{Kind: ActivityArmed})
}

func (c *Controller) disarm(ctx context.Context) {
	c.state = Idle
	if !c.sub.Unsubscribe() {
		c.logger.Error("forever: disarm without subscription", "error", ErrInconsistentToggle)
	}
	c.sub = nil
	if err := c.forever.render(ctx, false); err != nil {
		c.logger.Warn("forever: render toggle failed", "error", err)
	}
	c.logger.Info("forever: disarmed")
	c.activity(Activity{Kind: ActivityDisarmed})
}

// ToggleAutoSave flips the auto-save flag. Without a save selector the flag
// stays off and ErrAutoSaveUnavailable is returned.
func (c *Controller) ToggleAutoSave(ctx context.Context) error {
	if !c.canSave {
		return ErrAutoSaveUnavailable
	}
	c.autoSave = !c.autoSave
	if err := c.saveCtrl.render(ctx, c.autoSave); err != nil {
		c.logger.Warn("forever: render auto-save toggle failed", "error", err)
	}
	c.logger.Info("forever: auto-save changed", "enabled", c.autoSave)
	return nil
}

// Reset returns to Idle, drops any subscription and removes the injected
// toggles. Every bootstrap starts with it.
func (c *Controller) Reset(ctx context.Context) {
	if c.sub.Unsubscribe() {
		c.logger.Info("forever: reset dropped live subscription")
	}
	c.sub = nil
	c.state = Idle
	c.forever.remove(ctx)
	c.saveCtrl.remove(ctx)
}

// inject places the toggles after anchor: the forever toggle always, the
// auto-save toggle only when a save selector is configured. onForever and
// onSave are the click handlers.
func (c *Controller) inject(ctx context.Context, anchor page.Handle, onForever, onSave func()) error {
	if err := c.forever.insert(ctx, anchor, c.state == Armed, onForever); err != nil {
		return fmt.Errorf("forever: inject toggle: %w", err)
	}
	if !c.canSave {
		return nil
	}
	if err := c.saveCtrl.insert(ctx, anchor, c.autoSave, onSave); err != nil {
		c.forever.remove(ctx)
		return fmt.Errorf("forever: inject auto-save toggle: %w", err)
	}
	return nil
}

// owns reports whether h is one of the injected toggles.
func (c *Controller) owns(h page.Handle) bool {
	return h != "" && (h == c.forever.node.Handle || h == c.saveCtrl.node.Handle)
}

// injected reports whether the injected toggles are still in the document.
func (c *Controller) injected(ctx context.Context) bool {
	if !c.forever.live(ctx) {
		return false
	}
	return !c.canSave || c.saveCtrl.live(ctx)
}
