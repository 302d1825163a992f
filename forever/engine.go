// Package forever is the observation-and-control loop: it attaches the
// structural watchers to the host page, injects the forever and auto-save
// toggles, and while armed turns every finished artifact into the next
// generation request. A toast appearing while armed is read as a failed
// request and retried.
//
// Everything in this package runs on one sched.Scheduler loop. Exported
// methods taking a context are safe to call from other goroutines; the
// lower-case ones assume they already run on the loop.
package forever

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/gen4eva/bus"
	"github.com/hazyhaar/gen4eva/locator"
	"github.com/hazyhaar/gen4eva/page"
	"github.com/hazyhaar/gen4eva/sched"
	"github.com/hazyhaar/gen4eva/watcher"
)

// ErrNoGenerateControl is returned by Init when the page has no generate
// button yet.
var ErrNoGenerateControl = errors.New("forever: generate control not found")

// Status is a point-in-time view of the engine.
type Status struct {
	State       string `json:"state"`
	AutoSave    bool   `json:"auto_save"`
	CanSave     bool   `json:"auto_save_available"`
	Attached    bool   `json:"attached"`
	Bootstrap   bool   `json:"bootstrapping"`
	Artifact    string `json:"artifact_watcher"`
	Signature   string `json:"signature,omitempty"`
	Notices     string `json:"notification_watcher"`
	Subscribed  bool   `json:"subscribed"`
	Attachments int    `json:"attachments"`
}

// Engine owns every piece of process-wide state of the loop: the
// controller, both watchers with their handles and the remembered signature,
// and the bootstrap and health timers.
type Engine struct {
	dom    page.DOM
	sched  sched.Scheduler
	opts   Options
	loc    *locator.Locator
	logger *slog.Logger
	report ActivityFunc

	ctx context.Context

	artifactEvents *bus.Subject[watcher.Event]
	noticeEvents   *bus.Subject[watcher.Event]
	artifacts      *watcher.Watcher
	notices        *watcher.Watcher

	controls   *controls
	controller *Controller
	automation *Automation
	recovery   *Recovery
	recoverSub *bus.Subscription

	attached     bool
	attachments  int
	root         page.Node
	region       page.Node
	retry        sched.Timer
	health       sched.Timer
	signalCancel func()
	reloadCancel func()
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithActivity registers a sink for activities (journal, metrics).
func WithActivity(fn ActivityFunc) Option { return func(e *Engine) { e.report = fn } }

// New wires an Engine. Nothing touches the page until Start.
func New(dom page.DOM, s sched.Scheduler, opts Options, options ...Option) *Engine {
	opts.defaults()
	e := &Engine{
		dom:            dom,
		sched:          s,
		opts:           opts,
		logger:         slog.Default(),
		ctx:            context.Background(),
		artifactEvents: bus.NewSubject[watcher.Event](),
		noticeEvents:   bus.NewSubject[watcher.Event](),
	}
	for _, o := range options {
		o(e)
	}
	e.loc = locator.New(dom, e.logger)

	e.artifacts = watcher.New(watcher.Config{
		Kind:      watcher.Artifact,
		DOM:       dom,
		Locator:   e.loc,
		Sched:     s,
		Qualify:   watcher.HasImage,
		Promote:   true,
		Attribute: opts.Selectors.SourceAttribute,
		Emit:      e.artifactEvents.Publish,
		Logger:    e.logger,
	})
	e.notices = watcher.New(watcher.Config{
		Kind:    watcher.Notification,
		DOM:     dom,
		Locator: e.loc,
		Sched:   s,
		Qualify: watcher.HasClass(opts.Selectors.NotificationContainerClass),
		Emit:    e.noticeEvents.Publish,
		Logger:  e.logger,
	})

	e.artifactEvents.Subscribe(func(ev watcher.Event) {
		e.activity(Activity{Kind: ActivityArtifact, Node: ev.Source})
	})
	e.noticeEvents.Subscribe(func(ev watcher.Event) {
		e.activity(Activity{Kind: ActivityNotification, Node: ev.Source})
	})

	e.controls = &controls{dom: dom, loc: e.loc, sel: opts.Selectors}
	e.automation = &Automation{
		controls: e.controls,
		sched:    s,
		delay:    opts.Timing.GenerateDelay,
		rnd:      opts.Rand,
		activity: e.activity,
		logger:   e.logger,
	}
	e.recovery = &Recovery{
		controls: e.controls,
		sched:    s,
		delay:    opts.Timing.RecoveryDelay,
		rnd:      opts.Rand,
		activity: e.activity,
		logger:   e.logger,
	}
	e.controller = newController(dom,
		bus.Debounce[watcher.Event](e.artifactEvents, s, opts.Timing.ArtifactWindow),
		e.automation.Handle, opts, e.activity, e.logger)

	e.automation.autoSave = e.controller.AutoSave
	e.recovery.armed = func() bool { return e.controller.State() == Armed }
	e.controls.skip = e.controller.owns
	return e
}

// Artifacts is the raw artifact event stream.
func (e *Engine) Artifacts() bus.Source[watcher.Event] { return e.artifactEvents }

// Notifications is the raw notification event stream.
func (e *Engine) Notifications() bus.Source[watcher.Event] { return e.noticeEvents }

// Start begins the bootstrap loop. ctx bounds every host call the engine
// makes afterwards.
func (e *Engine) Start(ctx context.Context) error {
	return e.sched.Do(ctx, func() {
		e.ctx = ctx
		e.startBootstrap()
	})
}

// Stop cancels timers, disconnects watchers and removes the toggles.
func (e *Engine) Stop(ctx context.Context) error {
	return e.sched.Do(ctx, e.teardown)
}

// Toggle flips forever mode and returns the new status.
func (e *Engine) Toggle(ctx context.Context) (Status, error) {
	var st Status
	err := e.sched.Do(ctx, func() {
		e.controller.Toggle(e.ctx)
		st = e.status()
	})
	return st, err
}

// ToggleAutoSave flips auto-save and returns the new status. It fails with
// ErrAutoSaveUnavailable when no save selector is configured.
func (e *Engine) ToggleAutoSave(ctx context.Context) (Status, error) {
	var st Status
	var toggleErr error
	err := e.sched.Do(ctx, func() {
		toggleErr = e.controller.ToggleAutoSave(e.ctx)
		st = e.status()
	})
	if err != nil {
		return st, err
	}
	return st, toggleErr
}

// Reinit forces a re-bootstrap, as the page re-entry signal does.
func (e *Engine) Reinit(ctx context.Context) (Status, error) {
	var st Status
	err := e.sched.Do(ctx, func() {
		e.reinit()
		st = e.status()
	})
	return st, err
}

// Status returns the current status.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	var st Status
	err := e.sched.Do(ctx, func() { st = e.status() })
	return st, err
}

func (e *Engine) status() Status {
	return Status{
		State:       e.controller.State().String(),
		AutoSave:    e.controller.AutoSave(),
		CanSave:     e.controller.CanSave(),
		Attached:    e.attached,
		Bootstrap:   e.retry != nil,
		Artifact:    e.artifacts.State().String(),
		Signature:   e.artifacts.Signature(),
		Notices:     e.notices.State().String(),
		Subscribed:  e.controller.Subscribed(),
		Attachments: e.attachments,
	}
}

func (e *Engine) activity(a Activity) {
	if e.report == nil {
		return
	}
	if a.At.IsZero() {
		a.At = e.sched.Now()
	}
	e.report(a)
}

// startBootstrap tries Init now and then every BootstrapInterval until it
// succeeds. It is a no-op while a retry loop is already running.
func (e *Engine) startBootstrap() {
	if e.retry != nil {
		return
	}
	e.stopHealth()
	e.tick()
}

func (e *Engine) tick() {
	e.retry = nil
	if err := e.Init(); err != nil {
		e.logger.Info("forever: bootstrap attempt failed, retrying",
			"in", e.opts.Timing.BootstrapInterval, "error", err)
		e.retry = e.sched.AfterFunc(e.opts.Timing.BootstrapInterval, e.tick)
	}
}

func (e *Engine) reinit() {
	e.logger.Info("forever: re-initialising on request")
	if e.retry != nil {
		e.retry.Stop()
		e.retry = nil
	}
	e.startBootstrap()
}

// Init is one bootstrap attempt. It locates everything it needs before
// attaching anything, so a failed attempt leaves no watcher or toggle
// behind. It must run on the loop.
func (e *Engine) Init() error {
	ctx := e.ctx
	e.automation.ctx = ctx
	e.recovery.ctx = ctx

	e.detach()

	root, err := e.loc.FindUnique(ctx, locator.ByClass(e.opts.Selectors.RootClass))
	if err != nil {
		return e.fail(fmt.Errorf("root container: %w", err))
	}

	gens, err := e.controls.all(ctx)
	if err != nil {
		return e.fail(err)
	}
	if len(gens) == 0 {
		return e.fail(ErrNoGenerateControl)
	}

	region, err := e.loc.FindUnique(ctx, locator.ByClass(e.opts.Selectors.NotificationClass))
	if err != nil {
		return e.fail(fmt.Errorf("notification region: %w", err))
	}

	if e.artifacts.Signature() != "" {
		if err := e.artifacts.Reattach(ctx); err != nil {
			return e.fail(err)
		}
		e.activity(Activity{Kind: ActivityReattach, Node: e.artifacts.Target()})
	} else if err := e.artifacts.WatchContainer(ctx, root.Node); err != nil {
		return e.fail(err)
	}

	if err := e.notices.WatchContainer(ctx, region.Node); err != nil {
		e.artifacts.Detach()
		return e.fail(err)
	}

	if err := e.controller.inject(ctx, gens[0].Handle, e.onForeverClick, e.onAutoSaveClick); err != nil {
		e.artifacts.Detach()
		e.notices.Detach()
		return e.fail(err)
	}

	e.recoverSub = bus.Debounce[watcher.Event](e.noticeEvents, e.sched, e.opts.Timing.NotificationWindow).
		Subscribe(e.recovery.Handle)

	if e.signalCancel == nil {
		cancel, err := e.dom.OnSignal(ctx, e.opts.Signal, e.reinit)
		if err != nil {
			e.logger.Warn("forever: re-entry signal unavailable", "signal", e.opts.Signal, "error", err)
		} else {
			e.signalCancel = cancel
			e.logger.Info("forever: listening for re-entry signal", "signal", e.opts.Signal)
		}
	}
	if e.reloadCancel == nil {
		cancel, err := e.dom.OnReload(ctx, e.onReload)
		if err != nil {
			e.logger.Warn("forever: page reload hook unavailable", "error", err)
		} else {
			e.reloadCancel = cancel
		}
	}

	e.root = root.Node
	e.region = region.Node
	e.attached = true
	e.attachments++
	e.scheduleHealth()
	e.logger.Info("forever: attached",
		"root", root.Handle, "generate", gens[0].Handle,
		"artifact_watcher", e.artifacts.State(), "signature", e.artifacts.Signature())
	e.activity(Activity{Kind: ActivityBootstrapOK, Detail: e.artifacts.State().String()})
	return nil
}

func (e *Engine) fail(err error) error {
	e.activity(Activity{Kind: ActivityBootstrapFail, Detail: err.Error()})
	return err
}

// detach resets everything a previous attachment created. The remembered
// signature survives so Init can reattach without a container pass.
func (e *Engine) detach() {
	e.controller.Reset(e.ctx)
	if e.recoverSub != nil {
		e.recoverSub.Unsubscribe()
		e.recoverSub = nil
	}
	e.artifacts.Detach()
	e.notices.Detach()
	e.root = page.Node{}
	e.region = page.Node{}
	e.attached = false
}

func (e *Engine) teardown() {
	if e.retry != nil {
		e.retry.Stop()
		e.retry = nil
	}
	e.stopHealth()
	e.detach()
	if e.signalCancel != nil {
		e.signalCancel()
		e.signalCancel = nil
	}
	if e.reloadCancel != nil {
		e.reloadCancel()
		e.reloadCancel = nil
	}
}

// onReload runs when the host navigated to a new document. Nothing of the
// old attachment survives it, so this is a full bootstrap.
func (e *Engine) onReload() {
	e.logger.Warn("forever: host page reloaded, re-bootstrapping")
	e.reinit()
}

func (e *Engine) onForeverClick() { e.controller.Toggle(e.ctx) }

func (e *Engine) onAutoSaveClick() {
	if err := e.controller.ToggleAutoSave(e.ctx); err != nil {
		e.logger.Warn("forever: auto-save toggle", "error", err)
	}
}

func (e *Engine) scheduleHealth() {
	e.stopHealth()
	e.health = e.sched.AfterFunc(e.opts.Timing.HealthInterval, e.checkHealth)
}

func (e *Engine) stopHealth() {
	if e.health != nil {
		e.health.Stop()
		e.health = nil
	}
}

// checkHealth notices when the host page re-rendered under us: a detached
// artifact node gets a scoped reattach, anything worse a full bootstrap.
func (e *Engine) checkHealth() {
	e.health = nil
	if !e.attached {
		return
	}
	ctx := e.ctx

	if !e.controller.injected(ctx) {
		e.logger.Warn("forever: toggles gone from page, re-bootstrapping")
		e.startBootstrap()
		return
	}
	if !e.connected(ctx, e.region) {
		e.logger.Warn("forever: notification region detached, re-bootstrapping", "region", e.region.Handle)
		e.startBootstrap()
		return
	}
	if e.artifacts.State() == watcher.ContainerWatching && !e.connected(ctx, e.root) {
		e.logger.Warn("forever: root container detached, re-bootstrapping", "root", e.root.Handle)
		e.startBootstrap()
		return
	}

	if e.artifacts.State() == watcher.NodeWatching {
		live, err := e.artifacts.Live(ctx)
		if err != nil {
			e.logger.Debug("forever: liveness check failed", "error", err)
		}
		if err == nil && !live {
			e.logger.Warn("forever: artifact node detached, reattaching", "signature", e.artifacts.Signature())
			if err := e.artifacts.Reattach(ctx); err != nil {
				e.logger.Warn("forever: reattach failed, re-bootstrapping", "error", err)
				e.startBootstrap()
				return
			}
			e.activity(Activity{Kind: ActivityReattach, Node: e.artifacts.Target()})
		}
	}
	e.scheduleHealth()
}

// connected reports whether n is still in the document. A failed check
// counts as connected; the next health tick asks again.
func (e *Engine) connected(ctx context.Context, n page.Node) bool {
	ok, err := e.dom.Connected(ctx, n.Handle)
	if err != nil {
		e.logger.Debug("forever: liveness check failed", "node", n.Handle, "error", err)
		return true
	}
	return ok
}
