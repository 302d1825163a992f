// Package gen4eva keeps an image-generation web page generating: whenever
// a new image lands, it clicks Generate again, optionally saving first, and
// retries after error toasts. The user switches the loop on and off with a
// toggle injected next to the page's own Generate button.
//
// Agent wires the pieces together: a Chrome tab (internal/browser), the
// page bridge (internal/bridge), the single-threaded scheduler loop, the
// forever engine, the activity journal and the control surfaces.
package gen4eva

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-rod/rod"

	"github.com/hazyhaar/gen4eva/control"
	"github.com/hazyhaar/gen4eva/forever"
	"github.com/hazyhaar/gen4eva/internal/bridge"
	"github.com/hazyhaar/gen4eva/internal/browser"
	"github.com/hazyhaar/gen4eva/internal/journal"
	"github.com/hazyhaar/gen4eva/sched"
	"github.com/hazyhaar/gen4eva/shield"
)

// ErrNoURL is returned by Start when no host page URL is configured.
var ErrNoURL = errors.New("gen4eva: no page url configured")

// Agent is the top-level orchestrator. Create one per host tab.
type Agent struct {
	cfg    *Config
	logger *slog.Logger

	mgr     *browser.Manager
	loop    *sched.Loop
	loopCtx context.Context
	loopEnd context.CancelFunc
	loopErr chan error

	tab     *browser.Tab
	bridge  *bridge.Bridge
	journal *journal.Journal
	engine  *forever.Engine
	svc     *control.Service
	http    *http.Server
}

// New creates an Agent from configuration.
func New(cfg *Config, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	mode := browser.Headful
	if cfg.Browser.Mode == "headless" {
		mode = browser.Headless
	}
	return &Agent{
		cfg:    cfg,
		logger: logger,
		mgr: browser.NewManager(browser.Config{
			RemoteURL:        cfg.Browser.Remote,
			Mode:             mode,
			UserDataDir:      cfg.Browser.UserDataDir,
			Stealth:          !cfg.Browser.DisableStealth,
			ResourceBlocking: cfg.Browser.ResourceBlocking,
			Logger:           logger,
		}),
		loop: sched.NewLoop(logger),
	}
}

// Start launches the browser, opens the host page with the bridge
// attached, and starts the engine's bootstrap loop. It returns once the
// loop is running; the engine attaches on its own schedule.
func (a *Agent) Start(ctx context.Context) error {
	if a.cfg.Page.URL == "" {
		return ErrNoURL
	}

	// The loop and every host call it makes outlive ctx until Stop, so the
	// toggles can still be removed on shutdown.
	a.loopCtx, a.loopEnd = context.WithCancel(context.Background())
	a.loopErr = make(chan error, 1)
	go func() { a.loopErr <- a.loop.Run(a.loopCtx) }()

	if a.cfg.Journal.Path != "" {
		j, err := journal.Open(journal.Config{Path: a.cfg.Journal.Path, Buffer: a.cfg.Journal.Buffer, Logger: a.logger})
		if err != nil {
			a.Stop()
			return fmt.Errorf("gen4eva: %w", err)
		}
		a.journal = j
	}

	if _, err := a.mgr.Start(ctx); err != nil {
		a.Stop()
		return fmt.Errorf("gen4eva: start browser: %w", err)
	}

	tab, err := browser.OpenTab(ctx, a.mgr, a.cfg.Page.URL, a.cfg.Page.NavigateTimeout, func(p *rod.Page) error {
		b, err := bridge.Attach(ctx, p, a.loop, a.logger)
		if err != nil {
			return err
		}
		a.bridge = b
		return nil
	})
	if err != nil {
		a.Stop()
		return fmt.Errorf("gen4eva: open tab: %w", err)
	}
	a.tab = tab

	opts := []forever.Option{forever.WithLogger(a.logger)}
	if a.journal != nil {
		opts = append(opts, forever.WithActivity(a.journal.Record))
	}
	a.engine = forever.New(a.bridge, a.loop, a.cfg.Options(), opts...)

	if a.journal != nil {
		a.svc = control.New(a.engine, a.journal, a.logger)
	} else {
		a.svc = control.New(a.engine, nil, a.logger)
	}

	if err := a.engine.Start(a.loopCtx); err != nil {
		a.Stop()
		return fmt.Errorf("gen4eva: start engine: %w", err)
	}

	if addr := a.cfg.Control.HTTPAddr; addr != "" {
		r := chi.NewRouter()
		for _, mw := range shield.DefaultStack(a.logger) {
			r.Use(mw)
		}
		a.svc.RegisterHTTP(r)
		a.http = &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := a.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("gen4eva: http server", "addr", addr, "error", err)
			}
		}()
		a.logger.Info("gen4eva: control API listening", "addr", addr)
	}

	a.logger.Info("gen4eva: started", "url", a.cfg.Page.URL, "revision", bridge.Revision())
	return nil
}

// Control returns the control service, for registering MCP tools. It is
// nil before Start succeeds.
func (a *Agent) Control() *control.Service { return a.svc }

// Engine returns the forever engine. It is nil before Start succeeds.
func (a *Agent) Engine() *forever.Engine { return a.engine }

// Stop removes the injected toggles, stops every component and closes a
// launched browser. A remote browser and its tab are left open.
func (a *Agent) Stop() {
	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if a.http != nil {
		if err := a.http.Shutdown(shutdown); err != nil {
			a.logger.Warn("gen4eva: http shutdown", "error", err)
		}
		a.http = nil
	}
	if a.engine != nil {
		if err := a.engine.Stop(shutdown); err != nil {
			a.logger.Warn("gen4eva: engine stop", "error", err)
		}
	}
	if a.loopEnd != nil {
		a.loopEnd()
		<-a.loopErr
		a.loopEnd = nil
	}
	if a.bridge != nil {
		a.bridge.Close()
		a.bridge = nil
	}
	if a.tab != nil {
		if err := a.tab.Close(); err != nil {
			a.logger.Debug("gen4eva: close tab", "error", err)
		}
		a.tab = nil
	}
	if err := a.mgr.Close(); err != nil {
		a.logger.Warn("gen4eva: close browser", "error", err)
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.logger.Warn("gen4eva: close journal", "error", err)
		}
		a.journal = nil
	}
	a.logger.Info("gen4eva: stopped")
}
