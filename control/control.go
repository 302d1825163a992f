// Package control exposes the engine to the operator over HTTP and MCP:
// read the status, flip the toggles, force a re-bootstrap and browse the
// activity journal.
package control

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hazyhaar/gen4eva/forever"
	"github.com/hazyhaar/gen4eva/internal/journal"
	"github.com/hazyhaar/gen4eva/kit"
)

// ErrNoJournal is returned by activity queries when journaling is off.
var ErrNoJournal = errors.New("control: journal disabled")

// Engine is the part of *forever.Engine the control surfaces drive.
type Engine interface {
	Status(ctx context.Context) (forever.Status, error)
	Toggle(ctx context.Context) (forever.Status, error)
	ToggleAutoSave(ctx context.Context) (forever.Status, error)
	Reinit(ctx context.Context) (forever.Status, error)
}

// Journal is the read side of *journal.Journal.
type Journal interface {
	Recent(ctx context.Context, limit int, kind string) ([]journal.Entry, error)
	Stats(ctx context.Context) (journal.Stats, error)
}

// Service holds one endpoint per operation, shared by both transports.
type Service struct {
	engine  Engine
	journal Journal
	logger  *slog.Logger

	status   kit.Endpoint
	toggle   kit.Endpoint
	autoSave kit.Endpoint
	reinit   kit.Endpoint
	activity kit.Endpoint
}

// New builds the service. j may be nil when journaling is disabled.
func New(engine Engine, j Journal, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{engine: engine, journal: j, logger: logger}

	wrap := func(op string, e kit.Endpoint) kit.Endpoint {
		return kit.Chain(kit.Logging(logger, op))(e)
	}
	s.status = wrap("status", s.doStatus)
	s.toggle = wrap("toggle", s.engineCall(engine.Toggle))
	s.autoSave = wrap("autosave", s.engineCall(engine.ToggleAutoSave))
	s.reinit = wrap("reinit", s.engineCall(engine.Reinit))
	s.activity = wrap("activity", s.doActivity)
	return s
}

// StatusResponse is the engine status plus journal counters when available.
type StatusResponse struct {
	forever.Status
	Journal *journal.Stats `json:"journal,omitempty"`
}

func (s *Service) doStatus(ctx context.Context, _ any) (any, error) {
	st, err := s.engine.Status(ctx)
	if err != nil {
		return nil, err
	}
	resp := &StatusResponse{Status: st}
	if s.journal != nil {
		js, err := s.journal.Stats(ctx)
		if err != nil {
			s.logger.Warn("control: journal stats", "error", err)
		} else {
			resp.Journal = &js
		}
	}
	return resp, nil
}

func (s *Service) engineCall(fn func(context.Context) (forever.Status, error)) kit.Endpoint {
	return func(ctx context.Context, _ any) (any, error) {
		st, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		return &st, nil
	}
}

// ActivityRequest selects journal entries.
type ActivityRequest struct {
	Limit int    `json:"limit"`
	Kind  string `json:"kind"`
}

// ActivityResponse lists entries newest first.
type ActivityResponse struct {
	Entries []journal.Entry `json:"entries"`
	Stats   journal.Stats   `json:"stats"`
}

func (s *Service) doActivity(ctx context.Context, req any) (any, error) {
	if s.journal == nil {
		return nil, ErrNoJournal
	}
	r, _ := req.(*ActivityRequest)
	if r == nil {
		r = &ActivityRequest{}
	}
	entries, err := s.journal.Recent(ctx, r.Limit, r.Kind)
	if err != nil {
		return nil, err
	}
	st, err := s.journal.Stats(ctx)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	return &ActivityResponse{Entries: entries, Stats: st}, nil
}
