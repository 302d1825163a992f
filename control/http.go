package control

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/gen4eva/forever"
	"github.com/hazyhaar/gen4eva/kit"
)

// RegisterHTTP mounts the control API on r.
func (s *Service) RegisterHTTP(r chi.Router) {
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		kit.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", kit.HTTPHandler(s.status, nil))
		r.Post("/toggle", kit.HTTPHandler(s.toggle, nil))
		r.Post("/autosave", kit.HTTPHandler(httpAutoSave(s.autoSave), nil))
		r.Post("/reinit", kit.HTTPHandler(s.reinit, nil))
		r.Get("/activity", kit.HTTPHandler(httpActivity(s.activity), decodeActivity))
	})
}

// httpActivity maps a disabled journal to 404.
func httpActivity(next kit.Endpoint) kit.Endpoint {
	return func(ctx context.Context, req any) (any, error) {
		resp, err := next(ctx, req)
		if errors.Is(err, ErrNoJournal) {
			return nil, &kit.HTTPError{Code: http.StatusNotFound, Err: err}
		}
		return resp, err
	}
}

// httpAutoSave maps a missing save selector to 409.
func httpAutoSave(next kit.Endpoint) kit.Endpoint {
	return func(ctx context.Context, req any) (any, error) {
		resp, err := next(ctx, req)
		if errors.Is(err, forever.ErrAutoSaveUnavailable) {
			return nil, &kit.HTTPError{Code: http.StatusConflict, Err: err}
		}
		return resp, err
	}
}

func decodeActivity(r *http.Request) (any, error) {
	req := &ActivityRequest{Kind: r.URL.Query().Get("kind")}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("limit: want a non-negative integer, got %q", v)
		}
		req.Limit = n
	}
	return req, nil
}
