package kit

import (
	"encoding/json"
	"errors"
	"net/http"
)

// HTTPError lets an endpoint error choose its status code.
type HTTPError struct {
	Code int
	Err  error
}

func (e *HTTPError) Error() string { return e.Err.Error() }
func (e *HTTPError) Unwrap() error { return e.Err }

// HTTPHandler adapts an Endpoint. decode builds the request from r; a
// decode error is answered with 400. Endpoint errors are 500 unless they
// wrap an *HTTPError.
func HTTPHandler(endpoint Endpoint, decode func(*http.Request) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req any
		if decode != nil {
			var err error
			if req, err = decode(r); err != nil {
				WriteError(w, http.StatusBadRequest, err)
				return
			}
		}
		ctx := WithTransport(r.Context(), "http")
		if id := r.Header.Get("X-Request-Id"); id != "" {
			ctx = WithRequestID(ctx, id)
		}

		resp, err := endpoint(ctx, req)
		if err != nil {
			code := http.StatusInternalServerError
			var he *HTTPError
			if errors.As(err, &he) {
				code = he.Code
			}
			WriteError(w, code, err)
			return
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, code int, err error) {
	WriteJSON(w, code, map[string]string{"error": err.Error()})
}
