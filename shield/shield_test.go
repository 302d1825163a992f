package shield

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hazyhaar/gen4eva/kit"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func chain(h http.Handler, mws []func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(DefaultHeaders())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/api/status", nil))

	for k, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
		"Referrer-Policy":        "no-referrer",
	} {
		if got := w.Header().Get(k); got != want {
			t.Errorf("%s: got %q, want %q", k, got, want)
		}
	}
}

func TestSecurityHeaders_EmptySkipped(t *testing.T) {
	h := SecurityHeaders(HeaderConfig{XFrameOptions: "DENY"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	if w.Header().Get("Content-Security-Policy") != "" {
		t.Error("empty CSP should not be set")
	}
}

func TestHeadToGet(t *testing.T) {
	var method string
	h := HeadToGet(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("HEAD", "/health", nil))
	if method != http.MethodGet {
		t.Errorf("method: got %s, want GET", method)
	}
}

func TestMaxJSONBody(t *testing.T) {
	var readErr error
	h := MaxJSONBody(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/api/toggle", strings.NewReader(`{"limit": 100000}`)))
	if readErr == nil {
		t.Fatal("expected error reading oversized body")
	}

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/api/toggle", strings.NewReader(`{}`)))
	if readErr != nil {
		t.Fatalf("small body: %v", readErr)
	}
}

func TestRequestID_Generated(t *testing.T) {
	var ctxID string
	var hasLogger bool
	h := RequestID(testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = kit.GetRequestID(r.Context())
		_, hasLogger = r.Context().Value(LoggerKey).(*slog.Logger)
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/api/status", nil))

	if ctxID == "" {
		t.Fatal("no request ID in context")
	}
	if got := w.Header().Get(RequestIDHeader); got != ctxID {
		t.Errorf("response header %q != context %q", got, ctxID)
	}
	if !hasLogger {
		t.Error("no per-request logger")
	}
}

func TestRequestID_Propagated(t *testing.T) {
	var ctxID string
	h := RequestID(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = kit.GetRequestID(r.Context())
	}))
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if ctxID != "abc-123" || w.Header().Get(RequestIDHeader) != "abc-123" {
		t.Errorf("got ctx=%q header=%q", ctxID, w.Header().Get(RequestIDHeader))
	}
}

func TestDefaultStack(t *testing.T) {
	h := chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		GetLogger(r.Context()).Info("handled")
		w.WriteHeader(http.StatusOK)
	}), DefaultStack(testLogger()))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("HEAD", "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	if w.Header().Get(RequestIDHeader) == "" || w.Header().Get("X-Frame-Options") != "DENY" {
		t.Errorf("headers: %v", w.Header())
	}
}
