// Package kit turns transport-agnostic endpoints into HTTP handlers and MCP
// tools, so the control surfaces of gen4eva share one implementation per
// operation.
package kit

import (
	"context"
	"log/slog"
	"time"
)

// Endpoint is one operation, independent of transport.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares; the first one is outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Logging logs every call with its transport, duration and error.
func Logging(logger *slog.Logger, op string) Middleware {
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			attrs := []any{"op", op, "transport", GetTransport(ctx), "duration", time.Since(start)}
			if id := GetRequestID(ctx); id != "" {
				attrs = append(attrs, "request_id", id)
			}
			if err != nil {
				logger.Warn("control: call failed", append(attrs, "error", err)...)
			} else {
				logger.Debug("control: call", attrs...)
			}
			return resp, err
		}
	}
}
