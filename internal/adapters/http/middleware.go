package httpadapter

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-Id"

type requestScope struct {
	id     string
	logger *slog.Logger
}

type requestScopeKey struct{}

func scopeFromContext(ctx context.Context) (requestScope, bool) {
	if ctx == nil {
		return requestScope{}, false
	}
	scope, ok := ctx.Value(requestScopeKey{}).(requestScope)
	return scope, ok
}

func requestIDFromContext(ctx context.Context) string {
	scope, _ := scopeFromContext(ctx)
	return scope.id
}

// requestLogger returns the logger bound to the request id, or fallback
// outside of requestScopeMiddleware.
func requestLogger(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if scope, ok := scopeFromContext(ctx); ok && scope.logger != nil {
		return scope.logger
	}
	return fallback
}

// requestScopeMiddleware accepts a caller supplied X-Request-Id or mints
// one, echoes it back and binds it to a request logger.
func requestScopeMiddleware(base *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		scope := requestScope{id: id, logger: base.With(slog.String("request_id", id))}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestScopeKey{}, scope)))
	})
}

// recoverMiddleware turns a handler panic into a 500 JSON response. Panics
// after the header was sent only get logged.
func recoverMiddleware(fallback *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := asRecorder(w)
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if v == http.ErrAbortHandler {
				panic(v)
			}
			requestLogger(r.Context(), fallback).Error("http_handler_panic",
				slog.String("panic", fmt.Sprint(v)),
				slog.String("path", r.URL.Path),
				slog.String("stack", string(debug.Stack())),
			)
			if !rec.wroteHeader {
				writeError(rec, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(rec, r)
	})
}

func accessLogMiddleware(fallback *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := asRecorder(w)
		next.ServeHTTP(rec, r)

		remote := r.RemoteAddr
		if host, _, err := net.SplitHostPort(remote); err == nil {
			remote = host
		}
		attrs := []slog.Attr{
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status()),
			slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000.0),
			slog.Int("bytes", rec.bytes),
			slog.String("remote_addr", remote),
		}
		if r.Pattern != "" {
			attrs = append(attrs, slog.String("route", r.Pattern))
		}
		if user := strings.TrimSpace(r.Header.Get(userIDHeader)); user != "" {
			attrs = append(attrs, slog.String("user_id", user))
		}

		level := slog.LevelInfo
		switch {
		case rec.status() >= 500:
			level = slog.LevelError
		case rec.status() >= 400:
			level = slog.LevelWarn
		}
		requestLogger(r.Context(), fallback).LogAttrs(r.Context(), level, "http_request", attrs...)
	})
}

// responseRecorder tracks status and body size. Unwrap lets
// http.ResponseController reach the underlying writer.
type responseRecorder struct {
	http.ResponseWriter
	code        int
	bytes       int
	wroteHeader bool
}

func asRecorder(w http.ResponseWriter) *responseRecorder {
	if rec, ok := w.(*responseRecorder); ok {
		return rec
	}
	return &responseRecorder{ResponseWriter: w}
}

func (w *responseRecorder) status() int {
	if w.code == 0 {
		return http.StatusOK
	}
	return w.code
}

func (w *responseRecorder) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.code = code
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseRecorder) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

func (w *responseRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
