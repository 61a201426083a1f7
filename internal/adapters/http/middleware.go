package httpadapter

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-Id"

// requestScope travels in the request context. Handlers annotate it with QA
// details that the access log emits once the response is written.
type requestScope struct {
	id string

	mu    sync.Mutex
	attrs []any
}

type requestScopeKey struct{}

func scopeFromContext(ctx context.Context) *requestScope {
	if ctx == nil {
		return nil
	}
	scope, _ := ctx.Value(requestScopeKey{}).(*requestScope)
	return scope
}

func requestIDFromContext(ctx context.Context) string {
	if scope := scopeFromContext(ctx); scope != nil {
		return scope.id
	}
	return ""
}

// annotate attaches key/value pairs to the access log line of r.
func annotate(r *http.Request, kv ...any) {
	scope := scopeFromContext(r.Context())
	if scope == nil {
		return
	}
	scope.mu.Lock()
	scope.attrs = append(scope.attrs, kv...)
	scope.mu.Unlock()
}

func (s *requestScope) annotations() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]any(nil), s.attrs...)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		ctx := context.WithValue(r.Context(), requestScopeKey{}, &requestScope{id: id})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// recoverMiddleware turns a handler panic into a JSON 500 unless the
// response has already started.
func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder, ok := w.(*statusRecorder)
		if !ok {
			recorder = &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		}
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			slog.Error("http_handler_panic",
				"request_id", requestIDFromContext(r.Context()),
				"path", r.URL.Path,
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			if !recorder.wroteHeader {
				writeJSON(recorder, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			}
		}()
		next.ServeHTTP(recorder, r)
	})
}

func accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(recorder, r)

		remoteAddr := r.RemoteAddr
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			remoteAddr = host
		}

		attrs := []any{
			"request_id", requestIDFromContext(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.statusCode,
			"duration_ms", float64(time.Since(start).Microseconds()) / 1000.0,
			"bytes", recorder.bytesWritten,
			"remote_addr", remoteAddr,
		}
		if scope := scopeFromContext(r.Context()); scope != nil {
			attrs = append(attrs, scope.annotations()...)
		}

		switch {
		case recorder.statusCode >= 500:
			slog.Error("http_request", attrs...)
		case recorder.statusCode >= 400:
			slog.Warn("http_request", attrs...)
		default:
			slog.Info("http_request", attrs...)
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
	wroteHeader  bool
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytesWritten += n
	return n, err
}

// Flush keeps SSE responses streaming through the recorder.
func (w *statusRecorder) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
