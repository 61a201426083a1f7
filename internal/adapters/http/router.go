package httpadapter

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/kirillkom/archive-qa/internal/config"
	"github.com/kirillkom/archive-qa/internal/core/domain"
	"github.com/kirillkom/archive-qa/internal/core/ports"
	"github.com/kirillkom/archive-qa/internal/observability/metrics"
)

const serviceName = "api"

type Router struct {
	cfg       config.Config
	qa        ports.QuestionAnswerer
	index     ports.IndexSynchronizer
	metrics   *metrics.HTTPServerMetrics
	validator *requestValidator
}

type indexSyncRequest struct {
	Events []domain.IndexEvent `json:"events"`
}

// NewRouter builds the HTTP surface. metrics may be nil.
func NewRouter(
	cfg config.Config,
	qa ports.QuestionAnswerer,
	index ports.IndexSynchronizer,
	httpMetrics *metrics.HTTPServerMetrics,
) (*Router, error) {
	validator, err := newRequestValidator()
	if err != nil {
		return nil, err
	}
	return &Router{
		cfg:       cfg,
		qa:        qa,
		index:     index,
		metrics:   httpMetrics,
		validator: validator,
	}, nil
}

func (rt *Router) Handler() http.Handler {
	var onReject func(*http.Request)
	if rt.metrics != nil {
		onReject = func(r *http.Request) { rt.metrics.RecordRateLimited(serviceName, r.URL.Path) }
	}
	guard := func(h http.HandlerFunc) http.Handler {
		limited := rateLimitMiddleware(h, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst, onReject)
		return backpressureMiddleware(limited, rt.cfg.APIMaxInFlight, time.Duration(rt.cfg.APIBackpressureWaitMS)*time.Millisecond)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.Handle("/v1/qa/ask", guard(rt.ask))
	mux.Handle("/v1/qa/ask/stream", guard(rt.askStream))
	mux.HandleFunc("/v1/index/sync", rt.indexSync)

	var handler http.Handler = mux
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	return requestIDMiddleware(accessLogMiddleware(recoverMiddleware(handler)))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) ask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req domain.AskRequest
	if err := rt.validator.decode(r, "AskRequest", &req); err != nil {
		writeError(w, r, err)
		return
	}
	rt.recordAsk(r, "ask", req)

	result, err := rt.qa.Ask(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	annotate(r, "session_id", result.SessionID, "strategy", string(result.Strategy), "ambiguous", result.AmbiguityMessage != "")
	if rt.metrics != nil && result.Answer != nil {
		rt.metrics.RecordReferences(serviceName, "ask", len(result.Answer.References))
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) askStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req domain.AskRequest
	if err := rt.validator.decode(r, "AskRequest", &req); err != nil {
		writeError(w, r, err)
		return
	}
	rt.recordAsk(r, "ask_stream", req)

	events, err := rt.qa.Stream(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	// The pipeline closes the channel after its terminal event or after the
	// request context is cancelled, so draining always ends.
	defer func() {
		for range events {
		}
	}()

	stream, err := newSSEWriter(w)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	for ev := range events {
		if ev.Type.Terminal() {
			annotate(r, "session_id", ev.SessionID, "terminal_event", string(ev.Type))
		}
		if err := stream.writeEvent(ev); err != nil {
			slog.Warn("sse_write_failed",
				"request_id", requestIDFromContext(r.Context()),
				"session_id", ev.SessionID,
				"error", err,
			)
			return
		}
		if rt.metrics != nil && ev.Type == domain.EventReferences {
			refs, _ := ev.Data["references"].([]domain.Reference)
			rt.metrics.RecordReferences(serviceName, "ask_stream", len(refs))
		}
	}
}

func (rt *Router) indexSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if rt.index == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "index sync is not configured"})
		return
	}

	var req indexSyncRequest
	if err := rt.validator.decode(r, "IndexSyncRequest", &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := rt.index.Request(r.Context(), req.Events); err != nil {
		writeError(w, r, err)
		return
	}
	if rt.metrics != nil {
		for _, ev := range req.Events {
			rt.metrics.RecordIndexRequest(serviceName, string(ev.Operation))
		}
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": len(req.Events)})
}

func (rt *Router) recordAsk(r *http.Request, endpoint string, req domain.AskRequest) {
	annotate(r, "scope_id", req.ScopeID, "resume", req.IsResume())
	if rt.metrics != nil {
		rt.metrics.RecordAskRequest(serviceName, endpoint, req.IsResume())
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("http_handler_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"status", status,
			"error_kind", domain.KindName(err),
			"error", err,
		)
	}
	writeJSON(w, status, map[string]string{"error": publicErrorMessage(status, err)})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Warn("http_write_failed", "error", err)
	}
}
