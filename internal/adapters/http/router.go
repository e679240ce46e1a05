package httpadapter

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/kirillkom/notegen/internal/config"
	"github.com/kirillkom/notegen/internal/core/ports"
	"github.com/kirillkom/notegen/internal/observability/metrics"
)

const serviceName = "api"

type Router struct {
	cfg        config.Config
	ingest     ports.NoteIngestor
	dispatcher ports.ProcessDispatcher
	pipeline   ports.NotePipeline
	metrics    *metrics.HTTPServerMetrics
	logger     *slog.Logger
}

type RouterOption func(*Router)

func WithMetrics(m *metrics.HTTPServerMetrics) RouterOption {
	return func(rt *Router) {
		rt.metrics = m
	}
}

func WithLogger(logger *slog.Logger) RouterOption {
	return func(rt *Router) {
		if logger != nil {
			rt.logger = logger
		}
	}
}

func NewRouter(
	cfg config.Config,
	ingest ports.NoteIngestor,
	dispatcher ports.ProcessDispatcher,
	pipeline ports.NotePipeline,
	opts ...RouterOption,
) *Router {
	rt := &Router{
		cfg:        cfg,
		ingest:     ingest,
		dispatcher: dispatcher,
		pipeline:   pipeline,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

func (rt *Router) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /v1/notes", rt.uploadNote)
	api.HandleFunc("POST /v1/notes/{note_id}/process", rt.processNote)
	api.HandleFunc("POST /v1/notes/{note_id}/confirm", rt.confirmNoteType)
	api.HandleFunc("POST /v1/notes/{note_id}/reprocess", rt.reprocessNote)
	api.HandleFunc("GET /v1/notes/{note_id}/status", rt.noteStatus)

	var limited http.Handler = api
	limited = backpressureMiddleware(limited, rt.cfg.APIMaxInFlight, rt.cfg.APIBackpressureWait)
	limited = rateLimitMiddleware(limited, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}
	mux.Handle("/v1/", limited)

	handler := recoverMiddleware(rt.logger, mux)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(rt.logger, handler)
	return requestScopeMiddleware(rt.logger, handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
