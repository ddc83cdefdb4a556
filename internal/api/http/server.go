package apihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/BMH-cyber/music/internal/domain"
	"github.com/BMH-cyber/music/internal/search"
)

type SearchService interface {
	Search(ctx context.Context, query string) (domain.Resolution, error)
	Providers() []domain.ProviderInfo
	ProviderDiagnostics() []domain.ProviderDiagnostics
}

type PipelineService interface {
	Submit(ctx context.Context, conversationID, text string) (domain.Ack, error)
	Cancel(ctx context.Context, conversationID string) int
	Skip(ctx context.Context, conversationID string) bool
	Queue(ctx context.Context, conversationID string) domain.QueueSnapshot
	Snapshot(conversationID string) domain.QueueSnapshot
	Stats() domain.QueueStats
}

type Server struct {
	search   SearchService
	pipeline PipelineService
	events   http.Handler
	logger   *slog.Logger

	rateLimit float64
	rateBurst int
}

const maxQueryLength = 500

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithEvents mounts the websocket event stream at /events.
func WithEvents(events http.Handler) ServerOption {
	return func(s *Server) {
		s.events = events
	}
}

func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		if rps > 0 && burst > 0 {
			s.rateLimit = rps
			s.rateBurst = burst
		}
	}
}

func NewServer(searchService SearchService, pipeline PipelineService, options ...ServerOption) *Server {
	server := &Server{
		search:    searchService,
		pipeline:  pipeline,
		logger:    slog.Default(),
		rateLimit: 50,
		rateBurst: 100,
	}
	for _, option := range options {
		if option != nil {
			option(server)
		}
	}
	if server.logger == nil {
		server.logger = slog.Default()
	}
	return server
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /providers", s.handleProviders)
	mux.HandleFunc("GET /providers/health", s.handleProvidersHealth)
	mux.HandleFunc("GET /resolve", s.handleResolve)
	mux.HandleFunc("POST /conversations/{id}/queries", s.handleSubmit)
	mux.HandleFunc("GET /conversations/{id}/queue", s.handleQueue)
	mux.HandleFunc("DELETE /conversations/{id}/queue", s.handleCancel)
	mux.HandleFunc("POST /conversations/{id}/skip", s.handleSkip)
	if s.events != nil {
		mux.Handle("GET /events", s.events)
	}
	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "songbot",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/health" && p != "/events"
		}),
	)
	return recoveryMiddleware(s.logger, rateLimitMiddleware(s.rateLimit, s.rateBurst, metricsMiddleware(traced)))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	}
	if s.pipeline != nil {
		payload["queue"] = s.pipeline.Stats()
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleProviders(w http.ResponseWriter, _ *http.Request) {
	if s.search == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": s.search.Providers()})
}

func (s *Server) handleProvidersHealth(w http.ResponseWriter, _ *http.Request) {
	if s.search == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"checkedAt": time.Now().UTC(),
		"items":     s.search.ProviderDiagnostics(),
	})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	if s.search == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
		return
	}
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if !validQuery(w, query) {
		return
	}
	resolution, err := s.search.Search(r.Context(), query)
	if err != nil {
		s.logger.Warn("resolve request failed",
			slog.String("query", truncate(query, 80)),
			slog.String("error", err.Error()),
		)
		writeSearchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resolution)
}

type submitRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "pipeline is not configured")
		return
	}
	conversationID := strings.TrimSpace(r.PathValue("id"))
	var body submitRequest
	if err := decodeJSONBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	text := strings.TrimSpace(body.Text)
	if !validQuery(w, text) {
		return
	}

	ack, err := s.pipeline.Submit(r.Context(), conversationID, text)
	if err != nil {
		s.logger.Warn("submit failed",
			slog.String("conversation", conversationID),
			slog.String("error", err.Error()),
		)
		switch {
		case errors.Is(err, domain.ErrQueueClosed):
			writeError(w, http.StatusServiceUnavailable, "service_unavailable", err.Error())
		default:
			writeSearchError(w, err)
		}
		return
	}
	status := http.StatusAccepted
	if ack.Status != domain.AckQueued {
		status = http.StatusOK
	}
	writeJSON(w, status, ack)
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "pipeline is not configured")
		return
	}
	conversationID := r.PathValue("id")
	if parseOptionalBool(r.URL.Query().Get("announce")) {
		writeJSON(w, http.StatusOK, s.pipeline.Queue(r.Context(), conversationID))
		return
	}
	writeJSON(w, http.StatusOK, s.pipeline.Snapshot(conversationID))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "pipeline is not configured")
		return
	}
	removed := s.pipeline.Cancel(r.Context(), r.PathValue("id"))
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "pipeline is not configured")
		return
	}
	skipped := s.pipeline.Skip(r.Context(), r.PathValue("id"))
	writeJSON(w, http.StatusOK, map[string]any{"skipped": skipped})
}

func validQuery(w http.ResponseWriter, query string) bool {
	if query == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "query is required")
		return false
	}
	if len(query) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "query too long (max 500 characters)")
		return false
	}
	return true
}

func writeSearchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, search.ErrInvalidQuery):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, search.ErrNoProviders):
		writeError(w, http.StatusServiceUnavailable, "service_unavailable", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout", "search timed out")
	default:
		writeError(w, http.StatusBadGateway, "search_failed", "search failed")
	}
}

func decodeJSONBody(r *http.Request, dest any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}

	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid json body: %w", err)
	}
	return nil
}

func parseOptionalBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
