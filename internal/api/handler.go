// Package api exposes the gateway's HTTP surface: blocking and
// streaming chat completion, liveness, backend health, and metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/talentai/llm-gateway/internal/archive"
	"github.com/talentai/llm-gateway/internal/backend"
	"github.com/talentai/llm-gateway/internal/domain"
	"github.com/talentai/llm-gateway/internal/limiter"
	"github.com/talentai/llm-gateway/internal/metrics"
	"github.com/talentai/llm-gateway/internal/registry"
	"github.com/talentai/llm-gateway/internal/stream"
	"github.com/talentai/llm-gateway/internal/telemetry"
)

type HandlerConfig struct {
	Registry       *registry.Registry
	Limiter        limiter.Limiter
	Archiver       archive.Archiver
	Health         *HealthReporter
	RequestTimeout time.Duration
}

type Handler struct {
	registry       *registry.Registry
	limiter        limiter.Limiter
	archiver       archive.Archiver
	health         *HealthReporter
	requestTimeout time.Duration
	mux            *http.ServeMux
}

func NewHandler(cfg HandlerConfig) *Handler {
	h := &Handler{
		registry:       cfg.Registry,
		limiter:        cfg.Limiter,
		archiver:       cfg.Archiver,
		health:         cfg.Health,
		requestTimeout: cfg.RequestTimeout,
	}
	if h.archiver == nil {
		h.archiver = archive.LogArchiver{}
	}

	h.mux = http.NewServeMux()
	h.mux.HandleFunc("POST /v1/chat", h.handleChat)
	h.mux.HandleFunc("POST /v1/chat/stream", h.handleChatStream)
	h.mux.HandleFunc("GET /healthz", h.handleHealthz)
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// handleChat is the blocking path: validate, dispatch, accumulate,
// return content plus the metrics envelope.
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := requestID(r)

	req, adapter, ok := h.admit(w, r, requestID)
	if !ok {
		return
	}

	release, err := h.limiter.Acquire(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	defer release()
	metrics.InFlightRequests.Inc()
	defer metrics.InFlightRequests.Dec()

	ctx, cancel := h.requestContext(r)
	defer cancel()

	ctx, span := telemetry.StartSpan(ctx, "chat.complete")
	defer span.End()
	telemetry.AddRequestAttributes(span, adapter.ID(), req.Model, requestID, false)

	rec := metrics.NewRecorder(req.Model, false, adapter.Simulated())

	completion, err := adapter.Complete(ctx, req)
	if err != nil {
		err = normalizeTimeout(ctx.Err(), err)
		telemetry.AddErrorAttribute(span, err)
		metrics.RecordBackendError(adapter.ID(), domain.ErrorKind(err))
		metrics.RecordRequest(adapter.ID(), req.Model, "blocking", domain.ErrorKind(err), time.Since(start).Seconds())
		slog.Error("completion failed",
			"request_id", requestID,
			"backend", adapter.ID(),
			"model", req.Model,
			"kind", domain.ErrorKind(err),
			"error", err,
		)
		writeError(w, err)
		return
	}

	rec.SetUsage(completion.Usage)
	snap := rec.Snapshot()

	telemetry.AddTokenAttributes(span, completion.Usage.InputTokens, completion.Usage.OutputTokens)
	metrics.RecordRequest(adapter.ID(), req.Model, "blocking", "success", snap.TotalLatency)
	metrics.RecordTokens(adapter.ID(), req.Model, completion.Usage.InputTokens, completion.Usage.OutputTokens)

	archive.Async(h.archiver, archive.Conversation{
		RequestID:    requestID,
		Model:        req.Model,
		Backend:      adapter.ID(),
		Messages:     req.Messages,
		Content:      completion.Content,
		InputTokens:  completion.Usage.InputTokens,
		OutputTokens: completion.Usage.OutputTokens,
		LatencyMs:    time.Since(start).Milliseconds(),
		Streamed:     false,
		CreatedAt:    time.Now(),
	})

	slog.Info("request completed",
		"request_id", requestID,
		"backend", adapter.ID(),
		"model", req.Model,
		"latency_ms", time.Since(start).Milliseconds(),
		"output_tokens", completion.Usage.OutputTokens,
	)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)
	json.NewEncoder(w).Encode(domain.ChatResponse{
		Content: completion.Content,
		Metrics: *snap,
	})
}

// handleChatStream is the streaming path: validate, dispatch through
// the multiplexer, finish with exactly one terminal frame.
func (h *Handler) handleChatStream(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := requestID(r)

	req, adapter, ok := h.admit(w, r, requestID)
	if !ok {
		return
	}

	release, err := h.limiter.Acquire(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	defer release()
	metrics.InFlightRequests.Inc()
	defer metrics.InFlightRequests.Dec()
	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	ctx, cancel := h.requestContext(r)
	defer cancel()

	ctx, span := telemetry.StartSpan(ctx, "chat.stream")
	defer span.End()
	telemetry.AddRequestAttributes(span, adapter.ID(), req.Model, requestID, true)

	rec := metrics.NewRecorder(req.Model, true, adapter.Simulated())

	mux, err := stream.New(w, rec)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("X-Request-ID", requestID)

	if adapter.Simulated() {
		slog.Debug("serving simulated stream, timing figures are synthetic",
			"request_id", requestID,
			"backend", adapter.ID(),
		)
	}

	events, errs := adapter.Stream(ctx, req)
	snap, err := mux.Run(ctx, events, errs)

	switch {
	case err == nil:
		telemetry.AddTokenAttributes(span, deref(snap.InputTokens), deref(snap.OutputTokens))
		if snap.TTFT != nil {
			telemetry.AddTTFTAttribute(span, *snap.TTFT)
			metrics.ObserveTTFT(adapter.ID(), req.Model, *snap.TTFT)
		}
		metrics.RecordRequest(adapter.ID(), req.Model, "stream", "success", snap.TotalLatency)
		metrics.RecordTokens(adapter.ID(), req.Model, deref(snap.InputTokens), deref(snap.OutputTokens))

		archive.Async(h.archiver, archive.Conversation{
			RequestID:    requestID,
			Model:        req.Model,
			Backend:      adapter.ID(),
			Messages:     req.Messages,
			Content:      mux.Content(),
			InputTokens:  deref(snap.InputTokens),
			OutputTokens: deref(snap.OutputTokens),
			LatencyMs:    time.Since(start).Milliseconds(),
			Streamed:     true,
			CreatedAt:    time.Now(),
		})

		slog.Info("streaming request completed",
			"request_id", requestID,
			"backend", adapter.ID(),
			"model", req.Model,
			"latency_ms", time.Since(start).Milliseconds(),
			"output_tokens", deref(snap.OutputTokens),
			"simulated", adapter.Simulated(),
		)

	case errors.Is(err, context.Canceled):
		// Client went away. Not a failure; no further frames were
		// written and the adapter goroutine unwinds on the same
		// context.
		metrics.RecordRequest(adapter.ID(), req.Model, "stream", "cancelled", time.Since(start).Seconds())
		slog.Info("stream cancelled by client",
			"request_id", requestID,
			"backend", adapter.ID(),
			"model", req.Model,
		)

	default:
		err = normalizeTimeout(ctx.Err(), err)
		telemetry.AddErrorAttribute(span, err)
		metrics.RecordBackendError(adapter.ID(), domain.ErrorKind(err))
		metrics.RecordRequest(adapter.ID(), req.Model, "stream", domain.ErrorKind(err), time.Since(start).Seconds())
		slog.Error("streaming failed",
			"request_id", requestID,
			"backend", adapter.ID(),
			"model", req.Model,
			"kind", domain.ErrorKind(err),
			"error", err,
		)
	}
}

// admit runs RECEIVED → VALIDATED: decode, validate, and resolve the
// adapter. Failures short-circuit without contacting any backend.
func (h *Handler) admit(w http.ResponseWriter, r *http.Request, requestID string) (domain.ChatRequest, backend.Adapter, bool) {
	var req domain.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ErrValidation)
		return req, nil, false
	}

	if err := req.Validate(); err != nil {
		slog.Warn("request rejected", "request_id", requestID, "error", err)
		writeError(w, err)
		return req, nil, false
	}

	adapter, err := h.registry.Resolve(req.Model)
	if err != nil {
		slog.Warn("model resolution failed", "request_id", requestID, "model", req.Model, "error", err)
		writeError(w, err)
		return req, nil, false
	}

	return req, adapter, true
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := h.health.Report(r.Context())
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

func (h *Handler) requestContext(r *http.Request) (ctx context.Context, cancel context.CancelFunc) {
	if h.requestTimeout > 0 {
		return context.WithTimeout(r.Context(), h.requestTimeout)
	}
	return context.WithCancel(r.Context())
}

func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	return uuid.New().String()
}

func normalizeTimeout(ctxErr, err error) error {
	if errors.Is(ctxErr, context.DeadlineExceeded) && !errors.Is(err, domain.ErrRequestTimeout) {
		return domain.ErrRequestTimeout
	}
	return err
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrModelNotConfigured):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrBackendRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrBackendUnavailable), errors.Is(err, domain.ErrBackendProtocol):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrRequestTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrTooManyRequests):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(err))
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"kind":    domain.ErrorKind(err),
			"message": err.Error(),
		},
	})
}

func deref(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
