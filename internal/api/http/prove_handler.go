package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"distributed-prover/internal/domain"
	"distributed-prover/internal/metrics"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// ProveService runs the proving pipeline for one job.
type ProveService interface {
	Prove(ctx context.Context, job *domain.Job) (domain.FulfillResult, error)
}

// ProveHandler serves the worker's job endpoint.
type ProveHandler struct {
	service  ProveService
	logger   *slog.Logger
	validate *validator.Validate
	tracer   trace.Tracer
}

func NewProveHandler(service ProveService, logger *slog.Logger) *ProveHandler {
	return &ProveHandler{
		service:  service,
		logger:   logger.With("component", "prove-handler"),
		validate: validator.New(),
		tracer:   otel.Tracer("distributed-prover-api"),
	}
}

// A helper struct to capture the status code
type instrumentedResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *instrumentedResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (h *ProveHandler) instrument(path string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := h.tracer.Start(ctx, "HTTP "+r.Method+" "+path, trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.Path),
		))
		defer span.End()

		r = r.WithContext(ctx)

		iw := &instrumentedResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(iw, r)

		metrics.HttpRequestsTotal.WithLabelValues(path, r.Method, strconv.Itoa(iw.statusCode)).Inc()

		span.SetAttributes(attribute.Int("http.status_code", iw.statusCode))
		if iw.statusCode >= 500 {
			span.SetStatus(codes.Error, "Server Error")
		}
	})
}

// RegisterRoutes registers /prove, /ping and /metrics.
func (h *ProveHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/prove", h.instrument("/prove", h.handleProve))
	mux.Handle("/ping", h.instrument("/ping", h.handlePing))
	mux.Handle("/metrics", promhttp.Handler())
}

func (h *ProveHandler) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("pong"))
}

func (h *ProveHandler) handleProve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ProveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode prove request", "error", err)
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		h.logger.Warn("prove request failed validation", "job_id", req.ID, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	job, err := req.ToDomain()
	if err != nil {
		h.logger.Warn("rejected prove request", "job_id", req.ID, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// The pipeline outlives a dropped connection; its side effects (stored
	// proof, fulfilled job) must not be cut off half way.
	ctx := context.WithoutCancel(r.Context())
	result, err := h.service.Prove(ctx, job)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(result.ElapsedSeconds)
}
