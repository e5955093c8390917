package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/kirillkom/filings-rag/internal/config"
	"github.com/kirillkom/filings-rag/internal/core/ports"
	"github.com/kirillkom/filings-rag/internal/observability/metrics"
)

const maxSearchBodyBytes = 64 << 10

type Router struct {
	retrieval ports.RetrievalService
	chunks    ports.ChunkReader
	metrics   *metrics.HTTPServerMetrics
	logger    *slog.Logger
	api       *openapi3.T

	apiKey         string
	rateLimitRPS   float64
	rateLimitBurst int
	maxInFlight    int
	inFlightWait   time.Duration
	searchTimeout  time.Duration
}

func NewRouter(
	cfg config.Config,
	retrieval ports.RetrievalService,
	chunks ports.ChunkReader,
	httpMetrics *metrics.HTTPServerMetrics,
	logger *slog.Logger,
) (*Router, error) {
	if logger == nil {
		logger = slog.Default()
	}
	api, err := loadAPIDocument(context.Background())
	if err != nil {
		return nil, err
	}
	rt := &Router{
		retrieval:      retrieval,
		chunks:         chunks,
		metrics:        httpMetrics,
		logger:         logger,
		api:            api,
		apiKey:         strings.TrimSpace(cfg.APIKey),
		rateLimitRPS:   cfg.HTTPRateLimitRPS,
		rateLimitBurst: cfg.HTTPRateLimitBurst,
		maxInFlight:    cfg.HTTPMaxInFlight,
		inFlightWait:   50 * time.Millisecond,
	}
	if cfg.HTTPRequestTimeoutSeconds > 0 {
		rt.searchTimeout = time.Duration(cfg.HTTPRequestTimeoutSeconds) * time.Second
	}
	return rt, nil
}

func (rt *Router) Handler() http.Handler {
	v1 := http.NewServeMux()
	v1.HandleFunc("POST /v1/retrieval/search", rt.searchFilings)
	v1.HandleFunc("GET /v1/chunks/{id}", rt.getChunk)

	var guarded http.Handler = v1
	guarded = rt.authMiddleware(guarded)
	guarded = backpressureMiddleware(guarded, rt.maxInFlight, rt.inFlightWait, rt.onBackpressureReject)
	guarded = rateLimitMiddleware(guarded, rt.rateLimitRPS, rt.rateLimitBurst, rt.onRateLimited)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("GET /openapi.json", rt.openAPIDocument)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}
	mux.Handle("/v1/", guarded)

	var handler http.Handler = mux
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(handler)
	}
	handler = accessLogMiddleware(handler, rt.logger)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) searchFilings(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxSearchBodyBytes+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unable to read request body"})
		return
	}
	if len(raw) > maxSearchBodyBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
		return
	}
	if err := rt.validateSearchBody(raw); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	var req searchRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json"})
		return
	}
	retrievalReq, err := req.toDomain()
	if err != nil {
		rt.writeError(w, r, err)
		return
	}

	ctx := r.Context()
	if rt.searchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rt.searchTimeout)
		defer cancel()
	}

	result, err := rt.retrieval.Search(ctx, retrievalReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			writeJSON(w, http.StatusGatewayTimeout, errorResponse{Error: "retrieval timed out"})
			return
		}
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSearchResponse(result))
}

func (rt *Router) getChunk(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "chunk id is required"})
		return
	}
	chunk, err := rt.chunks.GetChunk(r.Context(), id)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newChunkView(*chunk))
}

func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		rt.logger.Error("http_handler_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
		message = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Error: message})
}

func (rt *Router) onRateLimited() {
	if rt.metrics != nil {
		rt.metrics.RecordRateLimited()
	}
}

func (rt *Router) onBackpressureReject() {
	if rt.metrics != nil {
		rt.metrics.RecordBackpressureReject()
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
