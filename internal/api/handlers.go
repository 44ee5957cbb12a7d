package api

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"snippet-runner/internal/executor"
	"snippet-runner/internal/storage"
)

// Engine is the execution core behind the HTTP surface.
type Engine interface {
	Execute(ctx context.Context, req executor.ExecutionRequest) executor.ExecutionResult
	Validate(ctx context.Context, req executor.ValidationRequest) executor.ValidationResult
	Info() executor.Info
	ActiveCount() int64
}

// AuditStore reads back audit records.
type AuditStore interface {
	GetExecution(ctx context.Context, id string) (*storage.Execution, error)
	ListExecutions(ctx context.Context, filter storage.ExecutionFilter) ([]storage.Execution, error)
	Healthy(ctx context.Context) bool
}

// AuditLog accepts audit records without blocking.
type AuditLog interface {
	Log(exec *storage.Execution)
}

type Handlers struct {
	engine         Engine
	store          AuditStore
	audit          AuditLog
	toolchainReady func() bool
	startTime      time.Time
}

func NewHandlers(engine Engine, store AuditStore, audit AuditLog, toolchainReady func() bool) *Handlers {
	if toolchainReady == nil {
		toolchainReady = func() bool { return true }
	}
	return &Handlers{
		engine:         engine,
		store:          store,
		audit:          audit,
		toolchainReady: toolchainReady,
		startTime:      time.Now(),
	}
}

// decodeCode reads a JSON body into dst and rejects requests without code.
func decodeCode(w http.ResponseWriter, r *http.Request, dst any, code func() string) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, "request body too large", "BODY_TOO_LARGE", http.StatusRequestEntityTooLarge, r)
			return false
		}
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return false
	}
	if strings.TrimSpace(code()) == "" {
		writeError(w, "code is required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return false
	}
	return true
}

func (h *Handlers) HandleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if !decodeCode(w, r, &req, func() string { return req.Code }) {
		return
	}

	start := time.Now()
	res := h.engine.Execute(r.Context(), executor.ExecutionRequest{
		Code:            req.Code,
		Input:           req.InputData,
		TimeoutOverride: req.Timeout,
	})

	h.logAudit(&storage.Execution{
		ID:          res.ID,
		Kind:        "execute",
		CodeHash:    res.CodeHash,
		Status:      string(res.Status),
		ElapsedMS:   int64(res.ElapsedSeconds * 1000),
		OutputBytes: int64(len(res.Stdout) + len(res.Stderr)),
		Cached:      res.Cached,
		CreatedAt:   start,
	}, r)

	if res.ID != "" {
		w.Header().Set("X-Execution-ID", res.ID)
	}
	writeJSON(w, http.StatusOK, ExecuteResponse{
		Output:        res.Stdout,
		Error:         res.Stderr,
		ExecutionTime: res.ElapsedSeconds,
		Status:        string(res.Status),
	})
}

func (h *Handlers) HandleValidate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if !decodeCode(w, r, &req, func() string { return req.Code }) {
		return
	}

	start := time.Now()
	res := h.engine.Validate(r.Context(), executor.ValidationRequest{Code: req.Code})

	status := "invalid"
	if res.IsValid {
		status = "valid"
	}
	h.logAudit(&storage.Execution{
		Kind:      "validate",
		CodeHash:  fmt.Sprintf("%x", sha256.Sum256([]byte(req.Code))),
		Status:    status,
		ElapsedMS: time.Since(start).Milliseconds(),
		CreatedAt: start,
	}, r)

	writeJSON(w, http.StatusOK, ValidateResponse{
		IsValid:  res.IsValid,
		Errors:   nonNil(res.Errors),
		Warnings: nonNil(res.Warnings),
	})
}

func (h *Handlers) HandleInfo(w http.ResponseWriter, r *http.Request) {
	info := h.engine.Info()
	writeJSON(w, http.StatusOK, InfoResponse{
		Service:            info.Toolchain + "-executor",
		Language:           info.Toolchain,
		Version:            info.Version,
		MaxExecutionTime:   info.DefaultTimeoutSeconds,
		MaxTimeout:         info.MaxTimeoutSeconds,
		MaxMemoryMB:        info.MemoryLimitMB,
		MemoryEnforced:     info.MemoryEnforced,
		MaxCodeSizeKB:      info.MaxCodeSizeKB,
		AvailableLibraries: nonNil(info.Libraries),
	})
}

func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := h.store == nil || h.store.Healthy(r.Context())
	tcOK := h.toolchainReady()

	resp := HealthResponse{
		Status:    "healthy",
		Service:   h.engine.Info().Toolchain + "-executor",
		Toolchain: tcOK,
		Database:  dbOK,
		Active:    h.engine.ActiveCount(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
	}

	status := http.StatusOK
	if !dbOK || !tcOK {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (h *Handlers) HandleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, "execution ID required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	if h.store == nil {
		writeError(w, "database not configured", "DB_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	}

	exec, err := h.store.GetExecution(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, "execution not found", "NOT_FOUND", http.StatusNotFound, r)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Msg("audit lookup failed")
		writeError(w, "query failed", "INTERNAL", http.StatusInternalServerError, r)
		return
	}

	writeJSON(w, http.StatusOK, exec)
}

func (h *Handlers) HandleListExecutions(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, "database not configured", "DB_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	}

	q := r.URL.Query()
	filter := storage.ExecutionFilter{
		Toolchain: q.Get("toolchain"),
		Status:    q.Get("status"),
		Limit:     100,
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, "limit must be a number", "INVALID_REQUEST", http.StatusBadRequest, r)
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, "offset must be a number", "INVALID_REQUEST", http.StatusBadRequest, r)
			return
		}
		filter.Offset = n
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, "since must be an RFC 3339 timestamp", "INVALID_REQUEST", http.StatusBadRequest, r)
			return
		}
		filter.Since = &t
	}

	execs, err := h.store.ListExecutions(r.Context(), filter)
	if err != nil {
		log.Error().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Msg("audit query failed")
		writeError(w, "query failed", "INTERNAL", http.StatusInternalServerError, r)
		return
	}

	writeJSON(w, http.StatusOK, execs)
}

// logAudit hands a record to the audit log after the response has been
// computed. It never affects the response.
func (h *Handlers) logAudit(rec *storage.Execution, r *http.Request) {
	if h.audit == nil {
		return
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	rec.Toolchain = h.engine.Info().Toolchain
	rec.RequestIP = clientIP(r)
	rec.APIKeyHash = apiKeyHash(r.Context())
	h.audit.Log(rec)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, msg, code string, status int, r *http.Request) {
	resp := ErrorResponse{
		Error:     msg,
		Code:      code,
		RequestID: RequestIDFromContext(r.Context()),
	}
	writeJSON(w, status, resp)
}
