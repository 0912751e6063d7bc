package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/WessleyAI/mindpalace/engine/domain"
	"github.com/WessleyAI/mindpalace/pkg/metrics"
	"github.com/WessleyAI/mindpalace/pkg/mid"
	"github.com/WessleyAI/mindpalace/pkg/resilience"
)

const (
	maxBodyBytes     = 1 << 16
	maxListLimit     = 500
	defaultListLimit = 50
	checkTimeout     = 2 * time.Second
)

// palaceAPI is the part of the orchestrator the HTTP surface needs.
type palaceAPI interface {
	Search(ctx context.Context, text string, k int) ([]domain.QueryResult, error)
	ProcessImage(ctx context.Context, path string) (domain.ImageRecord, error)
	Forget(ctx context.Context, id string) error
}

// catalogAPI reads the image ledger.
type catalogAPI interface {
	Get(ctx context.Context, id string) (domain.ImageRecord, error)
	List(ctx context.Context, status domain.Status, offset, limit int) ([]domain.ImageRecord, error)
	Count(ctx context.Context, status domain.Status) (int64, error)
}

// check is one dependency check for /api/health.
type check struct {
	name string
	fn   func(context.Context) error
}

type server struct {
	palace    palaceAPI
	catalog   catalogAPI // nil when the catalog is disabled
	imageRoot string     // ingest paths must resolve inside it
	checks    []check
	log       *slog.Logger
}

func (s *server) routes(reg *metrics.Registry) http.Handler {
	route := func(name string, h http.HandlerFunc) http.Handler {
		return mid.Metrics(reg, name)(h)
	}
	mux := http.NewServeMux()
	mux.Handle("GET /api/health", route("health", s.handleHealth))
	mux.Handle("GET /api/search", route("search", s.handleSearch))
	mux.Handle("POST /api/images", route("ingest", s.handleIngest))
	mux.Handle("GET /api/images", route("list", s.handleList))
	mux.Handle("GET /api/images/{id}", route("get", s.handleGet))
	mux.Handle("DELETE /api/images/{id}", route("forget", s.handleForget))
	mux.Handle("GET /metrics", reg.Handler())
	return mux
}

// --- Responses ---

type errorResponse struct {
	Error string `json:"error"`
}

// SearchResponse is the JSON response for GET /api/search.
type SearchResponse struct {
	Query   string               `json:"query"`
	Results []domain.QueryResult `json:"results"`
}

// IngestRequest is the JSON body for POST /api/images.
type IngestRequest struct {
	Path string `json:"path"`
}

// ListResponse is the JSON response for GET /api/images.
type ListResponse struct {
	Images []domain.ImageRecord `json:"images"`
	Total  int64                `json:"total"`
	Offset int                  `json:"offset"`
	Limit  int                  `json:"limit"`
}

// HealthResponse reports the state of each dependency.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusFor maps an engine error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidQuery), errors.Is(err, domain.ErrInvalidPath), errors.Is(err, domain.ErrInvalidID):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDecode), errors.Is(err, domain.ErrEmptyCaption):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrInference):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrIndexService):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *server) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.ErrorContext(r.Context(), msg, "err", err, "request_id", mid.RequestIDFrom(r.Context()))
	}
	writeError(w, status, err.Error())
}

// --- Handlers ---

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if len(s.checks) > 0 {
		resp.Checks = make(map[string]string, len(s.checks))
	}
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()
	for _, c := range s.checks {
		if err := c.fn(ctx); err != nil {
			resp.Status = "degraded"
			resp.Checks[c.name] = err.Error()
			continue
		}
		resp.Checks[c.name] = "ok"
	}
	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func breakerCheck(st resilience.State) error {
	if st == resilience.StateOpen {
		return errors.New("circuit open")
	}
	return nil
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	k := 0
	if raw := r.URL.Query().Get("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "k must be a positive integer")
			return
		}
		k = n
	}

	results, err := s.palace.Search(r.Context(), q, k)
	if err != nil {
		s.fail(w, r, "search failed", err)
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Query: strings.TrimSpace(q), Results: results})
}

func (s *server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	path, err := domain.ResolveImagePath(s.imageRoot, req.Path, nil)
	if err != nil {
		s.fail(w, r, "resolve path", err)
		return
	}

	rec, err := s.palace.ProcessImage(r.Context(), path)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.log.ErrorContext(r.Context(), "ingest failed", "path", path, "err", err)
		}
		writeJSON(w, status, rec)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *server) handleGet(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		writeError(w, http.StatusNotFound, "catalog disabled")
		return
	}
	rec, err := s.catalog.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, "catalog get failed", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *server) handleForget(w http.ResponseWriter, r *http.Request) {
	if err := s.palace.Forget(r.Context(), r.PathValue("id")); err != nil {
		s.fail(w, r, "forget failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleList(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		writeError(w, http.StatusNotFound, "catalog disabled")
		return
	}
	offset, err := intParam(r, "offset", 0)
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}
	limit, err := intParam(r, "limit", defaultListLimit)
	if err != nil || limit < 1 || limit > maxListLimit {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
		return
	}
	status := domain.Status(r.URL.Query().Get("status"))

	recs, err := s.catalog.List(r.Context(), status, offset, limit)
	if err != nil {
		s.fail(w, r, "catalog list failed", err)
		return
	}
	total, err := s.catalog.Count(r.Context(), status)
	if err != nil {
		s.fail(w, r, "catalog count failed", err)
		return
	}
	writeJSON(w, http.StatusOK, ListResponse{Images: recs, Total: total, Offset: offset, Limit: limit})
}

func intParam(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
