package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ingest"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/report"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scan"
)

// defaultFlaggedLimit caps GET /scans/{id} when no limit is given.
const defaultFlaggedLimit = 100

// Deps holds the collaborators of the API handlers. Repository, Cache and
// Bus may be nil.
type Deps struct {
	// Scanners holds one scanner per profile mode the server accepts.
	Scanners map[domain.ProfileMode]*scan.Scanner

	// DefaultMode is used when a request does not name a mode.
	DefaultMode domain.ProfileMode

	Repository domain.Repository
	Cache      domain.Cache
	Bus        domain.EventBus

	// CacheTTL is the lifetime of cached scan responses.
	CacheTTL time.Duration

	// Location resolves naive timestamps in uploaded CSV.
	Location *time.Location

	Version string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	scanners    map[domain.ProfileMode]*scan.Scanner
	defaultMode domain.ProfileMode
	repo        domain.Repository
	cache       domain.Cache
	bus         domain.EventBus
	cacheTTL    time.Duration
	location    *time.Location
	maxBody     int64
	version     string
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps, maxBody int64) *Handler {
	return &Handler{
		scanners:    deps.Scanners,
		defaultMode: deps.DefaultMode,
		repo:        deps.Repository,
		cache:       deps.Cache,
		bus:         deps.Bus,
		cacheTTL:    deps.CacheTTL,
		location:    deps.Location,
		maxBody:     maxBody,
		version:     deps.Version,
	}
}

// ScanResponse is the response for POST /scans.
type ScanResponse struct {
	report.Document
	Load   *ingest.LoadReport `json:"load"`
	Cached bool               `json:"cached"`
}

// Scan handles POST /scans. The body is a transaction CSV.
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	mode := h.defaultMode
	if m := r.URL.Query().Get("mode"); m != "" {
		mode = domain.ProfileMode(m)
	}
	scanner, ok := h.scanners[mode]
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported mode %q", mode))
		return
	}

	includeAll := false
	if v := r.URL.Query().Get("include_all"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "include_all must be a boolean")
			return
		}
		includeAll = b
	}

	body, err := h.readBody(w, r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	key := cache.ScanKey(body, scanner.Rules().Config(), mode, includeAll)
	if resp := h.cachedScan(r, key); resp != nil {
		w.Header().Set(RunIDHeader, resp.RunID)
		writeJSON(w, http.StatusOK, resp)
		return
	}

	txs, load, err := ingest.Load(bytes.NewReader(body), ingest.Options{Location: h.location})
	if err != nil {
		if errors.Is(err, domain.ErrSchema) || errors.Is(err, domain.ErrEmptyInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.ErrorContext(ctx, "failed to load csv", "error", err)
		writeError(w, http.StatusBadRequest, "invalid csv")
		return
	}

	result, err := scanner.Run(ctx, txs)
	if err != nil {
		if errors.Is(err, domain.ErrPrecondition) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		slog.ErrorContext(ctx, "scan failed", "error", err)
		writeError(w, http.StatusInternalServerError, "scan failed")
		return
	}

	resp := &ScanResponse{
		Document: *report.NewDocument(result, includeAll),
		Load:     load,
	}
	h.storeScan(r, key, resp)

	w.Header().Set(RunIDHeader, resp.RunID)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body := r.Body
	if h.maxBody > 0 {
		body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}
	return io.ReadAll(body)
}

func (h *Handler) cachedScan(r *http.Request, key string) *ScanResponse {
	if h.cache == nil {
		return nil
	}
	data, err := h.cache.Get(r.Context(), key)
	if err != nil || data == nil {
		if err != nil {
			slog.WarnContext(r.Context(), "scan cache lookup failed", "key", key, "error", err)
		}
		metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
		return nil
	}
	var resp ScanResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		slog.WarnContext(r.Context(), "discarding unreadable cache entry", "key", key, "error", err)
		return nil
	}
	resp.Cached = true
	metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
	return &resp
}

func (h *Handler) storeScan(r *http.Request, key string, resp *ScanResponse) {
	if h.cache == nil {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		slog.WarnContext(r.Context(), "failed to encode scan for cache", "run_id", resp.RunID, "error", err)
		return
	}
	if err := h.cache.Set(r.Context(), key, data, h.cacheTTL); err != nil {
		slog.WarnContext(r.Context(), "failed to cache scan", "run_id", resp.RunID, "error", err)
	}
}

// RunResponse is the response for GET /scans/{id}.
type RunResponse struct {
	Run     *domain.RunSummary     `json:"run"`
	Flagged []*domain.ScoredRecord `json:"flagged"`
	Alerts  []*domain.Alert        `json:"alerts"`
}

// GetScan handles GET /scans/{id}.
func (h *Handler) GetScan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "run archive not configured")
		return
	}

	limit := defaultFlaggedLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	run, err := h.repo.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "scan not found")
			return
		}
		slog.ErrorContext(ctx, "failed to get run", "run_id", runID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get scan")
		return
	}

	flagged, err := h.repo.ListFlagged(ctx, runID, limit)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list flagged", "run_id", runID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get scan")
		return
	}

	alerts, err := h.repo.ListAlerts(ctx, runID)
	if err != nil {
		slog.WarnContext(ctx, "failed to list alerts", "run_id", runID, "error", err)
	}

	writeJSON(w, http.StatusOK, RunResponse{
		Run:     run,
		Flagged: flagged,
		Alerts:  alerts,
	})
}

// RuleInfo describes one rule in GET /rules.
type RuleInfo struct {
	ID         int     `json:"id"`
	Tag        string  `json:"tag"`
	Phrase     string  `json:"phrase"`
	Weight     float64 `json:"weight"`
	MinHistory int     `json:"minHistory"`
	Expression string  `json:"expression"`
	Overridden bool    `json:"overridden"`
}

// RulesResponse is the response for GET /rules.
type RulesResponse struct {
	Config domain.RuleConfig `json:"config"`
	Rules  []RuleInfo        `json:"rules"`
}

// ListRules handles GET /rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	scanner, ok := h.scanners[h.defaultMode]
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "no scanner configured")
		return
	}
	engine := scanner.Rules()
	cfg := engine.Config()
	overrides := engine.Expressions()

	builtins := rules.BuiltinRules()
	infos := make([]RuleInfo, 0, domain.RuleCount)
	for _, id := range domain.AllRules {
		expr, overridden := overrides[id]
		if !overridden {
			expr = rules.BuiltinExpressions[id]
		}
		infos = append(infos, RuleInfo{
			ID:         int(id),
			Tag:        id.Tag(),
			Phrase:     id.Phrase(),
			Weight:     cfg.Weight(id),
			MinHistory: builtins[id.Index()].MinHistory,
			Expression: expr,
			Overridden: overridden,
		})
	}

	writeJSON(w, http.StatusOK, RulesResponse{Config: cfg, Rules: infos})
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := "healthy"
	checks := make(map[string]string)

	if h.repo != nil {
		if err := h.repo.Ping(ctx); err != nil {
			status = "degraded"
			checks["repository"] = "unhealthy: " + err.Error()
		} else {
			checks["repository"] = "healthy"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			status = "degraded"
			checks["cache"] = "unhealthy: " + err.Error()
		} else {
			checks["cache"] = "healthy"
		}
	}

	if h.bus != nil {
		if err := h.bus.Ping(ctx); err != nil {
			status = "degraded"
			checks["eventBus"] = "unhealthy: " + err.Error()
		} else {
			checks["eventBus"] = "healthy"
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": h.version,
		"checks":  checks,
	})
}

// Ready handles GET /ready.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
