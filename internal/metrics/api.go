package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/forkline/internal/config"
	"github.com/allaspectsdev/forkline/internal/store"
)

// AdminServer serves the JSON admin API and the Prometheus endpoint on a
// listener separate from request traffic.
type AdminServer struct {
	router    chi.Router
	collector *Collector
	store     *store.Store // nil when auditing is disabled
	addr      string
	server    *http.Server
}

// NewAdminServer creates an AdminServer wired to the given collector, audit
// store and listen address. st may be nil, in which case the request
// history endpoints answer 503.
func NewAdminServer(collector *Collector, st *store.Store, addr string, allowedOrigins []string) *AdminServer {
	a := &AdminServer{
		collector: collector,
		store:     st,
		addr:      addr,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware(allowedOrigins))

	r.Get("/health", a.handleHealth)
	r.Get("/api/health", a.handleHealth)
	r.Get("/api/stats", a.handleStats)
	r.Get("/api/stats/summary", a.handleStatsSummary)
	r.Get("/api/stats/history", a.handleStatsHistory)
	r.Get("/api/requests", a.handleListRequests)
	r.Get("/api/requests/{id}", a.handleGetRequest)
	r.Get("/api/config", a.handleGetConfig)
	r.Get("/api/routes", a.handleRoutes)

	r.Method(http.MethodGet, "/metrics", PrometheusHandler(collector))

	a.router = r
	return a
}

// Handler returns the admin router.
func (a *AdminServer) Handler() http.Handler {
	return a.router
}

// Start begins listening on the configured address. It blocks until the
// server is shut down or an error occurs.
func (a *AdminServer) Start() error {
	a.server = &http.Server{
		Addr:              a.addr,
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Info().Str("addr", a.addr).Msg("admin server starting")
	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the admin server.
func (a *AdminServer) Shutdown(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}

func (a *AdminServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := map[string]string{"status": "ok"}
	if a.store != nil {
		if err := a.store.Ping(); err != nil {
			log.Error().Err(err).Msg("audit store ping failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "store": "unreachable"})
			return
		}
		status["store"] = "ok"
	}
	writeJSON(w, http.StatusOK, status)
}

// handleStats returns the current in-memory collector statistics.
func (a *AdminServer) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.collector.Stats())
}

// handleStatsSummary aggregates the audit log over ?range= (default 1d).
func (a *AdminServer) handleStatsSummary(w http.ResponseWriter, r *http.Request) {
	if !a.requireStore(w) {
		return
	}
	since, ok := sinceParam(w, r, "1d")
	if !ok {
		return
	}

	stats, err := a.store.GetRequestStats(since)
	if err != nil {
		log.Error().Err(err).Msg("failed to query request stats")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "database error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"since":           since.UTC().Format(time.RFC3339),
		"total_requests":  stats.TotalRequests,
		"client_errors":   stats.ClientErrors,
		"server_errors":   stats.ServerErrors,
		"failures":        stats.Failures,
		"avg_latency_ms":  stats.AvgLatencyMs,
		"total_bytes_out": stats.TotalBytesOut,
	})
}

// handleStatsHistory returns per-day aggregates from the audit log.
// Accepts ?range=1d, 7d, 30d (default 7d).
func (a *AdminServer) handleStatsHistory(w http.ResponseWriter, r *http.Request) {
	if !a.requireStore(w) {
		return
	}
	since, ok := sinceParam(w, r, "7d")
	if !ok {
		return
	}

	days, err := a.store.GetDailyStats(since)
	if err != nil {
		log.Error().Err(err).Msg("failed to query stats history")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "database error"})
		return
	}

	type historyPoint struct {
		Day          string  `json:"day"`
		Requests     int64   `json:"requests"`
		Errors       int64   `json:"errors"`
		AvgLatencyMs float64 `json:"avg_latency_ms"`
	}

	points := make([]historyPoint, 0, len(days))
	for _, d := range days {
		points = append(points, historyPoint{
			Day:          d.Day,
			Requests:     d.Requests,
			Errors:       d.Errors,
			AvgLatencyMs: d.AvgLatencyMs,
		})
	}

	writeJSON(w, http.StatusOK, points)
}

type requestEntry struct {
	ID           string `json:"id"`
	Timestamp    string `json:"timestamp"`
	Method       string `json:"method"`
	Path         string `json:"path"`
	RemoteAddr   string `json:"remote_addr,omitempty"`
	User         string `json:"user,omitempty"`
	StatusCode   int    `json:"status_code"`
	BytesOut     int64  `json:"bytes_out"`
	LatencyMs    int64  `json:"latency_ms"`
	ErrorMessage string `json:"error_message,omitempty"`
}

func newRequestEntry(req *store.Request) requestEntry {
	return requestEntry{
		ID:           req.ID,
		Timestamp:    req.Timestamp.UTC().Format(time.RFC3339Nano),
		Method:       req.Method,
		Path:         req.Path,
		RemoteAddr:   req.RemoteAddr,
		User:         req.User,
		StatusCode:   req.StatusCode,
		BytesOut:     req.BytesOut,
		LatencyMs:    req.LatencyMs,
		ErrorMessage: req.ErrorMessage,
	}
}

// handleListRequests returns a paginated list of audited requests.
func (a *AdminServer) handleListRequests(w http.ResponseWriter, r *http.Request) {
	if !a.requireStore(w) {
		return
	}
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 50)
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 500 {
		limit = 50
	}
	offset := (page - 1) * limit

	requests, err := a.store.ListRequests(limit, offset)
	if err != nil {
		log.Error().Err(err).Msg("failed to list requests")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "database error"})
		return
	}

	entries := make([]requestEntry, 0, len(requests))
	for _, req := range requests {
		entries = append(entries, newRequestEntry(req))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"page":     page,
		"limit":    limit,
		"requests": entries,
	})
}

// handleGetRequest returns a single audited request by ID.
func (a *AdminServer) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	if !a.requireStore(w) {
		return
	}
	id := chi.URLParam(r, "id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing request id"})
		return
	}

	req, err := a.store.GetRequest(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "request not found"})
			return
		}
		log.Error().Err(err).Str("id", id).Msg("failed to get request")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "database error"})
		return
	}

	writeJSON(w, http.StatusOK, newRequestEntry(req))
}

// handleGetConfig returns the current configuration with sensitive keys redacted.
func (a *AdminServer) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	data, err := json.Marshal(config.Get())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "serialisation error"})
		return
	}

	var cfgMap map[string]interface{}
	if err := json.Unmarshal(data, &cfgMap); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "serialisation error"})
		return
	}

	redactKeys(cfgMap)
	writeJSON(w, http.StatusOK, cfgMap)
}

// handleRoutes lists the configured forks in evaluation order.
func (a *AdminServer) handleRoutes(w http.ResponseWriter, _ *http.Request) {
	type routeEntry struct {
		Name        string   `json:"name"`
		Prefix      string   `json:"prefix"`
		Methods     []string `json:"methods,omitempty"`
		Auth        string   `json:"auth,omitempty"`
		StripPrefix bool     `json:"strip_prefix"`
		Terminal    bool     `json:"terminal"`
	}

	routes := config.Get().Routes
	entries := make([]routeEntry, 0, len(routes))
	for _, rc := range routes {
		entries = append(entries, routeEntry{
			Name:        rc.Label(),
			Prefix:      rc.Prefix,
			Methods:     rc.Methods,
			Auth:        rc.Auth,
			StripPrefix: rc.StripPrefix,
			Terminal:    rc.Echo || rc.Response != nil,
		})
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- helpers ---

func (a *AdminServer) requireStore(w http.ResponseWriter) bool {
	if a.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "audit log disabled"})
		return false
	}
	return true
}

func sinceParam(w http.ResponseWriter, r *http.Request, def string) (time.Time, bool) {
	rangeParam := r.URL.Query().Get("range")
	if rangeParam == "" {
		rangeParam = def
	}
	d, err := parseDurationParam(rangeParam)
	if err != nil || d <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid range parameter"})
		return time.Time{}, false
	}
	return time.Now().Add(-d), true
}

// writeJSON serialises v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write JSON response")
	}
}

// queryInt reads an integer query parameter with a default fallback.
func queryInt(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return n
}

// parseDurationParam converts a shorthand like "7d" or "24h" to a time.Duration.
func parseDurationParam(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0, err
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// redactKeys recursively walks a map and replaces any string value whose
// key contains "key", "secret", "token" or "password" (case-insensitive)
// with "****".
func redactKeys(m map[string]interface{}) {
	for k, v := range m {
		lower := strings.ToLower(k)
		if strings.Contains(lower, "key") || strings.Contains(lower, "secret") ||
			strings.Contains(lower, "token") || strings.Contains(lower, "password") {
			if _, ok := v.(string); ok {
				m[k] = "****"
				continue
			}
		}
		switch child := v.(type) {
		case map[string]interface{}:
			redactKeys(child)
		case []interface{}:
			for _, item := range child {
				if sub, ok := item.(map[string]interface{}); ok {
					redactKeys(sub)
				}
			}
		}
	}
}

// corsMiddleware answers preflight requests and reflects the Origin header
// when it is in allowed. A "*" entry allows any origin.
func corsMiddleware(allowed []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); origin != "" && originAllowed(origin, allowed) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Add("Vary", "Origin")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func originAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}
