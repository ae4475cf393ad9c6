// Package devserver is the HTTP host for a watch session: it serves linked
// package output, streams reload signals and exposes status, logs and
// metrics.
package devserver

import (
	_ "embed"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"linkreload/internal/cache"
	"linkreload/internal/logging"
	"linkreload/internal/metrics"
	"linkreload/internal/registry"
	"linkreload/internal/reload"
	"linkreload/internal/watcher"
)

//go:embed client.js
var clientScript []byte

const (
	ReloadPath = "/__reload"
	ClientPath = "/__client.js"
)

// StatusSource reports the watch session state.
type StatusSource interface {
	Status() reload.Status
}

// WatchStats reports host watcher counters.
type WatchStats interface {
	Metrics() watcher.Metrics
}

// ReloadEndpoint serves the reload websocket and reports its clients.
type ReloadEndpoint interface {
	http.Handler
	ClientCount() int
}

type Options struct {
	Registry *registry.Registry
	WatchDir string
	Cache    *cache.ModuleCache
	Reload   ReloadEndpoint
	Session  StatusSource
	Watcher  WatchStats
	Logger   *logging.Logger
	Metrics  *metrics.Registry
}

type Server struct {
	registry *registry.Registry
	watchDir string
	cache    *cache.ModuleCache
	reload   ReloadEndpoint
	session  StatusSource
	watcher  WatchStats
	logger   *logging.Logger
	metrics  *metrics.Registry
	started  time.Time
}

type statusResponse struct {
	Session        *reload.Status   `json:"session,omitempty"`
	Watcher        *watcher.Metrics `json:"watcher,omitempty"`
	Clients        int              `json:"clients"`
	CachedModules  int              `json:"cached_modules"`
	PurgedModules  int64            `json:"purged_modules"`
	EvictedModules int64            `json:"evicted_modules"`
	ServerTime     time.Time        `json:"server_time"`
	Uptime         string           `json:"uptime"`
}

type logQuery struct {
	Limit int
	Level logging.Level
	Since *time.Time
}

func New(options Options) (*Server, error) {
	if options.Registry == nil {
		return nil, errors.New("devserver: registry is required")
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	moduleCache := options.Cache
	if moduleCache == nil {
		moduleCache = cache.NewModuleCache()
	}
	watchDir := options.WatchDir
	if watchDir == "" {
		watchDir = registry.DefaultWatchDir
	}
	return &Server{
		registry: options.Registry,
		watchDir: watchDir,
		cache:    moduleCache,
		reload:   options.Reload,
		session:  options.Session,
		watcher:  options.Watcher,
		logger:   logger.With(map[string]string{"component": "devserver"}),
		metrics:  options.Metrics,
		started:  time.Now(),
	}, nil
}

func (s *Server) Cache() *cache.ModuleCache {
	return s.cache
}

// Handler returns the routed handler for every dev server endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(ModulePrefix, restHandler(cacheControlNoCache, s.handleModule))
	if s.reload != nil {
		mux.Handle(ReloadPath, s.reload)
	}
	mux.Handle(ClientPath, restHandler(cacheControlNoCache, s.handleClient))
	mux.Handle("/api/status", restHandler(cacheControlNoStore, s.handleStatus))
	mux.Handle("/api/logs", restHandler(cacheControlNoStore, s.handleLogs))
	mux.Handle("/metrics", restHandler(cacheControlNoStore, s.handleMetrics))
	return loggingMiddleware(s.logger, mux)
}

func (s *Server) handleClient(w http.ResponseWriter, r *http.Request) *apiError {
	if err := requireRead(w, r); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(clientScript)
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) *apiError {
	if err := requireRead(w, r); err != nil {
		return err
	}
	now := time.Now().UTC()
	response := statusResponse{
		CachedModules:  s.cache.Len(),
		PurgedModules:  s.cache.Purged(),
		EvictedModules: s.cache.Evicted(),
		ServerTime:     now,
		Uptime:         now.Sub(s.started).Round(time.Second).String(),
	}
	if s.session != nil {
		status := s.session.Status()
		response.Session = &status
	}
	if s.watcher != nil {
		stats := s.watcher.Metrics()
		response.Watcher = &stats
	}
	if s.reload != nil {
		response.Clients = s.reload.ClientCount()
	}
	writeJSON(w, http.StatusOK, response)
	return nil
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) *apiError {
	if err := requireRead(w, r); err != nil {
		return err
	}
	if s.logger.Buffer() == nil {
		return &apiError{Status: http.StatusServiceUnavailable, Message: "log buffer unavailable"}
	}
	query, err := parseLogQuery(r)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, filterLogEntries(s.logger.Buffer().List(), query))
	return nil
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) *apiError {
	if err := requireRead(w, r); err != nil {
		return err
	}
	if s.metrics == nil {
		return &apiError{Status: http.StatusServiceUnavailable, Message: "metrics unavailable"}
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := s.metrics.WritePrometheus(w); err != nil {
		s.logger.Warn("metrics write failed", map[string]string{
			"error": err.Error(),
		})
	}
	return nil
}

func parseLogQuery(r *http.Request) (logQuery, *apiError) {
	values := r.URL.Query()
	query := logQuery{
		Limit: 100,
	}

	if rawLimit := strings.TrimSpace(values.Get("limit")); rawLimit != "" {
		limit, err := strconv.Atoi(rawLimit)
		if err != nil || limit <= 0 {
			return query, &apiError{Status: http.StatusBadRequest, Message: "invalid limit"}
		}
		query.Limit = limit
	}

	if rawSince := strings.TrimSpace(values.Get("since")); rawSince != "" {
		parsed, err := time.Parse(time.RFC3339, rawSince)
		if err != nil {
			return query, &apiError{Status: http.StatusBadRequest, Message: "invalid since timestamp"}
		}
		query.Since = &parsed
	}

	if rawLevel := strings.TrimSpace(values.Get("level")); rawLevel != "" {
		level, ok := logging.ParseLevel(rawLevel)
		if !ok {
			return query, &apiError{Status: http.StatusBadRequest, Message: "invalid log level"}
		}
		query.Level = level
	}

	return query, nil
}

func filterLogEntries(entries []logging.LogEntry, query logQuery) []logging.LogEntry {
	filtered := make([]logging.LogEntry, 0, len(entries))
	for _, entry := range entries {
		if query.Level != "" && !logging.LevelAtLeast(entry.Level, query.Level) {
			continue
		}
		if query.Since != nil && entry.Timestamp.Before(*query.Since) {
			continue
		}
		filtered = append(filtered, entry)
	}
	if query.Limit > 0 && len(filtered) > query.Limit {
		filtered = filtered[len(filtered)-query.Limit:]
	}
	return filtered
}
