// Package server is the HTTP/WebSocket front door for the investigation
// core: the REST surface of spec §6.2, the streaming surface of §6.3, and
// the operational /healthz, /readyz, and /metrics endpoints every other
// package's work is otherwise invisible without.
//
// Grounded on the teacher's (deleted) internal/server/server.go: a
// net/http.ServeMux built once in Start, a registerHandlers method that
// wires one mux.HandleFunc per route, and a context-cancel-plus-WaitGroup
// shutdown sequence. Rate limiting is the already-built
// internal/middleware.RateLimiter wrapped around the whole mux; CORS/origin
// checking and the Prometheus /metrics handler are new, since the teacher
// left both as a literal TODO (its websocket.go's CheckOrigin just
// returned true unconditionally).
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kubilitics/invcore/internal/adapters"
	"github.com/kubilitics/invcore/internal/audit"
	"github.com/kubilitics/invcore/internal/coremodel"
	"github.com/kubilitics/invcore/internal/db"
	"github.com/kubilitics/invcore/internal/eventbus"
	"github.com/kubilitics/invcore/internal/knowledge"
	"github.com/kubilitics/invcore/internal/middleware"
	"github.com/kubilitics/invcore/internal/report"
	"github.com/kubilitics/invcore/internal/scheduler"
	"github.com/kubilitics/invcore/internal/snapshot"
)

// Config bundles the server's own tunables (the Server section of the
// configuration table, spec §6.4).
type Config struct {
	Port               int
	AllowedOrigins     []string
	RateLimitPerMinute int
	ReportsDir         string
	SafeMode           bool
}

// Server wires the scheduler, report store, knowledge index, and cluster
// snapshotter built at startup into an HTTP listener.
type Server struct {
	cfg Config

	logger      audit.Logger
	bus         *eventbus.Bus
	reports     *report.Store
	index       *db.Index // optional side-index; nil falls back to in-memory scan
	sched       *scheduler.Scheduler
	snapshotter *snapshot.Snapshotter
	knowledge   *knowledge.Index
	fs          adapters.FilesystemAdapter

	httpServer  *http.Server
	rateLimiter *middleware.RateLimiter

	mu      sync.RWMutex
	running bool
	status  coremodel.MonitorStatus
}

// New builds a Server. index and knowledge may be nil (see their
// respective packages' doc comments for the degraded behavior this implies).
func New(cfg Config, logger audit.Logger, bus *eventbus.Bus, reports *report.Store, index *db.Index, sched *scheduler.Scheduler, snapshotter *snapshot.Snapshotter, knowledgeIdx *knowledge.Index, fs adapters.FilesystemAdapter) *Server {
	return &Server{
		cfg:         cfg,
		logger:      logger,
		bus:         bus,
		reports:     reports,
		index:       index,
		sched:       sched,
		snapshotter: snapshotter,
		knowledge:   knowledgeIdx,
		fs:          fs,
		rateLimiter: middleware.NewRateLimiter(rateLimitOrDefault(cfg.RateLimitPerMinute)),
	}
}

func rateLimitOrDefault(n int) int {
	if n <= 0 {
		return 120
	}
	return n
}

// SetSnapshotter attaches the Snapshotter once it exists. Main wiring
// constructs the Snapshotter's poll handler from a closure that itself
// calls Server.SetStatus, so the two can't be built in one pass; this
// mirrors internal/report.Store's SetIndexer for the same reason.
func (s *Server) SetSnapshotter(snapshotter *snapshot.Snapshotter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshotter = snapshotter
}

// SetStatus records the latest MonitorStatus (computed by the caller from
// the most recent snapshot plus the issue detector's live count) and
// republishes it on the event bus's "status" topic, so GET
// /api/monitoring/status and /stream/status always agree on the last
// known value.
func (s *Server) SetStatus(status coremodel.MonitorStatus) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
	if s.bus != nil {
		s.bus.Publish(eventbus.TopicStatus, status)
	}
}

func (s *Server) currentStatus() coremodel.MonitorStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Server) getSnapshotter() *snapshot.Snapshotter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotter
}

// Start builds the mux, wraps it in the rate limiter and CORS middleware,
// and begins serving in a background goroutine.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server: already running")
	}
	s.running = true
	s.mu.Unlock()

	mux := http.NewServeMux()
	s.registerHandlers(mux)

	handler := s.withCORS(s.rateLimiter.Middleware(mux.ServeHTTP))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming endpoints hold connections open indefinitely
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if s.logger != nil {
				s.logger.Log(audit.NewEvent("server", audit.LevelError, "http server exited").WithDetail("error", err.Error()))
			}
		}
	}()

	if s.logger != nil {
		s.logger.Log(audit.NewEvent("server", audit.LevelInfo, "http server started").WithDetail("port", s.cfg.Port))
	}
	return nil
}

// Shutdown gracefully stops the HTTP server within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.rateLimiter.Stop()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// IsRunning reports whether Start has been called without a matching Shutdown.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Server) registerHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/api/monitoring/status", s.handleMonitoringStatus)
	mux.HandleFunc("/api/cluster/snapshot", s.handleClusterSnapshot)
	mux.HandleFunc("/api/investigations/deterministic", s.handleInvestigateDeterministic)
	mux.HandleFunc("/api/investigations/agentic", s.handleInvestigateAgentic)
	mux.HandleFunc("/api/investigations", s.handleInvestigationsList)
	mux.HandleFunc("/api/investigations/", s.handleInvestigationByID) // also handles the :cancel suffix
	mux.HandleFunc("/api/reports/", s.handleReportFile)

	mux.HandleFunc("/stream/logs", s.handleStreamLogs)
	mux.HandleFunc("/stream/status", s.handleStreamStatus)
	mux.HandleFunc("/stream/reports", s.handleStreamReports)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz reports unready whenever the cluster adapter has been
// failing for two consecutive polls (spec §4.2's adapter_unavailable
// health status) — a liveness probe should not restart the process for
// that, but a readiness probe should stop routing traffic to it.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if snapshotter := s.getSnapshotter(); snapshotter != nil && snapshotter.IsAdapterUnavailable() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "adapter_unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// withCORS adds CORS headers only for origins in cfg.AllowedOrigins; a
// request from any other origin is still served, just without those
// headers. The origin check is the one the teacher's websocket.go left as
// a CheckOrigin TODO that always returned true.
func (s *Server) withCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}

func (s *Server) originAllowed(origin string) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return false
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
