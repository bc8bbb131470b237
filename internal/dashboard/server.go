// Package dashboard serves the pinch HTTP surface: the JSON query API, the
// host-facing ingest endpoint, the HTML cost dashboard, Prometheus metrics,
// and a websocket live feed.
//
// FILES:
//   - server.go: Server wiring, routes, JSON API handlers
//   - html.go:   hand-built HTML dashboard page
//   - live.go:   websocket live feed of today's totals
//
// DESIGN: Everything this server exposes is cost data about the local agent,
// so every endpoint is restricted to loopback clients. There is no auth
// layer; binding behavior and the guard together are the access control.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/openclaw/pinch/internal/budget"
	"github.com/openclaw/pinch/internal/config"
	"github.com/openclaw/pinch/internal/ingest"
	"github.com/openclaw/pinch/internal/monitoring"
	"github.com/openclaw/pinch/internal/store"
	"github.com/openclaw/pinch/internal/tools"
)

// Server is the pinch HTTP surface. Construct with New, then Start or mount
// Handler() under an existing server.
type Server struct {
	port    int
	store   *store.Store
	tracker *ingest.Tracker
	budget  *budget.Tracker
	reports *tools.Reports
	metrics *monitoring.Metrics

	subMu       sync.Mutex
	subscribers map[chan []byte]struct{}

	httpServer *http.Server
}

// New wires the server. budget and metrics may be nil; the corresponding
// endpoints then serve empty objects / 404.
func New(cfg config.DashboardConfig, st *store.Store, tr *ingest.Tracker, b *budget.Tracker, rep *tools.Reports, m *monitoring.Metrics) *Server {
	return &Server{
		port:        cfg.Port,
		store:       st,
		tracker:     tr,
		budget:      b,
		reports:     rep,
		metrics:     m,
		subscribers: make(map[chan []byte]struct{}),
	}
}

// Handler returns the full route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/today", s.query("today", s.handleToday))
	mux.HandleFunc("/api/week", s.query("week", s.handleWeek))
	mux.HandleFunc("/api/month", s.query("month", s.handleMonth))
	mux.HandleFunc("/api/trend", s.query("trend", s.handleTrend))
	mux.HandleFunc("/api/latest", s.query("latest", s.handleLatest))
	mux.HandleFunc("/api/budget", s.query("budget", s.handleBudget))
	mux.HandleFunc("/api/report", s.query("report", s.handleReport))
	mux.HandleFunc("/api/ingest", s.handleIngest)
	mux.HandleFunc("/api/live", s.handleLive)
	if s.metrics != nil {
		metricsHandler := promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
			if !s.guard(w, r) {
				return
			}
			metricsHandler.ServeHTTP(w, r)
		})
	}
	return mux
}

// Start runs the server until Shutdown. Binds loopback only; the per-handler
// guard stays as defense for embedded use behind someone else's listener.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", s.port),
		Handler:      s.Handler(),
		ReadTimeout:  config.DefaultServerReadTimeout,
		WriteTimeout: config.DefaultServerWriteTimeout,
	}
	log.Info().Int("port", s.port).Msg("dashboard: listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: serve: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and closes live feeds.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeSubscribers()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// guard rejects non-loopback clients. Cost data stays on the machine.
func (s *Server) guard(w http.ResponseWriter, r *http.Request) bool {
	if !isLoopback(r.RemoteAddr) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return false
	}
	return true
}

// query wraps a GET handler with the guard and the per-endpoint counter.
func (s *Server) query(endpoint string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.guard(w, r) {
			return
		}
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if s.metrics != nil {
			s.metrics.QueriesTotal.WithLabelValues(endpoint).Inc()
		}
		h(w, r)
	}
}

func (s *Server) handleToday(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.store.Today())
}

func (s *Server) handleWeek(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.store.WeekToDate())
}

func (s *Server) handleMonth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.store.MonthToDate())
}

func (s *Server) handleTrend(w http.ResponseWriter, r *http.Request) {
	days := intParam(r, "days", 30, config.MaxTrendDays)
	writeJSON(w, s.store.Trend(days))
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	limit := intParam(r, "limit", 50, config.MaxLatestRecords)
	writeJSON(w, s.store.Latest(limit))
}

func (s *Server) handleBudget(w http.ResponseWriter, _ *http.Request) {
	if s.budget == nil {
		writeJSON(w, budget.Status{})
		return
	}
	writeJSON(w, s.budget.Status())
}

// handleReport serves the agent-facing text reports over HTTP so shell
// tooling can read them without going through the agent.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	var out string
	switch name := r.URL.Query().Get("name"); name {
	case "", "check":
		out = s.reports.CostCheck()
	case "breakdown":
		out = s.reports.CostBreakdown()
	case "budget":
		out = s.reports.BudgetStatus()
	default:
		http.Error(w, "unknown report: "+name, http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(out + "\n"))
}

// ingestResponse acknowledges one POST /api/ingest call. Recorded is false
// when the event carried nothing to meter; that is not an error.
type ingestResponse struct {
	Recorded bool    `json:"recorded"`
	ID       string  `json:"id,omitempty"`
	Cost     float64 `json:"cost,omitempty"`
	Model    string  `json:"model,omitempty"`
}

// handleIngest is the host-facing entry point: the agent runtime POSTs the
// completion event here after each turn.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if !s.guard(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body := http.MaxBytesReader(w, r.Body, 16<<20)
	raw, err := io.ReadAll(body)
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}

	evCtx := ingest.Context{SessionKey: gjson.GetBytes(raw, "sessionKey").String()}
	rec := s.tracker.Ingest(r.Context(), ingest.ParseEvent(raw), evCtx)
	if rec == nil {
		writeJSON(w, ingestResponse{Recorded: false})
		return
	}

	s.broadcastToday()
	writeJSON(w, ingestResponse{Recorded: true, ID: rec.ID, Cost: rec.Cost, Model: rec.Model})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("dashboard: write response")
	}
}

// intParam parses a positive query integer with a default and a hard cap.
func intParam(r *http.Request, name string, def, max int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
