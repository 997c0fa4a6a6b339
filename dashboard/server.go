// Package dashboard serves the live state of an impersonating client over
// HTTP.
//
// It exposes:
//   - GET /metrics              Prometheus exposition of the client's registry
//   - GET /api/metrics/stream   SSE stream of request counters (100 ms ticks)
//   - GET /api/profile          the fingerprint currently replayed (JSON)
//   - GET /api/lookup           fingerprint database lookup (JSON)
//
// CORS is open so a browser page on another port can use EventSource.
package dashboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/firasghr/GoImpersonate/database"
	"github.com/firasghr/GoImpersonate/fingerprint"
	"github.com/firasghr/GoImpersonate/logger"
	"github.com/firasghr/GoImpersonate/metrics"
)

// MetricsSnapshot is the JSON payload pushed to stream subscribers every tick.
type MetricsSnapshot struct {
	Timestamp int64   `json:"timestamp"`
	Total     uint64  `json:"total"`
	Success   uint64  `json:"success"`
	Failed    uint64  `json:"failed"`
	RPS       float64 `json:"rps"`
}

// ProfileView describes a fingerprint in its string forms.
type ProfileView struct {
	JA3         string   `json:"ja3"`
	Akamai      string   `json:"akamai,omitempty"`
	UserAgent   string   `json:"user_agent,omitempty"`
	HeaderOrder []string `json:"header_order,omitempty"`
}

// LookupResult is the /api/lookup response.
type LookupResult struct {
	Browser string `json:"browser"`
	Version int    `json:"version"`
	Device  string `json:"device"`
	Mode    string `json:"mode"`
	JA3     string `json:"ja3"`
	Akamai  string `json:"akamai"`
}

// Server exposes a client's metrics and fingerprint.
type Server struct {
	metrics *metrics.Metrics
	db      *database.Database
	log     *logger.Logger

	profileMu sync.RWMutex
	profile   *fingerprint.Profile

	metricsSubs  map[chan MetricsSnapshot]struct{}
	metricsSubMu sync.Mutex

	mux *http.ServeMux
}

// New creates a Server backed by m and db.  log may be nil.
func New(m *metrics.Metrics, db *database.Database, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	s := &Server{
		metrics:     m,
		db:          db,
		log:         log.Named("dashboard"),
		metricsSubs: make(map[chan MetricsSnapshot]struct{}),
		mux:         http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// SetProfile replaces the profile reported by /api/profile.
func (s *Server) SetProfile(p *fingerprint.Profile) {
	s.profileMu.Lock()
	s.profile = p
	s.profileMu.Unlock()
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe starts the HTTP server on addr (e.g. ":8080") and blocks
// until it fails.  It also starts the ticker feeding stream subscribers.
func (s *Server) ListenAndServe(addr string) error {
	go s.metricsTicker()
	s.log.Info("listening", zap.String("addr", addr))
	srv := &http.Server{
		Addr:        addr,
		Handler:     s.mux,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	return srv.ListenAndServe() // #nosec G114 -- explicit http.Server
}

func (s *Server) registerRoutes() {
	s.mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	s.mux.HandleFunc("/api/metrics/stream", s.withCORS(s.handleMetricsStream))
	s.mux.HandleFunc("/api/profile", s.withCORS(s.handleProfile))
	s.mux.HandleFunc("/api/lookup", s.withCORS(s.handleLookup))
}

func (s *Server) withCORS(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func (s *Server) metricsTicker() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		snap := s.snapshot()
		s.metricsSubMu.Lock()
		for ch := range s.metricsSubs {
			select {
			case ch <- snap:
			default:
			}
		}
		s.metricsSubMu.Unlock()
	}
}

func (s *Server) snapshot() MetricsSnapshot {
	total, success, failed := s.metrics.Snapshot()
	return MetricsSnapshot{
		Timestamp: time.Now().UnixMilli(),
		Total:     total,
		Success:   success,
		Failed:    failed,
		RPS:       s.metrics.RequestsPerSecond(),
	}
}

func (s *Server) handleMetricsStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// The current state goes out immediately; the ticker supplies the rest.
	if err := sseWrite(w, s.snapshot()); err != nil {
		return
	}
	flusher.Flush()

	ch := make(chan MetricsSnapshot, 16)
	s.metricsSubMu.Lock()
	s.metricsSubs[ch] = struct{}{}
	s.metricsSubMu.Unlock()

	defer func() {
		s.metricsSubMu.Lock()
		delete(s.metricsSubs, ch)
		s.metricsSubMu.Unlock()
	}()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-ch:
			if err := sseWrite(w, snap); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func sseWrite(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	s.profileMu.RLock()
	p := s.profile
	s.profileMu.RUnlock()
	if p == nil || p.TLS == nil {
		http.Error(w, "no profile", http.StatusNotFound)
		return
	}
	view := ProfileView{
		JA3:         p.TLS.JA3(),
		UserAgent:   p.UserAgent,
		HeaderOrder: p.HeaderOrder,
	}
	if p.HTTP2 != nil {
		view.Akamai = p.HTTP2.Akamai()
	}
	s.writeJSON(w, http.StatusOK, view)
}

// handleLookup answers ?browser=&version=[&device=][&ios=][&mode=strict].
func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res := LookupResult{Browser: q.Get("browser"), Device: q.Get("device"), Mode: q.Get("mode")}

	var err error
	if res.Version, err = strconv.Atoi(q.Get("version")); err != nil {
		http.Error(w, "version must be an integer", http.StatusBadRequest)
		return
	}
	ios := 0
	if v := q.Get("ios"); v != "" {
		if ios, err = strconv.Atoi(v); err != nil {
			http.Error(w, "ios must be an integer", http.StatusBadRequest)
			return
		}
	}
	if res.Device == "" {
		res.Device = string(database.Desktop)
	}
	device, err := database.ParseDevice(res.Device)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res.Device = string(device)
	mode := database.BestEffort
	if res.Mode == "strict" {
		mode = database.Strict
	}
	res.Mode = mode.String()

	res.JA3, err = s.db.JA3(res.Browser, res.Version, ios, mode)
	if err == nil {
		res.Akamai, err = s.db.Akamai(res.Browser, res.Version, device, ios, mode)
	}
	s.metrics.ObserveLookup(err)
	if err != nil {
		status := http.StatusNotFound
		if errors.Is(err, database.ErrUnknownBrowser) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encode response", zap.Error(err))
	}
}
