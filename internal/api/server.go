// Package api exposes the read-only query interface consumed by the
// dashboard: live area snapshots, alert and occupancy history, daily report
// summaries, and an operational backup endpoint.
package api

import (
	"bufio"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/watchgrid/proximity.report/internal/aggregate"
	"github.com/watchgrid/proximity.report/internal/config"
	"github.com/watchgrid/proximity.report/internal/httputil"
	"github.com/watchgrid/proximity.report/internal/store"
	"github.com/watchgrid/proximity.report/internal/timeutil"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Server serves the query API. All endpoints are read-only except the
// backup trigger.
type Server struct {
	agg   *aggregate.Aggregator
	db    *store.Store
	cfg   *config.Config
	clock timeutil.Clock
}

// NewServer creates the API server. clock may be nil for real time.
func NewServer(agg *aggregate.Aggregator, db *store.Store, cfg *config.Config, clock timeutil.Clock) *Server {
	if clock == nil {
		clock = timeutil.NewRealClock()
	}
	return &Server{agg: agg, db: db, cfg: cfg, clock: clock}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack forwards to the underlying writer so websocket upgrades (the
// /ingest endpoint) work through the middleware.
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("underlying ResponseWriter does not support hijacking")
	}
	return hijacker.Hijack()
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	default:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	}
}

// LoggingMiddleware logs method, path, status, and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns the route table.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/healthz", s.healthz)
	mux.HandleFunc("GET /api/areas", s.listAreas)
	mux.HandleFunc("GET /api/areas/{id}", s.showArea)
	mux.HandleFunc("GET /api/areas/{id}/alerts", s.listAlerts)
	mux.HandleFunc("GET /api/areas/{id}/reports", s.listDailyReports)
	mux.HandleFunc("GET /api/areas/{id}/occupancy", s.listOccupancy)
	mux.HandleFunc("GET /api/areas/{id}/occupancy/chart", s.occupancyChart)
	mux.HandleFunc("GET /api/config", s.showConfig)
	mux.HandleFunc("POST /api/backup", s.backup)
	return mux
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{"status": "ok"})
}

func (s *Server) listAreas(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, s.agg.Snapshots())
}

// lookupArea resolves the {id} path value, writing a 404 on miss.
func (s *Server) lookupArea(w http.ResponseWriter, r *http.Request) (aggregate.Snapshot, bool) {
	id := r.PathValue("id")
	snap, ok := s.agg.AreaSnapshot(id)
	if !ok {
		httputil.NotFound(w, fmt.Sprintf("unknown area %q", id))
	}
	return snap, ok
}

func (s *Server) showArea(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.lookupArea(w, r)
	if !ok {
		return
	}
	httputil.WriteJSONOK(w, snap)
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.lookupArea(w, r)
	if !ok {
		return
	}

	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			httputil.BadRequest(w, "invalid 'limit' parameter")
			return
		}
		limit = parsed
	}
	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httputil.BadRequest(w, "invalid 'since' parameter, want RFC3339")
			return
		}
		since = parsed
	}

	alerts, err := s.db.RecentAlerts(snap.AreaID, since, limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if alerts == nil {
		alerts = []store.AlertRecord{}
	}
	httputil.WriteJSONOK(w, alerts)
}

func (s *Server) listDailyReports(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.lookupArea(w, r)
	if !ok {
		return
	}

	limit := 31
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			httputil.BadRequest(w, "invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	reports, err := s.db.DailyReports(snap.AreaID, limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if reports == nil {
		reports = []store.DailyReport{}
	}
	httputil.WriteJSONOK(w, reports)
}

// occupancyRange parses the shared hours parameter and loads the samples.
func (s *Server) occupancyRange(w http.ResponseWriter, r *http.Request) ([]store.OccupancySample, string, bool) {
	snap, ok := s.lookupArea(w, r)
	if !ok {
		return nil, "", false
	}

	hours := 24
	if h := r.URL.Query().Get("hours"); h != "" {
		parsed, err := strconv.Atoi(h)
		if err != nil || parsed < 1 || parsed > 24*31 {
			httputil.BadRequest(w, "invalid 'hours' parameter")
			return nil, "", false
		}
		hours = parsed
	}

	now := s.clock.Now()
	samples, err := s.db.OccupancyRange(snap.AreaID, now.Add(-time.Duration(hours)*time.Hour), now)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return nil, "", false
	}
	return samples, snap.Name, true
}

func (s *Server) listOccupancy(w http.ResponseWriter, r *http.Request) {
	samples, _, ok := s.occupancyRange(w, r)
	if !ok {
		return
	}
	if samples == nil {
		samples = []store.OccupancySample{}
	}
	httputil.WriteJSONOK(w, samples)
}

// showConfig returns the loaded configuration with secrets blanked.
func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	redacted := *s.cfg
	if redacted.App.QueueAuthKey != nil {
		masked := "********"
		app := redacted.App
		app.QueueAuthKey = &masked
		redacted.App = app
	}
	httputil.WriteJSONOK(w, redacted)
}

// backup writes a consistent database snapshot next to the live file and
// returns its path.
func (s *Server) backup(w http.ResponseWriter, r *http.Request) {
	dest := fmt.Sprintf("%s.backup-%s", s.cfg.App.GetDBPath(), s.clock.Now().Format("20060102-150405"))
	if err := s.db.Backup(dest); err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"backup": dest})
}
