package transport

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/watchgrid/proximity.report/internal/monitoring"
	"github.com/watchgrid/proximity.report/internal/report"
)

// ReportHandler receives decoded frame reports from connected sources.
// Implementations must tolerate duplicates.
type ReportHandler interface {
	HandleReport(report.FrameReport)
}

// ReportHandlerFunc adapts a function to the ReportHandler interface.
type ReportHandlerFunc func(report.FrameReport)

// HandleReport calls f(r).
func (f ReportHandlerFunc) HandleReport(r report.FrameReport) { f(r) }

// IngestServer accepts websocket connections from source workers,
// authenticates them with a pre-shared key, and feeds decoded reports to a
// handler. One goroutine per connection; the handler is called inline.
type IngestServer struct {
	authKey  string
	handler  ReportHandler
	upgrader websocket.Upgrader
}

// NewIngestServer creates an ingest endpoint. An empty authKey disables
// authentication (dev mode only).
func NewIngestServer(authKey string, handler ReportHandler) *IngestServer {
	return &IngestServer{
		authKey: authKey,
		handler: handler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Workers are not browsers; origin checks don't apply.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and pumps reports until the peer
// disconnects. Authentication failures are rejected before the upgrade so
// the worker sees a plain 401.
func (s *IngestServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.authKey != "" && r.Header.Get(AuthHeader) != s.authKey {
		monitoring.Logf("transport: rejected ingest connection from %s: bad auth key", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("transport: upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}
	defer conn.Close()

	monitoring.Logf("transport: source connected from %s", r.RemoteAddr)
	for {
		var rep report.FrameReport
		if err := conn.ReadJSON(&rep); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				monitoring.Logf("transport: source %s read error: %v", r.RemoteAddr, err)
			}
			return
		}
		if rep.SourceID == "" {
			monitoring.Logf("transport: dropping report without source id from %s", r.RemoteAddr)
			continue
		}
		s.handler.HandleReport(rep)
	}
}
