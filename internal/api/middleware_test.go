package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/watchgrid/proximity.report/internal/report"
	"github.com/watchgrid/proximity.report/internal/transport"
)

// The deployed mux wraps the ingest endpoint in LoggingMiddleware, so the
// response writer wrapper must support hijacking or no worker can connect.
func TestLoggingMiddlewareAllowsWebsocketUpgrade(t *testing.T) {
	var mu sync.Mutex
	var got []report.FrameReport
	ingest := transport.NewIngestServer("sekrit", transport.ReportHandlerFunc(func(r report.FrameReport) {
		mu.Lock()
		got = append(got, r)
		mu.Unlock()
	}))

	srv := httptest.NewServer(LoggingMiddleware(ingest))
	defer srv.Close()

	header := http.Header{}
	header.Set(transport.AuthHeader, "sekrit")
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial through middleware: %v (status %d)", err, status)
	}
	defer conn.Close()

	sent := report.FrameReport{
		SourceID:       "cam-1",
		FrameTimestamp: t0,
		FrameIndex:     1,
		TrackedCount:   2,
		Occupancy:      2,
	}
	if err := conn.WriteJSON(sent); err != nil {
		t.Fatalf("write report: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].SourceID != "cam-1" || got[0].Occupancy != 2 {
		t.Fatalf("delivered reports = %+v, want the one sent", got)
	}
}
