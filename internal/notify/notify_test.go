package notify

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/watchgrid/proximity.report/internal/httputil"
)

func TestAlertString(t *testing.T) {
	a := Alert{
		AreaID:   "lobby",
		AreaName: "Main Lobby",
		Kind:     KindOccupancy,
		Message:  "occupancy 14 above threshold 10 for 200s",
	}
	want := "[occupancy] Main Lobby: occupancy 14 above threshold 10 for 200s"
	if got := a.String(); got != want {
		t.Errorf("String = %q, want %q", got, want)
	}
}

func TestWebhookSink(t *testing.T) {
	client := httputil.NewMockHTTPClient().AddResponse(http.StatusOK, `{}`)
	sink := NewWebhookSink("http://gateway.local/alerts", client)

	a := Alert{
		AreaID:    "lobby",
		Kind:      KindViolation,
		Message:   "12.5 violation-seconds in the last window",
		Value:     12.5,
		Emails:    []string{"ops@example.com"},
		Timestamp: time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC),
	}
	if err := sink.Notify(a); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if len(client.Bodies) != 1 {
		t.Fatalf("recorded %d bodies", len(client.Bodies))
	}
	var sent Alert
	if err := json.Unmarshal([]byte(client.Bodies[0]), &sent); err != nil {
		t.Fatalf("decode sent alert: %v", err)
	}
	if sent.AreaID != "lobby" || sent.Value != 12.5 || len(sent.Emails) != 1 {
		t.Errorf("sent = %+v", sent)
	}
}

func TestWebhookSinkErrorStatus(t *testing.T) {
	client := httputil.NewMockHTTPClient().AddResponse(http.StatusBadGateway, "upstream down")
	sink := NewWebhookSink("http://gateway.local/alerts", client)
	if err := sink.Notify(Alert{Kind: KindOccupancy}); err == nil {
		t.Error("Notify succeeded on 502")
	}
}

type failingSink struct{}

func (failingSink) Notify(Alert) error { return errors.New("boom") }

func TestMultiSinkContinuesPastFailure(t *testing.T) {
	mem := &MemorySink{}
	multi := MultiSink{failingSink{}, mem}

	err := multi.Notify(Alert{Kind: KindDailyReport, AreaID: "lobby"})
	if err == nil {
		t.Error("MultiSink swallowed the failure")
	}
	if mem.Len() != 1 {
		t.Errorf("later sink not invoked: %d alerts", mem.Len())
	}
}
