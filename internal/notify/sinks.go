package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/watchgrid/proximity.report/internal/httputil"
	"github.com/watchgrid/proximity.report/internal/monitoring"
)

// LogSink writes alerts to the package logger. Always installed so alerts
// are visible even when no delivery channel is configured.
type LogSink struct{}

// Notify logs the alert.
func (LogSink) Notify(a Alert) error {
	monitoring.Logf("ALERT %s", a)
	return nil
}

// WebhookSink POSTs each alert as JSON to a configured endpoint, typically
// an email-gateway or chat integration.
type WebhookSink struct {
	url    string
	client httputil.HTTPClient
}

// NewWebhookSink creates a sink for the given endpoint. A nil client uses
// the default HTTP client.
func NewWebhookSink(url string, client httputil.HTTPClient) *WebhookSink {
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	return &WebhookSink{url: url, client: client}
}

// Notify posts the alert.
func (s *WebhookSink) Notify(a Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("webhook: encode alert: %w", err)
	}
	resp, err := s.client.Post(s.url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook: status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return nil
}

// MemorySink records alerts for inspection in tests.
type MemorySink struct {
	mu     sync.Mutex
	alerts []Alert
}

// Notify appends the alert.
func (s *MemorySink) Notify(a Alert) error {
	s.mu.Lock()
	s.alerts = append(s.alerts, a)
	s.mu.Unlock()
	return nil
}

// Alerts returns a copy of everything recorded.
func (s *MemorySink) Alerts() []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Alert, len(s.alerts))
	copy(out, s.alerts)
	return out
}

// Len returns the number of recorded alerts.
func (s *MemorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}
