// Package notify delivers alerts raised by the aggregator. Sinks are
// fire-and-forget: a failed delivery is logged, never retried, and never
// blocks evaluation.
package notify

import (
	"fmt"
	"time"
)

// Alert kinds.
const (
	KindOccupancy   = "occupancy"
	KindViolation   = "violation"
	KindDailyReport = "daily_report"
)

// Alert is one notification raised for an area.
type Alert struct {
	AreaID    string    `json:"area_id"`
	AreaName  string    `json:"area_name"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Value     float64   `json:"value"` // occupancy count or violation seconds
	Emails    []string  `json:"emails,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// String renders the alert the way it appears in logs and email subjects.
func (a Alert) String() string {
	return fmt.Sprintf("[%s] %s: %s", a.Kind, a.AreaName, a.Message)
}

// Sink delivers alerts somewhere. Implementations must be safe for
// concurrent use; area loops share one sink.
type Sink interface {
	Notify(Alert) error
}

// MultiSink fans one alert out to several sinks. Delivery continues past
// individual failures; the first error is returned.
type MultiSink []Sink

// Notify delivers to every sink.
func (m MultiSink) Notify(a Alert) error {
	var first error
	for _, s := range m {
		if err := s.Notify(a); err != nil && first == nil {
			first = err
		}
	}
	return first
}
