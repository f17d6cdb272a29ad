// Package report defines the wire records exchanged between source workers
// and the central aggregator.
package report

import "time"

// ViolatingPair is one counted proximity violation within a frame.
type ViolatingPair struct {
	IDA        string    `json:"id_a"`
	IDB        string    `json:"id_b"`
	DistanceCm float64   `json:"distance_cm"`
	Since      time.Time `json:"since"`
}

// FrameReport is the per-frame summary a source worker sends upstream.
// FrameTimestamp is the capture time of the frame; together with SourceID it
// forms the deduplication key for at-least-once delivery.
type FrameReport struct {
	SourceID       string          `json:"source_id"`
	FrameTimestamp time.Time       `json:"frame_timestamp"`
	FrameIndex     int64           `json:"frame_index"`
	TrackedCount   int             `json:"tracked_count"`
	Occupancy      int             `json:"occupancy"`
	ViolatingPairs []ViolatingPair `json:"violating_pairs,omitempty"`
}

// Key identifies a report for deduplication.
type Key struct {
	SourceID       string
	FrameTimestamp time.Time
}

// DedupKey returns the (source, frame time) identity of the report.
func (r *FrameReport) DedupKey() Key {
	return Key{SourceID: r.SourceID, FrameTimestamp: r.FrameTimestamp}
}

// ViolationCount returns the number of counted pairs in the frame.
func (r *FrameReport) ViolationCount() int {
	return len(r.ViolatingPairs)
}
