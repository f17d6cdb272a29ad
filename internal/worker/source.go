package worker

import (
	"context"
	"io"
	"time"

	"github.com/watchgrid/proximity.report/internal/detect"
	"github.com/watchgrid/proximity.report/internal/timeutil"
)

// IntervalSource emits frames at a fixed rate. The frame payload comes from
// an optional generator; with a nil generator frames are empty shells, which
// is enough for detectors that do not consume pixel data (the static replay
// backend). MaxFrames bounds the stream for replay runs; zero means
// unbounded.
type IntervalSource struct {
	Interval  time.Duration
	MaxFrames int64
	Generate  func(index int64) detect.Frame
	Clock     timeutil.Clock

	emitted int64
}

// Next waits one interval and returns the next frame stamped with the
// current time.
func (s *IntervalSource) Next(ctx context.Context) (detect.Frame, time.Time, error) {
	if s.MaxFrames > 0 && s.emitted >= s.MaxFrames {
		return detect.Frame{}, time.Time{}, io.EOF
	}
	clock := s.Clock
	if clock == nil {
		clock = timeutil.NewRealClock()
	}

	select {
	case <-ctx.Done():
		return detect.Frame{}, time.Time{}, ctx.Err()
	case <-clock.After(s.Interval):
	}

	s.emitted++
	frame := detect.Frame{Index: s.emitted}
	if s.Generate != nil {
		frame = s.Generate(s.emitted)
		frame.Index = s.emitted
	}
	return frame, clock.Now(), nil
}

// Close implements FrameSource.
func (s *IntervalSource) Close() error { return nil }

// SliceSource replays a fixed set of frames with preassigned timestamps.
// Used by tests and offline analysis.
type SliceSource struct {
	Frames     []detect.Frame
	Timestamps []time.Time

	next int
}

// Next returns the next frame, or io.EOF once exhausted.
func (s *SliceSource) Next(ctx context.Context) (detect.Frame, time.Time, error) {
	if err := ctx.Err(); err != nil {
		return detect.Frame{}, time.Time{}, err
	}
	if s.next >= len(s.Frames) {
		return detect.Frame{}, time.Time{}, io.EOF
	}
	frame := s.Frames[s.next]
	var ts time.Time
	if s.next < len(s.Timestamps) {
		ts = s.Timestamps[s.next]
	}
	s.next++
	return frame, ts, nil
}

// Close implements FrameSource.
func (s *SliceSource) Close() error { return nil }
