package worker

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/watchgrid/proximity.report/internal/detect"
	"github.com/watchgrid/proximity.report/internal/distance"
	"github.com/watchgrid/proximity.report/internal/report"
	"github.com/watchgrid/proximity.report/internal/track"
)

type memReporter struct {
	mu      sync.Mutex
	reports []report.FrameReport
}

func (m *memReporter) Enqueue(r report.FrameReport) bool {
	m.mu.Lock()
	m.reports = append(m.reports, r)
	m.mu.Unlock()
	return true
}

func (m *memReporter) all() []report.FrameReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]report.FrameReport, len(m.reports))
	copy(out, m.reports)
	return out
}

func det(x, y, w, h, score float64) detect.Detection {
	return detect.Detection{Box: detect.Box{X: x, Y: y, W: w, H: h}, Score: score}
}

func testConfig() Config {
	return Config{
		SourceID:       "cam-1",
		MinScore:       0.25,
		DedupThreshold: 0.98,
		Tracker:        track.Config{MaxTrackFrame: 5, MatchRadiusPx: 100},
		Distance: distance.Config{
			Method:        distance.MethodCenterPoints,
			CmPerPixel:    1.0,
			ThresholdCm:   150,
			ViolationSecs: 60,
		},
	}
}

func timestamps(start time.Time, n int, step time.Duration) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = start.Add(time.Duration(i) * step)
	}
	return out
}

func TestWorkerPipelineEndToEnd(t *testing.T) {
	// Two people 80px (=80cm) apart, below the 150cm threshold, held for
	// 120 frames at 2fps. The 121st frame reaches the 60s streak and
	// carries the first counted violation.
	const frames = 121
	fixtures := make([][]detect.Detection, frames)
	for i := range fixtures {
		fixtures[i] = []detect.Detection{
			det(100, 100, 40, 120, 0.9),
			det(180, 100, 40, 120, 0.85), // centres 80px apart
		}
	}

	start := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	source := &SliceSource{
		Frames:     make([]detect.Frame, frames),
		Timestamps: timestamps(start, frames, 500*time.Millisecond),
	}

	sink := &memReporter{}
	w := New(testConfig(), detect.NewStaticDetector(fixtures), sink)
	if err := w.Run(context.Background(), source); err != nil {
		t.Fatalf("Run: %v", err)
	}

	reports := sink.all()
	if len(reports) != frames {
		t.Fatalf("got %d reports, want %d", len(reports), frames)
	}
	for i, r := range reports {
		if r.Occupancy != 2 || r.TrackedCount != 2 {
			t.Fatalf("report %d: occupancy = %d", i, r.Occupancy)
		}
		if i < frames-1 && len(r.ViolatingPairs) != 0 {
			t.Fatalf("report %d carries a violation before the 60s streak", i)
		}
	}

	last := reports[frames-1]
	if len(last.ViolatingPairs) != 1 {
		t.Fatalf("final report pairs = %+v, want exactly one counted violation", last.ViolatingPairs)
	}
	p := last.ViolatingPairs[0]
	if p.DistanceCm != 80 {
		t.Errorf("violation distance = %v, want 80", p.DistanceCm)
	}
	if !p.Since.Equal(start) {
		t.Errorf("violation since = %v, want %v", p.Since, start)
	}
	if last.SourceID != "cam-1" || last.FrameIndex != frames {
		t.Errorf("report metadata = %+v", last)
	}
}

type flakyDetector struct {
	calls int
}

func (d *flakyDetector) Detect(_ context.Context, _ detect.Frame) ([]detect.Detection, error) {
	d.calls++
	if d.calls == 2 {
		return nil, errors.New("inference backend unavailable")
	}
	return []detect.Detection{det(100, 100, 40, 120, 0.9)}, nil
}

func TestDetectorFailureSkipsFrameButAgesTracks(t *testing.T) {
	sink := &memReporter{}
	w := New(testConfig(), &flakyDetector{}, sink)

	start := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	source := &SliceSource{
		Frames:     make([]detect.Frame, 3),
		Timestamps: timestamps(start, 3, 500*time.Millisecond),
	}
	if err := w.Run(context.Background(), source); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Frame 2 failed: no report emitted for it, but the identity from
	// frame 1 survives into frame 3 with its track memory spent.
	reports := sink.all()
	if len(reports) != 2 {
		t.Fatalf("got %d reports, want 2 (failed frame skipped)", len(reports))
	}
	if reports[0].FrameIndex != 1 || reports[1].FrameIndex != 3 {
		t.Errorf("report frame indices = %d, %d", reports[0].FrameIndex, reports[1].FrameIndex)
	}
	if w.Tracker().Count() != 1 {
		t.Errorf("tracks = %d, want the original identity kept", w.Tracker().Count())
	}
}

func TestMinScoreFilterApplied(t *testing.T) {
	fixtures := [][]detect.Detection{{
		det(100, 100, 40, 120, 0.9),
		det(300, 100, 40, 120, 0.1), // below MinScore, never tracked
	}}
	sink := &memReporter{}
	w := New(testConfig(), detect.NewStaticDetector(fixtures), sink)

	source := &SliceSource{
		Frames:     make([]detect.Frame, 1),
		Timestamps: timestamps(time.Now(), 1, time.Second),
	}
	if err := w.Run(context.Background(), source); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := sink.all()[0].Occupancy; got != 1 {
		t.Errorf("occupancy = %d, want 1 after score filtering", got)
	}
}

func TestPoolBoundsParallelism(t *testing.T) {
	const jobs = 6
	const limit = 2

	var mu sync.Mutex
	active, peak := 0, 0

	mkSource := func() FrameSource {
		return &instrumentedSource{
			onNext: func() {
				mu.Lock()
				active++
				if active > peak {
					peak = active
				}
				mu.Unlock()
				time.Sleep(20 * time.Millisecond)
				mu.Lock()
				active--
				mu.Unlock()
			},
		}
	}

	var list []Job
	for i := 0; i < jobs; i++ {
		list = append(list, Job{
			Worker: New(testConfig(), detect.NewStaticDetector(nil), &memReporter{}),
			Source: mkSource(),
		})
	}

	NewPool(limit).Run(context.Background(), list)

	if peak > limit {
		t.Errorf("peak parallelism = %d, want <= %d", peak, limit)
	}
	if peak == 0 {
		t.Error("no source ever ran")
	}
}

type instrumentedSource struct {
	onNext func()
	calls  int
}

func (s *instrumentedSource) Next(ctx context.Context) (detect.Frame, time.Time, error) {
	if s.calls >= 1 {
		return detect.Frame{}, time.Time{}, io.EOF
	}
	s.calls++
	s.onNext()
	return detect.Frame{}, time.Now(), nil
}

func (s *instrumentedSource) Close() error { return nil }
