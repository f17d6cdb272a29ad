// Package worker runs the per-source processing pipeline: detect, filter,
// deduplicate, track, evaluate distances, and report. Frames within one
// source are strictly sequential; sources run in parallel under a bounded
// pool.
package worker

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/watchgrid/proximity.report/internal/detect"
	"github.com/watchgrid/proximity.report/internal/distance"
	"github.com/watchgrid/proximity.report/internal/monitoring"
	"github.com/watchgrid/proximity.report/internal/report"
	"github.com/watchgrid/proximity.report/internal/track"
)

// FrameSource yields frames for one camera in capture order. Next blocks
// until a frame is available and returns io.EOF when the stream ends.
type FrameSource interface {
	Next(ctx context.Context) (detect.Frame, time.Time, error)
	Close() error
}

// Reporter accepts completed frame reports. Implementations must not block;
// the transport client's bounded queue satisfies this.
type Reporter interface {
	Enqueue(report.FrameReport) bool
}

// Config holds the per-source pipeline parameters.
type Config struct {
	SourceID       string
	MinScore       float64
	DedupThreshold float64
	Tracker        track.Config
	Distance       distance.Config
}

// Worker processes one source. Not safe for concurrent use; each source
// gets its own worker.
type Worker struct {
	config    Config
	detector  detect.Detector
	tracker   *track.Tracker
	evaluator *distance.Evaluator
	reporter  Reporter

	frameIndex int64
}

// New creates a worker for one source.
func New(config Config, detector detect.Detector, reporter Reporter) *Worker {
	return &Worker{
		config:    config,
		detector:  detector,
		tracker:   track.NewTracker(config.Tracker),
		evaluator: distance.NewEvaluator(config.Distance),
		reporter:  reporter,
	}
}

// Run consumes the source until it ends or ctx is cancelled. A detector
// failure skips the frame but still ages tracks; a source failure ends the
// run with an error.
func (w *Worker) Run(ctx context.Context, source FrameSource) error {
	defer source.Close()

	monitoring.Logf("worker %s: started", w.config.SourceID)
	for {
		frame, ts, err := source.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				monitoring.Logf("worker %s: source ended after %d frames", w.config.SourceID, w.frameIndex)
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		w.ProcessFrame(ctx, frame, ts)
	}
}

// ProcessFrame runs the full pipeline for one frame and enqueues the
// resulting report.
func (w *Worker) ProcessFrame(ctx context.Context, frame detect.Frame, ts time.Time) {
	w.frameIndex++

	dets, err := w.detector.Detect(ctx, frame)
	if err != nil {
		// Skip the frame, keep going. The missed observation still counts
		// toward track memory.
		monitoring.Logf("worker %s: frame %d detect: %v", w.config.SourceID, w.frameIndex, err)
		w.tracker.AdvanceEmpty(w.frameIndex)
		return
	}

	dets = detect.FilterScore(dets, w.config.MinScore)
	dets = detect.Dedup(dets, w.config.DedupThreshold)
	live := w.tracker.Update(dets, w.frameIndex)

	pairs := w.evaluator.Evaluate(live, ts)
	counted := distance.Violations(pairs)

	rep := report.FrameReport{
		SourceID:       w.config.SourceID,
		FrameTimestamp: ts,
		FrameIndex:     w.frameIndex,
		TrackedCount:   len(live),
		Occupancy:      len(live),
	}
	for _, p := range counted {
		rep.ViolatingPairs = append(rep.ViolatingPairs, report.ViolatingPair{
			IDA:        p.IDA,
			IDB:        p.IDB,
			DistanceCm: p.DistanceCm,
			Since:      p.Since,
		})
	}

	if !w.reporter.Enqueue(rep) {
		monitoring.Logf("worker %s: report buffer full, oldest frame dropped", w.config.SourceID)
	}
}

// Tracker exposes the worker's tracker for inspection.
func (w *Worker) Tracker() *track.Tracker {
	return w.tracker
}
