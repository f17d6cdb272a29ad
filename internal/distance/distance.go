// Package distance estimates real-world separation between tracked people
// and maintains per-pair proximity streaks. A pair only counts as a
// violation once it has stayed below the threshold for the configured
// number of seconds, which filters people merely walking past each other.
package distance

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/watchgrid/proximity.report/internal/monitoring"
	"github.com/watchgrid/proximity.report/internal/track"
)

// Distance model names, matching the source configuration values.
const (
	MethodCenterPoints = "CenterPointsDistance"
	MethodFourCorner   = "FourCornerPointsDistance"
	MethodCalibrated   = "CalibratedDistance"
)

// KnownMethod reports whether name is a supported distance model.
func KnownMethod(name string) bool {
	switch name {
	case MethodCenterPoints, MethodFourCorner, MethodCalibrated:
		return true
	}
	return false
}

// Pair is one pair of identities currently below the distance threshold.
// Since is when the current streak started; Violating becomes true once the
// streak has lasted the configured violation time.
type Pair struct {
	IDA        string
	IDB        string
	DistanceCm float64
	Since      time.Time
	Violating  bool
}

// Config holds the evaluation parameters for one source.
type Config struct {
	Method        string
	CmPerPixel    float64
	ThresholdCm   float64
	ViolationSecs float64
	// Calibration is a row-major 3x3 homography mapping image pixel
	// coordinates to ground-plane centimetres. Only used by the
	// calibrated model.
	Calibration *[9]float64
}

// Evaluator computes pairwise distances for the live tracks of one source
// and keeps the below-threshold streak state between frames. It is used by
// a single worker goroutine and is not safe for concurrent use.
type Evaluator struct {
	config     Config
	method     string
	homography *mat.Dense
	streaks    map[pairKey]time.Time
}

type pairKey struct {
	a, b string
}

// key builds an order-independent pair key.
func key(idA, idB string) pairKey {
	if idB < idA {
		idA, idB = idB, idA
	}
	return pairKey{a: idA, b: idB}
}

// NewEvaluator creates an evaluator for the given configuration. If the
// calibrated model is requested but the homography is missing or singular,
// the evaluator falls back to the centre-points model and logs a warning
// rather than failing the source.
func NewEvaluator(config Config) *Evaluator {
	e := &Evaluator{
		config:  config,
		method:  config.Method,
		streaks: make(map[pairKey]time.Time),
	}
	if e.method == "" {
		e.method = MethodCenterPoints
	}

	if e.method == MethodCalibrated {
		h, err := buildHomography(config.Calibration)
		if err != nil {
			monitoring.Logf("distance: %v, falling back to %s", err, MethodCenterPoints)
			e.method = MethodCenterPoints
		} else {
			e.homography = h
		}
	}
	return e
}

func buildHomography(cells *[9]float64) (*mat.Dense, error) {
	if cells == nil {
		return nil, fmt.Errorf("calibrated model selected but no calibration matrix configured")
	}
	h := mat.NewDense(3, 3, cells[:])
	if det := mat.Det(h); math.Abs(det) < 1e-12 {
		return nil, fmt.Errorf("calibration matrix is singular (det=%g)", det)
	}
	return h, nil
}

// Method returns the model actually in effect, after any fallback.
func (e *Evaluator) Method() string {
	return e.method
}

// Evaluate computes all pairwise distances among the live tracks, updates
// the streak state, and returns the pairs currently below the threshold.
// Pairs are ordered by the iteration order of the input slice.
func (e *Evaluator) Evaluate(tracks []track.TrackedObject, now time.Time) []Pair {
	live := make(map[pairKey]bool, len(e.streaks))
	var pairs []Pair

	for i := 0; i < len(tracks); i++ {
		for j := i + 1; j < len(tracks); j++ {
			a, b := &tracks[i], &tracks[j]
			dist := e.distanceCm(a, b)
			k := key(a.ID, b.ID)

			if dist >= e.config.ThresholdCm {
				// Streak broken; any future approach starts over.
				delete(e.streaks, k)
				continue
			}

			since, ok := e.streaks[k]
			if !ok {
				since = now
				e.streaks[k] = since
			}
			live[k] = true

			pairs = append(pairs, Pair{
				IDA:        a.ID,
				IDB:        b.ID,
				DistanceCm: dist,
				Since:      since,
				Violating:  now.Sub(since).Seconds() >= e.config.ViolationSecs,
			})
		}
	}

	// Drop streaks whose identities left the frame.
	for k := range e.streaks {
		if !live[k] {
			delete(e.streaks, k)
		}
	}

	return pairs
}

// Violations filters Evaluate output down to counted violations.
func Violations(pairs []Pair) []Pair {
	var out []Pair
	for _, p := range pairs {
		if p.Violating {
			out = append(out, p)
		}
	}
	return out
}

func (e *Evaluator) distanceCm(a, b *track.TrackedObject) float64 {
	switch e.method {
	case MethodFourCorner:
		return e.fourCornerCm(a, b)
	case MethodCalibrated:
		return e.calibratedCm(a, b)
	default:
		return e.centerCm(a, b)
	}
}

// centerCm scales the pixel distance between box centres by the flat
// cm-per-pixel factor.
func (e *Evaluator) centerCm(a, b *track.TrackedObject) float64 {
	ax, ay := a.LastBox.Center()
	bx, by := b.LastBox.Center()
	return math.Hypot(ax-bx, ay-by) * e.config.CmPerPixel
}

// fourCornerCm takes the minimum over all 16 corner-to-corner distances,
// approximating closest body separation rather than centre separation.
func (e *Evaluator) fourCornerCm(a, b *track.TrackedObject) float64 {
	ac := a.LastBox.Corners()
	bc := b.LastBox.Corners()
	min := math.Inf(1)
	for _, p := range ac {
		for _, q := range bc {
			if d := math.Hypot(p[0]-q[0], p[1]-q[1]); d < min {
				min = d
			}
		}
	}
	return min * e.config.CmPerPixel
}

// calibratedCm projects each box's bottom-centre (foot point) through the
// homography into ground-plane centimetres and measures there.
func (e *Evaluator) calibratedCm(a, b *track.TrackedObject) float64 {
	afx, afy := a.LastBox.BottomCenter()
	bfx, bfy := b.LastBox.BottomCenter()
	ax, ay := project(e.homography, afx, afy)
	bx, by := project(e.homography, bfx, bfy)
	return math.Hypot(ax-bx, ay-by)
}

// project applies the homography to an image point. The projective divide
// uses the third row; points mapping near the horizon (w≈0) collapse to the
// unscaled result to avoid blowing up the distance.
func project(h *mat.Dense, x, y float64) (float64, float64) {
	px := h.At(0, 0)*x + h.At(0, 1)*y + h.At(0, 2)
	py := h.At(1, 0)*x + h.At(1, 1)*y + h.At(1, 2)
	w := h.At(2, 0)*x + h.At(2, 1)*y + h.At(2, 2)
	if math.Abs(w) < 1e-12 {
		return px, py
	}
	return px / w, py / w
}
