// Package detect defines the detector adapter boundary: the types produced
// by an inference backend and the pluggable backends themselves. The neural
// network is a black box behind the Detector interface; everything downstream
// (dedup, tracking, distance evaluation) consumes plain Detections.
package detect

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// Box is an axis-aligned bounding box in pixel space.
type Box struct {
	X float64 `json:"x"` // left
	Y float64 `json:"y"` // top
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Center returns the box centre point.
func (b Box) Center() (x, y float64) {
	return b.X + b.W/2, b.Y + b.H/2
}

// BottomCenter returns the midpoint of the bottom edge. Used as the ground
// reference point for calibrated distance projection.
func (b Box) BottomCenter() (x, y float64) {
	return b.X + b.W/2, b.Y + b.H
}

// Corners returns the four corner points in order TL, TR, BL, BR.
func (b Box) Corners() [4][2]float64 {
	return [4][2]float64{
		{b.X, b.Y},
		{b.X + b.W, b.Y},
		{b.X, b.Y + b.H},
		{b.X + b.W, b.Y + b.H},
	}
}

// Area returns the box area in square pixels.
func (b Box) Area() float64 {
	if b.W <= 0 || b.H <= 0 {
		return 0
	}
	return b.W * b.H
}

// IoU returns the intersection-over-union of two boxes in [0,1].
func (b Box) IoU(o Box) float64 {
	x1 := math.Max(b.X, o.X)
	y1 := math.Max(b.Y, o.Y)
	x2 := math.Min(b.X+b.W, o.X+o.W)
	y2 := math.Min(b.Y+b.H, o.Y+o.H)

	if x2 <= x1 || y2 <= y1 {
		return 0
	}
	inter := (x2 - x1) * (y2 - y1)
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Detection is one raw inference result for a frame. Detections are consumed
// by the deduplicator and discarded after tracking.
type Detection struct {
	Box     Box     `json:"box"`
	Score   float64 `json:"score"` // confidence in [0,1]
	ClassID int     `json:"class_id"`
}

// Frame is an opaque image payload handed to a detector backend. Decode and
// capture live outside this pipeline; workers only pass frames through.
type Frame struct {
	Data   []byte
	Width  int
	Height int
	Index  int64
}

// Detector turns a frame into raw detections. Implementations must be safe
// for sequential reuse by a single worker; they need not be goroutine-safe.
type Detector interface {
	Detect(ctx context.Context, frame Frame) ([]Detection, error)
}

// Factory builds a detector backend from source-specific options.
type Factory func(opts map[string]string) (Detector, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a detector backend available under the given name.
// Backends register from init(); selection happens at startup via config.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("detect: duplicate backend registration %q", name))
	}
	registry[name] = f
}

// New builds the named detector backend.
func New(name string, opts map[string]string) (Detector, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("detect: unknown backend %q", name)
	}
	return f(opts)
}

// Backends returns the registered backend names, sorted.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FilterScore drops detections below the minimum confidence, preserving order.
func FilterScore(dets []Detection, minScore float64) []Detection {
	out := dets[:0:0]
	for _, d := range dets {
		if d.Score >= minScore {
			out = append(out, d)
		}
	}
	return out
}
