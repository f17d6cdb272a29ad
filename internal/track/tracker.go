// Package track associates per-frame detections into persistent identities.
// Matching is a geometric nearest-centre heuristic; there is no appearance
// model. Lost identities are retained for a bounded number of frames (the
// track memory) so brief detector misses do not fragment tracks.
package track

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/watchgrid/proximity.report/internal/detect"
	"github.com/watchgrid/proximity.report/internal/monitoring"
)

// Config holds tracker parameters for one source.
type Config struct {
	MaxTrackFrame int     // frames a lost identity survives before pruning
	MatchRadiusPx float64 // maximum centre distance for association (pixels)
}

// DefaultConfig returns the tracker defaults used when a source config
// leaves the post-processor thresholds unset.
func DefaultConfig() Config {
	return Config{
		MaxTrackFrame: 5,
		MatchRadiusPx: 100,
	}
}

// TrackedObject is one persistent identity within a source. The identity is
// assigned once and never reused while the object is alive.
type TrackedObject struct {
	ID              string
	LastBox         detect.Box
	LastSeenFrame   int64
	FramesSinceSeen int
	CreationFrame   int64
}

// Tracker maintains the identity map for a single source. A worker calls
// Update once per frame in frame order; snapshot getters are safe from
// other goroutines.
type Tracker struct {
	config Config
	tracks map[string]*TrackedObject
	frame  int64

	mu sync.RWMutex
}

// NewTracker creates a tracker with the given configuration.
func NewTracker(config Config) *Tracker {
	return &Tracker{
		config: config,
		tracks: make(map[string]*TrackedObject),
	}
}

// Update processes one frame of deduplicated detections and returns the live
// identities after the update. frameIndex must be non-decreasing; a frame
// older than the last processed one is ignored so a replayed or stale frame
// cannot corrupt track ages.
func (t *Tracker) Update(dets []detect.Detection, frameIndex int64) []TrackedObject {
	t.mu.Lock()
	defer t.mu.Unlock()

	if frameIndex < t.frame {
		monitoring.Logf("track: ignoring out-of-order frame %d (at %d)", frameIndex, t.frame)
		return t.liveLocked()
	}
	t.frame = frameIndex

	// Step 1: greedily match detections to tracks by nearest centre
	// distance below the match radius. Pairs are considered globally in
	// ascending distance order so two detections cannot claim one track.
	type candidate struct {
		detIdx int
		id     string
		dist   float64
	}
	var candidates []candidate
	for i, d := range dets {
		dx, dy := d.Box.Center()
		for id, trk := range t.tracks {
			tx, ty := trk.LastBox.Center()
			dist := math.Hypot(dx-tx, dy-ty)
			if dist <= t.config.MatchRadiusPx {
				candidates = append(candidates, candidate{detIdx: i, id: id, dist: dist})
			}
		}
	}
	sort.Slice(candidates, func(a, b int) bool { return candidates[a].dist < candidates[b].dist })

	matchedDet := make(map[int]bool, len(dets))
	matchedTrack := make(map[string]bool, len(t.tracks))
	for _, c := range candidates {
		if matchedDet[c.detIdx] || matchedTrack[c.id] {
			continue
		}
		matchedDet[c.detIdx] = true
		matchedTrack[c.id] = true

		trk := t.tracks[c.id]
		trk.LastBox = dets[c.detIdx].Box
		trk.LastSeenFrame = frameIndex
		trk.FramesSinceSeen = 0
	}

	// Step 2: age unmatched tracks and prune those past the track memory.
	for id, trk := range t.tracks {
		if matchedTrack[id] {
			continue
		}
		trk.FramesSinceSeen++
		if trk.FramesSinceSeen > t.config.MaxTrackFrame {
			delete(t.tracks, id)
		}
	}

	// Step 3: spawn identities for unmatched detections.
	for i, d := range dets {
		if matchedDet[i] {
			continue
		}
		id := fmt.Sprintf("per_%s", uuid.NewString())
		t.tracks[id] = &TrackedObject{
			ID:            id,
			LastBox:       d.Box,
			LastSeenFrame: frameIndex,
			CreationFrame: frameIndex,
		}
	}

	return t.liveLocked()
}

// AdvanceEmpty ages every track by one frame without detections. Workers
// call this when the detector fails for a frame so that track memory still
// elapses (a skipped frame is a missed observation, not a pause).
func (t *Tracker) AdvanceEmpty(frameIndex int64) []TrackedObject {
	return t.Update(nil, frameIndex)
}

// Live returns a snapshot of the current identities, sorted by creation
// frame then ID for deterministic iteration.
func (t *Tracker) Live() []TrackedObject {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.liveLocked()
}

func (t *Tracker) liveLocked() []TrackedObject {
	out := make([]TrackedObject, 0, len(t.tracks))
	for _, trk := range t.tracks {
		out = append(out, *trk)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].CreationFrame != out[b].CreationFrame {
			return out[a].CreationFrame < out[b].CreationFrame
		}
		return out[a].ID < out[b].ID
	})
	return out
}

// Count returns the number of live identities.
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.tracks)
}

// Reset drops all identities. Used between replay runs in tests and tools.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracks = make(map[string]*TrackedObject)
	t.frame = 0
}
