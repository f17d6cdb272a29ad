package detect

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
)

func init() {
	Register("static", func(opts map[string]string) (Detector, error) {
		path := opts["fixtures"]
		if path == "" {
			return nil, fmt.Errorf("static detector requires a fixtures option")
		}
		return NewStaticDetectorFromFile(path)
	})
}

// StaticDetector replays a canned sequence of per-frame detections. Used in
// dev mode and tests, where no inference service is available; once the
// sequence is exhausted it keeps returning the last frame's detections.
type StaticDetector struct {
	frames [][]Detection
	next   int
}

// NewStaticDetector creates a detector replaying the given frame sequence.
func NewStaticDetector(frames [][]Detection) *StaticDetector {
	return &StaticDetector{frames: frames}
}

// NewStaticDetectorFromFile loads fixtures from a file of JSON lines, one
// detection array per frame. Blank lines yield empty frames.
func NewStaticDetectorFromFile(path string) (*StaticDetector, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("static detector: open fixtures: %w", err)
	}
	defer f.Close()

	var frames [][]Detection
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			frames = append(frames, nil)
			continue
		}
		var dets []Detection
		if err := json.Unmarshal(line, &dets); err != nil {
			return nil, fmt.Errorf("static detector: parse fixtures line %d: %w", len(frames)+1, err)
		}
		frames = append(frames, dets)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("static detector: read fixtures: %w", err)
	}
	return NewStaticDetector(frames), nil
}

// Detect returns the next canned frame's detections.
func (d *StaticDetector) Detect(_ context.Context, _ Frame) ([]Detection, error) {
	if len(d.frames) == 0 {
		return nil, nil
	}
	dets := d.frames[d.next]
	if d.next < len(d.frames)-1 {
		d.next++
	}
	return dets, nil
}
