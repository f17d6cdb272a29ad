package detect

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func det(x, y, w, h, score float64) Detection {
	return Detection{Box: Box{X: x, Y: y, W: w, H: h}, Score: score}
}

func TestDedupRemovesNearDuplicates(t *testing.T) {
	dets := []Detection{
		det(100, 100, 50, 120, 0.9),
		det(100, 100, 50, 120, 0.7), // exact duplicate, lower confidence
		det(400, 100, 50, 120, 0.8), // far away, kept
	}

	got := Dedup(dets, 0.98)
	want := []Detection{dets[0], dets[2]}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Dedup mismatch (-want +got):\n%s", diff)
	}
}

func TestDedupKeepsHigherConfidenceRegardlessOfOrder(t *testing.T) {
	dets := []Detection{
		det(100, 100, 50, 120, 0.6),
		det(100, 100, 50, 120, 0.9),
	}

	got := Dedup(dets, 0.98)
	if len(got) != 1 || got[0].Score != 0.9 {
		t.Errorf("Dedup = %+v, want single detection with score 0.9", got)
	}
}

func TestDedupTieBreakEarlierIndexWins(t *testing.T) {
	a := det(100, 100, 50, 120, 0.8)
	b := det(100, 100, 50, 120, 0.8)
	b.ClassID = 1 // distinguishable

	got := Dedup([]Detection{a, b}, 0.98)
	if len(got) != 1 || got[0].ClassID != 0 {
		t.Errorf("Dedup = %+v, want earlier-indexed detection kept", got)
	}
}

func TestDedupIdempotent(t *testing.T) {
	dets := []Detection{
		det(100, 100, 50, 120, 0.9),
		det(101, 100, 50, 120, 0.85), // near duplicate
		det(300, 100, 50, 120, 0.8),
		det(300, 101, 50, 120, 0.8), // near duplicate, tie
		det(600, 100, 50, 120, 0.5),
	}

	once := Dedup(dets, 0.9)
	twice := Dedup(once, 0.9)
	if diff := cmp.Diff(once, twice); diff != "" {
		t.Errorf("Dedup not idempotent (-once +twice):\n%s", diff)
	}
}

func TestDedupModestOverlapSurvives(t *testing.T) {
	// Two people standing close: boxes overlap but nowhere near the
	// duplicate threshold.
	dets := []Detection{
		det(100, 100, 60, 150, 0.9),
		det(140, 100, 60, 150, 0.85),
	}

	got := Dedup(dets, 0.98)
	if len(got) != 2 {
		t.Errorf("Dedup removed a distinct person: %+v", got)
	}
}

func TestDedupEmptyAndSingle(t *testing.T) {
	if got := Dedup(nil, 0.98); len(got) != 0 {
		t.Errorf("Dedup(nil) = %v", got)
	}
	one := []Detection{det(0, 0, 10, 10, 0.5)}
	if got := Dedup(one, 0.98); len(got) != 1 {
		t.Errorf("Dedup(one) = %v", got)
	}
}

func TestIoU(t *testing.T) {
	a := Box{X: 0, Y: 0, W: 10, H: 10}
	cases := []struct {
		name string
		b    Box
		want float64
	}{
		{"identical", Box{X: 0, Y: 0, W: 10, H: 10}, 1.0},
		{"disjoint", Box{X: 20, Y: 20, W: 10, H: 10}, 0.0},
		{"half overlap", Box{X: 5, Y: 0, W: 10, H: 10}, 50.0 / 150.0},
		{"touching edges", Box{X: 10, Y: 0, W: 10, H: 10}, 0.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := a.IoU(tc.b)
			if diff := got - tc.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("IoU = %v, want %v", got, tc.want)
			}
			if sym := tc.b.IoU(a); sym != got {
				t.Errorf("IoU not symmetric: %v vs %v", got, sym)
			}
		})
	}
}

func TestFilterScore(t *testing.T) {
	dets := []Detection{
		det(0, 0, 10, 10, 0.9),
		det(0, 0, 10, 10, 0.1),
		det(0, 0, 10, 10, 0.25),
	}
	got := FilterScore(dets, 0.25)
	if len(got) != 2 {
		t.Errorf("FilterScore kept %d detections, want 2", len(got))
	}
}
