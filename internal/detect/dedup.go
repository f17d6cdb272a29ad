package detect

// Dedup suppresses near-duplicate detections within one frame. A detection
// is dropped when some other detection overlaps it beyond the IoU threshold
// with strictly higher confidence, or with equal confidence and an earlier
// index. The rule is a pure function of the input: output order follows
// input order, and running Dedup on its own output returns it unchanged
// (a kept detection has no dominator in the full input, so none in any
// subset of it either).
//
// The threshold is a near-duplicate filter (typically 0.98), not a
// sparsifying NMS: distinct people standing close still produce distinct
// boxes with modest overlap and survive.
func Dedup(dets []Detection, iouThreshold float64) []Detection {
	if len(dets) < 2 {
		return dets
	}

	out := make([]Detection, 0, len(dets))
	for j, d := range dets {
		dominated := false
		for i, other := range dets {
			if i == j {
				continue
			}
			if other.Score < d.Score || (other.Score == d.Score && i > j) {
				continue
			}
			if other.Box.IoU(d.Box) > iouThreshold {
				dominated = true
				break
			}
		}
		if !dominated {
			out = append(out, d)
		}
	}
	return out
}
