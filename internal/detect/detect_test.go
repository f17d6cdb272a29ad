package detect

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/watchgrid/proximity.report/internal/httputil"
)

func TestBoxGeometry(t *testing.T) {
	b := Box{X: 10, Y: 20, W: 40, H: 60}

	cx, cy := b.Center()
	if cx != 30 || cy != 50 {
		t.Errorf("Center = (%v,%v), want (30,50)", cx, cy)
	}

	bx, by := b.BottomCenter()
	if bx != 30 || by != 80 {
		t.Errorf("BottomCenter = (%v,%v), want (30,80)", bx, by)
	}

	corners := b.Corners()
	want := [4][2]float64{{10, 20}, {50, 20}, {10, 80}, {50, 80}}
	if corners != want {
		t.Errorf("Corners = %v, want %v", corners, want)
	}
}

func TestRegistryKnownBackends(t *testing.T) {
	names := Backends()
	found := map[string]bool{}
	for _, n := range names {
		found[n] = true
	}
	if !found["remote"] || !found["static"] {
		t.Errorf("Backends() = %v, want remote and static registered", names)
	}

	if _, err := New("holographic", nil); err == nil {
		t.Error("New accepted unknown backend")
	}
}

func TestRemoteDetector(t *testing.T) {
	client := httputil.NewMockHTTPClient().
		AddResponse(http.StatusOK, `{"detections":[{"box":{"x":1,"y":2,"w":3,"h":4},"score":0.75,"class_id":0}]}`)

	d := NewRemoteDetector("http://inference.local/detect", client)
	dets, err := d.Detect(context.Background(), Frame{Data: []byte{0x1}, Width: 640, Height: 480})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(dets) != 1 || dets[0].Score != 0.75 || dets[0].Box.W != 3 {
		t.Errorf("Detect = %+v", dets)
	}
	if len(client.Requests) != 1 {
		t.Fatalf("recorded %d requests", len(client.Requests))
	}
	if got := client.Requests[0].URL.String(); got != "http://inference.local/detect" {
		t.Errorf("request url = %q", got)
	}
}

func TestRemoteDetectorErrorStatus(t *testing.T) {
	client := httputil.NewMockHTTPClient().AddResponse(http.StatusServiceUnavailable, "model loading")

	d := NewRemoteDetector("http://inference.local/detect", client)
	if _, err := d.Detect(context.Background(), Frame{}); err == nil {
		t.Error("Detect succeeded on 503")
	}
}

func TestStaticDetectorReplay(t *testing.T) {
	frames := [][]Detection{
		{det(0, 0, 10, 10, 0.9)},
		nil,
		{det(5, 5, 10, 10, 0.8), det(50, 5, 10, 10, 0.7)},
	}
	d := NewStaticDetector(frames)

	ctx := context.Background()
	for i, want := range []int{1, 0, 2, 2, 2} { // last frame repeats
		got, err := d.Detect(ctx, Frame{})
		if err != nil {
			t.Fatalf("Detect frame %d: %v", i, err)
		}
		if len(got) != want {
			t.Errorf("frame %d: %d detections, want %d", i, len(got), want)
		}
	}
}

func TestStaticDetectorFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixtures.jsonl")
	content := `[{"box":{"x":1,"y":1,"w":2,"h":2},"score":0.9,"class_id":0}]

[]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	d, err := NewStaticDetectorFromFile(path)
	if err != nil {
		t.Fatalf("NewStaticDetectorFromFile: %v", err)
	}

	first, _ := d.Detect(context.Background(), Frame{})
	if len(first) != 1 {
		t.Errorf("first frame = %+v, want one detection", first)
	}
	second, _ := d.Detect(context.Background(), Frame{})
	if len(second) != 0 {
		t.Errorf("second frame = %+v, want empty", second)
	}
}

func TestStaticDetectorFromFileBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixtures.jsonl")
	if err := os.WriteFile(path, []byte("not json\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewStaticDetectorFromFile(path); err == nil {
		t.Error("NewStaticDetectorFromFile accepted malformed fixtures")
	}
}
