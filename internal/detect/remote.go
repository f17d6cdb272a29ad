package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/watchgrid/proximity.report/internal/httputil"
)

func init() {
	Register("remote", func(opts map[string]string) (Detector, error) {
		url := opts["url"]
		if url == "" {
			return nil, fmt.Errorf("remote detector requires an url option")
		}
		return NewRemoteDetector(url, nil), nil
	})
}

// RemoteDetector posts frames to an external inference service and decodes
// the detection list it returns. The service owns the model; this adapter
// only shapes the request and response.
type RemoteDetector struct {
	url    string
	client httputil.HTTPClient
}

// NewRemoteDetector creates a detector calling the given inference endpoint.
// A nil client uses the default HTTP client.
func NewRemoteDetector(url string, client httputil.HTTPClient) *RemoteDetector {
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	return &RemoteDetector{url: url, client: client}
}

type remoteRequest struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Image  []byte `json:"image"` // encodes as base64 in JSON
}

type remoteResponse struct {
	Detections []Detection `json:"detections"`
}

// Detect sends the frame to the inference service.
func (d *RemoteDetector) Detect(ctx context.Context, frame Frame) ([]Detection, error) {
	payload, err := json.Marshal(remoteRequest{
		Width:  frame.Width,
		Height: frame.Height,
		Image:  frame.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("remote detector: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("remote detector: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote detector: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("remote detector: status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var decoded remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("remote detector: decode response: %w", err)
	}
	return decoded.Detections, nil
}
