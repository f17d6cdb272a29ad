package httputil

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteJSONError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSONError(rec, http.StatusBadRequest, "bad input")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if !strings.Contains(rec.Body.String(), `"bad input"`) {
		t.Errorf("body = %q, missing error message", rec.Body.String())
	}
}

func TestWriteJSONOK(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSONOK(rec, map[string]int{"occupancy": 12})

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"occupancy":12`) {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestMockHTTPClientCannedResponses(t *testing.T) {
	client := NewMockHTTPClient().
		AddResponse(http.StatusOK, `{"ok":true}`).
		AddResponse(http.StatusInternalServerError, "boom")

	resp, err := client.Post("http://example/detect", "application/json", strings.NewReader(`{"frame":1}`))
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != `{"ok":true}` {
		t.Errorf("first response = %d %q", resp.StatusCode, body)
	}

	resp, err = client.Post("http://example/detect", "application/json", nil)
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("second response status = %d, want 500", resp.StatusCode)
	}

	if len(client.Requests) != 2 {
		t.Errorf("recorded %d requests, want 2", len(client.Requests))
	}
	if client.Bodies[0] != `{"frame":1}` {
		t.Errorf("captured body = %q", client.Bodies[0])
	}
}

func TestMockHTTPClientError(t *testing.T) {
	wantErr := errors.New("connection refused")
	client := NewMockHTTPClient().AddError(wantErr)

	_, err := client.Post("http://example", "application/json", nil)
	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
}
