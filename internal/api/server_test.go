package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mfalcone/docmill/internal/ingest"
)

func TestHealthz(t *testing.T) {
	srv := New("127.0.0.1:0", ingest.NewManager(nil, nil, nil, ingest.Options{}), "test")
	ts := httptest.NewServer(srv.srv.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status: got %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestStatusIdle(t *testing.T) {
	srv := New("127.0.0.1:0", ingest.NewManager(nil, nil, nil, ingest.Options{}), "1.2.3")
	ts := httptest.NewServer(srv.srv.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q", ct)
	}

	var body struct {
		Version string           `json:"version"`
		Running bool             `json:"running"`
		Run     *ingest.Snapshot `json:"run"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Version != "1.2.3" {
		t.Errorf("version: got %q", body.Version)
	}
	if body.Running || body.Run != nil {
		t.Errorf("idle manager reported running=%v run=%v", body.Running, body.Run)
	}
}
