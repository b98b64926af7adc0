package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/depthfeed/internal/domain"
	"github.com/alanyoungcy/depthfeed/internal/server/handler"
)

type noQuotes struct{}

func (noQuotes) Latest(domain.InstrumentKey) (domain.Message, bool) { return nil, false }

func newTestServer(t *testing.T, apiKey string) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Handlers{
		Health:  handler.NewHealthHandler(map[string]handler.Check{"noop": func(context.Context) error { return nil }}, logger),
		Status:  handler.NewStatusHandler("ticker", time.Now()),
		Depth:   handler.NewDepthHandler(nil, nil, logger),
		Quote:   handler.NewQuoteHandler(noQuotes{}, nil, logger),
		Signals: handler.NewSignalHandler(nil, nil, logger),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "# metrics\n")
		}),
	}
	srv := NewServer(Config{APIKey: apiKey, CORSOrigins: []string{"https://dash.example"}}, h, nil, logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, url string, header map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestRoutes(t *testing.T) {
	ts := newTestServer(t, "")

	tests := []struct {
		path string
		want int
	}{
		{"/api/health", http.StatusOK},
		{"/api/status", http.StatusOK},
		{"/api/depth/NSE_EQ/2885", http.StatusNotFound},
		{"/api/depth/NSE_EQ/2885/summary", http.StatusNotFound},
		{"/api/depth/NSE_EQ/2885/history", http.StatusNotFound},
		{"/api/depth/LSE/1", http.StatusBadRequest},
		{"/api/quote/NSE_EQ/2885", http.StatusNotFound},
		{"/api/signals", http.StatusServiceUnavailable},
		{"/api/events", http.StatusServiceUnavailable},
		{"/metrics", http.StatusOK},
		{"/api/orders", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if resp := get(t, ts.URL+tt.path, nil); resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestWriteMethodsAreNotRouted(t *testing.T) {
	ts := newTestServer(t, "")
	resp, err := http.Post(ts.URL+"/api/status", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, want 405", resp.StatusCode)
	}
}

func TestAuth(t *testing.T) {
	ts := newTestServer(t, "s3cret")

	tests := []struct {
		name   string
		path   string
		header map[string]string
		want   int
	}{
		{name: "health is public", path: "/api/health", want: http.StatusOK},
		{name: "metrics is public", path: "/metrics", want: http.StatusOK},
		{name: "missing token", path: "/api/status", want: http.StatusUnauthorized},
		{name: "wrong token", path: "/api/status", header: map[string]string{"X-API-Key": "nope"}, want: http.StatusUnauthorized},
		{name: "bearer", path: "/api/status", header: map[string]string{"Authorization": "Bearer s3cret"}, want: http.StatusOK},
		{name: "api key header", path: "/api/status", header: map[string]string{"X-API-Key": "s3cret"}, want: http.StatusOK},
		{name: "query param only for ws", path: "/api/status?api_key=s3cret", want: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if resp := get(t, ts.URL+tt.path, tt.header); resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t, "s3cret")

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/status", nil)
	req.Header.Set("Origin", "https://dash.example")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://dash.example" {
		t.Errorf("allow origin = %q", got)
	}

	resp = get(t, ts.URL+"/api/health", map[string]string{"Origin": "https://evil.example"})
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("foreign origin allowed: %q", got)
	}
}

func TestStatusBody(t *testing.T) {
	ts := newTestServer(t, "")
	resp := get(t, ts.URL+"/api/status", nil)
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["mode"] != "ticker" {
		t.Errorf("mode = %v", body["mode"])
	}
	if feeds, ok := body["feeds"].([]any); !ok || len(feeds) != 0 {
		t.Errorf("feeds = %v", body["feeds"])
	}
}
