package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/TeneoProtocolAI/walletscan/internal/core/domain"
	"github.com/TeneoProtocolAI/walletscan/pkg/version"
)

type staticTokens string

func (s staticTokens) Token(ctx context.Context) (string, error) { return string(s), nil }

type failingTokens struct{}

func (failingTokens) Token(ctx context.Context) (string, error) {
	return "", errors.New("no session")
}

func TestClient_Start(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/analysis/W1/start" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		if r.Header.Get("X-Client-Version") != version.Version() {
			t.Errorf("X-Client-Version = %q", r.Header.Get("X-Client-Version"))
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Error("X-Request-ID missing")
		}
		w.Write([]byte(`{"status":"pending","progress":{"processed":0,"total":120}}`))
	}))
	defer server.Close()

	c := NewClient(server.URL+"/", WithTokenSource(staticTokens("tok")))
	resp, err := c.Start(context.Background(), "W1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if resp.Status != domain.StatusPending || resp.Progress.Total != 120 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestClient_Status(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"status": "processing",
			"progress": {"processed": 10, "total": 100},
			"lastHeartbeat": "2025-03-01T12:00:00Z",
			"currentSummary": {"tokenCount": 5, "totalMissedValue": "12.5", "totalGainLoss": -3}
		}`))
	}))
	defer server.Close()

	resp, err := NewClient(server.URL).Status(context.Background(), "W1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if resp.Status != domain.StatusProcessing || resp.Progress.Processed != 10 {
		t.Errorf("resp = %+v", resp)
	}
	if resp.LastHeartbeat == nil || !resp.LastHeartbeat.Equal(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("LastHeartbeat = %v", resp.LastHeartbeat)
	}
	if resp.CurrentSummary == nil || resp.CurrentSummary.TokenCount != 5 ||
		!resp.CurrentSummary.TotalMissedValue.Equal(decimal.RequireFromString("12.5")) {
		t.Errorf("CurrentSummary = %+v", resp.CurrentSummary)
	}
}

func TestClient_StatusNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"no analysis for wallet"}`))
	}))
	defer server.Close()

	resp, err := NewClient(server.URL).Status(context.Background(), "W1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if resp.Status != domain.StatusNotFound {
		t.Errorf("Status = %s, want not_found", resp.Status)
	}
}

func TestClient_UnknownStatusIsTransport(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"queued","progress":{"processed":0,"total":10}}`))
	}))
	defer server.Close()

	c := NewClient(server.URL)
	if _, err := c.Status(context.Background(), "W1"); !domain.IsTransport(err) {
		t.Errorf("Status: got %v, want transport error", err)
	}
	if _, err := c.Start(context.Background(), "W1"); !domain.IsTransport(err) {
		t.Errorf("Start: got %v, want transport error", err)
	}
}

func TestClient_Results(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/analysis/W1/results" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("page") != "2" || r.URL.Query().Get("limit") != "20" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{
			"records": [
				{"mint": "M1", "symbol": "AAA", "trades": 4, "totalVolume": "100", "totalGainLoss": "-8",
				 "totalMissedValue": "40", "purchasePriceSum": "2", "athPriceSum": "10", "averageGainLoss": "999"}
			],
			"total": 21,
			"hasMore": true
		}`))
	}))
	defer server.Close()

	page, err := NewClient(server.URL).Results(context.Background(), "W1", 2, 20)
	if err != nil {
		t.Fatalf("Results: %v", err)
	}
	if page.Page != 2 || page.Total != 21 || len(page.Records) != 1 {
		t.Fatalf("page = %+v", page)
	}
	rec := page.Records[0]
	if !rec.AverageGainLoss.Equal(decimal.NewFromInt(-2)) {
		t.Errorf("AverageGainLoss = %s, want -2 (recomputed from sums)", rec.AverageGainLoss)
	}
	if !rec.AverageAthPrice.Equal(decimal.RequireFromString("2.5")) {
		t.Errorf("AverageAthPrice = %s, want 2.5", rec.AverageAthPrice)
	}
}

func TestClient_PathEscapesKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RawPath != "" && !strings.Contains(r.URL.RawPath, "a%2Fb") {
			t.Errorf("raw path = %s", r.URL.RawPath)
		}
		if r.URL.Path != "/analysis/a/b/status" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"status":"pending"}`))
	}))
	defer server.Close()

	if _, err := NewClient(server.URL).Status(context.Background(), "a/b"); err != nil {
		t.Fatalf("Status: %v", err)
	}
}

func TestClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantRemote bool
		wantMsg    string
	}{
		{name: "structured rejection", status: http.StatusBadRequest, body: `{"error":"invalid wallet"}`, wantRemote: true, wantMsg: "invalid wallet"},
		{name: "server error with error body", status: http.StatusInternalServerError, body: `{"error":"db down"}`, wantRemote: true, wantMsg: "db down"},
		{name: "html error page", status: http.StatusBadGateway, body: `<html>bad gateway</html>`},
		{name: "empty error field", status: http.StatusBadRequest, body: `{"error":""}`},
		{name: "malformed success body", status: http.StatusOK, body: `{"status":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewClient(server.URL).Start(context.Background(), "W1")
			if err == nil {
				t.Fatal("expected error")
			}
			if domain.IsRemote(err) != tt.wantRemote {
				t.Fatalf("IsRemote = %v, want %v (err %v)", domain.IsRemote(err), tt.wantRemote, err)
			}
			if !tt.wantRemote && !domain.IsTransport(err) {
				t.Fatalf("expected transport error, got %T %v", err, err)
			}
			var re *domain.RemoteError
			if tt.wantRemote && errors.As(err, &re) {
				if re.Message != tt.wantMsg || re.StatusCode != tt.status {
					t.Errorf("RemoteError = %+v", re)
				}
			}
		})
	}
}

func TestClient_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewClient(server.URL).Status(ctx, "W1")
	if !domain.IsTransport(err) {
		t.Fatalf("expected transport error on timeout, got %v", err)
	}
}

func TestClient_TokenFailureIsTransport(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	_, err := NewClient(server.URL, WithTokenSource(failingTokens{})).Status(context.Background(), "W1")
	if !domain.IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if hits.Load() != 0 {
		t.Error("request sent without a token")
	}
}

func TestClient_BreakerOpensOnTransportFailures(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c := NewClient(server.URL)
	for i := 0; i < 5; i++ {
		if _, err := c.Status(context.Background(), "W1"); !domain.IsTransport(err) {
			t.Fatalf("call %d: expected transport error, got %v", i+1, err)
		}
	}

	_, err := c.Status(context.Background(), "W1")
	if !domain.IsTransport(err) {
		t.Fatalf("open breaker: expected transport error, got %v", err)
	}
	if hits.Load() != 5 {
		t.Errorf("server hit %d times, want 5 (breaker should short-circuit)", hits.Load())
	}
}

func TestClient_RemoteErrorsDoNotTripBreaker(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"already running"}`))
	}))
	defer server.Close()

	c := NewClient(server.URL)
	for i := 0; i < 8; i++ {
		if _, err := c.Start(context.Background(), "W1"); !domain.IsRemote(err) {
			t.Fatalf("call %d: expected remote error, got %v", i+1, err)
		}
	}
	if hits.Load() != 8 {
		t.Errorf("server hit %d times, want 8", hits.Load())
	}
}
