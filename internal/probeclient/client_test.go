package probeclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestClientRetriesTransientFailure(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := atomic.AddInt32(&calls, 1)
		if call == 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"code":"unavailable","message":"retry"}`))
			return
		}
		if r.Method != http.MethodPost || r.URL.Path != "/v1/diagnostics/chat-isolation" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"testPassed":true,"results":{"overall":{"queriesTested":3,"queriesPassed":3,"isolationViolations":0,"errors":0,"testPassed":true}}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "token", server.Client())
	resp, err := client.RunIsolation(context.Background())
	if err != nil {
		t.Fatalf("expected retry to recover from transient 503, got error: %v", err)
	}
	if !resp.TestPassed {
		t.Fatalf("expected testPassed true, got %+v", resp)
	}
	if resp.Results.Overall.QueriesPassed != 3 {
		t.Fatalf("expected 3 queries passed, got %d", resp.Results.Overall.QueriesPassed)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected exactly 2 calls (1 retry), got %d", atomic.LoadInt32(&calls))
	}
}

func TestClientDoesNotRetryClientError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"code":"forbidden","message":"missing required role"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "token", server.Client())
	_, err := client.RunIsolation(context.Background())
	if err == nil {
		t.Fatalf("expected error for 403 response")
	}
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %T: %v", err, err)
	}
	if httpErr.StatusCode != http.StatusForbidden || httpErr.Code != "forbidden" {
		t.Fatalf("unexpected error payload: %+v", httpErr)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected exactly 1 call for a 4xx, got %d", atomic.LoadInt32(&calls))
	}
}

func TestClientCleanup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/v1/diagnostics/chat-isolation" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("Authorization") != "Bearer token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Header.Get("X-Correlation-Id") == "" {
			t.Fatalf("expected correlation id header")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"cleaned":{"database":9,"fallback":0,"total":9}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "token", server.Client())
	resp, err := client.Cleanup(context.Background())
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if !resp.Success || resp.Cleaned.Total != 9 {
		t.Fatalf("unexpected cleanup response: %+v", resp)
	}
}

func TestClientHonorsRetryAfterCap(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", "token", nil)
	if got := client.retryDelay(1, "1"); got != time.Second {
		t.Fatalf("expected 1s from Retry-After, got %s", got)
	}
	if got := client.retryDelay(1, "3600"); got != client.maxDelay {
		t.Fatalf("expected delay capped at %s, got %s", client.maxDelay, got)
	}
	if got := client.retryDelay(3, ""); got != 400*time.Millisecond {
		t.Fatalf("expected exponential delay 400ms, got %s", got)
	}
}
