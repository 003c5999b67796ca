package httpapi

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/creditdesk/chataudit/internal/chatstore"
	"github.com/creditdesk/chataudit/internal/dashboard"
	"github.com/creditdesk/chataudit/internal/isolation"
)

func newTestServer(t *testing.T) (*Server, chatstore.MessageStore, *chatstore.FallbackStore) {
	t.Helper()
	store := chatstore.NewMemoryStore()
	fallback := chatstore.NewFallbackStore(0)
	probe, err := isolation.NewProbe(store, fallback, isolation.WithVisibility(2, time.Millisecond))
	if err != nil {
		t.Fatalf("new probe: %v", err)
	}
	server := NewServer(ServerDeps{
		Store:    store,
		Fallback: fallback,
		Probe:    probe,
		Cache:    dashboard.NewCache(),
		Page:     dashboard.NewPageState(),
	})
	return server, store, fallback
}

func TestAuthRequired(t *testing.T) {
	server, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/diagnostics/chat-isolation", nil)
	rec := httptest.NewRecorder()

	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestDiagnosticsRoleRequired(t *testing.T) {
	server, _, _ := newTestServer(t)
	token := mustTestJWT(t, "dev-secret", "auditor", []string{"credit"}, time.Now().Add(time.Hour))

	resp := doRequest(t, server, request{
		method: http.MethodPost,
		path:   "/v1/diagnostics/chat-isolation",
		headers: map[string]string{
			"Authorization":    "Bearer " + token,
			"X-Correlation-Id": "corr_1",
		},
	})
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without diagnostics role, got %d (%s)", resp.Code, resp.Body.String())
	}
}

func TestIsolationRunAndCleanup(t *testing.T) {
	server, store, _ := newTestServer(t)
	token := mustTestJWT(t, "dev-secret", "auditor", []string{"diagnostics"}, time.Now().Add(time.Hour))

	runResp := doRequest(t, server, request{
		method: http.MethodPost,
		path:   "/v1/diagnostics/chat-isolation",
		headers: map[string]string{
			"Authorization":    "Bearer " + token,
			"X-Correlation-Id": "corr_run",
		},
	})
	if runResp.Code != http.StatusOK {
		t.Fatalf("expected 200 on run, got %d (%s)", runResp.Code, runResp.Body.String())
	}

	var run struct {
		Success    bool             `json:"success"`
		TestPassed bool             `json:"testPassed"`
		Results    isolation.Report `json:"results"`
	}
	if err := json.NewDecoder(runResp.Body).Decode(&run); err != nil {
		t.Fatalf("decode run response: %v", err)
	}
	if !run.Success || !run.TestPassed {
		t.Fatalf("expected clean store to pass, got %+v", run)
	}
	if run.Results.Overall.QueriesPassed != 3 {
		t.Fatalf("expected 3 queries passed, got %d", run.Results.Overall.QueriesPassed)
	}
	for queryID, result := range run.Results.ByQuery {
		if result.MessagesSent != 3 || result.MessagesRetrieved != 3 {
			t.Fatalf("query %s: sent=%d retrieved=%d", queryID, result.MessagesSent, result.MessagesRetrieved)
		}
	}

	cleanupResp := doRequest(t, server, request{
		method: http.MethodDelete,
		path:   "/v1/diagnostics/chat-isolation",
		headers: map[string]string{
			"Authorization":    "Bearer " + token,
			"X-Correlation-Id": "corr_cleanup",
		},
	})
	if cleanupResp.Code != http.StatusOK {
		t.Fatalf("expected 200 on cleanup, got %d (%s)", cleanupResp.Code, cleanupResp.Body.String())
	}
	var cleanup struct {
		Success bool                    `json:"success"`
		Cleaned isolation.CleanupResult `json:"cleaned"`
	}
	if err := json.NewDecoder(cleanupResp.Body).Decode(&cleanup); err != nil {
		t.Fatalf("decode cleanup response: %v", err)
	}
	if !cleanup.Success || cleanup.Cleaned.Total != 9 {
		t.Fatalf("expected 9 records cleaned, got %+v", cleanup)
	}

	counts, err := store.Counts(context.Background())
	if err != nil {
		t.Fatalf("counts after cleanup: %v", err)
	}
	if counts.Messages != 0 {
		t.Fatalf("expected empty store after cleanup, got %d messages", counts.Messages)
	}
}

func TestCorrelationIDRequired(t *testing.T) {
	server, _, _ := newTestServer(t)
	token := mustTestJWT(t, "dev-secret", "auditor", []string{"diagnostics"}, time.Now().Add(time.Hour))

	resp := doRequest(t, server, request{
		method:  http.MethodPost,
		path:    "/v1/diagnostics/chat-isolation",
		headers: map[string]string{"Authorization": "Bearer " + token},
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without correlation id, got %d", resp.Code)
	}
}

func TestDashboardRequiresTeamRole(t *testing.T) {
	server, _, _ := newTestServer(t)
	outsider := mustTestJWT(t, "dev-secret", "outsider", []string{"lending"}, time.Now().Add(time.Hour))

	resp := doRequest(t, server, request{
		method: http.MethodGet,
		path:   "/v1/teams/credit/dashboard",
		headers: map[string]string{
			"Authorization":    "Bearer " + outsider,
			"X-Correlation-Id": "corr_1",
		},
	})
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without credit role, got %d (%s)", resp.Code, resp.Body.String())
	}
	if bytes.Contains(resp.Body.Bytes(), []byte("generatedAt")) {
		t.Fatalf("expected no dashboard content in denial response: %s", resp.Body.String())
	}
}

func TestDashboardSnapshotAndRetry(t *testing.T) {
	server, store, _ := newTestServer(t)
	token := mustTestJWT(t, "dev-secret", "analyst", []string{"credit"}, time.Now().Add(time.Hour))

	seed := chatstore.Message{
		QueryID:    "customer_query_1",
		Message:    "hello",
		Sender:     "alice",
		Timestamp:  time.Now().UTC(),
		ActionType: chatstore.ActionChatMessage,
	}
	if err := store.Store(context.Background(), seed); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	resp := doRequest(t, server, request{
		method: http.MethodGet,
		path:   "/v1/teams/credit/dashboard",
		headers: map[string]string{
			"Authorization":    "Bearer " + token,
			"X-Correlation-Id": "corr_1",
		},
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", resp.Code, resp.Body.String())
	}
	var snapshot dashboard.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snapshot.Team != "credit" || snapshot.PageState != dashboard.StateNormal {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}
	if snapshot.Store.Messages != 1 {
		t.Fatalf("expected 1 stored message in snapshot, got %d", snapshot.Store.Messages)
	}

	retryResp := doRequest(t, server, request{
		method: http.MethodPost,
		path:   "/v1/teams/credit/dashboard/retry",
		headers: map[string]string{
			"Authorization":    "Bearer " + token,
			"X-Correlation-Id": "corr_2",
		},
	})
	if retryResp.Code != http.StatusOK {
		t.Fatalf("expected 200 on retry, got %d", retryResp.Code)
	}
	var retry struct {
		Success   bool   `json:"success"`
		PageState string `json:"pageState"`
	}
	if err := json.NewDecoder(retryResp.Body).Decode(&retry); err != nil {
		t.Fatalf("decode retry response: %v", err)
	}
	if !retry.Success || retry.PageState != dashboard.StateNormal {
		t.Fatalf("unexpected retry response: %+v", retry)
	}
}

func TestDashboardReflectsErroredPageState(t *testing.T) {
	store := chatstore.NewMemoryStore()
	probe, err := isolation.NewProbe(store, nil)
	if err != nil {
		t.Fatalf("new probe: %v", err)
	}
	page := dashboard.NewPageState()
	server := NewServer(ServerDeps{
		Store: store,
		Probe: probe,
		Cache: dashboard.NewCache(),
		Page:  page,
	})
	page.ObserveError(errTest)

	token := mustTestJWT(t, "dev-secret", "analyst", []string{"credit"}, time.Now().Add(time.Hour))
	resp := doRequest(t, server, request{
		method: http.MethodGet,
		path:   "/v1/teams/credit/dashboard",
		headers: map[string]string{
			"Authorization":    "Bearer " + token,
			"X-Correlation-Id": "corr_1",
		},
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("errored page state must not fail the request, got %d", resp.Code)
	}
	var snapshot dashboard.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snapshot.PageState != dashboard.StateErrored {
		t.Fatalf("expected errored page state, got %q", snapshot.PageState)
	}
}

func TestRateLimitReturns429(t *testing.T) {
	store := chatstore.NewMemoryStore()
	probe, err := isolation.NewProbe(store, nil, isolation.WithVisibility(1, time.Millisecond))
	if err != nil {
		t.Fatalf("new probe: %v", err)
	}
	server := NewServerWithConfig(ServerDeps{
		Store: store,
		Probe: probe,
		Cache: dashboard.NewCache(),
		Page:  dashboard.NewPageState(),
	}, ServerConfig{RateLimitRPS: 0.001, RateLimitBurst: 1})
	token := mustTestJWT(t, "dev-secret", "analyst", []string{"credit"}, time.Now().Add(time.Hour))

	first := doRequest(t, server, request{
		method: http.MethodGet,
		path:   "/v1/teams/credit/dashboard",
		headers: map[string]string{
			"Authorization":    "Bearer " + token,
			"X-Correlation-Id": "corr_1",
		},
	})
	if first.Code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", first.Code)
	}
	second := doRequest(t, server, request{
		method: http.MethodGet,
		path:   "/v1/teams/credit/dashboard",
		headers: map[string]string{
			"Authorization":    "Bearer " + token,
			"X-Correlation-Id": "corr_2",
		},
	})
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on burst exhaustion, got %d", second.Code)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header on 429")
	}
}

func TestDashboardPageServed(t *testing.T) {
	server, _, _ := newTestServer(t)
	resp := doRequest(t, server, request{method: http.MethodGet, path: "/dashboard"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for dashboard page, got %d", resp.Code)
	}
	body := resp.Body.String()
	if !bytes.Contains([]byte(body), []byte("Credit Desk Chat Audit")) {
		t.Fatalf("expected dashboard page body")
	}
	// Development builds render the inspector.
	if !bytes.Contains([]byte(body), []byte("var SHOW_DEVTOOLS = true;")) {
		t.Fatalf("expected devtools enabled outside production")
	}
}

func TestDashboardPageHidesDevtoolsInProduction(t *testing.T) {
	store := chatstore.NewMemoryStore()
	probe, err := isolation.NewProbe(store, nil)
	if err != nil {
		t.Fatalf("new probe: %v", err)
	}
	server := NewServerWithConfig(ServerDeps{
		Store: store,
		Probe: probe,
		Cache: dashboard.NewCache(),
		Page:  dashboard.NewPageState(),
	}, ServerConfig{Environment: "production"})

	resp := doRequest(t, server, request{method: http.MethodGet, path: "/dashboard"})
	if !bytes.Contains(resp.Body.Bytes(), []byte("var SHOW_DEVTOOLS = false;")) {
		t.Fatalf("expected devtools disabled in production")
	}
}

func TestHealthEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t)
	resp := doRequest(t, server, request{method: http.MethodGet, path: "/health"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for health, got %d", resp.Code)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	server, _, _ := newTestServer(t)
	token := mustTestJWT(t, "dev-secret", "auditor", []string{"diagnostics"}, time.Now().Add(-time.Hour))

	resp := doRequest(t, server, request{
		method: http.MethodPost,
		path:   "/v1/diagnostics/chat-isolation",
		headers: map[string]string{
			"Authorization":    "Bearer " + token,
			"X-Correlation-Id": "corr_1",
		},
	})
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired token, got %d", resp.Code)
	}
}

func TestWrongAudienceRejected(t *testing.T) {
	server, _, _ := newTestServer(t)
	token := mustTestJWTWithAudience(t, "dev-secret", "auditor", []string{"diagnostics"}, "other-service", time.Now().Add(time.Hour))

	resp := doRequest(t, server, request{
		method: http.MethodPost,
		path:   "/v1/diagnostics/chat-isolation",
		headers: map[string]string{
			"Authorization":    "Bearer " + token,
			"X-Correlation-Id": "corr_1",
		},
	})
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong audience, got %d", resp.Code)
	}
}

var errTest = errTestType{}

type errTestType struct{}

func (errTestType) Error() string { return "boom" }

type request struct {
	method  string
	path    string
	headers map[string]string
	body    map[string]any
}

func doRequest(t *testing.T, server http.Handler, r request) *httptest.ResponseRecorder {
	t.Helper()
	var bodyBytes []byte
	if r.body != nil {
		data, err := json.Marshal(r.body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		bodyBytes = data
	}
	req := httptest.NewRequest(r.method, r.path, bytes.NewReader(bodyBytes))
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	return rec
}

func mustTestJWT(t *testing.T, secret, subject string, roles []string, exp time.Time) string {
	return mustTestJWTWithAudience(t, secret, subject, roles, "chataudit", exp)
}

func mustTestJWTWithAudience(t *testing.T, secret, subject string, roles []string, aud string, exp time.Time) string {
	t.Helper()
	headerBytes, err := json.Marshal(map[string]any{
		"alg": "HS256",
		"typ": "JWT",
	})
	if err != nil {
		t.Fatalf("marshal jwt header: %v", err)
	}
	payloadBytes, err := json.Marshal(map[string]any{
		"sub":   subject,
		"roles": roles,
		"exp":   exp.Unix(),
		"aud":   aud,
	})
	if err != nil {
		t.Fatalf("marshal jwt payload: %v", err)
	}
	h := base64.RawURLEncoding.EncodeToString(headerBytes)
	p := base64.RawURLEncoding.EncodeToString(payloadBytes)
	signingInput := h + "." + p
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signingInput))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return signingInput + "." + sig
}
