package httpapi

import (
	"encoding/json"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/creditdesk/chataudit/internal/chatstore"
	"github.com/creditdesk/chataudit/internal/dashboard"
	"github.com/creditdesk/chataudit/internal/isolation"
	"github.com/creditdesk/chataudit/internal/logger"
)

type ServerConfig struct {
	JWTSecret      string
	Environment    string
	RateLimitRPS   float64
	RateLimitBurst int
	MaxBodyBytes   int64
}

const diagnosticsRole = "diagnostics"

type Server struct {
	store    chatstore.MessageStore
	fallback *chatstore.FallbackStore
	probe    *isolation.Probe
	cache    *dashboard.Cache
	page     *dashboard.PageState
	syncer   SyncStatusSource
	cfg      ServerConfig
	limiters *limiterPool
	router   *mux.Router
}

// SyncStatusSource exposes the background sync loop's counters to the
// dashboard handlers. Nil means no syncer is running.
type SyncStatusSource interface {
	Status() dashboard.SyncStatus
}

type limiterPool struct {
	mu    sync.Mutex
	m     map[string]*rate.Limiter
	rps   float64
	burst int
}

func (p *limiterPool) allow(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m == nil {
		p.m = make(map[string]*rate.Limiter)
	}
	limiter, ok := p.m[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(p.rps), p.burst)
		p.m[key] = limiter
	}
	return limiter.Allow()
}

type ServerDeps struct {
	Store    chatstore.MessageStore
	Fallback *chatstore.FallbackStore
	Probe    *isolation.Probe
	Cache    *dashboard.Cache
	Page     *dashboard.PageState
	Syncer   SyncStatusSource
}

func NewServer(deps ServerDeps) *Server {
	return NewServerWithConfig(deps, ServerConfig{})
}

func NewServerWithConfig(deps ServerDeps, cfg ServerConfig) *Server {
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret"
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	var limiters *limiterPool
	if cfg.RateLimitRPS > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = int(math.Ceil(cfg.RateLimitRPS)) * 2
		}
		limiters = &limiterPool{rps: cfg.RateLimitRPS, burst: burst}
	}
	s := &Server{
		store:    deps.Store,
		fallback: deps.Fallback,
		probe:    deps.Probe,
		cache:    deps.Cache,
		page:     deps.Page,
		syncer:   deps.Syncer,
		cfg:      cfg,
		limiters: limiters,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/dashboard", s.handleDashboardPage).Methods(http.MethodGet)

	r.HandleFunc("/v1/diagnostics/chat-isolation", s.handleIsolationRun).Methods(http.MethodPost)
	r.HandleFunc("/v1/diagnostics/chat-isolation", s.handleIsolationCleanup).Methods(http.MethodDelete)

	r.HandleFunc("/v1/teams/{team}/dashboard", s.handleDashboardSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/v1/teams/{team}/dashboard/retry", s.handleDashboardRetry).Methods(http.MethodPost)
	r.HandleFunc("/v1/teams/{team}/dashboard/ws", s.handleDashboardWS).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(req))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", getCorrelationID(req))
	})
	return r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.cfg.MaxBodyBytes > 0 && r.Body != nil {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	}
	s.router.ServeHTTP(w, r)
}

// authorize gates an API route on a role and applies per-subject rate
// limiting. On failure the response has already been written.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, requiredRole string) (tokenClaims, string, bool) {
	claims, authErr := authorizeBearer(bearerHeader(r), s.cfg.JWTSecret, requiredRole, time.Now().UTC())
	if authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, getCorrelationID(r))
		return tokenClaims{}, "", false
	}
	correlationID := getCorrelationID(r)
	if correlationID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing X-Correlation-Id header", "")
		return tokenClaims{}, "", false
	}
	if s.limiters != nil && !s.limiters.allow(claims.Subject) {
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", correlationID)
		return tokenClaims{}, "", false
	}
	return claims, correlationID, true
}

func (s *Server) handleIsolationRun(w http.ResponseWriter, r *http.Request) {
	claims, correlationID, ok := s.authorize(w, r, diagnosticsRole)
	if !ok {
		return
	}
	logger.L.Info("isolation probe run requested",
		"subject", claims.Subject,
		"correlationId", correlationID)

	report, err := s.probe.Run(r.Context())
	if err != nil {
		logger.L.Error("isolation probe run failed", "error", err, "correlationId", correlationID)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success":    false,
			"error":      errorText(err),
			"testPassed": false,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"testPassed": report.Overall.TestPassed,
		"results":    report,
	})
}

func (s *Server) handleIsolationCleanup(w http.ResponseWriter, r *http.Request) {
	claims, correlationID, ok := s.authorize(w, r, diagnosticsRole)
	if !ok {
		return
	}
	logger.L.Info("isolation cleanup requested",
		"subject", claims.Subject,
		"correlationId", correlationID)

	cleaned, err := s.probe.Cleanup(r.Context())
	if err != nil {
		logger.L.Error("isolation cleanup failed", "error", err, "correlationId", correlationID)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"error":   errorText(err),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"cleaned": cleaned,
	})
}

func (s *Server) handleDashboardSnapshot(w http.ResponseWriter, r *http.Request) {
	team := mux.Vars(r)["team"]
	_, correlationID, ok := s.authorize(w, r, team)
	if !ok {
		return
	}
	snapshot, found := s.cache.Get()
	if !found || snapshot.Team != team {
		fresh, err := s.buildSnapshot(r, team)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", errorText(err), correlationID)
			return
		}
		snapshot = fresh
		s.cache.Put(snapshot)
	}
	snapshot.PageState = s.pageState()
	if s.fallback != nil {
		snapshot.FallbackEntries = s.fallback.Len()
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) buildSnapshot(r *http.Request, team string) (dashboard.Snapshot, error) {
	counts, err := s.store.Counts(r.Context())
	if err != nil {
		return dashboard.Snapshot{}, err
	}
	snapshot := dashboard.Snapshot{
		Team:        team,
		GeneratedAt: time.Now().UTC(),
		PageState:   s.pageState(),
		Store:       counts,
	}
	if s.syncer != nil {
		snapshot.Sync = s.syncer.Status()
		snapshot.Services.SyncerReady = true
	}
	return snapshot, nil
}

func (s *Server) handleDashboardRetry(w http.ResponseWriter, r *http.Request) {
	team := mux.Vars(r)["team"]
	_, _, ok := s.authorize(w, r, team)
	if !ok {
		return
	}
	if s.page != nil {
		s.page.Retry()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"pageState": s.pageState(),
	})
}

func (s *Server) pageState() string {
	if s.page == nil {
		return dashboard.StateNormal
	}
	return s.page.Current()
}

func bearerHeader(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		return header
	}
	// Browsers cannot set headers on websocket upgrades; accept the
	// token as a query parameter there.
	if token := r.URL.Query().Get("token"); token != "" {
		return "Bearer " + token
	}
	return ""
}

func errorText(err error) string {
	if err == nil || err.Error() == "" {
		return "internal error"
	}
	return err.Error()
}

func getCorrelationID(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}
