package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/creditdesk/chataudit/internal/chatstore"
	"github.com/creditdesk/chataudit/internal/config"
	"github.com/creditdesk/chataudit/internal/dashboard"
	"github.com/creditdesk/chataudit/internal/httpapi"
	"github.com/creditdesk/chataudit/internal/isolation"
	"github.com/creditdesk/chataudit/internal/logger"
	"github.com/creditdesk/chataudit/internal/querysync"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.L.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.Log.Level)

	store, err := chatstore.BuildMessageStoreFromDSN(cfg.Store.DSN)
	if err != nil {
		logger.L.Error("failed to build message store", "dsn", cfg.Store.DSN, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	fallback := chatstore.NewFallbackStore(0)
	probe, err := isolation.NewProbe(store, fallback)
	if err != nil {
		logger.L.Error("failed to build isolation probe", "error", err)
		os.Exit(1)
	}
	cache := dashboard.NewCache()
	page := dashboard.NewPageState()

	// The background services are best-effort: either one failing to
	// come up leaves the dashboard serving on-demand snapshots.
	updaterReady := false
	if updater, updErr := querysync.NewUpdater(store, cache, page, cfg.Sync.Team); updErr != nil {
		logger.L.Warn("update service unavailable", "error", updErr)
	} else {
		updaterReady = true
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = updater.Initialize(ctx)
		}()
	}

	var syncer *querysync.Syncer
	var syncHandle *querysync.Handle
	var syncMu sync.Mutex
	if built, syncErr := querysync.NewSyncer(store, cache, page, querysync.SyncerOptions{
		JitterRatio:  0.2,
		UpdaterReady: updaterReady,
	}); syncErr != nil {
		logger.L.Warn("sync service unavailable", "error", syncErr)
	} else {
		syncer = built
		syncHandle = syncer.StartAutoSync(cfg.Sync.Team, cfg.Sync.IntervalMinutes)
		defer func() {
			syncMu.Lock()
			handle := syncHandle
			syncMu.Unlock()
			handle.Stop()
		}()
	}

	server := httpapi.NewServerWithConfig(httpapi.ServerDeps{
		Store:    store,
		Fallback: fallback,
		Probe:    probe,
		Cache:    cache,
		Page:     page,
		Syncer:   syncStatusSource(syncer),
	}, httpapi.ServerConfig{
		JWTSecret:      cfg.Auth.JWTSecret,
		Environment:    cfg.Server.Environment,
		RateLimitRPS:   cfg.RateLimit.RPS,
		RateLimitBurst: cfg.RateLimit.Burst,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
	})

	interval := cfg.Sync.IntervalMinutes
	team := cfg.Sync.Team
	config.Watch(func(next *config.Config) {
		logger.SetLevel(next.Log.Level)
		if syncer == nil {
			return
		}
		if next.Sync.IntervalMinutes == interval && next.Sync.Team == team {
			return
		}
		interval = next.Sync.IntervalMinutes
		team = next.Sync.Team
		logger.L.Info("sync settings changed, restarting auto sync",
			"team", team, "intervalMinutes", interval)
		syncMu.Lock()
		syncHandle.Stop()
		syncHandle = syncer.StartAutoSync(team, interval)
		syncMu.Unlock()
	})

	addr := net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.L.Info("chataudit listening", "addr", addr, "environment", cfg.Server.Environment)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-rootCtx.Done():
		logger.L.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.L.Warn("graceful shutdown failed", "error", err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.L.Error("server failed", "error", err)
			os.Exit(1)
		}
	}
}

// syncStatusSource avoids handing the server a non-nil interface
// wrapping a nil *Syncer.
func syncStatusSource(s *querysync.Syncer) httpapi.SyncStatusSource {
	if s == nil {
		return nil
	}
	return s
}
