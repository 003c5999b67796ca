package querysync

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/creditdesk/chataudit/internal/chatstore"
	"github.com/creditdesk/chataudit/internal/dashboard"
	"github.com/creditdesk/chataudit/internal/logger"
)

// Syncer republishes dashboard snapshots on an interval.
type Syncer struct {
	store        chatstore.MessageStore
	cache        *dashboard.Cache
	page         *dashboard.PageState
	jitterRatio  float64
	updaterReady bool

	mu                  sync.Mutex
	cycles              int64
	consecutiveFailures int64
	lastCycleAt         time.Time
	lastErr             error
}

type SyncerOptions struct {
	// JitterRatio spreads cycle start times so multiple replicas do
	// not hit the store in lockstep. Clamped to [0, 1].
	JitterRatio float64
	// UpdaterReady is reflected into published snapshots.
	UpdaterReady bool
}

func NewSyncer(store chatstore.MessageStore, cache *dashboard.Cache, page *dashboard.PageState, opts SyncerOptions) (*Syncer, error) {
	if store == nil || cache == nil {
		return nil, errors.New("querysync: syncer needs a store and a cache")
	}
	return &Syncer{
		store:        store,
		cache:        cache,
		page:         page,
		jitterRatio:  clampJitterRatio(opts.JitterRatio),
		updaterReady: opts.UpdaterReady,
	}, nil
}

// Handle cancels a running sync loop. Stop blocks until the loop has
// exited and is safe to call more than once.
type Handle struct {
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

func (h *Handle) Stop() {
	if h == nil {
		return
	}
	h.stopOnce.Do(func() {
		h.cancel()
		<-h.done
	})
}

// StartAutoSync runs one immediate cycle and then repeats every
// intervalMinutes until the returned handle is stopped. Cycle failures
// are logged and counted; the loop never exits on its own.
func (s *Syncer) StartAutoSync(team string, intervalMinutes int) *Handle {
	if team == "" {
		team = "credit"
	}
	if intervalMinutes <= 0 {
		intervalMinutes = 1
	}
	return s.startLoop(team, time.Duration(intervalMinutes)*time.Minute)
}

// StartAutoSyncEvery is StartAutoSync with a raw interval, used by
// tests and by deployments that want sub-minute cadence.
func (s *Syncer) StartAutoSyncEvery(team string, interval time.Duration) *Handle {
	if team == "" {
		team = "credit"
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return s.startLoop(team, interval)
}

func (s *Syncer) startLoop(team string, interval time.Duration) *Handle {
	ctx, cancel := context.WithCancel(context.Background())
	handle := &Handle{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(handle.done)
		logger.L.Info("auto sync started", "team", team, "interval", interval.String())

		s.syncOnce(ctx, team)

		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		timer := time.NewTimer(jitteredIntervalWithSample(interval, s.jitterRatio, rng.Float64()))
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				logger.L.Info("auto sync stopped", "team", team)
				return
			case <-timer.C:
				s.syncOnce(ctx, team)
				timer.Reset(jitteredIntervalWithSample(interval, s.jitterRatio, rng.Float64()))
			}
		}
	}()
	return handle
}

func (s *Syncer) syncOnce(ctx context.Context, team string) {
	counts, err := s.store.Counts(ctx)

	s.mu.Lock()
	s.cycles++
	s.lastCycleAt = time.Now().UTC()
	if err != nil {
		s.consecutiveFailures++
		s.lastErr = err
	} else {
		s.consecutiveFailures = 0
		s.lastErr = nil
	}
	status := s.statusLocked()
	s.mu.Unlock()

	if err != nil {
		logger.L.Warn("sync cycle failed", "team", team, "error", err)
		return
	}
	s.cache.Put(dashboard.Snapshot{
		Team:        team,
		GeneratedAt: time.Now().UTC(),
		PageState:   s.pageState(),
		Store:       counts,
		Sync:        status,
		Services: dashboard.ServiceStatus{
			UpdaterReady: s.updaterReady,
			SyncerReady:  true,
		},
	})
}

// Status reports the loop's counters for display.
func (s *Syncer) Status() dashboard.SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Syncer) statusLocked() dashboard.SyncStatus {
	status := dashboard.SyncStatus{
		Running:             true,
		Cycles:              s.cycles,
		ConsecutiveFailures: s.consecutiveFailures,
		LastCycleAt:         s.lastCycleAt,
	}
	if s.lastErr != nil {
		status.LastError = s.lastErr.Error()
	}
	return status
}

func (s *Syncer) pageState() string {
	if s.page == nil {
		return dashboard.StateNormal
	}
	return s.page.Current()
}

func clampJitterRatio(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

func jitteredIntervalWithSample(base time.Duration, jitterRatio, sample float64) time.Duration {
	if base <= 0 {
		return 0
	}
	jitterRatio = clampJitterRatio(jitterRatio)
	if jitterRatio == 0 {
		return base
	}
	if sample < 0 {
		sample = 0
	} else if sample > 1 {
		sample = 1
	}
	factor := 1 + ((sample*2)-1)*jitterRatio
	if factor < 0 {
		factor = 0
	}
	delay := time.Duration(float64(base) * factor)
	if delay < time.Millisecond {
		return time.Millisecond
	}
	return delay
}
