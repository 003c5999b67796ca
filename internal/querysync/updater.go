// Package querysync holds the optional background services behind the
// credit dashboard: a one-shot updater that warms the snapshot cache
// and an interval syncer that keeps it fresh. Both are best-effort; a
// failure here degrades the dashboard's data, never its availability.
package querysync

import (
	"context"
	"errors"
	"time"

	"github.com/creditdesk/chataudit/internal/chatstore"
	"github.com/creditdesk/chataudit/internal/dashboard"
	"github.com/creditdesk/chataudit/internal/logger"
)

// Updater warms the snapshot cache once at startup so the first
// dashboard request does not hit the store on the request path.
type Updater struct {
	store chatstore.MessageStore
	cache *dashboard.Cache
	page  *dashboard.PageState
	team  string
}

func NewUpdater(store chatstore.MessageStore, cache *dashboard.Cache, page *dashboard.PageState, team string) (*Updater, error) {
	if store == nil || cache == nil {
		return nil, errors.New("querysync: updater needs a store and a cache")
	}
	if team == "" {
		team = "credit"
	}
	return &Updater{store: store, cache: cache, page: page, team: team}, nil
}

// Initialize builds and publishes one snapshot. Callers treat it as
// fire-and-forget; an error means the cache stays cold until the
// syncer's first cycle.
func (u *Updater) Initialize(ctx context.Context) error {
	counts, err := u.store.Counts(ctx)
	if err != nil {
		logger.L.Warn("dashboard cache warm-up failed", "error", err)
		return err
	}
	u.cache.Put(dashboard.Snapshot{
		Team:        u.team,
		GeneratedAt: time.Now().UTC(),
		PageState:   u.pageState(),
		Store:       counts,
		Services:    dashboard.ServiceStatus{UpdaterReady: true},
	})
	logger.L.Info("dashboard cache warmed", "team", u.team, "messages", counts.Messages)
	return nil
}

func (u *Updater) pageState() string {
	if u.page == nil {
		return dashboard.StateNormal
	}
	return u.page.Current()
}
