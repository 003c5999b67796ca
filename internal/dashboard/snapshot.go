package dashboard

import (
	"sync"
	"time"

	"github.com/creditdesk/chataudit/internal/chatstore"
)

// SyncStatus summarizes the background sync loop for display.
type SyncStatus struct {
	Running             bool      `json:"running"`
	Cycles              int64     `json:"cycles"`
	ConsecutiveFailures int64     `json:"consecutiveFailures"`
	LastCycleAt         time.Time `json:"lastCycleAt,omitempty"`
	LastError           string    `json:"lastError,omitempty"`
}

// ServiceStatus records whether each optional background service came
// up. A service that failed to start leaves the page usable; the flag
// is informational.
type ServiceStatus struct {
	UpdaterReady bool `json:"updaterReady"`
	SyncerReady  bool `json:"syncerReady"`
}

// Snapshot is one rendered view of the dashboard's data.
type Snapshot struct {
	Team        string                `json:"team"`
	GeneratedAt time.Time             `json:"generatedAt"`
	PageState   string                `json:"pageState"`
	Store       chatstore.StoreCounts `json:"store"`
	// Entries sitting in the fallback buffer, usually zero.
	FallbackEntries int           `json:"fallbackEntries"`
	Sync            SyncStatus    `json:"sync"`
	Services        ServiceStatus `json:"services"`
}

// Cache holds the latest snapshot and fans out change notifications to
// subscribers. Notification sends never block; a slow subscriber just
// misses intermediate updates and reads the latest on its next wake.
type Cache struct {
	mu          sync.RWMutex
	latest      Snapshot
	hasSnapshot bool
	subscribers map[chan struct{}]struct{}
}

func NewCache() *Cache {
	return &Cache{subscribers: map[chan struct{}]struct{}{}}
}

// Put stores a snapshot and notifies subscribers.
func (c *Cache) Put(snapshot Snapshot) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.latest = snapshot
	c.hasSnapshot = true
	for ch := range c.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	c.mu.Unlock()
}

// Get returns the latest snapshot. ok is false before the first Put.
func (c *Cache) Get() (Snapshot, bool) {
	if c == nil {
		return Snapshot{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest, c.hasSnapshot
}

// Subscribe registers a wake-up channel signaled on every Put.
func (c *Cache) Subscribe() chan struct{} {
	ch := make(chan struct{}, 1)
	c.mu.Lock()
	c.subscribers[ch] = struct{}{}
	c.mu.Unlock()
	return ch
}

func (c *Cache) Unsubscribe(ch chan struct{}) {
	if c == nil || ch == nil {
		return
	}
	c.mu.Lock()
	delete(c.subscribers, ch)
	c.mu.Unlock()
}
