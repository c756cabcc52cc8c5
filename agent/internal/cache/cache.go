package cache

import (
	"sync"
	"time"

	"github.com/opspulse/opspulse/pkg/types"
)

// Slot names one cell of the cache.
type Slot string

const (
	SlotRawRows         Slot = "rawRows"
	SlotOrdersToday     Slot = "ordersToday"
	SlotStatusSummary   Slot = "statusSummary"
	SlotConnectivity    Slot = "connectivityStatus"
	SlotLastRefreshedAt Slot = "lastRefreshedAt"
)

// Entry is a copy of every slot plus the time each was last written.
// A zero UpdatedAt means the slot has never been written.
type Entry struct {
	RawRows         []types.RawMetricRow
	OrdersToday     *int
	StatusSummary   *types.StatusSummary
	Connectivity    *types.ConnectivityStatus
	LastRefreshedAt time.Time

	UpdatedAt map[Slot]time.Time
}

// Has reports whether slot has been written at least once.
func (e Entry) Has(slot Slot) bool {
	return !e.UpdatedAt[slot].IsZero()
}

// Cache is a thread-safe set of named cells.
type Cache struct {
	mu        sync.RWMutex
	entry     Entry
	now       func() time.Time // injectable for deterministic tests
	listeners map[int]func(Slot)
	nextID    int
}

// New returns an empty, isolated Cache.
func New() *Cache {
	return &Cache{
		entry: Entry{UpdatedAt: make(map[Slot]time.Time)},
		now:   time.Now,
	}
}

var (
	defaultOnce  sync.Once
	defaultCache *Cache
)

// Default returns the process-wide Cache shared by every engine in the
// process. It outlives any single engine.
func Default() *Cache {
	defaultOnce.Do(func() { defaultCache = New() })
	return defaultCache
}

// Read returns a copy of every slot. It never blocks on I/O.
func (c *Cache) Read() Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := c.entry
	out.RawRows = append([]types.RawMetricRow(nil), c.entry.RawRows...)
	out.UpdatedAt = make(map[Slot]time.Time, len(c.entry.UpdatedAt))
	for k, v := range c.entry.UpdatedAt {
		out.UpdatedAt[k] = v
	}
	return out
}

// Age returns how long ago slot was written, and false if it never was.
func (c *Cache) Age(slot Slot, now time.Time) (time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	at, ok := c.entry.UpdatedAt[slot]
	if !ok || at.IsZero() {
		return 0, false
	}
	return now.Sub(at), true
}

// SetRawRows replaces the raw rows wholesale.
func (c *Cache) SetRawRows(rows []types.RawMetricRow) {
	cp := append([]types.RawMetricRow(nil), rows...)
	c.write(SlotRawRows, func(e *Entry) { e.RawRows = cp })
}

// SetOrdersToday replaces today's order count.
func (c *Cache) SetOrdersToday(n int) {
	c.write(SlotOrdersToday, func(e *Entry) { e.OrdersToday = &n })
}

// SetStatusSummary replaces the status summary.
func (c *Cache) SetStatusSummary(s types.StatusSummary) {
	c.write(SlotStatusSummary, func(e *Entry) { e.StatusSummary = &s })
}

// SetConnectivity replaces the connectivity status.
func (c *Cache) SetConnectivity(s types.ConnectivityStatus) {
	c.write(SlotConnectivity, func(e *Entry) { e.Connectivity = &s })
}

// SetLastRefreshedAt stamps the last manual status refresh.
func (c *Cache) SetLastRefreshedAt(t time.Time) {
	c.write(SlotLastRefreshedAt, func(e *Entry) { e.LastRefreshedAt = t })
}

// OnChange registers fn to be called after every write. fn runs on the
// writer's goroutine without the cache lock held. The returned func
// unregisters fn.
func (c *Cache) OnChange(fn func(Slot)) (unregister func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listeners == nil {
		c.listeners = make(map[int]func(Slot))
	}
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Reset clears every slot and listener. Used when a session ends and by tests.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry = Entry{UpdatedAt: make(map[Slot]time.Time)}
	c.listeners = nil
}

func (c *Cache) write(slot Slot, apply func(*Entry)) {
	c.mu.Lock()
	apply(&c.entry)
	c.entry.UpdatedAt[slot] = c.now()
	listeners := make([]func(Slot), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(slot)
	}
}
