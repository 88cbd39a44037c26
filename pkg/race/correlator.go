package race

import (
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// CorrelationResult is emitted exactly once per slot: either when every
// configured source has reported the slot, or when the slot is evicted with
// only some sides present (Complete is false then).
type CorrelationResult struct {
	Slot     uint64                  `json:"ordering_key"`
	Events   map[string]ArrivalEvent `json:"events"`
	Complete bool                    `json:"complete"`
}

// Sources returns the participating source names in deterministic order.
func (r CorrelationResult) Sources() []string {
	names := make([]string, 0, len(r.Events))
	for name := range r.Events {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Diagnostics counts per-event anomalies the correlator absorbed. None of
// them is an error surfaced to callers.
type Diagnostics struct {
	Duplicates    uint64 `json:"duplicates"`
	LateEvents    uint64 `json:"late_events"`
	UnknownSource uint64 `json:"unknown_source"`
}

// CorrelatorConfig configures the keyed merge of arrival events.
type CorrelatorConfig struct {
	// Sources is the fixed set of feeds participating in the race.
	Sources []string
	// Retention bounds how long a partially filled slot may stay pending
	// before it is evicted as an incomplete result.
	Retention time.Duration
	// SweepEvery is the number of Ingest calls between inline eviction
	// sweeps. Zero picks a default.
	SweepEvery int

	now func() time.Time // test hook
}

const defaultSweepEvery = 64

// Correlator merges arrival events keyed by slot across a fixed set of
// sources. All mutation happens under a single mutex; nothing under the lock
// performs I/O.
type Correlator struct {
	mu         sync.Mutex
	sources    map[string]struct{}
	retention  time.Duration
	sweepEvery int
	sinceSweep int

	pending map[uint64]*slotEntry
	// done remembers terminal slots (with their terminal time) so a stray
	// late event cannot re-open one; pruned by the same retention sweep.
	done  map[uint64]time.Time
	queue []CorrelationResult
	diag  Diagnostics

	now func() time.Time
}

type slotEntry struct {
	createdAt time.Time
	events    map[string]ArrivalEvent
}

// NewCorrelator validates the configuration and builds a Correlator.
func NewCorrelator(cfg CorrelatorConfig) (*Correlator, error) {
	if len(cfg.Sources) < 2 {
		return nil, fmt.Errorf("correlator needs at least two sources, got %d", len(cfg.Sources))
	}
	sources := make(map[string]struct{}, len(cfg.Sources))
	for _, name := range cfg.Sources {
		if name == "" {
			return nil, fmt.Errorf("correlator source name must not be empty")
		}
		if _, ok := sources[name]; ok {
			return nil, fmt.Errorf("correlator source %q configured twice", name)
		}
		sources[name] = struct{}{}
	}
	if cfg.Retention <= 0 {
		return nil, fmt.Errorf("correlator retention must be positive, got %v", cfg.Retention)
	}
	sweepEvery := cfg.SweepEvery
	if sweepEvery <= 0 {
		sweepEvery = defaultSweepEvery
	}
	now := cfg.now
	if now == nil {
		now = time.Now
	}
	return &Correlator{
		sources:    sources,
		retention:  cfg.Retention,
		sweepEvery: sweepEvery,
		pending:    make(map[uint64]*slotEntry),
		done:       make(map[uint64]time.Time),
		now:        now,
	}, nil
}

// Ingest files an arrival event into its slot. It returns the correlation
// result when this event completes the slot, nil otherwise. Duplicate events
// for an already filled side and events for terminal slots are discarded and
// counted; first arrival wins for a given (slot, source) pair.
func (c *Correlator) Ingest(ev ArrivalEvent) *CorrelationResult {
	now := c.now()

	c.mu.Lock()
	c.sinceSweep++
	if c.sinceSweep >= c.sweepEvery {
		c.sweepLocked(now)
		c.sinceSweep = 0
	}

	if _, ok := c.sources[ev.Source]; !ok {
		c.diag.UnknownSource++
		c.mu.Unlock()
		log.Warnf("ignoring arrival for slot %d from unconfigured source %q", ev.Slot, ev.Source)
		return nil
	}
	if _, ok := c.done[ev.Slot]; ok {
		c.diag.LateEvents++
		c.mu.Unlock()
		log.Debugf("late arrival for terminal slot %d from %s discarded", ev.Slot, ev.Source)
		return nil
	}

	entry, ok := c.pending[ev.Slot]
	if !ok {
		entry = &slotEntry{
			createdAt: now,
			events:    make(map[string]ArrivalEvent, len(c.sources)),
		}
		c.pending[ev.Slot] = entry
	}
	if _, ok := entry.events[ev.Source]; ok {
		c.diag.Duplicates++
		c.mu.Unlock()
		log.Debugf("duplicate arrival for slot %d from %s discarded", ev.Slot, ev.Source)
		return nil
	}
	entry.events[ev.Source] = ev

	if len(entry.events) < len(c.sources) {
		c.mu.Unlock()
		return nil
	}

	res := CorrelationResult{
		Slot:     ev.Slot,
		Events:   entry.events,
		Complete: true,
	}
	delete(c.pending, ev.Slot)
	c.done[ev.Slot] = now
	c.queue = append(c.queue, res)
	c.mu.Unlock()

	return &res
}

// Sweep evicts pending slots older than the retention window, emitting each
// as an incomplete result, and prunes expired terminal markers. It returns
// the number of slots evicted.
func (c *Correlator) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepLocked(now)
}

func (c *Correlator) sweepLocked(now time.Time) int {
	evicted := 0
	for slot, entry := range c.pending {
		if now.Sub(entry.createdAt) < c.retention {
			continue
		}
		c.queue = append(c.queue, CorrelationResult{
			Slot:     slot,
			Events:   entry.events,
			Complete: false,
		})
		delete(c.pending, slot)
		c.done[slot] = now
		evicted++
	}
	for slot, at := range c.done {
		if now.Sub(at) >= c.retention {
			delete(c.done, slot)
		}
	}
	return evicted
}

// Flush evicts every pending slot regardless of age. Used at the run
// deadline so that one-sided observations are reported, not dropped.
func (c *Correlator) Flush() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for slot, entry := range c.pending {
		c.queue = append(c.queue, CorrelationResult{
			Slot:     slot,
			Events:   entry.events,
			Complete: false,
		})
		delete(c.pending, slot)
		c.done[slot] = now
		evicted++
	}
	return evicted
}

// PollResults drains the results produced since the previous call, completed
// and evicted alike.
func (c *Correlator) PollResults() []CorrelationResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := c.queue
	c.queue = nil
	return out
}

// PendingCount reports the number of slots still waiting for a side.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Diagnostics returns a snapshot of the anomaly counters.
func (c *Correlator) Diagnostics() Diagnostics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.diag
}
