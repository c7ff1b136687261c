package vm

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// ---------------------------------------------------------------------------
// AssumptionTable: named speculation points
// ---------------------------------------------------------------------------

// AssumptionTable maps stable names ("leaf-class:Point",
// "stable-global:Transcript") to assumptions. Lookup creates on demand;
// an invalidated assumption stays in the table until Refresh replaces it,
// so readers observe the invalidation instead of silently getting a fresh
// valid assumption.
type AssumptionTable struct {
	mu          sync.RWMutex
	assumptions map[string]*Assumption
}

// NewAssumptionTable creates an empty table.
func NewAssumptionTable() *AssumptionTable {
	return &AssumptionTable{
		assumptions: make(map[string]*Assumption),
	}
}

// Lookup returns the assumption under name, creating a valid one if absent.
func (t *AssumptionTable) Lookup(name string) *Assumption {
	t.mu.RLock()
	a := t.assumptions[name]
	t.mu.RUnlock()
	if a != nil {
		return a
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if a := t.assumptions[name]; a != nil {
		return a
	}
	a = NewAssumption(name)
	t.assumptions[name] = a
	return a
}

// Get returns the assumption under name, or nil.
func (t *AssumptionTable) Get(name string) *Assumption {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.assumptions[name]
}

// Refresh replaces the assumption under name with a fresh valid one and
// returns it. The previous assumption, if any, is left as-is; holders of
// it keep observing its (usually invalidated) state.
func (t *AssumptionTable) Refresh(name string) *Assumption {
	a := NewAssumption(name)
	t.mu.Lock()
	t.assumptions[name] = a
	t.mu.Unlock()
	return a
}

// Names returns the registered names, sorted.
func (t *AssumptionTable) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.assumptions))
	for name := range t.assumptions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered assumptions.
func (t *AssumptionTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.assumptions)
}

// snapshot returns the current assumptions without holding the lock during
// the sweep itself.
func (t *AssumptionTable) snapshot() []*Assumption {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Assumption, 0, len(t.assumptions))
	for _, a := range t.assumptions {
		out = append(out, a)
	}
	return out
}

// ---------------------------------------------------------------------------
// Sweeper: periodic compaction of dead dependency entries
// ---------------------------------------------------------------------------

// SweepStats holds statistics from a single sweep.
type SweepStats struct {
	Assumptions    int
	EntriesRemoved int
	SweepDuration  time.Duration
	Timestamp      time.Time
}

// Sweeper periodically walks an assumption table and compacts dead
// dependency entries, reclaiming slots left behind by evicted or
// deoptimized code. This prevents unbounded entry growth in long-running
// programs.
type Sweeper struct {
	table    *AssumptionTable
	interval time.Duration
	enabled  atomic.Bool
	stop     chan struct{}
	stopped  chan struct{}
	mu       sync.Mutex // protects start/stop lifecycle

	sweepCount atomic.Uint64
	lastStats  atomic.Value // *SweepStats
}

// DefaultSweepInterval is the default compaction interval.
const DefaultSweepInterval = 30 * time.Second

// NewSweeper creates a sweeper for the given table. Use
// DefaultSweepInterval for the default (30s).
func NewSweeper(table *AssumptionTable, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	s := &Sweeper{
		table:    table,
		interval: interval,
	}
	s.enabled.Store(true)
	return s
}

// Start begins the periodic sweep goroutine. It is safe to call Start
// multiple times; only one sweep loop will run.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stop != nil {
		return // already running
	}

	s.stop = make(chan struct{})
	s.stopped = make(chan struct{})

	// Capture channels locally so the goroutine does not read s.stop or
	// s.stopped after Stop() has nilled them out.
	stopCh := s.stop
	stoppedCh := s.stopped
	go s.loop(stopCh, stoppedCh)
}

// Stop halts the sweep goroutine and waits for it to finish. Safe to call
// multiple times or on a sweeper that was never started.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	stopCh := s.stop
	stoppedCh := s.stopped
	s.stop = nil
	s.stopped = nil
	s.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
		<-stoppedCh
	}
}

// SetEnabled enables or disables sweeping. When disabled the goroutine
// still runs but skips sweep operations.
func (s *Sweeper) SetEnabled(enabled bool) {
	s.enabled.Store(enabled)
}

// SweepCount returns the total number of sweeps performed.
func (s *Sweeper) SweepCount() uint64 {
	return s.sweepCount.Load()
}

// LastStats returns statistics from the most recent sweep, or nil.
func (s *Sweeper) LastStats() *SweepStats {
	v := s.lastStats.Load()
	if v == nil {
		return nil
	}
	return v.(*SweepStats)
}

// SweepNow performs an immediate sweep regardless of the timer.
func (s *Sweeper) SweepNow() *SweepStats {
	return s.sweep()
}

func (s *Sweeper) loop(stopCh <-chan struct{}, stoppedCh chan struct{}) {
	defer close(stoppedCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if s.enabled.Load() {
				s.sweep()
			}
		}
	}
}

func (s *Sweeper) sweep() *SweepStats {
	start := time.Now()
	stats := &SweepStats{Timestamp: start}

	for _, a := range s.table.snapshot() {
		if !a.IsValid() {
			continue
		}
		before := a.CountDependencies()
		a.RemoveDeadDependencies()
		stats.EntriesRemoved += before - a.CountDependencies()
		stats.Assumptions++
	}

	stats.SweepDuration = time.Since(start)
	s.sweepCount.Add(1)
	s.lastStats.Store(stats)
	return stats
}
