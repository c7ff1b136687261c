package vm

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// InstalledCode: a compiled artifact that depends on assumptions
// ---------------------------------------------------------------------------

// InstalledCode is a compiled artifact registered in the code cache. It is
// the runtime's concrete Dependency: an assumption invalidation marks it
// dead (deoptimization), and the code cache can also kill it on eviction
// without any assumption being involved.
type InstalledCode struct {
	id     uuid.UUID
	key    string // "Class>>method"
	engine *Engine
	alive  atomic.Bool

	mu          sync.Mutex
	deoptReason string
}

// NewInstalledCode creates a live code artifact owned by the given engine.
// The engine may be nil for detached code.
func NewInstalledCode(engine *Engine, key string) *InstalledCode {
	c := &InstalledCode{
		id:     uuid.New(),
		key:    key,
		engine: engine,
	}
	c.alive.Store(true)
	return c
}

// ID returns the artifact's unique identifier.
func (c *InstalledCode) ID() uuid.UUID {
	return c.id
}

// Key returns the "Class>>method" key this code was compiled for.
func (c *InstalledCode) Key() string {
	return c.key
}

// Engine returns the owning engine, or nil for detached code.
func (c *InstalledCode) Engine() *Engine {
	return c.engine
}

// IsAlive reports whether the code is still installed.
func (c *InstalledCode) IsAlive() bool {
	return c.alive.Load()
}

// OnAssumptionInvalidated deoptimizes this code. The first invalidation
// wins; later calls (a second assumption invalidating concurrently) are
// no-ops.
func (c *InstalledCode) OnAssumptionInvalidated(a *Assumption, reason string) {
	if !c.alive.CompareAndSwap(true, false) {
		return
	}
	c.mu.Lock()
	c.deoptReason = reason
	c.mu.Unlock()
	deoptimizations.Inc()

	if c.engine == nil {
		return
	}
	if j := c.engine.Journal(); j != nil {
		ev := Event{
			Time:       time.Now(),
			Assumption: a.Name(),
			Code:       c.key,
			Reason:     reason,
		}
		if err := j.Append(ev); err != nil {
			// Journal trouble must not disturb the invalidation walk.
			c.engine.Logger().Errorf("journal append failed for %s: %s", c.key, err.Error())
		}
	}
}

// Evict marks the code dead without assumption invalidation, as the code
// cache does when making room.
func (c *InstalledCode) Evict() {
	c.alive.Store(false)
}

// DeoptReason returns the reason recorded by the invalidation, or empty if
// the code was never invalidated by an assumption.
func (c *InstalledCode) DeoptReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deoptReason
}

// String returns a short human-readable description.
func (c *InstalledCode) String() string {
	return fmt.Sprintf("%s#%s", c.key, c.id.String()[:8])
}
