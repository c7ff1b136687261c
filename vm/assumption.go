package vm

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// Assumption: optimistic speculation with deferred dependency registration
// ---------------------------------------------------------------------------

// ErrAssumptionInvalid is returned by Check when the assumption no longer
// holds. Interpreted code uses it as a guard before taking a speculated
// fast path.
var ErrAssumptionInvalid = errors.New("assumption invalidated")

// Dependency is compiled code (or another artifact) whose correctness
// relies on an assumption staying true. Implementations are owned by the
// surrounding runtime (code cache); the assumption holds a non-owning
// reference used only for liveness checks and the invalidation callback.
type Dependency interface {
	// IsAlive reports whether the dependent code is still installed.
	// Must be safe to call concurrently.
	IsAlive() bool

	// OnAssumptionInvalidated is invoked at most once per invalidation
	// with a non-empty reason. The dependent must deoptimize.
	OnAssumptionInvalidated(a *Assumption, reason string)

	// Engine returns the owning execution engine, or nil. Only used to
	// source diagnostic configuration during invalidation.
	Engine() *Engine
}

// DependencyHandle is the deferred-binding slot returned by
// RegisterDependency. The dependent code may not exist yet when the slot
// is created; Resolve must be called exactly once when compilation
// finishes, with the installed code on success or nil if compilation
// aborted. Every handle MUST eventually be resolved, even on compiler
// failure paths: an unresolved handle blocks Invalidate forever.
type DependencyHandle interface {
	Resolve(dep Dependency)
}

// Assumption is a speculative invariant the compiler relies on: true until
// disproven, disprovable exactly once. Invalidating it notifies every
// registered live dependent so the runtime can deoptimize.
type Assumption struct {
	name        string
	alwaysValid bool
	valid       atomic.Bool

	mu                  sync.Mutex // protects the entry list and counters
	dependencies        *entry     // singly-linked, most recent first
	size                int
	sizeAfterLastRemove int
}

// NewAssumption creates a valid assumption. The name may be empty; it only
// appears in invalidation reasons and trace output.
func NewAssumption(name string) *Assumption {
	a := &Assumption{name: name}
	a.valid.Store(true)
	return a
}

var alwaysValidAssumption = func() *Assumption {
	a := NewAssumption("<always valid>")
	a.alwaysValid = true
	return a
}()

// AlwaysValid returns the shared assumption that can never be invalidated.
// It represents "no speculation" cheaply: dependency registration on it is
// a constant-time no-op that allocates nothing.
func AlwaysValid() *Assumption {
	return alwaysValidAssumption
}

// ---------------------------------------------------------------------------
// Dependency entries
// ---------------------------------------------------------------------------

// entry is one registered dependency slot. It starts pending; Resolve
// transitions it to resolved and wakes any invalidating thread waiting on
// it. While pending the entry counts as alive, because the eventual
// dependent is still unknown. Once resolved with nil it is permanently
// dead. Once resolved with a dependent, liveness delegates to the
// dependent on every query.
type entry struct {
	mu         sync.Mutex
	cond       sync.Cond
	dependency Dependency
	pending    bool
	next       *entry
}

func newEntry() *entry {
	e := &entry{pending: true}
	e.cond.L = &e.mu
	return e
}

// Resolve fills in the slot and wakes waiters. Implements DependencyHandle.
// Callers guarantee a single resolution per entry.
func (e *entry) Resolve(dep Dependency) {
	e.mu.Lock()
	e.dependency = dep
	e.pending = false
	e.cond.Broadcast()
	e.mu.Unlock()
}

// awaitDependency blocks until the entry resolves. No timeout: a slot whose
// resolution never arrives blocks invalidation forever, which is the
// documented compiler contract (see DependencyHandle).
func (e *entry) awaitDependency() Dependency {
	e.mu.Lock()
	defer e.mu.Unlock()
	for e.pending {
		e.cond.Wait()
	}
	return e.dependency
}

func (e *entry) isAlive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dependency == nil {
		// A pending slot is treated as alive; a slot resolved with nil
		// is dead.
		return e.pending
	}
	return e.dependency.IsAlive()
}

// discardHandle is the shared no-op handle returned when registering
// against the always-valid assumption.
type discardHandle struct{}

func (discardHandle) Resolve(Dependency) {}

var discardDependency DependencyHandle = discardHandle{}

// ---------------------------------------------------------------------------
// Registration
// ---------------------------------------------------------------------------

// RegisterDependency registers some dependent code with this assumption.
//
// As the dependent code may not yet be available, a handle is returned
// that must be resolved once the code is installed. If there is an error
// while compiling or installing the code, the handle must be resolved
// with nil.
//
// If this assumption is already invalid, nil is returned, in which case
// the caller must ensure the dependent code is never executed.
func (a *Assumption) RegisterDependency() DependencyHandle {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.valid.Load() {
		return nil
	}
	if a.alwaysValid {
		// Never invalidated, so the slot would never be consulted.
		return discardDependency
	}

	if a.size >= 2*a.sizeAfterLastRemove {
		a.removeDeadEntries()
	}

	e := newEntry()
	e.next = a.dependencies
	a.dependencies = e
	a.size++
	dependenciesRegistered.Inc()
	return e
}

// ---------------------------------------------------------------------------
// Invalidation
// ---------------------------------------------------------------------------

// Invalidate flips the assumption to invalid and notifies every registered
// live dependent with a reason derived from the assumption name and the
// given message. Invalidating an already-invalid assumption is a no-op.
//
// The call blocks until every pending dependency slot resolves: code still
// being compiled under this assumption must finish or abort before
// invalidation completes, which closes the race between code installation
// and invalidation.
//
// Invalidating the always-valid assumption panics.
func (a *Assumption) Invalidate(message string) {
	// Fast path without the lock; valid is written exactly once.
	if a.valid.Load() {
		a.invalidate(message)
	}
}

func (a *Assumption) invalidate(message string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Re-check under the lock (double-checked; the flag is atomic).
	if !a.valid.Load() {
		return
	}

	if a.alwaysValid {
		panic("vm: cannot invalidate the always-valid assumption")
	}

	var engine *Engine
	logStackTrace := false
	reason := ""

	for e := a.dependencies; e != nil; e = e.next {
		dep := e.awaitDependency()
		if dep == nil {
			// Compilation aborted; nothing to notify.
			continue
		}
		if reason == "" {
			reason = invalidationReason(a.name, message)
		}
		notifyDependency(dep, a, reason)

		if engine == nil {
			// Diagnostic configuration comes from the first dependent
			// that carries an engine. Entry order has no semantic
			// meaning, so this choice is arbitrary but deterministic.
			engine = dep.Engine()
			if engine == nil {
				engine = DefaultEngine()
			}
		}
		if engine.Options().TraceAssumptions {
			logStackTrace = true
			engine.traceInvalidatedDependency(a, dep, message)
		}
	}

	a.dependencies = nil
	a.size = 0
	a.sizeAfterLastRemove = 0
	a.valid.Store(false)
	assumptionsInvalidated.Inc()

	if logStackTrace {
		engine.traceInvalidationStack()
	}
}

// notifyDependency invokes the invalidation callback, isolating panics so
// a misbehaving dependent cannot abort the remaining walk.
func notifyDependency(dep Dependency, a *Assumption, reason string) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("dependency %v panicked during invalidation of %v: %v", dep, a, r)
		}
	}()
	dep.OnAssumptionInvalidated(a, reason)
}

// invalidationReason combines the assumption name and the caller-supplied
// message into the reason handed to dependents. Always non-empty.
func invalidationReason(name, message string) string {
	switch {
	case name == "" && message == "":
		return "assumption invalidated"
	case name == "":
		return message
	case message == "":
		return name
	default:
		return name + " " + message
	}
}

// ---------------------------------------------------------------------------
// Maintenance and queries
// ---------------------------------------------------------------------------

// removeDeadEntries relinks the list keeping only live entries.
// Caller holds a.mu.
func (a *Assumption) removeDeadEntries() {
	var last *entry
	e := a.dependencies
	a.dependencies = nil
	removed := 0
	for e != nil {
		if e.isAlive() {
			if last == nil {
				a.dependencies = e
			} else {
				last.next = e
			}
			last = e
		} else {
			a.size--
			removed++
		}
		e = e.next
	}
	if last != nil {
		last.next = nil
	}
	a.sizeAfterLastRemove = a.size
	if removed > 0 {
		deadEntriesSwept.Add(float64(removed))
	}
}

// RemoveDeadDependencies drops every entry whose dependent is no longer
// alive. Pending entries are always kept.
func (a *Assumption) RemoveDeadDependencies() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.removeDeadEntries()
}

// CountDependencies returns the current entry count. The count may include
// dead entries that have not been compacted yet.
func (a *Assumption) CountDependencies() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.size
}

// IsValid reports whether the assumption still holds. Lock-free.
func (a *Assumption) IsValid() bool {
	return a.valid.Load()
}

// Check returns ErrAssumptionInvalid if the assumption no longer holds.
func (a *Assumption) Check() error {
	if !a.valid.Load() {
		return ErrAssumptionInvalid
	}
	return nil
}

// Name returns the assumption's name, which may be empty.
func (a *Assumption) Name() string {
	return a.name
}

// String returns a human-readable description.
func (a *Assumption) String() string {
	if a.name == "" {
		return "assumption"
	}
	return fmt.Sprintf("assumption '%s'", a.name)
}
