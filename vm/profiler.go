package vm

import (
	"sync"
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// Profiler: invocation counting that drives speculative compilation
// ---------------------------------------------------------------------------

// MethodProfile holds profiling data for a single method.
type MethodProfile struct {
	InvocationCount atomic.Uint64
	hot             atomic.Bool
}

// IsHot reports whether the method crossed the hot threshold.
func (p *MethodProfile) IsHot() bool {
	return p.hot.Load()
}

// Profiler tracks method invocation counts to identify hot code for the
// JIT. Profiles live in a sync.Map so interpreter threads never contend
// on a global lock.
type Profiler struct {
	profiles sync.Map // *Method -> *MethodProfile

	// HotThreshold is the invocation count at which a method becomes hot.
	HotThreshold uint64

	// OnHot is called once, from the invoking thread, when a method
	// crosses the threshold.
	OnHot func(m *Method)

	hotCount atomic.Uint64
}

// NewProfiler creates a profiler with the given hot threshold.
func NewProfiler(hotThreshold uint64) *Profiler {
	if hotThreshold == 0 {
		hotThreshold = 100
	}
	return &Profiler{HotThreshold: hotThreshold}
}

// RecordInvocation counts one invocation of m. Returns true if this
// invocation made the method hot.
func (p *Profiler) RecordInvocation(m *Method) bool {
	if m == nil {
		return false
	}

	val, _ := p.profiles.LoadOrStore(m, &MethodProfile{})
	profile := val.(*MethodProfile)

	count := profile.InvocationCount.Add(1)
	if count >= p.HotThreshold && profile.hot.CompareAndSwap(false, true) {
		p.hotCount.Add(1)
		if p.OnHot != nil {
			p.OnHot(m)
		}
		return true
	}
	return false
}

// Profile returns the profile for m, or nil if it was never invoked.
func (p *Profiler) Profile(m *Method) *MethodProfile {
	val, ok := p.profiles.Load(m)
	if !ok {
		return nil
	}
	return val.(*MethodProfile)
}

// HotCount returns the number of methods that became hot.
func (p *Profiler) HotCount() uint64 {
	return p.hotCount.Load()
}

// Reset drops all profiles.
func (p *Profiler) Reset() {
	p.profiles = sync.Map{}
	p.hotCount.Store(0)
}
