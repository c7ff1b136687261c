package vm

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// JITCompiler: speculative compilation of hot methods
// ---------------------------------------------------------------------------

// ErrStaleAssumption is returned when a method's speculation was already
// disproven before compilation could register its dependency.
var ErrStaleAssumption = errors.New("assumption already invalidated before compilation")

// JITCompiler compiles hot methods in the background and installs the
// result in the code cache. Before generating code it takes a dependency
// slot on every assumption the method speculates on; every slot is
// resolved on every exit path (with the installed code on success, with
// nil on abort or failure). This is the contract assumptions rely on: an
// unresolved slot would block invalidation forever.
type JITCompiler struct {
	engine *Engine
	cache  *CodeCache

	pending chan *Method
	done    chan struct{}

	mu     sync.Mutex
	queued map[string]bool

	// Backend generates code for a method. A nil Backend always
	// succeeds. Returning an error aborts the installation.
	Backend func(m *Method) error

	// OnCompiled is called after each compilation attempt with the
	// installed code (nil on failure) and the error, if any.
	OnCompiled func(m *Method, code *InstalledCode, err error)

	methodsCompiled atomic.Uint64
	failures        atomic.Uint64
	staleAborts     atomic.Uint64
}

// NewJITCompiler creates a JIT bound to an engine and code cache and
// starts its background worker.
func NewJITCompiler(engine *Engine, cache *CodeCache) *JITCompiler {
	jit := &JITCompiler{
		engine:  engine,
		cache:   cache,
		pending: make(chan *Method, 100),
		done:    make(chan struct{}),
		queued:  make(map[string]bool),
	}
	go jit.compilationWorker()
	return jit
}

// Connect wires the profiler's hot-method callback to this JIT.
func (jit *JITCompiler) Connect(p *Profiler) {
	p.OnHot = func(m *Method) {
		jit.Enqueue(m)
	}
}

// Enqueue schedules m for background compilation. Methods with live
// installed code, already-queued methods, and overflow beyond the queue
// capacity are skipped.
func (jit *JITCompiler) Enqueue(m *Method) {
	if m == nil {
		return
	}
	key := m.Key()
	if jit.cache.Lookup(key) != nil {
		return
	}

	jit.mu.Lock()
	if jit.queued[key] {
		jit.mu.Unlock()
		return
	}
	jit.queued[key] = true
	jit.mu.Unlock()

	select {
	case jit.pending <- m:
	default:
		// Queue full, drop; the method stays hot and can be re-enqueued.
		jit.mu.Lock()
		delete(jit.queued, key)
		jit.mu.Unlock()
	}
}

func (jit *JITCompiler) compilationWorker() {
	for {
		select {
		case m := <-jit.pending:
			code, err := jit.Compile(m)
			jit.mu.Lock()
			delete(jit.queued, m.Key())
			jit.mu.Unlock()
			if jit.OnCompiled != nil {
				jit.OnCompiled(m, code, err)
			}
		case <-jit.done:
			return
		}
	}
}

// Compile synchronously compiles m and installs the result.
//
// Dependency slots are taken on all of the method's assumptions first. If
// any assumption is already invalid the compilation aborts with
// ErrStaleAssumption and the slots taken so far resolve to nil; the
// speculation baked into the would-be code is known false and the code
// must never run.
func (jit *JITCompiler) Compile(m *Method) (*InstalledCode, error) {
	assumptions := m.Assumptions()
	handles := make([]DependencyHandle, 0, len(assumptions))

	for _, a := range assumptions {
		h := a.RegisterDependency()
		if h == nil {
			jit.resolveAll(handles, nil)
			jit.staleAborts.Add(1)
			return nil, ErrStaleAssumption
		}
		handles = append(handles, h)
	}

	if jit.Backend != nil {
		if err := jit.Backend(m); err != nil {
			jit.resolveAll(handles, nil)
			jit.failures.Add(1)
			return nil, err
		}
	}

	code := NewInstalledCode(jit.engine, m.Key())
	jit.cache.Install(code)
	jit.resolveAll(handles, code)
	jit.methodsCompiled.Add(1)
	compilations.Inc()
	return code, nil
}

func (jit *JITCompiler) resolveAll(handles []DependencyHandle, code *InstalledCode) {
	for _, h := range handles {
		if code == nil {
			h.Resolve(nil)
		} else {
			h.Resolve(code)
		}
	}
}

// ---------------------------------------------------------------------------
// Statistics and lifecycle
// ---------------------------------------------------------------------------

// JITStats holds JIT compiler statistics.
type JITStats struct {
	MethodsCompiled uint64
	Failures        uint64
	StaleAborts     uint64
	QueueLength     int
}

// Stats returns JIT compiler statistics.
func (jit *JITCompiler) Stats() JITStats {
	return JITStats{
		MethodsCompiled: jit.methodsCompiled.Load(),
		Failures:        jit.failures.Load(),
		StaleAborts:     jit.staleAborts.Load(),
		QueueLength:     len(jit.pending),
	}
}

// Stop stops the background compilation worker.
func (jit *JITCompiler) Stop() {
	close(jit.done)
}
