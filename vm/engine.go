package vm

import (
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Engine: execution context for the speculative runtime
// ---------------------------------------------------------------------------

// Package-level logger for code that has no engine at hand.
var log = commonlog.GetLogger("keel.vm")

// Engine is the execution context shared by compiled code, assumptions and
// the JIT. It owns the diagnostic configuration consulted during
// invalidation; configuration is fixed at construction so tests can inject
// it directly instead of reaching into process-global state.
type Engine struct {
	id   uuid.UUID
	name string
	opts Options
	log  commonlog.Logger

	mu      sync.RWMutex
	journal *Journal
}

// NewEngine creates an engine with the given options.
func NewEngine(name string, opts Options) *Engine {
	return &Engine{
		id:   uuid.New(),
		name: name,
		opts: opts,
		log:  commonlog.GetLogger("keel.engine." + name),
	}
}

var (
	defaultEngineOnce sync.Once
	defaultEngine     *Engine
)

// DefaultEngine returns the process-wide fallback engine, used when an
// invalidated dependent does not carry an engine of its own.
func DefaultEngine() *Engine {
	defaultEngineOnce.Do(func() {
		defaultEngine = NewEngine("default", DefaultOptions())
	})
	return defaultEngine
}

// ID returns the engine's unique identifier.
func (e *Engine) ID() uuid.UUID {
	return e.id
}

// Name returns the engine name.
func (e *Engine) Name() string {
	return e.name
}

// Options returns the engine's configuration. Immutable after construction.
func (e *Engine) Options() Options {
	return e.opts
}

// Logger returns the engine's logger.
func (e *Engine) Logger() commonlog.Logger {
	return e.log
}

// AttachJournal connects an invalidation journal to this engine.
func (e *Engine) AttachJournal(j *Journal) {
	e.mu.Lock()
	e.journal = j
	e.mu.Unlock()
}

// Journal returns the attached invalidation journal, or nil.
func (e *Engine) Journal() *Journal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.journal
}

// ---------------------------------------------------------------------------
// Invalidation tracing
// ---------------------------------------------------------------------------

// traceInvalidatedDependency emits the per-dependent trace line. A failing
// log sink must not disturb the invalidation walk.
func (e *Engine) traceInvalidatedDependency(a *Assumption, dep Dependency, message string) {
	defer func() { _ = recover() }()

	var sb strings.Builder
	fmt.Fprintf(&sb, "assumption '%s' invalidated installed code '%v'", a.Name(), dep)
	if message != "" {
		fmt.Fprintf(&sb, " with message '%s'", message)
	}
	e.log.Info(sb.String())
}

// traceInvalidationStack logs a depth-limited stack trace of the
// invalidating thread.
func (e *Engine) traceInvalidationStack() {
	defer func() { _ = recover() }()

	limit := e.opts.TraceStackTraceLimit
	if limit <= 0 {
		limit = defaultTraceStackTraceLimit
	}

	// Skip runtime.Callers, this method and the invalidate frames.
	pcs := make([]uintptr, limit+1)
	n := runtime.Callers(4, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var sb strings.Builder
	sep := ""
	count := 0
	for count < limit {
		frame, more := frames.Next()
		fmt.Fprintf(&sb, "%s  %s (%s:%d)", sep, frame.Function, frame.File, frame.Line)
		sep = "\n"
		count++
		if !more {
			break
		}
	}
	if n > limit {
		sb.WriteString("\n    ...")
	}
	e.log.Info(sb.String())
}
