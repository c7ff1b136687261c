package vm

import (
	"sync"
)

// ---------------------------------------------------------------------------
// Method: the unit of speculative compilation
// ---------------------------------------------------------------------------

// Method identifies a compilable unit and carries the assumptions the
// compiler wants to bake into its code. The front-end attaches assumptions
// before or during compilation; the JIT registers a dependency slot on
// each one when it compiles the method.
type Method struct {
	ClassName  string
	MethodName string

	mu          sync.Mutex
	assumptions []*Assumption
}

// NewMethod creates a method for the given class and selector.
func NewMethod(className, methodName string) *Method {
	return &Method{
		ClassName:  className,
		MethodName: methodName,
	}
}

// Key returns the "Class>>method" cache key.
func (m *Method) Key() string {
	return m.ClassName + ">>" + m.MethodName
}

// Speculate attaches an assumption that compiled versions of this method
// will depend on.
func (m *Method) Speculate(a *Assumption) {
	if a == nil {
		return
	}
	m.mu.Lock()
	m.assumptions = append(m.assumptions, a)
	m.mu.Unlock()
}

// Respeculate swaps in a fresh assumption for an attached one with the
// same name, as the front-end does when a guard is re-armed after
// invalidation. Appends when no assumption with that name is attached.
func (m *Method) Respeculate(a *Assumption) {
	if a == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, old := range m.assumptions {
		if old.Name() == a.Name() {
			m.assumptions[i] = a
			return
		}
	}
	m.assumptions = append(m.assumptions, a)
}

// Assumptions returns a snapshot of the attached assumptions.
func (m *Method) Assumptions() []*Assumption {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Assumption, len(m.assumptions))
	copy(out, m.assumptions)
	return out
}

// String returns the method key.
func (m *Method) String() string {
	return m.Key()
}
