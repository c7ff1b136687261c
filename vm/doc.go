// Package vm implements the Keel speculative runtime kernel.
//
// This package contains:
//   - Optimistic assumptions with deferred dependency registration
//   - Installed-code registry with capacity-based eviction
//   - Profiler-driven speculative compilation
//   - Engine configuration, tracing and invalidation journaling
//   - CBOR snapshots of runtime state
package vm
