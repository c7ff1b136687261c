package vm

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// ---------------------------------------------------------------------------
// Options: engine configuration, loadable from keel.toml
// ---------------------------------------------------------------------------

const defaultTraceStackTraceLimit = 16

// Options configures an Engine. All fields have working zero-value
// defaults applied by Normalize.
type Options struct {
	// TraceAssumptions logs every invalidated dependent plus a stack
	// trace of the invalidating thread.
	TraceAssumptions bool `toml:"trace-assumptions"`

	// TraceStackTraceLimit caps the depth of the logged stack trace.
	TraceStackTraceLimit int `toml:"trace-stack-trace-limit"`

	// HotThreshold is the invocation count after which a method is
	// considered hot and queued for speculative compilation.
	HotThreshold uint64 `toml:"hot-threshold"`

	// CodeCacheCapacity bounds the number of installed code artifacts;
	// the oldest entries are evicted beyond it.
	CodeCacheCapacity int `toml:"code-cache-capacity"`

	// SweepIntervalSeconds is the period of the background sweep that
	// compacts dead dependency entries.
	SweepIntervalSeconds int `toml:"sweep-interval-seconds"`

	// JournalPath enables the SQLite invalidation journal when set.
	JournalPath string `toml:"journal"`
}

// DefaultOptions returns the defaults used when no keel.toml is present.
func DefaultOptions() Options {
	var o Options
	o.Normalize()
	return o
}

// Normalize fills in defaults for unset fields.
func (o *Options) Normalize() {
	if o.TraceStackTraceLimit <= 0 {
		o.TraceStackTraceLimit = defaultTraceStackTraceLimit
	}
	if o.HotThreshold == 0 {
		o.HotThreshold = 100
	}
	if o.CodeCacheCapacity <= 0 {
		o.CodeCacheCapacity = 256
	}
	if o.SweepIntervalSeconds <= 0 {
		o.SweepIntervalSeconds = 30
	}
}

// LoadOptions parses a keel.toml options file.
func LoadOptions(path string) (Options, error) {
	var o Options
	data, err := os.ReadFile(path)
	if err != nil {
		return o, fmt.Errorf("cannot read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &o); err != nil {
		return o, fmt.Errorf("parse error in %s: %w", path, err)
	}
	o.Normalize()
	return o, nil
}
