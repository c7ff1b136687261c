package vm

import (
	"fmt"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// ---------------------------------------------------------------------------
// Snapshot: CBOR export of code-cache and JIT state
// ---------------------------------------------------------------------------

// cborEncMode uses canonical mode for deterministic encoding.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// CodeEntry is one installed-code artifact in a snapshot.
type CodeEntry struct {
	Key         string `cbor:"key"`
	ID          string `cbor:"id"`
	Alive       bool   `cbor:"alive"`
	DeoptReason string `cbor:"deopt_reason,omitempty"`
}

// Snapshot captures the observable runtime state at a point in time:
// which code is installed, what survived, and how busy the JIT has been.
type Snapshot struct {
	TakenAt time.Time   `cbor:"taken_at"`
	Engine  string      `cbor:"engine"`
	Codes   []CodeEntry `cbor:"codes"`
	Stats   JITStats    `cbor:"stats"`
}

// TakeSnapshot captures the state of the given engine, cache and JIT.
// jit may be nil if only the cache is of interest.
func TakeSnapshot(engine *Engine, cache *CodeCache, jit *JITCompiler) *Snapshot {
	s := &Snapshot{
		TakenAt: time.Now().UTC(),
		Engine:  engine.Name(),
	}
	for _, key := range cache.Keys() {
		code := cache.Lookup(key)
		if code == nil {
			continue
		}
		s.Codes = append(s.Codes, CodeEntry{
			Key:         code.Key(),
			ID:          code.ID().String(),
			Alive:       code.IsAlive(),
			DeoptReason: code.DeoptReason(),
		})
	}
	if jit != nil {
		s.Stats = jit.Stats()
	}
	return s
}

// MarshalSnapshot serializes a Snapshot to CBOR bytes.
func MarshalSnapshot(s *Snapshot) ([]byte, error) {
	return cborEncMode.Marshal(s)
}

// UnmarshalSnapshot deserializes a Snapshot from CBOR bytes.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("vm: unmarshal snapshot: %w", err)
	}
	return &s, nil
}

// WriteSnapshot writes a snapshot to a file.
func WriteSnapshot(path string, s *Snapshot) error {
	data, err := MarshalSnapshot(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ReadSnapshot reads a snapshot from a file.
func ReadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return UnmarshalSnapshot(data)
}
