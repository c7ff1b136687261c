package vm

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestSnapshotRoundTrip(t *testing.T) {
	engine := NewEngine("snap-test", DefaultOptions())
	cache := NewCodeCache(8)
	jit := NewJITCompiler(engine, cache)
	defer jit.Stop()

	if _, err := jit.Compile(NewMethod("Point", "x")); err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if _, err := jit.Compile(NewMethod("Point", "y")); err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	snap := TakeSnapshot(engine, cache, jit)
	if len(snap.Codes) != 2 {
		t.Fatalf("snapshot has %d codes, want 2", len(snap.Codes))
	}
	if snap.Stats.MethodsCompiled != 2 {
		t.Errorf("Stats.MethodsCompiled = %d, want 2", snap.Stats.MethodsCompiled)
	}

	data, err := MarshalSnapshot(snap)
	if err != nil {
		t.Fatalf("MarshalSnapshot failed: %v", err)
	}
	got, err := UnmarshalSnapshot(data)
	if err != nil {
		t.Fatalf("UnmarshalSnapshot failed: %v", err)
	}

	// CBOR may round timestamps to whole seconds.
	if diff := cmp.Diff(snap, got, cmpopts.EquateApproxTime(time.Second)); diff != "" {
		t.Errorf("snapshot round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestSnapshotDeterministicEncoding(t *testing.T) {
	engine := NewEngine("snap-test", DefaultOptions())
	cache := NewCodeCache(8)
	cache.Install(NewInstalledCode(engine, "Point>>x"))

	snap := TakeSnapshot(engine, cache, nil)

	first, err := MarshalSnapshot(snap)
	if err != nil {
		t.Fatalf("MarshalSnapshot failed: %v", err)
	}
	second, err := MarshalSnapshot(snap)
	if err != nil {
		t.Fatalf("MarshalSnapshot failed: %v", err)
	}
	if string(first) != string(second) {
		t.Error("canonical encoding should be deterministic")
	}
}

func TestSnapshotFileRoundTrip(t *testing.T) {
	engine := NewEngine("snap-test", DefaultOptions())
	cache := NewCodeCache(8)

	code := NewInstalledCode(engine, "Point>>x")
	a := NewAssumption("leaf-class:Point")
	a.RegisterDependency().Resolve(code)
	cache.Install(code)
	a.Invalidate("subclass loaded")

	// Dead code is dropped from the snapshot by Lookup.
	snap := TakeSnapshot(engine, cache, nil)
	if len(snap.Codes) != 0 {
		t.Fatalf("snapshot has %d codes, want 0 after deopt", len(snap.Codes))
	}

	path := filepath.Join(t.TempDir(), "state.snap")
	if err := WriteSnapshot(path, snap); err != nil {
		t.Fatalf("WriteSnapshot failed: %v", err)
	}
	got, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("ReadSnapshot failed: %v", err)
	}
	if got.Engine != "snap-test" {
		t.Errorf("Engine = %q, want %q", got.Engine, "snap-test")
	}
}
