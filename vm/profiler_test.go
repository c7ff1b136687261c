package vm

import (
	"sync"
	"testing"
)

func TestProfilerBecomesHotAtThreshold(t *testing.T) {
	p := NewProfiler(5)
	m := NewMethod("Point", "x")

	var hot *Method
	p.OnHot = func(m *Method) { hot = m }

	for i := 0; i < 4; i++ {
		if p.RecordInvocation(m) {
			t.Fatal("method became hot below the threshold")
		}
	}
	if !p.RecordInvocation(m) {
		t.Error("method should become hot at the threshold")
	}
	if hot != m {
		t.Error("OnHot should fire with the hot method")
	}
	if !p.Profile(m).IsHot() {
		t.Error("profile should be marked hot")
	}
}

func TestProfilerFiresOnHotOnce(t *testing.T) {
	p := NewProfiler(3)
	m := NewMethod("Point", "x")

	fired := 0
	p.OnHot = func(*Method) { fired++ }

	for i := 0; i < 10; i++ {
		p.RecordInvocation(m)
	}
	if fired != 1 {
		t.Errorf("OnHot fired %d times, want 1", fired)
	}
	if p.HotCount() != 1 {
		t.Errorf("HotCount = %d, want 1", p.HotCount())
	}
}

func TestProfilerConcurrentInvocations(t *testing.T) {
	p := NewProfiler(1000)
	m := NewMethod("Point", "x")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				p.RecordInvocation(m)
			}
		}()
	}
	wg.Wait()

	if got := p.Profile(m).InvocationCount.Load(); got != 4000 {
		t.Errorf("InvocationCount = %d, want 4000", got)
	}
	if p.HotCount() != 1 {
		t.Errorf("HotCount = %d, want 1", p.HotCount())
	}
}

func TestProfilerReset(t *testing.T) {
	p := NewProfiler(1)
	m := NewMethod("Point", "x")
	p.RecordInvocation(m)

	p.Reset()

	if p.Profile(m) != nil {
		t.Error("Reset should drop all profiles")
	}
	if p.HotCount() != 0 {
		t.Errorf("HotCount = %d, want 0 after Reset", p.HotCount())
	}
}

func BenchmarkRecordInvocation(b *testing.B) {
	p := NewProfiler(uint64(b.N) + 1)
	m := NewMethod("Point", "x")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p.RecordInvocation(m)
	}
}
