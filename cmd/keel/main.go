// Keel CLI - runs a synthetic speculative workload against the runtime kernel
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/keelvm/keel/vm"

	_ "github.com/tliron/commonlog/simple"
)

func main() {
	configPath := flag.String("config", "", "Path to keel.toml (defaults apply if empty)")
	trace := flag.Bool("trace", false, "Trace assumption invalidations (overrides config)")
	journalPath := flag.String("journal", "", "SQLite invalidation journal path (overrides config)")
	snapshotPath := flag.String("snapshot", "", "Write a CBOR state snapshot to this path on exit")
	methods := flag.Int("methods", 32, "Number of synthetic methods")
	workers := flag.Int("workers", 4, "Invoker goroutines")
	duration := flag.Duration("duration", 2*time.Second, "Workload duration")
	invalidateEvery := flag.Duration("invalidate-every", 200*time.Millisecond, "Interval between random invalidations")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: keel [options]\n\n")
		fmt.Fprintf(os.Stderr, "Runs a speculative-compilation workload: hot methods get compiled\n")
		fmt.Fprintf(os.Stderr, "against optimistic assumptions while invalidations race the compiler.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	opts := vm.DefaultOptions()
	if *configPath != "" {
		var err error
		opts, err = vm.LoadOptions(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "keel: %v\n", err)
			os.Exit(1)
		}
	}
	if *trace {
		opts.TraceAssumptions = true
	}
	if *journalPath != "" {
		opts.JournalPath = *journalPath
	}

	engine := vm.NewEngine("keel", opts)
	if opts.JournalPath != "" {
		journal, err := vm.OpenJournal(opts.JournalPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "keel: %v\n", err)
			os.Exit(1)
		}
		defer journal.Close()
		engine.AttachJournal(journal)
	}

	table := vm.NewAssumptionTable()
	cache := vm.NewCodeCache(opts.CodeCacheCapacity)
	jit := vm.NewJITCompiler(engine, cache)
	defer jit.Stop()

	profiler := vm.NewProfiler(opts.HotThreshold)
	jit.Connect(profiler)

	sweeper := vm.NewSweeper(table, time.Duration(opts.SweepIntervalSeconds)*time.Second)
	sweeper.Start()
	defer sweeper.Stop()

	// Each method speculates on a class-leafness guard shared with its
	// neighbors, so one invalidation takes down several compilations.
	ms := make([]*vm.Method, *methods)
	for i := range ms {
		m := vm.NewMethod(fmt.Sprintf("Class%d", i%8), fmt.Sprintf("method%d", i))
		m.Speculate(table.Lookup(fmt.Sprintf("leaf-class:Class%d", i%8)))
		ms[i] = m
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup

	for w := 0; w < *workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for {
				select {
				case <-stop:
					return
				default:
					profiler.RecordInvocation(ms[rng.Intn(len(ms))])
				}
			}
		}(int64(w))
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		ticker := time.NewTicker(*invalidateEvery)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				class := rng.Intn(8)
				name := fmt.Sprintf("leaf-class:Class%d", class)
				table.Lookup(name).Invalidate("subclass loaded")
				// Re-arm the guard so later compilations can speculate
				// again, exactly as a class load would.
				fresh := table.Refresh(name)
				for _, m := range ms {
					if m.ClassName == fmt.Sprintf("Class%d", class) {
						m.Respeculate(fresh)
					}
				}
			}
		}
	}()

	time.Sleep(*duration)
	close(stop)
	wg.Wait()

	stats := jit.Stats()
	fmt.Printf("methods compiled:   %d\n", stats.MethodsCompiled)
	fmt.Printf("stale aborts:       %d\n", stats.StaleAborts)
	fmt.Printf("hot methods:        %d\n", profiler.HotCount())
	fmt.Printf("live installed:     %d\n", cache.Len()-cache.Sweep())
	if sw := sweeper.SweepNow(); sw != nil {
		fmt.Printf("entries swept:      %d\n", sw.EntriesRemoved)
	}
	if j := engine.Journal(); j != nil {
		if n, err := j.Count(); err == nil {
			fmt.Printf("journaled deopts:   %d\n", n)
		}
	}

	if *snapshotPath != "" {
		snap := vm.TakeSnapshot(engine, cache, jit)
		if err := vm.WriteSnapshot(*snapshotPath, snap); err != nil {
			fmt.Fprintf(os.Stderr, "keel: writing snapshot: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("snapshot written:   %s\n", *snapshotPath)
	}
}
