// Package profiler collects wall-clock timings and counters across the
// compilation. Timings are keyed by name and counters by index; each entry
// stores the call site of its first record, so sections of the same name
// measured at different call sites share one entry. It is purely observational and disabled
// by default; all tables are process-wide and mutex-guarded so concurrent
// method compilation can share them.
package profiler

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// NoPrevCounter marks a counter without a baseline to diff against.
const NoPrevCounter = math.MaxUint64

// Counter index bases per pipeline stage, mirroring the pass ordering.
const (
	CounterNormalization uint64 = 100000
	CounterOptimization  uint64 = 200000
	CounterBackend       uint64 = 300000
)

type timingEntry struct {
	name        string
	total       time.Duration
	invocations uint64
	file        string
	line        int
}

type counterEntry struct {
	index       uint64
	name        string
	count       int64
	invocations uint64
	prevCounter uint64
	file        string
	line        int
}

var (
	enabled  atomic.Bool
	mu       sync.Mutex
	times    = make(map[string]*timingEntry)
	counters = make(map[uint64]*counterEntry)
)

// SetEnabled switches profiling on or off. When off, Measure and Counter
// are cheap no-ops.
func SetEnabled(on bool) { enabled.Store(on) }

// Enabled reports whether profiling data is being collected.
func Enabled() bool { return enabled.Load() }

// Measure starts a timing section; the returned func ends it. Use as
//
//	defer profiler.Measure("PatternMatching")()
func Measure(name string) func() {
	if !enabled.Load() {
		return func() {}
	}
	file, line := callSite(2)
	start := time.Now()
	return func() {
		elapsed := time.Since(start)
		mu.Lock()
		defer mu.Unlock()
		entry := times[name]
		if entry == nil {
			entry = &timingEntry{name: name, file: file, line: line}
			times[name] = entry
		}
		entry.total += elapsed
		entry.invocations++
	}
}

// Counter adds value to the counter at index. prevIndex names a previously
// recorded counter the report diffs against, or NoPrevCounter.
func Counter(index uint64, name string, value int64, prevIndex uint64) {
	if !enabled.Load() {
		return
	}
	file, line := callSite(2)
	mu.Lock()
	defer mu.Unlock()
	entry := counters[index]
	if entry == nil {
		entry = &counterEntry{index: index, name: name, prevCounter: prevIndex, file: file, line: line}
		counters[index] = entry
	}
	entry.count += value
	entry.invocations++
}

// Reset drops all collected data.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	times = make(map[string]*timingEntry)
	counters = make(map[uint64]*counterEntry)
}

// CounterValue returns the current value of the counter, for tests and the
// report.
func CounterValue(index uint64) (int64, bool) {
	mu.Lock()
	defer mu.Unlock()
	entry, ok := counters[index]
	if !ok {
		return 0, false
	}
	return entry.count, true
}

// DumpResults logs all timings (longest first) and counters (by index) and
// clears the tables.
func DumpResults(asWarning bool) {
	mu.Lock()
	defer mu.Unlock()

	level := slog.LevelDebug
	if asWarning {
		level = slog.LevelWarn
	}
	logf := func(msg string, args ...any) {
		slog.Log(context.Background(), level, fmt.Sprintf(msg, args...))
	}

	entries := make([]*timingEntry, 0, len(times))
	for _, e := range times {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].total == entries[j].total {
			return entries[i].name < entries[j].name
		}
		return entries[i].total > entries[j].total
	})

	logf("Profiling results for %d functions:", len(entries))
	for _, e := range entries {
		logf("%40s %10s %8d calls %12s/call %s#%d",
			e.name, e.total, e.invocations, e.total/time.Duration(max(e.invocations, 1)), e.file, e.line)
	}

	counts := make([]*counterEntry, 0, len(counters))
	for _, e := range counters {
		counts = append(counts, e)
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].index == counts[j].index {
			return counts[i].name < counts[j].name
		}
		return counts[i].index < counts[j].index
	})

	logf("Profiling results for %d counters:", len(counts))
	for _, e := range counts {
		diff := ""
		if e.prevCounter != NoPrevCounter {
			if prev, ok := counters[e.prevCounter]; ok && prev.count != 0 {
				diff = fmt.Sprintf(" diff %+d (%+d%%)", e.count-prev.count,
					int(100*(float64(e.count)/float64(prev.count)-1)))
			}
		}
		logf("%40s %8d counts %6d calls %8d avg./call%s %s#%d",
			e.name, e.count, e.invocations, e.count/int64(max(e.invocations, 1)), diff, e.file, e.line)
	}

	times = make(map[string]*timingEntry)
	counters = make(map[uint64]*counterEntry)
}

func callSite(skip int) (string, int) {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "?", 0
	}
	return file, line
}
