// Package progress combines the progress of concurrent long-running operations
// into a single figure for display.
package progress

import (
	"math"
	"sort"
	"sync"
)

// Operation names a tracked long-running operation.
type Operation string

const (
	OpOnboarding        Operation = "onboarding"
	OpProgramGeneration Operation = "program_generation"
	OpWatchSync         Operation = "watch_sync"
	OpAuthentication    Operation = "authentication"
	OpTrainingLoad      Operation = "training_load"
)

// Entry is the tracked state of one operation.
type Entry struct {
	Operation Operation `json:"operation"`
	Active    bool      `json:"active"`
	Progress  float64   `json:"progress"`
	Label     string    `json:"label,omitempty"`
}

// Snapshot is a point-in-time view of the aggregator.
type Snapshot struct {
	Overall          float64 `json:"overall"`
	AnyActive        bool    `json:"any_active"`
	CurrentOperation string  `json:"current_operation,omitempty"`
	Entries          []Entry `json:"entries"`
}

// Aggregator is safe for concurrent use. One instance lives for the whole
// process and is shared by everything that reports progress.
type Aggregator struct {
	mu      sync.Mutex
	entries map[Operation]*Entry
	label   string
}

// New creates an empty Aggregator.
func New() *Aggregator {
	return &Aggregator{entries: make(map[Operation]*Entry)}
}

// SetActive marks op as running or finished. Activating an operation restarts
// its progress at 0.
func (a *Aggregator) SetActive(op Operation, active bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e := a.entry(op)
	if active && !e.Active {
		e.Progress = 0
	}
	e.Active = active
	if !active && a.label == e.Label {
		a.label = ""
	}
}

// SetProgress records op's progress, clamped to [0,1].
func (a *Aggregator) SetProgress(op Operation, value float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entry(op).Progress = clamp(value)
}

// SetLabel sets the human-readable description of what op is doing and makes
// it the current operation.
func (a *Aggregator) SetLabel(op Operation, label string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entry(op).Label = label
	a.label = label
}

// OverallProgress is the mean progress of the active operations, capped at 1.
// With nothing active it is 1.
func (a *Aggregator) OverallProgress() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.overall()
}

// AnyActive reports whether any operation is running.
func (a *Aggregator) AnyActive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range a.entries {
		if e.Active {
			return true
		}
	}
	return false
}

// CurrentOperation returns the most recently set label.
func (a *Aggregator) CurrentOperation() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.label
}

// Reset clears every entry to inactive with zero progress.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = make(map[Operation]*Entry)
	a.label = ""
}

// Snapshot returns the full state, entries sorted by operation name.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := Snapshot{
		Overall:          a.overall(),
		CurrentOperation: a.label,
		Entries:          make([]Entry, 0, len(a.entries)),
	}
	for _, e := range a.entries {
		s.Entries = append(s.Entries, *e)
		if e.Active {
			s.AnyActive = true
		}
	}
	sort.Slice(s.Entries, func(i, j int) bool { return s.Entries[i].Operation < s.Entries[j].Operation })
	return s
}

func (a *Aggregator) entry(op Operation) *Entry {
	e, ok := a.entries[op]
	if !ok {
		e = &Entry{Operation: op}
		a.entries[op] = e
	}
	return e
}

func (a *Aggregator) overall() float64 {
	var sum float64
	n := 0
	for _, e := range a.entries {
		if e.Active {
			sum += e.Progress
			n++
		}
	}
	if n == 0 {
		return 1
	}
	return min(sum/float64(n), 1)
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
