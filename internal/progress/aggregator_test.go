package progress

import (
	"math"
	"sync"
	"testing"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestOverallProgress(t *testing.T) {
	tests := []struct {
		name  string
		setup func(a *Aggregator)
		want  float64
	}{
		{"none active", func(a *Aggregator) {}, 1},
		{"two active", func(a *Aggregator) {
			a.SetActive("a", true)
			a.SetProgress("a", 0.4)
			a.SetActive("b", true)
			a.SetProgress("b", 0.8)
		}, 0.6},
		{"finished op still counts while active", func(a *Aggregator) {
			a.SetActive("a", true)
			a.SetProgress("a", 1)
			a.SetActive("b", true)
			a.SetProgress("b", 0.5)
		}, 0.75},
		{"inactive ignored", func(a *Aggregator) {
			a.SetActive(OpWatchSync, true)
			a.SetProgress(OpWatchSync, 0.2)
			a.SetProgress(OpOnboarding, 0.9)
		}, 0.2},
		{"all deactivated", func(a *Aggregator) {
			a.SetActive(OpAuthentication, true)
			a.SetProgress(OpAuthentication, 0.3)
			a.SetActive(OpAuthentication, false)
		}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New()
			tt.setup(a)
			if got := a.OverallProgress(); !near(got, tt.want) {
				t.Errorf("OverallProgress() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSetProgressClamps(t *testing.T) {
	a := New()
	a.SetActive(OpWatchSync, true)

	for _, tc := range []struct{ in, want float64 }{
		{-0.5, 0}, {1.7, 1}, {0.25, 0.25}, {math.NaN(), 0},
	} {
		a.SetProgress(OpWatchSync, tc.in)
		if got := a.OverallProgress(); !near(got, tc.want) {
			t.Errorf("SetProgress(%v): overall = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestActivateRestartsProgress(t *testing.T) {
	a := New()
	a.SetActive(OpWatchSync, true)
	a.SetProgress(OpWatchSync, 1)
	a.SetActive(OpWatchSync, false)
	a.SetActive(OpWatchSync, true)
	if got := a.OverallProgress(); got != 0 {
		t.Errorf("OverallProgress() after restart = %v, want 0", got)
	}
}

func TestResetAndSnapshot(t *testing.T) {
	a := New()
	a.SetActive(OpProgramGeneration, true)
	a.SetLabel(OpProgramGeneration, "Building your program")
	a.SetActive(OpOnboarding, false)

	s := a.Snapshot()
	if !s.AnyActive {
		t.Error("AnyActive = false, want true")
	}
	if s.CurrentOperation != "Building your program" {
		t.Errorf("CurrentOperation = %q", s.CurrentOperation)
	}
	if len(s.Entries) != 2 || s.Entries[0].Operation != OpOnboarding {
		t.Errorf("Entries = %+v, want onboarding first of 2", s.Entries)
	}

	a.SetActive(OpProgramGeneration, false)
	if a.CurrentOperation() != "" {
		t.Errorf("label kept after operation finished: %q", a.CurrentOperation())
	}

	a.Reset()
	if a.AnyActive() || a.OverallProgress() != 1 || len(a.Snapshot().Entries) != 0 {
		t.Errorf("after Reset: %+v", a.Snapshot())
	}
}

func TestConcurrentUpdates(t *testing.T) {
	a := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			op := Operation(string(rune('a' + i)))
			a.SetActive(op, true)
			for j := 0; j <= 100; j++ {
				a.SetProgress(op, float64(j)/100)
				_ = a.OverallProgress()
			}
		}(i)
	}
	wg.Wait()
	if got := a.OverallProgress(); !near(got, 1) {
		t.Errorf("OverallProgress() = %v, want 1", got)
	}
}
