package wearable

import (
	"testing"

	"github.com/claude/sprintcoach/internal/companion"
	"github.com/claude/sprintcoach/internal/models"
)

func openTestState(t *testing.T) *StateDB {
	t.Helper()
	s, err := OpenStateDB(t.TempDir())
	if err != nil {
		t.Fatalf("OpenStateDB: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStateDB_Empty(t *testing.T) {
	s := openTestState(t)
	if _, err := s.Latest(); err != ErrNoWorkout {
		t.Errorf("Latest() on empty db = %v, want ErrNoWorkout", err)
	}
	if err := s.SetRepTimes("missing", []float64{5}); err != ErrNoWorkout {
		t.Errorf("SetRepTimes(missing) = %v, want ErrNoWorkout", err)
	}
}

func TestStateDB_LaunchThenUpdates(t *testing.T) {
	s := openTestState(t)
	cfg := models.NewConfiguration("40 Yard Speed Development", 40, 6, 120, models.VariationStandard)

	launch := companion.Message{
		Type: companion.MsgLaunchWorkout, SessionID: "s1", SessionConfig: &cfg,
		Phase: models.PhaseWarmup, CurrentRep: 1, Timestamp: 1_780_000_000,
	}
	if err := s.Record(launch); err != nil {
		t.Fatalf("Record(launch): %v", err)
	}

	w, err := s.Workout("s1")
	if err != nil {
		t.Fatal(err)
	}
	if w.Config == nil || w.Config.RepCount != 6 || w.Phase != models.PhaseWarmup {
		t.Errorf("after launch = %+v", w)
	}
	if len(w.RepTimes) != 0 {
		t.Errorf("rep times = %v, want empty", w.RepTimes)
	}

	update := companion.Message{
		Type: companion.MsgPhaseUpdate, SessionID: "s1", Phase: models.PhaseResting,
		CurrentRep: 2, RepTimes: []float64{5.1}, Timestamp: 1_780_000_100,
	}
	if err := s.Record(update); err != nil {
		t.Fatalf("Record(update): %v", err)
	}
	w, err = s.Latest()
	if err != nil {
		t.Fatal(err)
	}
	if w.Phase != models.PhaseResting || w.CurrentRep != 2 || len(w.RepTimes) != 1 {
		t.Errorf("after update = %+v", w)
	}
	if w.Config == nil {
		t.Error("update must keep the launched config")
	}

	if err := s.SetRepTimes("s1", []float64{5.0, 4.9}); err != nil {
		t.Fatal(err)
	}
	w, _ = s.Workout("s1")
	if len(w.RepTimes) != 2 || w.RepTimes[1] != 4.9 {
		t.Errorf("rep times = %v", w.RepTimes)
	}
}

func TestStateDB_IgnoresSessionless(t *testing.T) {
	s := openTestState(t)
	if err := s.Record(companion.Message{Type: companion.MsgProgress, Progress: 0.5}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Latest(); err != ErrNoWorkout {
		t.Errorf("Latest() = %v, want ErrNoWorkout", err)
	}
}

func TestStateDB_UpdateBeforeLaunch(t *testing.T) {
	s := openTestState(t)
	msg := companion.Message{Type: companion.MsgWorkoutCompleted, SessionID: "s2", Phase: models.PhaseCompleted, RepTimes: []float64{6.2}}
	if err := s.Record(msg); err != nil {
		t.Fatal(err)
	}
	w, err := s.Workout("s2")
	if err != nil {
		t.Fatal(err)
	}
	if w.Config != nil || w.Phase != models.PhaseCompleted {
		t.Errorf("workout = %+v", w)
	}
}
