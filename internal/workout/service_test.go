package workout

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/claude/sprintcoach/internal/companion"
	"github.com/claude/sprintcoach/internal/loop"
	"github.com/claude/sprintcoach/internal/models"
	"github.com/claude/sprintcoach/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePersister struct {
	mu   sync.Mutex
	recs []models.SessionRecord
}

func (c *capturePersister) PersistSession(rec models.SessionRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, rec)
}

func (c *capturePersister) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.recs)
}

type captureChannel struct {
	mu   sync.Mutex
	msgs []companion.Message
}

func (c *captureChannel) Send(m companion.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, m)
	return nil
}

func (c *captureChannel) types() []companion.MessageType {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []companion.MessageType
	for _, m := range c.msgs {
		out = append(out, m.Type)
	}
	return out
}

func startService(t *testing.T, p session.Persister, ch companion.Channel) (*Service, context.CancelFunc) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	l := loop.New(16, log)
	svc := New(l, p, ch, nil, Options{TickInterval: 10 * time.Millisecond}, log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = l.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return svc, cancel
}

func quickConfig(reps int) models.SessionConfiguration {
	cfg := models.NewConfiguration("quick", 20, reps, 0, models.VariationAcceleration)
	cfg.PhasesEnabled = models.NewPhaseSet(models.PhaseCooldown)
	return cfg
}

func TestServiceFullWorkout(t *testing.T) {
	p := &capturePersister{}
	svc, _ := startService(t, p, nil)
	ctx := context.Background()

	state, err := svc.Begin(ctx, 7, quickConfig(2))
	require.NoError(t, err)
	assert.Equal(t, models.PhaseSprintRep, state.Phase)
	assert.Equal(t, 7, state.UserID)

	_, err = svc.Begin(ctx, 7, quickConfig(2))
	assert.ErrorIs(t, err, session.ErrInvalidTransition)

	for i := 0; i < 2; i++ {
		state, err = svc.Advance(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, models.PhaseCooldown, state.Phase)
	assert.Len(t, state.RepResults, 2)

	rec, err := svc.Complete(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, rec.UserID)
	assert.Equal(t, 1, p.len())
	assert.Equal(t, models.PhaseCompleted, svc.Last().Phase)
}

func TestServiceRejectsInvalidConfig(t *testing.T) {
	svc, _ := startService(t, nil, nil)
	_, err := svc.Begin(context.Background(), 1, quickConfig(0))
	assert.ErrorIs(t, err, models.ErrInvalidConfiguration)

	state, err := svc.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.PhaseIdle, state.Phase)
}

func TestServiceCompanionRoundTrip(t *testing.T) {
	ch := &captureChannel{}
	svc, _ := startService(t, nil, ch)
	ctx := context.Background()

	launched, err := svc.LaunchOnCompanion(ctx)
	assert.ErrorIs(t, err, session.ErrNoSession)
	assert.False(t, launched)

	_, err = svc.Begin(ctx, 1, quickConfig(3))
	require.NoError(t, err)

	launched, err = svc.LaunchOnCompanion(ctx)
	require.NoError(t, err)
	assert.False(t, launched, "companion not reachable yet")

	coord := svc.Coordinator()
	coord.SetReachable(true)
	launched, err = svc.LaunchOnCompanion(ctx)
	require.NoError(t, err)
	assert.True(t, launched)
	assert.Contains(t, ch.types(), companion.MsgLaunchWorkout)

	// Companion finishes all reps first; its results win.
	coord.HandleMessage(companion.Message{
		Type:      companion.MsgWorkoutCompleted,
		RepTimes:  []float64{3.1, 3.0, 3.2},
		Timestamp: companion.UnixSeconds(time.Now().Add(time.Second)),
	})
	require.Eventually(t, func() bool {
		s, err := svc.Snapshot(ctx)
		return err == nil && s.Phase == models.PhaseCooldown
	}, 2*time.Second, 10*time.Millisecond)

	state, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, []float64{3.1, 3.0, 3.2}, state.RepResults)
	assert.Contains(t, ch.types(), companion.MsgPhaseUpdate)
}

func TestServiceStoppedLoop(t *testing.T) {
	svc, cancel := startService(t, nil, nil)
	cancel()
	require.Eventually(t, func() bool {
		_, err := svc.Snapshot(context.Background())
		return err == loop.ErrStopped
	}, 2*time.Second, 10*time.Millisecond)
}
