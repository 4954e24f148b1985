package loop

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestLoopSerializesWork verifies posted functions run in order on one goroutine.
func TestLoopSerializesWork(t *testing.T) {
	l := New(8, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	var got []int
	for i := range 5 {
		l.Post(func() { got = append(got, i) })
	}
	if err := l.Do(ctx, func() {}); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("ran %d tasks, want 5", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Errorf("got[%d] = %d, want %d", i, v, i)
		}
	}
}

// TestLoopDoAfterStop verifies Do fails instead of hanging once the loop exits.
func TestLoopDoAfterStop(t *testing.T) {
	l := New(1, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	if err := l.Do(context.Background(), func() {}); err != ErrStopped {
		t.Errorf("Do after stop = %v, want ErrStopped", err)
	}
}

// TestLoopAfterFunc verifies scheduled callbacks are delivered through the loop.
func TestLoopAfterFunc(t *testing.T) {
	l := New(8, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	fired := make(chan struct{})
	l.AfterFunc(5*time.Millisecond, func() { close(fired) })
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("AfterFunc callback never ran")
	}
}

// TestManualAdvance verifies deadline ordering, stop, and callbacks scheduled mid-advance.
func TestManualAdvance(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	var order []string

	m.AfterFunc(2*time.Second, func() { order = append(order, "b") })
	m.AfterFunc(1*time.Second, func() {
		order = append(order, "a")
		m.AfterFunc(500*time.Millisecond, func() { order = append(order, "a2") })
	})
	stop := m.AfterFunc(1500*time.Millisecond, func() { order = append(order, "stopped") })
	stop()

	m.Advance(3 * time.Second)

	want := []string{"a", "a2", "b"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
	if got := m.Now(); !got.Equal(time.Unix(3, 0)) {
		t.Errorf("Now() = %v, want 3s", got)
	}
	if m.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", m.Pending())
	}
}
