package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/localplatform/homeroute/internal/clock"
	"github.com/localplatform/homeroute/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaxRetriesPerPriority(t *testing.T) {
	assert.Equal(t, uint32(10), maxRetries(Important))
	assert.Equal(t, uint32(3), maxRetries(Background))
	assert.Greater(t, maxRetries(Critical), uint32(1_000_000))
}

func TestBackoffScalesByPriority(t *testing.T) {
	assert.Equal(t, 300*time.Millisecond, backoff(Critical, 3))
	assert.Equal(t, 3*time.Second, backoff(Important, 3))
	assert.Equal(t, 15*time.Second, backoff(Background, 3))
}

func TestRunExitsCleanlyWithoutRestart(t *testing.T) {
	reg := NewRegistry()
	hub := events.NewHub()
	sup := New(reg, hub)

	calls := 0
	sup.Run(context.Background(), "svc", Critical, func(ctx context.Context) error {
		calls++
		return nil
	})

	assert.Equal(t, 1, calls)
	st, ok := reg.Get("svc")
	require.True(t, ok)
	assert.Equal(t, StateStopped, st.State)
}

func TestRunGivesUpAfterMaxRetries(t *testing.T) {
	reg := NewRegistry()
	sup := New(reg, nil).
		WithClock(clock.NewMockClock(time.Unix(0, 0))).
		WithSleep(func(ctx context.Context, d time.Duration) {})

	calls := 0
	sup.Run(context.Background(), "bg", Background, func(ctx context.Context) error {
		calls++
		return errors.New("boom")
	})

	// Background allows 3 retries after the initial attempt: 4 calls total.
	assert.Equal(t, 4, calls)
	st, ok := reg.Get("bg")
	require.True(t, ok)
	assert.Equal(t, StateStopped, st.State)
	assert.Equal(t, uint32(4), st.RestartCount)
}

func TestRunStopsOnContextCancellation(t *testing.T) {
	reg := NewRegistry()
	sup := New(reg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sup.Run(ctx, "svc", Critical, func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	st, ok := reg.Get("svc")
	require.True(t, ok)
	assert.Equal(t, StateStopped, st.State)
}

func TestRunRecoversFromPanic(t *testing.T) {
	reg := NewRegistry()
	sup := New(reg, nil).
		WithClock(clock.NewMockClock(time.Unix(0, 0))).
		WithSleep(func(ctx context.Context, d time.Duration) {})

	calls := 0
	sup.Run(context.Background(), "panicky", Background, func(ctx context.Context) error {
		calls++
		if calls == 1 {
			panic("kaboom")
		}
		return errors.New("still broken")
	})

	assert.GreaterOrEqual(t, calls, 2)
	st, ok := reg.Get("panicky")
	require.True(t, ok)
	assert.Equal(t, StateStopped, st.State)
}

func TestRegistryListSortsByPriorityThenName(t *testing.T) {
	reg := NewRegistry()
	reg.set("zzz-critical", Critical, StateRunning, 0, "")
	reg.set("aaa-important", Important, StateRunning, 0, "")
	reg.set("bbb-critical", Critical, StateRunning, 0, "")

	list := reg.List()
	require.Len(t, list, 3)
	assert.Equal(t, "bbb-critical", list[0].Name)
	assert.Equal(t, "zzz-critical", list[1].Name)
	assert.Equal(t, "aaa-important", list[2].Name)
}
