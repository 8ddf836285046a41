package subserver

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/brimdotnet/brimd/internal/stats"
)

func TestRespawnLoopStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int64
	done := make(chan error, 1)
	go func() {
		done <- respawnLoop(ctx, zerolog.Nop(), "tid", 0, func(ctx context.Context) error {
			calls.Add(1)
			return errors.New("boom")
		})
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("respawnLoop did not stop on cancel")
	}
	require.GreaterOrEqual(t, calls.Load(), int64(1))
}

func TestRespawnLoopThrottlesToOncePerSecond(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var calls atomic.Int64
	go respawnLoop(ctx, zerolog.Nop(), "tid", 0, func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})
	time.Sleep(1200 * time.Millisecond)
	cancel()
	n := calls.Load()
	require.GreaterOrEqual(t, n, int64(1))
	require.LessOrEqual(t, n, int64(3))
}

func TestRespawnLoopRecoversPanicAndRespawns(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int64
	done := make(chan error, 1)
	go func() {
		done <- respawnLoop(ctx, zerolog.Nop(), "tid", 7, func(ctx context.Context) error {
			n := calls.Add(1)
			if n == 1 {
				panic("boom")
			}
			return nil
		})
	}()
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, 3*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("respawnLoop did not stop on cancel")
	}
}

func TestViewForBindsBucket(t *testing.T) {
	set := stats.NewSet(2, []stats.Declaration{{Name: "hits", Kind: stats.KindSum}})
	v0 := viewFor(set, 0)
	v1 := viewFor(set, 1)
	v0.Incr("hits")
	v1.Incr("hits")
	v1.Incr("hits")
	require.Equal(t, uint64(1), set.Get(0, "hits"))
	require.Equal(t, uint64(2), set.Get(1, "hits"))
}
