package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/circulation"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSweeper struct {
	calls int
	err   error
}

func (s *countingSweeper) Sweep(context.Context) (circulation.SweepResult, error) {
	s.calls++
	return circulation.SweepResult{ExpiredAppointments: 1}, s.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisLockIsExclusive(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)
	a := NewRedisLock(rdb)
	b := NewRedisLock(rdb)

	release, ok, err := a.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = b.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, release(ctx))
	assert.False(t, mr.Exists("sweep"))

	_, ok, err = b.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLockReleaseKeepsForeignLease(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)
	lock := NewRedisLock(rdb)

	release, ok, err := lock.TryLock(ctx, "sweep", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)
	_, ok, err = lock.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, release(ctx))
	assert.True(t, mr.Exists("sweep"))
}

func TestRunOnceSkipsWithoutLease(t *testing.T) {
	ctx := context.Background()
	_, rdb := newRedis(t)
	sweeper := &countingSweeper{}
	w := NewSweepWorker(sweeper, NewRedisLock(rdb), discardLogger(), WorkerConfig{Interval: time.Minute})

	res, ran, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 1, res.ExpiredAppointments)

	other := NewRedisLock(rdb)
	release, ok, err := other.TryLock(ctx, "circulation:sweep:lock", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ran, err = w.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, 1, sweeper.calls)
	require.NoError(t, release(ctx))
}

func TestRunOnceReleasesLeaseOnError(t *testing.T) {
	ctx := context.Background()
	sweeper := &countingSweeper{err: errors.New("store down")}
	w := NewSweepWorker(sweeper, nil, discardLogger(), WorkerConfig{})

	_, ran, err := w.RunOnce(ctx)
	require.Error(t, err)
	assert.True(t, ran)

	_, ran, err = w.RunOnce(ctx)
	require.Error(t, err)
	assert.True(t, ran)
	assert.Equal(t, 2, sweeper.calls)
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sweeper := &countingSweeper{}
	w := NewSweepWorker(sweeper, nil, discardLogger(), WorkerConfig{Interval: 10 * time.Millisecond})

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
