package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkrt/logging"
)

func TestDispatcher_BoundsConcurrency(t *testing.T) {
	d := New(2, logging.NewNoopLogger())
	ctx := context.Background()

	var running, peak atomic.Int64
	for i := 0; i < 10; i++ {
		require.NoError(t, d.Go(ctx, "work", func(ctx context.Context) error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return nil
		}))
	}
	d.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(2))
	assert.Equal(t, int64(0), d.InFlight())
}

func TestDispatcher_IsolatesFailures(t *testing.T) {
	d := New(0, logging.NewNoopLogger())
	ctx := context.Background()

	var ok atomic.Int32
	require.NoError(t, d.Go(ctx, "panic", func(ctx context.Context) error { panic("boom") }))
	require.NoError(t, d.Go(ctx, "error", func(ctx context.Context) error { return errors.New("bad") }))
	require.NoError(t, d.Go(ctx, "fine", func(ctx context.Context) error {
		ok.Add(1)
		return nil
	}))
	d.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, uint64(2), d.Failed())
}

func TestDispatcher_AcquireHonorsContext(t *testing.T) {
	d := New(1, logging.NewNoopLogger())
	release := make(chan struct{})
	require.NoError(t, d.Go(context.Background(), "hold", func(ctx context.Context) error {
		<-release
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := d.Go(ctx, "late", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	d.Wait()
}
