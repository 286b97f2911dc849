package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPoolRunsSubmittedTasks(t *testing.T) {
	p, err := New(4, zap.NewNop())
	require.NoError(t, err)
	defer p.Release()

	var ran atomic.Int64
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) error {
			ran.Add(1)
			return nil
		}))
	}
	p.Wait()

	assert.Equal(t, int64(10), ran.Load())
	stats := p.Stats()
	assert.Equal(t, int64(10), stats.Submitted)
	assert.Equal(t, int64(10), stats.Completed)
	assert.Equal(t, int64(0), stats.Failed)
}

func TestPoolCountsFailures(t *testing.T) {
	p, err := New(2, zap.NewNop())
	require.NoError(t, err)
	defer p.Release()

	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) error {
		return errors.New("boom")
	}))
	p.Wait()

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(0), stats.Completed)
}

func TestPoolRejectsAfterRelease(t *testing.T) {
	p, err := New(2, zap.NewNop())
	require.NoError(t, err)
	p.Release()

	err = p.Submit(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolClosed)
}
