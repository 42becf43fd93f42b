package surbbalancer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProducer struct {
	produce func(ctx context.Context, n int) (int, error)
	calls   int
}

func (f *fakeProducer) ProduceSurbs(ctx context.Context, n int) (int, error) {
	f.calls++
	return f.produce(ctx, n)
}

func TestTickRefillsShortfallToTarget(t *testing.T) {
	fp := &fakeProducer{produce: func(ctx context.Context, n int) (int, error) {
		assert.Equal(t, 64, n)
		return n, nil
	}}
	b := NewBalancer(fp, Config{TargetBuffer: 64, Interval: time.Second})

	b.Tick(context.Background())

	snap := b.Snapshot()
	assert.Equal(t, uint64(64), snap.BufferEstimate)
	assert.Equal(t, uint64(64), snap.ProducedTotal)
	assert.False(t, snap.RefillInFlight)
	assert.Equal(t, 1, fp.calls)
}

func TestTickSkipsWhenAlreadyAtTarget(t *testing.T) {
	fp := &fakeProducer{produce: func(ctx context.Context, n int) (int, error) {
		t.Fatal("producer should not be called when buffer is already full")
		return 0, nil
	}}
	b := NewBalancer(fp, Config{TargetBuffer: 4, Interval: time.Second})
	b.buffered = 4

	b.Tick(context.Background())

	assert.Equal(t, 0, fp.calls)
}

func TestTickPartialProduceLeavesShortfallForNextTick(t *testing.T) {
	fp := &fakeProducer{produce: func(ctx context.Context, n int) (int, error) {
		return n / 2, nil
	}}
	b := NewBalancer(fp, Config{TargetBuffer: 10, Interval: time.Second})

	b.Tick(context.Background())
	assert.Equal(t, uint64(5), b.Snapshot().BufferEstimate)

	b.Tick(context.Background())
	snap := b.Snapshot()
	assert.Equal(t, uint64(5+2), snap.BufferEstimate)
	assert.Equal(t, 2, fp.calls)
}

func TestTickProducerErrorLeavesBufferUnchanged(t *testing.T) {
	wantErr := errors.New("no known relay path")
	fp := &fakeProducer{produce: func(ctx context.Context, n int) (int, error) {
		return 0, wantErr
	}}
	b := NewBalancer(fp, Config{TargetBuffer: 8, Interval: time.Second})

	b.Tick(context.Background())

	snap := b.Snapshot()
	assert.Equal(t, uint64(0), snap.BufferEstimate)
	assert.Equal(t, uint64(0), snap.ProducedTotal)
	assert.False(t, snap.RefillInFlight)
}

func TestConsumeDecrementsBufferAndClampsAtZero(t *testing.T) {
	fp := &fakeProducer{produce: func(ctx context.Context, n int) (int, error) { return n, nil }}
	b := NewBalancer(fp, Config{TargetBuffer: 8, Interval: time.Second})
	b.buffered = 3

	b.Consume(2)
	assert.Equal(t, uint64(1), b.Snapshot().BufferEstimate)

	b.Consume(5)
	snap := b.Snapshot()
	assert.Equal(t, uint64(0), snap.BufferEstimate)
	assert.Equal(t, uint64(7), snap.ConsumedTotal)
}

func TestRunStopsOnContextCancellation(t *testing.T) {
	fp := &fakeProducer{produce: func(ctx context.Context, n int) (int, error) { return n, nil }}
	b := NewBalancer(fp, Config{TargetBuffer: 1, Interval: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
	assert.Greater(t, fp.calls, 0)
}

func TestSnapshotComputesRatePerSec(t *testing.T) {
	fp := &fakeProducer{produce: func(ctx context.Context, n int) (int, error) { return n, nil }}
	b := NewBalancer(fp, Config{TargetBuffer: 100, Interval: time.Second})
	b.lastRateAt = time.Now().Add(-time.Second)

	b.Tick(context.Background())
	snap := b.Snapshot()
	require.Greater(t, snap.RatePerSec, 0.0)
}
