package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkFrame(id FrameID) *Frame { return &Frame{ID: id, Payload: []byte{byte(id)}} }

func TestSequencerOrdersOutOfOrderFrames(t *testing.T) {
	seq := NewSequencer(SequencerConfig{Timeout: time.Second, Capacity: 16})
	for _, id := range []FrameID{4, 1, 3, 2} {
		require.NoError(t, seq.Push(mkFrame(id)))
	}

	ctx := context.Background()
	for _, want := range []FrameID{1, 2, 3, 4} {
		f, err := seq.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, f.ID)
	}
}

func TestSequencerDropsLateArrivals(t *testing.T) {
	seq := NewSequencer(SequencerConfig{Timeout: time.Second, Capacity: 16})
	require.NoError(t, seq.Push(mkFrame(1)))

	ctx := context.Background()
	f, err := seq.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, FrameID(1), f.ID)

	// frame_id 1 is now < next_id(2): dropped silently, not an error.
	require.NoError(t, seq.Push(mkFrame(1)))
	require.NoError(t, seq.Push(mkFrame(2)))

	f, err = seq.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, FrameID(2), f.ID)
}

func TestSequencerAcceptsDuplicateWithoutEffect(t *testing.T) {
	seq := NewSequencer(SequencerConfig{Timeout: time.Second, Capacity: 16})
	require.NoError(t, seq.Push(mkFrame(2)))
	require.NoError(t, seq.Push(mkFrame(2))) // duplicate of buffered id, no effect
	require.NoError(t, seq.Push(mkFrame(1)))

	ctx := context.Background()
	f, err := seq.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, FrameID(1), f.ID)
	f, err = seq.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, FrameID(2), f.ID)
}

func TestSequencerDiscardsOnTimeout(t *testing.T) {
	seq := NewSequencer(SequencerConfig{Timeout: 25 * time.Millisecond, Capacity: 16})
	require.NoError(t, seq.Push(mkFrame(2)))

	ctx := context.Background()
	_, err := seq.Next(ctx)
	require.Error(t, err)
	var discard *FrameDiscardedError
	require.ErrorAs(t, err, &discard)
	assert.Equal(t, FrameID(1), discard.ID)

	f, err := seq.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, FrameID(2), f.ID)
}

func TestSequencerBackpressureAtCapacity(t *testing.T) {
	seq := NewSequencer(SequencerConfig{Timeout: time.Second, Capacity: 2})
	require.NoError(t, seq.Push(mkFrame(5)))
	require.NoError(t, seq.Push(mkFrame(6)))
	err := seq.Push(mkFrame(7))
	require.Error(t, err)
}

func TestSequencerCloseDrainsWithGapDiscards(t *testing.T) {
	seq := NewSequencer(SequencerConfig{Timeout: time.Hour, Capacity: 16})
	require.NoError(t, seq.Push(mkFrame(1)))
	require.NoError(t, seq.Push(mkFrame(3)))
	seq.Close()

	ctx := context.Background()
	f, err := seq.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, FrameID(1), f.ID)

	_, err = seq.Next(ctx)
	var discard *FrameDiscardedError
	require.ErrorAs(t, err, &discard)
	assert.Equal(t, FrameID(2), discard.ID)

	f, err = seq.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, FrameID(3), f.ID)

	_, err = seq.Next(ctx)
	require.Error(t, err)
}

func TestSequencerPushAfterCloseRejected(t *testing.T) {
	seq := NewSequencer(SequencerConfig{Timeout: time.Second, Capacity: 16})
	seq.Close()
	err := seq.Push(mkFrame(1))
	require.Error(t, err)
}

func TestSequencerNextRespectsContextCancellation(t *testing.T) {
	seq := NewSequencer(SequencerConfig{Timeout: time.Hour, Capacity: 16})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := seq.Next(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
