package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSessionClampsShortIdleTimeout(t *testing.T) {
	s := NewSession(SessionID{Tag: 1}, AckFull, time.Second, 16, 10*time.Second)
	assert.Equal(t, DefaultIdleTimeout, s.IdleTimeout)
}

func TestSessionIncomingSegmentOrdersViaSequencer(t *testing.T) {
	s := NewSession(SessionID{Tag: 1}, AckFull, time.Second, 16, 0)
	require.NoError(t, s.IncomingSegment(mkFrame(2)))
	require.NoError(t, s.IncomingSegment(mkFrame(1)))

	ctx := context.Background()
	f, err := s.NextFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, FrameID(1), f.ID)
	assert.Equal(t, uint64(2), s.Counters.SegmentsIn)

	f, err = s.NextFrame(ctx)
	require.NoError(t, err)
	assert.Equal(t, FrameID(2), f.ID)
	assert.Equal(t, uint64(2), s.Counters.FramesEmitted)
}

func TestSessionCheckIdleTransitionsOnceToClosing(t *testing.T) {
	s := NewSession(SessionID{Tag: 1}, AckFull, time.Second, 16, MinIdleTimeout)
	now := time.Now()
	assert.False(t, s.CheckIdle(now))

	later := now.Add(MinIdleTimeout + time.Second)
	assert.True(t, s.CheckIdle(later))
	assert.Equal(t, StateClosing, s.State())
	// idempotent: already Closing, no further transition reported
	assert.False(t, s.CheckIdle(later))
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	s := NewSession(SessionID{Tag: 1}, AckFull, time.Second, 16, 0)
	s.Close()
	assert.Equal(t, StateClosed, s.State())
	s.Close()
	assert.Equal(t, StateClosed, s.State())
}

func TestSessionShouldAckModes(t *testing.T) {
	cases := []struct {
		mode           AckMode
		lastSeg        bool
		wantAck        bool
	}{
		{AckNone, true, false},
		{AckNone, false, false},
		{AckPartial, true, true},
		{AckPartial, false, false},
		{AckFull, false, true},
		{AckBoth, false, true},
	}
	for _, c := range cases {
		s := NewSession(SessionID{Tag: 1}, c.mode, time.Second, 16, 0)
		assert.Equal(t, c.wantAck, s.ShouldAck(c.lastSeg))
	}
}

func TestSessionIncomingRetransmissionAndAckBookkeeping(t *testing.T) {
	s := NewSession(SessionID{Tag: 1}, AckFull, time.Second, 16, 0)
	s.IncomingRetransmissionRequest(3)
	s.IncomingAcknowledgedFrames(2)
	assert.Equal(t, uint64(3), s.Counters.RetransmissionRequests)
	assert.Equal(t, uint64(2), s.Counters.FramesAcknowledged)
}
