package session

import (
	"context"
	"sync"
	"time"
)

// AckMode controls which received segments trigger an acknowledgement
// back to the sender (spec.md §4.6).
type AckMode int

const (
	AckNone AckMode = iota
	AckPartial
	AckFull
	AckBoth
)

// State is the Session lifecycle: Active -> Closing -> Closed, each
// transition idempotent.
type State int

const (
	StateActive State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "Active"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// DefaultIdleTimeout is the teacher-tunable default; spec.md §4.6 requires
// idle_timeout >= 60s, defaulting to 180s.
const DefaultIdleTimeout = 180 * time.Second

// MinIdleTimeout is the floor spec.md §4.6 places on the idle timeout.
const MinIdleTimeout = 60 * time.Second

// Counters tracks the per-session metrics spec.md §4.6 names: bytes and
// packets in/out, segment and frame bookkeeping, retransmissions, and SURB
// accounting.
type Counters struct {
	BytesIn, BytesOut                   uint64
	PacketsIn, PacketsOut                uint64
	SegmentsIn, SegmentsOut              uint64
	RetransmissionRequests               uint64
	FramesAcknowledged                   uint64
	FramesCompleted, FramesEmitted       uint64
	FramesDiscarded                      uint64
	SurbsProduced, SurbsConsumed         uint64
	SurbBufferEstimate                   uint64
}

// Session is the per-session runtime state (component G): sequencer
// parameters, lifecycle, and counters, grounded on the teacher's
// request-scoped state structs (e.g. PoolController fields) holding
// config alongside mutable counters under one lock.
type Session struct {
	mu sync.Mutex

	ID      SessionID
	AckMode AckMode

	FrameMTU      int
	FrameTimeout  time.Duration
	FrameCapacity int

	IdleTimeout time.Duration
	lastActive  time.Time

	state    State
	sequencer *Sequencer

	Counters Counters
}

// NewSession constructs an Active session with the given sequencer
// parameters; an idleTimeout below MinIdleTimeout (including zero) is
// replaced by DefaultIdleTimeout.
func NewSession(id SessionID, ackMode AckMode, frameTimeout time.Duration, frameCapacity int, idleTimeout time.Duration) *Session {
	if idleTimeout < MinIdleTimeout {
		idleTimeout = DefaultIdleTimeout
	}
	return &Session{
		ID:            id,
		AckMode:       ackMode,
		FrameTimeout:  frameTimeout,
		FrameCapacity: frameCapacity,
		IdleTimeout:   idleTimeout,
		lastActive:    time.Now(),
		state:         StateActive,
		sequencer: NewSequencer(SequencerConfig{
			Timeout:  frameTimeout,
			Capacity: frameCapacity,
		}),
	}
}

// State reports the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// touch records activity, resetting the idle timer.
func (s *Session) touch() { s.lastActive = time.Now() }

// IdleFor reports how long the session has gone without activity.
func (s *Session) IdleFor(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActive)
}

// CheckIdle transitions Active -> Closing once IdleFor(now) >= IdleTimeout,
// per spec.md §4.6. Returns true the instant the transition happens (the
// caller should then emit a close to the peer); idempotent thereafter.
func (s *Session) CheckIdle(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return false
	}
	if now.Sub(s.lastActive) < s.IdleTimeout {
		return false
	}
	s.state = StateClosing
	return true
}

// Close transitions to Closed, idempotently, and releases the sequencer.
func (s *Session) Close() {
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	s.sequencer.Close()
}

// IncomingSegment implements spec.md §4.6's incoming_segment: updates the
// segment counter and feeds the frame to the sequencer.
func (s *Session) IncomingSegment(f *Frame) error {
	s.mu.Lock()
	s.Counters.SegmentsIn++
	s.Counters.BytesIn += uint64(len(f.Payload))
	s.touch()
	s.mu.Unlock()
	return s.sequencer.Push(f)
}

// NextFrame pulls the next ordered frame (or discard notice) from the
// sequencer, bumping FramesEmitted/FramesDiscarded as appropriate.
func (s *Session) NextFrame(ctx context.Context) (*Frame, error) {
	f, err := s.sequencer.Next(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if _, ok := err.(*FrameDiscardedError); ok {
			s.Counters.FramesDiscarded++
		}
		return nil, err
	}
	s.Counters.FramesEmitted++
	if f.IsLastSegment() {
		s.Counters.FramesCompleted++
	}
	return f, nil
}

// IncomingRetransmissionRequest implements spec.md §4.6's
// incoming_retransmission_request: resend is left to the caller (it owns
// the per-segment send cache); this only does the bookkeeping the spec
// requires ("for each, if still cached at the sender, resend; else
// ignore" — the cache lookup itself lives with the transport layer that
// owns outbound segment buffers).
func (s *Session) IncomingRetransmissionRequest(count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Counters.RetransmissionRequests += uint64(count)
	s.touch()
}

// IncomingAcknowledgedFrames implements spec.md §4.6's
// incoming_acknowledged_frames bookkeeping.
func (s *Session) IncomingAcknowledgedFrames(count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Counters.FramesAcknowledged += uint64(count)
	s.touch()
}

// ShouldAck reports whether, under the session's AckMode, a segment
// completing frame (isLastSegment) should trigger an acknowledgement.
func (s *Session) ShouldAck(isLastSegment bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.AckMode {
	case AckNone:
		return false
	case AckPartial:
		return isLastSegment
	case AckFull:
		return true
	case AckBoth:
		return true
	default:
		return false
	}
}
