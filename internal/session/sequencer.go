package session

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/privmix/relay/internal/relayerr"
)

// SequencerConfig mirrors spec.md §4.4's {timeout, flush_at, capacity}.
// FlushAt is accepted for parity with the teacher protocol's tunables but
// this implementation wakes eagerly on every push, so it has no effect
// on behavior; it is kept so callers migrating config files need no
// translation layer.
type SequencerConfig struct {
	Timeout  time.Duration
	FlushAt  int
	Capacity int
}

// DefaultSequencerConfig matches the Rust reference implementation's
// Default impl: 5s timeout, no flush threshold, 1024-entry buffer.
func DefaultSequencerConfig() SequencerConfig {
	return SequencerConfig{Timeout: 5 * time.Second, FlushAt: 0, Capacity: 1024}
}

// frameIDHeap is a min-heap over FrameID, backing the Sequencer's reorder
// buffer (spec.md §4.4: "buffer: min-heap<frame_id> of capacity C").
type frameIDHeap struct {
	ids   []FrameID
	items map[FrameID]*Frame
}

func (h *frameIDHeap) Len() int            { return len(h.ids) }
func (h *frameIDHeap) Less(i, j int) bool  { return h.ids[i] < h.ids[j] }
func (h *frameIDHeap) Swap(i, j int)       { h.ids[i], h.ids[j] = h.ids[j], h.ids[i] }
func (h *frameIDHeap) Push(x interface{})  { h.ids = append(h.ids, x.(FrameID)) }
func (h *frameIDHeap) Pop() interface{} {
	old := h.ids
	n := len(old)
	id := old[n-1]
	h.ids = old[:n-1]
	return id
}

// Sequencer reorders an unordered, possibly lossy, possibly duplicated
// stream of frames into an ordered, gap-explicit one. The duplex Sink/
// Stream shape of the reference implementation is collapsed into two
// plain methods guarded by one mutex, with a buffered wake channel
// standing in for the two wakers — the state machine below is the same
// one described in spec.md §4.4/§9, the concurrency primitive differs.
type Sequencer struct {
	mu   sync.Mutex
	heap *frameIDHeap

	nextID      FrameID
	lastEmitted time.Time
	closed      bool
	cfg         SequencerConfig

	wake chan struct{}
}

// NewSequencer returns a Sequencer with next_id starting at 1.
func NewSequencer(cfg SequencerConfig) *Sequencer {
	return &Sequencer{
		heap:        &frameIDHeap{items: make(map[FrameID]*Frame)},
		nextID:      1,
		lastEmitted: time.Now(),
		cfg:         cfg,
		wake:        make(chan struct{}, 1),
	}
}

// FrameDiscardedError reports a frame_id that was never delivered: either
// the sink never produced it before timeout, or the sink closed with a
// gap still open.
type FrameDiscardedError struct{ ID FrameID }

func (e *FrameDiscardedError) Error() string { return fmt.Sprintf("frame %d discarded", e.ID) }

var errSequencerDone = relayerr.New(relayerr.KindProtocolViolation, "session.sequencer", fmt.Errorf("sequencer: stream exhausted"))

func (s *Sequencer) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Push is the sink side (spec.md §4.4 ingress contract): accepts a frame
// iff frame_id >= next_id and the buffer has room, drops late arrivals
// silently, and accepts (no-ops) duplicates of an already-buffered id.
// Returns relayerr.KindTransient (backpressure) when the buffer is full,
// and relayerr.ErrReassemblerClosed if the sequencer was already closed.
func (s *Sequencer) Push(f *Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return relayerr.New(relayerr.KindProtocolViolation, "session.sequencer_push", relayerr.ErrReassemblerClosed)
	}
	if f.ID < s.nextID {
		return nil // late arrival, dropped silently
	}
	if _, dup := s.heap.items[f.ID]; dup {
		return nil // duplicate frame_id, no effect
	}
	if s.heap.Len() >= s.cfg.Capacity {
		return relayerr.New(relayerr.KindTransient, "session.sequencer_push", fmt.Errorf("sequencer buffer full at capacity %d", s.cfg.Capacity))
	}

	s.heap.items[f.ID] = f
	heap.Push(s.heap, f.ID)
	s.notify()
	return nil
}

// Close marks the sequencer closed: subsequent Push calls are rejected,
// and Next drains any buffered frames, filling gaps with
// FrameDiscardedError before returning io.EOF-equivalent exhaustion.
func (s *Sequencer) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.notify()
}

// Next is the stream side (spec.md §4.4 egress contract): returns the
// next in-order frame, a FrameDiscardedError for a skipped gap, or
// errSequencerDone once closed and drained. Blocks until one of those is
// available or ctx is cancelled.
func (s *Sequencer) Next(ctx context.Context) (*Frame, error) {
	for {
		s.mu.Lock()
		if s.heap.Len() == 0 {
			if s.closed {
				s.mu.Unlock()
				return nil, errSequencerDone
			}
			s.mu.Unlock()
		} else {
			topID := s.heap.ids[0]
			isNextReady := topID == s.nextID
			elapsed := time.Since(s.lastEmitted)

			if isNextReady || elapsed >= s.cfg.Timeout || s.closed {
				current := s.nextID
				s.lastEmitted = time.Now()
				s.nextID++

				if isNextReady {
					heap.Pop(s.heap)
					f := s.heap.items[topID]
					delete(s.heap.items, topID)
					s.mu.Unlock()
					s.notify()
					return f, nil
				}
				s.mu.Unlock()
				return nil, &FrameDiscardedError{ID: current}
			}
			s.mu.Unlock()
		}

		if err := s.wait(ctx); err != nil {
			return nil, err
		}
	}
}

// wait blocks until the next push/close signal, the configured timeout
// elapses (so a pending gap can be re-evaluated), or ctx is cancelled.
func (s *Sequencer) wait(ctx context.Context) error {
	timer := time.NewTimer(s.cfg.Timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.wake:
		return nil
	case <-timer.C:
		return nil
	}
}
