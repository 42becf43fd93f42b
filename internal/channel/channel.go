// Package channel implements the ChannelEntry state model (spec.md §3) and
// the on-chain event indexer that keeps it up to date (spec.md §6 "On-chain
// event log (consumed)").
//
// Grounded on the teacher's stakepoold live-ticket-pool pattern
// (backend/stakepoold/backend/stakepooldbackend.go updates in-memory state
// from periodic RPC polls) generalized to event-driven updates, and on
// go-ethereum's core/types.Log as the wire shape of consumed events.
package channel

import (
	"errors"
	"math/big"
	"sync"

	relayerr "github.com/privmix/relay/internal/relayerr"
	"github.com/privmix/relay/internal/ticket"
)

// Status is a channel's on-chain lifecycle state.
type Status int

const (
	StatusClosed Status = iota
	StatusOpen
	StatusPendingToClose
)

func (s Status) String() string {
	switch s {
	case StatusClosed:
		return "Closed"
	case StatusOpen:
		return "Open"
	case StatusPendingToClose:
		return "PendingToClose"
	default:
		return "Unknown"
	}
}

// Entry is the indexed state of one payment channel, mirroring spec.md §3's
// ChannelEntry: (id, source, destination, balance, ticket_index, status,
// channel_epoch, closure_time?).
type Entry struct {
	ID           ticket.ChannelID
	Source       [20]byte
	Destination  [20]byte
	Balance      *big.Int
	TicketIndex  uint64
	Status       Status
	Epoch        uint32
	ClosureTime  *uint32 // set only while PendingToClose
}

// Store indexes ChannelEntry rows keyed by ChannelID, updated by on-chain
// events via Indexer. A single mutex guards all entries: per spec.md §5 the
// indexer serializes event application per-channel, and the store itself is
// small enough that a single lock is sufficient (no per-channel lock
// striping, unlike the ticket DB's per-channel write serialization).
type Store struct {
	mu      sync.RWMutex
	entries map[ticket.ChannelID]*Entry
}

// NewStore returns an empty channel store.
func NewStore() *Store {
	return &Store{entries: make(map[ticket.ChannelID]*Entry)}
}

// Get returns a copy of the entry for id, or nil if unknown.
func (s *Store) Get(id ticket.ChannelID) *Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return nil
	}
	cp := *e
	if e.Balance != nil {
		cp.Balance = new(big.Int).Set(e.Balance)
	}
	if e.ClosureTime != nil {
		ct := *e.ClosureTime
		cp.ClosureTime = &ct
	}
	return &cp
}

// All returns a snapshot of every indexed channel entry.
func (s *Store) All() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		cp := *e
		out = append(out, &cp)
	}
	return out
}

func (s *Store) getOrCreate(id ticket.ChannelID) *Entry {
	e, ok := s.entries[id]
	if !ok {
		e = &Entry{ID: id, Balance: new(big.Int), Status: StatusClosed}
		s.entries[id] = e
	}
	return e
}

// destroy removes an entry once it is Closed and the caller has confirmed
// every in-DB ticket for the previous epoch has been marked (spec.md §3:
// "destroyed when channel is both Closed and all in-DB tickets for the
// previous epoch have been marked").
func (s *Store) destroy(id ticket.ChannelID) {
	delete(s.entries, id)
}

// Destroy removes a fully-settled channel entry from the store.
func (s *Store) Destroy(id ticket.ChannelID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroy(id)
}

// ErrUnknownChannel is returned when an event references a channel the
// store has no entry for and the event requires one (every event besides
// ChannelOpened).
var ErrUnknownChannel = relayerr.New(relayerr.KindProtocolViolation, "channel.apply",
	errors.New("channel: reference to unindexed channel"))
