// Package sessionctl is the new-in-expansion control surface for opening,
// closing and listing sessions (internal/session), serialized through a
// single command-dispatch goroutine.
//
// Grounded on the teacher's grpcCommandQueueHandler in
// backend/stakepoold/server.go: one goroutine reads command structs off a
// channel, switches on a command kind, and replies on a response channel
// embedded in the command itself — here generalized from the teacher's
// fixed GRPCCommand enum (GetAddedLowFeeTickets, SetUserVotingPrefs, ...)
// to three session-lifecycle commands, each its own struct type carrying
// its own typed response channel instead of a shared "one enum, many
// optional response channel fields" struct.
package sessionctl

import (
	"context"
	"sync"
	"time"

	"github.com/privmix/relay/internal/relayerr"
	"github.com/privmix/relay/internal/session"
)

// Info is the subset of session state ListSessions reports, avoiding a
// caller reaching into session.Session's internals across a package
// boundary.
type Info struct {
	ID         session.SessionID
	State      session.State
	IdleFor    time.Duration
	Counters   session.Counters
}

type openCmd struct {
	id        session.SessionID
	ackMode   session.AckMode
	frameMTU  int
	frameTO   time.Duration
	frameCap  int
	idleTO    time.Duration
	resp      chan openResult
}

type openResult struct {
	s   *session.Session
	err error
}

type closeCmd struct {
	id   session.SessionID
	resp chan error
}

type listCmd struct {
	resp chan []Info
}

// Controller serializes session lifecycle operations through a single
// dispatch goroutine, the way the teacher's grpcCommandQueueHandler
// serializes reads/writes of appContext's ticket maps without a mutex
// around each field.
type Controller struct {
	commands chan interface{}
	quit     chan struct{}
	wg       sync.WaitGroup

	sessions map[session.SessionID]*session.Session
}

// NewController returns a Controller with no sessions open. Run must be
// started in its own goroutine before Open/Close/List are called.
func NewController() *Controller {
	return &Controller{
		commands: make(chan interface{}),
		quit:     make(chan struct{}),
		sessions: make(map[session.SessionID]*session.Session),
	}
}

// Run is the command-dispatch loop, mirroring
// appContext.grpcCommandQueueHandler's `select { case cmd := <-ch: ...
// case <-quit: return }` shape. Call it in its own goroutine; Stop ends
// it.
func (c *Controller) Run() {
	for {
		select {
		case cmd := <-c.commands:
			c.dispatch(cmd)
		case <-c.quit:
			return
		}
	}
}

// Stop ends the dispatch loop. Open/Close/List calls issued after Stop, or
// already blocked waiting on commands<- when it runs, block until their
// context is done; callers are expected to stop issuing commands before
// calling Stop,
// the same contract the teacher's ctx.quit close has with its queue
// senders.
func (c *Controller) Stop() { close(c.quit) }

func (c *Controller) dispatch(cmd interface{}) {
	switch v := cmd.(type) {
	case openCmd:
		s := session.NewSession(v.id, v.ackMode, v.frameTO, v.frameCap, v.idleTO)
		s.FrameMTU = v.frameMTU
		c.sessions[v.id] = s
		v.resp <- openResult{s: s}
	case closeCmd:
		s, ok := c.sessions[v.id]
		if !ok {
			v.resp <- relayerr.New(relayerr.KindProtocolViolation, "sessionctl.close",
				errUnknownSession(v.id))
			return
		}
		s.Close()
		delete(c.sessions, v.id)
		v.resp <- nil
	case listCmd:
		out := make([]Info, 0, len(c.sessions))
		now := time.Now()
		for id, s := range c.sessions {
			out = append(out, Info{
				ID:       id,
				State:    s.State(),
				IdleFor:  s.IdleFor(now),
				Counters: s.Counters,
			})
		}
		v.resp <- out
	}
}

// OpenSession creates and registers a new session, returning the handle
// callers use with internal/session's IncomingSegment/NextFrame.
func (c *Controller) OpenSession(ctx context.Context, id session.SessionID, ackMode session.AckMode, frameMTU int, frameTimeout time.Duration, frameCapacity int, idleTimeout time.Duration) (*session.Session, error) {
	resp := make(chan openResult, 1)
	cmd := openCmd{id: id, ackMode: ackMode, frameMTU: frameMTU, frameTO: frameTimeout, frameCap: frameCapacity, idleTO: idleTimeout, resp: resp}

	select {
	case c.commands <- cmd:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-resp:
		return r.s, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CloseSession closes and deregisters a session by id.
func (c *Controller) CloseSession(ctx context.Context, id session.SessionID) error {
	resp := make(chan error, 1)
	cmd := closeCmd{id: id, resp: resp}

	select {
	case c.commands <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ListSessions returns a snapshot of every currently-open session.
func (c *Controller) ListSessions(ctx context.Context) ([]Info, error) {
	resp := make(chan []Info, 1)
	cmd := listCmd{resp: resp}

	select {
	case c.commands <- cmd:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case out := <-resp:
		return out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type errUnknownSession session.SessionID

func (e errUnknownSession) Error() string { return "sessionctl: no session open for that id" }
