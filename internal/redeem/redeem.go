package redeem

import (
	"context"
	"sync"
	"time"

	"github.com/privmix/relay/internal/relayerr"
	"github.com/privmix/relay/internal/ticket"
	"github.com/privmix/relay/internal/ticketdb"
)

// ChainRedeemer is the slice of the chain RPC facade (component I) the
// redemption strategy needs: submit a redeem transaction and wait for its
// resolution. Satisfied by internal/chainrpc.Client.
type ChainRedeemer interface {
	SubmitRedeemTicket(ctx context.Context, at *ticket.AcknowledgedTicket) (txHash [32]byte, err error)
	WaitRedeemOutcome(ctx context.Context, txHash [32]byte) (RedeemOutcome, error)
}

// RedeemOutcome classifies how an on-chain redeem transaction resolved,
// per spec.md §4.3's redemption outcomes, with rejection split into a
// permanent and a transient case.
type RedeemOutcome int

const (
	// OutcomeConfirmed: on-chain success event for matching
	// (channel_id, epoch, index).
	OutcomeConfirmed RedeemOutcome = iota
	// OutcomeRejectedPermanent: transaction rejected by contract for a
	// reason that can never succeed on retry (already redeemed).
	OutcomeRejectedPermanent
	// OutcomeRejectedTransient: transaction rejected for a reason that
	// may succeed later (wrong epoch — channel may reopen).
	OutcomeRejectedTransient
	// OutcomeTimedOut: local timeout without a confirming event.
	OutcomeTimedOut
)

// Strategy drives Untouched/aggregated tickets through redemption: pick one,
// mark_redeeming, submit, and react to the outcome.
type Strategy struct {
	store *ticketdb.Store
	chain ChainRedeemer

	// RetryBackoff is applied between OutcomeTimedOut retries, doubling
	// each attempt, mirroring spec.md §4.3's "retry with exponential
	// backoff."
	RetryBackoff time.Duration
	MaxRetries   int
}

// NewStrategy returns a Strategy driving store through chain.
func NewStrategy(store *ticketdb.Store, chain ChainRedeemer) *Strategy {
	return &Strategy{store: store, chain: chain, RetryBackoff: time.Second, MaxRetries: 5}
}

// RedeemOne picks the single ticket matching sel (which must be unique —
// spec.md §3: "uniqueness is required by operations that must target a
// specific ticket... e.g. state transition during redemption"), marks it
// BeingRedeemed, submits it, and applies the outcome. A cancelled context
// leaves no ticket stuck in BeingRedeemed: on ctx.Err() the mark is
// reverted before returning (spec.md §5's cancellation invariant).
func (s *Strategy) RedeemOne(ctx context.Context, sel *ticket.TicketSelector) error {
	marked, err := s.store.UpdateTicketStatesAndFetch(sel, ticket.StatusBeingRedeemed)
	if err != nil {
		return err
	}
	if len(marked) != 1 {
		return relayerr.New(relayerr.KindInputInvalid, "redeem.redeem_one", errNotUnique(len(marked)))
	}
	at := marked[0]

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			_, _ = s.store.UpdateTicketStatesAndFetch(sel, ticket.StatusUntouched)
			return ctx.Err()
		default:
		}

		txHash, err := s.chain.SubmitRedeemTicket(ctx, at)
		if err != nil {
			if _, revertErr := s.store.UpdateTicketStatesAndFetch(sel, ticket.StatusUntouched); revertErr != nil {
				return revertErr
			}
			return relayerr.New(relayerr.KindTransient, "redeem.redeem_one", err)
		}

		outcome, err := s.chain.WaitRedeemOutcome(ctx, txHash)
		if err != nil {
			if _, revertErr := s.store.UpdateTicketStatesAndFetch(sel, ticket.StatusUntouched); revertErr != nil {
				return revertErr
			}
			return relayerr.New(relayerr.KindTransient, "redeem.redeem_one", err)
		}

		switch outcome {
		case OutcomeConfirmed:
			_, err := s.store.MarkTicketsAs(sel, ticket.MarkerRedeemed)
			return err
		case OutcomeRejectedPermanent:
			_, err := s.store.MarkTicketsAs(sel, ticket.MarkerNeglected)
			return err
		case OutcomeRejectedTransient:
			_, err := s.store.UpdateTicketStatesAndFetch(sel, ticket.StatusUntouched)
			return err
		case OutcomeTimedOut:
			attempt++
			if attempt > s.MaxRetries {
				_, err := s.store.UpdateTicketStatesAndFetch(sel, ticket.StatusUntouched)
				return err
			}
			select {
			case <-ctx.Done():
				_, _ = s.store.UpdateTicketStatesAndFetch(sel, ticket.StatusUntouched)
				return ctx.Err()
			case <-time.After(s.RetryBackoff * time.Duration(1<<uint(attempt-1))):
			}
			continue
		}
		return nil
	}
}

// RedeemEligible sweeps every Untouched ticket on channel and redeems each
// concurrently, the teacher's wg.Add/go/wg.Wait fan-out applied per-ticket
// instead of per-vote.
func (s *Strategy) RedeemEligible(ctx context.Context, channel ticket.ChannelID, epoch uint32) []error {
	sel := ticket.NewTicketSelector(channel).WithStatus(ticket.StatusUntouched).WithEpoch(epoch)
	tickets, err := s.store.StreamTickets(sel)
	if err != nil {
		return []error{err}
	}

	errs := make([]error, len(tickets))
	var wg sync.WaitGroup
	for i, at := range tickets {
		wg.Add(1)
		go func(i int, idx uint64) {
			defer wg.Done()
			single := ticket.NewTicketSelector(channel).
				WithIndex(ticket.SingleIndex(idx)).
				WithStatus(ticket.StatusUntouched).
				WithEpoch(epoch)
			errs[i] = s.RedeemOne(ctx, single)
		}(i, at.Ticket.Index)
	}
	wg.Wait()
	return errs
}

type errNotUnique int

func (e errNotUnique) Error() string {
	if e == 0 {
		return "redeem: selector matched no ticket"
	}
	return "redeem: selector is not unique"
}
