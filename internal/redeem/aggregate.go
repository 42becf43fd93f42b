// Package redeem implements ticket aggregation and redemption (components
// E and J): merging consecutive winning tickets into one, and driving them
// through on-chain redemption via the chain RPC facade.
//
// Grounded on the teacher's processWinningTickets/vote goroutine-per-item
// plus sync.WaitGroup fan-out pattern (backend/stakepoold/server.go),
// repurposed from "vote on every live ticket in a block" to "redeem every
// eligible ticket in a batch."
package redeem

import (
	"sort"
	"sync"

	relaycrypto "github.com/privmix/relay/internal/crypto"
	"github.com/privmix/relay/internal/relayerr"
	"github.com/privmix/relay/internal/ticket"
	"github.com/privmix/relay/internal/ticketdb"
)

// Aggregator merges consecutive Untouched winning tickets on a channel into
// a single aggregated ticket, per spec.md §4.3.
type Aggregator struct {
	store *ticketdb.Store
}

// NewAggregator returns an Aggregator writing through store.
func NewAggregator(store *ticketdb.Store) *Aggregator {
	return &Aggregator{store: store}
}

// Aggregate finds the longest consecutive run of Untouched tickets on
// channel (at the given epoch) and merges it into one ticket signed by
// signer. Before merging, every source ticket is atomically flipped to
// BeingAggregated; on any failure it is flipped back to Untouched; on
// success the sources are replaced by the merged ticket, also Untouched.
func (a *Aggregator) Aggregate(channel ticket.ChannelID, epoch uint32, signer *relaycrypto.PrivKey, domainSeparator [32]byte) (*ticket.AcknowledgedTicket, error) {
	sel := ticket.NewTicketSelector(channel).WithStatus(ticket.StatusUntouched).WithEpoch(epoch)
	sources, err := a.store.StreamTickets(sel)
	if err != nil {
		return nil, err
	}
	if len(sources) < 2 {
		return nil, nil // nothing worth aggregating
	}

	sort.Slice(sources, func(i, j int) bool { return sources[i].Ticket.Index < sources[j].Ticket.Index })
	run := longestConsecutiveRun(sources)
	if len(run) < 2 {
		return nil, nil
	}

	flipSel := indexSetSelector(channel, run)
	if _, err := a.store.UpdateTicketStatesAndFetch(flipSel, ticket.StatusBeingAggregated); err != nil {
		return nil, err
	}

	merged, mergeErr := mergeTickets(run, epoch, signer, domainSeparator)
	if mergeErr != nil {
		// on failure, flip the sources back to Untouched
		if _, revertErr := a.store.UpdateTicketStatesAndFetch(flipSel, ticket.StatusUntouched); revertErr != nil {
			return nil, relayerr.New(relayerr.KindFatal, "redeem.aggregate", revertErr)
		}
		return nil, mergeErr
	}

	if _, err := a.store.DeleteTickets(flipSel); err != nil {
		return nil, err
	}
	if err := a.store.InsertTicket(merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// longestConsecutiveRun returns the longest run of tickets (already sorted
// by index) whose indices form a contiguous sequence of width 1 each
// (index_offset == 1, the only kind eligible as an aggregation source).
func longestConsecutiveRun(sorted []*ticket.AcknowledgedTicket) []*ticket.AcknowledgedTicket {
	best, cur := []*ticket.AcknowledgedTicket{}, []*ticket.AcknowledgedTicket{}
	for i, at := range sorted {
		if at.Ticket.IndexOffset != 1 {
			if len(cur) > len(best) {
				best = cur
			}
			cur = nil
			continue
		}
		if i == 0 || sorted[i-1].Ticket.Index+1 != at.Ticket.Index || sorted[i-1].Ticket.IndexOffset != 1 {
			cur = []*ticket.AcknowledgedTicket{at}
		} else {
			cur = append(cur, at)
		}
		if len(cur) > len(best) {
			best = cur
		}
	}
	return best
}

func indexSetSelector(channel ticket.ChannelID, ats []*ticket.AcknowledgedTicket) *ticket.TicketSelector {
	idxs := make([]uint64, len(ats))
	for i, at := range ats {
		idxs[i] = at.Ticket.Index
	}
	return ticket.NewTicketSelector(channel).WithIndex(ticket.MultiIndex(idxs))
}

// mergeTickets implements spec.md §4.3's aggregation rule: index = a,
// index_offset = b - a, amount = Σamounts, challenge recomputed to attest
// to the merged response.
func mergeTickets(run []*ticket.AcknowledgedTicket, epoch uint32, signer *relaycrypto.PrivKey, domainSeparator [32]byte) (*ticket.AcknowledgedTicket, error) {
	first := run[0].Ticket
	last := run[len(run)-1].Ticket

	total := first.AmountBig()
	responses := make([][]byte, 0, len(run))
	for _, at := range run[1:] {
		total.Add(total, at.Ticket.AmountBig())
	}
	for _, at := range run {
		responses = append(responses, at.Response[:])
	}

	merged := &ticket.Ticket{
		ChannelID:      first.ChannelID,
		Index:          first.Index,
		IndexOffset:    uint32(last.Index-first.Index) + last.IndexOffset,
		ChannelEpoch:   epoch,
		EncodedWinProb: ticket.WinProbAlways,
	}
	merged.SetAmountBig(total)

	mergedResponse := relaycrypto.Keccak256(responses...)
	merged.Challenge = relaycrypto.ExpectedChallenge(mergedResponse)

	if err := merged.Sign(signer, domainSeparator); err != nil {
		return nil, relayerr.New(relayerr.KindCryptoFailure, "redeem.merge_tickets", err)
	}

	return &ticket.AcknowledgedTicket{
		Ticket:   *merged,
		Response: mergedResponse,
		Status:   ticket.StatusUntouched,
	}, nil
}

// AggregateMany runs Aggregate over every channel in parallel, waiting for
// all to finish — the teacher's wg.Add/go/wg.Wait fan-out in
// processWinningTickets, generalized from per-ticket voting to per-channel
// aggregation sweeps.
func (a *Aggregator) AggregateMany(channels []ticket.ChannelID, epoch uint32, signer *relaycrypto.PrivKey, domainSeparator [32]byte) []error {
	errs := make([]error, len(channels))
	var wg sync.WaitGroup
	for i, id := range channels {
		wg.Add(1)
		go func(i int, id ticket.ChannelID) {
			defer wg.Done()
			_, err := a.Aggregate(id, epoch, signer, domainSeparator)
			errs[i] = err
		}(i, id)
	}
	wg.Wait()
	return errs
}
