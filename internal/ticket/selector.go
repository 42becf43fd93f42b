package ticket

import "math/big"

// IndexPredicate narrows a TicketSelector to a subset of a channel's index
// space, mirroring spec.md's None/Single/Multi/Range selector shapes.
type IndexPredicate struct {
	kind indexKind
	idx  uint64   // Single
	idxs []uint64 // Multi
	lo   uint64   // Range
	hi   uint64
}

type indexKind int

const (
	indexNone indexKind = iota
	indexSingle
	indexMulti
	indexRange
)

// NoIndex matches any index.
func NoIndex() IndexPredicate { return IndexPredicate{kind: indexNone} }

// SingleIndex matches only idx.
func SingleIndex(idx uint64) IndexPredicate {
	return IndexPredicate{kind: indexSingle, idx: idx}
}

// MultiIndex matches any of the given indices.
func MultiIndex(idxs []uint64) IndexPredicate {
	return IndexPredicate{kind: indexMulti, idxs: idxs}
}

// RangeIndex matches indices in [lo, hi].
func RangeIndex(lo, hi uint64) IndexPredicate {
	return IndexPredicate{kind: indexRange, lo: lo, hi: hi}
}

func (p IndexPredicate) matches(idx uint64) bool {
	switch p.kind {
	case indexNone:
		return true
	case indexSingle:
		return idx == p.idx
	case indexMulti:
		for _, v := range p.idxs {
			if v == idx {
				return true
			}
		}
		return false
	case indexRange:
		return idx >= p.lo && idx <= p.hi
	default:
		return false
	}
}

// TicketSelector narrows a ticket DB query (component D: stream_tickets,
// mark_tickets_as, update_ticket_states) to tickets matching a channel,
// index predicate, amount/win-prob bounds, and status.
type TicketSelector struct {
	Channel        ChannelID
	Epoch          *uint32
	Index          IndexPredicate
	MinAmount      *big.Int
	MinWinProb     *[WinProbLen]byte
	OnlyStatus     *Status
	OnlyAggregated bool
}

// NewTicketSelector builds a selector matching every ticket on a channel.
func NewTicketSelector(channel ChannelID) *TicketSelector {
	return &TicketSelector{Channel: channel, Index: NoIndex()}
}

// WithEpoch narrows the selector to a single channel_epoch.
func (s *TicketSelector) WithEpoch(epoch uint32) *TicketSelector {
	s.Epoch = &epoch
	return s
}

// WithIndex narrows the selector to an index predicate.
func (s *TicketSelector) WithIndex(p IndexPredicate) *TicketSelector {
	s.Index = p
	return s
}

// WithMinAmount narrows the selector to tickets worth at least amount.
func (s *TicketSelector) WithMinAmount(amount *big.Int) *TicketSelector {
	s.MinAmount = amount
	return s
}

// WithStatus narrows the selector to tickets in a single status.
func (s *TicketSelector) WithStatus(status Status) *TicketSelector {
	s.OnlyStatus = &status
	return s
}

// WithAggregatedOnly narrows the selector to tickets spanning more than one
// source index (IndexOffset > 1).
func (s *TicketSelector) WithAggregatedOnly() *TicketSelector {
	s.OnlyAggregated = true
	return s
}

// Matches reports whether an AcknowledgedTicket satisfies the selector.
func (s *TicketSelector) Matches(at *AcknowledgedTicket) bool {
	if at.Ticket.ChannelID != s.Channel {
		return false
	}
	if s.Epoch != nil && at.Ticket.ChannelEpoch != *s.Epoch {
		return false
	}
	if !s.Index.matches(at.Ticket.Index) {
		return false
	}
	if s.MinAmount != nil && at.Ticket.AmountBig().Cmp(s.MinAmount) < 0 {
		return false
	}
	if s.MinWinProb != nil && winProbToUint64(at.Ticket.EncodedWinProb) < winProbToUint64(*s.MinWinProb) {
		return false
	}
	if s.OnlyStatus != nil && at.Status != *s.OnlyStatus {
		return false
	}
	if s.OnlyAggregated && !at.Ticket.IsAggregated() {
		return false
	}
	return true
}
