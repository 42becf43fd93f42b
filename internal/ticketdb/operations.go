package ticketdb

import (
	"database/sql"
	"encoding/hex"
	"math/big"

	"github.com/privmix/relay/internal/relayerr"
	"github.com/privmix/relay/internal/ticket"
)

// InsertTicket implements spec.md §3's "Ticket in DB" lifecycle entry
// point: "inserted by packet pipeline when winning."
func (s *Store) InsertTicket(at *ticket.AcknowledgedTicket) error {
	lock := s.channelLock(at.Ticket.ChannelID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.dbMap.Insert(toRow(at)); err != nil {
		return relayerr.New(relayerr.KindTransient, "ticketdb.insert_ticket", err)
	}
	return nil
}

// StreamTickets returns every ticket matching sel. Named Stream to mirror
// the async-iterator shape of the distilled contract, even though this
// implementation materializes the full result set — the ticket DB's
// per-channel scale makes a cursor-based stream unnecessary.
func (s *Store) StreamTickets(sel *ticket.TicketSelector) ([]*ticket.AcknowledgedTicket, error) {
	var rows []*ticketRow
	_, err := s.dbMap.Select(&rows, "SELECT * FROM tickets WHERE ChannelID = ?", hexEnc(sel.Channel[:]))
	if err != nil {
		return nil, relayerr.New(relayerr.KindTransient, "ticketdb.stream_tickets", err)
	}

	out := make([]*ticket.AcknowledgedTicket, 0, len(rows))
	for _, r := range rows {
		at, err := fromRow(r)
		if err != nil {
			return nil, relayerr.New(relayerr.KindFatal, "ticketdb.stream_tickets", err)
		}
		if sel.Matches(at) {
			out = append(out, at)
		}
	}
	return out, nil
}

// MarkTicketsAs implements the exit side of the "Ticket in DB" lifecycle:
// tickets matching sel are deleted from the active table and the matching
// marker's statistics counter is bumped. sel must resolve to at least one
// row; callers that require exactly one (e.g. redemption) should check
// uniqueness themselves via len(result) before committing side effects.
func (s *Store) MarkTicketsAs(sel *ticket.TicketSelector, marker ticket.Marker) ([]*ticket.AcknowledgedTicket, error) {
	lock := s.channelLock(sel.Channel)
	lock.Lock()
	defer lock.Unlock()

	matched, err := s.streamLocked(sel)
	if err != nil {
		return nil, err
	}

	total := new(big.Int)
	for _, at := range matched {
		if _, err := s.dbMap.Delete(toRow(at)); err != nil {
			return nil, relayerr.New(relayerr.KindTransient, "ticketdb.mark_tickets_as", err)
		}
		total.Add(total, at.Ticket.AmountBig())
	}

	if err := s.bumpStatsLocked(sel.Channel, marker, len(matched), total); err != nil {
		return nil, err
	}
	return matched, nil
}

func (s *Store) streamLocked(sel *ticket.TicketSelector) ([]*ticket.AcknowledgedTicket, error) {
	var rows []*ticketRow
	_, err := s.dbMap.Select(&rows, "SELECT * FROM tickets WHERE ChannelID = ?", hexEnc(sel.Channel[:]))
	if err != nil {
		return nil, relayerr.New(relayerr.KindTransient, "ticketdb.stream_tickets", err)
	}
	out := make([]*ticket.AcknowledgedTicket, 0, len(rows))
	for _, r := range rows {
		at, err := fromRow(r)
		if err != nil {
			return nil, relayerr.New(relayerr.KindFatal, "ticketdb.stream_tickets", err)
		}
		if sel.Matches(at) {
			out = append(out, at)
		}
	}
	return out, nil
}

// DeleteTickets removes every ticket matching sel without touching
// statistics, for callers replacing rows outright rather than finalizing
// them (e.g. the aggregator swapping source tickets for their merged
// replacement — that is neither a Redeemed, Rejected, nor Neglected
// outcome, so MarkTicketsAs's stats bump does not apply).
func (s *Store) DeleteTickets(sel *ticket.TicketSelector) ([]*ticket.AcknowledgedTicket, error) {
	lock := s.channelLock(sel.Channel)
	lock.Lock()
	defer lock.Unlock()

	matched, err := s.streamLocked(sel)
	if err != nil {
		return nil, err
	}
	for _, at := range matched {
		if _, err := s.dbMap.Delete(toRow(at)); err != nil {
			return nil, relayerr.New(relayerr.KindTransient, "ticketdb.delete_tickets", err)
		}
	}
	return matched, nil
}

// UpdateTicketStates updates the Status of every ticket matching sel to
// newStatus in place (as opposed to MarkTicketsAs, which removes rows
// entirely — this transitions within the DB, e.g. Untouched ->
// BeingAggregated).
func (s *Store) UpdateTicketStates(sel *ticket.TicketSelector, newStatus ticket.Status) (int, error) {
	matched, err := s.UpdateTicketStatesAndFetch(sel, newStatus)
	if err != nil {
		return 0, err
	}
	return len(matched), nil
}

// UpdateTicketStatesAndFetch is UpdateTicketStates but also returns the
// updated rows, for callers (e.g. the aggregation strategy) that need the
// tickets they just transitioned without a second round-trip.
func (s *Store) UpdateTicketStatesAndFetch(sel *ticket.TicketSelector, newStatus ticket.Status) ([]*ticket.AcknowledgedTicket, error) {
	lock := s.channelLock(sel.Channel)
	lock.Lock()
	defer lock.Unlock()

	matched, err := s.streamLocked(sel)
	if err != nil {
		return nil, err
	}

	for _, at := range matched {
		at.Status = newStatus
		if _, err := s.dbMap.Update(toRow(at)); err != nil {
			return nil, relayerr.New(relayerr.KindTransient, "ticketdb.update_ticket_states", err)
		}
	}
	return matched, nil
}

// MarkUnsavedTicketRejected bumps the rejected statistic for a ticket that
// failed the winning test and was therefore never persisted (spec.md
// §4.1's "Relayer losing" outcome: "increment rejected stat only if the
// incoming ticket was otherwise valid; do not persist").
func (s *Store) MarkUnsavedTicketRejected(channel ticket.ChannelID) error {
	lock := s.channelLock(channel)
	lock.Lock()
	defer lock.Unlock()
	return s.bumpStatsLocked(channel, ticket.MarkerRejected, 1, new(big.Int))
}

func (s *Store) bumpStatsLocked(channel ticket.ChannelID, marker ticket.Marker, count int, amount *big.Int) error {
	var row statsRow
	err := s.dbMap.SelectOne(&row, "SELECT * FROM ticket_statistics WHERE ChannelID = ?", hexEnc(channel[:]))
	isNew := err == sql.ErrNoRows
	if err != nil && !isNew {
		return relayerr.New(relayerr.KindTransient, "ticketdb.bump_stats", err)
	}
	if isNew {
		row = statsRow{ChannelID: hexEnc(channel[:]), RedeemedAmount: hexEnc(make([]byte, ticket.AmountLen))}
	}

	switch marker {
	case ticket.MarkerRedeemed:
		row.WonCount += int64(count)
		redeemed := new(big.Int)
		redeemed.SetBytes(mustHex(row.RedeemedAmount))
		redeemed.Add(redeemed, amount)
		row.RedeemedAmount = hexEnc(redeemed.Bytes())
	case ticket.MarkerRejected:
		row.RejectedCount += int64(count)
	case ticket.MarkerNeglected:
		row.NeglectedCount += int64(count)
	}

	if isNew {
		return dbErr("ticketdb.bump_stats", s.dbMap.Insert(&row))
	}
	_, err = s.dbMap.Update(&row)
	return dbErr("ticketdb.bump_stats", err)
}

// GetTicketStatistics returns the won/rejected/neglected counters and total
// redeemed amount for a channel.
func (s *Store) GetTicketStatistics(channel ticket.ChannelID) (won, rejected, neglected int64, redeemed *big.Int, err error) {
	var row statsRow
	selErr := s.dbMap.SelectOne(&row, "SELECT * FROM ticket_statistics WHERE ChannelID = ?", hexEnc(channel[:]))
	if selErr == sql.ErrNoRows {
		return 0, 0, 0, new(big.Int), nil
	}
	if selErr != nil {
		return 0, 0, 0, nil, relayerr.New(relayerr.KindTransient, "ticketdb.get_ticket_statistics", selErr)
	}
	return row.WonCount, row.RejectedCount, row.NeglectedCount, new(big.Int).SetBytes(mustHex(row.RedeemedAmount)), nil
}

// ResetTicketStatistics zeroes a channel's accumulated statistics, e.g.
// after a channel fully closes and is destroyed.
func (s *Store) ResetTicketStatistics(channel ticket.ChannelID) error {
	_, err := s.dbMap.Exec("DELETE FROM ticket_statistics WHERE ChannelID = ?", hexEnc(channel[:]))
	return dbErr("ticketdb.reset_ticket_statistics", err)
}

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}

func dbErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return relayerr.New(relayerr.KindTransient, op, err)
}
