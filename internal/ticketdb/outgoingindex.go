package ticketdb

import (
	"database/sql"

	"github.com/privmix/relay/internal/relayerr"
	"github.com/privmix/relay/internal/ticket"
)

// GetOrCreateOutgoingIndex returns the next index to use for an outgoing
// ticket on (channel, epoch), creating the row at 0 if absent. Per spec.md
// §3: "OutgoingTicketIndex. Per (channel_id, epoch), a monotonically
// non-decreasing u64."
func (s *Store) GetOrCreateOutgoingIndex(channel ticket.ChannelID, epoch uint32) (uint64, error) {
	lock := s.channelLock(channel)
	lock.Lock()
	defer lock.Unlock()

	row, err := s.selectIndexLocked(channel, epoch)
	if err == sql.ErrNoRows {
		row = &outgoingIndexRow{ChannelID: hexEnc(channel[:]), ChannelEpoch: int64(epoch), NextIndex: 0}
		if insErr := s.dbMap.Insert(row); insErr != nil {
			return 0, relayerr.New(relayerr.KindTransient, "ticketdb.get_or_create_outgoing_index", insErr)
		}
		return 0, nil
	}
	if err != nil {
		return 0, relayerr.New(relayerr.KindTransient, "ticketdb.get_or_create_outgoing_index", err)
	}
	return uint64(row.NextIndex), nil
}

// UpdateOutgoingIndex compare-and-sets the next index for (channel, epoch)
// to newIndex, rejecting any value lower than the currently stored one as
// a MonotonicityViolation (spec.md §5: "single writer per channel via
// compare-and-set; reject non-monotone updates").
func (s *Store) UpdateOutgoingIndex(channel ticket.ChannelID, epoch uint32, newIndex uint64) error {
	lock := s.channelLock(channel)
	lock.Lock()
	defer lock.Unlock()

	row, err := s.selectIndexLocked(channel, epoch)
	if err == sql.ErrNoRows {
		row = &outgoingIndexRow{ChannelID: hexEnc(channel[:]), ChannelEpoch: int64(epoch), NextIndex: int64(newIndex)}
		return dbErr("ticketdb.update_outgoing_index", s.dbMap.Insert(row))
	}
	if err != nil {
		return relayerr.New(relayerr.KindTransient, "ticketdb.update_outgoing_index", err)
	}
	if newIndex < uint64(row.NextIndex) {
		return relayerr.New(relayerr.KindProtocolViolation, "ticketdb.update_outgoing_index", relayerr.ErrMonotonicityViolation)
	}
	row.NextIndex = int64(newIndex)
	_, err = s.dbMap.Update(row)
	return dbErr("ticketdb.update_outgoing_index", err)
}

// RemoveOutgoingIndex deletes the tracked index for (channel, epoch),
// e.g. once the channel is destroyed (see internal/channel.Store.Destroy).
func (s *Store) RemoveOutgoingIndex(channel ticket.ChannelID, epoch uint32) error {
	lock := s.channelLock(channel)
	lock.Lock()
	defer lock.Unlock()

	row, err := s.selectIndexLocked(channel, epoch)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return relayerr.New(relayerr.KindTransient, "ticketdb.remove_outgoing_index", err)
	}
	_, err = s.dbMap.Delete(row)
	return dbErr("ticketdb.remove_outgoing_index", err)
}

func (s *Store) selectIndexLocked(channel ticket.ChannelID, epoch uint32) (*outgoingIndexRow, error) {
	var row outgoingIndexRow
	err := s.dbMap.SelectOne(&row,
		"SELECT * FROM outgoing_indices WHERE ChannelID = ? AND ChannelEpoch = ?",
		hexEnc(channel[:]), int64(epoch))
	if err != nil {
		return nil, err
	}
	return &row, nil
}
