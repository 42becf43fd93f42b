// Package ticketdb implements the ticket DB (component D): persistence,
// statistics and the monotonic per-channel outgoing index, backed by gorp
// over database/sql.
//
// Grounded directly on the teacher's gorp usage (system/sqlstore.go,
// models/tickets.go): a *gorp.DbMap built with AddTableWithName, plain
// struct rows with no tag magic, SelectOne/Select/Insert/Update/Delete for
// every operation, and sqlmock-backed tests.
package ticketdb

import (
	"database/sql"
	"encoding/hex"
	"sync"

	"github.com/go-gorp/gorp"

	"github.com/privmix/relay/internal/relayerr"
	"github.com/privmix/relay/internal/ticket"
)

// ticketRow is the gorp-mapped persistence shape of an AcknowledgedTicket.
// Fields are flattened for SQL storage; Store.toRow/fromRow convert
// to/from the domain ticket.AcknowledgedTicket type.
type ticketRow struct {
	ChannelID      string // hex
	ChannelEpoch   int64
	TicketIndex    int64
	IndexOffset    int64
	Amount         string // hex, 12 bytes
	EncodedWinProb string // hex, 7 bytes
	Challenge      string // hex, 20 bytes
	Signature      string // hex, 64 bytes
	Response       string // hex, 32 bytes
	VRFV           string // hex, 65 bytes
	VRFS           string // hex, 32 bytes
	VRFH           string // hex, 32 bytes
	Signer         string // hex, 20 bytes
	Status         int64
}

// outgoingIndexRow is the gorp-mapped row tracking the monotonic per-channel
// outgoing ticket index (spec.md §3 OutgoingTicketIndex).
type outgoingIndexRow struct {
	ChannelID    string
	ChannelEpoch int64
	NextIndex    int64
}

// statsRow accumulates per-channel ticket statistics (won/rejected/
// neglected counts and the redeemed amount), reset on
// ResetTicketStatistics.
type statsRow struct {
	ChannelID      string
	WonCount       int64
	RejectedCount  int64
	NeglectedCount int64
	RedeemedAmount string // hex
}

// Store is the ticket DB: multi-reader, single-writer per channel (spec.md
// §5), backed by a *gorp.DbMap.
type Store struct {
	dbMap *gorp.DbMap

	// chanLock's per-channel mutexes (looked up under mu) serialize writes
	// per channel, matching spec.md §5's
	// "Ticket insertion for a single channel is serialized" and the
	// outgoing index's "single writer per channel via compare-and-set".
	mu       sync.Mutex
	chanLock map[ticket.ChannelID]*sync.Mutex
}

// NewStore wraps db in a *gorp.DbMap with the tables this package needs,
// the same way the teacher wires system.SQLStore's dbMap in config.go.
func NewStore(db *sql.DB, dialect gorp.Dialect) *Store {
	dbMap := &gorp.DbMap{Db: db, Dialect: dialect, ExpandSliceArgs: true}
	dbMap.AddTableWithName(ticketRow{}, "tickets").SetKeys(false, "ChannelID", "ChannelEpoch", "TicketIndex")
	dbMap.AddTableWithName(outgoingIndexRow{}, "outgoing_indices").SetKeys(false, "ChannelID", "ChannelEpoch")
	dbMap.AddTableWithName(statsRow{}, "ticket_statistics").SetKeys(false, "ChannelID")
	return &Store{dbMap: dbMap, chanLock: make(map[ticket.ChannelID]*sync.Mutex)}
}

// CreateTablesIfNotExists runs the gorp-generated schema creation, the same
// role the teacher's migration tooling plays for Session/User tables.
func (s *Store) CreateTablesIfNotExists() error {
	return s.dbMap.CreateTablesIfNotExists()
}

func (s *Store) channelLock(id ticket.ChannelID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.chanLock[id]
	if !ok {
		l = &sync.Mutex{}
		s.chanLock[id] = l
	}
	return l
}

// Migrate resets every BeingAggregated status to Untouched, per spec.md §6:
// "A startup migration resets every BeingAggregated status to Untouched."
func (s *Store) Migrate() error {
	_, err := s.dbMap.Exec("UPDATE tickets SET Status = ? WHERE Status = ?",
		int64(ticket.StatusUntouched), int64(ticket.StatusBeingAggregated))
	if err != nil {
		return relayerr.New(relayerr.KindFatal, "ticketdb.migrate", err)
	}
	return nil
}

func toRow(at *ticket.AcknowledgedTicket) *ticketRow {
	return &ticketRow{
		ChannelID:      hexEnc(at.Ticket.ChannelID[:]),
		ChannelEpoch:   int64(at.Ticket.ChannelEpoch),
		TicketIndex:    int64(at.Ticket.Index),
		IndexOffset:    int64(at.Ticket.IndexOffset),
		Amount:         hexEnc(at.Ticket.Amount[:]),
		EncodedWinProb: hexEnc(at.Ticket.EncodedWinProb[:]),
		Challenge:      hexEnc(at.Ticket.Challenge[:]),
		Signature:      hexEnc(at.Ticket.Signature[:]),
		Response:       hexEnc(at.Response[:]),
		VRFV:           hexEnc(at.VRFParams.VUncompressed[:]),
		VRFS:           hexEnc(at.VRFParams.S[:]),
		VRFH:           hexEnc(at.VRFParams.H[:]),
		Signer:         hexEnc(at.Signer[:]),
		Status:         int64(at.Status),
	}
}

func fromRow(r *ticketRow) (*ticket.AcknowledgedTicket, error) {
	at := &ticket.AcknowledgedTicket{Status: ticket.Status(r.Status)}
	if err := hexDecFixed(r.ChannelID, at.Ticket.ChannelID[:]); err != nil {
		return nil, err
	}
	at.Ticket.ChannelEpoch = uint32(r.ChannelEpoch)
	at.Ticket.Index = uint64(r.TicketIndex)
	at.Ticket.IndexOffset = uint32(r.IndexOffset)
	if err := hexDecFixed(r.Amount, at.Ticket.Amount[:]); err != nil {
		return nil, err
	}
	if err := hexDecFixed(r.EncodedWinProb, at.Ticket.EncodedWinProb[:]); err != nil {
		return nil, err
	}
	if err := hexDecFixed(r.Challenge, at.Ticket.Challenge[:]); err != nil {
		return nil, err
	}
	if err := hexDecFixed(r.Signature, at.Ticket.Signature[:]); err != nil {
		return nil, err
	}
	if err := hexDecFixed(r.Response, at.Response[:]); err != nil {
		return nil, err
	}
	if err := hexDecFixed(r.VRFV, at.VRFParams.VUncompressed[:]); err != nil {
		return nil, err
	}
	if err := hexDecFixed(r.VRFS, at.VRFParams.S[:]); err != nil {
		return nil, err
	}
	if err := hexDecFixed(r.VRFH, at.VRFParams.H[:]); err != nil {
		return nil, err
	}
	if err := hexDecFixed(r.Signer, at.Signer[:]); err != nil {
		return nil, err
	}
	return at, nil
}

func hexEnc(b []byte) string { return hex.EncodeToString(b) }

func hexDecFixed(s string, out []byte) error {
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	copy(out, decoded)
	return nil
}
