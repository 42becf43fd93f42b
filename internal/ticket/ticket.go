// Package ticket implements the wire-exact Ticket / AcknowledgedTicket
// structures of spec.md §3, their ECDSA signing, and the selector used by
// the ticket DB (component D) to target ranges of tickets.
//
// Grounded on the teacher's plain-struct persistence shape
// (models/tickets.go) and on ethereum-go-ethereum's crypto package for the
// keccak256 + ECDSA signature scheme the wire format calls for.
package ticket

import (
	"encoding/binary"
	"errors"
	"fmt"

	relaycrypto "github.com/privmix/relay/internal/crypto"
)

// Field widths, exactly as laid out in spec.md §3.
const (
	ChannelIDLen    = 32
	AmountLen       = 12
	IndexLen        = 6
	IndexOffsetLen  = 4
	ChannelEpochLen = 3
	WinProbLen      = 7
	ChallengeLen    = 20
	SignatureLen    = 64

	// Len is the total wire size of an encoded Ticket.
	Len = ChannelIDLen + AmountLen + IndexLen + IndexOffsetLen + ChannelEpochLen +
		WinProbLen + ChallengeLen + SignatureLen
)

// WinProbAlways is the encoded_win_prob value meaning "always wins" (the
// all-ones 56-bit value).
var WinProbAlways = [WinProbLen]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// ChannelID is a 32-byte content address derived from (source, destination).
type ChannelID [ChannelIDLen]byte

// DeriveChannelID computes the content address for an ordered
// (source, destination) pair of 20-byte chain addresses.
func DeriveChannelID(source, destination [20]byte) ChannelID {
	h := relaycrypto.Keccak256(source[:], destination[:])
	return ChannelID(h)
}

// Status is the lifecycle marker of an AcknowledgedTicket in the DB.
type Status int

const (
	StatusUntouched Status = iota
	StatusBeingRedeemed
	StatusBeingAggregated
)

func (s Status) String() string {
	switch s {
	case StatusUntouched:
		return "Untouched"
	case StatusBeingRedeemed:
		return "BeingRedeemed"
	case StatusBeingAggregated:
		return "BeingAggregated"
	default:
		return "Unknown"
	}
}

// Marker is the terminal state a ticket is moved to when it leaves the DB
// (spec.md §3 "Ticket in DB" lifecycle).
type Marker int

const (
	MarkerRedeemed Marker = iota
	MarkerRejected
	MarkerNeglected
)

func (m Marker) String() string {
	switch m {
	case MarkerRedeemed:
		return "Redeemed"
	case MarkerRejected:
		return "Rejected"
	case MarkerNeglected:
		return "Neglected"
	default:
		return "Unknown"
	}
}

// Ticket is the wire-exact structure of spec.md §3. Amount is stored as a
// 96-bit (12-byte) big-endian unsigned integer; we keep it as raw bytes to
// avoid truncation and provide AmountBig() for arithmetic.
type Ticket struct {
	ChannelID     ChannelID
	Amount        [AmountLen]byte
	Index         uint64 // 48-bit value, stored widened
	IndexOffset   uint32
	ChannelEpoch  uint32 // 24-bit value, stored widened
	EncodedWinProb [WinProbLen]byte
	Challenge     [ChallengeLen]byte
	Signature     [SignatureLen]byte
}

// IsAggregated reports whether this ticket spans more than one source index.
func (t *Ticket) IsAggregated() bool { return t.IndexOffset > 1 }

// Encode serializes the ticket to its 148-byte wire form.
func (t *Ticket) Encode() []byte {
	buf := make([]byte, 0, Len)
	buf = append(buf, t.ChannelID[:]...)
	buf = append(buf, t.Amount[:]...)
	buf = append(buf, encodeUint(t.Index, IndexLen)...)
	buf = append(buf, encodeUint(uint64(t.IndexOffset), IndexOffsetLen)...)
	buf = append(buf, encodeUint(uint64(t.ChannelEpoch), ChannelEpochLen)...)
	buf = append(buf, t.EncodedWinProb[:]...)
	buf = append(buf, t.Challenge[:]...)
	buf = append(buf, t.Signature[:]...)
	return buf
}

// Decode parses a 148-byte wire buffer into a Ticket.
func Decode(b []byte) (*Ticket, error) {
	if len(b) != Len {
		return nil, fmt.Errorf("ticket: invalid size %d, want %d", len(b), Len)
	}
	t := &Ticket{}
	off := 0
	copy(t.ChannelID[:], b[off:off+ChannelIDLen])
	off += ChannelIDLen
	copy(t.Amount[:], b[off:off+AmountLen])
	off += AmountLen
	t.Index = decodeUint(b[off : off+IndexLen])
	off += IndexLen
	t.IndexOffset = uint32(decodeUint(b[off : off+IndexOffsetLen]))
	off += IndexOffsetLen
	t.ChannelEpoch = uint32(decodeUint(b[off : off+ChannelEpochLen]))
	off += ChannelEpochLen
	copy(t.EncodedWinProb[:], b[off:off+WinProbLen])
	off += WinProbLen
	copy(t.Challenge[:], b[off:off+ChallengeLen])
	off += ChallengeLen
	copy(t.Signature[:], b[off:off+SignatureLen])
	off += SignatureLen

	if t.IndexOffset < 1 {
		return nil, errors.New("ticket: index_offset must be >= 1")
	}
	return t, nil
}

// SigningHash returns keccak256(domainSeparator || fields-without-signature),
// the digest the ticket signature is computed over.
func (t *Ticket) SigningHash(domainSeparator [32]byte) [32]byte {
	unsigned := t.Encode()[:Len-SignatureLen]
	return relaycrypto.Keccak256(domainSeparator[:], unsigned)
}

// Sign signs the ticket with the relay's chain key and fills in Signature.
func (t *Ticket) Sign(priv *relaycrypto.PrivKey, domainSeparator [32]byte) error {
	sig, err := priv.Sign(t.SigningHash(domainSeparator))
	if err != nil {
		return err
	}
	t.Signature = sig
	return nil
}

// VerifySignature checks the ticket's signature against the claimed signer.
func (t *Ticket) VerifySignature(domainSeparator [32]byte, signer [20]byte) bool {
	return relaycrypto.VerifySignature(t.SigningHash(domainSeparator), t.Signature, signer)
}

func encodeUint(v uint64, width int) []byte {
	var full [8]byte
	binary.BigEndian.PutUint64(full[:], v)
	return full[8-width:]
}

func decodeUint(b []byte) uint64 {
	var full [8]byte
	copy(full[8-len(b):], b)
	return binary.BigEndian.Uint64(full[:])
}
