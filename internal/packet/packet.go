// Package packet implements the packet pipeline (spec.md §4.1): parsing an
// incoming wire packet into a PacketEnvelope, verifying its embedded
// ticket challenge, and building outgoing packets for relay or origination.
//
// Grounded on the teacher's appContext-with-channels dispatch shape
// (backend/stakepoold/server.go) generalized from a ticket-voting handler
// into a per-packet decode/verify/forward pipeline, and on internal/crypto
// for the underlying Sphinx transform.
package packet

import (
	"errors"

	relaycrypto "github.com/privmix/relay/internal/crypto"
	"github.com/privmix/relay/internal/relayerr"
	"github.com/privmix/relay/internal/ticket"
)

// TicketLen and MetaPacketLen are re-exported here so callers assembling or
// validating wire packets don't need to import both internal/ticket and
// internal/crypto directly.
const (
	TicketLen     = ticket.Len
	MetaPacketLen = relaycrypto.MetaPacketLen
	// WireLen is the exact size of a wire packet: meta-packet plus its
	// trailing ticket (spec.md §4.1: "bytes.len() == META_PACKET_LEN + TICKET_LEN").
	WireLen = MetaPacketLen + TicketLen
)

// Kind discriminates the three PacketEnvelope shapes spec.md §3 defines.
type Kind int

const (
	KindFinal Kind = iota
	KindForwarded
	KindOutgoing
)

// Envelope is the decoded shape of an incoming (or, for KindOutgoing, a
// constructed) packet. Only the fields relevant to Kind are populated.
type Envelope struct {
	Kind Kind

	// Final
	Tag       [16]byte
	AckKey    [32]byte
	PrevHop   [20]byte
	Plaintext []byte

	// Forwarded
	MetaPacket       []byte
	Ticket           *ticket.Ticket
	AckChallenge     [20]byte
	OwnKey           [32]byte
	NextHop          [20]byte
	NextChallenge    [20]byte
	PathPos          int

	// Outgoing
	NextHopOutgoing [20]byte
}

// PacketDecodingError wraps the size validation failure from_incoming
// rejects before touching any crypto, and a ticket that fails to decode
// after the Sphinx layer has been peeled.
type PacketDecodingError struct {
	Reason string
}

func (e *PacketDecodingError) Error() string { return "packet: invalid size: " + e.Reason }

// FromIncoming implements spec.md §4.1's from_incoming contract: parse the
// wire bytes, peel one Sphinx layer with ownPriv, and verify the embedded
// ticket challenge against the derived secret when the packet is not yet
// at its destination.
func FromIncoming(wire []byte, ownPriv [32]byte, prevHop [20]byte) (*Envelope, error) {
	if len(wire) != WireLen {
		return nil, &PacketDecodingError{Reason: "invalid size"}
	}
	metaPacket := wire[:MetaPacketLen]
	ticketBytes := wire[MetaPacketLen:]

	res, err := relaycrypto.PeelLayer(metaPacket, ownPriv)
	if err != nil {
		return nil, relayerr.New(relayerr.KindCryptoFailure, "packet.from_incoming", err)
	}

	ackKey, err := relaycrypto.KDFAck(res.Secret)
	if err != nil {
		return nil, relayerr.New(relayerr.KindCryptoFailure, "packet.from_incoming", err)
	}

	if res.Final {
		var tag [16]byte
		copy(tag[:], res.Payload[:16])
		plaintext := append([]byte(nil), res.Payload[16:]...)
		return &Envelope{
			Kind:      KindFinal,
			Tag:       tag,
			AckKey:    ackKey,
			PrevHop:   prevHop,
			Plaintext: plaintext,
		}, nil
	}

	tk, err := ticket.Decode(ticketBytes)
	if err != nil {
		return nil, &PacketDecodingError{Reason: err.Error()}
	}

	ownKey, ackChallenge, err := preVerify(res.Secret, ackKey, tk.Challenge)
	if err != nil {
		return nil, relayerr.New(relayerr.KindProtocolViolation, "packet.from_incoming", relayerr.ErrInvalidChallenge)
	}

	return &Envelope{
		Kind:          KindForwarded,
		MetaPacket:    res.Next,
		Ticket:        tk,
		AckChallenge:  ackChallenge,
		AckKey:        ackKey,
		PrevHop:       prevHop,
		OwnKey:        ownKey,
		NextHop:       res.NextHop,
		NextChallenge: res.NextChallenge,
	}, nil
}

// preVerify checks the incoming ticket's challenge against the shared
// secret this hop derived by peeling its own Sphinx layer, before the hop
// commits to relaying (spec.md §4.1: "the hop must not generate an
// acknowledgement for a bogus challenge"). The next hop's expected ticket
// challenge (additional_info) was sealed into the header by the original
// sender and is read off the peel result directly (see
// internal/crypto.PeelLayer), not re-derived here.
func preVerify(secret [32]byte, ackKey [32]byte, ticketChallenge [20]byte) (ownKey [32]byte, ackChallenge [20]byte, err error) {
	expected := relaycrypto.ExpectedChallenge(secret)
	if expected != ticketChallenge {
		return ownKey, ackChallenge, errors.New("challenge mismatch")
	}

	ackDigest := relaycrypto.Keccak256(ackKey[:], []byte("ack-challenge"))
	copy(ackChallenge[:], ackDigest[:20])
	return ackKey, ackChallenge, nil
}
