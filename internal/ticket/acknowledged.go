package ticket

import (
	"encoding/binary"
	"math/big"

	relaycrypto "github.com/privmix/relay/internal/crypto"
)

// VRFParams is the proof a relay attaches to a ticket response to make the
// winning-ticket test independently verifiable by the channel counterparty,
// without revealing the underlying randomness ahead of time.
type VRFParams struct {
	VUncompressed [65]byte // uncompressed secp256k1 point, as produced by VRF proving
	S, H          [32]byte // Chaum-Pedersen proof scalars
}

// AcknowledgedTicket is a Ticket together with the response value its
// recipient learned on acknowledgement, and the bookkeeping the ticket DB
// (component D) needs to track it through redemption.
type AcknowledgedTicket struct {
	Ticket    Ticket
	Response  [32]byte
	VRFParams VRFParams
	Signer    [20]byte
	Status    Status
}

// winProbToUint64 widens a 7-byte (56-bit) big-endian encoded_win_prob into
// a uint64 comparable against the 56 low bits of a ticket's luck value.
func winProbToUint64(b [WinProbLen]byte) uint64 {
	var full [8]byte
	copy(full[1:], b[:])
	return binary.BigEndian.Uint64(full[:])
}

// luck computes BE64(0x00 || keccak256(ticket_hash || vrf_v[1:] || response || signature)[0:7]),
// the value compared against encoded_win_prob by IsWinning.
func (at *AcknowledgedTicket) luck(domainSeparator [32]byte) uint64 {
	ticketHash := at.Ticket.SigningHash(domainSeparator)
	digest := relaycrypto.Keccak256(
		ticketHash[:],
		at.VRFParams.VUncompressed[1:],
		at.Response[:],
		at.Ticket.Signature[:],
	)
	var full [8]byte
	copy(full[1:], digest[:7])
	return binary.BigEndian.Uint64(full[:])
}

// IsWinning implements the winning-ticket test: a ticket wins iff
// luck(ticket) <= encoded_win_prob, both compared as 56-bit big-endian
// unsigned integers widened into uint64.
func (at *AcknowledgedTicket) IsWinning(domainSeparator [32]byte) bool {
	return at.luck(domainSeparator) <= winProbToUint64(at.Ticket.EncodedWinProb)
}

// AmountBig interprets the ticket's 96-bit amount field as an unsigned
// big.Int, for arithmetic such as aggregation (summing amounts) or balance
// accounting.
func (t *Ticket) AmountBig() *big.Int {
	return new(big.Int).SetBytes(t.Amount[:])
}

// SetAmountBig writes v into the ticket's 96-bit amount field. v must fit in
// AmountLen bytes; larger values are truncated to the low-order bytes.
func (t *Ticket) SetAmountBig(v *big.Int) {
	b := v.Bytes()
	var out [AmountLen]byte
	if len(b) > AmountLen {
		b = b[len(b)-AmountLen:]
	}
	copy(out[AmountLen-len(b):], b)
	t.Amount = out
}
