package packet

import (
	relaycrypto "github.com/privmix/relay/internal/crypto"
	"github.com/privmix/relay/internal/relayerr"
	"github.com/privmix/relay/internal/ticket"
)

// Acknowledgement is sent from a relay back to its previous hop after a
// successful relay (spec.md §4.1 "Acknowledgement").
type Acknowledgement struct {
	AckKeyShare [32]byte
	Signature   [64]byte
}

// BuildAcknowledgement signs an ack key share (the acknowledging hop's own
// ackKey, derived from the shared secret it recovered when peeling its
// layer) so the previous hop can authenticate it came from the party it
// actually forwarded to.
func BuildAcknowledgement(ackKey [32]byte, signer *relaycrypto.PrivKey) (*Acknowledgement, error) {
	digest := relaycrypto.Keccak256(ackKey[:])
	sig, err := signer.Sign(digest)
	if err != nil {
		return nil, err
	}
	return &Acknowledgement{AckKeyShare: ackKey, Signature: sig}, nil
}

// Outcome classifies how the previous hop resolves an Acknowledgement,
// per spec.md §4.1's three cases.
type Outcome int

const (
	OutcomeSenderAck Outcome = iota
	OutcomeRelayerWinning
	OutcomeRelayerLosing
)

// Resolve verifies ack against the expected challenge recorded when the
// packet was sent, and — for a relay (not the originator) — evaluates the
// winning-ticket test on the locally-held AcknowledgedTicket to classify
// the outcome.
//
// isOriginator is true when this node sent the original packet rather than
// relaying someone else's; in that case there is no local ticket to
// evaluate and the ack simply resolves the pending send.
func Resolve(
	ack *Acknowledgement,
	expectedChallenge [20]byte,
	isOriginator bool,
	pending *ticket.AcknowledgedTicket,
	signer [20]byte,
	domainSeparator [32]byte,
) (Outcome, error) {
	digest := relaycrypto.Keccak256(ack.AckKeyShare[:])
	if !relaycrypto.VerifySignature(digest, ack.Signature, signer) {
		return 0, relayerr.New(relayerr.KindCryptoFailure, "packet.resolve_ack", relayerr.ErrInvalidChallenge)
	}

	gotChallenge := relaycrypto.Keccak256(ack.AckKeyShare[:], []byte("ack-challenge"))
	var got20 [20]byte
	copy(got20[:], gotChallenge[:20])
	if got20 != expectedChallenge {
		return 0, relayerr.New(relayerr.KindProtocolViolation, "packet.resolve_ack", relayerr.ErrInvalidChallenge)
	}

	if isOriginator {
		return OutcomeSenderAck, nil
	}

	pending.Response = ack.AckKeyShare
	if pending.IsWinning(domainSeparator) {
		return OutcomeRelayerWinning, nil
	}
	return OutcomeRelayerLosing, nil
}
