package packet

import (
	"errors"

	relaycrypto "github.com/privmix/relay/internal/crypto"
	"github.com/privmix/relay/internal/relayerr"
	"github.com/privmix/relay/internal/ticket"
)

// HopRoute describes one hop of an outgoing path: its Sphinx public key,
// and the address it must forward to next (the zero address on the final
// hop, marking the destination — see internal/crypto.BuildMetaPacket).
type HopRoute struct {
	PubKey      [32]byte
	NextHopAddr [20]byte
}

// Outgoing is the result of into_outgoing: a wire-ready packet plus the
// bookkeeping the sender needs to process its first-hop acknowledgement.
type Outgoing struct {
	Wire         []byte
	FirstHop     [20]byte
	AckChallenge [20]byte
}

// IntoOutgoing implements spec.md §4.1's into_outgoing contract: Sphinx-wrap
// msg for delivery along path, and attach a signed ticket for the first hop
// built from partialTicket (amount, win-prob, epoch, index already set by
// the caller — see internal/channel for obtaining a monotonic index).
func IntoOutgoing(
	msg []byte,
	path []HopRoute,
	ownChainKey *relaycrypto.PrivKey,
	partialTicket ticket.Ticket,
	domainSeparator [32]byte,
) (*Outgoing, error) {
	if len(path) < 1 || len(path) > relaycrypto.MaxHops {
		return nil, errors.New("packet: invalid path length")
	}

	pubKeys := make([][32]byte, len(path))
	addrs := make([][20]byte, len(path))
	for i, hop := range path {
		pubKeys[i] = hop.PubKey
		addrs[i] = hop.NextHopAddr
	}

	metaPacket, hopKeys, err := relaycrypto.BuildMetaPacket(pubKeys, addrs, msg)
	if err != nil {
		return nil, relayerr.New(relayerr.KindCryptoFailure, "packet.into_outgoing", err)
	}

	firstSecret := hopKeys[0].Secret
	partialTicket.Challenge = relaycrypto.ExpectedChallenge(firstSecret)

	if err := partialTicket.Sign(ownChainKey, domainSeparator); err != nil {
		return nil, relayerr.New(relayerr.KindCryptoFailure, "packet.into_outgoing", err)
	}

	wire := make([]byte, 0, WireLen)
	wire = append(wire, metaPacket...)
	wire = append(wire, partialTicket.Encode()...)

	firstAckKey, err := relaycrypto.KDFAck(firstSecret)
	if err != nil {
		return nil, relayerr.New(relayerr.KindCryptoFailure, "packet.into_outgoing", err)
	}
	ackDigest := relaycrypto.Keccak256(firstAckKey[:], []byte("ack-challenge"))
	var ackChallenge [20]byte
	copy(ackChallenge[:], ackDigest[:20])

	return &Outgoing{
		Wire:         wire,
		FirstHop:     addrs[0],
		AckChallenge: ackChallenge,
	}, nil
}

// CheckLoopback implements spec.md §4.1's loopback guard: a ticket whose
// signer equals the local chain address is rejected as LoopbackTicket, and
// a ticket whose channel_id does not match channelId(signer, self) is
// rejected as InvalidTicketRecipient.
func CheckLoopback(tk *ticket.Ticket, signer, self [20]byte, domainSeparator [32]byte) error {
	if !tk.VerifySignature(domainSeparator, signer) {
		return relayerr.New(relayerr.KindCryptoFailure, "packet.check_loopback", errors.New("bad ticket signature"))
	}
	if signer == self {
		return relayerr.New(relayerr.KindProtocolViolation, "packet.check_loopback", relayerr.ErrLoopbackTicket)
	}
	expected := ticket.DeriveChannelID(signer, self)
	if tk.ChannelID != expected {
		return relayerr.New(relayerr.KindProtocolViolation, "packet.check_loopback", relayerr.ErrInvalidTicketRecipient)
	}
	return nil
}
