package packet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	relaycrypto "github.com/privmix/relay/internal/crypto"
	"github.com/privmix/relay/internal/relayerr"
	"github.com/privmix/relay/internal/ticket"
)

func TestIntoOutgoingFromIncomingRoundTrip(t *testing.T) {
	hop1Kp, err := relaycrypto.GenerateX25519KeyPair()
	require.NoError(t, err)
	hop2Kp, err := relaycrypto.GenerateX25519KeyPair()
	require.NoError(t, err)

	hop1Addr := [20]byte{1}
	hop2Addr := [20]byte{2}

	path := []HopRoute{
		{PubKey: hop1Kp.Pub, NextHopAddr: hop2Addr},
		{PubKey: hop2Kp.Pub, NextHopAddr: [20]byte{}}, // destination
	}

	senderKey, err := relaycrypto.GeneratePrivKey()
	require.NoError(t, err)

	var domainSeparator [32]byte
	partial := ticket.Ticket{
		ChannelID:      ticket.ChannelID{7},
		EncodedWinProb: ticket.WinProbAlways,
		IndexOffset:    1,
	}

	// The final hop splits the first 16 payload bytes off as the
	// application tag, so the message is the tag followed by the body.
	tag := [16]byte{0xab, 0xcd}
	body := []byte("hello session")
	msg := append(tag[:], body...)
	out, err := IntoOutgoing(msg, path, senderKey, partial, domainSeparator)
	require.NoError(t, err)
	assert.Equal(t, hop1Addr, out.FirstHop)
	assert.Len(t, out.Wire, WireLen)

	env, err := FromIncoming(out.Wire, hop1Kp.Priv, [20]byte{9})
	require.NoError(t, err)
	require.Equal(t, KindForwarded, env.Kind)
	assert.Equal(t, hop2Addr, env.NextHop)

	// hop1 relays: it builds its own outgoing ticket for hop2 using the
	// next-ticket-challenge sealed for it in the header, and signs with its
	// own chain key — it never sees hop2's shared secret.
	relayKey, err := relaycrypto.GeneratePrivKey()
	require.NoError(t, err)
	nextTicket := ticket.Ticket{
		ChannelID:      ticket.ChannelID{8},
		EncodedWinProb: ticket.WinProbAlways,
		IndexOffset:    1,
		Challenge:      env.NextChallenge,
	}
	require.NoError(t, nextTicket.Sign(relayKey, domainSeparator))

	nextWire := make([]byte, 0, WireLen)
	nextWire = append(nextWire, env.MetaPacket...)
	nextWire = append(nextWire, nextTicket.Encode()...)

	finalEnv, err := FromIncoming(nextWire, hop2Kp.Priv, hop1Addr)
	require.NoError(t, err)
	require.Equal(t, KindFinal, finalEnv.Kind)
	assert.Equal(t, tag, finalEnv.Tag)
	assert.Equal(t, body, finalEnv.Plaintext[:len(body)])
}

func TestFromIncomingRejectsWrongSize(t *testing.T) {
	_, err := FromIncoming(make([]byte, WireLen-1), [32]byte{}, [20]byte{})
	var decErr *PacketDecodingError
	assert.ErrorAs(t, err, &decErr)
}

func TestCheckLoopbackRejectsSelfSignedTicket(t *testing.T) {
	priv, err := relaycrypto.GeneratePrivKey()
	require.NoError(t, err)

	self := priv.Address()
	var domainSeparator [32]byte
	tk := &ticket.Ticket{
		ChannelID:      ticket.DeriveChannelID(self, self),
		EncodedWinProb: ticket.WinProbAlways,
		IndexOffset:    1,
	}
	require.NoError(t, tk.Sign(priv, domainSeparator))

	err = CheckLoopback(tk, self, self, domainSeparator)
	assert.ErrorIs(t, err, relayerr.ErrLoopbackTicket)
}
