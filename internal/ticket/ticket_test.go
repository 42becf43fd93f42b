package ticket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	relaycrypto "github.com/privmix/relay/internal/crypto"
)

func TestTicketEncodeDecodeRoundTrip(t *testing.T) {
	tk := &Ticket{
		ChannelID:      ChannelID{1, 2, 3},
		Amount:         [AmountLen]byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 42},
		Index:          7,
		IndexOffset:    1,
		ChannelEpoch:   3,
		EncodedWinProb: WinProbAlways,
		Challenge:      [ChallengeLen]byte{9, 9, 9},
		Signature:      [SignatureLen]byte{5, 5, 5},
	}

	encoded := tk.Encode()
	require.Len(t, encoded, Len)

	got, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, tk, got)
}

func TestTicketDecodeRejectsWrongSize(t *testing.T) {
	_, err := Decode(make([]byte, Len-1))
	assert.Error(t, err)
}

func TestTicketDecodeRejectsZeroIndexOffset(t *testing.T) {
	tk := &Ticket{IndexOffset: 0, EncodedWinProb: WinProbAlways}
	_, err := Decode(tk.Encode())
	assert.Error(t, err)
}

func TestTicketSignAndVerify(t *testing.T) {
	priv, err := relaycrypto.GeneratePrivKey()
	require.NoError(t, err)

	var domainSeparator [32]byte
	tk := &Ticket{EncodedWinProb: WinProbAlways, IndexOffset: 1}
	require.NoError(t, tk.Sign(priv, domainSeparator))

	assert.True(t, tk.VerifySignature(domainSeparator, priv.Address()))

	other, err := relaycrypto.GeneratePrivKey()
	require.NoError(t, err)
	assert.False(t, tk.VerifySignature(domainSeparator, other.Address()))
}

func TestWinningTicketAlwaysWinsAtMaxProbability(t *testing.T) {
	priv, err := relaycrypto.GeneratePrivKey()
	require.NoError(t, err)

	var domainSeparator [32]byte
	at := &AcknowledgedTicket{
		Ticket: Ticket{EncodedWinProb: WinProbAlways, IndexOffset: 1},
	}
	require.NoError(t, at.Ticket.Sign(priv, domainSeparator))
	at.VRFParams.VUncompressed[0] = 0x04

	assert.True(t, at.IsWinning(domainSeparator))
}

func TestWinningTicketNeverWinsAtZeroProbability(t *testing.T) {
	priv, err := relaycrypto.GeneratePrivKey()
	require.NoError(t, err)

	var domainSeparator [32]byte
	at := &AcknowledgedTicket{
		Ticket: Ticket{IndexOffset: 1}, // EncodedWinProb left zero
	}
	require.NoError(t, at.Ticket.Sign(priv, domainSeparator))
	at.VRFParams.VUncompressed[0] = 0x04

	assert.False(t, at.IsWinning(domainSeparator))
}

func TestTicketSelectorMatching(t *testing.T) {
	ch := ChannelID{1}
	other := ChannelID{2}

	at := &AcknowledgedTicket{
		Ticket: Ticket{ChannelID: ch, Index: 5, IndexOffset: 1},
		Status: StatusUntouched,
	}

	sel := NewTicketSelector(ch)
	assert.True(t, sel.Matches(at))

	sel = NewTicketSelector(other)
	assert.False(t, sel.Matches(at))

	sel = NewTicketSelector(ch).WithIndex(SingleIndex(5))
	assert.True(t, sel.Matches(at))

	sel = NewTicketSelector(ch).WithIndex(SingleIndex(6))
	assert.False(t, sel.Matches(at))

	sel = NewTicketSelector(ch).WithIndex(RangeIndex(0, 4))
	assert.False(t, sel.Matches(at))

	sel = NewTicketSelector(ch).WithStatus(StatusBeingRedeemed)
	assert.False(t, sel.Matches(at))

	sel = NewTicketSelector(ch).WithAggregatedOnly()
	assert.False(t, sel.Matches(at))

	at.Ticket.IndexOffset = 2
	assert.True(t, sel.Matches(at))
}
