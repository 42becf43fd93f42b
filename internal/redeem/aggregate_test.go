package redeem

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	relaycrypto "github.com/privmix/relay/internal/crypto"
	"github.com/privmix/relay/internal/ticket"
)

func mkAck(idx uint64, amount uint64) *ticket.AcknowledgedTicket {
	at := &ticket.AcknowledgedTicket{
		Ticket: ticket.Ticket{
			Index:       idx,
			IndexOffset: 1,
		},
	}
	at.Ticket.SetAmountBig(big.NewInt(int64(amount)))
	return at
}

func TestLongestConsecutiveRun(t *testing.T) {
	sorted := []*ticket.AcknowledgedTicket{
		mkAck(1, 10), mkAck(2, 10), mkAck(3, 10),
		mkAck(7, 10), mkAck(8, 10),
	}
	run := longestConsecutiveRun(sorted)
	require.Len(t, run, 3)
	assert.Equal(t, uint64(1), run[0].Ticket.Index)
	assert.Equal(t, uint64(3), run[2].Ticket.Index)
}

func TestLongestConsecutiveRunBreaksOnAggregatedMember(t *testing.T) {
	aggregated := mkAck(2, 10)
	aggregated.Ticket.IndexOffset = 2 // already spans two source indices
	sorted := []*ticket.AcknowledgedTicket{mkAck(1, 10), aggregated, mkAck(4, 10), mkAck(5, 10)}
	run := longestConsecutiveRun(sorted)
	require.Len(t, run, 2)
	assert.Equal(t, uint64(4), run[0].Ticket.Index)
}

func TestMergeTicketsSumsAmountsAndSpansRange(t *testing.T) {
	priv, err := relaycrypto.GeneratePrivKey()
	require.NoError(t, err)

	run := []*ticket.AcknowledgedTicket{mkAck(10, 100), mkAck(11, 50), mkAck(12, 25)}
	var domainSeparator [32]byte
	merged, err := mergeTickets(run, 3, priv, domainSeparator)
	require.NoError(t, err)

	assert.Equal(t, uint64(10), merged.Ticket.Index)
	assert.Equal(t, uint32(3), merged.Ticket.IndexOffset)
	assert.Equal(t, uint32(3), merged.Ticket.ChannelEpoch)
	assert.Equal(t, int64(175), merged.Ticket.AmountBig().Int64())
	assert.True(t, merged.Ticket.VerifySignature(domainSeparator, priv.Address()))
	assert.Equal(t, ticket.StatusUntouched, merged.Status)
}
