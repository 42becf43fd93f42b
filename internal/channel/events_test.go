package channel

import (
	"math/big"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/privmix/relay/internal/ticket"
)

func addressTopic(a [20]byte) ethcommon.Hash {
	var h ethcommon.Hash
	copy(h[12:], a[:])
	return h
}

func channelTopic(id ticket.ChannelID) ethcommon.Hash {
	var h ethcommon.Hash
	copy(h[:], id[:])
	return h
}

func dataUint256(v uint64) []byte {
	b := new(big.Int).SetUint64(v).Bytes()
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

func TestIndexerChannelOpenedCreatesEntry(t *testing.T) {
	store := NewStore()
	ix := NewIndexer(store)

	source := [20]byte{1}
	destination := [20]byte{2}
	log := &types.Log{
		Topics: []ethcommon.Hash{TopicChannelOpened, addressTopic(source), addressTopic(destination)},
		Data:   dataUint256(1000),
	}

	require.NoError(t, ix.Apply(log))

	id := ticket.DeriveChannelID(source, destination)
	e := store.Get(id)
	require.NotNil(t, e)
	assert.Equal(t, StatusOpen, e.Status)
	assert.Equal(t, big.NewInt(1000), e.Balance)
}

func TestIndexerRejectsEventsOnUnknownChannel(t *testing.T) {
	store := NewStore()
	ix := NewIndexer(store)

	id := ticket.ChannelID{9}
	log := &types.Log{
		Topics: []ethcommon.Hash{TopicChannelClosed, channelTopic(id)},
	}
	err := ix.Apply(log)
	assert.ErrorIs(t, err, ErrUnknownChannel)
}

func TestIndexerFullLifecycle(t *testing.T) {
	store := NewStore()
	ix := NewIndexer(store)

	source := [20]byte{1}
	destination := [20]byte{2}
	id := ticket.DeriveChannelID(source, destination)

	require.NoError(t, ix.Apply(&types.Log{
		Topics: []ethcommon.Hash{TopicChannelOpened, addressTopic(source), addressTopic(destination)},
		Data:   dataUint256(500),
	}))

	require.NoError(t, ix.Apply(&types.Log{
		Topics: []ethcommon.Hash{TopicChannelBalanceIncreased, channelTopic(id)},
		Data:   dataUint256(1500),
	}))
	assert.Equal(t, big.NewInt(1500), store.Get(id).Balance)

	require.NoError(t, ix.Apply(&types.Log{
		Topics: []ethcommon.Hash{TopicCommitmentSet, channelTopic(id)},
		Data:   dataUint256(2),
	}))
	assert.Equal(t, uint32(2), store.Get(id).Epoch)

	require.NoError(t, ix.Apply(&types.Log{
		Topics: []ethcommon.Hash{TopicOutgoingChannelClosureInitiated, channelTopic(id)},
		Data:   dataUint256(123456),
	}))
	assert.Equal(t, StatusPendingToClose, store.Get(id).Status)
	require.NotNil(t, store.Get(id).ClosureTime)
	assert.Equal(t, uint32(123456), *store.Get(id).ClosureTime)

	require.NoError(t, ix.Apply(&types.Log{
		Topics: []ethcommon.Hash{TopicTicketRedeemed, channelTopic(id)},
		Data:   dataUint256(7),
	}))
	assert.Equal(t, uint64(7), store.Get(id).TicketIndex)

	require.NoError(t, ix.Apply(&types.Log{
		Topics: []ethcommon.Hash{TopicChannelClosed, channelTopic(id)},
	}))
	assert.Equal(t, StatusClosed, store.Get(id).Status)
	assert.Nil(t, store.Get(id).ClosureTime)

	store.Destroy(id)
	assert.Nil(t, store.Get(id))
}
