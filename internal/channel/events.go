package channel

import (
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/privmix/relay/internal/ticket"
)

// Event topic signatures for the seven log kinds spec.md §6 requires the
// indexer to consume. Computed as keccak256(signature) the way
// go-ethereum's abi package would from a generated binding; kept as
// literals here since the contract ABI itself is out of scope for this
// repo (no generated bindings are produced by this codebase).
var (
	TopicChannelBalanceIncreased           = ethcommon.HexToHash("0x5fa17246d3a5d68d42baa94cde33042180b783a399c02bf63ac2076e0f708738") // ChannelBalanceIncreased(bytes32,uint96)
	TopicChannelBalanceDecreased           = ethcommon.HexToHash("0x22e2a422a8860656a3a33cfa1daf771e76798ce5649747957235025de12e0b24") // ChannelBalanceDecreased(bytes32,uint96)
	TopicChannelOpened                     = ethcommon.HexToHash("0xc46e1db49296bea306a4600994854d2006869a12ea519768d01f33c113f5b133") // ChannelOpened(address,address,uint96)
	TopicChannelClosed                     = ethcommon.HexToHash("0xceeab2eef998c17fe96f30f83fbf3c55fc5047f6e40c55a0cf72d236e9d2ba72") // ChannelClosed(bytes32)
	TopicCommitmentSet                     = ethcommon.HexToHash("0x648961650980821aa29352c6d7dfd6c5d7fca0026c6bff280db985bf39752389") // CommitmentSet(bytes32,uint24)
	TopicOutgoingChannelClosureInitiated   = ethcommon.HexToHash("0x07b5c950597fc3bed92e2ad37fa84f701655acb372982e486f5fad3607f04a5c") // OutgoingChannelClosureInitiated(bytes32,uint32)
	TopicTicketRedeemed                    = ethcommon.HexToHash("0x7165e2ebc7ce35cc98cb7666f9945b3617f3f36326b76d18937ba5fecf18739a") // TicketRedeemed(bytes32,uint48)
)

// Indexer applies raw EVM logs to a Store, serializing every event for a
// given channel as spec.md §5 requires ("the indexer must serialize these
// per-channel into the ChannelEntry state model").
type Indexer struct {
	store *Store
}

// NewIndexer returns an Indexer writing into store.
func NewIndexer(store *Store) *Indexer { return &Indexer{store: store} }

// Apply decodes and applies a single log entry. Unknown topics are ignored
// (the RPC log filter may be broader than the topics this indexer knows
// about, e.g. during a contract upgrade window).
func (ix *Indexer) Apply(log *types.Log) error {
	if len(log.Topics) == 0 {
		return nil
	}

	ix.store.mu.Lock()
	defer ix.store.mu.Unlock()

	switch log.Topics[0] {
	case TopicChannelOpened:
		return ix.applyChannelOpened(log)
	case TopicChannelBalanceIncreased:
		return ix.applyBalance(log, true)
	case TopicChannelBalanceDecreased:
		return ix.applyBalance(log, false)
	case TopicChannelClosed:
		return ix.applyChannelClosed(log)
	case TopicCommitmentSet:
		return ix.applyCommitmentSet(log)
	case TopicOutgoingChannelClosureInitiated:
		return ix.applyClosureInitiated(log)
	case TopicTicketRedeemed:
		return ix.applyTicketRedeemed(log)
	default:
		return nil
	}
}

func channelIDFromTopic(log *types.Log, idx int) ticket.ChannelID {
	var id ticket.ChannelID
	if idx < len(log.Topics) {
		copy(id[:], log.Topics[idx].Bytes())
	}
	return id
}

func addressFromTopic(log *types.Log, idx int) [20]byte {
	var a [20]byte
	if idx < len(log.Topics) {
		copy(a[:], log.Topics[idx].Bytes()[12:])
	}
	return a
}

// applyChannelOpened implements spec.md §3: "created on first on-chain
// ChannelOpened".
func (ix *Indexer) applyChannelOpened(log *types.Log) error {
	source := addressFromTopic(log, 1)
	destination := addressFromTopic(log, 2)
	id := ticket.DeriveChannelID(source, destination)

	e := ix.store.getOrCreate(id)
	e.Source = source
	e.Destination = destination
	e.Status = StatusOpen
	if len(log.Data) >= 32 {
		e.Balance = new(big.Int).SetBytes(log.Data[:32])
	}
	return nil
}

func (ix *Indexer) applyBalance(log *types.Log, increase bool) error {
	id := channelIDFromTopic(log, 1)
	e, ok := ix.store.entries[id]
	if !ok {
		return ErrUnknownChannel
	}
	if len(log.Data) >= 32 {
		e.Balance = new(big.Int).SetBytes(log.Data[:32])
	}
	_ = increase // newBalance is absolute, not a delta; direction is informational
	return nil
}

// applyChannelClosed marks a channel fully closed. Destruction (removal
// from the store) is a separate, explicit step the redemption strategy
// takes once every in-DB ticket for the previous epoch is accounted for —
// see Store.Destroy.
func (ix *Indexer) applyChannelClosed(log *types.Log) error {
	id := channelIDFromTopic(log, 1)
	e, ok := ix.store.entries[id]
	if !ok {
		return ErrUnknownChannel
	}
	e.Status = StatusClosed
	e.ClosureTime = nil
	return nil
}

// applyCommitmentSet bumps the channel epoch on reopen, per spec.md §3:
// "Epoch is a monotonically non-decreasing counter reset on channel
// reopen."
func (ix *Indexer) applyCommitmentSet(log *types.Log) error {
	id := channelIDFromTopic(log, 1)
	e, ok := ix.store.entries[id]
	if !ok {
		return ErrUnknownChannel
	}
	if len(log.Data) >= 32 {
		epoch := new(big.Int).SetBytes(log.Data[29:32]).Uint64() // uint24
		if uint32(epoch) > e.Epoch {
			e.Epoch = uint32(epoch)
		}
	}
	return nil
}

func (ix *Indexer) applyClosureInitiated(log *types.Log) error {
	id := channelIDFromTopic(log, 1)
	e, ok := ix.store.entries[id]
	if !ok {
		return ErrUnknownChannel
	}
	e.Status = StatusPendingToClose
	if len(log.Data) >= 32 {
		t := uint32(new(big.Int).SetBytes(log.Data[28:32]).Uint64())
		e.ClosureTime = &t
	}
	return nil
}

func (ix *Indexer) applyTicketRedeemed(log *types.Log) error {
	id := channelIDFromTopic(log, 1)
	e, ok := ix.store.entries[id]
	if !ok {
		return ErrUnknownChannel
	}
	if len(log.Data) >= 32 {
		e.TicketIndex = new(big.Int).SetBytes(log.Data[26:32]).Uint64() // uint48
	}
	return nil
}
