// Package chainrpc implements component I: submitting ticket redemption
// transactions to the payment-channel contract and waiting for their
// on-chain resolution.
//
// Grounded on the teacher's backend/stakepoold/rpc/client/dcrd package: a
// narrow Caller-style interface hides the concrete RPC transport behind a
// handful of typed methods, so tests substitute a fake without a live
// daemon. Here the concrete transport is go-ethereum's ethclient.Client
// rather than dcrd's JSON-RPC, since the wire format is Ethereum-flavored
// (spec.md §3/§6), but the shape — an interface the RPC type embeds, with
// typed methods built on top of it — is the same one the teacher uses.
package chainrpc

import (
	"context"
	"math/big"
	"sync"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	relaycrypto "github.com/privmix/relay/internal/crypto"
	"github.com/privmix/relay/internal/relayerr"
)

// Backend is the slice of ethclient.Client this package needs: enough to
// build, sign, submit and poll for an EIP-1559 transaction. Narrowing it to
// an interface (rather than depending on *ethclient.Client directly) lets
// tests substitute a fake, the same reason the teacher's Caller is an
// interface rather than a concrete dcrd RPC type.
type Backend interface {
	PendingNonceAt(ctx context.Context, account ethcommon.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	ChainID(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash ethcommon.Hash) (*types.Receipt, error)
}

// Client submits redeemTicket transactions to a payment-channel contract
// and classifies their eventual outcome, satisfying internal/redeem's
// ChainRedeemer interface.
type Client struct {
	backend  Backend
	contract ethcommon.Address
	signer   *relaycrypto.PrivKey

	// PollInterval is how often WaitRedeemOutcome re-checks for a receipt.
	PollInterval time.Duration
	// ConfirmationTimeout bounds how long WaitRedeemOutcome waits for a
	// receipt before reporting a timeout outcome rather than blocking
	// forever on a transaction that never confirms.
	ConfirmationTimeout time.Duration

	mu     sync.Mutex
	nonces map[ethcommon.Address]uint64
}

// NewClient returns a Client submitting transactions to contract, signed by
// signer, over backend.
func NewClient(backend Backend, contract ethcommon.Address, signer *relaycrypto.PrivKey) *Client {
	return &Client{
		backend:             backend,
		contract:            contract,
		signer:              signer,
		PollInterval:        2 * time.Second,
		ConfirmationTimeout: 2 * time.Minute,
		nonces:              make(map[ethcommon.Address]uint64),
	}
}

// nextNonce returns the next nonce to use for the signer's address,
// querying the backend the first time and incrementing a locally-held
// counter thereafter — avoiding a PendingNonceAt round trip per
// submission, the same "ask once, then track locally" approach the
// teacher's vote/ticket-purchase loop takes with its in-memory ticket
// cache rather than re-querying dcrd per item.
func (c *Client) nextNonce(ctx context.Context) (uint64, error) {
	addr := ethcommon.Address(c.signer.Address())

	c.mu.Lock()
	defer c.mu.Unlock()

	if n, ok := c.nonces[addr]; ok {
		c.nonces[addr] = n + 1
		return n, nil
	}

	n, err := c.backend.PendingNonceAt(ctx, addr)
	if err != nil {
		return 0, relayerr.New(relayerr.KindTransient, "chainrpc.next_nonce", err)
	}
	c.nonces[addr] = n + 1
	return n, nil
}

// resetNonce drops the cached nonce, forcing the next call to requery the
// backend. Used after a submission error that may mean the locally-tracked
// nonce has drifted from the chain's view (e.g. a competing process used
// the same key).
func (c *Client) resetNonce() {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.nonces, ethcommon.Address(c.signer.Address()))
}
