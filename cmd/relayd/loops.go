package main

import (
	"context"
	"math/big"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/privmix/relay/internal/channel"
	"github.com/privmix/relay/internal/redeem"
)

// wgGroup runs a set of context-aware goroutines and waits for all of
// them to return, the generalized form of the teacher's
// `ctx.wg.Add(4); go ctx.grpcCommandQueueHandler(); ...; ctx.wg.Wait()`
// sequence in server.go, adapted to take a context instead of a shared
// quit channel so each loop can be cancelled uniformly.
type wgGroup struct {
	wg sync.WaitGroup
}

func (g *wgGroup) goCtx(ctx context.Context, tag string, f func(context.Context)) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		f(ctx)
	}()
}

func (g *wgGroup) wait() { g.wg.Wait() }

// runIndexLoop polls the chain for new logs on a ticker and applies them
// to indexer, the same `for range configTicker.C { ... }` shape the
// teacher uses to reload ticket/user data from MySQL, generalized to
// on-chain log polling and exiting on context cancellation instead of
// running for the process lifetime unconditionally.
func runIndexLoop(ctx context.Context, backend *ethclient.Client, indexer *channel.Indexer) {
	var lastBlock uint64
	if head, err := backend.BlockNumber(ctx); err == nil {
		lastBlock = head
		indxLog.Infof("index loop starting at block %d", head)
	} else {
		indxLog.Warnf("failed to fetch starting block: %v", err)
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			head, err := backend.BlockNumber(ctx)
			if err != nil {
				indxLog.Warnf("failed to fetch chain head: %v", err)
				continue
			}
			if head <= lastBlock {
				continue
			}

			logs, err := backend.FilterLogs(ctx, ethereum.FilterQuery{
				FromBlock: new(big.Int).SetUint64(lastBlock + 1),
				ToBlock:   new(big.Int).SetUint64(head),
			})
			if err != nil {
				indxLog.Warnf("failed to filter logs: %v", err)
				continue
			}

			for i := range logs {
				if err := indexer.Apply(&logs[i]); err != nil {
					indxLog.Warnf("failed to apply log: %v", err)
				}
			}
			lastBlock = head
		}
	}
}

// runRedeemSweepLoop periodically redeems every Untouched ticket across
// every indexed channel, the same ticker-driven reconciliation shape as
// runIndexLoop and the teacher's configTicker loop.
func runRedeemSweepLoop(ctx context.Context, strategy *redeem.Strategy, chanStore *channel.Store) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, entry := range chanStore.All() {
				if entry.Status != channel.StatusOpen {
					continue
				}
				errs := strategy.RedeemEligible(ctx, entry.ID, entry.Epoch)
				for _, err := range errs {
					if err != nil {
						rdmLog.Warnf("redeem sweep error on channel %x: %v", entry.ID, err)
					}
				}
			}
		}
	}
}
