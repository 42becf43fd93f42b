// Copyright (c) 2013-2014 The btcsuite developers
// Copyright (c) 2015-2016 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Command relayd is the privacy-preserving relay node daemon: it wires
// together the packet transform pipeline, the ticket DB, the redemption
// strategy, the on-chain event indexer, the SURB balancer and the
// session control surface into one running process.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/go-gorp/gorp"
	_ "github.com/go-sql-driver/mysql"

	"github.com/privmix/relay/internal/chainrpc"
	"github.com/privmix/relay/internal/channel"
	relaycrypto "github.com/privmix/relay/internal/crypto"
	"github.com/privmix/relay/internal/redeem"
	"github.com/privmix/relay/internal/sessionctl"
	"github.com/privmix/relay/internal/surbbalancer"
	"github.com/privmix/relay/internal/ticketdb"
	"github.com/privmix/relay/signal"
)

// runMain is the daemon's real entry point; main just adapts its error
// into a process exit code, the same split the teacher's server.go uses.
func runMain() error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.LogDir, 0700); err != nil {
		return fmt.Errorf("failed to create log directory: %v", err)
	}
	initSeelogLogger(filepath.Join(cfg.LogDir, defaultLogFilename))
	defer backendLog.Flush()
	setLogLevels(cfg.DebugLevel)
	signal.UseLogger(log)

	log.Infof("relayd starting, home dir %v", cfg.HomeDir)

	chainKey, err := ethcrypto.LoadECDSA(cfg.ChainKeyFile)
	if err != nil {
		log.Errorf("failed to load chain key: %v", err)
		return err
	}
	relayKey := &relaycrypto.PrivKey{PrivateKey: *chainKey}

	db, err := sql.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Errorf("failed to open ticket DB: %v", err)
		return err
	}
	defer db.Close()

	dialect := dialectFor(cfg.DBDriver)
	store := ticketdb.NewStore(db, dialect)

	ctx := signal.WithShutdownCancel(context.Background())
	go signal.ShutdownListener()

	ethBackend, err := ethclient.DialContext(ctx, cfg.ChainRPCURL)
	if err != nil {
		log.Errorf("failed to connect to chain RPC at %v: %v", cfg.ChainRPCURL, err)
		return err
	}

	contractAddr := ethcommon.HexToAddress(cfg.ContractAddress)
	chainClient := chainrpc.NewClient(ethBackend, contractAddr, relayKey)
	chainClient.ConfirmationTimeout = time.Duration(cfg.ConfirmationTimeoutSecs) * time.Second

	strategy := redeem.NewStrategy(store, chainClient)
	strategy.MaxRetries = cfg.RedeemMaxRetries

	chanStore := channel.NewStore()
	indexer := channel.NewIndexer(chanStore)

	controller := sessionctl.NewController()
	go controller.Run()

	producer := newPacketSurbProducer(nil, relayKey, [32]byte{}, [32]byte{})
	balancer := surbbalancer.NewBalancer(producer, surbbalancer.Config{
		TargetBuffer: uint64(cfg.SurbTargetBuffer),
		Interval:     time.Duration(cfg.SurbInterval) * time.Second,
	})

	log.Infof("connected to chain RPC, contract %v", contractAddr.Hex())

	var wg wgGroup
	wg.goCtx(ctx, "SURB", func(ctx context.Context) { balancer.Run(ctx) })
	wg.goCtx(ctx, "INDX", func(ctx context.Context) { runIndexLoop(ctx, ethBackend, indexer) })
	wg.goCtx(ctx, "RDM", func(ctx context.Context) { runRedeemSweepLoop(ctx, strategy, chanStore) })

	<-ctx.Done()
	log.Info("shutdown signaled, waiting for subsystems to stop")
	controller.Stop()
	wg.wait()
	log.Info("relayd stopped")
	return nil
}

// dialectFor returns the gorp dialect matching driverName, mirroring the
// teacher's system/sqlstore.go choice of gorp.MySQLDialect for its own
// MySQL-backed stores.
func dialectFor(driverName string) gorp.Dialect {
	switch driverName {
	case "sqlite3":
		return gorp.SqliteDialect{}
	default:
		return gorp.MySQLDialect{Engine: "InnoDB", Encoding: "UTF8"}
	}
}

func main() {
	if err := runMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
