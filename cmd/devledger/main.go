package main

import (
	"context"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/vultisig/walletd/internal/amount"
	"github.com/vultisig/walletd/internal/graceful"
	"github.com/vultisig/walletd/internal/ledger/memledger"
	"github.com/vultisig/walletd/internal/logging"
	"github.com/vultisig/walletd/internal/principal"
)

func main() {
	cfg, err := newConfig()
	if err != nil {
		logrus.Fatalf("failed to load config: %v", err)
	}

	logger := logging.NewLogger(cfg.LogFormat)

	fee, err := amount.ToBaseUnits(cfg.Fee)
	if err != nil {
		logger.Fatalf("invalid fee %q: %v", cfg.Fee, err)
	}
	l := memledger.New(fee, logger)

	for owner, display := range cfg.Mint {
		p, err := principal.FromText(owner)
		if err != nil {
			logger.Fatalf("invalid mint principal %q: %v", owner, err)
		}
		units, err := amount.ToBaseUnits(display)
		if err != nil {
			logger.Fatalf("invalid mint amount %q: %v", display, err)
		}
		if err := l.Mint(p, units); err != nil {
			logger.Fatalf("failed to mint: %v", err)
		}
	}

	lis, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		logger.Fatalf("failed to listen on %s: %v", cfg.Addr, err)
	}

	srv := memledger.NewServer(l, logger)

	ctx, stop := graceful.Context(context.Background())
	defer stop()
	go func() {
		<-ctx.Done()
		logger.Info("received exit signal, stopping ledger")
		srv.GracefulStop()
	}()

	logger.WithFields(logrus.Fields{
		"addr": cfg.Addr,
		"fee":  amount.ToDisplay(fee),
	}).Info("dev ledger serving canister and icrc1 variants")
	if err := srv.Serve(lis); err != nil {
		logger.Fatalf("failed to serve: %v", err)
	}
}
