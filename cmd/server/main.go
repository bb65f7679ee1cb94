package main

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/vultisig/walletd/internal/api"
	"github.com/vultisig/walletd/internal/graceful"
	"github.com/vultisig/walletd/internal/identity"
	"github.com/vultisig/walletd/internal/ledger"
	"github.com/vultisig/walletd/internal/logging"
	"github.com/vultisig/walletd/internal/metrics"
	"github.com/vultisig/walletd/internal/session"
)

func main() {
	cfg, err := newConfig()
	if err != nil {
		logrus.Fatalf("failed to load config: %v", err)
	}

	logger := logging.NewLogger(cfg.LogFormat)

	ctx, stop := graceful.Context(context.Background())
	defer stop()

	metrics.RegisterMetrics([]string{metrics.ServiceHTTP, metrics.ServiceSession}, logger)
	metricsServer := metrics.StartMetricsServer(cfg.Metrics, logger)
	defer func() {
		if err := metricsServer.Stop(context.Background()); err != nil {
			logger.Errorf("failed to stop metrics server: %v", err)
		}
	}()

	var sessionMetrics *metrics.SessionMetrics
	sdClient, err := metrics.NewStatsdClient(cfg.DataDog)
	if err != nil {
		logger.Fatalf("failed to initialize StatsD client: %v", err)
	}
	if sdClient != nil {
		defer sdClient.Close()
		sessionMetrics = metrics.NewSessionMetrics(sdClient)
	} else {
		sessionMetrics = metrics.NewSessionMetrics(nil)
	}

	keystore, err := identity.NewKeystore(cfg.Identity, logger)
	if err != nil {
		logger.Fatalf("failed to initialize keystore: %v", err)
	}

	dial := func(id *identity.Identity) (ledger.Client, error) {
		return ledger.New(cfg.Ledger, id)
	}
	sess := session.New(cfg.Session, keystore, dial, sessionMetrics, logger)
	defer sess.Close()

	resumed, err := sess.Resume(ctx)
	if err != nil {
		logger.WithError(err).Warn("failed to resume session")
	}
	logger.WithFields(logrus.Fields{
		"resumed":  resumed,
		"endpoint": cfg.Ledger.Endpoint,
		"variant":  cfg.Ledger.Variant,
	}).Info("starting walletd")

	middlewares := append(api.DefaultMiddlewares(), metrics.HTTPMiddleware())
	srv := api.NewServer(cfg.Server, sess, middlewares, logger)

	err = srv.Start(ctx)
	if err != nil {
		logger.Errorf("server stopped: %v", err)
	}
	logger.Info("shutting down")
}
