package main

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"

	"github.com/vultisig/walletd/internal/api"
	"github.com/vultisig/walletd/internal/identity"
	"github.com/vultisig/walletd/internal/ledger"
	"github.com/vultisig/walletd/internal/logging"
	"github.com/vultisig/walletd/internal/metrics"
	"github.com/vultisig/walletd/internal/session"
)

type config struct {
	LogFormat logging.LogFormat `envconfig:"LOG_FORMAT" default:"text"`
	Server    api.Config
	Ledger    ledger.Config
	Identity  identity.Config
	Session   session.Config
	Metrics   metrics.Config
	DataDog   metrics.DataDogConfig
}

func newConfig() (config, error) {
	var cfg config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return config{}, fmt.Errorf("failed to process env var: %w", err)
	}
	return cfg, nil
}
