package main

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"

	"github.com/vultisig/walletd/internal/logging"
)

type config struct {
	LogFormat logging.LogFormat `envconfig:"LOG_FORMAT" default:"text"`
	Addr      string            `envconfig:"ADDR" default:":50051"`
	// Fee in display units.
	Fee string `envconfig:"FEE" default:"0.010000"`
	// Mint credits accounts at startup, as principal:amount pairs in display units.
	Mint map[string]string `envconfig:"MINT"`
}

func newConfig() (config, error) {
	var cfg config
	err := envconfig.Process("DEVLEDGER", &cfg)
	if err != nil {
		return config{}, fmt.Errorf("failed to process env var: %w", err)
	}
	return cfg, nil
}
