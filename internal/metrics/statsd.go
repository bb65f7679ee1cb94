package metrics

import (
	"fmt"
	"net"
	"time"

	"github.com/DataDog/datadog-go/statsd"
)

type DataDogConfig struct {
	Host string `envconfig:"HOST"`
	Port string `envconfig:"PORT" default:"8125"`
}

// StatsdClient is the part of *statsd.Client SessionMetrics mirrors to.
type StatsdClient interface {
	Incr(name string, tags []string, rate float64) error
	Timing(name string, value time.Duration, tags []string, rate float64) error
	Gauge(name string, value float64, tags []string, rate float64) error
}

// NewStatsdClient connects to a DogStatsD agent. It returns nil when no
// host is configured.
func NewStatsdClient(cfg DataDogConfig) (*statsd.Client, error) {
	if cfg.Host == "" {
		return nil, nil
	}
	client, err := statsd.New(net.JoinHostPort(cfg.Host, cfg.Port), statsd.WithNamespace(namespace+"."))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize StatsD client: %w", err)
	}
	return client, nil
}

type statsdMirror struct {
	client StatsdClient
}

func (m statsdMirror) incr(name string, tags ...string) {
	if m.client != nil {
		_ = m.client.Incr(name, tags, 1)
	}
}

func (m statsdMirror) timing(name string, d time.Duration, tags ...string) {
	if m.client != nil {
		_ = m.client.Timing(name, d, tags, 1)
	}
}

func (m statsdMirror) gauge(name string, v float64, tags ...string) {
	if m.client != nil {
		_ = m.client.Gauge(name, v, tags, 1)
	}
}
