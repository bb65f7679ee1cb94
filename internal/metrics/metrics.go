package metrics

// Package metrics provides Prometheus metrics collection for walletd.
//
// This package includes:
// - Session metrics (state, balance/fee sync, withdrawals)
// - HTTP request metrics (count, latency, errors)
// - Metrics HTTP server on configurable port
// - Echo middleware for automatic request instrumentation
//
// Usage:
//   import "github.com/vultisig/walletd/internal/metrics"
//
//   metrics.RegisterMetrics([]string{metrics.ServiceHTTP, metrics.ServiceSession}, logger)
//
//   metricsServer := metrics.StartMetricsServer(cfg.Metrics, logger)
//   defer metricsServer.Stop(context.Background())
//
//   e.Use(metrics.HTTPMiddleware())
//   sess := session.New(cfg.Session, provider, dial, metrics.NewSessionMetrics(sdClient), logger)
