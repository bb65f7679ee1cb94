package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "walletd"

var sessionStates = []string{"signed_out", "authenticating", "authenticated"}

var (
	sessionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "state",
			Help:      "Current session state (1 for the active state)",
		},
		[]string{"state"},
	)

	syncRefreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "refreshes_total",
			Help:      "Total number of cached field refreshes",
		},
		[]string{"field", "status"}, // success, error, stale
	)

	syncRefreshDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "refresh_duration_seconds",
			Help:      "Time taken to refresh a cached field",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"field"},
	)

	syncLastSuccessTimestamp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "last_success_timestamp",
			Help:      "Timestamp of the last successful refresh",
		},
		[]string{"field"},
	)

	withdrawalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "withdraw",
			Name:      "withdrawals_total",
			Help:      "Total number of withdrawal attempts",
		},
		[]string{"outcome"}, // success, rejected, failed, invalid
	)

	withdrawalDispatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "withdraw",
			Name:      "dispatch_duration_seconds",
			Help:      "Time taken by the ledger to answer a withdrawal",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// SessionMetrics reports session events to Prometheus and, when a StatsD
// client is given, mirrors them to DogStatsD.
type SessionMetrics struct {
	statsd statsdMirror
}

func NewSessionMetrics(sd StatsdClient) *SessionMetrics {
	return &SessionMetrics{statsd: statsdMirror{client: sd}}
}

func (sm *SessionMetrics) RecordSync(field string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}

	syncRefreshesTotal.WithLabelValues(field, status).Inc()
	syncRefreshDuration.WithLabelValues(field).Observe(duration.Seconds())
	if success {
		syncLastSuccessTimestamp.WithLabelValues(field).Set(float64(time.Now().Unix()))
	}

	sm.statsd.incr("sync.refreshes", "field:"+field, "status:"+status)
	sm.statsd.timing("sync.refresh_duration", duration, "field:"+field)
}

func (sm *SessionMetrics) RecordStaleDiscard(field string) {
	syncRefreshesTotal.WithLabelValues(field, "stale").Inc()
	sm.statsd.incr("sync.refreshes", "field:"+field, "status:stale")
}

// RecordWithdrawal counts an attempt. Attempts rejected locally carry no duration.
func (sm *SessionMetrics) RecordWithdrawal(outcome string, duration time.Duration) {
	withdrawalsTotal.WithLabelValues(outcome).Inc()
	sm.statsd.incr("withdraw.withdrawals", "outcome:"+outcome)
	if duration > 0 {
		withdrawalDispatchDuration.Observe(duration.Seconds())
		sm.statsd.timing("withdraw.dispatch_duration", duration, "outcome:"+outcome)
	}
}

func (sm *SessionMetrics) SetState(state string) {
	for _, s := range sessionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		sessionState.WithLabelValues(s).Set(v)
		sm.statsd.gauge("session.state", v, "state:"+s)
	}
}
