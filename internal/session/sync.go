package session

import (
	"context"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/walletd/internal/amount"
)

const (
	fieldBalance = "balance"
	fieldFee     = "fee"
)

// syncer refreshes one cached field for one session generation. At most one
// refresh runs at a time.
type syncer struct {
	ctx     context.Context
	session *Session
	gen     uint64
	field   string
	prepare func(context.Context) error
	query   func(context.Context) (*uint256.Int, error)
	logger  *logrus.Entry

	mu      sync.Mutex
	running bool
	dirty   bool
}

func newSyncer(
	ctx context.Context,
	s *Session,
	gen uint64,
	field string,
	prepare func(context.Context) error,
	query func(context.Context) (*uint256.Int, error),
) *syncer {
	return &syncer{
		ctx:     ctx,
		session: s,
		gen:     gen,
		field:   field,
		prepare: prepare,
		query:   query,
		logger:  s.logger.WithFields(logrus.Fields{"field": field, "gen": gen}),
	}
}

// run triggers a refresh on every tick until the generation is torn down.
func (y *syncer) run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-y.ctx.Done():
			return
		case <-ticker.C:
			y.trigger(false)
		}
	}
}

// trigger starts a background refresh. If one is already in flight the call
// is a no-op, except that force schedules one follow-up refresh after it.
func (y *syncer) trigger(force bool) bool {
	if !y.acquire(force) {
		return false
	}
	go func() {
		_ = y.refresh(true)
		y.release()
	}()
	return true
}

// syncNow refreshes in the calling goroutine. It returns nil without
// refreshing when another refresh is in flight.
func (y *syncer) syncNow(prepare bool) error {
	if !y.acquire(false) {
		return nil
	}
	err := y.refresh(prepare)
	y.release()
	return err
}

func (y *syncer) acquire(force bool) bool {
	y.mu.Lock()
	defer y.mu.Unlock()
	if y.ctx.Err() != nil {
		return false
	}
	if y.running {
		if force {
			y.dirty = true
		}
		return false
	}
	y.running = true
	return true
}

// release ends the in-flight refresh, or hands over to the follow-up one
// requested while it ran.
func (y *syncer) release() {
	y.mu.Lock()
	again := y.dirty && y.ctx.Err() == nil
	y.dirty = false
	if !again {
		y.running = false
	}
	y.mu.Unlock()

	if again {
		go func() {
			_ = y.refresh(true)
			y.release()
		}()
	}
}

func (y *syncer) refresh(prepare bool) error {
	start := time.Now()

	value, err := y.fetch(prepare)
	if err != nil {
		if y.ctx.Err() != nil {
			y.logger.Debug("refresh cancelled")
			return nil
		}
		y.session.metrics.RecordSync(y.field, false, time.Since(start))
		y.logger.WithError(err).Warn("refresh failed, keeping cached value")
		return err
	}

	if !y.session.apply(y.gen, y.field, value, y.session.now()) {
		y.session.metrics.RecordStaleDiscard(y.field)
		y.logger.Debug("discarded result of superseded session")
		return nil
	}
	y.session.metrics.RecordSync(y.field, true, time.Since(start))
	y.logger.WithField("value", amount.ToPlain(value)).Debug("refreshed")
	return nil
}

func (y *syncer) fetch(prepare bool) (*uint256.Int, error) {
	if prepare && y.prepare != nil {
		if err := y.prepare(y.ctx); err != nil {
			return nil, err
		}
	}
	return y.query(y.ctx)
}
