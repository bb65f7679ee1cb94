// Package session owns the authenticated session against a remote ledger:
// the login state machine, the cached balance and fee, the background
// syncers that keep them fresh, and the guarded withdrawal.
//
// Every asynchronous result is tagged with the generation it was started in.
// Logout and re-login bump the generation, so results from a superseded
// client never reach the cache.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vultisig/walletd/internal/identity"
	"github.com/vultisig/walletd/internal/ledger"
	"github.com/vultisig/walletd/internal/principal"
)

var (
	ErrLoginFailed          = errors.New("login failed")
	ErrLoginInProgress      = errors.New("login already in progress")
	ErrNotAuthenticated     = errors.New("not authenticated")
	ErrInvalidRecipient     = errors.New("invalid recipient")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrWithdrawalInProgress = errors.New("withdrawal already in progress")
)

type State int

const (
	SignedOut State = iota
	Authenticating
	Authenticated
)

func (s State) String() string {
	switch s {
	case SignedOut:
		return "signed_out"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// CachedState is the last synced view of the account. Values are never
// mutated in place; the session swaps in a new CachedState on every update.
type CachedState struct {
	Balance         *uint256.Int
	Fee             *uint256.Int
	BalanceSyncedAt time.Time
	FeeSyncedAt     time.Time
}

func zeroState() CachedState {
	return CachedState{Balance: new(uint256.Int), Fee: new(uint256.Int)}
}

func (c CachedState) clone() CachedState {
	c.Balance = c.Balance.Clone()
	c.Fee = c.Fee.Clone()
	return c
}

// ClientFactory builds a ledger client bound to id.
type ClientFactory func(id *identity.Identity) (ledger.Client, error)

type Config struct {
	BalanceInterval time.Duration `envconfig:"BALANCE_INTERVAL" default:"5s"`
	FeeInterval     time.Duration `envconfig:"FEE_INTERVAL" default:"5m"`
}

// Metrics receives session events. A nil Metrics disables reporting.
type Metrics interface {
	RecordSync(field string, success bool, duration time.Duration)
	RecordStaleDiscard(field string)
	RecordWithdrawal(outcome string, duration time.Duration)
	SetState(state string)
}

type nopMetrics struct{}

func (nopMetrics) RecordSync(string, bool, time.Duration)  {}
func (nopMetrics) RecordStaleDiscard(string)               {}
func (nopMetrics) RecordWithdrawal(string, time.Duration) {}
func (nopMetrics) SetState(string)                         {}

type Session struct {
	cfg       Config
	provider  identity.Provider
	newClient ClientFactory
	metrics   Metrics
	logger    *logrus.Entry
	now       func() time.Time

	mu          sync.Mutex
	state       State
	gen         uint64
	id          *identity.Identity
	client      ledger.Client
	cache       CachedState
	cancel      context.CancelFunc
	balance     *syncer
	fee         *syncer
	withdrawing bool
}

func New(cfg Config, provider identity.Provider, newClient ClientFactory, metrics Metrics, logger *logrus.Logger) *Session {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	s := &Session{
		cfg:       cfg,
		provider:  provider,
		newClient: newClient,
		metrics:   metrics,
		logger:    logger.WithField("pkg", "session.Session"),
		now:       time.Now,
		cache:     zeroState(),
	}
	metrics.SetState(SignedOut.String())
	return s
}

// Resume establishes the session from a still valid identity without
// prompting. It reports whether the session is authenticated afterwards.
func (s *Session) Resume(ctx context.Context) (bool, error) {
	ok, err := s.provider.IsAuthenticated(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check authentication: %w", err)
	}
	if !ok {
		s.logger.Info("no valid identity, staying signed out")
		return false, nil
	}

	err = s.authenticate(ctx, s.provider.GetIdentity, false)
	if err != nil {
		return false, err
	}
	return true, nil
}

// Login runs the provider flow and establishes a fresh session. Logging in
// while authenticated fully supersedes the current client.
func (s *Session) Login(ctx context.Context) error {
	return s.authenticate(ctx, s.provider.Login, true)
}

func (s *Session) authenticate(
	ctx context.Context,
	obtain func(context.Context) (*identity.Identity, error),
	supersede bool,
) error {
	s.mu.Lock()
	switch {
	case s.state == Authenticating:
		s.mu.Unlock()
		return ErrLoginInProgress
	case s.state == Authenticated && !supersede:
		s.mu.Unlock()
		return nil
	}
	old := s.teardownLocked()
	loginCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.setStateLocked(Authenticating)
	gen := s.gen
	s.mu.Unlock()
	defer cancel()

	closeClient(old, s.logger)

	id, err := obtain(loginCtx)
	if err != nil {
		s.abandon(gen)
		s.logger.WithError(err).Warn("identity provider did not issue an identity")
		return fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}
	return s.establish(loginCtx, gen, id)
}

// establish binds a new client to id. Any failure forces a full logout.
func (s *Session) establish(ctx context.Context, gen uint64, id *identity.Identity) error {
	logger := s.logger.WithField("principal", id.Principal().String())

	client, err := s.newClient(id)
	if err != nil {
		s.failEstablish(ctx, gen)
		logger.WithError(err).Error("failed to create ledger client")
		return fmt.Errorf("%w: failed to create ledger client: %v", ErrLoginFailed, err)
	}
	if err := client.RefreshFee(ctx); err != nil {
		closeClient(client, logger)
		s.failEstablish(ctx, gen)
		logger.WithError(err).Error("failed to refresh ledger fee")
		return fmt.Errorf("%w: failed to refresh fee: %w", ErrLoginFailed, err)
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		closeClient(client, logger)
		return fmt.Errorf("%w: superseded", ErrLoginFailed)
	}
	syncCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.id = id
	s.client = client
	account := ledger.Account{Owner: id.Principal()}
	s.balance = newSyncer(syncCtx, s, gen, fieldBalance, nil, func(ctx context.Context) (*uint256.Int, error) {
		return client.QueryBalance(ctx, account)
	})
	s.fee = newSyncer(syncCtx, s, gen, fieldFee, client.RefreshFee, client.QueryFee)
	balance, fee := s.balance, s.fee
	s.setStateLocked(Authenticated)
	s.mu.Unlock()

	logger.Info("session established")

	var g errgroup.Group
	g.Go(func() error { return balance.syncNow(false) })
	g.Go(func() error { return fee.syncNow(false) })
	if err := g.Wait(); err != nil {
		logger.WithError(err).Warn("initial sync incomplete")
	}

	go balance.run(s.cfg.BalanceInterval)
	go fee.run(s.cfg.FeeInterval)
	return nil
}

// abandon returns to SignedOut if gen is still current.
func (s *Session) abandon(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == gen {
		s.teardownLocked()
	}
}

func (s *Session) failEstablish(ctx context.Context, gen uint64) {
	s.mu.Lock()
	current := s.gen == gen
	if current {
		s.teardownLocked()
	}
	s.mu.Unlock()

	if current {
		if err := s.provider.Logout(context.WithoutCancel(ctx)); err != nil {
			s.logger.WithError(err).Warn("failed to log out identity provider")
		}
	}
}

// Logout discards the identity, the client and the cache. Logging out while
// signed out is a no-op.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	if s.state == SignedOut {
		s.mu.Unlock()
		return nil
	}
	old := s.teardownLocked()
	s.mu.Unlock()

	closeClient(old, s.logger)
	s.logger.Info("signed out")

	if err := s.provider.Logout(ctx); err != nil {
		return fmt.Errorf("failed to log out identity provider: %w", err)
	}
	return nil
}

// Close stops the syncers and releases the client but keeps the provider's
// identity, so the next process can Resume.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == SignedOut {
		s.mu.Unlock()
		return
	}
	old := s.teardownLocked()
	s.mu.Unlock()
	closeClient(old, s.logger)
}

// teardownLocked moves to SignedOut under a new generation and returns the
// client to close.
func (s *Session) teardownLocked() ledger.Client {
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	old := s.client
	s.client = nil
	s.id = nil
	s.balance = nil
	s.fee = nil
	s.cache = zeroState()
	s.setStateLocked(SignedOut)
	return old
}

func (s *Session) setStateLocked(state State) {
	s.state = state
	s.metrics.SetState(state.String())
}

func closeClient(c ledger.Client, logger *logrus.Entry) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		logger.WithError(err).Warn("failed to close ledger client")
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Cached returns a copy of the cached state.
func (s *Session) Cached() CachedState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.clone()
}

// Principal returns the account of the current identity.
func (s *Session) Principal() (principal.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Authenticated {
		return principal.Principal{}, ErrNotAuthenticated
	}
	return s.id.Principal(), nil
}

// Whoami asks the ledger which principal it sees for the current client.
func (s *Session) Whoami(ctx context.Context) (principal.Principal, error) {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return principal.Principal{}, ErrNotAuthenticated
	}
	return client.Whoami(ctx)
}

// MaxWithdrawable is the cached balance less the cached fee.
func (s *Session) MaxWithdrawable() (*uint256.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Authenticated {
		return nil, ErrNotAuthenticated
	}
	return maxWithdrawable(s.cache)
}

func maxWithdrawable(c CachedState) (*uint256.Int, error) {
	if !c.Balance.Gt(c.Fee) {
		return nil, ErrInsufficientBalance
	}
	return new(uint256.Int).Sub(c.Balance, c.Fee), nil
}

// apply stores a synced field if gen is current.
func (s *Session) apply(gen uint64, field string, value *uint256.Int, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return false
	}
	next := s.cache
	switch field {
	case fieldBalance:
		next.Balance = value.Clone()
		next.BalanceSyncedAt = at
	case fieldFee:
		next.Fee = value.Clone()
		next.FeeSyncedAt = at
	}
	s.cache = next
	return true
}
