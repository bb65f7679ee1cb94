package session

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vultisig/walletd/internal/identity"
	"github.com/vultisig/walletd/internal/ledger"
	"github.com/vultisig/walletd/internal/principal"
)

type fakeClient struct {
	mu           sync.Mutex
	id           *identity.Identity
	balance      *uint256.Int
	fee          *uint256.Int
	balanceErr   error
	refreshErr   error
	transferErr  error
	balanceGate  chan struct{}
	transferGate chan struct{}
	entered      chan struct{}
	balanceCalls int
	feeCalls     int
	refreshCalls int
	transfers    []ledger.TransferRequest
	closed       bool
}

func newFakeClient(balance, fee uint64) *fakeClient {
	return &fakeClient{
		balance: uint256.NewInt(balance),
		fee:     uint256.NewInt(fee),
		entered: make(chan struct{}, 1),
	}
}

func (f *fakeClient) signal() {
	select {
	case f.entered <- struct{}{}:
	default:
	}
}

func (f *fakeClient) QueryBalance(context.Context, ledger.Account) (*uint256.Int, error) {
	f.mu.Lock()
	f.balanceCalls++
	gate := f.balanceGate
	f.mu.Unlock()

	if gate != nil {
		f.signal()
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	return f.balance.Clone(), nil
}

func (f *fakeClient) QueryFee(context.Context) (*uint256.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feeCalls++
	return f.fee.Clone(), nil
}

func (f *fakeClient) RefreshFee(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	return f.refreshErr
}

func (f *fakeClient) Transfer(_ context.Context, req ledger.TransferRequest) (ledger.Receipt, error) {
	f.mu.Lock()
	gate := f.transferGate
	f.mu.Unlock()

	if gate != nil {
		f.signal()
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.transfers = append(f.transfers, req)
	if f.transferErr != nil {
		return ledger.Receipt{}, f.transferErr
	}
	debit := new(uint256.Int).Add(req.Amount, f.fee)
	f.balance = new(uint256.Int).Sub(f.balance, debit)
	return ledger.Receipt{BlockIndex: uint256.NewInt(uint64(len(f.transfers) - 1))}, nil
}

func (f *fakeClient) Whoami(context.Context) (principal.Principal, error) {
	return f.id.Principal(), nil
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeClient) set(fn func(f *fakeClient)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

type clientStats struct {
	balanceCalls int
	feeCalls     int
	refreshCalls int
	transfers    []ledger.TransferRequest
	closed       bool
}

func (f *fakeClient) snapshot() clientStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return clientStats{
		balanceCalls: f.balanceCalls,
		feeCalls:     f.feeCalls,
		refreshCalls: f.refreshCalls,
		transfers:    append([]ledger.TransferRequest(nil), f.transfers...),
		closed:       f.closed,
	}
}

type fakeProvider struct {
	mu            sync.Mutex
	id            *identity.Identity
	authenticated bool
	loginErr      error
	logouts       int
}

func (p *fakeProvider) IsAuthenticated(context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.authenticated, nil
}

func (p *fakeProvider) GetIdentity(context.Context) (*identity.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.authenticated {
		return nil, identity.ErrNotAuthenticated
	}
	return p.id, nil
}

func (p *fakeProvider) Login(ctx context.Context) (*identity.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.loginErr != nil {
		return nil, p.loginErr
	}
	p.authenticated = true
	return p.id, nil
}

func (p *fakeProvider) Logout(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.authenticated = false
	p.logouts++
	return nil
}

func (p *fakeProvider) logoutCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.logouts
}

type fakeMetrics struct {
	mu          sync.Mutex
	stale       map[string]int
	syncs       map[string]int
	failures    map[string]int
	withdrawals map[string]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{
		stale:       make(map[string]int),
		syncs:       make(map[string]int),
		failures:    make(map[string]int),
		withdrawals: make(map[string]int),
	}
}

func (m *fakeMetrics) RecordSync(field string, success bool, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if success {
		m.syncs[field]++
	} else {
		m.failures[field]++
	}
}

func (m *fakeMetrics) failureCount(field string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures[field]
}

func (m *fakeMetrics) RecordStaleDiscard(field string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stale[field]++
}

func (m *fakeMetrics) RecordWithdrawal(outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.withdrawals[outcome]++
}

func (m *fakeMetrics) SetState(string) {}

func (m *fakeMetrics) staleCount(field string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stale[field]
}

type harness struct {
	session  *Session
	provider *fakeProvider
	metrics  *fakeMetrics

	mu      sync.Mutex
	clients []*fakeClient
	next    []*fakeClient
	dialErr error
}

func newHarness(t *testing.T, cfg Config, clients ...*fakeClient) *harness {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	id, err := identity.FromSeed(bytes.Repeat([]byte{9}, 32), time.Time{})
	require.NoError(t, err)

	h := &harness{
		provider: &fakeProvider{id: id},
		metrics:  newFakeMetrics(),
		next:     clients,
	}
	h.session = New(cfg, h.provider, h.dial, h.metrics, logger)
	t.Cleanup(func() { _ = h.session.Logout(context.Background()) })
	return h
}

func (h *harness) dial(id *identity.Identity) (ledger.Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.dialErr != nil {
		return nil, h.dialErr
	}
	if len(h.next) == 0 {
		return nil, io.ErrUnexpectedEOF
	}
	c := h.next[0]
	h.next = h.next[1:]
	c.id = id
	h.clients = append(h.clients, c)
	return c, nil
}

// quiet keeps the tickers out of the way.
var quiet = Config{BalanceInterval: time.Hour, FeeInterval: time.Hour}
