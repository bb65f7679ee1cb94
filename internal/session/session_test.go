package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vultisig/walletd/internal/ledger"
)

func TestLoginLogout(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient(1_000_000, 10_000)
	h := newHarness(t, quiet, client)
	s := h.session

	assert.Equal(t, SignedOut, s.State())
	require.NoError(t, s.Login(ctx))
	assert.Equal(t, Authenticated, s.State())

	cached := s.Cached()
	assert.Equal(t, uint64(1_000_000), cached.Balance.Uint64())
	assert.Equal(t, uint64(10_000), cached.Fee.Uint64())
	assert.False(t, cached.BalanceSyncedAt.IsZero())
	assert.Equal(t, 1, client.snapshot().refreshCalls, "login runs the fee refresh step once")

	p, err := s.Principal()
	require.NoError(t, err)
	assert.True(t, p.Equal(h.provider.id.Principal()))

	require.NoError(t, s.Logout(ctx))
	assert.Equal(t, SignedOut, s.State())
	assert.True(t, s.Cached().Balance.IsZero())
	assert.True(t, s.Cached().Fee.IsZero())
	assert.True(t, client.snapshot().closed)
	assert.Equal(t, 1, h.provider.logoutCount())

	_, err = s.Principal()
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestLogoutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, quiet, newFakeClient(5, 1))
	s := h.session

	require.NoError(t, s.Logout(ctx), "logout while signed out")
	assert.Equal(t, 0, h.provider.logoutCount())

	require.NoError(t, s.Login(ctx))
	require.NoError(t, s.Logout(ctx))
	first := s.View()
	gen := s.gen

	require.NoError(t, s.Logout(ctx))
	assert.Equal(t, first, s.View())
	assert.Equal(t, gen, s.gen)
	assert.Equal(t, 1, h.provider.logoutCount())
}

func TestResume(t *testing.T) {
	ctx := context.Background()

	t.Run("valid identity", func(t *testing.T) {
		h := newHarness(t, quiet, newFakeClient(7, 1))
		h.provider.authenticated = true

		ok, err := h.session.Resume(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, Authenticated, h.session.State())
		assert.Equal(t, uint64(7), h.session.Cached().Balance.Uint64())
	})

	t.Run("no identity", func(t *testing.T) {
		h := newHarness(t, quiet, newFakeClient(7, 1))

		ok, err := h.session.Resume(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, SignedOut, h.session.State())
	})
}

func TestLoginFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("provider rejects", func(t *testing.T) {
		h := newHarness(t, quiet)
		h.provider.loginErr = errors.New("user closed the window")

		err := h.session.Login(ctx)
		assert.ErrorIs(t, err, ErrLoginFailed)
		assert.Equal(t, SignedOut, h.session.State())
	})

	t.Run("cancelled", func(t *testing.T) {
		h := newHarness(t, quiet)
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		err := h.session.Login(cctx)
		assert.ErrorIs(t, err, ErrLoginFailed)
		assert.Equal(t, SignedOut, h.session.State())
	})

	t.Run("client construction fails", func(t *testing.T) {
		h := newHarness(t, quiet)
		h.dialErr = errors.New("bad endpoint")

		err := h.session.Login(ctx)
		assert.ErrorIs(t, err, ErrLoginFailed)
		assert.Equal(t, SignedOut, h.session.State())
		assert.Equal(t, 1, h.provider.logoutCount(), "establishment failure is a full logout")
	})

	t.Run("fee refresh fails", func(t *testing.T) {
		client := newFakeClient(1, 1)
		client.refreshErr = ledger.ErrUnauthorized
		h := newHarness(t, quiet, client)

		err := h.session.Login(ctx)
		assert.ErrorIs(t, err, ErrLoginFailed)
		assert.ErrorIs(t, err, ledger.ErrUnauthorized)
		assert.Equal(t, SignedOut, h.session.State())
		assert.True(t, client.snapshot().closed)
		assert.Equal(t, 1, h.provider.logoutCount())
	})

	t.Run("initial sync failure keeps the session", func(t *testing.T) {
		client := newFakeClient(1, 1)
		client.balanceErr = ledger.ErrNetwork
		h := newHarness(t, quiet, client)

		require.NoError(t, h.session.Login(ctx))
		assert.Equal(t, Authenticated, h.session.State())
		assert.True(t, h.session.Cached().Balance.IsZero())
		assert.Equal(t, uint64(1), h.session.Cached().Fee.Uint64())
	})
}

func TestFailedRefreshKeepsCachedValue(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient(100, 10)
	h := newHarness(t, quiet, client)
	s := h.session
	require.NoError(t, s.Login(ctx))
	before := s.Cached()

	client.set(func(f *fakeClient) {
		f.balance = uint256.NewInt(0)
		f.balanceErr = ledger.ErrNetwork
	})
	require.True(t, s.balance.trigger(false))
	require.Eventually(t, func() bool {
		return h.metrics.failureCount(fieldBalance) == 1
	}, time.Second, 5*time.Millisecond)

	client.set(func(f *fakeClient) {
		f.fee = uint256.NewInt(0)
		f.refreshErr = ledger.ErrNetwork
	})
	require.True(t, s.fee.trigger(false))
	require.Eventually(t, func() bool {
		return h.metrics.failureCount(fieldFee) == 1
	}, time.Second, 5*time.Millisecond)

	after := s.Cached()
	assert.Equal(t, uint64(100), after.Balance.Uint64())
	assert.Equal(t, uint64(10), after.Fee.Uint64())
	assert.True(t, before.BalanceSyncedAt.Equal(after.BalanceSyncedAt))
	assert.True(t, before.FeeSyncedAt.Equal(after.FeeSyncedAt))
	assert.Equal(t, Authenticated, s.State())
}

func TestReloginSupersedes(t *testing.T) {
	ctx := context.Background()
	old := newFakeClient(100, 1)
	fresh := newFakeClient(500, 1)
	h := newHarness(t, quiet, old, fresh)
	s := h.session

	require.NoError(t, s.Login(ctx))
	assert.Equal(t, uint64(100), s.Cached().Balance.Uint64())

	gate := make(chan struct{})
	old.set(func(f *fakeClient) { f.balanceGate = gate })
	require.True(t, s.balance.trigger(false))
	<-old.entered

	require.NoError(t, s.Login(ctx))
	assert.True(t, old.snapshot().closed)
	assert.Equal(t, uint64(500), s.Cached().Balance.Uint64())

	old.set(func(f *fakeClient) { f.balance = uint256.NewInt(999) })
	close(gate)

	require.Eventually(t, func() bool {
		return h.metrics.staleCount(fieldBalance) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(500), s.Cached().Balance.Uint64())
}

func TestLateResponseAfterLogout(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient(100, 1)
	h := newHarness(t, quiet, client)
	s := h.session

	require.NoError(t, s.Login(ctx))

	gate := make(chan struct{})
	client.set(func(f *fakeClient) { f.balanceGate = gate })
	require.True(t, s.balance.trigger(false))
	<-client.entered

	require.NoError(t, s.Logout(ctx))
	client.set(func(f *fakeClient) { f.balance = uint256.NewInt(42) })
	close(gate)

	require.Eventually(t, func() bool {
		return h.metrics.staleCount(fieldBalance) == 1
	}, time.Second, 5*time.Millisecond)
	assert.True(t, s.Cached().Balance.IsZero())
	assert.Equal(t, SignedOut, s.State())
}

func TestWhoami(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, quiet, newFakeClient(1, 1))

	_, err := h.session.Whoami(ctx)
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	require.NoError(t, h.session.Login(ctx))
	p, err := h.session.Whoami(ctx)
	require.NoError(t, err)
	assert.True(t, p.Equal(h.provider.id.Principal()))
}

func TestView(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, quiet, newFakeClient(1_234_567_890, 10_000))

	v := h.session.View()
	assert.Equal(t, "signed_out", v.State)
	assert.Empty(t, v.Account)
	assert.Equal(t, "0.000000", v.Balance)
	assert.Nil(t, v.BalanceSyncedAt)

	require.NoError(t, h.session.Login(ctx))
	v = h.session.View()
	assert.Equal(t, "authenticated", v.State)
	assert.Equal(t, h.provider.id.Principal().String(), v.Account)
	assert.Equal(t, "1,234.567890", v.Balance)
	assert.Equal(t, "0.010000", v.Fee)
	assert.Equal(t, "1,234.557890", v.MaxWithdrawable)
	assert.NotNil(t, v.BalanceSyncedAt)
	assert.NotNil(t, v.FeeSyncedAt)
}

func TestCloseKeepsProviderIdentity(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient(1, 1)
	h := newHarness(t, quiet, client, newFakeClient(2, 1))

	require.NoError(t, h.session.Login(ctx))
	h.session.Close()
	assert.Equal(t, SignedOut, h.session.State())
	assert.True(t, client.snapshot().closed)
	assert.Equal(t, 0, h.provider.logoutCount())

	ok, err := h.session.Resume(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(2), h.session.Cached().Balance.Uint64())
}
