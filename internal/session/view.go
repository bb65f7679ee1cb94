package session

import (
	"time"

	"github.com/holiman/uint256"

	"github.com/vultisig/walletd/internal/amount"
)

// View is the presentation snapshot of the session.
type View struct {
	State           string     `json:"state"`
	Account         string     `json:"account,omitempty"`
	Balance         string     `json:"balance"`
	Fee             string     `json:"fee"`
	MaxWithdrawable string     `json:"max_withdrawable"`
	BalanceSyncedAt *time.Time `json:"balance_synced_at,omitempty"`
	FeeSyncedAt     *time.Time `json:"fee_synced_at,omitempty"`
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		State:           s.state.String(),
		Balance:         amount.ToDisplay(s.cache.Balance),
		Fee:             amount.ToDisplay(s.cache.Fee),
		MaxWithdrawable: amount.ToDisplay(new(uint256.Int)),
	}
	if s.state == Authenticated {
		v.Account = s.id.Principal().String()
	}
	if m, err := maxWithdrawable(s.cache); err == nil {
		v.MaxWithdrawable = amount.ToDisplay(m)
	}
	if !s.cache.BalanceSyncedAt.IsZero() {
		t := s.cache.BalanceSyncedAt
		v.BalanceSyncedAt = &t
	}
	if !s.cache.FeeSyncedAt.IsZero() {
		t := s.cache.FeeSyncedAt
		v.FeeSyncedAt = &t
	}
	return v
}
