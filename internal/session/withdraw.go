package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/walletd/internal/amount"
	"github.com/vultisig/walletd/internal/ledger"
	"github.com/vultisig/walletd/internal/principal"
)

// Withdrawal outcomes reported to metrics.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
	OutcomeInvalid  = "invalid"
)

// Withdraw validates the request against the cached balance and fee and
// dispatches it. Ledger failures are returned unwrapped and leave the cache
// untouched. It never retries.
func (s *Session) Withdraw(ctx context.Context, amountText, recipientText string) (ledger.Receipt, error) {
	s.mu.Lock()
	if s.state != Authenticated {
		s.mu.Unlock()
		return ledger.Receipt{}, ErrNotAuthenticated
	}
	if s.withdrawing {
		s.mu.Unlock()
		return ledger.Receipt{}, ErrWithdrawalInProgress
	}

	to, units, err := s.checkLocked(amountText, recipientText)
	if err != nil {
		s.mu.Unlock()
		s.metrics.RecordWithdrawal(OutcomeInvalid, 0)
		return ledger.Receipt{}, err
	}

	// withdrawing spans generations so a re-login cannot start a second
	// dispatch while the first is still with the ledger.
	s.withdrawing = true
	gen := s.gen
	client := s.client
	fee := s.cache.Fee.Clone()
	balance := s.balance
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.withdrawing = false
		s.mu.Unlock()
	}()

	memo := uuid.New()
	logger := s.logger.WithFields(logrus.Fields{
		"to":     to.String(),
		"amount": amount.ToPlain(units),
		"fee":    amount.ToPlain(fee),
		"memo":   memo.String(),
		"gen":    gen,
	})
	logger.Info("dispatching withdrawal")

	start := time.Now()
	receipt, err := client.Transfer(ctx, ledger.TransferRequest{
		To:        ledger.Account{Owner: to},
		Amount:    units,
		Fee:       fee,
		Memo:      memo[:],
		CreatedAt: s.now(),
	})
	if err != nil {
		var le *ledger.LedgerError
		if errors.As(err, &le) {
			s.metrics.RecordWithdrawal(OutcomeRejected, time.Since(start))
		} else {
			s.metrics.RecordWithdrawal(OutcomeFailed, time.Since(start))
		}
		logger.WithError(err).Warn("withdrawal failed")
		return ledger.Receipt{}, err
	}
	s.metrics.RecordWithdrawal(OutcomeSuccess, time.Since(start))

	if receipt.BlockIndex != nil {
		logger = logger.WithField("block", receipt.BlockIndex.Dec())
	}
	logger.Info("withdrawal accepted")

	balance.trigger(true)
	return receipt, nil
}

// checkLocked runs the local validation: recipient, amount, then the
// amount plus fee against the cached balance.
func (s *Session) checkLocked(amountText, recipientText string) (principal.Principal, *uint256.Int, error) {
	to, err := principal.FromText(strings.TrimSpace(recipientText))
	if err != nil {
		return principal.Principal{}, nil, fmt.Errorf("%w: %v", ErrInvalidRecipient, err)
	}
	units, err := amount.ToBaseUnits(amountText)
	if err != nil {
		return principal.Principal{}, nil, fmt.Errorf("%w: %w", ErrInvalidAmount, err)
	}
	need, overflow := new(uint256.Int).AddOverflow(units, s.cache.Fee)
	if overflow || need.Gt(s.cache.Balance) {
		return principal.Principal{}, nil, fmt.Errorf("%w: need %s, have %s",
			ErrInsufficientBalance, amount.ToDisplay(need), amount.ToDisplay(s.cache.Balance))
	}
	return to, units, nil
}
