// Package memledger is an in-memory ledger serving both wire variants. It
// backs the development ledger binary and the client tests.
package memledger

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/walletd/internal/amount"
	"github.com/vultisig/walletd/internal/ledger"
	"github.com/vultisig/walletd/internal/principal"
)

// Rejection reasons returned in err results.
const (
	ReasonInsufficientFunds = "InsufficientFunds"
	ReasonBadFee            = "BadFee"
	ReasonDuplicate         = "Duplicate"
	ReasonTooOld            = "TooOld"
	ReasonCreatedInFuture   = "CreatedInFuture"
	ReasonInvalidRecipient  = "InvalidRecipient"
	ReasonInvalidAmount     = "InvalidAmount"
)

const (
	// TransferWindow is how long created_at_time stays valid for dedup.
	TransferWindow = 24 * time.Hour
	// PermittedDrift is the accepted clock difference for created_at_time.
	PermittedDrift = 2 * time.Minute
)

// Ledger keeps balances per account. The canister fee only changes on
// UpdateFee while the network fee can move at any time.
type Ledger struct {
	mu         sync.Mutex
	balances   map[string]*uint256.Int
	networkFee *uint256.Int
	appliedFee *uint256.Int
	blocked    map[string]bool
	seen       map[string]uint64
	height     uint64
	now        func() time.Time
	logger     *logrus.Entry
}

func New(fee *uint256.Int, logger *logrus.Logger) *Ledger {
	return &Ledger{
		balances:   make(map[string]*uint256.Int),
		networkFee: fee.Clone(),
		appliedFee: fee.Clone(),
		blocked:    make(map[string]bool),
		seen:       make(map[string]uint64),
		now:        time.Now,
		logger:     logger.WithField("pkg", "memledger"),
	}
}

func accountKey(a ledger.Account) string {
	if len(a.Subaccount) == 0 || isZero(a.Subaccount) {
		return a.Owner.String()
	}
	return a.Owner.String() + "." + hex.EncodeToString(a.Subaccount)
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func (l *Ledger) balanceLocked(key string) *uint256.Int {
	if b, ok := l.balances[key]; ok {
		return b
	}
	return new(uint256.Int)
}

// Mint credits units to the default account of owner.
func (l *Ledger) Mint(owner principal.Principal, units *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := accountKey(ledger.Account{Owner: owner})
	sum, overflow := new(uint256.Int).AddOverflow(l.balanceLocked(key), units)
	if overflow || sum.Gt(amount.Max) {
		return fmt.Errorf("mint overflows balance of %s", owner)
	}
	l.balances[key] = sum
	l.logger.WithFields(logrus.Fields{
		"owner":  owner.String(),
		"amount": amount.ToPlain(units),
	}).Info("minted")
	return nil
}

func (l *Ledger) Balance(account ledger.Account) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balanceLocked(accountKey(account)).Clone()
}

// SetNetworkFee moves the network fee. The canister fee follows on the next UpdateFee.
func (l *Ledger) SetNetworkFee(fee *uint256.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.networkFee = fee.Clone()
}

// Block makes every call from p fail as unauthorized.
func (l *Ledger) Block(p principal.Principal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.blocked[p.String()] = true
}

func (l *Ledger) Unblock(p principal.Principal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.blocked, p.String())
}

func (l *Ledger) isBlocked(p principal.Principal) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.blocked[p.String()]
}

// Height is the number of accepted transfers.
func (l *Ledger) Height() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.height
}

func (l *Ledger) fee(canister bool) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if canister {
		return l.appliedFee.Clone()
	}
	return l.networkFee.Clone()
}

func (l *Ledger) applyFee() *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.appliedFee = l.networkFee.Clone()
	return l.appliedFee.Clone()
}

type transfer struct {
	from      ledger.Account
	to        ledger.Account
	amount    *uint256.Int
	fee       *uint256.Int
	memo      string
	createdAt *time.Time
}

// apply moves amount plus fee out of from. The fee is burned. It returns
// the block index or a rejection reason.
func (l *Ledger) apply(t transfer) (uint64, string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if t.amount.IsZero() {
		return 0, ReasonInvalidAmount
	}

	var dedupKey string
	if t.createdAt != nil {
		now := l.now()
		if t.createdAt.Before(now.Add(-TransferWindow - PermittedDrift)) {
			return 0, ReasonTooOld
		}
		if t.createdAt.After(now.Add(PermittedDrift)) {
			return 0, ReasonCreatedInFuture
		}
		dedupKey = accountKey(t.from) + "|" + t.memo + "|" + strconv.FormatInt(t.createdAt.UnixNano(), 10)
		if _, ok := l.seen[dedupKey]; ok {
			return 0, ReasonDuplicate
		}
	}

	fromKey := accountKey(t.from)
	debit, overflow := new(uint256.Int).AddOverflow(t.amount, t.fee)
	balance := l.balanceLocked(fromKey)
	if overflow || debit.Gt(balance) {
		return 0, ReasonInsufficientFunds
	}

	toKey := accountKey(t.to)
	credit, overflow := new(uint256.Int).AddOverflow(l.balanceLocked(toKey), t.amount)
	if overflow || credit.Gt(amount.Max) {
		return 0, ReasonInvalidAmount
	}

	l.balances[fromKey] = new(uint256.Int).Sub(balance, debit)
	// Re-read: from and to may be the same account.
	l.balances[toKey] = new(uint256.Int).Add(l.balanceLocked(toKey), t.amount)

	index := l.height
	l.height++
	if dedupKey != "" {
		l.seen[dedupKey] = index
	}

	l.logger.WithFields(logrus.Fields{
		"from":   fromKey,
		"to":     toKey,
		"amount": amount.ToPlain(t.amount),
		"fee":    amount.ToPlain(t.fee),
		"block":  index,
	}).Info("transfer applied")
	return index, ""
}
