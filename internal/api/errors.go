package api

import (
	"errors"
	"net/http"

	"github.com/vultisig/walletd/internal/ledger"
	"github.com/vultisig/walletd/internal/session"
)

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

var sentinels = []struct {
	err    error
	status int
	code   string
}{
	{session.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{session.ErrInvalidRecipient, http.StatusBadRequest, "invalid_recipient"},
	{session.ErrInsufficientBalance, http.StatusConflict, "insufficient_balance"},
	{session.ErrWithdrawalInProgress, http.StatusConflict, "withdrawal_in_progress"},
	{session.ErrLoginInProgress, http.StatusConflict, "login_in_progress"},
	{session.ErrNotAuthenticated, http.StatusUnauthorized, "not_authenticated"},
	{session.ErrLoginFailed, http.StatusUnauthorized, "login_failed"},
	{ledger.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{ledger.ErrNetwork, http.StatusServiceUnavailable, "network_error"},
	{ledger.ErrProtocol, http.StatusBadGateway, "protocol_error"},
}

// classify maps a session or ledger error to its HTTP status and body. A
// ledger rejection carries the ledger's reason verbatim.
func classify(err error) (int, errorResponse) {
	var le *ledger.LedgerError
	if errors.As(err, &le) {
		return http.StatusBadGateway, errorResponse{Error: "ledger_error", Reason: le.Reason}
	}
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return s.status, errorResponse{Error: s.code, Reason: err.Error()}
		}
	}
	return http.StatusInternalServerError, errorResponse{Error: "internal", Reason: err.Error()}
}
