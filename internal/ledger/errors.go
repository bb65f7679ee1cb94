package ledger

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrNetwork covers transport failures and unavailable ledgers.
	ErrNetwork = errors.New("ledger unreachable")
	// ErrUnauthorized is returned when the ledger rejects the caller identity.
	ErrUnauthorized = errors.New("ledger rejected caller")
	// ErrProtocol is returned for responses that do not match the method contract.
	ErrProtocol = errors.New("malformed ledger response")
)

// LedgerError is a failure declared by the ledger itself. Error returns the
// ledger's reason verbatim.
type LedgerError struct {
	Reason string
}

func (e *LedgerError) Error() string {
	return e.Reason
}

// mapRPC classifies a gRPC error. Server-declared failures never travel as
// status errors; they come back as an err result.
func mapRPC(method string, err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%w: %s: %v", ErrNetwork, method, err)
	}

	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("%w: %s: %s", ErrUnauthorized, method, st.Message())
	default:
		return fmt.Errorf("%w: %s: %s: %s", ErrNetwork, method, st.Code(), st.Message())
	}
}
