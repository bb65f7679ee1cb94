package ledger

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/vultisig/walletd/internal/identity"
	"github.com/vultisig/walletd/internal/principal"
)

// Variant selects the remote method set a Client speaks.
type Variant string

const (
	// VariantCanister is the token dApp backend: caller-is-subject balance,
	// explicit fee refresh step, withdraw without an explicit fee.
	VariantCanister Variant = "canister"
	// VariantICRC1 is a standard token ledger: explicit account balance,
	// no refresh step, transfer with fee/memo/created_at_time.
	VariantICRC1 Variant = "icrc1"
)

// SubaccountSize is the length of a non-default subaccount.
const SubaccountSize = 32

// Client is a typed facade over the remote ledger bound to one identity.
// It keeps no cache and performs no retries.
type Client interface {
	QueryBalance(ctx context.Context, account Account) (*uint256.Int, error)
	QueryFee(ctx context.Context) (*uint256.Int, error)
	// RefreshFee asks the ledger to recompute its fee so the next QueryFee
	// reflects current conditions. It is a no-op for variants without the step.
	RefreshFee(ctx context.Context) error
	Transfer(ctx context.Context, req TransferRequest) (Receipt, error)
	Whoami(ctx context.Context) (principal.Principal, error)
	Close() error
}

type Account struct {
	Owner      principal.Principal
	Subaccount []byte
}

type TransferRequest struct {
	To     Account
	Amount *uint256.Int
	Fee    *uint256.Int
	// Memo and CreatedAt let the ledger deduplicate a replayed request.
	Memo      []byte
	CreatedAt time.Time
}

// Receipt of an accepted transfer. BlockIndex is nil when the variant does
// not report one.
type Receipt struct {
	BlockIndex *uint256.Int
}

type Config struct {
	Endpoint    string        `envconfig:"ENDPOINT" default:"localhost:50051"`
	Variant     Variant       `envconfig:"VARIANT" default:"icrc1"`
	Insecure    bool          `envconfig:"INSECURE" default:"false"`
	TLSCertPath string        `envconfig:"TLS_CERT_PATH"`
	CallTimeout time.Duration `envconfig:"CALL_TIMEOUT" default:"30s"`
}

// New connects a Client of the configured variant bound to id. Extra dial
// options are appended after the defaults.
func New(cfg Config, id *identity.Identity, opts ...grpc.DialOption) (Client, error) {
	if id == nil {
		return nil, fmt.Errorf("identity cannot be nil")
	}

	transport, err := transportCredentials(cfg)
	if err != nil {
		return nil, err
	}

	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(transport),
		grpc.WithPerRPCCredentials(newSignedCredentials(id, !cfg.Insecure)),
	}
	dialOpts = append(dialOpts, opts...)

	cc, err := grpc.NewClient(cfg.Endpoint, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger connection to %s: %w", cfg.Endpoint, err)
	}
	c := &conn{cc: cc, id: id, timeout: cfg.CallTimeout}

	switch cfg.Variant {
	case VariantCanister:
		return &canisterClient{conn: c}, nil
	case VariantICRC1:
		return &icrc1Client{conn: c}, nil
	default:
		_ = cc.Close()
		return nil, fmt.Errorf("unknown ledger variant: %q", cfg.Variant)
	}
}

func transportCredentials(cfg Config) (credentials.TransportCredentials, error) {
	if cfg.TLSCertPath != "" {
		creds, err := credentials.NewClientTLSFromFile(cfg.TLSCertPath, "")
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS cert: %w", err)
		}
		return creds, nil
	}
	if cfg.Insecure {
		return insecure.NewCredentials(), nil
	}
	return credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12}), nil
}
