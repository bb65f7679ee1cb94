// Package identity holds the signing identity of an authenticated user and
// the provider capability that issues it.
package identity

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/vultisig/walletd/internal/principal"
)

// ErrNotAuthenticated is returned when no valid identity is available.
var ErrNotAuthenticated = errors.New("not authenticated")

// Provider is the identity-provider capability. The session only reacts to
// its answers and never inspects how they were reached.
type Provider interface {
	// IsAuthenticated reports whether a previously issued identity is still valid.
	IsAuthenticated(ctx context.Context) (bool, error)
	// GetIdentity returns the currently valid identity or ErrNotAuthenticated.
	GetIdentity(ctx context.Context) (*Identity, error)
	// Login runs the authentication flow and returns the issued identity.
	Login(ctx context.Context) (*Identity, error)
	// Logout invalidates the issued identity.
	Logout(ctx context.Context) error
}

// Identity is an Ed25519 signing key plus the principal derived from it.
// It is immutable.
type Identity struct {
	key       ed25519.PrivateKey
	principal principal.Principal
	expiresAt time.Time
}

// FromSeed builds an identity from a 32-byte Ed25519 seed. A zero expiresAt
// never expires.
func FromSeed(seed []byte, expiresAt time.Time) (*Identity, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	key := ed25519.NewKeyFromSeed(seed)
	return &Identity{
		key:       key,
		principal: principal.SelfAuthenticating(key.Public().(ed25519.PublicKey)),
		expiresAt: expiresAt,
	}, nil
}

func (i *Identity) Principal() principal.Principal {
	return i.principal
}

func (i *Identity) PublicKey() ed25519.PublicKey {
	return i.key.Public().(ed25519.PublicKey)
}

func (i *Identity) Sign(msg []byte) []byte {
	return ed25519.Sign(i.key, msg)
}

func (i *Identity) ExpiresAt() time.Time {
	return i.expiresAt
}

func (i *Identity) Expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && !now.Before(i.expiresAt)
}
