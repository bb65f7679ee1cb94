package ledger

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vultisig/walletd/internal/identity"
	"github.com/vultisig/walletd/internal/principal"
)

// Request metadata carrying the caller's signature.
const (
	MetadataSender    = "x-ledger-sender"
	MetadataPublicKey = "x-ledger-pubkey"
	MetadataTimestamp = "x-ledger-timestamp"
	MetadataSignature = "x-ledger-signature"
)

// signedCredentials signs every call with the bound identity. The signed
// payload is method, sender and timestamp joined by newlines.
type signedCredentials struct {
	id     *identity.Identity
	secure bool
	now    func() time.Time
}

func newSignedCredentials(id *identity.Identity, secure bool) *signedCredentials {
	return &signedCredentials{id: id, secure: secure, now: time.Now}
}

// GetRequestMetadata fails with Unauthenticated once the identity has
// expired, so nothing is signed with a lapsed key.
func (c *signedCredentials) GetRequestMetadata(ctx context.Context, _ ...string) (map[string]string, error) {
	if c.id.Expired(c.now()) {
		return nil, status.Errorf(codes.Unauthenticated, "identity expired at %s", c.id.ExpiresAt().Format(time.RFC3339))
	}
	ri, ok := credentials.RequestInfoFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("no request info in context")
	}
	sender := c.id.Principal().String()
	ts := strconv.FormatInt(c.now().UnixNano(), 10)
	sig := c.id.Sign(signingPayload(ri.Method, sender, ts))

	return map[string]string{
		MetadataSender:    sender,
		MetadataPublicKey: hex.EncodeToString(c.id.PublicKey()),
		MetadataTimestamp: ts,
		MetadataSignature: hex.EncodeToString(sig),
	}, nil
}

func (c *signedCredentials) RequireTransportSecurity() bool {
	return c.secure
}

func signingPayload(method, sender, ts string) []byte {
	return []byte(method + "\n" + sender + "\n" + ts)
}

// VerifyRequest checks the signed metadata of an incoming call and returns
// the caller principal.
func VerifyRequest(md metadata.MD, method string, now time.Time, maxSkew time.Duration) (principal.Principal, error) {
	get := func(key string) (string, error) {
		v := md.Get(key)
		if len(v) != 1 || v[0] == "" {
			return "", fmt.Errorf("missing %s", key)
		}
		return v[0], nil
	}

	senderText, err := get(MetadataSender)
	if err != nil {
		return principal.Principal{}, err
	}
	pubHex, err := get(MetadataPublicKey)
	if err != nil {
		return principal.Principal{}, err
	}
	ts, err := get(MetadataTimestamp)
	if err != nil {
		return principal.Principal{}, err
	}
	sigHex, err := get(MetadataSignature)
	if err != nil {
		return principal.Principal{}, err
	}

	sender, err := principal.FromText(senderText)
	if err != nil {
		return principal.Principal{}, fmt.Errorf("invalid sender: %w", err)
	}
	pub, err := hex.DecodeString(pubHex)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return principal.Principal{}, fmt.Errorf("invalid public key")
	}
	if !principal.SelfAuthenticating(pub).Equal(sender) {
		return principal.Principal{}, fmt.Errorf("public key does not match sender %s", sender)
	}

	nanos, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return principal.Principal{}, fmt.Errorf("invalid timestamp: %w", err)
	}
	skew := now.Sub(time.Unix(0, nanos))
	if skew > maxSkew || skew < -maxSkew {
		return principal.Principal{}, fmt.Errorf("request timestamp outside allowed skew of %s", maxSkew)
	}

	sig, err := hex.DecodeString(sigHex)
	if err != nil || !ed25519.Verify(pub, signingPayload(method, senderText, ts), sig) {
		return principal.Principal{}, fmt.Errorf("invalid signature")
	}
	return sender, nil
}
