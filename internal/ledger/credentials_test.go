package ledger

import (
	"bytes"
	"context"
	"encoding/hex"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vultisig/walletd/internal/identity"
)

func signedMD(id *identity.Identity, method string, at time.Time) metadata.MD {
	sender := id.Principal().String()
	ts := strconv.FormatInt(at.UnixNano(), 10)
	return metadata.Pairs(
		MetadataSender, sender,
		MetadataPublicKey, hex.EncodeToString(id.PublicKey()),
		MetadataTimestamp, ts,
		MetadataSignature, hex.EncodeToString(id.Sign(signingPayload(method, sender, ts))),
	)
}

func TestVerifyRequest(t *testing.T) {
	id, err := identity.FromSeed(bytes.Repeat([]byte{3}, 32), time.Time{})
	require.NoError(t, err)
	other, err := identity.FromSeed(bytes.Repeat([]byte{4}, 32), time.Time{})
	require.NoError(t, err)
	now := time.Unix(1_700_000_000, 0)

	p, err := VerifyRequest(signedMD(id, MethodFee, now), MethodFee, now, time.Minute)
	require.NoError(t, err)
	assert.True(t, p.Equal(id.Principal()))

	_, err = VerifyRequest(signedMD(id, MethodFee, now), MethodTransfer, now, time.Minute)
	assert.Error(t, err, "signature is bound to the method")

	_, err = VerifyRequest(signedMD(id, MethodFee, now.Add(-2*time.Minute)), MethodFee, now, time.Minute)
	assert.Error(t, err, "stale timestamp")

	md := signedMD(id, MethodFee, now)
	md.Set(MetadataPublicKey, hex.EncodeToString(other.PublicKey()))
	_, err = VerifyRequest(md, MethodFee, now, time.Minute)
	assert.Error(t, err, "public key must match sender")

	md = signedMD(id, MethodFee, now)
	md.Delete(MetadataSignature)
	_, err = VerifyRequest(md, MethodFee, now, time.Minute)
	assert.Error(t, err)
}

func TestSignedCredentialsRefuseExpiredIdentity(t *testing.T) {
	expires := time.Unix(1_700_000_000, 0)
	id, err := identity.FromSeed(bytes.Repeat([]byte{3}, 32), expires)
	require.NoError(t, err)

	creds := newSignedCredentials(id, false)
	creds.now = func() time.Time { return expires }

	_, err = creds.GetRequestMetadata(context.Background())
	require.Error(t, err)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
	assert.ErrorIs(t, mapRPC(MethodFee, err), ErrUnauthorized)
}

func TestDecodeResult(t *testing.T) {
	ok, err := decodeResult(MethodTransfer, Result(structpb.NewStringValue("7")))
	require.NoError(t, err)
	assert.Equal(t, "7", ok.GetStringValue())

	_, err = decodeResult(MethodTransfer, Reject("InsufficientFunds"))
	var le *LedgerError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "InsufficientFunds", le.Reason)

	variant := &structpb.Struct{Fields: map[string]*structpb.Value{
		"err": structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"BadFee": structpb.NewNullValue(),
		}}),
	}}
	_, err = decodeResult(MethodTransfer, variant)
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "BadFee", le.Reason)

	_, err = decodeResult(MethodTransfer, &structpb.Struct{})
	assert.ErrorIs(t, err, ErrProtocol)
}
