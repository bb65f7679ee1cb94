package principal

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSeed() []byte {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i)
	}
	return seed
}

func TestSelfAuthenticating(t *testing.T) {
	key := ed25519.NewKeyFromSeed(testSeed())
	p := SelfAuthenticating(key.Public().(ed25519.PublicKey))

	assert.Equal(t, "yavxl-ppty4-enezb-hcalr-cdgzv-zoexx-7od3c-urvk6-rfzs4-552ct-7ae", p.String())
	assert.Len(t, p.Bytes(), MaxLength)
	assert.False(t, p.IsAnonymous())
}

func TestFromText(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr bool
	}{
		{"management", "aaaaa-aa", false},
		{"anonymous", "2vxsx-fae", false},
		{"self authenticating", "yavxl-ppty4-enezb-hcalr-cdgzv-zoexx-7od3c-urvk6-rfzs4-552ct-7ae", false},
		{"empty", "", true},
		{"upper case", "AAAAA-AA", true},
		{"missing dashes", "aaaaaaa", true},
		{"bad checksum", "zavxl-ppty4-enezb-hcalr-cdgzv-zoexx-7od3c-urvk6-rfzs4-552ct-7ae", true},
		{"not base32", "hello-world!", true},
		{"too short", "aa", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := FromText(tt.text)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalid)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.text, p.String())
		})
	}
}

func TestAnonymous(t *testing.T) {
	p := MustFromText("2vxsx-fae")
	assert.True(t, p.IsAnonymous())
	assert.True(t, p.Equal(Anonymous))
}

func TestFromBytes_TooLong(t *testing.T) {
	_, err := FromBytes(make([]byte, MaxLength+1))
	require.ErrorIs(t, err, ErrInvalid)
}

func TestTextMarshaling(t *testing.T) {
	want := MustFromText("aaaaa-aa")
	text, err := want.MarshalText()
	require.NoError(t, err)

	var got Principal
	require.NoError(t, got.UnmarshalText(text))
	assert.True(t, want.Equal(got))
	assert.Error(t, got.UnmarshalText([]byte("nope")))
}
