// Package principal implements ledger account identifiers: opaque byte
// strings with a checksummed, dash-grouped base32 text form.
package principal

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"strings"
)

// MaxLength is the longest principal in bytes.
const MaxLength = 29

const (
	tagSelfAuthenticating = 0x02
	tagAnonymous          = 0x04
)

// ErrInvalid is returned when text does not encode a canonical principal.
var ErrInvalid = errors.New("invalid principal")

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// DER prefix of an Ed25519 SubjectPublicKeyInfo (RFC 8410).
var ed25519DERPrefix = []byte{0x30, 0x2a, 0x30, 0x05, 0x06, 0x03, 0x2b, 0x65, 0x70, 0x03, 0x21, 0x00}

// Principal identifies a ledger account independent of any session.
type Principal struct {
	raw string
}

// Anonymous is the principal of unauthenticated callers.
var Anonymous = Principal{raw: string([]byte{tagAnonymous})}

// FromBytes wraps raw principal bytes.
func FromBytes(b []byte) (Principal, error) {
	if len(b) > MaxLength {
		return Principal{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalid, len(b), MaxLength)
	}
	return Principal{raw: string(b)}, nil
}

// SelfAuthenticating derives the principal owned by an Ed25519 public key.
func SelfAuthenticating(pub ed25519.PublicKey) Principal {
	der := make([]byte, 0, len(ed25519DERPrefix)+len(pub))
	der = append(der, ed25519DERPrefix...)
	der = append(der, pub...)
	sum := sha256.Sum224(der)
	return Principal{raw: string(append(sum[:], tagSelfAuthenticating))}
}

// FromText parses the textual form, e.g. "2vxsx-fae". Only the canonical
// encoding is accepted.
func FromText(text string) (Principal, error) {
	if text == "" {
		return Principal{}, fmt.Errorf("%w: empty", ErrInvalid)
	}
	compact := strings.ToUpper(strings.ReplaceAll(text, "-", ""))
	decoded, err := encoding.DecodeString(compact)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %q: %v", ErrInvalid, text, err)
	}
	if len(decoded) < crc32.Size {
		return Principal{}, fmt.Errorf("%w: %q is too short", ErrInvalid, text)
	}

	checksum, raw := decoded[:crc32.Size], decoded[crc32.Size:]
	if binary.BigEndian.Uint32(checksum) != crc32.ChecksumIEEE(raw) {
		return Principal{}, fmt.Errorf("%w: %q has a bad checksum", ErrInvalid, text)
	}

	p, err := FromBytes(raw)
	if err != nil {
		return Principal{}, err
	}
	if p.String() != text {
		return Principal{}, fmt.Errorf("%w: %q is not canonical, expected %q", ErrInvalid, text, p.String())
	}
	return p, nil
}

// MustFromText is FromText that panics, for constants and tests.
func MustFromText(text string) Principal {
	p, err := FromText(text)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Principal) Bytes() []byte {
	return []byte(p.raw)
}

func (p Principal) IsAnonymous() bool {
	return p.raw == Anonymous.raw
}

func (p Principal) Equal(other Principal) bool {
	return p.raw == other.raw
}

func (p Principal) String() string {
	raw := []byte(p.raw)
	buf := make([]byte, crc32.Size, crc32.Size+len(raw))
	binary.BigEndian.PutUint32(buf, crc32.ChecksumIEEE(raw))
	buf = append(buf, raw...)

	enc := strings.ToLower(encoding.EncodeToString(buf))
	var out bytes.Buffer
	for i := 0; i < len(enc); i += 5 {
		if i > 0 {
			out.WriteByte('-')
		}
		end := min(i+5, len(enc))
		out.WriteString(enc[i:end])
	}
	return out.String()
}

func (p Principal) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Principal) UnmarshalText(text []byte) error {
	parsed, err := FromText(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
