package identity

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/hkdf"
)

const (
	rootKeyFile = "root.key"
	sessionFile = "session.json"
	hkdfInfo    = "walletd-session-v1"
)

type Config struct {
	Dir        string        `envconfig:"DIR" default:".walletd"`
	SessionTTL time.Duration `envconfig:"SESSION_TTL" default:"24h"`
}

// Keystore is a local identity provider. A device root seed is created on
// first login; the signing key is derived from it with HKDF, so the
// principal is stable across logins. Login writes a session record with an
// expiry and Logout removes it, leaving the root seed in place.
type Keystore struct {
	dir    string
	ttl    time.Duration
	now    func() time.Time
	logger *logrus.Entry
	mu     sync.Mutex
}

type sessionRecord struct {
	ExpiresAt time.Time `json:"expires_at"`
}

func NewKeystore(cfg Config, logger *logrus.Logger) (*Keystore, error) {
	if cfg.Dir == "" {
		return nil, errors.New("keystore dir cannot be empty")
	}
	if cfg.SessionTTL <= 0 {
		return nil, fmt.Errorf("session ttl must be positive, got %s", cfg.SessionTTL)
	}
	err := os.MkdirAll(cfg.Dir, 0o700)
	if err != nil {
		return nil, fmt.Errorf("failed to create keystore dir: %w", err)
	}
	return &Keystore{
		dir:    cfg.Dir,
		ttl:    cfg.SessionTTL,
		now:    time.Now,
		logger: logger.WithField("pkg", "identity.Keystore"),
	}, nil
}

func (k *Keystore) IsAuthenticated(ctx context.Context) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	rec, err := k.readSession()
	if err != nil {
		if errors.Is(err, ErrNotAuthenticated) {
			return false, nil
		}
		return false, err
	}
	return k.now().Before(rec.ExpiresAt), nil
}

func (k *Keystore) GetIdentity(ctx context.Context) (*Identity, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	rec, err := k.readSession()
	if err != nil {
		return nil, err
	}
	if !k.now().Before(rec.ExpiresAt) {
		return nil, fmt.Errorf("%w: session expired at %s", ErrNotAuthenticated, rec.ExpiresAt.Format(time.RFC3339))
	}
	root, err := k.readRootSeed()
	if err != nil {
		return nil, err
	}
	return deriveIdentity(root, rec.ExpiresAt)
}

func (k *Keystore) Login(ctx context.Context) (*Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("login cancelled: %w", err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	root, err := k.readRootSeed()
	if errors.Is(err, os.ErrNotExist) {
		root, err = k.createRootSeed()
	}
	if err != nil {
		return nil, err
	}

	rec := sessionRecord{ExpiresAt: k.now().Add(k.ttl).UTC()}
	err = k.writeSession(rec)
	if err != nil {
		return nil, err
	}

	id, err := deriveIdentity(root, rec.ExpiresAt)
	if err != nil {
		return nil, err
	}
	k.logger.WithField("principal", id.Principal().String()).Info("issued session identity")
	return id, nil
}

func (k *Keystore) Logout(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	err := os.Remove(filepath.Join(k.dir, sessionFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove session record: %w", err)
	}
	return nil
}

func deriveIdentity(root []byte, expiresAt time.Time) (*Identity, error) {
	seed := make([]byte, ed25519.SeedSize)
	_, err := io.ReadFull(hkdf.New(sha256.New, root, nil, []byte(hkdfInfo)), seed)
	if err != nil {
		return nil, fmt.Errorf("failed to derive session key: %w", err)
	}
	return FromSeed(seed, expiresAt)
}

func (k *Keystore) readSession() (sessionRecord, error) {
	b, err := os.ReadFile(filepath.Join(k.dir, sessionFile))
	if errors.Is(err, os.ErrNotExist) {
		return sessionRecord{}, ErrNotAuthenticated
	}
	if err != nil {
		return sessionRecord{}, fmt.Errorf("failed to read session record: %w", err)
	}
	var rec sessionRecord
	err = json.Unmarshal(b, &rec)
	if err != nil {
		return sessionRecord{}, fmt.Errorf("failed to unmarshal session record: %w", err)
	}
	return rec, nil
}

func (k *Keystore) writeSession(rec sessionRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal session record: %w", err)
	}
	err = os.WriteFile(filepath.Join(k.dir, sessionFile), b, 0o600)
	if err != nil {
		return fmt.Errorf("failed to write session record: %w", err)
	}
	return nil
}

func (k *Keystore) readRootSeed() ([]byte, error) {
	b, err := os.ReadFile(filepath.Join(k.dir, rootKeyFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read root key: %w", err)
	}
	seed, err := hex.DecodeString(strings.TrimSpace(string(b)))
	if err != nil {
		return nil, fmt.Errorf("failed to decode root key: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("root key must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return seed, nil
}

func (k *Keystore) createRootSeed() ([]byte, error) {
	seed := make([]byte, ed25519.SeedSize)
	_, err := rand.Read(seed)
	if err != nil {
		return nil, fmt.Errorf("failed to generate root key: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(k.dir, rootKeyFile), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to create root key: %w", err)
	}
	defer f.Close()

	_, err = f.WriteString(hex.EncodeToString(seed) + "\n")
	if err != nil {
		return nil, fmt.Errorf("failed to write root key: %w", err)
	}
	k.logger.Info("created device root key")
	return seed, nil
}
