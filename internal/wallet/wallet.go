// Package wallet derives the agent's public identity and validates the
// ledger configuration during startup. Key material never leaves the
// process; signing and encryption live in other subsystems.
package wallet

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/argon2"

	"github.com/parleylabs/parley/internal/config"
)

// Identity is the agent's public identity: a DID derived from the first
// 16 bytes of the ed25519 verification key, both base58-encoded.
type Identity struct {
	DID    string
	Verkey string
	Label  string

	signingKey ed25519.PrivateKey
}

// SigningKey returns the private signing key for subsystems that need it.
func (i *Identity) SigningKey() ed25519.PrivateKey { return i.signingKey }

// IdentityFromSeed derives a deterministic identity from a 32-byte seed.
func IdentityFromSeed(seed []byte) (*Identity, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("wallet: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &Identity{
		DID:        base58.Encode(pub[:16]),
		Verkey:     base58.Encode(pub),
		signingKey: priv,
	}, nil
}

// seedFromSettings produces the identity seed: wallet.seed takes priority
// (hex or raw 32 bytes), then wallet.key stretched through argon2id with
// wallet.salt. Absent both, a fresh random seed yields an ephemeral
// identity.
func seedFromSettings(settings config.Settings, logger *slog.Logger) ([]byte, error) {
	if raw := settings.GetString("wallet.seed"); raw != "" {
		if decoded, err := hex.DecodeString(raw); err == nil && len(decoded) == ed25519.SeedSize {
			return decoded, nil
		}
		if len(raw) == ed25519.SeedSize {
			return []byte(raw), nil
		}
		return nil, fmt.Errorf("wallet: wallet.seed must be 32 raw bytes or 64 hex chars")
	}

	if key := settings.GetString("wallet.key"); key != "" {
		salt := []byte(settings.GetStringDefault("wallet.salt", "parley-wallet"))
		seed := argon2.IDKey([]byte(key), salt, 1, 64*1024, 4, ed25519.SeedSize)
		return seed, nil
	}

	logger.Warn("no wallet.seed or wallet.key configured, generating ephemeral identity")
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("wallet: generate seed: %w", err)
	}
	return seed, nil
}

// Configure derives the agent's public identity from settings and binds it
// into the injection context. Failure here is fatal to startup.
func Configure(conCtx *config.Context, logger *slog.Logger) (*Identity, error) {
	if logger == nil {
		logger = slog.Default()
	}

	seed, err := seedFromSettings(conCtx.Settings, logger)
	if err != nil {
		return nil, err
	}

	identity, err := IdentityFromSeed(seed)
	if err != nil {
		return nil, err
	}
	identity.Label = conCtx.Settings.GetStringDefault("default_label", "Parley Agent")

	conCtx.Injector.Bind(config.CapWalletIdentity, identity)
	logger.Info("wallet configured", "did", identity.DID, "label", identity.Label)
	return identity, nil
}
