package adapter

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// Treasury is the custodial signing key that funds claims.
// It is constructed once at startup and never rendered in logs.
type Treasury struct {
	key       solana.PrivateKey
	publicKey solana.PublicKey
}

// ParseTreasury accepts a solana-keygen JSON byte array or a base58 encoded secret key
func ParseTreasury(raw string) (*Treasury, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("treasury key is empty")
	}

	var key solana.PrivateKey
	if strings.HasPrefix(raw, "[") {
		var ints []int
		if err := json.Unmarshal([]byte(raw), &ints); err != nil {
			return nil, fmt.Errorf("treasury key is not a JSON byte array: %w", err)
		}
		buf := make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("treasury key byte %d out of range", i)
			}
			buf[i] = byte(v)
		}
		key = solana.PrivateKey(buf)
	} else {
		decoded, err := solana.PrivateKeyFromBase58(raw)
		if err != nil {
			return nil, fmt.Errorf("treasury key is not base58: %w", err)
		}
		key = decoded
	}

	return newTreasury(key)
}

// LoadTreasuryFile reads a solana-keygen keypair file
func LoadTreasuryFile(path string) (*Treasury, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read treasury keypair file: %w", err)
	}
	return newTreasury(key)
}

// NewTreasury wraps an already decoded key
func NewTreasury(key solana.PrivateKey) (*Treasury, error) {
	return newTreasury(key)
}

func newTreasury(key solana.PrivateKey) (*Treasury, error) {
	if len(key) != 64 {
		return nil, fmt.Errorf("treasury key must be 64 bytes, got %d", len(key))
	}
	return &Treasury{key: key, publicKey: key.PublicKey()}, nil
}

// PublicKey returns the treasury wallet address
func (t *Treasury) PublicKey() solana.PublicKey {
	return t.publicKey
}

// Address returns the base58 treasury wallet address
func (t *Treasury) Address() string {
	return t.publicKey.String()
}

// String never includes the secret key
func (t *Treasury) String() string {
	return fmt.Sprintf("Treasury(%s)", t.publicKey)
}

// GoString keeps %#v from dumping the key bytes
func (t *Treasury) GoString() string {
	return t.String()
}

// signer returns the private key for the treasury public key, nil for any other signer
func (t *Treasury) signer(key solana.PublicKey) *solana.PrivateKey {
	if key.Equals(t.publicKey) {
		return &t.key
	}
	return nil
}
