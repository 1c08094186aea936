// Package crypto wraps Ed25519 signing and key material handling for the
// three attestation roles and the server STH key.
package crypto

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/silexium-dev/silexium/pkg/errdefs"
)

// Signer signs with one Ed25519 key.
type Signer struct {
	priv  ed25519.PrivateKey
	pub   ed25519.PublicKey
	KeyID string
}

// NewSignerFromSeed builds a signer from a 32-byte Ed25519 seed. An empty
// keyID defaults to the hex of the public key.
func NewSignerFromSeed(seed []byte, keyID string) (*Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	if keyID == "" {
		keyID = hex.EncodeToString(pub)
	}
	return &Signer{priv: priv, pub: pub, KeyID: keyID}, nil
}

// Sign returns the lowercase hex signature over data.
func (s *Signer) Sign(data []byte) string {
	return hex.EncodeToString(ed25519.Sign(s.priv, data))
}

// PublicKeyBytes returns the raw 32-byte public key.
func (s *Signer) PublicKeyBytes() []byte {
	return append([]byte(nil), s.pub...)
}

// PublicKeyHex returns the public key as lowercase hex.
func (s *Signer) PublicKeyHex() string {
	return hex.EncodeToString(s.pub)
}

// Verify checks a hex signature over message against a raw public key.
func Verify(publicKey, message []byte, signatureHex string) error {
	if len(publicKey) != ed25519.PublicKeySize {
		return fmt.Errorf("public key must be %d bytes, got %d: %w", ed25519.PublicKeySize, len(publicKey), errdefs.ErrSignatureInvalid)
	}
	sig, err := hex.DecodeString(signatureHex)
	if err != nil {
		return fmt.Errorf("signature hex: %v: %w", err, errdefs.ErrSignatureInvalid)
	}
	if len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("signature must be %d bytes, got %d: %w", ed25519.SignatureSize, len(sig), errdefs.ErrSignatureInvalid)
	}
	if !ed25519.Verify(ed25519.PublicKey(publicKey), message, sig) {
		return errdefs.ErrSignatureInvalid
	}
	return nil
}

// LoadKeyBytes reads 32 bytes of key material from path. The file may hold
// either the raw bytes or their 64-char hex form with surrounding whitespace.
func LoadKeyBytes(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key %s: %w", path, err)
	}
	if len(raw) == 32 {
		return raw, nil
	}
	decoded, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("key %s is neither 32 raw bytes nor hex: %w", path, err)
	}
	if len(decoded) != 32 {
		return nil, fmt.Errorf("key %s must decode to 32 bytes, got %d", path, len(decoded))
	}
	return decoded, nil
}
