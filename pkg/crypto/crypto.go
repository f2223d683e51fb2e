package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// SeedSize is the length of seeds accepted by KeyPairFromSeed.
const SeedSize = ed25519.SeedSize

// KeyPair holds an ed25519 key pair derived from a seed.
type KeyPair struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// PublicKeyHex returns the hex encoded public key, used as a record owner key.
func (k KeyPair) PublicKeyHex() string {
	return hex.EncodeToString(k.PublicKey)
}

// GenerateToken returns a random URL-safe token of the requested byte length.
func GenerateToken(length int) (string, error) {
	buffer := make([]byte, length)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buffer), nil
}

// KeyPairFromSeed deterministically builds an ed25519 key pair from a 32 byte seed.
func KeyPairFromSeed(seed []byte) (KeyPair, error) {
	if len(seed) != SeedSize {
		return KeyPair{}, fmt.Errorf("keypair: seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	private := ed25519.NewKeyFromSeed(seed)
	public, ok := private.Public().(ed25519.PublicKey)
	if !ok {
		return KeyPair{}, errors.New("keypair: unexpected public key type")
	}
	return KeyPair{PublicKey: public, PrivateKey: private}, nil
}

// DeriveChildSeed derives a seed bound to the supplied label (for example an
// application domain) from a parent seed using HKDF-SHA256.
func DeriveChildSeed(parent []byte, label string) ([]byte, error) {
	if len(parent) == 0 {
		return nil, errors.New("hkdf: parent seed is required")
	}
	if label == "" {
		return nil, errors.New("hkdf: label is required")
	}

	salt := sha256.Sum256([]byte(label))
	reader := hkdf.New(sha256.New, parent, salt[:], []byte("child-seed:"+label))

	child := make([]byte, SeedSize)
	if _, err := io.ReadFull(reader, child); err != nil {
		return nil, fmt.Errorf("hkdf: read child seed: %w", err)
	}
	return child, nil
}

// Sign signs message with the private key of the pair.
func (k KeyPair) Sign(message []byte) []byte {
	return ed25519.Sign(k.PrivateKey, message)
}

// Verify reports whether signature is a valid signature of message by the hex encoded public key.
func Verify(publicKeyHex string, message, signature []byte) bool {
	raw, err := hex.DecodeString(publicKeyHex)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(raw), message, signature)
}
