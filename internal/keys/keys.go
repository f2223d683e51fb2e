// Package keys turns login secrets into the ed25519 key pairs that own registry records.
package keys

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"github.com/charlesng35/skyprovider/pkg/crypto"
)

// Deriver derives key pairs from login secrets. A secret yields one root key pair that owns
// the identity record, and one child key pair per requesting application domain that owns
// that application's permission record.
type Deriver struct {
	salt   []byte
	params crypto.Argon2Parameters
}

// NewDeriver constructs a Deriver. The namespace (normally the provider URL) salts the
// secret stretching so the same secret yields different keys for different providers.
func NewDeriver(namespace string, params crypto.Argon2Parameters) (*Deriver, error) {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		return nil, errors.New("keys: namespace is required")
	}
	if params == (crypto.Argon2Parameters{}) {
		params = crypto.DefaultArgon2Params()
	}
	params.KeyLength = crypto.SeedSize
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("keys: %w", err)
	}

	sum := sha256.Sum256([]byte("skyprovider/login-seed:" + namespace))
	return &Deriver{salt: sum[:], params: params}, nil
}

func (d *Deriver) seed(secret string) ([]byte, error) {
	if secret == "" {
		return nil, errors.New("keys: secret is required")
	}
	return crypto.DeriveKeyArgon2id([]byte(secret), d.salt, d.params)
}

// Root returns the key pair owning the identity record for secret.
func (d *Deriver) Root(secret string) (crypto.KeyPair, error) {
	seed, err := d.seed(secret)
	if err != nil {
		return crypto.KeyPair{}, err
	}
	return crypto.KeyPairFromSeed(seed)
}

// Child returns the key pair owning the permission record of domain for secret.
func (d *Deriver) Child(secret, domain string) (crypto.KeyPair, error) {
	domain = NormalizeDomain(domain)
	if domain == "" {
		return crypto.KeyPair{}, errors.New("keys: domain is required")
	}
	seed, err := d.seed(secret)
	if err != nil {
		return crypto.KeyPair{}, err
	}
	child, err := crypto.DeriveChildSeed(seed, domain)
	if err != nil {
		return crypto.KeyPair{}, err
	}
	return crypto.KeyPairFromSeed(child)
}

// NormalizeDomain lowercases a domain and strips an http(s) scheme and trailing slash so
// "https://App.Example/" and "app.example" derive the same child key.
func NormalizeDomain(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	domain = strings.TrimPrefix(domain, "https://")
	domain = strings.TrimPrefix(domain, "http://")
	return strings.TrimSuffix(domain, "/")
}
