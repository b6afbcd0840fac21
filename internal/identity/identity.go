// Package identity implements endpoint identity: the 32-byte public
// key that names a node on the overlay. Keys are Ed25519, generated
// once at startup and persisted by the caller; the identity string is
// the lowercase hex encoding of the public key, so stored identities
// compare case-insensitively.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// Identity is a node's stable overlay identity: an Ed25519 keypair
// whose public half is shared with peers.
type Identity struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// Generate creates a fresh random identity.
func Generate() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate identity key: %w", err)
	}
	return &Identity{Public: pub, Private: priv}, nil
}

// FromSeed deterministically reconstructs an identity from a 32-byte
// seed, so a node's identity can be persisted and restored across
// restarts without storing the full private key separately.
func FromSeed(seed []byte) (*Identity, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("identity seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Identity{Public: priv.Public().(ed25519.PublicKey), Private: priv}, nil
}

// String renders the public key as the canonical lowercase hex
// textual form used everywhere the identity is stored or compared.
func (id *Identity) String() string {
	return EncodeID(id.Public)
}

// EncodeID renders a raw public key as the canonical textual identity.
func EncodeID(pub ed25519.PublicKey) string {
	return hex.EncodeToString(pub)
}

// DecodeID parses a canonical textual identity back into a public
// key. Accepts any case.
func DecodeID(s string) (ed25519.PublicKey, error) {
	b, err := hex.DecodeString(strings.ToLower(s))
	if err != nil {
		return nil, fmt.Errorf("decode identity %q: %w", s, err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("identity %q has wrong length %d, want %d", s, len(b), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(b), nil
}

// Normalize canonicalizes an identity string for map-key / comparison
// use (lowercase).
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
