package main

import (
	"crypto/ed25519"
	"fmt"
	"os"

	"github.com/federatedfm/p2pcore/internal/identity"
)

// loadOrCreateIdentity restores a node's Ed25519 seed from seedPath,
// or generates and persists a fresh one if the file doesn't exist yet
// — so a node's overlay identity survives process restarts.
func loadOrCreateIdentity(seedPath string) (*identity.Identity, error) {
	if seed, err := os.ReadFile(seedPath); err == nil {
		if len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("identity seed file %s has wrong length %d, want %d", seedPath, len(seed), ed25519.SeedSize)
		}
		return identity.FromSeed(seed)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read identity seed %s: %w", seedPath, err)
	}

	id, err := identity.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate identity: %w", err)
	}
	if err := os.WriteFile(seedPath, id.Private.Seed(), 0o600); err != nil {
		return nil, fmt.Errorf("persist identity seed %s: %w", seedPath, err)
	}
	return id, nil
}
