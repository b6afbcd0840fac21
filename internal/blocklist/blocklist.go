// Package blocklist checks whether a peer identifier is blocked,
// against the shared blocked_domains table. The single domain column
// holds node IDs and display names alike; both are looked up the same
// way.
package blocklist

import (
	"context"
	"database/sql"
	"strings"

	"github.com/federatedfm/p2pcore/internal/perrors"
)

// Store answers blocklist membership queries.
type Store interface {
	IsBlocked(ctx context.Context, identifier string) (bool, error)
	IsAnyBlocked(ctx context.Context, identifiers []string) (bool, error)
}

// DBStore checks the blocked_domains table.
type DBStore struct {
	db *sql.DB
}

// NewDBStore builds a Store backed by the given database handle.
func NewDBStore(db *sql.DB) *DBStore {
	return &DBStore{db: db}
}

// IsBlocked reports whether a single identifier (a peer node ID or
// name) is present in blocked_domains. Matching is case-insensitive.
func (s *DBStore) IsBlocked(ctx context.Context, identifier string) (bool, error) {
	identifier = normalize(identifier)
	if identifier == "" {
		return false, nil
	}
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM blocked_domains WHERE domain = $1)`,
		identifier,
	).Scan(&exists)
	if err != nil {
		return false, perrors.Wrap(perrors.Local, "query blocklist", err)
	}
	return exists, nil
}

// IsAnyBlocked reports whether any of the given identifiers (e.g. a
// peer's node ID and its self-reported name) is blocked. Empty
// entries are skipped.
func (s *DBStore) IsAnyBlocked(ctx context.Context, identifiers []string) (bool, error) {
	for _, id := range identifiers {
		blocked, err := s.IsBlocked(ctx, id)
		if err != nil {
			return false, err
		}
		if blocked {
			return true, nil
		}
	}
	return false, nil
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// StaticStore checks a fixed, in-memory identifier list — the
// P2P_BLOCKLIST env var parsed at startup (internal/config), layered
// in front of or instead of the database-backed store when no
// database is configured.
type StaticStore struct {
	blocked map[string]struct{}
}

// NewStaticStore builds a Store from a fixed identifier list.
func NewStaticStore(identifiers []string) *StaticStore {
	blocked := make(map[string]struct{}, len(identifiers))
	for _, id := range identifiers {
		id = normalize(id)
		if id != "" {
			blocked[id] = struct{}{}
		}
	}
	return &StaticStore{blocked: blocked}
}

func (s *StaticStore) IsBlocked(_ context.Context, identifier string) (bool, error) {
	_, ok := s.blocked[normalize(identifier)]
	return ok, nil
}

func (s *StaticStore) IsAnyBlocked(_ context.Context, identifiers []string) (bool, error) {
	for _, id := range identifiers {
		if _, ok := s.blocked[normalize(id)]; ok {
			return true, nil
		}
	}
	return false, nil
}

// Composite checks a static list first (cheap, no I/O), then falls
// back to a database-backed store.
type Composite struct {
	Static *StaticStore
	DB     *DBStore
}

func (c *Composite) IsBlocked(ctx context.Context, identifier string) (bool, error) {
	if c.Static != nil {
		if blocked, _ := c.Static.IsBlocked(ctx, identifier); blocked {
			return true, nil
		}
	}
	if c.DB != nil {
		return c.DB.IsBlocked(ctx, identifier)
	}
	return false, nil
}

func (c *Composite) IsAnyBlocked(ctx context.Context, identifiers []string) (bool, error) {
	if c.Static != nil {
		if blocked, _ := c.Static.IsAnyBlocked(ctx, identifiers); blocked {
			return true, nil
		}
	}
	if c.DB != nil {
		return c.DB.IsAnyBlocked(ctx, identifiers)
	}
	return false, nil
}
