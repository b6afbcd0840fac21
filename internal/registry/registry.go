// Package registry tracks known peers: their node ID, optional
// self-reported name and version, track count, and online/last-seen
// state. Upserts are partial — omitted fields never clear what is
// already on record — and every peer loaded from disk starts offline
// until a probe proves otherwise.
package registry

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/federatedfm/p2pcore/internal/identity"
	"github.com/federatedfm/p2pcore/internal/perrors"
	"github.com/federatedfm/p2pcore/pkg/logging"
)

// PeerInfo is a snapshot of what the registry knows about one peer.
type PeerInfo struct {
	NodeID     string
	Name       string
	Version    string
	TrackCount uint64
	IsOnline   bool
	LastSeenAt time.Time
}

// Registry is a concurrency-safe in-memory table of known peers,
// optionally persisted to and restored from Postgres.
type Registry struct {
	log logging.Logger

	mu    sync.RWMutex
	peers map[string]*PeerInfo
}

// New builds an empty registry.
func New(logger logging.Logger) *Registry {
	return &Registry{log: logger, peers: make(map[string]*PeerInfo)}
}

// Upsert records a sighting of a peer: last_seen is always set to
// now and the peer is always marked online. name and version are
// pointers so the caller can omit fields it doesn't have fresh data
// for; an omitted (nil) name or version preserves whatever was
// already on record. trackCount is always overwritten.
func (r *Registry) Upsert(nodeID string, name, version *string, trackCount uint64) PeerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.peers[nodeID]
	if !exists {
		p = &PeerInfo{NodeID: nodeID}
		r.peers[nodeID] = p
	}
	if name != nil {
		p.Name = *name
	}
	if version != nil {
		p.Version = *version
	}
	p.TrackCount = trackCount
	p.IsOnline = true
	p.LastSeenAt = time.Now()
	return *p
}

// UpsertOffline records a peer learned indirectly (e.g. via a peer
// exchange reply) rather than from a direct sighting: it is entered
// into or refreshed in the registry but always left offline, since
// nothing has proven it reachable yet. A subsequent successful ping
// flips it online through Upsert.
func (r *Registry) UpsertOffline(nodeID string, name, version *string, trackCount uint64) PeerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.peers[nodeID]
	if !exists {
		p = &PeerInfo{NodeID: nodeID}
		r.peers[nodeID] = p
	}
	if name != nil {
		p.Name = *name
	}
	if version != nil {
		p.Version = *version
	}
	p.TrackCount = trackCount
	p.IsOnline = false
	return *p
}

// MarkOffline flips a known peer to offline. Reports false if the
// peer is not known.
func (r *Registry) MarkOffline(nodeID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[nodeID]
	if !ok {
		return false
	}
	p.IsOnline = false
	return true
}

// Remove deletes a peer from the registry entirely. Reports false if
// the peer was not known.
func (r *Registry) Remove(nodeID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.peers[nodeID]; !ok {
		return false
	}
	delete(r.peers, nodeID)
	return true
}

// Get returns a snapshot of one peer.
func (r *Registry) Get(nodeID string) (PeerInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[nodeID]
	if !ok {
		return PeerInfo{}, false
	}
	return *p, true
}

// List returns a snapshot of every known peer, in no particular order.
func (r *Registry) List() []PeerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PeerInfo, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, *p)
	}
	return out
}

// Online returns a snapshot of every peer currently marked online.
func (r *Registry) Online() []PeerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PeerInfo, 0, len(r.peers))
	for _, p := range r.peers {
		if p.IsOnline {
			out = append(out, *p)
		}
	}
	return out
}

// Count returns the number of known peers, online or not.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Persist writes every known peer to p2p_peers in a single
// transaction, upserting on node_id conflict. Safe to call
// repeatedly.
func (r *Registry) Persist(ctx context.Context, db *sql.DB) error {
	peers := r.List()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return perrors.Wrap(perrors.Local, "begin persist transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO p2p_peers (node_id, name, version, track_count, is_online, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (node_id) DO UPDATE SET
			name = EXCLUDED.name,
			version = EXCLUDED.version,
			track_count = EXCLUDED.track_count,
			is_online = EXCLUDED.is_online,
			last_seen_at = EXCLUDED.last_seen_at
	`)
	if err != nil {
		return perrors.Wrap(perrors.Local, "prepare persist statement", err)
	}
	defer stmt.Close()

	for _, p := range peers {
		if _, err := stmt.ExecContext(ctx, p.NodeID, nullableString(p.Name), nullableString(p.Version),
			p.TrackCount, p.IsOnline, p.LastSeenAt); err != nil {
			return perrors.Wrap(perrors.Local, "upsert peer "+p.NodeID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return perrors.Wrap(perrors.Local, "commit persist transaction", err)
	}
	return nil
}

// Load replaces the in-memory table with every peer row in
// p2p_peers, marking each one offline; a freshly started node has no
// live connections yet. Rows whose node_id doesn't parse as an
// endpoint identity are dropped with a warning rather than failing
// the whole load. Returns the number of peers restored.
func (r *Registry) Load(ctx context.Context, db *sql.DB) (int, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT node_id, name, version, track_count, last_seen_at FROM p2p_peers
	`)
	if err != nil {
		return 0, perrors.Wrap(perrors.Local, "query p2p_peers", err)
	}
	defer rows.Close()

	loaded := make(map[string]*PeerInfo)
	for rows.Next() {
		var nodeID string
		var name, version sql.NullString
		var trackCount uint64
		var lastSeen time.Time
		if err := rows.Scan(&nodeID, &name, &version, &trackCount, &lastSeen); err != nil {
			return 0, perrors.Wrap(perrors.Local, "scan p2p_peers row", err)
		}
		if _, err := identity.DecodeID(nodeID); err != nil {
			if r.log != nil {
				r.log.WithError(err).WithField("node_id", nodeID).Warn("dropping persisted peer with unparseable identity")
			}
			continue
		}
		loaded[nodeID] = &PeerInfo{
			NodeID:     nodeID,
			Name:       name.String,
			Version:    version.String,
			TrackCount: trackCount,
			IsOnline:   false,
			LastSeenAt: lastSeen,
		}
	}
	if err := rows.Err(); err != nil {
		return 0, perrors.Wrap(perrors.Local, "iterate p2p_peers", err)
	}

	r.mu.Lock()
	r.peers = loaded
	r.mu.Unlock()
	return len(loaded), nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
