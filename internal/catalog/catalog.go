// Package catalog defines the contract between the P2P core and the
// host application's own music catalog, plus the remote_tracks table
// the core owns itself: a narrow observation log of tracks seen
// announced by peers, not a full mirror of anyone else's catalog.
package catalog

import (
	"context"
	"database/sql"
	"time"

	"github.com/federatedfm/p2pcore/internal/perrors"
	"github.com/federatedfm/p2pcore/internal/search"
)

// LocalTrack is one track the host application can announce or
// return from a local search. The P2P core never writes to the host
// catalog — it only reads through this interface.
type LocalTrack struct {
	ID         string
	Title      string
	ArtistName string
	AlbumTitle string
	Bitrate    uint32
	SampleRate uint32
	Format     string
	Hash       string
	SizeBytes  uint64
}

// SearchableText concatenates the fields a search index should match
// against.
func (t LocalTrack) SearchableText() string {
	return t.Title + " " + t.ArtistName + " " + t.AlbumTitle
}

// LocalCatalog is implemented by the host application. It is the only
// way the P2P core learns what to announce and what satisfies a local
// search.
type LocalCatalog interface {
	// ListForAnnounce returns every track this node should advertise
	// to peers.
	ListForAnnounce(ctx context.Context) ([]LocalTrack, error)
	// FindByID resolves a single track, for serving a BlobRequest.
	FindByID(ctx context.Context, id string) (LocalTrack, bool, error)
	// FindByQuery returns the tracks whose searchable text contains
	// every normalized term of query.
	FindByQuery(ctx context.Context, query string) ([]LocalTrack, error)
}

// MatchesQuery reports whether text contains every normalized term of
// query (AND semantics, same normalization as the search index). An
// empty query matches everything.
func MatchesQuery(query, text string) bool {
	terms := search.NormalizeTerms(query)
	if len(terms) == 0 {
		return true
	}
	have := make(map[string]struct{})
	for _, t := range search.NormalizeTerms(text) {
		have[t] = struct{}{}
	}
	for _, t := range terms {
		if _, ok := have[t]; !ok {
			return false
		}
	}
	return true
}

// FilterByQuery is the scan most LocalCatalog implementations use for
// FindByQuery: match every track's searchable text against query.
func FilterByQuery(tracks []LocalTrack, query string) []LocalTrack {
	var out []LocalTrack
	for _, t := range tracks {
		if MatchesQuery(query, t.SearchableText()) {
			out = append(out, t)
		}
	}
	return out
}

// EmptyCatalog is a zero-track LocalCatalog, for running the daemon
// standalone without a host application wired in. A real deployment
// supplies its own LocalCatalog backed by its music library.
type EmptyCatalog struct{}

func (EmptyCatalog) ListForAnnounce(context.Context) ([]LocalTrack, error) {
	return nil, nil
}

func (EmptyCatalog) FindByID(context.Context, string) (LocalTrack, bool, error) {
	return LocalTrack{}, false, nil
}

func (EmptyCatalog) FindByQuery(context.Context, string) ([]LocalTrack, error) {
	return nil, nil
}

// RemoteTrack is one track observed from a peer's Announce, recorded
// so it can be surfaced in local search results without re-querying
// every peer on every query.
type RemoteTrack struct {
	ID             int64
	InstanceDomain string
	RemoteURI      string
	Title          string
	ArtistName     string
	AlbumTitle     string
	Availability   string
	LastCheckedAt  time.Time
}

// Availability values for RemoteTrack.Availability.
const (
	AvailabilityOnline  = "online"
	AvailabilityOffline = "offline"
)

// RemoteTrackStore persists RemoteTrack rows to Postgres.
type RemoteTrackStore struct {
	db *sql.DB
}

// NewRemoteTrackStore builds a RemoteTrackStore over the given
// database handle.
func NewRemoteTrackStore(db *sql.DB) *RemoteTrackStore {
	return &RemoteTrackStore{db: db}
}

// Upsert records or refreshes one remote track, keyed by its unique
// remote URI.
func (s *RemoteTrackStore) Upsert(ctx context.Context, t RemoteTrack) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO remote_tracks (instance_domain, remote_uri, title, artist_name, album_title, availability, last_checked_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (remote_uri) DO UPDATE SET
			instance_domain = EXCLUDED.instance_domain,
			title = EXCLUDED.title,
			artist_name = EXCLUDED.artist_name,
			album_title = EXCLUDED.album_title,
			availability = EXCLUDED.availability,
			last_checked_at = NOW()
	`, t.InstanceDomain, t.RemoteURI, t.Title, t.ArtistName, t.AlbumTitle, t.Availability)
	if err != nil {
		return perrors.Wrap(perrors.Local, "upsert remote track "+t.RemoteURI, err)
	}
	return nil
}

// MarkOffline flips every remote track belonging to instanceDomain to
// offline, e.g. after that peer drops out of the registry.
func (s *RemoteTrackStore) MarkOffline(ctx context.Context, instanceDomain string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE remote_tracks SET availability = $1, last_checked_at = NOW() WHERE instance_domain = $2
	`, AvailabilityOffline, instanceDomain)
	if err != nil {
		return perrors.Wrap(perrors.Local, "mark remote tracks offline for "+instanceDomain, err)
	}
	return nil
}

// ListByInstance returns every remote track recorded for a given peer.
func (s *RemoteTrackStore) ListByInstance(ctx context.Context, instanceDomain string) ([]RemoteTrack, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, instance_domain, remote_uri, title, artist_name, album_title, availability, last_checked_at
		FROM remote_tracks WHERE instance_domain = $1
	`, instanceDomain)
	if err != nil {
		return nil, perrors.Wrap(perrors.Local, "list remote tracks for "+instanceDomain, err)
	}
	defer rows.Close()
	return scanRemoteTracks(rows)
}

// Search finds remote tracks whose title, artist, or album contains
// query (case-insensitive substring match).
func (s *RemoteTrackStore) Search(ctx context.Context, query string) ([]RemoteTrack, error) {
	pattern := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, instance_domain, remote_uri, title, artist_name, album_title, availability, last_checked_at
		FROM remote_tracks
		WHERE title ILIKE $1 OR artist_name ILIKE $1 OR album_title ILIKE $1
	`, pattern)
	if err != nil {
		return nil, perrors.Wrap(perrors.Local, "search remote tracks", err)
	}
	defer rows.Close()
	return scanRemoteTracks(rows)
}

func scanRemoteTracks(rows *sql.Rows) ([]RemoteTrack, error) {
	var out []RemoteTrack
	for rows.Next() {
		var t RemoteTrack
		var albumTitle sql.NullString
		if err := rows.Scan(&t.ID, &t.InstanceDomain, &t.RemoteURI, &t.Title, &t.ArtistName, &albumTitle, &t.Availability, &t.LastCheckedAt); err != nil {
			return nil, perrors.Wrap(perrors.Local, "scan remote track row", err)
		}
		t.AlbumTitle = albumTitle.String
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, perrors.Wrap(perrors.Local, "iterate remote tracks", err)
	}
	return out, nil
}
