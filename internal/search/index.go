// Package search implements local and peer search: a local inverted
// index built from announced track metadata, and Bloom filter
// summaries exchanged with peers so a search query can be routed only
// to peers likely to have a match, without asking everyone.
package search

import (
	"strings"
	"sync"
)

// DefaultBloomCapacity is the default Bloom filter sizing target: the
// expected number of distinct terms a local index will hold.
const DefaultBloomCapacity = 100_000

// DefaultFalsePositiveRate is the default Bloom filter false-positive
// rate.
const DefaultFalsePositiveRate = 0.01

// TrackID identifies a locally or remotely announced track.
type TrackID string

// Index holds the local term index plus one Bloom filter per known
// peer, and can answer "which of my known peers might have a match
// for this query" without a network round trip.
type Index struct {
	capacity uint
	fpRate   float64

	mu         sync.RWMutex
	local      map[string]map[TrackID]struct{} // term -> track IDs
	localBloom *Filter
	peerBlooms map[string]*Filter // peer node ID -> imported filter
}

// New builds an empty Index with the given Bloom sizing parameters.
func New(capacity uint, fpRate float64) (*Index, error) {
	bloom, err := NewFilter(capacity, fpRate)
	if err != nil {
		return nil, err
	}
	return &Index{
		capacity:   capacity,
		fpRate:     fpRate,
		local:      make(map[string]map[TrackID]struct{}),
		localBloom: bloom,
		peerBlooms: make(map[string]*Filter),
	}, nil
}

// NormalizeTerms lowercases text, splits on whitespace, and drops
// terms shorter than 2 characters — short tokens are too common to be
// useful Bloom filter keys.
func NormalizeTerms(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) >= 2 {
			out = append(out, f)
		}
	}
	return out
}

// InsertTrack indexes a track's searchable text (title, artist, album
// concatenated by the caller) under id, updating both the term index
// and the local Bloom filter.
func (idx *Index) InsertTrack(id TrackID, searchableText string) {
	terms := NormalizeTerms(searchableText)

	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, term := range terms {
		if idx.local[term] == nil {
			idx.local[term] = make(map[TrackID]struct{})
		}
		idx.local[term][id] = struct{}{}
		idx.localBloom.Insert([]byte(term))
	}
}

// LocalMightMatch reports whether every term in query could match a
// locally indexed track. An empty query is vacuously true.
func (idx *Index) LocalMightMatch(query string) bool {
	terms := NormalizeTerms(query)
	if len(terms) == 0 {
		return true
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for _, term := range terms {
		if !idx.localBloom.MightContain([]byte(term)) {
			return false
		}
	}
	return true
}

// FindLocal returns the set of locally indexed tracks matching every
// term in query (AND semantics). An empty query matches nothing by
// design — callers wanting "all tracks" should use a dedicated listing
// path, not an empty search.
func (idx *Index) FindLocal(query string) []TrackID {
	terms := NormalizeTerms(query)
	if len(terms) == 0 {
		return nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var matches map[TrackID]struct{}
	for i, term := range terms {
		hits := idx.local[term]
		if i == 0 {
			matches = make(map[TrackID]struct{}, len(hits))
			for id := range hits {
				matches[id] = struct{}{}
			}
			continue
		}
		for id := range matches {
			if _, ok := hits[id]; !ok {
				delete(matches, id)
			}
		}
	}

	out := make([]TrackID, 0, len(matches))
	for id := range matches {
		out = append(out, id)
	}
	return out
}

// ExportLocalBloom returns the current local Bloom filter's wire form,
// to be pushed to or requested by peers.
func (idx *Index) ExportLocalBloom() Data {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.localBloom.Export()
}

// ImportPeerBloom replaces the stored filter for peerID with data
// received from that peer, overwriting whatever was previously known.
// A filter with inconsistent or oversized dimensions is rejected and
// the peer's previous filter, if any, is left in place.
func (idx *Index) ImportPeerBloom(peerID string, data Data) error {
	filter, err := Import(data)
	if err != nil {
		return err
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.peerBlooms[peerID] = filter
	return nil
}

// PeerMightMatch reports whether peerID's known filter could match
// query. A peer this index has no filter for fails open to true — an
// unknown peer might still have the track, so we'd rather over-ask
// than silently drop a peer from consideration.
func (idx *Index) PeerMightMatch(peerID, query string) bool {
	terms := NormalizeTerms(query)
	if len(terms) == 0 {
		return true
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	filter, ok := idx.peerBlooms[peerID]
	if !ok {
		return true
	}
	for _, term := range terms {
		if !filter.MightContain([]byte(term)) {
			return false
		}
	}
	return true
}

// PeersMatchingQuery returns the node IDs of every peer this index
// holds a Bloom filter for whose filter might match query. Unlike
// PeerMightMatch, peers with no known filter are simply absent from
// consideration here — this operation only iterates peers it actually
// has state for, so it does not fail open for unknown peers. An empty
// query matches every known peer.
func (idx *Index) PeersMatchingQuery(query string) []string {
	terms := NormalizeTerms(query)

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]string, 0, len(idx.peerBlooms))
	for peerID, filter := range idx.peerBlooms {
		if len(terms) == 0 {
			out = append(out, peerID)
			continue
		}
		match := true
		for _, term := range terms {
			if !filter.MightContain([]byte(term)) {
				match = false
				break
			}
		}
		if match {
			out = append(out, peerID)
		}
	}
	return out
}

// RemovePeer drops a peer's stored filter entirely, e.g. once it's
// removed from the peer registry.
func (idx *Index) RemovePeer(peerID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.peerBlooms, peerID)
}

// IndexedPeerCount returns how many peers this index holds a filter
// for.
func (idx *Index) IndexedPeerCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.peerBlooms)
}

// RebuildFromTracks clears and rebuilds the local term index and
// Bloom filter from scratch, given the caller's current track set
// (track ID to searchable text). Used after a bulk catalog change
// where incremental InsertTrack calls would be slower than a full
// rebuild. The replacement filter is sized for the larger of the
// track count and the configured capacity, so a catalog that outgrew
// the default doesn't get an undersized filter.
func (idx *Index) RebuildFromTracks(tracks map[TrackID]string) error {
	capacity := idx.capacity
	if uint(len(tracks)) > capacity {
		capacity = uint(len(tracks))
	}
	bloom, err := NewFilter(capacity, idx.fpRate)
	if err != nil {
		return err
	}

	local := make(map[string]map[TrackID]struct{})
	for id, text := range tracks {
		for _, term := range NormalizeTerms(text) {
			if local[term] == nil {
				local[term] = make(map[TrackID]struct{})
			}
			local[term][id] = struct{}{}
			bloom.Insert([]byte(term))
		}
	}

	idx.mu.Lock()
	idx.local = local
	idx.localBloom = bloom
	idx.mu.Unlock()
	return nil
}
