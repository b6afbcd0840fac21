// Package node orchestrates everything else in the P2P core into a
// running endpoint: it dispatches inbound streams, drives outbound
// requests, and runs the periodic liveness and exchange maintenance
// loop.
package node

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	gocache "github.com/federatedfm/p2pcore/pkg/cache"
	"github.com/federatedfm/p2pcore/pkg/logging"

	"github.com/federatedfm/p2pcore/internal/blobcache"
	"github.com/federatedfm/p2pcore/internal/blocklist"
	"github.com/federatedfm/p2pcore/internal/catalog"
	"github.com/federatedfm/p2pcore/internal/config"
	"github.com/federatedfm/p2pcore/internal/identity"
	"github.com/federatedfm/p2pcore/internal/metrics"
	"github.com/federatedfm/p2pcore/internal/perrors"
	"github.com/federatedfm/p2pcore/internal/pool"
	"github.com/federatedfm/p2pcore/internal/registry"
	"github.com/federatedfm/p2pcore/internal/search"
	"github.com/federatedfm/p2pcore/internal/transport"
	"github.com/federatedfm/p2pcore/internal/wire"
)

// Version is the software version reported in Pong replies.
const Version = "0.1.0"

// announceBatchSize bounds how many tracks one Announce frame
// carries, keeping individual frames modest even for large catalogs.
const announceBatchSize = 100

// Stream is the minimal shape a transport stream must satisfy to be
// driven by Node — the same Read/Write/Close set as transport.Stream,
// declared here so tests can drive it with a net.Pipe or similar.
type Stream interface {
	io.Reader
	io.Writer
	Close() error
}

// PeerDialer opens request/response streams to a peer. Implemented by
// a transport.Transport-backed adapter in production and by fakes in
// tests.
type PeerDialer interface {
	OpenStream(ctx context.Context, peerID, addr string) (Stream, error)
}

// streamOpener is the part of pool.Conn that PoolPeerDialer needs
// beyond the base pool.Conn interface — transport.Conn satisfies it.
type streamOpener interface {
	OpenStream(ctx context.Context) (transport.Stream, error)
}

// PoolPeerDialer adapts a connection pool into a PeerDialer: it
// fetches (or dials) a pooled connection to a peer and opens a fresh
// stream on it.
type PoolPeerDialer struct {
	Pool *pool.Pool
}

// OpenStream gets a pooled connection to peerID at addr and opens a
// new stream on it.
func (d *PoolPeerDialer) OpenStream(ctx context.Context, peerID, addr string) (Stream, error) {
	conn, err := d.Pool.Get(ctx, peerID, addr)
	if err != nil {
		return nil, err
	}
	opener, ok := conn.(streamOpener)
	if !ok {
		return nil, perrors.New(perrors.Transport, "pooled connection cannot open streams")
	}
	return opener.OpenStream(ctx)
}

// Node is the P2P endpoint: everything needed to serve inbound
// requests and issue outbound ones.
type Node struct {
	ID     *identity.Identity
	Config config.Config
	Logger logging.Logger

	Dialer   PeerDialer
	Pool     *pool.Pool
	Registry *registry.Registry
	Cache    *blobcache.Cache
	Store    blobcache.Store
	Search   *search.Index
	Catalog  catalog.LocalCatalog
	Remote   *catalog.RemoteTrackStore
	Blocked  blocklist.Store
	Metrics  *metrics.Metrics

	searchResults *gocache.Cache

	addrsMu sync.RWMutex
	addrs   map[string]string // node ID -> last known dial address
}

// New assembles a Node from its already-constructed dependencies.
func New(
	id *identity.Identity,
	cfg config.Config,
	logger logging.Logger,
	dialer PeerDialer,
	connPool *pool.Pool,
	reg *registry.Registry,
	cache *blobcache.Cache,
	store blobcache.Store,
	idx *search.Index,
	localCatalog catalog.LocalCatalog,
	remote *catalog.RemoteTrackStore,
	blocked blocklist.Store,
	m *metrics.Metrics,
) *Node {
	return &Node{
		ID:       id,
		Config:   cfg,
		Logger:   logger,
		Dialer:   dialer,
		Pool:     connPool,
		Registry: reg,
		Cache:    cache,
		Store:    store,
		Search:   idx,
		Catalog:  localCatalog,
		Remote:   remote,
		Blocked:  blocked,
		Metrics:  m,
		searchResults: gocache.New(gocache.Options{
			TTL:        5 * time.Second,
			MaxEntries: 256,
		}, gocache.MetricsHooks{}),
		addrs: make(map[string]string),
	}
}

// RememberAddr records the dial address last used to reach a peer, so
// the maintenance loop can re-contact it without the caller supplying
// the address again.
func (n *Node) RememberAddr(peerID, addr string) {
	n.addrsMu.Lock()
	n.addrs[peerID] = addr
	n.addrsMu.Unlock()
}

func (n *Node) knownAddr(peerID string) (string, bool) {
	n.addrsMu.RLock()
	defer n.addrsMu.RUnlock()
	addr, ok := n.addrs[peerID]
	return addr, ok
}

// HandleStream dispatches one inbound request/response exchange: read
// an envelope, act on it, write a response (for a blob request, the
// size header followed by the byte content), and close the stream.
func (n *Node) HandleStream(ctx context.Context, peerID string, s Stream) {
	defer s.Close()

	env, err := wire.ReadMessage(s)
	if err != nil {
		n.Logger.WithError(err).WithField("peer", peerID).Warn("failed to read inbound message")
		return
	}

	identifiers := []string{peerID}
	if p, ok := n.Registry.Get(peerID); ok && p.Name != "" {
		identifiers = append(identifiers, p.Name)
	}
	if blocked, _ := n.Blocked.IsAnyBlocked(ctx, identifiers); blocked {
		n.Logger.WithField("peer", peerID).Warn("rejecting message from blocked peer")
		return
	}

	switch env.Type {
	case wire.TypePing:
		n.handlePing(ctx, peerID, s)
	case wire.TypeAnnounce:
		n.handleAnnounce(ctx, peerID, env, s)
	case wire.TypeBlobRequest:
		n.handleBlobRequest(ctx, env, s)
	case wire.TypePeerExchangeRequest:
		n.handlePeerExchangeRequest(env, s)
	case wire.TypeSendBloom:
		n.handleSendBloom(peerID, env)
	case wire.TypeQuery:
		n.handleQuery(ctx, env, s)
	default:
		n.Logger.WithField("type", env.Type).Warn("unhandled inbound message type")
	}
}

func (n *Node) handlePing(ctx context.Context, peerID string, s Stream) {
	var localTracks int
	if n.Catalog != nil {
		tracks, err := n.Catalog.ListForAnnounce(ctx)
		if err == nil {
			localTracks = len(tracks)
		}
	}

	resp, err := wire.Encode(wire.TypePong, wire.PongPayload{
		NodeID:     n.ID.String(),
		Name:       n.Config.NodeName,
		Version:    Version,
		TrackCount: uint64(localTracks),
	})
	if err != nil {
		return
	}
	wire.WriteMessage(s, resp)
}

// handleAnnounce merges a sequence of Announce batches from one peer.
// The first batch arrives as env; further batches follow on the same
// stream until an AnnounceDone terminator (or the peer closing its
// write side), after which a single Pong acknowledges the whole
// announce.
func (n *Node) handleAnnounce(ctx context.Context, peerID string, env wire.Envelope, s Stream) {
	for {
		var payload wire.AnnouncePayload
		if err := wire.Decode(env, &payload); err != nil {
			return
		}
		for _, track := range payload.Tracks {
			if n.Remote == nil {
				continue
			}
			if err := n.Remote.Upsert(ctx, catalog.RemoteTrack{
				InstanceDomain: peerID,
				RemoteURI:      track.RemoteURI,
				Title:          track.Title,
				ArtistName:     track.ArtistName,
				AlbumTitle:     track.AlbumTitle,
				Availability:   catalog.AvailabilityOnline,
			}); err != nil {
				n.Logger.WithError(err).WithField("peer", peerID).Warn("failed to record announced track")
			}
		}

		next, err := wire.ReadMessage(s)
		if err != nil || next.Type == wire.TypeAnnounceDone {
			break
		}
		if next.Type != wire.TypeAnnounce {
			return
		}
		env = next
	}

	resp, err := wire.Encode(wire.TypePong, wire.PongPayload{NodeID: n.ID.String()})
	if err != nil {
		return
	}
	wire.WriteMessage(s, resp)
}

func (n *Node) handleBlobRequest(ctx context.Context, env wire.Envelope, s Stream) {
	var payload wire.BlobRequestPayload
	if err := wire.Decode(env, &payload); err != nil {
		return
	}
	hash := blobcache.Hash(payload.Hash)

	reader, err := n.Store.Get(ctx, hash)
	found := err == nil
	var size uint64
	var data []byte
	if found {
		defer reader.Close()
		data, err = io.ReadAll(reader)
		if err != nil {
			found = false
		} else {
			size = uint64(len(data))
		}
	}

	resp, err := wire.Encode(wire.TypeBlobSize, wire.BlobSizePayload{Hash: payload.Hash, Size: size, Found: found})
	if err != nil {
		return
	}
	if err := wire.WriteMessage(s, resp); err != nil {
		return
	}
	if found {
		s.Write(data)
		n.Cache.RecordAccessWithTag(ctx, hash, size)
	}
}

func (n *Node) handlePeerExchangeRequest(env wire.Envelope, s Stream) {
	var payload wire.PeerExchangeRequestPayload
	if err := wire.Decode(env, &payload); err != nil {
		return
	}

	var peers []wire.PeerAddr
	for _, p := range n.Registry.Online() {
		if payload.Limit > 0 && uint32(len(peers)) >= payload.Limit {
			break
		}
		addr, ok := n.knownAddr(p.NodeID)
		if !ok {
			continue
		}
		peers = append(peers, wire.PeerAddr{
			NodeID:     p.NodeID,
			Addr:       addr,
			Name:       p.Name,
			Version:    p.Version,
			TrackCount: p.TrackCount,
		})
	}
	resp, err := wire.Encode(wire.TypePeerExchangeReply, wire.PeerExchangeReplyPayload{Peers: peers})
	if err != nil {
		return
	}
	wire.WriteMessage(s, resp)
}

func (n *Node) handleSendBloom(peerID string, env wire.Envelope) {
	var payload wire.SendBloomPayload
	if err := wire.Decode(env, &payload); err != nil {
		return
	}
	if err := n.Search.ImportPeerBloom(peerID, payload.Data); err != nil {
		n.Logger.WithError(err).WithField("peer", peerID).Warn("rejecting peer bloom filter")
	}
}

// handleQuery answers an inbound Query. It first tests the local
// Bloom filter: a definite miss returns an empty result without ever
// touching the catalog. On a possible hit it scans the catalog and
// filters by the query's normalized terms, the same matching rule
// searchQueryUncached uses for the outbound path.
func (n *Node) handleQuery(ctx context.Context, env wire.Envelope, s Stream) {
	var payload wire.QueryPayload
	if err := wire.Decode(env, &payload); err != nil {
		return
	}

	var tracks []wire.TrackSummary
	if n.Catalog != nil && n.Search.LocalMightMatch(payload.Query) {
		if local, err := n.Catalog.FindByQuery(ctx, payload.Query); err == nil {
			for _, t := range local {
				tracks = append(tracks, n.localTrackSummary(t))
			}
		}
	}

	resp, err := wire.Encode(wire.TypeQueryResult, wire.QueryResultPayload{RequestID: payload.RequestID, Tracks: tracks})
	if err != nil {
		return
	}
	wire.WriteMessage(s, resp)
}

// request opens a stream to peerID, writes env, reads exactly one
// response envelope, and closes the stream.
func (n *Node) request(ctx context.Context, peerID, addr string, env wire.Envelope) (wire.Envelope, error) {
	s, err := n.Dialer.OpenStream(ctx, peerID, addr)
	if err != nil {
		return wire.Envelope{}, perrors.Wrap(perrors.Transport, "open stream to "+peerID, err)
	}
	defer s.Close()

	if err := wire.WriteMessage(s, env); err != nil {
		return wire.Envelope{}, err
	}
	return wire.ReadMessage(s)
}

// Ping sends a liveness check to a peer and returns its reported
// state.
func (n *Node) Ping(ctx context.Context, peerID, addr string) (wire.PongPayload, error) {
	n.Metrics.IncPingSent()
	env, err := wire.Encode(wire.TypePing, wire.PingPayload{NodeID: n.ID.String()})
	if err != nil {
		return wire.PongPayload{}, err
	}
	resp, err := n.request(ctx, peerID, addr, env)
	if err != nil {
		n.Metrics.IncPingFailed()
		return wire.PongPayload{}, err
	}
	var pong wire.PongPayload
	if err := wire.Decode(resp, &pong); err != nil {
		n.Metrics.IncPingFailed()
		return wire.PongPayload{}, err
	}
	return pong, nil
}

// AddAndPingPeer pings a candidate peer and, if it answers, records
// it in the registry: a single ping is both the liveness check and
// the mechanism by which a brand new peer enters the registry.
func (n *Node) AddAndPingPeer(ctx context.Context, peerID, addr string) error {
	pong, err := n.Ping(ctx, peerID, addr)
	if err != nil {
		return err
	}
	n.RememberAddr(peerID, addr)

	var namePtr, versionPtr *string
	if pong.Name != "" {
		namePtr = &pong.Name
	}
	if pong.Version != "" {
		versionPtr = &pong.Version
	}
	n.Registry.Upsert(peerID, namePtr, versionPtr, pong.TrackCount)
	return nil
}

// RefreshAllPeers pings every peer in the registry — including ones
// currently marked offline, which get another chance to come back —
// and marks unresponsive ones offline. A peer that answers the ping
// also receives this node's bloom re-exchange and announce refresh,
// and is asked to exchange its own known peers, all on the same
// cadence as liveness. Once the sweep completes, the connection pool
// is retained down to the set of peers the registry now considers
// online.
func (n *Node) RefreshAllPeers(ctx context.Context) {
	for _, p := range n.Registry.List() {
		addr, ok := n.knownAddr(p.NodeID)
		if !ok {
			continue
		}
		pingCtx, cancel := context.WithTimeout(ctx, n.Config.PingTimeout)
		err := n.AddAndPingPeer(pingCtx, p.NodeID, addr)
		cancel()
		if err != nil {
			n.Registry.MarkOffline(p.NodeID)
			n.invalidatePeer(p.NodeID)
			continue
		}

		if err := n.SendBloomTo(ctx, p.NodeID, addr); err != nil {
			n.Logger.WithError(err).Debug("failed to re-exchange bloom filter with peer")
		}
		if err := n.AnnounceTo(ctx, p.NodeID, addr); err != nil {
			n.Logger.WithError(err).Debug("failed to refresh announce with peer")
		}
		if _, err := n.ExchangePeersWith(ctx, p.NodeID, addr); err != nil {
			n.Logger.WithError(err).Debug("failed to exchange peers with peer")
		}
	}

	if n.Pool != nil {
		active := make(map[string]struct{})
		for _, p := range n.Registry.Online() {
			active[p.NodeID] = struct{}{}
		}
		n.Pool.Retain(active)
	}
}

// MaintainLiveness runs RefreshAllPeers on the configured interval
// until ctx is canceled.
func (n *Node) MaintainLiveness(ctx context.Context) {
	ticker := time.NewTicker(n.Config.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.RefreshAllPeers(ctx)
		}
	}
}

// AnnounceTo sends this node's full local track list to a peer, in
// batches small enough to keep each frame modest, terminated by an
// AnnounceDone frame and acknowledged by a single Pong.
func (n *Node) AnnounceTo(ctx context.Context, peerID, addr string) error {
	var tracks []wire.TrackSummary
	if n.Catalog != nil {
		local, err := n.Catalog.ListForAnnounce(ctx)
		if err != nil {
			return err
		}
		for _, t := range local {
			tracks = append(tracks, n.localTrackSummary(t))
		}
	}

	s, err := n.Dialer.OpenStream(ctx, peerID, addr)
	if err != nil {
		return perrors.Wrap(perrors.Transport, "open stream to "+peerID, err)
	}
	defer s.Close()

	for start := 0; start == 0 || start < len(tracks); start += announceBatchSize {
		end := start + announceBatchSize
		if end > len(tracks) {
			end = len(tracks)
		}
		env, err := wire.Encode(wire.TypeAnnounce, wire.AnnouncePayload{Tracks: tracks[start:end]})
		if err != nil {
			return err
		}
		if err := wire.WriteMessage(s, env); err != nil {
			return err
		}
	}

	done, err := wire.Encode(wire.TypeAnnounceDone, wire.AnnounceDonePayload{})
	if err != nil {
		return err
	}
	if err := wire.WriteMessage(s, done); err != nil {
		return err
	}

	_, err = wire.ReadMessage(s)
	return err
}

// localTrackSummary renders one of this node's own tracks in wire
// form, addressed by a p2p URI under this node's identity so a
// receiver can key its observation and later request the blob.
func (n *Node) localTrackSummary(t catalog.LocalTrack) wire.TrackSummary {
	return wire.TrackSummary{
		RemoteURI:  "p2p://" + n.ID.String() + "/" + t.ID,
		Title:      t.Title,
		ArtistName: t.ArtistName,
		AlbumTitle: t.AlbumTitle,
		Bitrate:    t.Bitrate,
		SampleRate: t.SampleRate,
		Format:     t.Format,
		Hash:       t.Hash,
		SizeBytes:  t.SizeBytes,
	}
}

// RequestBlob fetches a blob from a peer by hash, deduplicating
// concurrent fetches of the same hash via the cache's
// TryStartFetch/FinishFetch pair.
func (n *Node) RequestBlob(ctx context.Context, peerID, addr, hash string) ([]byte, error) {
	h := blobcache.Hash(hash)
	if !n.Cache.TryStartFetch(h) {
		return nil, perrors.New(perrors.Transport, "fetch already in flight for "+hash)
	}
	defer n.Cache.FinishFetch(h)

	env, err := wire.Encode(wire.TypeBlobRequest, wire.BlobRequestPayload{Hash: hash})
	if err != nil {
		n.Metrics.IncBlobFetch(true)
		return nil, err
	}

	s, err := n.Dialer.OpenStream(ctx, peerID, addr)
	if err != nil {
		n.Metrics.IncBlobFetch(true)
		n.invalidatePeer(peerID)
		return nil, perrors.Wrap(perrors.Transport, "open stream to "+peerID, err)
	}
	defer s.Close()

	if err := wire.WriteMessage(s, env); err != nil {
		n.Metrics.IncBlobFetch(true)
		n.invalidatePeer(peerID)
		return nil, err
	}
	resp, err := wire.ReadMessage(s)
	if err != nil {
		n.Metrics.IncBlobFetch(true)
		n.invalidatePeer(peerID)
		return nil, err
	}

	var sizePayload wire.BlobSizePayload
	if err := wire.Decode(resp, &sizePayload); err != nil {
		n.Metrics.IncBlobFetch(true)
		return nil, err
	}
	if !sizePayload.Found {
		n.Metrics.IncBlobFetch(true)
		return nil, perrors.New(perrors.NotFound, "peer does not have blob "+hash)
	}

	data := make([]byte, sizePayload.Size)
	if _, err := io.ReadFull(s, data); err != nil {
		n.Metrics.IncBlobFetch(true)
		n.invalidatePeer(peerID)
		return nil, perrors.Wrap(perrors.Transport, "read blob body", err)
	}

	if err := n.Store.Put(ctx, h, bytesReader(data)); err != nil {
		n.Metrics.IncBlobFetch(true)
		return nil, err
	}
	if err := n.Cache.RecordAccessWithTag(ctx, h, sizePayload.Size); err != nil {
		n.Logger.WithError(err).Warn("failed to tag fetched blob")
	}
	if err := n.Cache.EvictIfNeeded(ctx); err != nil {
		n.Logger.WithError(err).Warn("cache eviction after fetch failed")
	}

	n.Metrics.IncBlobFetch(false)
	return data, nil
}

// invalidatePeer drops any pooled connection to peerID after a stream
// on it failed, so the next operation dials fresh instead of reusing
// a broken session.
func (n *Node) invalidatePeer(peerID string) {
	if n.Pool != nil {
		n.Pool.Invalidate(peerID)
	}
}

// ExchangePeersWith asks a peer for the peers it knows about. As the
// recipient of the reply, it upserts every learned peer into its own
// registry with is_online=false — a subsequent successful ping is
// what promotes a learned peer to online.
func (n *Node) ExchangePeersWith(ctx context.Context, peerID, addr string) ([]wire.PeerAddr, error) {
	env, err := wire.Encode(wire.TypePeerExchangeRequest, wire.PeerExchangeRequestPayload{})
	if err != nil {
		return nil, err
	}
	resp, err := n.request(ctx, peerID, addr, env)
	if err != nil {
		return nil, err
	}
	var payload wire.PeerExchangeReplyPayload
	if err := wire.Decode(resp, &payload); err != nil {
		return nil, err
	}

	for _, p := range payload.Peers {
		if p.NodeID == n.ID.String() {
			continue
		}
		var namePtr, versionPtr *string
		if p.Name != "" {
			namePtr = &p.Name
		}
		if p.Version != "" {
			versionPtr = &p.Version
		}
		n.Registry.UpsertOffline(p.NodeID, namePtr, versionPtr, p.TrackCount)
		if p.Addr != "" {
			n.RememberAddr(p.NodeID, p.Addr)
		}
	}

	return payload.Peers, nil
}

// SendBloomTo pushes this node's local Bloom filter to a peer, as
// unsolicited periodic housekeeping alongside liveness pings.
func (n *Node) SendBloomTo(ctx context.Context, peerID, addr string) error {
	env, err := wire.Encode(wire.TypeSendBloom, wire.SendBloomPayload{Data: n.Search.ExportLocalBloom()})
	if err != nil {
		return err
	}
	s, err := n.Dialer.OpenStream(ctx, peerID, addr)
	if err != nil {
		return perrors.Wrap(perrors.Transport, "open stream to "+peerID, err)
	}
	defer s.Close()
	return wire.WriteMessage(s, env)
}

// SearchQuery resolves a query against the local catalog, the remote
// track observation log, and whichever peers' Bloom filters might
// match (any peer with an imported filter and a known address; the
// registry's online flag is not consulted) — routing the query to only those peers instead of
// broadcasting to everyone. Results are memoized for a few seconds so
// a burst of identical queries (e.g. a user retyping) doesn't re-fan
// out to every peer each time.
func (n *Node) SearchQuery(ctx context.Context, query string) ([]wire.TrackSummary, error) {
	result, _, err := n.searchResults.Get(ctx, query, func(ctx context.Context, key string) (interface{}, bool, error) {
		tracks, err := n.searchQueryUncached(ctx, key)
		if err != nil {
			return nil, false, err
		}
		return tracks, true, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]wire.TrackSummary), nil
}

func (n *Node) searchQueryUncached(ctx context.Context, query string) ([]wire.TrackSummary, error) {
	var out []wire.TrackSummary

	if n.Catalog != nil {
		local, err := n.Catalog.FindByQuery(ctx, query)
		if err == nil {
			for _, t := range local {
				out = append(out, n.localTrackSummary(t))
			}
		}
	}

	if n.Remote != nil {
		remote, err := n.Remote.Search(ctx, query)
		if err == nil {
			for _, t := range remote {
				out = append(out, wire.TrackSummary{
					RemoteURI:  t.RemoteURI,
					Title:      t.Title,
					ArtistName: t.ArtistName,
					AlbumTitle: t.AlbumTitle,
				})
			}
		}
	}

	candidates := n.Search.PeersMatchingQuery(query)
	if len(candidates) > 0 {
		n.Metrics.IncQueryRouted()
	}
	for _, peerID := range candidates {
		addr, ok := n.knownAddr(peerID)
		if !ok {
			continue
		}
		reqID := uuid.NewString()
		env, err := wire.Encode(wire.TypeQuery, wire.QueryPayload{RequestID: reqID, Query: query})
		if err != nil {
			continue
		}
		resp, err := n.request(ctx, peerID, addr, env)
		if err != nil {
			continue
		}
		var payload wire.QueryResultPayload
		if err := wire.Decode(resp, &payload); err != nil {
			continue
		}
		out = append(out, payload.Tracks...)
	}

	return out, nil
}

func bytesReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}
