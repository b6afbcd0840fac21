package wire

import "github.com/federatedfm/p2pcore/internal/search"

// Type names a wire message's payload shape.
type Type string

const (
	TypePing                Type = "ping"
	TypePong                Type = "pong"
	TypeAnnounce            Type = "announce"
	TypeAnnounceDone        Type = "announce_done"
	TypeBlobRequest         Type = "blob_request"
	TypeBlobSize            Type = "blob_size"
	TypePeerExchangeRequest Type = "peer_exchange_request"
	TypePeerExchangeReply   Type = "peer_exchange_reply"
	TypeSendBloom           Type = "send_bloom"
	TypeQuery               Type = "query"
	TypeQueryResult         Type = "query_result"
)

// TrackSummary is the metadata an Announce or QueryResult carries for
// one track — enough for a remote peer to decide whether to fetch it
// and to populate its remote_tracks record.
type TrackSummary struct {
	RemoteURI  string `json:"remote_uri"`
	Title      string `json:"title"`
	ArtistName string `json:"artist_name"`
	AlbumTitle string `json:"album_title,omitempty"`
	Bitrate    uint32 `json:"bitrate,omitempty"`
	SampleRate uint32 `json:"sample_rate,omitempty"`
	Format     string `json:"format,omitempty"`
	Hash       string `json:"content_hash,omitempty"`
	SizeBytes  uint64 `json:"size_bytes,omitempty"`
}

// PingPayload identifies the sender and its liveness-relevant state.
type PingPayload struct {
	NodeID string `json:"node_id"`
}

// PongPayload is the liveness reply: the responder's self-reported
// name, version, and track count, trusted verbatim by the receiver.
type PongPayload struct {
	NodeID     string `json:"node_id"`
	Name       string `json:"name,omitempty"`
	Version    string `json:"version,omitempty"`
	TrackCount uint64 `json:"track_count"`
}

// AnnouncePayload carries one batch of a peer's track list. A full
// announce is a sequence of these frames on one stream, terminated by
// an AnnounceDone frame.
type AnnouncePayload struct {
	Tracks []TrackSummary `json:"tracks"`
}

// AnnounceDonePayload terminates a sequence of Announce frames.
type AnnounceDonePayload struct{}

// BlobRequestPayload asks for a blob by content hash.
type BlobRequestPayload struct {
	Hash string `json:"hash"`
}

// BlobSizePayload answers a BlobRequest with the blob's size, ahead of
// streaming the bytes themselves on the same connection; Found is
// false if the peer doesn't have the blob.
type BlobSizePayload struct {
	Hash  string `json:"hash"`
	Size  uint64 `json:"size"`
	Found bool   `json:"found"`
}

// PeerExchangeRequestPayload asks a peer to share the peers it knows
// about, optionally capped at limit entries.
type PeerExchangeRequestPayload struct {
	Limit uint32 `json:"limit,omitempty"`
}

// PeerAddr is one entry in a peer exchange reply: enough for the
// recipient to both dial the peer and upsert it into its own
// registry without a follow-up round trip.
type PeerAddr struct {
	NodeID     string `json:"node_id"`
	Addr       string `json:"addr"`
	Name       string `json:"name,omitempty"`
	Version    string `json:"version,omitempty"`
	TrackCount uint64 `json:"track_count"`
}

// PeerExchangeReplyPayload lists peers known to the responder.
type PeerExchangeReplyPayload struct {
	Peers []PeerAddr `json:"peers"`
}

// SendBloomPayload pushes the sender's local Bloom filter summary.
// The filter's fields sit at the payload's top level (search.Data's
// own JSON tags), so a receiver can reconstruct the filter without
// any wrapper-specific knowledge.
type SendBloomPayload struct {
	search.Data
}

// QueryPayload is a search request routed to peers whose Bloom filter
// might match.
type QueryPayload struct {
	RequestID string `json:"request_id"`
	Query     string `json:"query"`
}

// QueryResultPayload answers a Query with zero or more matching
// tracks.
type QueryResultPayload struct {
	RequestID string         `json:"request_id"`
	Tracks    []TrackSummary `json:"tracks"`
}
