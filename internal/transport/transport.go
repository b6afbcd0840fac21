// Package transport implements the overlay's peer-to-peer connection
// layer over QUIC: mutually authenticated (by Ed25519 identity, via a
// self-signed leaf certificate) reliable bidirectional streams. There
// are no unreliable datagrams here; every control message is a
// request/response exchange that must arrive.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"

	"github.com/quic-go/quic-go"

	"github.com/federatedfm/p2pcore/internal/identity"
	"github.com/federatedfm/p2pcore/internal/perrors"
)

// Stream is one bidirectional exchange: a request written, then a
// response read, over the same QUIC stream.
type Stream interface {
	io.ReadWriteCloser
}

// Conn is one open connection to a peer, over which new streams can be
// opened or accepted. Satisfies internal/pool.Conn.
type Conn struct {
	PeerID string
	qconn  *quic.Conn
}

// OpenStream opens a new bidirectional stream to the peer.
func (c *Conn) OpenStream(ctx context.Context) (Stream, error) {
	s, err := c.qconn.OpenStreamSync(ctx)
	if err != nil {
		return nil, perrors.Wrap(perrors.Transport, "open stream to "+c.PeerID, err)
	}
	return s, nil
}

// AcceptStream waits for the peer to open a new stream to us.
func (c *Conn) AcceptStream(ctx context.Context) (Stream, error) {
	s, err := c.qconn.AcceptStream(ctx)
	if err != nil {
		return nil, perrors.Wrap(perrors.Transport, "accept stream from "+c.PeerID, err)
	}
	return s, nil
}

// Close closes the underlying QUIC connection.
func (c *Conn) Close() error {
	return c.qconn.CloseWithError(0, "closed")
}

// IsHealthy reports whether the connection's context is still live.
func (c *Conn) IsHealthy() bool {
	select {
	case <-c.qconn.Context().Done():
		return false
	default:
		return true
	}
}

// Transport dials and listens for peer connections using this node's
// Ed25519 identity as its TLS credential.
type Transport struct {
	identity *identity.Identity
	tlsConf  *tls.Config
	quicConf *quic.Config
	alpn     string
}

// New builds a Transport for the given identity and ALPN protocol
// name (the P2P_ALPN config value).
func New(id *identity.Identity, alpn string) (*Transport, error) {
	cert, err := selfSignedCert(id)
	if err != nil {
		return nil, err
	}

	return &Transport{
		identity: id,
		alpn:     alpn,
		tlsConf: &tls.Config{
			Certificates:       []tls.Certificate{cert},
			NextProtos:         []string{alpn},
			InsecureSkipVerify: true, // overlay identity is verified via the cert's Ed25519 key, not a CA chain
			ClientAuth:         tls.RequireAnyClientCert,
			MinVersion:         tls.VersionTLS13,
		},
		quicConf: &quic.Config{
			KeepAlivePeriod: 0, // liveness is handled at the application layer via Ping/Pong
		},
	}, nil
}

// Dial opens a new connection to a peer at addr, verifying that the
// peer's certificate carries the expected peerID as its Ed25519
// public key.
func (t *Transport) Dial(ctx context.Context, peerID, addr string) (*Conn, error) {
	qconn, err := quic.DialAddr(ctx, addr, t.tlsConf, t.quicConf)
	if err != nil {
		return nil, perrors.Wrap(perrors.Transport, "dial "+peerID+" at "+addr, err)
	}

	state := qconn.ConnectionState().TLS
	if len(state.PeerCertificates) == 0 {
		qconn.CloseWithError(0, "no peer certificate")
		return nil, perrors.New(perrors.Transport, "peer presented no certificate")
	}
	gotID, ok := peerIdentityFromCert(state.PeerCertificates[0])
	if !ok || gotID != identity.Normalize(peerID) {
		qconn.CloseWithError(0, "identity mismatch")
		return nil, perrors.New(perrors.Transport, fmt.Sprintf("peer identity mismatch: expected %s, got %s", peerID, gotID))
	}

	return &Conn{PeerID: peerID, qconn: qconn}, nil
}

// Listener accepts inbound peer connections.
type Listener struct {
	ln *quic.Listener
}

// Listen starts accepting connections on addr.
func (t *Transport) Listen(addr string) (*Listener, error) {
	ln, err := quic.ListenAddr(addr, t.tlsConf, t.quicConf)
	if err != nil {
		return nil, perrors.Wrap(perrors.Transport, "listen on "+addr, err)
	}
	return &Listener{ln: ln}, nil
}

// Accept waits for and returns the next inbound connection. The
// caller is responsible for validating the peer's identity against
// its own blocklist/registry before trusting it.
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	qconn, err := l.ln.Accept(ctx)
	if err != nil {
		return nil, perrors.Wrap(perrors.Transport, "accept connection", err)
	}

	peerID := ""
	state := qconn.ConnectionState().TLS
	if len(state.PeerCertificates) > 0 {
		if id, ok := peerIdentityFromCert(state.PeerCertificates[0]); ok {
			peerID = id
		}
	}

	return &Conn{PeerID: peerID, qconn: qconn}, nil
}

// Close stops accepting new connections.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Addr returns the listener's local address.
func (l *Listener) Addr() string {
	return l.ln.Addr().String()
}
