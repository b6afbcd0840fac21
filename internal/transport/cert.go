package transport

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"

	"github.com/federatedfm/p2pcore/internal/identity"
)

// selfSignedCert builds a self-signed TLS certificate whose public
// key is exactly the node's Ed25519 identity key — a peer that wants
// to verify who it's talking to reads the leaf certificate's public
// key back out and compares it against the claimed node ID, rather
// than relying on a certificate authority the overlay has no use for.
func selfSignedCert(id *identity.Identity) (tls.Certificate, error) {
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName: id.String(),
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(100 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, id.Public, id.Private)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("create self-signed certificate: %w", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  id.Private,
	}, nil
}

// peerIdentityFromCert extracts the claimed node ID from a peer's leaf
// certificate's Ed25519 public key.
func peerIdentityFromCert(cert *x509.Certificate) (string, bool) {
	pub, ok := cert.PublicKey.(ed25519.PublicKey)
	if !ok {
		return "", false
	}
	return identity.EncodeID(pub), true
}
