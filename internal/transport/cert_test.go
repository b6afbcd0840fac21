package transport

import (
	"crypto/x509"
	"testing"

	"github.com/federatedfm/p2pcore/internal/identity"
)

func TestSelfSignedCertCarriesIdentityKey(t *testing.T) {
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}

	cert, err := selfSignedCert(id)
	if err != nil {
		t.Fatalf("self-signed cert: %v", err)
	}

	parsed, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}

	gotID, ok := peerIdentityFromCert(parsed)
	if !ok {
		t.Fatalf("expected certificate to carry an Ed25519 public key")
	}
	if gotID != id.String() {
		t.Fatalf("expected cert identity %q, got %q", id.String(), gotID)
	}
}
