package perrors

import (
	"errors"
	"testing"
)

func TestErrorMessageWithoutCause(t *testing.T) {
	err := New(PeerBlocked, "identifier in blocklist")
	want := "peer_blocked: identifier in blocklist"
	if err.Error() != want {
		t.Fatalf("got %q, want %q", err.Error(), want)
	}
}

func TestErrorMessageWithCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(Transport, "dial failed", cause)
	want := "transport: dial failed: connection refused"
	if err.Error() != want {
		t.Fatalf("got %q, want %q", err.Error(), want)
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(Store, "tag delete failed", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find the wrapped cause")
	}
}

func TestIs(t *testing.T) {
	err := New(NotFound, "unknown hash")
	if !Is(err, NotFound) {
		t.Fatalf("expected Is(err, NotFound) to be true")
	}
	if Is(err, Transport) {
		t.Fatalf("expected Is(err, Transport) to be false")
	}
	if Is(errors.New("plain"), NotFound) {
		t.Fatalf("expected Is on a non-*Error to be false")
	}
}

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		Transport:   "transport",
		Codec:       "codec",
		NotFound:    "not_found",
		PeerBlocked: "peer_blocked",
		Store:       "store",
		Timeout:     "timeout",
		Local:       "local",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
}
