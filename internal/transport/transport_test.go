package transport

import (
	"context"
	"testing"
	"time"

	"github.com/federatedfm/p2pcore/internal/identity"
)

func TestDialListenRoundTripExchangesAStream(t *testing.T) {
	serverID, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate server identity: %v", err)
	}
	clientID, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate client identity: %v", err)
	}

	server, err := New(serverID, "soundtime-p2p-test/1")
	if err != nil {
		t.Fatalf("new server transport: %v", err)
	}
	client, err := New(clientID, "soundtime-p2p-test/1")
	if err != nil {
		t.Fatalf("new client transport: %v", err)
	}

	ln, err := server.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	acceptErrCh := make(chan error, 1)
	var serverConn *Conn
	go func() {
		c, err := ln.Accept(ctx)
		serverConn = c
		acceptErrCh <- err
	}()

	clientConn, err := client.Dial(ctx, serverID.String(), ln.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer clientConn.Close()

	if err := <-acceptErrCh; err != nil {
		t.Fatalf("accept: %v", err)
	}
	defer serverConn.Close()

	if serverConn.PeerID != clientID.String() {
		t.Fatalf("expected server to see client identity %q, got %q", clientID.String(), serverConn.PeerID)
	}

	clientStream, err := clientConn.OpenStream(ctx)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}

	streamErrCh := make(chan error, 1)
	go func() {
		_, err := clientStream.Write([]byte("hello"))
		streamErrCh <- err
	}()

	serverStream, err := serverConn.AcceptStream(ctx)
	if err != nil {
		t.Fatalf("accept stream: %v", err)
	}

	buf := make([]byte, 5)
	if _, err := serverStream.Read(buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf) != "hello" {
		t.Fatalf("expected 'hello', got %q", buf)
	}
	if err := <-streamErrCh; err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestDialRejectsWrongPeerIdentity(t *testing.T) {
	serverID, _ := identity.Generate()
	clientID, _ := identity.Generate()
	wrongID, _ := identity.Generate()

	server, err := New(serverID, "soundtime-p2p-test/1")
	if err != nil {
		t.Fatalf("new server transport: %v", err)
	}
	client, err := New(clientID, "soundtime-p2p-test/1")
	if err != nil {
		t.Fatalf("new client transport: %v", err)
	}

	ln, err := server.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go ln.Accept(ctx)

	_, err = client.Dial(ctx, wrongID.String(), ln.Addr())
	if err == nil {
		t.Fatalf("expected dial to fail when the server's identity doesn't match the expected peer ID")
	}
}
