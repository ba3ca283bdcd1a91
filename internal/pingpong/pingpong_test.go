package pingpong

import (
	"net"
	"testing"
)

func TestPingPongRoundTrip(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	done := make(chan error, 1)
	go func() { done <- Serve(serverConn) }()

	rtt, err := Ping(clientConn, "hello")
	if err != nil {
		t.Fatalf("ping: %v", err)
	}
	if rtt < 0 {
		t.Fatalf("expected non-negative rtt, got %v", rtt)
	}
	if err := <-done; err != nil {
		t.Fatalf("serve: %v", err)
	}
}

func TestPingFailsWithoutAServer(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	serverConn.Close() // no one will ever read or respond

	if _, err := Ping(clientConn, "hello"); err == nil {
		t.Fatalf("expected ping against a closed peer to fail")
	}
	clientConn.Close()
}
