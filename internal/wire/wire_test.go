package wire

import (
	"bytes"
	"math"
	"testing"

	"github.com/holiman/uint256"
)

func TestU256RoundTrip(t *testing.T) {
	cases := []struct {
		name string
		v    *uint256.Int
		want []byte
	}{
		{"zero", uint256.NewInt(0), nil},
		{"256", uint256.NewInt(256), []byte{0x01, 0x00}},
		{"max", new(uint256.Int).Not(uint256.NewInt(0)), bytes.Repeat([]byte{0xff}, 32)},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			enc := EncodeU256(c.v)
			if !bytes.Equal(enc, c.want) {
				t.Fatalf("encode mismatch: got %x want %x", enc, c.want)
			}
			dec, err := DecodeU256(enc)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if dec.Cmp(c.v) != 0 {
				t.Fatalf("round-trip mismatch: got %s want %s", dec.Hex(), c.v.Hex())
			}
		})
	}
}

func TestU256RejectsOversized(t *testing.T) {
	_, err := DecodeU256(make([]byte, 33))
	if err == nil {
		t.Fatalf("expected error for 33-byte u256")
	}
}

func TestSynRoundTrip(t *testing.T) {
	s := Syn{ObservedMultiaddr: []byte("/ip4/1.1.1.1/tcp/1")}
	got, err := DecodeSyn(s.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(got.ObservedMultiaddr, s.ObservedMultiaddr) {
		t.Fatalf("round-trip mismatch")
	}
}

func TestSynAckRoundTrip(t *testing.T) {
	a := SynAck{
		ObservedUnderlayOfDialer: []byte("/ip4/2.2.2.2/tcp/2"),
		Record: PeerRecord{
			Multiaddrs: [][]byte{[]byte("/ip4/3.3.3.3/tcp/3")},
			Signature:  bytes.Repeat([]byte{0xAB}, 65),
			Overlay:    bytes.Repeat([]byte{0x01}, 32),
			Nonce:      []byte("nonce"),
			EthAddr:    bytes.Repeat([]byte{0x02}, 20),
		},
		NetworkID: 1,
		FullNode:  true,
		Welcome:   "hi",
	}
	got, err := DecodeSynAck(a.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.NetworkID != a.NetworkID || got.FullNode != a.FullNode || got.Welcome != a.Welcome {
		t.Fatalf("scalar field mismatch: %+v", got)
	}
	if !bytes.Equal(got.Record.Overlay, a.Record.Overlay) {
		t.Fatalf("record overlay mismatch")
	}
	if len(got.Record.Multiaddrs) != 1 || !bytes.Equal(got.Record.Multiaddrs[0], a.Record.Multiaddrs[0]) {
		t.Fatalf("record multiaddr mismatch")
	}
}

func TestWelcomeBoundary(t *testing.T) {
	exact := make([]byte, 140)
	for i := range exact {
		exact[i] = 'a'
	}
	a := Ack{Welcome: string(exact)}
	got, err := DecodeAck(a.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Welcome) != 140 {
		t.Fatalf("expected 140 char welcome to round-trip, got %d", len(got.Welcome))
	}
	// length validation itself is the handshake engine's job (spec §4.2);
	// the codec must not silently truncate, so 141 chars round-trips too.
	tooLong := exact
	tooLong = append(tooLong, 'a')
	a2 := Ack{Welcome: string(tooLong)}
	got2, err := DecodeAck(a2.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got2.Welcome) != 141 {
		t.Fatalf("expected codec to pass through 141 chars for the handshake engine to reject")
	}
}

func TestHeadersRoundTrip(t *testing.T) {
	h := Headers{"trace-id": []byte("abc"), "exchange": []byte{0x01, 0x02}}
	enc, err := h.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeHeaders(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != len(h) {
		t.Fatalf("header count mismatch: got %d want %d", len(got), len(h))
	}
	for k, v := range h {
		if !bytes.Equal(got[k], v) {
			t.Fatalf("header %q mismatch: got %x want %x", k, got[k], v)
		}
	}
}

func TestHeadersRejectOversize(t *testing.T) {
	h := Headers{"k": bytes.Repeat([]byte{0x00}, HeadersMaxSize+1)}
	if _, err := h.Encode(); err == nil {
		t.Fatalf("expected oversized headers to be rejected")
	}
}

func TestPaymentAckRoundTrip(t *testing.T) {
	p := PaymentAck{Amount: []byte{0x03, 0xE8}, TimestampNano: math.MaxInt64}
	got, err := DecodePaymentAck(p.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(got.Amount, p.Amount) || got.TimestampNano != p.TimestampNano {
		t.Fatalf("round-trip mismatch: got %+v want %+v", got, p)
	}
}

func TestPingPongRoundTrip(t *testing.T) {
	ping := Ping{Greeting: "hello"}
	got, err := DecodePing(ping.Encode())
	if err != nil {
		t.Fatalf("decode ping: %v", err)
	}
	if got.Greeting != ping.Greeting {
		t.Fatalf("ping round-trip mismatch")
	}
	pong := Pong{Response: "hello"}
	gotPong, err := DecodePong(pong.Encode())
	if err != nil {
		t.Fatalf("decode pong: %v", err)
	}
	if gotPong.Response != pong.Response {
		t.Fatalf("pong round-trip mismatch")
	}
}
