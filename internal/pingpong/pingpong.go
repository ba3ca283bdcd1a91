// Package pingpong implements a lightweight liveness probe protocol
// (supplemented feature, not present in the distilled spec but present in
// original_source/ as a connectivity sanity check used before relying on
// a freshly authenticated peer for retrieval/pushsync traffic).
package pingpong

import (
	"fmt"
	"io"
	"time"

	"swarmnode/internal/wire"
)

// DefaultTimeout bounds a single ping round trip.
const DefaultTimeout = 10 * time.Second

// Ping sends a greeting over stream and waits for the matching pong,
// using the same headered-protocol wrapper every non-handshake protocol
// uses (spec §4.3). It returns the round-trip latency.
func Ping(stream io.ReadWriteCloser, greeting string) (time.Duration, error) {
	f := wire.NewFramer(stream)
	defer f.Close()

	if _, err := wire.ExchangeDialer(f, wire.Headers{}); err != nil {
		return 0, fmt.Errorf("pingpong: header exchange: %w", err)
	}

	start := time.Now()
	if err := f.WriteMsg(wire.Ping{Greeting: greeting}.Encode()); err != nil {
		return 0, fmt.Errorf("pingpong: write ping: %w", err)
	}

	raw, err := f.ReadMsg()
	if err != nil {
		return 0, fmt.Errorf("pingpong: read pong: %w", err)
	}
	pong, err := wire.DecodePong(raw)
	if err != nil {
		return 0, fmt.Errorf("pingpong: decode pong: %w", err)
	}
	if pong.Response != greeting {
		return 0, fmt.Errorf("pingpong: pong %q does not echo ping %q", pong.Response, greeting)
	}
	return time.Since(start), nil
}

// Serve handles one inbound ping stream: exchanges headers (replying with
// empty headers whatever was received, since pingpong negotiates nothing),
// reads the ping, and echoes it back as a pong.
func Serve(stream io.ReadWriteCloser) error {
	f := wire.NewFramer(stream)
	defer f.Close()

	if _, err := wire.ExchangeListener(f, func(wire.Headers) wire.Headers { return wire.Headers{} }); err != nil {
		return fmt.Errorf("pingpong: header exchange: %w", err)
	}

	raw, err := f.ReadMsg()
	if err != nil {
		return fmt.Errorf("pingpong: read ping: %w", err)
	}
	ping, err := wire.DecodePing(raw)
	if err != nil {
		return fmt.Errorf("pingpong: decode ping: %w", err)
	}
	if err := f.WriteMsg(wire.Pong{Response: ping.Greeting}.Encode()); err != nil {
		return fmt.Errorf("pingpong: write pong: %w", err)
	}
	return nil
}
