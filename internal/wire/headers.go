package wire

import "fmt"

// HeadersMaxSize is the encoded size cap for a headers exchange (spec §4.3).
const HeadersMaxSize = 1024

// Headers is the map<string,bytes> every non-handshake protocol exchanges
// immediately after stream upgrade (spec §4.3): tracing span context, or
// protocol-specific negotiation values (e.g. swap's exchange/deduction
// rates).
type Headers map[string][]byte

const (
	headerEntryField = 1
	entryKeyField    = 1
	entryValueField  = 2
)

// Encode serializes h as a sequence of length-delimited entries, each an
// embedded {key, value} message. It returns an error if the result would
// exceed HeadersMaxSize.
func (h Headers) Encode() ([]byte, error) {
	var buf []byte
	for k, v := range h {
		var entry []byte
		entry = AppendBytesField(entry, entryKeyField, []byte(k))
		entry = AppendBytesField(entry, entryValueField, v)
		buf = AppendBytesField(buf, headerEntryField, entry)
	}
	if len(buf) > HeadersMaxSize {
		return nil, fmt.Errorf("wire: headers encode to %d bytes, exceeds max %d", len(buf), HeadersMaxSize)
	}
	return buf, nil
}

// DecodeHeaders parses a headers frame produced by Encode. Oversized input
// is rejected before parsing to avoid doing any work on a hostile payload.
func DecodeHeaders(b []byte) (Headers, error) {
	if len(b) > HeadersMaxSize {
		return nil, fmt.Errorf("wire: headers frame of %d bytes exceeds max %d", len(b), HeadersMaxSize)
	}
	fields, err := DecodeFields(b)
	if err != nil {
		return nil, err
	}
	out := make(Headers, len(fields))
	for _, f := range fields {
		if f.Num != headerEntryField || f.WireType != wireBytes {
			continue
		}
		entryFields, err := DecodeFields(f.Bytes)
		if err != nil {
			return nil, fmt.Errorf("wire: decode header entry: %w", err)
		}
		var key string
		var val []byte
		for _, ef := range entryFields {
			switch ef.Num {
			case entryKeyField:
				key = string(ef.Bytes)
			case entryValueField:
				val = ef.Bytes
			}
		}
		out[key] = val
	}
	return out, nil
}

// ExchangeDialer sends our headers then reads the responder's, matching the
// dialer side of the headered protocol wrapper (spec §4.3).
func ExchangeDialer(f *Framer, ours Headers) (theirs Headers, err error) {
	buf, err := ours.Encode()
	if err != nil {
		return nil, err
	}
	if err := f.WriteMsg(buf); err != nil {
		return nil, fmt.Errorf("wire: write headers: %w", err)
	}
	raw, err := f.ReadMsg()
	if err != nil {
		return nil, fmt.Errorf("wire: read peer headers: %w", err)
	}
	return DecodeHeaders(raw)
}

// ExchangeListener implements the "headler" pattern (spec §4.3): the
// inbound side reads the dialer's headers first, computes its response
// headers from them (e.g. swap's exchange-rate negotiation), then writes
// the response.
func ExchangeListener(f *Framer, computeResponse func(received Headers) Headers) (received Headers, err error) {
	raw, err := f.ReadMsg()
	if err != nil {
		return nil, fmt.Errorf("wire: read dialer headers: %w", err)
	}
	received, err = DecodeHeaders(raw)
	if err != nil {
		return nil, err
	}
	response := computeResponse(received)
	buf, err := response.Encode()
	if err != nil {
		return nil, err
	}
	if err := f.WriteMsg(buf); err != nil {
		return nil, fmt.Errorf("wire: write response headers: %w", err)
	}
	return received, nil
}
