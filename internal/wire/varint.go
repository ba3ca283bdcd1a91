// Package wire implements the length-delimited protobuf-shaped codec spec §6
// requires for every handshake/pricing/pseudosettle/swap/hive/pingpong
// message, plus the headered-protocol wrapper (spec §4.3). There is no
// protoc toolchain available to this module, so the wire format is produced
// directly: varint tags (fieldNum<<3|wireType) and length-delimited byte
// fields, exactly as the protobuf wire format defines them, using
// multiformats/go-varint for the varint primitive and go-msgio for the
// outer stream framing.
package wire

import (
	"fmt"

	"github.com/multiformats/go-varint"
)

const (
	wireVarint = 0
	wireBytes  = 2
)

func tag(fieldNum int, wireType int) uint64 {
	return uint64(fieldNum)<<3 | uint64(wireType)
}

// AppendVarintField appends a protobuf varint field (wire type 0).
func AppendVarintField(buf []byte, fieldNum int, v uint64) []byte {
	buf = varint.ToUvarint(buf, tag(fieldNum, wireVarint))
	return varint.ToUvarint(buf, v)
}

// AppendBoolField appends a protobuf bool field, encoded as a varint 0/1.
func AppendBoolField(buf []byte, fieldNum int, v bool) []byte {
	n := uint64(0)
	if v {
		n = 1
	}
	return AppendVarintField(buf, fieldNum, n)
}

// AppendBytesField appends a protobuf length-delimited field (wire type 2),
// used for both `bytes` and `string` proto fields.
func AppendBytesField(buf []byte, fieldNum int, b []byte) []byte {
	buf = varint.ToUvarint(buf, tag(fieldNum, wireBytes))
	buf = varint.ToUvarint(buf, uint64(len(b)))
	return append(buf, b...)
}

// Field is a single decoded protobuf field: its number, wire type, and raw
// payload (the varint value for wireVarint, or the raw bytes for wireBytes).
type Field struct {
	Num      int
	WireType int
	Varint   uint64
	Bytes    []byte
}

// DecodeFields parses buf into its constituent top-level protobuf fields.
// It does not validate field numbers against any schema — callers switch on
// Num/WireType themselves, which keeps this decoder usable across every
// message shape in the protocol set.
func DecodeFields(buf []byte) ([]Field, error) {
	var fields []Field
	for len(buf) > 0 {
		t, n, err := varint.FromUvarint(buf)
		if err != nil {
			return nil, fmt.Errorf("wire: decode tag: %w", err)
		}
		buf = buf[n:]
		fieldNum := int(t >> 3)
		wireType := int(t & 0x7)
		switch wireType {
		case wireVarint:
			v, n, err := varint.FromUvarint(buf)
			if err != nil {
				return nil, fmt.Errorf("wire: decode varint field %d: %w", fieldNum, err)
			}
			buf = buf[n:]
			fields = append(fields, Field{Num: fieldNum, WireType: wireType, Varint: v})
		case wireBytes:
			l, n, err := varint.FromUvarint(buf)
			if err != nil {
				return nil, fmt.Errorf("wire: decode length field %d: %w", fieldNum, err)
			}
			buf = buf[n:]
			if uint64(len(buf)) < l {
				return nil, fmt.Errorf("wire: truncated field %d: need %d bytes, have %d", fieldNum, l, len(buf))
			}
			fields = append(fields, Field{Num: fieldNum, WireType: wireType, Bytes: buf[:l]})
			buf = buf[l:]
		default:
			return nil, fmt.Errorf("wire: unsupported wire type %d for field %d", wireType, fieldNum)
		}
	}
	return fields, nil
}
