package wire

import "github.com/holiman/uint256"

// EncodeU256 encodes v as big-endian bytes with leading zeros trimmed,
// matching the reference implementation (spec §4.5 "Pricing protocol",
// §6 message fields, §8 round-trip laws). Zero encodes to an empty slice.
func EncodeU256(v *uint256.Int) []byte {
	if v == nil || v.IsZero() {
		return nil
	}
	b := v.Bytes() // big.Int-style Bytes() already has no leading zero byte
	return b
}

// DecodeU256 decodes big-endian trimmed bytes (empty == zero) into a u256.
// It rejects inputs longer than 32 bytes.
func DecodeU256(b []byte) (*uint256.Int, error) {
	if len(b) > 32 {
		return nil, errTooLong
	}
	return new(uint256.Int).SetBytes(b), nil
}

var errTooLong = errU256TooLong{}

type errU256TooLong struct{}

func (errU256TooLong) Error() string { return "wire: u256 field longer than 32 bytes" }
