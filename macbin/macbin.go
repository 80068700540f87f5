// Package macbin holds the byte-accurate primitives every filesystem and
// resource-fork parser in this module reads through: big-endian integers
// at odd offsets, Pascal strings, and the 3-byte big-endian offsets the
// resource map uses. MacRoman bytes are never converted to UTF-8 here —
// that conversion is an explicit external collaborator's job.
package macbin

import "encoding/binary"

// BE16 reads a big-endian uint16 at the start of b.
func BE16(b []byte) uint16 { return binary.BigEndian.Uint16(b) }

// BE32 reads a big-endian uint32 at the start of b.
func BE32(b []byte) uint32 { return binary.BigEndian.Uint32(b) }

// BE24 reads a 3-byte big-endian unsigned integer, as used by the
// resource reference list's data_offset field.
func BE24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// PString reads a Pascal string (length byte then that many bytes) from
// the start of b and returns the raw payload bytes, unconverted.
func PString(b []byte) []byte {
	n := int(b[0])
	return b[1 : 1+n]
}

// FourCC renders a 4-byte type/creator code as a string for comparisons
// and map keys, without interpreting it as text in any particular
// encoding.
func FourCC(b []byte) [4]byte {
	var code [4]byte
	copy(code[:], b[:4])
	return code
}
