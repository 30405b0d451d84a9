// internal/encoding/keyslice.go
package encoding

import "encoding/binary"

// SliceLen is the number of key bytes consumed per tree layer.
const SliceLen = 8

// ReadSlice returns the key slice starting at byte offset off and the
// number of key bytes it covers (SliceLen, or the shorter remainder).
// The slice is the little-endian 64-bit word of the covered bytes; a
// remainder shorter than SliceLen is zero-padded on the high end of the
// word, so the padding never changes the low-order byte positions.
// An offset at or past the end of the key yields (0, 0).
func ReadSlice(key []byte, off int) (uint64, int) {
	if off >= len(key) {
		return 0, 0
	}
	rest := key[off:]
	if len(rest) >= SliceLen {
		return binary.LittleEndian.Uint64(rest), SliceLen
	}
	var buf [SliceLen]byte
	copy(buf[:], rest)
	return binary.LittleEndian.Uint64(buf[:]), len(rest)
}

// SliceBytes reconstructs the n key bytes encoded in slice s.
// It is the inverse of ReadSlice for a covered length of n.
func SliceBytes(s uint64, n int) []byte {
	var buf [SliceLen]byte
	binary.LittleEndian.PutUint64(buf[:], s)
	return buf[:n]
}
