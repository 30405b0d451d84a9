// pkg/masstree/key.go
package masstree

import (
	"encoding/binary"

	"golang.org/x/text/unicode/norm"
)

// Keys are plain byte strings; the constructors below are conveniences
// for producing canonical key bytes.

// BytesKey returns an owned copy of b usable as a key. A nil input
// yields an empty (zero-length) key, which is valid.
func BytesKey(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// StringKey returns the key bytes for s after normalizing it to Unicode
// NFC, so that visually identical strings with different code point
// sequences index the same entry.
func StringKey(s string) []byte {
	return []byte(norm.NFC.String(s))
}

// Uint64Key encodes v as an 8-byte little-endian key. The encoding
// matches the tree's slice representation, so numeric order of the
// values coincides with the tree's internal slice order.
func Uint64Key(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}
