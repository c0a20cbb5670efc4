// Package fingerprint computes the 64-bit flow and fragment key hashes
// used for bucket selection across the flow cache and fragment cache.
package fingerprint

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// Hash64 returns the XXH64 digest of an already-canonicalized key buffer.
func Hash64(key []byte) uint64 {
	return xxhash.Sum64(key)
}

// Builder accumulates key bytes without an intermediate []byte allocation
// on the hot path; it is reused across calls via Reset.
type Builder struct {
	buf [64]byte
	n   int
}

// Reset clears the builder for reuse.
func (b *Builder) Reset() {
	b.n = 0
}

func (b *Builder) grow(n int) []byte {
	s := b.buf[b.n : b.n+n]
	b.n += n
	return s
}

// PutIP appends a 4 or 16 byte IP address.
func (b *Builder) PutIP(ip []byte) {
	copy(b.grow(len(ip)), ip)
}

// PutUint16 appends a big-endian u16.
func (b *Builder) PutUint16(v uint16) {
	binary.BigEndian.PutUint16(b.grow(2), v)
}

// PutUint32 appends a big-endian u32.
func (b *Builder) PutUint32(v uint32) {
	binary.BigEndian.PutUint32(b.grow(4), v)
}

// PutByte appends a single byte.
func (b *Builder) PutByte(v byte) {
	b.grow(1)[0] = v
}

// Sum64 hashes the accumulated bytes.
func (b *Builder) Sum64() uint64 {
	return xxhash.Sum64(b.buf[:b.n])
}
