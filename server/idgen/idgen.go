// Package idgen generates compact identifiers for tracked connections.
package idgen

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/binary"
	"sync/atomic"
	"time"
)

var (
	sequence uint32

	// Lowercase base32 without padding keeps IDs short and log-friendly.
	encoding = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)
)

// New returns a 10-byte hybrid ID: 4 bytes of truncated Unix timestamp,
// 2 bytes of an atomically incremented sequence and 4 random bytes, encoded
// as 16 base32 characters. Uniqueness holds per process; collisions across
// restarts within the same second are covered by the random tail.
func New() string {
	var raw [10]byte
	binary.BigEndian.PutUint32(raw[0:4], uint32(time.Now().Unix()))
	seq := atomic.AddUint32(&sequence, 1) & 0xFFFF
	binary.BigEndian.PutUint16(raw[4:6], uint16(seq))
	if _, err := rand.Read(raw[6:]); err != nil {
		// crypto/rand never fails on supported platforms; fall back to
		// nanoseconds so IDs stay distinct within the sequence window.
		binary.BigEndian.PutUint32(raw[6:], uint32(time.Now().UnixNano()))
	}
	return encoding.EncodeToString(raw[:])
}
