package util

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
)

// NewID returns a random hex id, prefixed as "<prefix>_" when prefix is set.
func NewID(prefix string) string {
	bytes := make([]byte, 12)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

// NewClientID returns a random non-zero replica id. Ids fit in 32 bits so
// they survive JSON number decoding on any peer.
func NewClientID() uint64 {
	var bytes [4]byte
	for {
		_, _ = rand.Read(bytes[:])
		if id := binary.BigEndian.Uint32(bytes[:]); id != 0 {
			return uint64(id)
		}
	}
}
