package rtp

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// generateSSRC picks a random 32-bit synchronization source identifier
// (RFC 3550 section 8.1) using crypto/rand rather than math/rand, since
// collisions across concurrent calls from the same host are the
// practical risk this guards against.
func generateSSRC() (uint32, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("rtp: generate SSRC: %w", err)
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

// generateRandomUint16 picks a random initial RTP sequence number
// (RFC 3550 recommends an unpredictable starting value).
func generateRandomUint16() uint16 {
	var buf [2]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0
	}
	return binary.BigEndian.Uint16(buf[:])
}

// generateRandomUint32 picks a random initial RTP timestamp offset.
func generateRandomUint32() uint32 {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0
	}
	return binary.BigEndian.Uint32(buf[:])
}
