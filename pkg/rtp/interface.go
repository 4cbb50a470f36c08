package rtp

import (
	"net"
	"time"

	"github.com/pion/rtp"
)

var _ SessionRTP = (*RTPSession)(nil)

// SessionRTP is the single-remote-peer RTP leg a media.MediaSession drives:
// one SSRC, one sequence/timestamp counter pair, one transport. Call
// negotiates exactly one of these per outbound leg (RFC 3550 section 5.2
// per-session media stream model; no SRTP/RTCP wire paths are implemented).
type SessionRTP interface {
	Start() error
	Stop() error
	SendAudio([]byte, time.Duration) error
	SendPacket(*rtp.Packet) error
	GetSSRC() uint32

	// GetTimestamp returns the session's current RTP timestamp counter,
	// used to stamp a DTMF event's start per RFC 4733 without advancing
	// the audio timestamp.
	GetTimestamp() uint32

	// RegisterIncomingHandler wires a callback for decoded inbound
	// packets, invoked from the session's own receive loop.
	RegisterIncomingHandler(handler func(*rtp.Packet, net.Addr))
}
