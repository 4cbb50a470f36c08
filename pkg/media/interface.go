// Package media implements the call's audio engine: G.711 framing at a
// fixed 20ms cadence, RFC 4733 DTMF encode/decode, answering-machine
// detection, and WAV export of the recorded conversation.
package media

import (
	"time"

	"github.com/pion/rtp"

	rtpPkg "github.com/outcall/sipvox/pkg/rtp"
)

// MediaSessionInterface is the public surface of MediaSession, kept
// separate so tests can substitute a fake implementation.
type MediaSessionInterface interface {
	// AddRTPSession wires the single RTP leg this session sends and
	// receives through. RemoveRTPSession detaches it.
	AddRTPSession(rtpSessionID string, rtpSession rtpPkg.SessionRTP) error
	RemoveRTPSession(rtpSessionID string) error

	Start() error
	Stop() error

	// SendAudio accepts exactly one 20ms G.711 frame (160 bytes) of
	// already-encoded audio and queues it for transmission at the
	// session's pacing interval.
	SendAudio(audioData []byte) error

	SendDTMF(digit DTMFDigit, duration time.Duration) error

	SetDirection(direction MediaDirection) error

	GetState() MediaSessionState
	GetDirection() MediaDirection
	GetPtime() time.Duration
	GetStatistics() MediaStatistics
	GetPayloadType() PayloadType
	GetPayloadTypeName() string
	GetExpectedPayloadSize() int
	GetBufferedAudioSize() int
	GetTimeSinceLastSend() time.Duration

	FlushAudioBuffer() error

	SetRawPacketHandler(handler func(*rtp.Packet, string))
	ClearRawPacketHandler()
	HasRawPacketHandler() bool
}
