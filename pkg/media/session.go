// Package media's audio engine. MediaSession owns one call's audio leg:
// it paces outbound G.711 frames onto the RTP session at a fixed 20ms
// cadence, delivers inbound frames and decoded DTMF events, and feeds a
// WAV recorder tapping the received audio.
package media

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pion/rtp"

	rtpPkg "github.com/outcall/sipvox/pkg/rtp"
)

var _ MediaSessionInterface = (*MediaSession)(nil)

// PayloadType is an RTP payload type identifier (RFC 3551).
type PayloadType = uint8

// Session is the RTP leg a MediaSession drives. Call negotiates exactly
// one of these per call; there is no backup-leg or multi-codec fan-out.
type Session = rtpPkg.SessionRTP

// Fixed framing parameters. The engine only ever speaks G.711 at 8kHz
// with a 20ms packetization cadence, so these are constants rather than
// per-session configuration.
const (
	FrameDuration   = 20 * time.Millisecond
	SamplesPerFrame = 160 // 8000Hz * 20ms
	SampleRate      = uint32(8000)

	DefaultDTMFDuration = 100 * time.Millisecond
	DTMFVolumeMaxDbm    = 63
	DTMFPayloadTypeRFC  = 101 // RFC 4733 telephone-event, by convention
)

// Payload types this engine understands (RFC 3551).
const (
	PayloadTypePCMU = PayloadType(0)   // μ-law
	PayloadTypePCMA = PayloadType(8)   // A-law
	PayloadTypeDTMF = PayloadType(101) // RFC 4733 telephone-event
)

// MediaDirection is the negotiated media flow direction (SDP a=, RFC 4566).
type MediaDirection int

const (
	DirectionSendRecv MediaDirection = iota
	DirectionSendOnly
	DirectionRecvOnly
	DirectionInactive
)

func (d MediaDirection) String() string {
	switch d {
	case DirectionSendRecv:
		return "sendrecv"
	case DirectionSendOnly:
		return "sendonly"
	case DirectionRecvOnly:
		return "recvonly"
	case DirectionInactive:
		return "inactive"
	default:
		return "unknown"
	}
}

// MediaSessionState is where a MediaSession sits in its lifecycle.
type MediaSessionState int

const (
	MediaStateIdle MediaSessionState = iota
	MediaStateActive
	MediaStatePaused
	MediaStateClosed
)

func (s MediaSessionState) String() string {
	switch s {
	case MediaStateIdle:
		return "idle"
	case MediaStateActive:
		return "active"
	case MediaStatePaused:
		return "paused"
	case MediaStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MediaSession is one call's audio engine: it drives a single RTP leg,
// packetizing outbound G.711 frames at a fixed 20ms cadence and handing
// inbound frames (still G.711-encoded) and decoded RFC 4733 DTMF events
// back to the caller's callbacks.
//
// MediaSession is safe for concurrent use.
type MediaSession struct {
	sessionID   string
	direction   MediaDirection
	payloadType PayloadType

	rtpSessionID string
	rtpSession   Session
	sessionMutex sync.RWMutex

	audioBuffer  []byte // pending outbound bytes, drained one 160-byte frame at a time
	bufferMutex  sync.Mutex
	lastSendTime time.Time
	sendTicker   *time.Ticker
	stopChan     chan struct{}
	paceFactor   float64 // drain speed relative to FrameDuration; 1.0 is real-time

	// Records the received audio for later WAV export.
	recorder *callRecorder

	state      MediaSessionState
	stateMutex sync.RWMutex

	dtmfSender   *DTMFSender
	dtmfReceiver *DTMFReceiver
	dtmfEnabled  bool

	callbacksMutex      sync.RWMutex
	onAudioReceived     func([]byte, PayloadType, time.Duration, string)
	onRawPacketReceived func(*rtp.Packet, string)
	onDTMFReceived      func(DTMFEvent, string)
	onMediaError        func(error, string)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stats      MediaStatistics
	statsMutex sync.RWMutex
}

// MediaSessionConfig configures a new MediaSession. SessionID is the
// only required field.
type MediaSessionConfig struct {
	SessionID   string
	Direction   MediaDirection
	Ptime       time.Duration // must be 20ms (the engine's only cadence) if set
	PayloadType PayloadType   // PayloadTypePCMU or PayloadTypePCMA

	DTMFEnabled     bool
	DTMFPayloadType uint8 // RFC 4733 payload type, conventionally 101

	OnAudioReceived     func([]byte, PayloadType, time.Duration, string)
	OnRawPacketReceived func(*rtp.Packet, string)
	OnDTMFReceived      func(DTMFEvent, string)
	OnMediaError        func(error, string)

	// PaceFactor controls how fast sendBufferedAudio drains audioBuffer
	// relative to FrameDuration. 1.0 holds real time; a value below 1.0
	// shortens the send interval so a buffered prompt can catch up to a
	// live source before the callee starts talking. Defaults to 1/1.75.
	PaceFactor float64

	// RecordingBufferFrames sizes the recording ring buffer (in frames)
	// before it drops the oldest. 0 uses the default (500 frames, ~10s).
	RecordingBufferFrames int
}

// MediaStatistics is a live snapshot of one session's traffic counters.
type MediaStatistics struct {
	AudioPacketsSent     uint64
	AudioPacketsReceived uint64
	AudioBytesSent       uint64
	AudioBytesReceived   uint64
	DTMFEventsSent       uint64
	DTMFEventsReceived   uint64
	LastActivity         time.Time
}

// DefaultMediaSessionConfig returns sane defaults for telephony use.
func DefaultMediaSessionConfig() MediaSessionConfig {
	return MediaSessionConfig{
		Direction:       DirectionSendRecv,
		Ptime:           FrameDuration,
		PayloadType:     PayloadTypePCMU,
		DTMFEnabled:     true,
		DTMFPayloadType: DTMFPayloadTypeRFC,
		PaceFactor:      1.0 / 1.75,
	}
}

// NewMediaSession validates config and returns an unstarted session.
func NewMediaSession(config MediaSessionConfig) (*MediaSession, error) {
	if config.SessionID == "" {
		return nil, &MediaError{
			Code:    ErrorCodeSessionInvalidConfig,
			Message: "session ID is required",
		}
	}

	if config.Ptime == 0 {
		config.Ptime = FrameDuration
	}
	if config.Ptime != FrameDuration {
		return nil, &MediaError{
			Code:      ErrorCodeAudioTimingInvalid,
			Message:   fmt.Sprintf("unsupported ptime %v: this engine only packetizes at %v", config.Ptime, FrameDuration),
			SessionID: config.SessionID,
			Context: map[string]interface{}{
				"ptime": config.Ptime,
			},
		}
	}

	if config.PayloadType != PayloadTypePCMU && config.PayloadType != PayloadTypePCMA {
		return nil, &MediaError{
			Code:      ErrorCodeAudioCodecUnsupported,
			Message:   fmt.Sprintf("unsupported payload type %d: only PCMU (0) and PCMA (8) are implemented", config.PayloadType),
			SessionID: config.SessionID,
			Context: map[string]interface{}{
				"payload_type": config.PayloadType,
			},
		}
	}

	if config.PaceFactor <= 0 {
		config.PaceFactor = 1.0 / 1.75
	}

	ctx, cancel := context.WithCancel(context.Background())

	session := &MediaSession{
		sessionID:    config.SessionID,
		direction:    config.Direction,
		payloadType:  config.PayloadType,
		state:        MediaStateIdle,
		dtmfEnabled:  config.DTMFEnabled,
		paceFactor:   config.PaceFactor,
		audioBuffer:  make([]byte, 0, SamplesPerFrame*4),
		stopChan:     make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
		recorder:     newCallRecorder(config.RecordingBufferFrames),

		onAudioReceived:     config.OnAudioReceived,
		onRawPacketReceived: config.OnRawPacketReceived,
		onDTMFReceived:      config.OnDTMFReceived,
		onMediaError:        config.OnMediaError,
	}

	if config.DTMFEnabled {
		dtmfPT := config.DTMFPayloadType
		if dtmfPT == 0 {
			dtmfPT = DTMFPayloadTypeRFC
		}
		session.dtmfSender = NewDTMFSender(dtmfPT)
		session.dtmfReceiver = NewDTMFReceiver(dtmfPT)

		if config.OnDTMFReceived != nil {
			session.dtmfReceiver.SetCallback(func(event DTMFEvent) {
				config.OnDTMFReceived(event, session.rtpSessionID)
			})
		}
	}

	return session, nil
}

// AddRTPSession wires the RTP leg this session sends and receives
// through. It returns an error if a leg is already attached;
// RemoveRTPSession detaches it first. MediaSession's Start and Stop also
// start and stop the attached leg.
func (ms *MediaSession) AddRTPSession(rtpSessionID string, rtpSession Session) error {
	ms.sessionMutex.Lock()
	defer ms.sessionMutex.Unlock()

	if ms.rtpSession != nil {
		return NewRTPError(ErrorCodeRTPSessionNotFound, ms.sessionID, rtpSessionID,
			"a RTP session is already attached; call RemoveRTPSession first", 0, 0, 0)
	}

	ms.rtpSessionID = rtpSessionID
	ms.rtpSession = rtpSession

	if ms.dtmfSender != nil {
		ms.dtmfSender.SetSSRC(rtpSession.GetSSRC())
	}

	rtpSession.RegisterIncomingHandler(func(packet *rtp.Packet, addr net.Addr) {
		ms.handleIncomingRTPPacket(packet)
	})

	return nil
}

// RemoveRTPSession stops and detaches the current RTP leg.
func (ms *MediaSession) RemoveRTPSession(rtpSessionID string) error {
	ms.sessionMutex.Lock()
	defer ms.sessionMutex.Unlock()

	if ms.rtpSession == nil || ms.rtpSessionID != rtpSessionID {
		return NewRTPError(ErrorCodeRTPSessionNotFound, ms.sessionID, rtpSessionID,
			"no RTP session with that ID is attached", 0, 0, 0)
	}

	if err := ms.rtpSession.Stop(); err != nil {
		return fmt.Errorf("media: stop RTP session: %w", err)
	}

	ms.rtpSession = nil
	ms.rtpSessionID = ""
	return nil
}

// Start begins pacing outbound audio and accepting inbound packets.
func (ms *MediaSession) Start() error {
	ms.stateMutex.Lock()
	defer ms.stateMutex.Unlock()

	if ms.state != MediaStateIdle {
		return &MediaError{
			Code:      ErrorCodeSessionAlreadyStarted,
			Message:   "media session already started or closed",
			SessionID: ms.sessionID,
			Context: map[string]interface{}{
				"current_state": ms.state,
			},
		}
	}

	ms.lastSendTime = time.Now()

	if ms.canSend() {
		ms.sendTicker = time.NewTicker(ms.paceInterval())
		ms.wg.Add(1)
		go ms.audioSendLoop()
	}

	ms.state = MediaStateActive

	ms.sessionMutex.RLock()
	rtpSession := ms.rtpSession
	ms.sessionMutex.RUnlock()

	if rtpSession != nil {
		if err := rtpSession.Start(); err != nil {
			return fmt.Errorf("media: start RTP session: %w", err)
		}
	}

	return nil
}

// Stop halts pacing, stops the RTP leg, and closes the recorder.
func (ms *MediaSession) Stop() error {
	ms.stateMutex.Lock()
	defer ms.stateMutex.Unlock()

	if ms.state == MediaStateClosed {
		return nil
	}

	ms.state = MediaStateClosed

	if ms.sendTicker != nil {
		ms.sendTicker.Stop()
		ms.sendTicker = nil
	}

	close(ms.stopChan)
	ms.cancel()

	ms.bufferMutex.Lock()
	ms.audioBuffer = ms.audioBuffer[:0]
	ms.bufferMutex.Unlock()

	ms.sessionMutex.Lock()
	if ms.rtpSession != nil {
		_ = ms.rtpSession.Stop() // best-effort on a forced stop
	}
	ms.sessionMutex.Unlock()

	ms.wg.Wait()

	if ms.recorder != nil {
		ms.recorder.close()
	}

	return nil
}

// SendAudio queues one 160-byte G.711 frame for transmission at the
// session's pacing interval.
func (ms *MediaSession) SendAudio(audioData []byte) error {
	if !ms.canSend() {
		return &MediaError{
			Code:      ErrorCodeSessionInvalidDirection,
			Message:   fmt.Sprintf("sending is not permitted in %s mode", ms.direction),
			SessionID: ms.sessionID,
			Context: map[string]interface{}{
				"direction": ms.direction,
			},
		}
	}

	if state := ms.GetState(); state != MediaStateActive {
		return &MediaError{
			Code:      ErrorCodeSessionNotStarted,
			Message:   fmt.Sprintf("media session is not active: %s", state),
			SessionID: ms.sessionID,
			Context: map[string]interface{}{
				"current_state": state,
			},
		}
	}

	if len(audioData) != SamplesPerFrame {
		return NewAudioError(ErrorCodeAudioSizeInvalid, ms.sessionID,
			fmt.Sprintf("audio frame is %d bytes, expected %d (one %v G.711 frame)",
				len(audioData), SamplesPerFrame, FrameDuration),
			ms.payloadType, SamplesPerFrame, len(audioData), SampleRate, FrameDuration)
	}

	return ms.addToAudioBuffer(audioData)
}

// SendDTMF sends one RFC 4733 telephone-event digit, stamped with the
// RTP session's current timestamp so the remote end can associate it
// with the audio stream it interrupts.
func (ms *MediaSession) SendDTMF(digit DTMFDigit, duration time.Duration) error {
	if !ms.canSend() {
		return &MediaError{
			Code:      ErrorCodeSessionInvalidDirection,
			Message:   fmt.Sprintf("sending is not permitted in %s mode", ms.direction),
			SessionID: ms.sessionID,
			Context: map[string]interface{}{
				"direction": ms.direction,
			},
		}
	}

	if !ms.dtmfEnabled || ms.dtmfSender == nil {
		return NewDTMFError(ErrorCodeDTMFNotEnabled, ms.sessionID, "DTMF is not enabled", DTMFDigit(0), 0)
	}

	if state := ms.GetState(); state != MediaStateActive {
		return &MediaError{
			Code:      ErrorCodeSessionNotStarted,
			Message:   fmt.Sprintf("media session is not active: %s", state),
			SessionID: ms.sessionID,
			Context: map[string]interface{}{
				"current_state": state,
			},
		}
	}

	ms.sessionMutex.RLock()
	rtpSession := ms.rtpSession
	ms.sessionMutex.RUnlock()

	if rtpSession == nil {
		return NewRTPError(ErrorCodeRTPSessionNotFound, ms.sessionID, "", "no RTP session attached", 0, 0, 0)
	}

	event := DTMFEvent{
		Digit:     digit,
		Duration:  duration,
		Volume:    -10,
		Timestamp: rtpSession.GetTimestamp(),
	}

	packets, err := ms.dtmfSender.GeneratePackets(event)
	if err != nil {
		return WrapMediaError(ErrorCodeDTMFSendFailed, ms.sessionID, "generate DTMF packets", err)
	}

	for _, packet := range packets {
		if err := rtpSession.SendPacket(packet); err != nil {
			ms.handleError(fmt.Errorf("media: send DTMF packet: %w", err))
		}
	}

	ms.updateDTMFSendStats()
	return nil
}

// EnableDTMFCollector wires a DTMFCollector to this session's DTMF
// receiver, replacing any previously set DTMF callback, and returns the
// collector so callers can GetDTMF/GetDTMFUntil against it.
func (ms *MediaSession) EnableDTMFCollector(onStart func()) (*DTMFCollector, error) {
	if !ms.dtmfEnabled || ms.dtmfReceiver == nil {
		return nil, NewDTMFError(ErrorCodeDTMFNotEnabled, ms.sessionID, "DTMF is not enabled", DTMFDigit(0), 0)
	}
	collector := NewDTMFCollector(onStart)
	ms.dtmfReceiver.SetCallback(collector.Feed)
	return collector, nil
}

// paceInterval returns the audioSendLoop tick interval after applying
// paceFactor to FrameDuration. A factor below 1.0 drains audioBuffer
// faster than real time.
func (ms *MediaSession) paceInterval() time.Duration {
	factor := ms.paceFactor
	if factor <= 0 {
		factor = 1.0
	}
	interval := time.Duration(float64(FrameDuration) * factor)
	if interval <= 0 {
		interval = FrameDuration
	}
	return interval
}

// SetPaceFactor adjusts the audioSendLoop drain speed relative to
// FrameDuration. Values below 1.0 let a buffered prompt catch up faster
// than real time; 1.0 keeps strict real-time pacing.
func (ms *MediaSession) SetPaceFactor(factor float64) {
	ms.bufferMutex.Lock()
	defer ms.bufferMutex.Unlock()
	ms.paceFactor = factor
	if ms.sendTicker != nil && ms.GetState() == MediaStateActive {
		ms.sendTicker.Reset(ms.paceInterval())
	}
}

// GetState returns the session's current lifecycle state.
func (ms *MediaSession) GetState() MediaSessionState {
	ms.stateMutex.RLock()
	defer ms.stateMutex.RUnlock()
	return ms.state
}

// SetDirection changes the negotiated media flow direction.
func (ms *MediaSession) SetDirection(direction MediaDirection) error {
	ms.stateMutex.Lock()
	defer ms.stateMutex.Unlock()
	ms.direction = direction
	return nil
}

// GetDirection returns the negotiated media flow direction.
func (ms *MediaSession) GetDirection() MediaDirection {
	return ms.direction
}

// GetPtime returns the session's fixed packetization cadence.
func (ms *MediaSession) GetPtime() time.Duration {
	return FrameDuration
}

// GetStatistics returns a snapshot of the session's traffic counters.
func (ms *MediaSession) GetStatistics() MediaStatistics {
	ms.statsMutex.RLock()
	defer ms.statsMutex.RUnlock()
	return ms.stats
}

func (ms *MediaSession) canSend() bool {
	return ms.direction == DirectionSendRecv || ms.direction == DirectionSendOnly
}

func (ms *MediaSession) canReceive() bool {
	return ms.direction == DirectionSendRecv || ms.direction == DirectionRecvOnly
}

func (ms *MediaSession) handleError(err error) {
	ms.callbacksMutex.RLock()
	errorHandler := ms.onMediaError
	ms.callbacksMutex.RUnlock()

	if errorHandler != nil {
		go errorHandler(err, ms.rtpSessionID)
	}
}

func (ms *MediaSession) updateSendStats(bytes int) {
	ms.statsMutex.Lock()
	defer ms.statsMutex.Unlock()

	ms.stats.AudioPacketsSent++
	ms.stats.AudioBytesSent += uint64(bytes)
	ms.stats.LastActivity = time.Now()
}

func (ms *MediaSession) updateReceiveStats(bytes int) {
	ms.statsMutex.Lock()
	defer ms.statsMutex.Unlock()

	ms.stats.AudioPacketsReceived++
	ms.stats.AudioBytesReceived += uint64(bytes)
	ms.stats.LastActivity = time.Now()
}

func (ms *MediaSession) updateDTMFSendStats() {
	ms.statsMutex.Lock()
	defer ms.statsMutex.Unlock()
	ms.stats.DTMFEventsSent++
}

func (ms *MediaSession) updateDTMFReceiveStats() {
	ms.statsMutex.Lock()
	defer ms.statsMutex.Unlock()
	ms.stats.DTMFEventsReceived++
}

// getSampleRateForPayloadType returns the sample rate for a payload
// type; both supported codecs run at 8kHz.
func getSampleRateForPayloadType(pt PayloadType) uint32 {
	return SampleRate
}

// GetExpectedPayloadSize returns the frame size in bytes: both PCMU and
// PCMA carry one byte per sample, so it is always SamplesPerFrame.
func (ms *MediaSession) GetExpectedPayloadSize() int {
	return SamplesPerFrame
}

// GetPayloadTypeName returns a human-readable codec name for logging.
func (ms *MediaSession) GetPayloadTypeName() string {
	switch ms.payloadType {
	case PayloadTypePCMU:
		return "G.711 μ-law (PCMU)"
	case PayloadTypePCMA:
		return "G.711 A-law (PCMA)"
	default:
		return fmt.Sprintf("unknown (%d)", ms.payloadType)
	}
}

// GetPayloadType returns the session's codec payload type.
func (ms *MediaSession) GetPayloadType() PayloadType {
	return ms.payloadType
}

func (ms *MediaSession) updateLastActivity() {
	ms.statsMutex.Lock()
	ms.stats.LastActivity = time.Now()
	ms.statsMutex.Unlock()
}

func (ms *MediaSession) addToAudioBuffer(audioData []byte) error {
	ms.bufferMutex.Lock()
	defer ms.bufferMutex.Unlock()
	ms.audioBuffer = append(ms.audioBuffer, audioData...)
	return nil
}

// audioSendLoop drains audioBuffer one frame at a time at paceInterval.
func (ms *MediaSession) audioSendLoop() {
	defer ms.wg.Done()

	ticker := ms.sendTicker
	if ticker == nil {
		return
	}

	slog.Debug("media.audioSendLoop started")
	for {
		select {
		case <-ms.stopChan:
			slog.Debug("media.audioSendLoop stopped")
			return
		case <-ticker.C:
			ms.sendBufferedAudio()
		}
	}
}

func (ms *MediaSession) sendBufferedAudio() {
	ms.bufferMutex.Lock()

	if len(ms.audioBuffer) < SamplesPerFrame {
		ms.bufferMutex.Unlock()
		return
	}

	frame := make([]byte, SamplesPerFrame)
	copy(frame, ms.audioBuffer[:SamplesPerFrame])
	ms.audioBuffer = ms.audioBuffer[SamplesPerFrame:]

	ms.bufferMutex.Unlock()

	ms.sendRTPFrame(frame)
	ms.lastSendTime = time.Now()
}

// sendRTPFrame hands one 160-byte frame to the RTP session, which
// stamps it with a timestamp stride of SamplesPerFrame (RFC 3550).
func (ms *MediaSession) sendRTPFrame(frame []byte) {
	ms.sessionMutex.RLock()
	rtpSession := ms.rtpSession
	ms.sessionMutex.RUnlock()

	if rtpSession == nil {
		return
	}

	if err := rtpSession.SendAudio(frame, FrameDuration); err != nil {
		ms.handleError(fmt.Errorf("media: send RTP frame: %w", err))
		return
	}

	ms.updateSendStats(len(frame))
}

// GetBufferedAudioSize returns the number of bytes queued for sending.
func (ms *MediaSession) GetBufferedAudioSize() int {
	ms.bufferMutex.Lock()
	defer ms.bufferMutex.Unlock()
	return len(ms.audioBuffer)
}

// GetTimeSinceLastSend returns the time elapsed since the last frame
// was sent.
func (ms *MediaSession) GetTimeSinceLastSend() time.Duration {
	return time.Since(ms.lastSendTime)
}

// FlushAudioBuffer immediately sends whatever is buffered, even a
// partial frame, padded out to a full frame with trailing silence so
// the RTP session's fixed-size SendAudio contract holds.
func (ms *MediaSession) FlushAudioBuffer() error {
	ms.bufferMutex.Lock()

	var frames [][]byte
	for len(ms.audioBuffer) > 0 {
		frame := make([]byte, SamplesPerFrame)
		n := copy(frame, ms.audioBuffer)
		for i := n; i < SamplesPerFrame; i++ {
			frame[i] = silenceByteForPayloadType(ms.payloadType)
		}
		ms.audioBuffer = ms.audioBuffer[n:]
		frames = append(frames, frame)
	}

	ms.bufferMutex.Unlock()

	for _, frame := range frames {
		ms.sendRTPFrame(frame)
	}
	return nil
}

// silenceByteForPayloadType returns the encoded-silence byte for a
// G.711 codec: 0xFF for μ-law, 0xD5 for A-law.
func silenceByteForPayloadType(pt PayloadType) byte {
	if pt == PayloadTypePCMA {
		return 0xD5
	}
	return 0xFF
}

// SetRawPacketHandler installs a callback that receives undecoded
// inbound audio RTP packets. DTMF packets are still intercepted and
// delivered through the DTMF callback regardless.
func (ms *MediaSession) SetRawPacketHandler(handler func(*rtp.Packet, string)) {
	ms.callbacksMutex.Lock()
	defer ms.callbacksMutex.Unlock()
	ms.onRawPacketReceived = handler
}

// ClearRawPacketHandler removes the raw packet callback, reverting to
// standard decoded-audio delivery.
func (ms *MediaSession) ClearRawPacketHandler() {
	ms.callbacksMutex.Lock()
	defer ms.callbacksMutex.Unlock()
	ms.onRawPacketReceived = nil
}

// HasRawPacketHandler reports whether a raw packet callback is set.
func (ms *MediaSession) HasRawPacketHandler() bool {
	ms.callbacksMutex.RLock()
	defer ms.callbacksMutex.RUnlock()
	return ms.onRawPacketReceived != nil
}

// handleIncomingRTPPacket is the RTP session's inbound packet callback.
func (ms *MediaSession) handleIncomingRTPPacket(packet *rtp.Packet) {
	if packet == nil || !ms.canReceive() {
		return
	}

	if ms.dtmfEnabled && ms.dtmfReceiver != nil {
		if isDTMF, err := ms.dtmfReceiver.ProcessPacket(packet); isDTMF {
			if err != nil {
				ms.handleError(err)
			} else {
				ms.updateDTMFReceiveStats()
			}
			return
		}
	}

	ms.callbacksMutex.RLock()
	rawPacketHandler := ms.onRawPacketReceived
	ms.callbacksMutex.RUnlock()

	if rawPacketHandler != nil {
		rawPacketHandler(packet, ms.rtpSessionID)
		ms.updateReceiveStats(len(packet.Payload))
		ms.updateLastActivity()
		return
	}

	ms.processDecodedPacket(packet)
}

// processDecodedPacket delivers an inbound audio frame to the caller.
// The spec carries no resampling or transcoding, so the payload is
// handed through as-is; only the payload type is checked.
func (ms *MediaSession) processDecodedPacket(packet *rtp.Packet) {
	if PayloadType(packet.PayloadType) != ms.payloadType {
		return
	}
	if len(packet.Payload) == 0 {
		return
	}

	ms.callbacksMutex.RLock()
	audioHandler := ms.onAudioReceived
	ms.callbacksMutex.RUnlock()

	if audioHandler != nil {
		audioHandler(packet.Payload, ms.payloadType, FrameDuration, ms.rtpSessionID)
	}

	ms.updateReceiveStats(len(packet.Payload))
	ms.updateLastActivity()

	if ms.recorder != nil {
		ms.recorder.recordInbound(packet.Payload, ms.payloadType)
	}
}
