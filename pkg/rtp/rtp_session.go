// RTP session: the component responsible for packetizing and
// depacketizing one RTP stream. It owns the sequence number/timestamp
// counters and SSRC for a single remote peer and knows nothing about
// codecs, jitter, or call state.
package rtp

import (
	"context"
	"fmt"
	"log"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"

	"github.com/outcall/sipvox/internal/metrics"
)

// RTPSession is the RTP leg of one outbound call: it owns one SSRC, one
// sequence/timestamp pair, and the transport that carries them to the
// single remote peer negotiated for the call.
type RTPSession struct {
	ssrc        uint32      // synchronization source ID
	payloadType PayloadType // negotiated codec payload type (PCMU/PCMA)
	clockRate   uint32      // 8000 for G.711
	transport   Transport

	// RFC 3550 counters
	sequenceNumber uint32 // atomic
	timestamp      uint32 // atomic

	packetsSent     uint64 // atomic
	packetsReceived uint64 // atomic
	bytesSent       uint64 // atomic
	bytesReceived   uint64 // atomic
	lastActivity    int64  // atomic UnixNano

	handlerMutex     sync.RWMutex
	onPacketReceived func(*rtp.Packet, net.Addr)
	onPacketSent     func(*rtp.Packet)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	active int32
}

// RTPSessionConfig configures one RTPSession.
type RTPSessionConfig struct {
	SSRC        uint32 // generated if zero
	PayloadType PayloadType
	ClockRate   uint32
	Transport   Transport

	InitialSequenceNumber uint32 // generated if zero
	InitialTimestamp      uint32 // generated if zero

	OnPacketReceived func(*rtp.Packet, net.Addr)
	OnPacketSent     func(*rtp.Packet)
}

// NewRTPSession validates config and returns an unstarted session.
func NewRTPSession(config RTPSessionConfig) (*RTPSession, error) {
	if config.Transport == nil {
		return nil, fmt.Errorf("rtp: transport is required")
	}
	if config.ClockRate == 0 {
		return nil, fmt.Errorf("rtp: clockRate is required")
	}

	ssrc := config.SSRC
	if ssrc == 0 {
		var err error
		ssrc, err = generateSSRC()
		if err != nil {
			return nil, fmt.Errorf("rtp: generate SSRC: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	session := &RTPSession{
		ssrc:        ssrc,
		payloadType: config.PayloadType,
		clockRate:   config.ClockRate,
		transport:   config.Transport,
		ctx:         ctx,
		cancel:      cancel,

		onPacketReceived: config.OnPacketReceived,
		onPacketSent:     config.OnPacketSent,
	}

	if config.InitialSequenceNumber != 0 {
		session.sequenceNumber = config.InitialSequenceNumber
	} else {
		session.sequenceNumber = uint32(generateRandomUint16())
	}

	if config.InitialTimestamp != 0 {
		session.timestamp = config.InitialTimestamp
	} else {
		session.timestamp = generateRandomUint32()
	}

	return session, nil
}

// Start launches the receive loop.
func (rs *RTPSession) Start() error {
	if !atomic.CompareAndSwapInt32(&rs.active, 0, 1) {
		return fmt.Errorf("rtp: session already started")
	}

	rs.wg.Add(1)
	go rs.receiveLoop()

	return nil
}

// Stop cancels the receive loop and closes the underlying transport.
func (rs *RTPSession) Stop() error {
	if !atomic.CompareAndSwapInt32(&rs.active, 1, 0) {
		return nil // already stopped
	}

	rs.cancel()
	rs.wg.Wait()

	return rs.transport.Close()
}

// SendAudio packetizes one frame of already-encoded audio, advancing the
// RTP timestamp by duration worth of samples at the session's clock
// rate (160 for a 20ms G.711 frame at 8000Hz).
func (rs *RTPSession) SendAudio(audioData []byte, duration time.Duration) error {
	if atomic.LoadInt32(&rs.active) == 0 {
		return fmt.Errorf("rtp: session not active")
	}

	packet := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Padding:        false,
			Extension:      false,
			Marker:         false,
			PayloadType:    uint8(rs.payloadType),
			SequenceNumber: uint16(atomic.AddUint32(&rs.sequenceNumber, 1)),
			Timestamp:      atomic.AddUint32(&rs.timestamp, uint32(duration.Seconds()*float64(rs.clockRate))),
			SSRC:           rs.ssrc,
		},
		Payload: audioData,
	}

	return rs.SendPacket(packet)
}

// SendPacket sends a fully-formed packet as-is (used by the DTMF sender,
// which stamps its own timestamp per RFC 4733 and must not advance the
// audio timestamp counter).
func (rs *RTPSession) SendPacket(packet *rtp.Packet) error {
	if atomic.LoadInt32(&rs.active) == 0 {
		return fmt.Errorf("rtp: session not active")
	}

	if packet.Header.SSRC == 0 {
		packet.Header.SSRC = rs.ssrc
	}

	if err := rs.transport.Send(packet); err != nil {
		return fmt.Errorf("rtp: send packet: %w", err)
	}

	rs.updateSendStats(packet)

	rs.handlerMutex.RLock()
	sentHandler := rs.onPacketSent
	rs.handlerMutex.RUnlock()

	if sentHandler != nil {
		sentHandler(packet)
	}

	return nil
}

func (rs *RTPSession) receiveLoop() {
	defer rs.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("rtp: panic in receiveLoop: %v\n%s", r, debug.Stack())
		}
	}()

	for {
		select {
		case <-rs.ctx.Done():
			return
		default:
			packet, addr, err := rs.transport.Receive(rs.ctx)
			if err != nil {
				if rs.ctx.Err() != nil {
					return
				}
				continue // timeouts and transient read errors are not fatal
			}

			rs.handleIncomingPacket(packet, addr)
		}
	}
}

func (rs *RTPSession) handleIncomingPacket(packet *rtp.Packet, addr net.Addr) {
	rs.updateReceiveStats(packet)

	rs.handlerMutex.RLock()
	handler := rs.onPacketReceived
	rs.handlerMutex.RUnlock()

	if handler != nil {
		handler(packet, addr)
	}
}

func (rs *RTPSession) updateSendStats(packet *rtp.Packet) {
	atomic.AddUint64(&rs.packetsSent, 1)
	atomic.AddUint64(&rs.bytesSent, uint64(len(packet.Payload)))
	atomic.StoreInt64(&rs.lastActivity, time.Now().UnixNano())
	metrics.RTPPacketsSent.Inc()
}

func (rs *RTPSession) updateReceiveStats(packet *rtp.Packet) {
	atomic.AddUint64(&rs.packetsReceived, 1)
	atomic.AddUint64(&rs.bytesReceived, uint64(len(packet.Payload)))
	atomic.StoreInt64(&rs.lastActivity, time.Now().UnixNano())
	metrics.RTPPacketsReceived.Inc()
}

// GetSSRC returns the local synchronization source identifier.
func (rs *RTPSession) GetSSRC() uint32 { return rs.ssrc }

// GetPayloadType returns the negotiated payload type.
func (rs *RTPSession) GetPayloadType() PayloadType { return rs.payloadType }

// GetClockRate returns the codec clock rate.
func (rs *RTPSession) GetClockRate() uint32 { return rs.clockRate }

// GetSequenceNumber returns the current sequence number counter.
func (rs *RTPSession) GetSequenceNumber() uint32 { return atomic.LoadUint32(&rs.sequenceNumber) }

// GetTimestamp returns the current RTP timestamp counter.
func (rs *RTPSession) GetTimestamp() uint32 { return atomic.LoadUint32(&rs.timestamp) }

// IsActive reports whether the session has been started and not stopped.
func (rs *RTPSession) IsActive() bool { return atomic.LoadInt32(&rs.active) == 1 }

// GetPacketsSent returns the count of packets sent.
func (rs *RTPSession) GetPacketsSent() uint64 { return atomic.LoadUint64(&rs.packetsSent) }

// GetPacketsReceived returns the count of packets received.
func (rs *RTPSession) GetPacketsReceived() uint64 { return atomic.LoadUint64(&rs.packetsReceived) }

// GetBytesSent returns the count of payload bytes sent.
func (rs *RTPSession) GetBytesSent() uint64 { return atomic.LoadUint64(&rs.bytesSent) }

// GetBytesReceived returns the count of payload bytes received.
func (rs *RTPSession) GetBytesReceived() uint64 { return atomic.LoadUint64(&rs.bytesReceived) }

// GetLastActivity returns the time of the last send or receive.
func (rs *RTPSession) GetLastActivity() time.Time {
	nanos := atomic.LoadInt64(&rs.lastActivity)
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

// RegisterIncomingHandler swaps the inbound packet callback.
func (rs *RTPSession) RegisterIncomingHandler(handler func(*rtp.Packet, net.Addr)) {
	rs.handlerMutex.Lock()
	defer rs.handlerMutex.Unlock()
	rs.onPacketReceived = handler
}

// RegisterSentHandler swaps the outbound packet callback.
func (rs *RTPSession) RegisterSentHandler(handler func(*rtp.Packet)) {
	rs.handlerMutex.Lock()
	defer rs.handlerMutex.Unlock()
	rs.onPacketSent = handler
}
