package rtp

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport is an in-memory Transport: Send appends to sent and
// Receive drains an injected inbound queue, so rtp_session tests don't
// need a real socket.
type fakeTransport struct {
	mu       sync.Mutex
	sent     []*rtp.Packet
	inbound  chan *rtp.Packet
	closed   bool
	failSend bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{inbound: make(chan *rtp.Packet, 16)}
}

func (f *fakeTransport) Send(packet *rtp.Packet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend {
		return assert.AnError
	}
	f.sent = append(f.sent, packet)
	return nil
}

func (f *fakeTransport) Receive(ctx context.Context) (*rtp.Packet, net.Addr, error) {
	select {
	case p, ok := <-f.inbound:
		if !ok {
			return nil, nil, assert.AnError
		}
		return p, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4000}, nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

func (f *fakeTransport) LocalAddr() net.Addr  { return &net.UDPAddr{Port: 5000} }
func (f *fakeTransport) RemoteAddr() net.Addr { return &net.UDPAddr{Port: 5004} }

func (f *fakeTransport) IsActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.inbound)
	}
	return nil
}

func (f *fakeTransport) sentPackets() []*rtp.Packet {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*rtp.Packet, len(f.sent))
	copy(out, f.sent)
	return out
}

func newTestRTPSession(t *testing.T) (*RTPSession, *fakeTransport) {
	t.Helper()
	transport := newFakeTransport()
	session, err := NewRTPSession(RTPSessionConfig{
		SSRC:                  0xAABBCCDD,
		PayloadType:           PayloadType(0), // PCMU
		ClockRate:             8000,
		Transport:             transport,
		InitialSequenceNumber: 1000,
		InitialTimestamp:      500000,
	})
	require.NoError(t, err)
	return session, transport
}

func TestNewRTPSessionRequiresTransportAndClockRate(t *testing.T) {
	_, err := NewRTPSession(RTPSessionConfig{ClockRate: 8000})
	assert.Error(t, err, "missing transport must be rejected")

	_, err = NewRTPSession(RTPSessionConfig{Transport: newFakeTransport()})
	assert.Error(t, err, "missing clock rate must be rejected")
}

func TestSendAudioAdvancesTimestampByFrameStride(t *testing.T) {
	session, transport := newTestRTPSession(t)
	require.NoError(t, session.Start())
	defer session.Stop()

	frame := make([]byte, 160)
	require.NoError(t, session.SendAudio(frame, 20*time.Millisecond))
	require.NoError(t, session.SendAudio(frame, 20*time.Millisecond))

	sent := transport.sentPackets()
	require.Len(t, sent, 2)
	assert.Equal(t, uint32(500160), sent[0].Timestamp)
	assert.Equal(t, uint32(500320), sent[1].Timestamp)
	assert.Equal(t, uint16(1001), sent[0].SequenceNumber)
	assert.Equal(t, uint16(1002), sent[1].SequenceNumber)
	assert.Equal(t, session.GetSSRC(), sent[0].SSRC)
}

func TestSendPacketFillsMissingSSRC(t *testing.T) {
	session, transport := newTestRTPSession(t)
	require.NoError(t, session.Start())
	defer session.Stop()

	packet := &rtp.Packet{Header: rtp.Header{PayloadType: 101, Timestamp: 500000}, Payload: []byte{0, 0, 0, 0}}
	require.NoError(t, session.SendPacket(packet))

	sent := transport.sentPackets()
	require.Len(t, sent, 1)
	assert.Equal(t, session.GetSSRC(), sent[0].SSRC)
}

func TestSendBeforeStartFails(t *testing.T) {
	session, _ := newTestRTPSession(t)
	err := session.SendAudio(make([]byte, 160), 20*time.Millisecond)
	assert.Error(t, err)
}

func TestReceiveLoopDeliversToHandler(t *testing.T) {
	session, transport := newTestRTPSession(t)

	received := make(chan *rtp.Packet, 1)
	session.RegisterIncomingHandler(func(p *rtp.Packet, addr net.Addr) {
		received <- p
	})

	require.NoError(t, session.Start())
	defer session.Stop()

	inbound := &rtp.Packet{Header: rtp.Header{SequenceNumber: 42}, Payload: make([]byte, 160)}
	transport.inbound <- inbound

	select {
	case got := <-received:
		assert.Equal(t, uint16(42), got.SequenceNumber)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for inbound packet")
	}

	assert.Equal(t, uint64(1), session.GetPacketsReceived())
}

func TestStopClosesTransport(t *testing.T) {
	session, transport := newTestRTPSession(t)
	require.NoError(t, session.Start())
	require.NoError(t, session.Stop())
	assert.True(t, transport.closed)

	// Stopping an already-stopped session is a no-op, not an error.
	assert.NoError(t, session.Stop())
}
