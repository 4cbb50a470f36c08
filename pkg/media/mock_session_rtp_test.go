package media

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/rtp"
)

// mockSessionRTP is a test double for rtp.SessionRTP: it records every
// frame/packet handed to it instead of touching a real socket, and lets
// a test synthesize inbound packets via deliver.
type mockSessionRTP struct {
	mu sync.Mutex

	started   bool
	ssrc      uint32
	timestamp uint32

	sentFrames  [][]byte
	sentPackets []*rtp.Packet

	failStart bool
	failSend  bool

	handler func(*rtp.Packet, net.Addr)
}

func newMockSessionRTP(ssrc uint32) *mockSessionRTP {
	return &mockSessionRTP{ssrc: ssrc}
}

func (m *mockSessionRTP) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failStart {
		return fmt.Errorf("mock: start failed")
	}
	m.started = true
	return nil
}

func (m *mockSessionRTP) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = false
	return nil
}

func (m *mockSessionRTP) SendAudio(data []byte, ptime time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSend {
		return fmt.Errorf("mock: send failed")
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	m.sentFrames = append(m.sentFrames, frame)
	m.timestamp += uint32(len(data))
	return nil
}

func (m *mockSessionRTP) SendPacket(packet *rtp.Packet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSend {
		return fmt.Errorf("mock: send packet failed")
	}
	m.sentPackets = append(m.sentPackets, packet)
	return nil
}

func (m *mockSessionRTP) GetSSRC() uint32 {
	return m.ssrc
}

func (m *mockSessionRTP) GetTimestamp() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timestamp
}

func (m *mockSessionRTP) RegisterIncomingHandler(handler func(*rtp.Packet, net.Addr)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
}

// deliver simulates an inbound packet arriving on this leg.
func (m *mockSessionRTP) deliver(packet *rtp.Packet) {
	m.mu.Lock()
	handler := m.handler
	m.mu.Unlock()
	if handler != nil {
		handler(packet, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5004})
	}
}

func (m *mockSessionRTP) framesSent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.sentFrames))
	copy(out, m.sentFrames)
	return out
}

func (m *mockSessionRTP) packetsSent() []*rtp.Packet {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*rtp.Packet, len(m.sentPackets))
	copy(out, m.sentPackets)
	return out
}
