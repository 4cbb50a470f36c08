package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/rtp"

	"github.com/outcall/sipvox/internal/metrics"
)

// DTMFDigit is an RFC 4733 telephone-event digit.
type DTMFDigit uint8

const (
	DTMF0     DTMFDigit = 0
	DTMF1     DTMFDigit = 1
	DTMF2     DTMFDigit = 2
	DTMF3     DTMFDigit = 3
	DTMF4     DTMFDigit = 4
	DTMF5     DTMFDigit = 5
	DTMF6     DTMFDigit = 6
	DTMF7     DTMFDigit = 7
	DTMF8     DTMFDigit = 8
	DTMF9     DTMFDigit = 9
	DTMFStar  DTMFDigit = 10 // *
	DTMFPound DTMFDigit = 11 // #
	DTMFA     DTMFDigit = 12
	DTMFB     DTMFDigit = 13
	DTMFC     DTMFDigit = 14
	DTMFD     DTMFDigit = 15
)

func (d DTMFDigit) String() string {
	switch d {
	case DTMF0:
		return "0"
	case DTMF1:
		return "1"
	case DTMF2:
		return "2"
	case DTMF3:
		return "3"
	case DTMF4:
		return "4"
	case DTMF5:
		return "5"
	case DTMF6:
		return "6"
	case DTMF7:
		return "7"
	case DTMF8:
		return "8"
	case DTMF9:
		return "9"
	case DTMFStar:
		return "*"
	case DTMFPound:
		return "#"
	case DTMFA:
		return "A"
	case DTMFB:
		return "B"
	case DTMFC:
		return "C"
	case DTMFD:
		return "D"
	default:
		return "?"
	}
}

// DTMFEvent is one decoded or to-be-sent DTMF key press.
type DTMFEvent struct {
	Digit     DTMFDigit
	Duration  time.Duration
	Volume    int8   // dBm, 0 to -63
	Timestamp uint32 // RTP timestamp the event started at
}

// DTMFPayload is the RFC 4733 telephone-event payload layout.
type DTMFPayload struct {
	Event    uint8  // DTMF digit (0-15)
	EndFlag  bool   // end-of-event marker
	Reserved bool   // reserved bit, always 0
	Volume   uint8  // 0-63, represents -dBm
	Duration uint16 // elapsed duration in timestamp units
}

// DTMFSender packetizes outbound DTMF events per RFC 4733: the event is
// sent on the same SSRC/sequence space as audio, marked at the start,
// repeated for reliability, then closed out with the end-of-event flag.
type DTMFSender struct {
	payloadType uint8
	ssrc        uint32
	seqNum      uint16
}

// NewDTMFSender returns a sender that stamps packets with payloadType.
func NewDTMFSender(payloadType uint8) *DTMFSender {
	return &DTMFSender{
		payloadType: payloadType,
	}
}

// SetSSRC sets the SSRC DTMF packets are stamped with; it must match the
// audio RTP session's SSRC so the remote end associates them with the
// same source.
func (ds *DTMFSender) SetSSRC(ssrc uint32) {
	ds.ssrc = ssrc
}

// GeneratePackets builds the RTP packet train for one DTMF event: three
// packets with the same payload, the first of them carrying the marker
// bit, then three carrying the end-of-event flag, all sharing event.Timestamp (RFC 4733 section 2.5.1:
// the timestamp identifies the event's start and does not advance across
// retransmissions).
func (ds *DTMFSender) GeneratePackets(event DTMFEvent) ([]*rtp.Packet, error) {
	if event.Duration <= 0 {
		return nil, fmt.Errorf("media: DTMF duration must be positive")
	}

	durationInSamples := uint16(event.Duration.Seconds() * 8000)

	volume := uint8(0)
	if event.Volume < 0 {
		volume = uint8(-event.Volume)
		if volume > 63 {
			volume = 63
		}
	}

	var packets []*rtp.Packet

	payload := DTMFPayload{
		Event:    uint8(event.Digit),
		EndFlag:  false,
		Reserved: false,
		Volume:   volume,
		Duration: durationInSamples,
	}

	payloadBytes := ds.serializePayload(payload)

	// Sent 3 times for loss resilience, as RFC 4733 recommends.
	for i := 0; i < 3; i++ {
		packet := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Padding:        false,
				Extension:      false,
				Marker:         i == 0, // set only on the first packet
				PayloadType:    ds.payloadType,
				SequenceNumber: ds.seqNum,
				Timestamp:      event.Timestamp,
				SSRC:           ds.ssrc,
			},
			Payload: payloadBytes,
		}

		packets = append(packets, packet)
		ds.seqNum++
	}

	// Closing train, also sent 3 times, with the end-of-event flag set.
	payload.EndFlag = true
	endPayloadBytes := ds.serializePayload(payload)

	for i := 0; i < 3; i++ {
		packet := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Padding:        false,
				Extension:      false,
				Marker:         false,
				PayloadType:    ds.payloadType,
				SequenceNumber: ds.seqNum,
				Timestamp:      event.Timestamp,
				SSRC:           ds.ssrc,
			},
			Payload: endPayloadBytes,
		}

		packets = append(packets, packet)
		ds.seqNum++
	}

	return packets, nil
}

// serializePayload encodes payload into the RFC 4733 4-byte wire layout.
func (ds *DTMFSender) serializePayload(payload DTMFPayload) []byte {
	data := make([]byte, 4)

	data[0] = payload.Event & 0x0F

	if payload.EndFlag {
		data[1] |= 0x80
	}
	if payload.Reserved {
		data[1] |= 0x40
	}
	data[1] |= payload.Volume & 0x3F

	data[2] = byte(payload.Duration >> 8)
	data[3] = byte(payload.Duration & 0xFF)

	return data
}

// DTMFReceiver decodes RFC 4733 telephone-event packets into DTMFEvents.
//
// A key press is sent as a burst of packets sharing one RTP timestamp
// (the event's start), followed by a burst with the end-of-event flag
// set; per RFC 4733 section 2.5.1 the sender may retransmit the whole
// burst for loss resilience. ProcessPacket dedups on that timestamp
// rather than on the digit, since two presses of the same digit in a
// row are legitimate and must not be collapsed into one.
type DTMFReceiver struct {
	payloadType      uint8
	onDTMFReceived   func(DTMFEvent)
	lastEvent        *DTMFEvent
	lastEventReported bool
}

// NewDTMFReceiver returns a receiver that only decodes packets carrying payloadType.
func NewDTMFReceiver(payloadType uint8) *DTMFReceiver {
	return &DTMFReceiver{
		payloadType: payloadType,
	}
}

// SetCallback installs the callback ProcessPacket fires on each newly
// observed digit. It fires as soon as the event starts, not when it ends.
func (dr *DTMFReceiver) SetCallback(callback func(DTMFEvent)) {
	dr.onDTMFReceived = callback
}

// ProcessPacket inspects packet and, if its payload type matches,
// decodes it as a DTMF event. It returns (true, nil) for any packet it
// recognizes as DTMF, whether or not that packet triggered a fresh
// callback, so callers can route audio packets elsewhere.
func (dr *DTMFReceiver) ProcessPacket(packet *rtp.Packet) (bool, error) {
	if packet.PayloadType != dr.payloadType {
		return false, nil
	}

	if len(packet.Payload) < 4 {
		return false, fmt.Errorf("media: invalid DTMF payload size: %d", len(packet.Payload))
	}

	payload, err := dr.deserializePayload(packet.Payload)
	if err != nil {
		return false, fmt.Errorf("media: decode DTMF payload: %w", err)
	}

	event := DTMFEvent{
		Digit:     DTMFDigit(payload.Event),
		Duration:  time.Duration(payload.Duration) * time.Second / 8000,
		Volume:    -int8(payload.Volume),
		Timestamp: packet.Timestamp,
	}

	if payload.EndFlag {
		return true, nil
	}

	// New event start timestamp: fire once, ignore every later packet of
	// the same timestamp, including a burst retransmitted after the
	// end-of-event packets.
	if dr.lastEvent == nil || dr.lastEvent.Timestamp != event.Timestamp {
		dr.lastEvent = &event
		dr.lastEventReported = false
	}
	if !dr.lastEventReported {
		dr.lastEventReported = true
		metrics.DTMFEventsDecoded.Inc()
		if dr.onDTMFReceived != nil {
			dr.onDTMFReceived(event)
		}
	}

	return true, nil
}

// deserializePayload decodes the RFC 4733 4-byte wire layout.
func (dr *DTMFReceiver) deserializePayload(data []byte) (DTMFPayload, error) {
	if len(data) < 4 {
		return DTMFPayload{}, fmt.Errorf("media: DTMF payload too short")
	}

	payload := DTMFPayload{
		Event:    data[0] & 0x0F,
		EndFlag:  (data[1] & 0x80) != 0,
		Reserved: (data[1] & 0x40) != 0,
		Volume:   data[1] & 0x3F,
		Duration: uint16(data[2])<<8 | uint16(data[3]),
	}

	return payload, nil
}

// DTMFCollector accumulates decoded digits into a queue that blocking
// callers can drain, for IVR-style "collect N digits" or "collect until
// the finish key" prompts layered on top of the low-level DTMFReceiver
// callback.
type DTMFCollector struct {
	mu      sync.Mutex
	cond    *sync.Cond
	digits  []rune
	started sync.Once
	onStart func()
}

// NewDTMFCollector returns a collector. onStart, if non-nil, fires once
// the first digit is collected (useful for cancelling a playing prompt
// as soon as the callee starts typing).
func NewDTMFCollector(onStart func()) *DTMFCollector {
	c := &DTMFCollector{onStart: onStart}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Feed appends a decoded DTMF digit to the queue. Intended to be wired
// as (or called from) a DTMFReceiver callback.
func (c *DTMFCollector) Feed(event DTMFEvent) {
	r := []rune(event.Digit.String())[0]

	c.mu.Lock()
	c.digits = append(c.digits, r)
	c.mu.Unlock()
	c.cond.Broadcast()

	if c.onStart != nil {
		c.started.Do(c.onStart)
	}
}

// GetDTMF blocks until n digits have been collected (or ctx is done)
// and returns them, removing them from the queue.
func (c *DTMFCollector) GetDTMF(ctx context.Context, n int) (string, error) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			c.cond.Broadcast()
		case <-done:
		}
	}()
	defer close(done)

	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.digits) < n {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		c.cond.Wait()
	}

	digits := string(c.digits[:n])
	c.digits = c.digits[n:]
	return digits, nil
}

// GetDTMFUntil blocks until finish is collected (or ctx is done) and
// returns everything collected before it, excluding the finish key
// itself. A bare finish key with nothing preceding it returns "".
func (c *DTMFCollector) GetDTMFUntil(ctx context.Context, finish rune) (string, error) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			c.cond.Broadcast()
		case <-done:
		}
	}()
	defer close(done)

	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		for i, r := range c.digits {
			if r == finish {
				digits := string(c.digits[:i])
				c.digits = c.digits[i+1:]
				return digits, nil
			}
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		c.cond.Wait()
	}
}

// IsValidDTMFDigit reports whether digit is a valid RFC 4733 event code.
func IsValidDTMFDigit(digit uint8) bool {
	return digit <= 15
}

// ParseDTMFString converts a string of key characters (0-9, *, #, A-D)
// into the DTMF digits they represent.
func ParseDTMFString(s string) ([]DTMFDigit, error) {
	var digits []DTMFDigit

	for _, r := range s {
		var digit DTMFDigit
		var valid bool

		switch r {
		case '0':
			digit, valid = DTMF0, true
		case '1':
			digit, valid = DTMF1, true
		case '2':
			digit, valid = DTMF2, true
		case '3':
			digit, valid = DTMF3, true
		case '4':
			digit, valid = DTMF4, true
		case '5':
			digit, valid = DTMF5, true
		case '6':
			digit, valid = DTMF6, true
		case '7':
			digit, valid = DTMF7, true
		case '8':
			digit, valid = DTMF8, true
		case '9':
			digit, valid = DTMF9, true
		case '*':
			digit, valid = DTMFStar, true
		case '#':
			digit, valid = DTMFPound, true
		case 'A', 'a':
			digit, valid = DTMFA, true
		case 'B', 'b':
			digit, valid = DTMFB, true
		case 'C', 'c':
			digit, valid = DTMFC, true
		case 'D', 'd':
			digit, valid = DTMFD, true
		default:
			return nil, fmt.Errorf("media: invalid DTMF character: %c", r)
		}

		if valid {
			digits = append(digits, digit)
		}
	}

	return digits, nil
}
