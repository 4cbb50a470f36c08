package message

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pion/sdp/v3"
)

// RTPMapEntry maps one RTP payload type to its codec name/clock-rate/
// channel-count (§3: "rtpmap mapping each payload type -> (name, clock
// rate, channels)").
type RTPMapEntry struct {
	PayloadType uint8
	Name        string
	ClockRate   uint32
	Channels    int
}

// SDPSession is the subset of RFC 4566 this engine cares about: one audio
// media description, its offered payload types and their rtpmap entries,
// the connection address/port, and the optional ssrc attribute.
type SDPSession struct {
	Origin            string // o= username, kept opaque
	SessionName       string
	ConnectionAddress string
	AudioPort         int
	PayloadTypes      []uint8
	RTPMap            map[uint8]RTPMapEntry
	SSRC              uint32
	HasSSRC           bool
	Direction         string // sendrecv, sendonly, recvonly, inactive
}

// BuildOffer renders the audio offer template from §6 using
// github.com/pion/sdp/v3 to do the actual SDP grammar work.
func BuildOffer(localIP string, rtpPort int, ssrc uint32, payloadTypes []RTPMapEntry) *sdp.SessionDescription {
	sessID := uint64(time.Now().UnixNano())

	formats := make([]string, 0, len(payloadTypes))
	attrs := make([]sdp.Attribute, 0, len(payloadTypes)*2+2)
	for _, pt := range payloadTypes {
		formats = append(formats, strconv.Itoa(int(pt.PayloadType)))
		rtpmap := fmt.Sprintf("%d %s/%d", pt.PayloadType, pt.Name, pt.ClockRate)
		if pt.Channels > 1 {
			rtpmap = fmt.Sprintf("%s/%d", rtpmap, pt.Channels)
		}
		attrs = append(attrs, sdp.Attribute{Key: "rtpmap", Value: rtpmap})
		if pt.Name == "telephone-event" {
			attrs = append(attrs, sdp.Attribute{Key: "fmtp", Value: fmt.Sprintf("%d 0-15", pt.PayloadType)})
		}
	}
	attrs = append(attrs, sdp.Attribute{Key: "sendrecv"})
	attrs = append(attrs, sdp.Attribute{Key: "ssrc", Value: fmt.Sprintf("%d", ssrc)})

	return &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username: "-", SessionID: sessID, SessionVersion: sessID,
			NetworkType: "IN", AddressType: "IP4", UnicastAddress: localIP,
		},
		SessionName: "sipvox",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN", AddressType: "IP4",
			Address: &sdp.Address{Address: localIP},
		},
		TimeDescriptions: []sdp.TimeDescription{{Timing: sdp.Timing{}}},
		MediaDescriptions: []*sdp.MediaDescription{{
			MediaName: sdp.MediaName{
				Media: "audio", Port: sdp.RangedPort{Value: rtpPort},
				Protos: []string{"RTP", "AVP"}, Formats: formats,
			},
			Attributes: attrs,
		}},
	}
}

// DefaultPayloadTypes is the codec set offered in §6: PCMU, PCMA, and
// RFC 4733 telephone-event, in preference order.
func DefaultPayloadTypes() []RTPMapEntry {
	return []RTPMapEntry{
		{PayloadType: 0, Name: "PCMU", ClockRate: 8000, Channels: 1},
		{PayloadType: 8, Name: "PCMA", ClockRate: 8000, Channels: 1},
		{PayloadType: 101, Name: "telephone-event", ClockRate: 8000, Channels: 1},
	}
}

// ParseSDP parses a raw SDP body into an SDPSession.
func ParseSDP(body []byte) (*SDPSession, error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal(body); err != nil {
		return nil, fmt.Errorf("%w: sdp: %v", ErrMalformedMessage, err)
	}
	if len(desc.MediaDescriptions) == 0 {
		return nil, fmt.Errorf("%w: sdp has no media descriptions", ErrMalformedMessage)
	}
	media := desc.MediaDescriptions[0]

	sess := &SDPSession{
		Origin:      desc.Origin.Username,
		SessionName: string(desc.SessionName),
		RTPMap:      make(map[uint8]RTPMapEntry),
		AudioPort:   media.MediaName.Port.Value,
		Direction:   "sendrecv",
	}

	if media.ConnectionInformation != nil && media.ConnectionInformation.Address != nil {
		sess.ConnectionAddress = media.ConnectionInformation.Address.Address
	} else if desc.ConnectionInformation != nil && desc.ConnectionInformation.Address != nil {
		sess.ConnectionAddress = desc.ConnectionInformation.Address.Address
	} else {
		sess.ConnectionAddress = desc.Origin.UnicastAddress
	}

	for _, f := range media.MediaName.Formats {
		pt, err := strconv.Atoi(f)
		if err != nil || pt < 0 || pt > 127 {
			continue
		}
		sess.PayloadTypes = append(sess.PayloadTypes, uint8(pt))
	}

	for _, attr := range media.Attributes {
		switch attr.Key {
		case "rtpmap":
			entry, pt, err := parseRTPMap(attr.Value)
			if err == nil {
				sess.RTPMap[pt] = entry
			}
		case "ssrc":
			fields := strings.Fields(attr.Value)
			if len(fields) > 0 {
				if n, err := strconv.ParseUint(fields[0], 10, 32); err == nil {
					sess.SSRC = uint32(n)
					sess.HasSSRC = true
				}
			}
		case "sendrecv", "sendonly", "recvonly", "inactive":
			sess.Direction = attr.Key
		}
	}

	return sess, nil
}

func parseRTPMap(value string) (RTPMapEntry, uint8, error) {
	fields := strings.Fields(value)
	if len(fields) != 2 {
		return RTPMapEntry{}, 0, fmt.Errorf("malformed rtpmap %q", value)
	}
	pt, err := strconv.Atoi(fields[0])
	if err != nil {
		return RTPMapEntry{}, 0, err
	}
	parts := strings.Split(fields[1], "/")
	entry := RTPMapEntry{PayloadType: uint8(pt), Name: parts[0], Channels: 1}
	if len(parts) > 1 {
		if rate, err := strconv.Atoi(parts[1]); err == nil {
			entry.ClockRate = uint32(rate)
		}
	}
	if len(parts) > 2 {
		if ch, err := strconv.Atoi(parts[2]); err == nil {
			entry.Channels = ch
		}
	}
	return entry, uint8(pt), nil
}

// SelectCodec returns the first payload type in preference (in the order
// given) that also appears in the remote's rtpmap (§3 invariant: "the
// selected payload type on egress must appear in the remote's offered
// rtpmap"). Returns ok=false if no codec is shared.
func SelectCodec(remote *SDPSession, preference []RTPMapEntry) (RTPMapEntry, bool) {
	for _, want := range preference {
		if _, ok := remote.RTPMap[want.PayloadType]; ok {
			return want, true
		}
	}
	return RTPMapEntry{}, false
}
