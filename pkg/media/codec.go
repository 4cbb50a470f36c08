package media

import "github.com/zaf/g711"

// PCMToG711 encodes 16-bit linear PCM samples to the wire format for
// payloadType. Only the two RFC 3551 G.711 variants are supported; any
// other payload type is returned as an ErrorCodeCodecUnsupported error.
func PCMToG711(pcm []byte, payloadType PayloadType) ([]byte, error) {
	switch payloadType {
	case PayloadTypePCMU:
		return g711.EncodeUlaw(pcm), nil
	case PayloadTypePCMA:
		return g711.EncodeAlaw(pcm), nil
	default:
		return nil, &MediaError{
			Code:    ErrorCodeCodecUnsupported,
			Message: "G.711 encode requested for a non-G.711 payload type",
			Context: map[string]interface{}{"payload_type": payloadType},
		}
	}
}

// G711ToPCM decodes G.711-encoded payload back to 16-bit linear PCM.
func G711ToPCM(payload []byte, payloadType PayloadType) ([]byte, error) {
	switch payloadType {
	case PayloadTypePCMU:
		return g711.DecodeUlaw(payload), nil
	case PayloadTypePCMA:
		return g711.DecodeAlaw(payload), nil
	default:
		return nil, &MediaError{
			Code:    ErrorCodeCodecUnsupported,
			Message: "G.711 decode requested for a non-G.711 payload type",
			Context: map[string]interface{}{"payload_type": payloadType},
		}
	}
}
