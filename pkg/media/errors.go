package media

import (
	"fmt"
	"time"
)

// MediaErrorCode classifies an error from the media layer so callers can
// branch on category without string-matching Error().
type MediaErrorCode int

const (
	ErrorCodeSessionNotStarted MediaErrorCode = iota + 1000
	ErrorCodeSessionAlreadyStarted
	ErrorCodeSessionClosed
	ErrorCodeSessionInvalidDirection
	ErrorCodeSessionInvalidConfig

	ErrorCodeAudioSizeInvalid
	ErrorCodeAudioProcessingFailed
	ErrorCodeAudioCodecUnsupported
	ErrorCodeAudioTimingInvalid
	ErrorCodeAudioBufferFull

	ErrorCodeRTPSessionNotFound
	ErrorCodeRTPSendFailed
	ErrorCodeRTPReceiveFailed
	ErrorCodeRTPSSRCInvalid
	ErrorCodeRTPSequenceInvalid

	ErrorCodeDTMFNotEnabled
	ErrorCodeDTMFInvalidDigit
	ErrorCodeDTMFDurationInvalid
	ErrorCodeDTMFSendFailed

	ErrorCodeRecordingExportFailed
	ErrorCodeCodecUnsupported
)

// String returns the error code's symbolic name.
func (code MediaErrorCode) String() string {
	switch code {
	case ErrorCodeSessionNotStarted:
		return "SessionNotStarted"
	case ErrorCodeSessionAlreadyStarted:
		return "SessionAlreadyStarted"
	case ErrorCodeSessionClosed:
		return "SessionClosed"
	case ErrorCodeSessionInvalidDirection:
		return "SessionInvalidDirection"
	case ErrorCodeSessionInvalidConfig:
		return "SessionInvalidConfig"
	case ErrorCodeAudioSizeInvalid:
		return "AudioSizeInvalid"
	case ErrorCodeAudioProcessingFailed:
		return "AudioProcessingFailed"
	case ErrorCodeAudioCodecUnsupported:
		return "AudioCodecUnsupported"
	case ErrorCodeAudioTimingInvalid:
		return "AudioTimingInvalid"
	case ErrorCodeAudioBufferFull:
		return "AudioBufferFull"
	case ErrorCodeRTPSessionNotFound:
		return "RTPSessionNotFound"
	case ErrorCodeRTPSendFailed:
		return "RTPSendFailed"
	case ErrorCodeRTPReceiveFailed:
		return "RTPReceiveFailed"
	case ErrorCodeRTPSSRCInvalid:
		return "RTPSSRCInvalid"
	case ErrorCodeRTPSequenceInvalid:
		return "RTPSequenceInvalid"
	case ErrorCodeDTMFNotEnabled:
		return "DTMFNotEnabled"
	case ErrorCodeDTMFInvalidDigit:
		return "DTMFInvalidDigit"
	case ErrorCodeDTMFDurationInvalid:
		return "DTMFDurationInvalid"
	case ErrorCodeDTMFSendFailed:
		return "DTMFSendFailed"
	case ErrorCodeRecordingExportFailed:
		return "RecordingExportFailed"
	case ErrorCodeCodecUnsupported:
		return "CodecUnsupported"
	default:
		return fmt.Sprintf("Unknown(%d)", int(code))
	}
}

// MediaError is the base error type for the media layer: a typed code,
// a human message, the session it occurred on, optional structured
// context, and an optionally wrapped cause.
type MediaError struct {
	Code      MediaErrorCode
	Message   string
	SessionID string
	Context   map[string]interface{}
	Wrapped   error
}

// Error implements the error interface.
func (e *MediaError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("[media:%d] session %s: %s", e.Code, e.SessionID, e.Message)
	}
	return fmt.Sprintf("[media:%d] %s", e.Code, e.Message)
}

// Unwrap supports errors.Unwrap.
func (e *MediaError) Unwrap() error {
	return e.Wrapped
}

// Is supports errors.Is, comparing by code.
func (e *MediaError) Is(target error) bool {
	if t, ok := target.(*MediaError); ok {
		return e.Code == t.Code
	}
	return false
}

// GetContext looks up a context value by key.
func (e *MediaError) GetContext(key string) interface{} {
	if e.Context == nil {
		return nil
	}
	return e.Context[key]
}

// AudioError specializes MediaError for audio-framing problems.
type AudioError struct {
	*MediaError
	PayloadType  PayloadType
	ExpectedSize int
	ActualSize   int
	SampleRate   uint32
	Ptime        time.Duration
}

func NewAudioError(code MediaErrorCode, sessionID, message string, payloadType PayloadType, expectedSize, actualSize int, sampleRate uint32, ptime time.Duration) *AudioError {
	return &AudioError{
		MediaError: &MediaError{
			Code:      code,
			Message:   message,
			SessionID: sessionID,
			Context: map[string]interface{}{
				"payload_type":  payloadType,
				"expected_size": expectedSize,
				"actual_size":   actualSize,
				"sample_rate":   sampleRate,
				"ptime":         ptime,
			},
		},
		PayloadType:  payloadType,
		ExpectedSize: expectedSize,
		ActualSize:   actualSize,
		SampleRate:   sampleRate,
		Ptime:        ptime,
	}
}

// DTMFError specializes MediaError for DTMF send/decode problems.
type DTMFError struct {
	*MediaError
	Digit    DTMFDigit
	Duration time.Duration
}

func NewDTMFError(code MediaErrorCode, sessionID, message string, digit DTMFDigit, duration time.Duration) *DTMFError {
	return &DTMFError{
		MediaError: &MediaError{
			Code:      code,
			Message:   message,
			SessionID: sessionID,
			Context: map[string]interface{}{
				"digit":    digit,
				"duration": duration,
			},
		},
		Digit:    digit,
		Duration: duration,
	}
}

// RTPError specializes MediaError for RTP send/receive problems.
type RTPError struct {
	*MediaError
	RTPSessionID string
	SSRC         uint32
	SequenceNum  uint16
	Timestamp    uint32
}

func NewRTPError(code MediaErrorCode, sessionID, rtpSessionID, message string, ssrc uint32, seqNum uint16, timestamp uint32) *RTPError {
	return &RTPError{
		MediaError: &MediaError{
			Code:      code,
			Message:   message,
			SessionID: sessionID,
			Context: map[string]interface{}{
				"rtp_session_id": rtpSessionID,
				"ssrc":           ssrc,
				"sequence_num":   seqNum,
				"timestamp":      timestamp,
			},
		},
		RTPSessionID: rtpSessionID,
		SSRC:         ssrc,
		SequenceNum:  seqNum,
		Timestamp:    timestamp,
	}
}

// WrapMediaError wraps an existing error in a MediaError.
func WrapMediaError(code MediaErrorCode, sessionID, message string, err error) *MediaError {
	return &MediaError{
		Code:      code,
		Message:   message,
		SessionID: sessionID,
		Wrapped:   err,
	}
}

// HasErrorCode reports whether err's chain contains a MediaError with code.
func HasErrorCode(err error, code MediaErrorCode) bool {
	var mediaErr *MediaError
	if AsMediaError(err, &mediaErr) {
		return mediaErr.Code == code
	}
	return false
}

// AsMediaError attempts to extract a *MediaError from err, including its
// specialized wrappers (AudioError, DTMFError, RTPError).
func AsMediaError(err error, target **MediaError) bool {
	if err == nil {
		return false
	}

	if mediaErr, ok := err.(*MediaError); ok {
		*target = mediaErr
		return true
	}

	if audioErr, ok := err.(*AudioError); ok {
		*target = audioErr.MediaError
		return true
	}
	if dtmfErr, ok := err.(*DTMFError); ok {
		*target = dtmfErr.MediaError
		return true
	}
	if rtpErr, ok := err.(*RTPError); ok {
		*target = rtpErr.MediaError
		return true
	}

	return false
}

// GetErrorSuggestion returns a short operator-facing hint for err.
func GetErrorSuggestion(err error) string {
	var mediaErr *MediaError
	if !AsMediaError(err, &mediaErr) {
		return "check call parameters and logs"
	}

	switch mediaErr.Code {
	case ErrorCodeAudioSizeInvalid:
		return "audio data must be exactly one 20ms G.711 frame (160 bytes)"
	case ErrorCodeDTMFNotEnabled:
		return "enable DTMF support in the media session configuration"
	case ErrorCodeSessionNotStarted:
		return "call session.Start() before sending data"
	case ErrorCodeRTPSessionNotFound:
		return "make sure the RTP session was added via AddRTPSession()"
	default:
		return "check the API documentation for this error type"
	}
}

// IsRecoverableError reports whether a caller can reasonably retry after err.
func IsRecoverableError(err error) bool {
	var mediaErr *MediaError
	if !AsMediaError(err, &mediaErr) {
		return false
	}

	recoverableCodes := []MediaErrorCode{
		ErrorCodeAudioBufferFull,
		ErrorCodeRTPSendFailed,
	}

	for _, code := range recoverableCodes {
		if mediaErr.Code == code {
			return true
		}
	}
	return false
}
