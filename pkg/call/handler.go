package call

import (
	"context"
	"fmt"
	"time"

	"github.com/outcall/sipvox/pkg/media"
)

// CallHandler is the surface application code drives a live call
// through: pushing outbound audio frames and reading collected DTMF.
// It is obtained from Call.Handler() and is safe to use as soon as the
// call reaches StateAnswered; calls made before then return
// ErrAudioStreamError.
type CallHandler struct {
	call *Call
}

// SendFrame pushes one frame of encoded audio (matching the negotiated
// codec's payload format) to be played to the callee.
func (h *CallHandler) SendFrame(frame []byte) error {
	h.call.mu.Lock()
	mediaSess := h.call.mediaSess
	h.call.mu.Unlock()
	if mediaSess == nil {
		return newCallError(ErrAudioStreamError, "media session not established yet")
	}
	return mediaSess.SendAudio(frame)
}

// SendDTMF plays one DTMF digit ('0'-'9', '*', '#', 'A'-'D') to the
// callee as an RFC 4733 telephone-event of the given duration.
func (h *CallHandler) SendDTMF(digit rune, duration time.Duration) error {
	h.call.mu.Lock()
	mediaSess := h.call.mediaSess
	h.call.mu.Unlock()
	if mediaSess == nil {
		return newCallError(ErrAudioStreamError, "media session not established yet")
	}

	digits, err := media.ParseDTMFString(string(digit))
	if err != nil || len(digits) != 1 {
		return fmt.Errorf("call: invalid DTMF digit %q", digit)
	}

	return mediaSess.SendDTMF(digits[0], duration)
}

// GetDTMF blocks until n DTMF digits have been collected from the
// callee (or ctx is done) and returns them.
func (h *CallHandler) GetDTMF(ctx context.Context, n int) (string, error) {
	return h.call.dtmfCollector.GetDTMF(ctx, n)
}

// GetDTMFUntil blocks until finish is pressed (or ctx is done) and
// returns everything collected before it.
func (h *CallHandler) GetDTMFUntil(ctx context.Context, finish rune) (string, error) {
	return h.call.dtmfCollector.GetDTMFUntil(ctx, finish)
}
