// Package media implements one call's audio engine.
//
// A MediaSession drives a single RTP leg (see package rtp) at a fixed
// 20ms G.711 cadence: it paces outbound frames onto the wire, hands
// inbound frames (still G.711-encoded) and decoded RFC 4733 DTMF events
// back to the caller, and records the received audio for later export
// to WAV. Answering-machine detection (AMDDetector) is a separate type
// that the caller feeds; MediaSession does not run it.
//
// # Quick start
//
//	config := media.DefaultMediaSessionConfig()
//	config.SessionID = "call-123"
//	config.PayloadType = media.PayloadTypePCMU // G.711 μ-law
//	config.OnAudioReceived = func(data []byte, pt media.PayloadType, ptime time.Duration, sessionID string) {
//	    // inbound frame, G.711-encoded as received
//	}
//
//	session, err := media.NewMediaSession(config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer session.Stop()
//
//	err = session.AddRTPSession(callID, rtpSession) // your rtp.SessionRTP
//	err = session.Start()
//
//	err = session.SendAudio(frame) // exactly 160 bytes, one 20ms frame
//
// # Codecs
//
// Only the two G.711 variants from RFC 3551 are implemented:
//
//   - PCMU (μ-law) - payload type 0
//   - PCMA (A-law) - payload type 8
//
// There is no resampling or transcoding: SendAudio and the inbound
// audio callback both deal in the session's single negotiated codec.
//
// # DTMF
//
// DTMF is carried as RFC 4733 telephone-events on its own payload type
// (conventionally 101), sharing the audio session's SSRC:
//
//	err = session.SendDTMF(media.DTMF5, media.DefaultDTMFDuration)
//
//	config.OnDTMFReceived = func(event media.DTMFEvent, sessionID string) {
//	    fmt.Printf("DTMF digit: %s\n", event.Digit)
//	}
//
// Inbound decoding dedups on the event's RTP timestamp (the RFC 4733
// burst is retransmitted three times before the end-of-event marker),
// not on digit identity, so two consecutive presses of the same key
// both fire.
//
// # Errors
//
// Errors are typed (*MediaError and its AudioError/DTMFError/RTPError
// specializations) so callers can branch on MediaErrorCode rather than
// string-matching Error():
//
//	if mediaErr, ok := err.(*media.MediaError); ok {
//	    fmt.Printf("code: %d, suggestion: %s\n", mediaErr.Code, media.GetErrorSuggestion(err))
//	}
//
// # Recording
//
// Every MediaSession records the audio it receives into a bounded buffer
// (the newest 500 frames by default) and can export it:
//
//	err = session.ExportWAV("/tmp/call-123.wav")
//
// # Thread safety
//
// MediaSession's public methods are safe to call from multiple
// goroutines; internal state and callbacks are protected by their own
// mutexes.
//
// # References
//
//   - RFC 3550 - RTP: A Transport Protocol for Real-Time Applications
//   - RFC 3551 - RTP Profile for Audio and Video Conferences
//   - RFC 4733 - RTP Payload for DTMF Digits, Telephony Tones and Signals
package media
