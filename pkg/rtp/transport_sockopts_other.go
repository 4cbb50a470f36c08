//go:build !linux

package rtp

// applyVoiceSockOpts is a no-op outside Linux; SO_PRIORITY/SO_BUSY_POLL
// have no portable equivalent.
func applyVoiceSockOpts(fd uintptr) {}

func setSockOptDSCP(fd, dscp int) error           { return nil }
func setSockOptReusePort(fd int) error            { return nil }
func setSockOptBindToDevice(fd int, device string) error { return nil }
func setSockOptVoiceOptimizations(fd int) error   { return nil }
