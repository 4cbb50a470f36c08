//go:build linux

package rtp

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// applyVoiceSockOpts applies Linux-only socket tuning for low-latency
// voice traffic: SO_PRIORITY raises the socket above best-effort traffic
// class, SO_BUSY_POLL lets the kernel poll briefly instead of sleeping
// before an interrupt, cutting wake-up latency on the receive path.
// Both are best-effort; unsupported kernels/containers are not fatal.
func applyVoiceSockOpts(fd uintptr) {
	_ = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, unix.SO_PRIORITY, 6)
	_ = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, unix.SO_BUSY_POLL, 50)
}

// setSockOptDSCP marks outgoing packets with a DSCP codepoint for QoS
// (RFC 4594). dscp is shifted into the high 6 bits of the IP TOS byte.
func setSockOptDSCP(fd, dscp int) error {
	return syscall.SetsockoptInt(fd, syscall.IPPROTO_IP, syscall.IP_TOS, dscp<<2)
}

// setSockOptReusePort allows several sockets to share one local address,
// used when multiple RTP sessions bind the same port range concurrently.
func setSockOptReusePort(fd int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
}

// setSockOptBindToDevice restricts the socket to a single network
// interface, used in multi-homed hosts to pin RTP traffic to one NIC.
func setSockOptBindToDevice(fd int, device string) error {
	return unix.BindToDevice(fd, device)
}

// setSockOptVoiceOptimizations applies the same priority/busy-poll
// tuning as applyVoiceSockOpts to a raw file descriptor and always
// returns nil. Nothing in this package calls it: NewUDPTransport applies
// the tuning through applyVoiceSockOpts.
func setSockOptVoiceOptimizations(fd int) error {
	applyVoiceSockOpts(uintptr(fd))
	return nil
}
