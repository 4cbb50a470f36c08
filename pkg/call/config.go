package call

import (
	"fmt"
	"log/slog"
)

// TransportKind is the transport a Call places its SIP dialog over.
type TransportKind int

const (
	TransportUDP TransportKind = iota
	TransportTCP
	TransportTLS
	TransportTLSv1
)

func (t TransportKind) String() string {
	switch t {
	case TransportTCP:
		return "tcp"
	case TransportTLS:
		return "tls"
	case TransportTLSv1:
		return "tlsv1"
	default:
		return "udp"
	}
}

// ParseTransportKind maps a configuration string (as accepted by
// internal/config and the -transport flag) onto a TransportKind.
func ParseTransportKind(s string) (TransportKind, error) {
	switch s {
	case "udp", "":
		return TransportUDP, nil
	case "tcp":
		return TransportTCP, nil
	case "tls":
		return TransportTLS, nil
	case "tlsv1":
		return TransportTLSv1, nil
	default:
		return TransportUDP, fmt.Errorf("call: unknown transport %q", s)
	}
}

// Config is everything New needs to place one outbound call. Required
// fields mirror spec.md §6's configuration surface; optional fields
// default the way DefaultConfig documents.
type Config struct {
	// Required.
	Username  string
	Password  string
	ProxyAddr string // host:port of the outbound proxy/registrar
	Callee    string // sip URI or bare user@host of the party to dial
	Transport TransportKind

	// Optional.
	CallerID     string
	LocalHost    string // advertised in Via/Contact/SDP; defaults to outbound-interface IP
	RTPPortMin   int
	RTPPortMax   int
	PaceFactor   float64
	RecordingBufferFrames int

	// AMDEnabled turns on the answering-machine-detection heuristic
	// (pkg/media/amd.go) on the first seconds of inbound audio after
	// Answered. OnAMDStateReceived always fires at least once with
	// AMDUnknown when this is false, so wiring the callback costs
	// nothing when AMD is disabled.
	AMDEnabled bool

	Logger *slog.Logger
}

// DefaultConfig fills in the optional fields DefaultConfig's caller left
// zero, mirroring the teacher's config-defaulting convention.
func DefaultConfig(cfg Config) Config {
	if cfg.RTPPortMin == 0 {
		cfg.RTPPortMin = 10000
	}
	if cfg.RTPPortMax == 0 {
		cfg.RTPPortMax = 20000
	}
	if cfg.PaceFactor <= 0 {
		cfg.PaceFactor = 1.0 / 1.75
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

func (cfg Config) validate() error {
	if cfg.Username == "" {
		return fmt.Errorf("call: Config.Username is required")
	}
	if cfg.ProxyAddr == "" {
		return fmt.Errorf("call: Config.ProxyAddr is required")
	}
	if cfg.Callee == "" {
		return fmt.Errorf("call: Config.Callee is required")
	}
	if cfg.RTPPortMin <= 0 || cfg.RTPPortMax <= cfg.RTPPortMin {
		return fmt.Errorf("call: Config.RTPPortMin/RTPPortMax invalid (%d/%d)", cfg.RTPPortMin, cfg.RTPPortMax)
	}
	return nil
}
