// Package config loads the sipvox-dial CLI's configuration from flags
// with environment-variable overrides, mirroring the flag+env pattern
// used elsewhere in the stack.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/outcall/sipvox/pkg/call"
)

// Config is everything sipvox-dial needs to place one call, before it is
// converted into a call.Config.
type Config struct {
	ProxyAddr  string
	Callee     string
	Username   string
	Password   string
	Transport  string
	CallerID   string
	RTPPortMin  int
	RTPPortMax  int
	LogLevel    string
	AMDEnabled  bool
	MetricsAddr string
	RecordWAV   string
}

// Load parses flags, applies environment overrides (SIPVOX_* beats the
// flag default, never the other way around), and returns the result.
func Load() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.ProxyAddr, "proxy", "", "outbound proxy/registrar address (host:port)")
	flag.StringVar(&cfg.Callee, "callee", "", "SIP URI or user@host of the party to dial")
	flag.StringVar(&cfg.Username, "username", "", "SIP authentication username")
	flag.StringVar(&cfg.Password, "password", "", "SIP authentication password")
	flag.StringVar(&cfg.Transport, "transport", "udp", "signaling transport: udp, tcp, tls, tlsv1")
	flag.StringVar(&cfg.CallerID, "caller-id", "", "From user part advertised to the callee (defaults to -username)")
	flag.IntVar(&cfg.RTPPortMin, "rtp-port-min", 10000, "minimum RTP port")
	flag.IntVar(&cfg.RTPPortMax, "rtp-port-max", 20000, "maximum RTP port")
	flag.StringVar(&cfg.LogLevel, "loglevel", "info", "log level: debug, info, warn, error")
	flag.BoolVar(&cfg.AMDEnabled, "amd", false, "enable answering-machine detection on the first seconds of inbound audio")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "address to serve Prometheus /metrics on (empty disables it)")
	flag.StringVar(&cfg.RecordWAV, "record", "", "path to write a WAV recording of the received audio (empty disables it)")

	flag.Parse()

	if v := os.Getenv("SIPVOX_PROXY"); v != "" {
		cfg.ProxyAddr = v
	}
	if v := os.Getenv("SIPVOX_CALLEE"); v != "" {
		cfg.Callee = v
	}
	if v := os.Getenv("SIPVOX_USERNAME"); v != "" {
		cfg.Username = v
	}
	if v := os.Getenv("SIPVOX_PASSWORD"); v != "" {
		cfg.Password = v
	}
	if v := os.Getenv("SIPVOX_TRANSPORT"); v != "" {
		cfg.Transport = v
	}
	if v := os.Getenv("SIPVOX_CALLER_ID"); v != "" {
		cfg.CallerID = v
	}
	if v := os.Getenv("SIPVOX_RTP_PORT_MIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RTPPortMin = n
		}
	}
	if v := os.Getenv("SIPVOX_RTP_PORT_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RTPPortMax = n
		}
	}
	if v := os.Getenv("SIPVOX_LOGLEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SIPVOX_AMD"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.AMDEnabled = b
		}
	}
	if v := os.Getenv("SIPVOX_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("SIPVOX_RECORD"); v != "" {
		cfg.RecordWAV = v
	}

	return cfg
}

// ToCallConfig converts the flag/env surface into a call.Config,
// resolving the transport string into its typed TransportKind.
func (c *Config) ToCallConfig(logger *slog.Logger) (call.Config, error) {
	transportKind, err := call.ParseTransportKind(c.Transport)
	if err != nil {
		return call.Config{}, fmt.Errorf("config: %w", err)
	}

	return call.Config{
		Username:   c.Username,
		Password:   c.Password,
		ProxyAddr:  c.ProxyAddr,
		Callee:     c.Callee,
		Transport:  transportKind,
		CallerID:   c.CallerID,
		RTPPortMin: c.RTPPortMin,
		RTPPortMax: c.RTPPortMax,
		AMDEnabled: c.AMDEnabled,
		Logger:     logger,
	}, nil
}

// ParseLogLevel maps the -loglevel flag onto an slog.Level, defaulting
// to Info for an unrecognized value.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
