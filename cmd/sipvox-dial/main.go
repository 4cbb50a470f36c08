// Command sipvox-dial places one outbound SIP call and tears it down on
// hangup or SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/outcall/sipvox/internal/config"
	"github.com/outcall/sipvox/internal/metrics"
	"github.com/outcall/sipvox/pkg/call"
)

func main() {
	cfg := config.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	callCfg, err := cfg.ToCallConfig(logger)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if cfg.MetricsAddr != "" {
		srv := metrics.NewServer(cfg.MetricsAddr, "/metrics")
		srv.Start()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Stop(ctx)
		}()
	}

	c, err := call.New(callCfg)
	if err != nil {
		logger.Error("failed to build call", "error", err)
		os.Exit(1)
	}

	done := make(chan string, 1)
	c.OnCallStateChanged(func(s call.CallState) {
		logger.Info("call state changed", "state", s.String())
	})
	c.OnHangup(func(reason string) {
		logger.Info("call ended", "reason", reason)
		select {
		case done <- reason:
		default:
		}
	})
	c.OnDTMF(func(digit rune) {
		logger.Info("DTMF digit received", "digit", string(digit))
	})
	c.OnAMDStateReceived(func(s call.AMDState) {
		logger.Info("AMD classification", "result", s.String())
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := c.Start(ctx); err != nil {
		logger.Error("failed to start call", "error", err)
		os.Exit(1)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)

	select {
	case <-done:
	case <-sigc:
		logger.Info("signal received, hanging up")
		_ = c.Stop("local hangup")
		<-done
	}

	if cfg.RecordWAV != "" {
		if err := c.ExportRecordedAudio(cfg.RecordWAV); err != nil {
			logger.Warn("failed to export recorded audio", "error", err, "path", cfg.RecordWAV)
		} else {
			logger.Info("recorded audio exported", "path", cfg.RecordWAV)
		}
	}
}
