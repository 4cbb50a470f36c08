// Package metrics implements the Prometheus metrics sipvox exports:
// dialog lifecycle counts, transaction retransmits, RTP flow, DTMF
// decode events and digest auth retries.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DialogsActive tracks the number of dialogs currently not in
	// StateTerminated.
	DialogsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sipvox",
		Subsystem: "dialog",
		Name:      "active",
		Help:      "Number of SIP dialogs currently active (not terminated)",
	})

	// DialogsTotal counts every dialog created, labeled by how it ended.
	DialogsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sipvox",
		Subsystem: "dialog",
		Name:      "total",
		Help:      "Total number of SIP dialogs created, by outcome",
	}, []string{"outcome"})

	// TransactionRetransmits counts request/response retransmissions
	// driven by the transaction layer's timers.
	TransactionRetransmits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sipvox",
		Subsystem: "transaction",
		Name:      "retransmits_total",
		Help:      "Total number of SIP transaction retransmissions",
	}, []string{"method"})

	// AuthRetries counts digest challenges on outbound INVITEs, labeled
	// "retry" when another INVITE is sent and "exhausted" once the retry
	// cap is exceeded.
	AuthRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sipvox",
		Subsystem: "call",
		Name:      "auth_retries_total",
		Help:      "Total number of digest authentication retries on outbound INVITEs",
	}, []string{"result"})

	// RTPPacketsSent/Received count RTP packets crossing the media layer.
	RTPPacketsSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sipvox",
		Subsystem: "rtp",
		Name:      "packets_sent_total",
		Help:      "Total number of RTP packets sent",
	})
	RTPPacketsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sipvox",
		Subsystem: "rtp",
		Name:      "packets_received_total",
		Help:      "Total number of RTP packets received",
	})

	// DTMFEventsDecoded counts RFC 4733 telephone-event packets decoded
	// into a DTMFEvent.
	DTMFEventsDecoded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sipvox",
		Subsystem: "media",
		Name:      "dtmf_events_decoded_total",
		Help:      "Total number of DTMF events decoded from RTP",
	})
)
