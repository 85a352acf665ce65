// Package metrics exposes Prometheus collectors for a wifip2p session.
//
// Counters are incremented by the discovery controller, the connection
// manager and the message router. Gauges mirror SessionState and are kept in
// sync by the listener returned from SessionListener.
//
// The collectors are process wide. Gauges describe one session, so only
// one Coordinator per process should enable them.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/opd-ai/wifip2p/session"
)

// =============================================================================
// Discovery Metrics
// =============================================================================

var (
	// DiscoveryScanning is 1 while a peer scan is running
	DiscoveryScanning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wifip2p_discovery_scanning",
			Help: "Whether a peer scan is running (0=idle, 1=scanning)",
		},
	)

	// DevicesDiscovered tracks the size of the live device list
	DevicesDiscovered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wifip2p_devices_discovered",
			Help: "Number of peers in the current device list",
		},
	)

	// DeviceUpdatesTotal counts device list updates by outcome
	DeviceUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wifip2p_device_updates_total",
			Help: "Total device list updates received from the radio",
		},
		[]string{"result"}, // "applied", "dropped"
	)

	// ScanStartsTotal counts scan start requests by outcome
	ScanStartsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wifip2p_scan_starts_total",
			Help: "Total scan start requests",
		},
		[]string{"result"}, // "success", "error"
	)
)

// =============================================================================
// Connection Metrics
// =============================================================================

var (
	// ConnectionState is 0 when disconnected, 1 as client, 2 as group owner
	ConnectionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wifip2p_connection_state",
			Help: "Connection state (0=disconnected, 1=client, 2=group owner)",
		},
	)

	// ConnectAttemptsTotal counts connect attempts by outcome
	ConnectAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wifip2p_connect_attempts_total",
			Help: "Total connect attempts",
		},
		[]string{"result"}, // "owner", "client", "rejected", "connect_error", "role_error"
	)

	// DisconnectsTotal counts teardowns by mode and outcome
	DisconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wifip2p_disconnects_total",
			Help: "Total group teardowns",
		},
		[]string{"mode", "result"},
	)

	// GroupMembers tracks the member set size while group owner
	GroupMembers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wifip2p_group_members",
			Help: "Number of known group members",
		},
	)
)

// =============================================================================
// Messaging Metrics
// =============================================================================

var (
	// MessagesSentTotal counts per-recipient send attempts by outcome
	MessagesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wifip2p_messages_sent_total",
			Help: "Total per-recipient message send attempts",
		},
		[]string{"role", "result"}, // role: "owner", "client"; result: "success", "error"
	)

	// MessagesReceivedTotal counts receive calls by outcome
	MessagesReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wifip2p_messages_received_total",
			Help: "Total receive calls",
		},
		[]string{"result"}, // "success", "timeout", "error", "stale"
	)

	// FanOutDuration tracks how long an owner fan-out takes
	FanOutDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wifip2p_fanout_duration_seconds",
			Help:    "Duration of owner fan-out sends",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		},
	)
)

// SessionListener returns a listener keeping the state gauges in sync.
// Listeners may observe racing events out of order, so every gauge is set
// from the newest snapshot seen and older snapshots are ignored.
func SessionListener() session.Listener {
	var (
		mu   sync.Mutex
		last uint64
	)
	return func(ev session.Event) {
		mu.Lock()
		defer mu.Unlock()

		snap := ev.Snapshot
		if snap.Version <= last {
			return
		}
		last = snap.Version

		if snap.Discovery == session.DiscoveryScanning {
			DiscoveryScanning.Set(1)
		} else {
			DiscoveryScanning.Set(0)
		}
		DevicesDiscovered.Set(float64(len(snap.Devices)))
		ConnectionState.Set(connectionValue(snap.Connection))
		GroupMembers.Set(float64(len(snap.Members)))
	}
}

func connectionValue(c session.ConnectionState) float64 {
	switch c.(type) {
	case session.ConnectedAsOwner:
		return 2
	case session.ConnectedAsClient:
		return 1
	default:
		return 0
	}
}
