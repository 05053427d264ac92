// Package metrics exposes ESP's runtime counters/gauges via
// prometheus/client_golang, structured the way
// _examples/dantte-lp-gobfd/internal/metrics/collector.go builds its
// Collector: one struct of pre-registered vectors, a constructor that
// registers against a Registerer, and small increment/set methods
// called from the hot paths instead of scattering prometheus calls
// through the protocol code.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "esp"

// Collector holds every ESP server metric.
type Collector struct {
	PacketsReceived  prometheus.Counter
	PacketsDropped   *prometheus.CounterVec
	PacketsSent      prometheus.Counter
	Retransmits      prometheus.Counter
	DeliveriesAband  prometheus.Counter
	ActivePeers      *prometheus.GaugeVec
	ActiveRooms      *prometheus.GaugeVec
	SnapshotFallback prometheus.Counter
	ReassemblyExpiry prometheus.Counter
}

// NewCollector builds and registers a Collector against reg. If reg is
// nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		PacketsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_received_total",
			Help:      "Total datagrams received and successfully decoded.",
		}),
		PacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_dropped_total",
			Help:      "Total datagrams dropped, labeled by reason.",
		}, []string{"reason"}),
		PacketsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_sent_total",
			Help:      "Total fragments written to the socket.",
		}),
		Retransmits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retransmits_total",
			Help:      "Total reliable-mode retransmissions.",
		}),
		DeliveriesAband: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_abandoned_total",
			Help:      "Total reliable sends abandoned after the retry cap.",
		}),
		ActivePeers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_peers",
			Help:      "Number of peers currently registered, labeled by shard.",
		}, []string{"shard"}),
		ActiveRooms: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_rooms",
			Help:      "Number of rooms currently live, labeled by shard.",
		}, []string{"shard"}),
		SnapshotFallback: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_fallbacks_total",
			Help:      "Total full SNAPSHOTs sent, on a lag beyond the updates window or a stale SNAPSHOT_ACK.",
		}),
		ReassemblyExpiry: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reassembly_expired_total",
			Help:      "Total fragment groups evicted before completion.",
		}),
	}

	reg.MustRegister(
		c.PacketsReceived,
		c.PacketsDropped,
		c.PacketsSent,
		c.Retransmits,
		c.DeliveriesAband,
		c.ActivePeers,
		c.ActiveRooms,
		c.SnapshotFallback,
		c.ReassemblyExpiry,
	)
	return c
}

// DropReasonMalformed and friends name the label values used with
// PacketsDropped, matching the taxonomy in spec §7.
const (
	DropReasonMalformed  = "malformed"
	DropReasonUnknownPeer = "unknown_peer"
	DropReasonOutOfState  = "out_of_state"
)
