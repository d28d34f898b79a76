package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the bridge relay.
type Metrics struct {
	ConnectedBridges prometheus.Gauge
	ControlMessages  *prometheus.CounterVec // type
	Uploads          *prometheus.CounterVec // kind, result
	UploadBytes      *prometheus.CounterVec // kind
	Commands         *prometheus.CounterVec // result
	StaleEvictions   prometheus.Counter
	SegmentsExpired  prometheus.Counter
}

// New creates and registers the relay metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectedBridges: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_relay_connected_bridges",
			Help: "Bridges with a registered live control channel",
		}),
		ControlMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_relay_control_messages_total",
			Help: "Inbound control channel messages by type",
		}, []string{"type"}),
		Uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_relay_uploads_total",
			Help: "Segment and playlist uploads by kind and result",
		}, []string{"kind", "result"}),
		UploadBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_relay_upload_bytes_total",
			Help: "Bytes stored by ingestion",
		}, []string{"kind"}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_relay_commands_total",
			Help: "Operator commands forwarded to bridges by result",
		}, []string{"result"}),
		StaleEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_relay_stale_evictions_total",
			Help: "Control channels closed by the liveness sweep",
		}),
		SegmentsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_relay_segments_expired_total",
			Help: "Segments removed by the retention job",
		}),
	}
	reg.MustRegister(
		m.ConnectedBridges,
		m.ControlMessages,
		m.Uploads,
		m.UploadBytes,
		m.Commands,
		m.StaleEvictions,
		m.SegmentsExpired,
	)
	return m
}
