// Package vxlanmetrics exports VTEP counters to Prometheus.
package vxlanmetrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dantte-lp/govxlan/internal/vxlan"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "govxlan"
	subsystem = "vtep"
)

// Label names.
const (
	labelVNI    = "vni"
	labelKind   = "kind"
	labelReason = "reason"
)

// -------------------------------------------------------------------------
// Collector
// -------------------------------------------------------------------------

// Collector holds the VTEP metrics and implements vxlan.MetricsReporter.
//
// Per-VNI series are deleted when the instance is destroyed so VNI churn
// does not grow the series set without bound.
type Collector struct {
	// Instances is the number of active instances.
	Instances prometheus.Gauge

	// PacketsReceived counts overlay datagrams delivered to a local port.
	PacketsReceived *prometheus.CounterVec

	// PacketsSent counts encapsulated frames sent, by unicast or flood.
	PacketsSent *prometheus.CounterVec

	// PacketsDropped counts discarded datagrams and frames by reason.
	PacketsDropped *prometheus.CounterVec

	// FDBEntries is the current number of learned remote MACs.
	FDBEntries *prometheus.GaugeVec

	// FDBLearned counts newly learned remote MACs.
	FDBLearned *prometheus.CounterVec

	// FDBMoves counts remote MACs re-pointed to another VTEP.
	FDBMoves *prometheus.CounterVec

	// FDBAged counts remote MACs removed by aging.
	FDBAged *prometheus.CounterVec
}

// NewCollector creates a Collector registered against reg. If reg is nil,
// prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.Instances,
		c.PacketsReceived,
		c.PacketsSent,
		c.PacketsDropped,
		c.FDBEntries,
		c.FDBLearned,
		c.FDBMoves,
		c.FDBAged,
	)

	return c
}

func newMetrics() *Collector {
	vniLabels := []string{labelVNI}

	return &Collector{
		Instances: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "instances",
			Help:      "Number of active VXLAN instances.",
		}),

		PacketsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_received_total",
			Help:      "Overlay datagrams decapsulated and delivered to a local port.",
		}, vniLabels),

		PacketsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_sent_total",
			Help:      "Local frames encapsulated and sent to the overlay.",
		}, []string{labelVNI, labelKind}),

		PacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_dropped_total",
			Help:      "Datagrams and frames discarded, by reason.",
		}, []string{labelReason}),

		FDBEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fdb_entries",
			Help:      "Learned remote MAC addresses.",
		}, vniLabels),

		FDBLearned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fdb_learned_total",
			Help:      "Remote MAC addresses learned for the first time.",
		}, vniLabels),

		FDBMoves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fdb_moves_total",
			Help:      "Remote MAC addresses that moved to another VTEP.",
		}, vniLabels),

		FDBAged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "fdb_aged_total",
			Help:      "Remote MAC addresses removed by aging.",
		}, vniLabels),
	}
}

// -------------------------------------------------------------------------
// Instance Lifecycle
// -------------------------------------------------------------------------

// RegisterInstance counts a new instance.
func (c *Collector) RegisterInstance(_ vxlan.VNI) {
	c.Instances.Inc()
}

// UnregisterInstance uncounts an instance and drops its series.
func (c *Collector) UnregisterInstance(vni vxlan.VNI) {
	c.Instances.Dec()

	v := vni.String()
	c.PacketsReceived.DeleteLabelValues(v)
	c.PacketsSent.DeletePartialMatch(prometheus.Labels{labelVNI: v})
	c.FDBEntries.DeleteLabelValues(v)
	c.FDBLearned.DeleteLabelValues(v)
	c.FDBMoves.DeleteLabelValues(v)
	c.FDBAged.DeleteLabelValues(v)
}

// -------------------------------------------------------------------------
// Packets
// -------------------------------------------------------------------------

func (c *Collector) IncPacketsReceived(vni vxlan.VNI) {
	c.PacketsReceived.WithLabelValues(vni.String()).Inc()
}

func (c *Collector) IncPacketsSent(vni vxlan.VNI, kind vxlan.SendKind) {
	c.PacketsSent.WithLabelValues(vni.String(), string(kind)).Inc()
}

func (c *Collector) IncPacketsDropped(reason vxlan.DropReason) {
	c.PacketsDropped.WithLabelValues(string(reason)).Inc()
}

// -------------------------------------------------------------------------
// FDB
// -------------------------------------------------------------------------

func (c *Collector) SetFDBEntries(vni vxlan.VNI, n int) {
	c.FDBEntries.WithLabelValues(vni.String()).Set(float64(n))
}

func (c *Collector) IncFDBLearned(vni vxlan.VNI) {
	c.FDBLearned.WithLabelValues(vni.String()).Inc()
}

func (c *Collector) IncFDBMoves(vni vxlan.VNI) {
	c.FDBMoves.WithLabelValues(vni.String()).Inc()
}

func (c *Collector) AddFDBAged(vni vxlan.VNI, n int) {
	c.FDBAged.WithLabelValues(vni.String()).Add(float64(n))
}

var _ vxlan.MetricsReporter = (*Collector)(nil)
