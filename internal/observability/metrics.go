package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder exposes Prometheus metrics for both ends of the snapshot stream.
type Recorder struct {
	snapshotsPublished prometheus.Counter
	collectErrors      prometheus.Counter
	collectDuration    prometheus.Histogram
	streamClients      prometheus.Gauge
	snapshotsReceived  prometheus.Counter
	snapshotsDropped   prometheus.Counter
	clusterUsage       *prometheus.GaugeVec
}

// NewRecorder constructs a recorder and registers its collectors with reg.
// A nil reg leaves the collectors unregistered.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		snapshotsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kinsight_snapshots_published_total",
			Help: "Snapshots written to stream clients",
		}),
		collectErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kinsight_collect_errors_total",
			Help: "Failed attempts to collect a cluster snapshot",
		}),
		collectDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kinsight_collect_duration_seconds",
			Help:    "Time spent collecting one cluster snapshot",
			Buckets: prometheus.DefBuckets,
		}),
		streamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kinsight_stream_clients",
			Help: "Currently connected stream clients",
		}),
		snapshotsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kinsight_snapshots_received_total",
			Help: "Snapshots decoded from the stream",
		}),
		snapshotsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kinsight_snapshots_dropped_total",
			Help: "Stream messages dropped because they did not decode",
		}),
		clusterUsage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kinsight_cluster_usage_percent",
			Help: "Latest cluster usage as a percentage of capacity",
		}, []string{"resource"}),
	}
	if reg != nil {
		reg.MustRegister(
			r.snapshotsPublished, r.collectErrors, r.collectDuration, r.streamClients,
			r.snapshotsReceived, r.snapshotsDropped, r.clusterUsage,
		)
	}
	return r
}

// ObserveCollect records the outcome of one collection.
func (r *Recorder) ObserveCollect(d time.Duration, err error) {
	if r == nil {
		return
	}
	r.collectDuration.Observe(d.Seconds())
	if err != nil {
		r.collectErrors.Inc()
	}
}

func (r *Recorder) SnapshotPublished() {
	if r != nil {
		r.snapshotsPublished.Inc()
	}
}

func (r *Recorder) ClientConnected() {
	if r != nil {
		r.streamClients.Inc()
	}
}

func (r *Recorder) ClientDisconnected() {
	if r != nil {
		r.streamClients.Dec()
	}
}

func (r *Recorder) SnapshotReceived() {
	if r != nil {
		r.snapshotsReceived.Inc()
	}
}

func (r *Recorder) SnapshotDropped() {
	if r != nil {
		r.snapshotsDropped.Inc()
	}
}

// RecordClusterUsage publishes the latest usage percentages.
func (r *Recorder) RecordClusterUsage(cpu, memory float64) {
	if r == nil {
		return
	}
	r.clusterUsage.WithLabelValues("cpu").Set(cpu)
	r.clusterUsage.WithLabelValues("memory").Set(memory)
}
