package history

import (
	"k8s.io/utils/clock"

	"github.com/HaPhanBaoMinh/kinsight/internal/domain"
)

// ClusterEntity is the entity name of the cluster-wide windows.
const ClusterEntity = "cluster"

// Aggregator turns the snapshot stream into time series: the raw cluster
// metrics per dimension and per-node usage percentages.
type Aggregator struct {
	clock   clock.PassiveClock
	cluster *Series[domain.ResourceMetric]
	nodes   *Series[float64]
}

func NewAggregator(clk clock.PassiveClock, size int) *Aggregator {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if size <= 0 {
		size = DefaultSize
	}
	return &Aggregator{
		clock:   clk,
		cluster: NewSeries[domain.ResourceMetric](size),
		nodes:   NewSeries[float64](size),
	}
}

// Observe records one snapshot at the current clock time.
func (a *Aggregator) Observe(s domain.Snapshot) {
	now := a.clock.Now()
	a.cluster.Record(now, Key{Entity: ClusterEntity, Dimension: CPU}, s.Cluster.CPU)
	a.cluster.Record(now, Key{Entity: ClusterEntity, Dimension: Memory}, s.Cluster.Memory)
	for _, n := range s.Nodes {
		a.nodes.Record(now, Key{Entity: n.Name, Dimension: CPU}, UsagePercent(n.CPU, NodePrecision))
		a.nodes.Record(now, Key{Entity: n.Name, Dimension: Memory}, UsagePercent(n.Memory, NodePrecision))
	}
}

func (a *Aggregator) OnSnapshot(s domain.Snapshot) { a.Observe(s) }

func (a *Aggregator) OnError(error) {}

func (a *Aggregator) Cluster(dim Dimension) []Sample[domain.ResourceMetric] {
	out, _ := a.cluster.Window(Key{Entity: ClusterEntity, Dimension: dim})
	return out
}

func (a *Aggregator) Node(name string, dim Dimension) ([]Sample[float64], bool) {
	return a.nodes.Window(Key{Entity: name, Dimension: dim})
}

// Nodes lists every node name ever observed, including ones that have
// since disappeared from the stream.
func (a *Aggregator) Nodes() []string {
	var out []string
	for _, k := range a.nodes.Keys() {
		if k.Dimension == CPU {
			out = append(out, k.Entity)
		}
	}
	return out
}

// UsagePercent is usage as a percentage of the metric's capacity. Missing
// usage or capacity yields 0.
func UsagePercent(r domain.ResourceMetric, places int) float64 {
	total, ok := r.Total()
	if !ok || r.Usage == nil {
		return 0
	}
	return PercentOf(float64(*r.Usage), float64(total), places)
}

// Values extracts the sample values in order.
func Values[T any](samples []Sample[T]) []T {
	out := make([]T, len(samples))
	for i, s := range samples {
		out[i] = s.Value
	}
	return out
}
