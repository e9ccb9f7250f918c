package mock

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/HaPhanBaoMinh/kinsight/internal/domain"
)

const (
	nodeCPU    = 4000  // m
	nodeMemory = 16384 // MiB
)

var nodeNames = []string{"ip-10-0-1-5", "ip-10-0-1-12", "ip-10-0-2-3", "ip-10-0-2-7", "ip-10-0-3-2"}

type podSpec struct {
	ns, name, node   string
	cpuReq, cpuLim   int64 // m, 0 means unset
	memReq, memLim   int64 // MiB, 0 means unset
	cpuBase, memBase float64
}

var podSpecs = []podSpec{
	{"default", "api-7cfb9d9c9c-9tghd", "ip-10-0-1-5", 100, 500, 256, 1024, 120, 612},
	{"default", "api-7cfb9d9c9c-sj2lq", "ip-10-0-1-12", 100, 500, 256, 1024, 110, 580},
	{"default", "worker-5f7dcbffd6-2jqkz", "ip-10-0-2-3", 0, 0, 512, 0, 300, 400},
	{"staging", "cart-6d79f8b5f7-m2x8l", "ip-10-0-2-7", 500, 1000, 128, 256, 40, 90},
	{"kube-system", "coredns-5d78c9869d-x7kqp", "ip-10-0-1-5", 100, 0, 70, 170, 5, 20},
	{"kube-system", "metrics-server-6d94bc8694-lq2kc", "ip-10-0-3-2", 100, 0, 200, 0, 8, 30},
	{"staging", "pending-job-9f8c7", "", 250, 250, 64, 64, 0, 0},
}

// Repo produces a synthetic cluster whose usage wobbles over time.
type Repo struct {
	clock clock.PassiveClock
	start time.Time

	mu  sync.Mutex
	rnd *rand.Rand
}

func New() *Repo {
	return NewWithSource(clock.RealClock{}, rand.NewSource(time.Now().UnixNano()))
}

// NewWithSource makes the output reproducible for a fixed clock and seed.
func NewWithSource(clk clock.PassiveClock, src rand.Source) *Repo {
	return &Repo{clock: clk, start: clk.Now(), rnd: rand.New(src)}
}

func (r *Repo) Overview(ctx context.Context) (domain.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return domain.Snapshot{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := domain.Snapshot{
		Cluster: domain.ClusterSnapshot{
			NodeCount:         len(nodeNames),
			PodCount:          len(podSpecs),
			NamespaceCount:    3,
			KubernetesVersion: "v1.29.4",
		},
		Nodes: make([]domain.NodeSnapshot, 0, len(nodeNames)),
		Pods:  make([]domain.PodSnapshot, 0, len(podSpecs)),
	}

	type sums struct{ cpuReq, cpuLim, memReq, memLim int64 }
	perNode := map[string]*sums{}
	podsOnNode := map[string]int{}
	var all sums
	for _, p := range podSpecs {
		all.cpuReq += p.cpuReq
		all.cpuLim += p.cpuLim
		all.memReq += p.memReq
		all.memLim += p.memLim
		if p.node == "" {
			continue
		}
		podsOnNode[p.node]++
		s, ok := perNode[p.node]
		if !ok {
			s = &sums{}
			perNode[p.node] = s
		}
		s.cpuReq += p.cpuReq
		s.cpuLim += p.cpuLim
		s.memReq += p.memReq
		s.memLim += p.memLim
	}

	var cpuUse, memUse int64
	for i, name := range nodeNames {
		c := clamp01(0.45 + 0.25*r.noise(i))
		m := clamp01(0.42 + 0.28*r.noise(i+10))
		cu := int64(c * nodeCPU)
		mu := int64(m * nodeMemory)
		cpuUse += cu
		memUse += mu

		status := domain.NodeReady
		if i == len(nodeNames)-1 {
			status = domain.NodeNotReady
		}
		if status == domain.NodeReady {
			snap.Cluster.ReadyNodeCount++
		} else {
			snap.Cluster.NotReadyNodeCount++
		}
		role := "worker"
		if i == 0 {
			role = "control-plane"
		}
		var s sums
		if ps, ok := perNode[name]; ok {
			s = *ps
		}
		snap.Nodes = append(snap.Nodes, domain.NodeSnapshot{
			Name:              name,
			Status:            status,
			Role:              role,
			PodCount:          podsOnNode[name],
			CreationTimestamp: r.start.Add(-time.Duration(30+i) * 24 * time.Hour).UTC().Format(time.RFC3339),
			CPU: domain.ResourceMetric{
				Usage: ptr(cu), Requests: optional(s.cpuReq), Limits: optional(s.cpuLim),
				Allocatable: ptr(nodeCPU - 200), Capacity: ptr(nodeCPU),
			},
			Memory: domain.ResourceMetric{
				Usage: ptr(mu), Requests: optional(s.memReq), Limits: optional(s.memLim),
				Allocatable: ptr(nodeMemory - 1024), Capacity: ptr(nodeMemory),
			},
		})
	}

	n := int64(len(nodeNames))
	snap.Cluster.CPU = domain.ResourceMetric{
		Usage: ptr(cpuUse), Requests: optional(all.cpuReq), Limits: optional(all.cpuLim),
		Allocatable: ptr(n * (nodeCPU - 200)), Capacity: ptr(n * nodeCPU),
	}
	snap.Cluster.Memory = domain.ResourceMetric{
		Usage: ptr(memUse), Requests: optional(all.memReq), Limits: optional(all.memLim),
		Allocatable: ptr(n * (nodeMemory - 1024)), Capacity: ptr(n * nodeMemory),
	}

	for _, p := range podSpecs {
		pod := domain.PodSnapshot{
			Namespace: p.ns,
			Name:      p.name,
			Node:      p.node,
			CPU:       domain.PodResource{Requests: optional(p.cpuReq), Limits: optional(p.cpuLim)},
			Memory:    domain.PodResource{Requests: optional(p.memReq), Limits: optional(p.memLim)},
		}
		if p.node != "" {
			pod.CPU.Usage = ptr(int64(p.cpuBase * (0.8 + 0.4*r.rnd.Float64())))
			pod.Memory.Usage = ptr(int64(p.memBase * (0.9 + 0.2*r.rnd.Float64())))
			pod.NodeCPUCapacity = ptr(nodeCPU)
			pod.NodeMemoryCapacity = ptr(nodeMemory)
		}
		snap.Pods = append(snap.Pods, pod)
	}
	return snap, nil
}

// noise is a slow wave plus jitter, roughly in [-1, 1.4].
func (r *Repo) noise(seed int) float64 {
	t := r.clock.Since(r.start).Seconds() / 10
	return math.Sin(t+float64(seed)) + float64(seed%3)*0.1 + r.rnd.Float64()*0.2
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func ptr(v int64) *int64 { return &v }

// optional maps the 0 placeholder in podSpecs to "not configured".
func optional(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return ptr(v)
}
