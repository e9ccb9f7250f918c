package k8s

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	metricsclient "k8s.io/metrics/pkg/client/clientset/versioned"

	"github.com/HaPhanBaoMinh/kinsight/internal/domain"
	"github.com/HaPhanBaoMinh/kinsight/internal/logging"
)

const mebibyte = 1024 * 1024

type Repo struct {
	core    kubernetes.Interface
	metrics metricsclient.Interface
}

func New(kubeconfigPath, contextName string) (*Repo, error) {
	cfg, err := loadRESTConfig(kubeconfigPath, contextName)
	if err != nil {
		return nil, fmt.Errorf("load kube config: %w", err)
	}
	cfg.QPS = 30
	cfg.Burst = 60
	core, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("create kube client: %w", err)
	}
	m, err := metricsclient.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("create metrics client: %w", err)
	}
	return NewFromClients(core, m), nil
}

func NewFromClients(core kubernetes.Interface, metrics metricsclient.Interface) *Repo {
	return &Repo{core: core, metrics: metrics}
}

func loadRESTConfig(kubeconfigPath, contextName string) (*rest.Config, error) {
	if cfg, err := rest.InClusterConfig(); err == nil {
		return cfg, nil
	}
	loadingRules := &clientcmd.ClientConfigLoadingRules{ExplicitPath: kubeconfigPath}
	overrides := &clientcmd.ConfigOverrides{}
	if contextName != "" {
		overrides.CurrentContext = contextName
	}
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, overrides).ClientConfig()
}

// Overview lists nodes, pods and namespaces concurrently and joins them with
// metrics.k8s.io usage. A missing metrics API leaves usage unset instead of
// failing the snapshot.
func (r *Repo) Overview(ctx context.Context) (domain.Snapshot, error) {
	var in inputs
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		list, err := r.core.CoreV1().Nodes().List(gctx, metav1.ListOptions{})
		if err != nil {
			return fmt.Errorf("list nodes: %w", err)
		}
		in.nodes = list.Items
		return nil
	})
	g.Go(func() error {
		list, err := r.core.CoreV1().Pods("").List(gctx, metav1.ListOptions{})
		if err != nil {
			return fmt.Errorf("list pods: %w", err)
		}
		in.pods = list.Items
		return nil
	})
	g.Go(func() error {
		list, err := r.core.CoreV1().Namespaces().List(gctx, metav1.ListOptions{})
		if err != nil {
			return fmt.Errorf("list namespaces: %w", err)
		}
		in.namespaces = len(list.Items)
		return nil
	})
	g.Go(func() error {
		nms, err := r.metrics.MetricsV1beta1().NodeMetricses().List(gctx, metav1.ListOptions{})
		if err != nil {
			logging.Debug("node metrics unavailable: %v", err)
			return nil
		}
		in.nodeUsage = make(map[string]corev1.ResourceList, len(nms.Items))
		for _, m := range nms.Items {
			in.nodeUsage[m.Name] = m.Usage
		}
		return nil
	})
	g.Go(func() error {
		pms, err := r.metrics.MetricsV1beta1().PodMetricses("").List(gctx, metav1.ListOptions{})
		if err != nil {
			logging.Debug("pod metrics unavailable: %v", err)
			return nil
		}
		// Sum container usage per pod -> map["ns/name"] = ResourceList
		in.podUsage = make(map[string]corev1.ResourceList, len(pms.Items))
		for _, m := range pms.Items {
			total := corev1.ResourceList{}
			for _, c := range m.Containers {
				addResources(total, c.Usage)
			}
			in.podUsage[m.Namespace+"/"+m.Name] = total
		}
		return nil
	})
	g.Go(func() error {
		if v, err := r.core.Discovery().ServerVersion(); err == nil && v != nil {
			in.version = v.GitVersion
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return domain.Snapshot{}, err
	}
	return buildSnapshot(in), nil
}

type inputs struct {
	nodes      []corev1.Node
	pods       []corev1.Pod
	namespaces int
	nodeUsage  map[string]corev1.ResourceList
	podUsage   map[string]corev1.ResourceList
	version    string
}

// total accumulates a quantity and remembers whether anything was added.
type total struct {
	v   int64
	set bool
}

func (t *total) add(v int64) {
	t.v += v
	t.set = true
}

func (t *total) merge(o total) {
	if o.set {
		t.add(o.v)
	}
}

func (t total) milli() *int64 {
	if !t.set {
		return nil
	}
	v := t.v
	return &v
}

func (t total) mebi() *int64 {
	if !t.set {
		return nil
	}
	v := t.v / mebibyte
	return &v
}

// podTotals holds a pod's declared requests and limits, CPU in milli-cores
// and memory in bytes.
type podTotals struct {
	cpuReq, cpuLim, memReq, memLim total
}

func sumContainers(p corev1.Pod) podTotals {
	var t podTotals
	for _, c := range p.Spec.Containers {
		if q, ok := c.Resources.Requests[corev1.ResourceCPU]; ok {
			t.cpuReq.add(q.MilliValue())
		}
		if q, ok := c.Resources.Limits[corev1.ResourceCPU]; ok {
			t.cpuLim.add(q.MilliValue())
		}
		if q, ok := c.Resources.Requests[corev1.ResourceMemory]; ok {
			t.memReq.add(q.Value())
		}
		if q, ok := c.Resources.Limits[corev1.ResourceMemory]; ok {
			t.memLim.add(q.Value())
		}
	}
	return t
}

func (t *podTotals) merge(o podTotals) {
	t.cpuReq.merge(o.cpuReq)
	t.cpuLim.merge(o.cpuLim)
	t.memReq.merge(o.memReq)
	t.memLim.merge(o.memLim)
}

func buildSnapshot(in inputs) domain.Snapshot {
	perPod := make([]podTotals, len(in.pods))
	perNode := make(map[string]*podTotals, len(in.nodes))
	podsOnNode := make(map[string]int, len(in.nodes))
	var all podTotals
	for i, p := range in.pods {
		perPod[i] = sumContainers(p)
		all.merge(perPod[i])
		if p.Spec.NodeName == "" {
			continue
		}
		podsOnNode[p.Spec.NodeName]++
		nt, ok := perNode[p.Spec.NodeName]
		if !ok {
			nt = &podTotals{}
			perNode[p.Spec.NodeName] = nt
		}
		nt.merge(perPod[i])
	}

	snap := domain.Snapshot{
		Nodes: make([]domain.NodeSnapshot, 0, len(in.nodes)),
		Pods:  make([]domain.PodSnapshot, 0, len(in.pods)),
	}
	c := &snap.Cluster
	c.NodeCount = len(in.nodes)
	c.PodCount = len(in.pods)
	c.NamespaceCount = in.namespaces
	c.KubernetesVersion = in.version

	var cpuUse, memUse, cpuAlloc, memAlloc, cpuCap, memCap total
	nodeCapacity := make(map[string]corev1.ResourceList, len(in.nodes))

	for _, n := range in.nodes {
		nodeCapacity[n.Name] = n.Status.Capacity
		status := nodeStatus(n)
		if status == domain.NodeReady {
			c.ReadyNodeCount++
		} else {
			c.NotReadyNodeCount++
		}

		var nodeCPUUse, nodeMemUse total
		if u, ok := in.nodeUsage[n.Name]; ok {
			if q, ok := u[corev1.ResourceCPU]; ok {
				nodeCPUUse.add(q.MilliValue())
			}
			if q, ok := u[corev1.ResourceMemory]; ok {
				nodeMemUse.add(q.Value())
			}
		}
		cpuUse.merge(nodeCPUUse)
		memUse.merge(nodeMemUse)

		var nodeCPUAlloc, nodeMemAlloc, nodeCPUCap, nodeMemCap total
		if q, ok := n.Status.Allocatable[corev1.ResourceCPU]; ok {
			nodeCPUAlloc.add(q.MilliValue())
		}
		if q, ok := n.Status.Allocatable[corev1.ResourceMemory]; ok {
			nodeMemAlloc.add(q.Value())
		}
		if q, ok := n.Status.Capacity[corev1.ResourceCPU]; ok {
			nodeCPUCap.add(q.MilliValue())
		}
		if q, ok := n.Status.Capacity[corev1.ResourceMemory]; ok {
			nodeMemCap.add(q.Value())
		}
		cpuAlloc.merge(nodeCPUAlloc)
		memAlloc.merge(nodeMemAlloc)
		cpuCap.merge(nodeCPUCap)
		memCap.merge(nodeMemCap)

		var pt podTotals
		if nt, ok := perNode[n.Name]; ok {
			pt = *nt
		}
		snap.Nodes = append(snap.Nodes, domain.NodeSnapshot{
			Name:              n.Name,
			Status:            status,
			Role:              nodeRole(n.Labels),
			PodCount:          podsOnNode[n.Name],
			CreationTimestamp: n.CreationTimestamp.UTC().Format(time.RFC3339),
			CPU: domain.ResourceMetric{
				Usage:       nodeCPUUse.milli(),
				Requests:    pt.cpuReq.milli(),
				Limits:      pt.cpuLim.milli(),
				Allocatable: nodeCPUAlloc.milli(),
				Capacity:    nodeCPUCap.milli(),
			},
			Memory: domain.ResourceMetric{
				Usage:       nodeMemUse.mebi(),
				Requests:    pt.memReq.mebi(),
				Limits:      pt.memLim.mebi(),
				Allocatable: nodeMemAlloc.mebi(),
				Capacity:    nodeMemCap.mebi(),
			},
		})
	}

	c.CPU = domain.ResourceMetric{
		Usage: cpuUse.milli(), Requests: all.cpuReq.milli(), Limits: all.cpuLim.milli(),
		Allocatable: cpuAlloc.milli(), Capacity: cpuCap.milli(),
	}
	c.Memory = domain.ResourceMetric{
		Usage: memUse.mebi(), Requests: all.memReq.mebi(), Limits: all.memLim.mebi(),
		Allocatable: memAlloc.mebi(), Capacity: memCap.mebi(),
	}

	for i, p := range in.pods {
		t := perPod[i]
		var cpuUsage, memUsage total
		if u, ok := in.podUsage[p.Namespace+"/"+p.Name]; ok {
			if q, ok := u[corev1.ResourceCPU]; ok {
				cpuUsage.add(q.MilliValue())
			}
			if q, ok := u[corev1.ResourceMemory]; ok {
				memUsage.add(q.Value())
			}
		}
		pod := domain.PodSnapshot{
			Namespace: p.Namespace,
			Name:      p.Name,
			Node:      p.Spec.NodeName,
			CPU:       domain.PodResource{Usage: cpuUsage.milli(), Requests: t.cpuReq.milli(), Limits: t.cpuLim.milli()},
			Memory:    domain.PodResource{Usage: memUsage.mebi(), Requests: t.memReq.mebi(), Limits: t.memLim.mebi()},
		}
		if capRL, ok := nodeCapacity[p.Spec.NodeName]; ok {
			var cpuCap, memCap total
			if q, ok := capRL[corev1.ResourceCPU]; ok {
				cpuCap.add(q.MilliValue())
			}
			if q, ok := capRL[corev1.ResourceMemory]; ok {
				memCap.add(q.Value())
			}
			pod.NodeCPUCapacity = cpuCap.milli()
			pod.NodeMemoryCapacity = memCap.mebi()
		}
		snap.Pods = append(snap.Pods, pod)
	}
	return snap
}

// nodeStatus maps the Ready condition; a node without one is NotReady.
func nodeStatus(n corev1.Node) domain.NodeStatus {
	for _, cond := range n.Status.Conditions {
		if cond.Type == corev1.NodeReady {
			if cond.Status == corev1.ConditionTrue {
				return domain.NodeReady
			}
			return domain.NodeNotReady
		}
	}
	return domain.NodeNotReady
}

func nodeRole(labels map[string]string) string {
	for _, role := range []string{"master", "control-plane", "worker"} {
		if _, ok := labels["node-role.kubernetes.io/"+role]; ok {
			return role
		}
	}
	return "worker"
}

func addResources(total, rl corev1.ResourceList) {
	for res, q := range rl {
		if cur, ok := total[res]; ok {
			cur.Add(q)
			total[res] = cur
		} else {
			total[res] = q.DeepCopy()
		}
	}
}
