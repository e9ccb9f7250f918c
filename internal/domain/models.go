package domain

import (
	"encoding/json"
	"fmt"
)

// ResourceMetric is one resource dimension of a cluster or node.
// CPU values are milli-cores, memory values are MiB. A nil field was not
// reported (or not configured), which is different from an explicit 0.
type ResourceMetric struct {
	Usage       *int64 `json:"usage"`
	Requests    *int64 `json:"requests"`
	Limits      *int64 `json:"limits"`
	Allocatable *int64 `json:"allocatable,omitempty"`
	Capacity    *int64 `json:"capacity"`
}

// Total returns the capacity used for percentages: capacity when reported,
// allocatable otherwise. ok is false when neither is known.
func (r ResourceMetric) Total() (v int64, ok bool) {
	if r.Capacity != nil {
		return *r.Capacity, true
	}
	if r.Allocatable != nil {
		return *r.Allocatable, true
	}
	return 0, false
}

// PodResource is the pod-level view of a dimension: pods carry no capacity.
type PodResource struct {
	Usage    *int64 `json:"usage"`
	Requests *int64 `json:"requests"`
	Limits   *int64 `json:"limits"`
}

type NodeStatus string

const (
	NodeReady    NodeStatus = "Ready"
	NodeNotReady NodeStatus = "NotReady"
)

// UnmarshalJSON folds anything that is not "Ready" into NotReady.
func (s *NodeStatus) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw == string(NodeReady) {
		*s = NodeReady
	} else {
		*s = NodeNotReady
	}
	return nil
}

type ClusterSnapshot struct {
	CPU               ResourceMetric `json:"cpu"`
	Memory            ResourceMetric `json:"memory"`
	NodeCount         int            `json:"nodeCount"`
	ReadyNodeCount    int            `json:"readyNodeCount"`
	NotReadyNodeCount int            `json:"notReadyNodeCount"`
	PodCount          int            `json:"podCount"`
	NamespaceCount    int            `json:"namespaceCount"`
	KubernetesVersion string         `json:"kubernetesVersion"`
}

type NodeSnapshot struct {
	Name              string         `json:"name"`
	Status            NodeStatus     `json:"status"`
	Role              string         `json:"role"`
	PodCount          int            `json:"podCount"`
	CPU               ResourceMetric `json:"cpu"`
	Memory            ResourceMetric `json:"memory"`
	CreationTimestamp string         `json:"creationTimestamp"`
}

type PodSnapshot struct {
	Namespace          string      `json:"namespace"`
	Name               string      `json:"name"`
	Node               string      `json:"node"`
	CPU                PodResource `json:"cpu"`
	Memory             PodResource `json:"memory"`
	NodeCPUCapacity    *int64      `json:"nodeCpuCapacity"`
	NodeMemoryCapacity *int64      `json:"nodeMemoryCapacity"`
}

// Key is the composite identity of a pod.
func (p PodSnapshot) Key() string { return p.Namespace + "/" + p.Name }

// Snapshot is one complete state push. It fully replaces the previous one.
type Snapshot struct {
	Cluster ClusterSnapshot `json:"cluster"`
	Nodes   []NodeSnapshot  `json:"nodes"`
	Pods    []PodSnapshot   `json:"pods"`
}

// NodeByName indexes the node list; pods reference nodes by name.
func (s Snapshot) NodeByName() map[string]NodeSnapshot {
	out := make(map[string]NodeSnapshot, len(s.Nodes))
	for _, n := range s.Nodes {
		out[n.Name] = n
	}
	return out
}

// wireSnapshot uses pointers so a missing top-level key can be told apart
// from an empty one.
type wireSnapshot struct {
	Cluster *ClusterSnapshot `json:"cluster"`
	Nodes   *[]NodeSnapshot  `json:"nodes"`
	Pods    *[]PodSnapshot   `json:"pods"`
}

// DecodeSnapshot parses one stream payload. Readiness counts are not
// cross-checked against nodeCount.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var w wireSnapshot
	if err := json.Unmarshal(data, &w); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if w.Cluster == nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: missing cluster")
	}
	s := Snapshot{Cluster: *w.Cluster}
	if w.Nodes != nil {
		s.Nodes = *w.Nodes
	}
	if w.Pods != nil {
		s.Pods = *w.Pods
	}
	if err := s.Validate(); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, nil
}

// Validate rejects negative quantities and nodes or pods without a name.
func (s Snapshot) Validate() error {
	if err := s.Cluster.CPU.validate("cluster cpu"); err != nil {
		return err
	}
	if err := s.Cluster.Memory.validate("cluster memory"); err != nil {
		return err
	}
	for _, n := range s.Nodes {
		if n.Name == "" {
			return fmt.Errorf("node without name")
		}
		if err := n.CPU.validate("node " + n.Name + " cpu"); err != nil {
			return err
		}
		if err := n.Memory.validate("node " + n.Name + " memory"); err != nil {
			return err
		}
	}
	for _, p := range s.Pods {
		if p.Name == "" {
			return fmt.Errorf("pod without name in namespace %q", p.Namespace)
		}
		for field, v := range map[string]*int64{
			"cpu usage": p.CPU.Usage, "cpu requests": p.CPU.Requests, "cpu limits": p.CPU.Limits,
			"memory usage": p.Memory.Usage, "memory requests": p.Memory.Requests, "memory limits": p.Memory.Limits,
			"nodeCpuCapacity": p.NodeCPUCapacity, "nodeMemoryCapacity": p.NodeMemoryCapacity,
		} {
			if v != nil && *v < 0 {
				return fmt.Errorf("pod %s: negative %s", p.Key(), field)
			}
		}
	}
	return nil
}

func (r ResourceMetric) validate(what string) error {
	for field, v := range map[string]*int64{
		"usage": r.Usage, "requests": r.Requests, "limits": r.Limits,
		"allocatable": r.Allocatable, "capacity": r.Capacity,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s: negative %s", what, field)
		}
	}
	return nil
}
