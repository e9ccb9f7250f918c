// Package advisor evaluates requests, limits and usage against fixed
// thresholds and produces severity-tagged recommendations. Every function is
// pure: it holds no state and may be called from any goroutine.
package advisor

import (
	"fmt"

	"github.com/HaPhanBaoMinh/kinsight/internal/domain"
	"github.com/HaPhanBaoMinh/kinsight/internal/history"
)

type Severity int

const (
	Info Severity = iota
	Warning
	Critical
)

func (s Severity) String() string {
	switch s {
	case Critical:
		return "critical"
	case Warning:
		return "warning"
	default:
		return "info"
	}
}

// Rule names the check that produced a recommendation.
type Rule string

const (
	RuleMissingRequest     Rule = "missing-request"
	RuleMissingLimit       Rule = "missing-limit"
	RuleRequestTooLow      Rule = "request-too-low"
	RuleRequestTooHigh     Rule = "request-too-high"
	RuleLimitOverCapacity  Rule = "limit-over-capacity"
	RuleRequestAboveLimit  Rule = "request-above-limit"
	RuleSchedulingPressure Rule = "scheduling-pressure"
	RuleCapacityExhaustion Rule = "capacity-exhaustion"
)

type Recommendation struct {
	Dimension history.Dimension
	Rule      Rule
	Severity  Severity
	Message   string
}

// Resource is the part of a metric the rules look at. Nil means not
// configured.
type Resource struct {
	Usage    *int64
	Requests *int64
	Limits   *int64
}

func FromPod(r domain.PodResource) Resource {
	return Resource{Usage: r.Usage, Requests: r.Requests, Limits: r.Limits}
}

func FromMetric(r domain.ResourceMetric) Resource {
	return Resource{Usage: r.Usage, Requests: r.Requests, Limits: r.Limits}
}

// Evaluate runs the per-dimension rules in a fixed order. capacityHint may
// be nil; a non-positive hint is treated as absent.
func Evaluate(dim history.Dimension, r Resource, capacityHint *int64) []Recommendation {
	var out []Recommendation
	add := func(rule Rule, sev Severity, format string, args ...any) {
		out = append(out, Recommendation{Dimension: dim, Rule: rule, Severity: sev, Message: fmt.Sprintf(format, args...)})
	}
	label, unit := labelOf(dim)

	requests, hasRequests := positive(r.Requests)
	limits, hasLimits := positive(r.Limits)
	usage, hasUsage := positive(r.Usage)
	hint, hasHint := positive(capacityHint)

	if !hasRequests {
		add(RuleMissingRequest, Critical, "Set a %s request.", label)
	}
	if !hasLimits {
		add(RuleMissingLimit, Critical, "Set a %s limit.", label)
	}

	raised := false
	if hasRequests && hasUsage {
		// usage > requests*1.1 and requests > usage*2 cannot both hold.
		if usage*10 > requests*11 {
			raised = true
			add(RuleRequestTooLow, Critical, "Raise the %s request to %d%s.", label, ceilMul(usage, 6, 5), unit)
		} else if requests > usage*2 {
			add(RuleRequestTooHigh, Warning, "Lower the %s request toward %d%s.", label, ceilMul(usage, 3, 2), unit)
		}
	}

	if hasHint && hasLimits && limits > hint*2 {
		add(RuleLimitOverCapacity, Warning, "Cap the %s limit near %d%s (node capacity).", label, hint, unit)
	}

	if !raised && hasRequests && hasLimits && requests > limits {
		add(RuleRequestAboveLimit, Critical, "Lower the %s request to at most %d%s (the limit).", label, limits, unit)
	}
	return out
}

// EvaluatePod checks CPU then memory, each against the owning node's
// capacity.
func EvaluatePod(p domain.PodSnapshot) []Recommendation {
	out := Evaluate(history.CPU, FromPod(p.CPU), p.NodeCPUCapacity)
	return append(out, Evaluate(history.Memory, FromPod(p.Memory), p.NodeMemoryCapacity)...)
}

// EvaluateAggregate checks a cluster or node dimension. The aggregate's
// own capacity serves as the hint, and two pressure checks are added.
func EvaluateAggregate(dim history.Dimension, m domain.ResourceMetric) []Recommendation {
	var hint *int64
	total, hasTotal := m.Total()
	if hasTotal {
		hint = &total
	}
	out := Evaluate(dim, FromMetric(m), hint)
	if !hasTotal || total <= 0 {
		return out
	}
	label, _ := labelOf(dim)
	if requests, ok := positive(m.Requests); ok && requests*10 > total*7 {
		out = append(out, Recommendation{
			Dimension: dim, Rule: RuleSchedulingPressure, Severity: Warning,
			Message: fmt.Sprintf("%s requests exceed 70%% of capacity; new pods may fail to schedule.", label),
		})
	}
	if history.UsagePercent(m, history.ClusterPrecision) > 90 {
		out = append(out, Recommendation{
			Dimension: dim, Rule: RuleCapacityExhaustion, Severity: Warning,
			Message: fmt.Sprintf("%s usage exceeds 90%% of capacity; the resource may run out.", label),
		})
	}
	return out
}

// EvaluateNode checks both dimensions of a node.
func EvaluateNode(n domain.NodeSnapshot) []Recommendation {
	out := EvaluateAggregate(history.CPU, n.CPU)
	return append(out, EvaluateAggregate(history.Memory, n.Memory)...)
}

// EvaluateCluster checks both dimensions of the cluster aggregate.
func EvaluateCluster(c domain.ClusterSnapshot) []Recommendation {
	out := EvaluateAggregate(history.CPU, c.CPU)
	return append(out, EvaluateAggregate(history.Memory, c.Memory)...)
}

type Field string

const (
	FieldRequests Field = "requests"
	FieldLimits   Field = "limits"
)

// RecommendedRange is the advisory band for an aggregate's requests
// (60-70% of capacity) or limits (100-120%).
func RecommendedRange(field Field, capacity int64) (min, max float64, ok bool) {
	if capacity <= 0 {
		return 0, 0, false
	}
	c := float64(capacity)
	switch field {
	case FieldRequests:
		return c * 0.6, c * 0.7, true
	case FieldLimits:
		return c, c * 1.2, true
	}
	return 0, 0, false
}

// Highest returns the most severe level in recs; ok is false when empty.
func Highest(recs []Recommendation) (sev Severity, ok bool) {
	for i, r := range recs {
		if i == 0 || r.Severity > sev {
			sev = r.Severity
		}
	}
	return sev, len(recs) > 0
}

func labelOf(dim history.Dimension) (label, unit string) {
	if dim == history.Memory {
		return "Memory", "MiB"
	}
	return "CPU", "m"
}

func positive(v *int64) (int64, bool) {
	if v == nil || *v <= 0 {
		return 0, false
	}
	return *v, true
}

// ceilMul is ceil(v*num/den) for non-negative v.
func ceilMul(v, num, den int64) int64 {
	return (v*num + den - 1) / den
}
