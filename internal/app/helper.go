package app

import (
	"fmt"
	"sort"
	"time"

	"github.com/HaPhanBaoMinh/kinsight/internal/advisor"
	"github.com/HaPhanBaoMinh/kinsight/internal/domain"
	"github.com/HaPhanBaoMinh/kinsight/internal/history"
)

// clamp clamps v into [min, max].
func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// compute dynamic widths for Pods table based on available total width
func podColWidths(total int) (wPod, wNS, wCPU, wCPUP, wMem, wMemP, wNode, wAdv int) {
	minPod, minNS, minNum, minPct, minNode, minAdv := 24, 12, 8, 7, 12, 6

	base := minPod + minNS + 2*minNum + 2*minPct + minNode + minAdv
	remain := total - base
	if remain < 0 {
		remain = 0
	}

	// favor pod name, then node
	wPod = clamp(minPod+remain*2/3, 16, 64)
	wNode = clamp(minNode+remain/3, 10, 30)
	wNS = minNS
	wCPU, wMem = minNum, minNum
	wCPUP, wMemP = minPct, minPct
	wAdv = minAdv
	return
}

// compute dynamic widths for Nodes table based on available total width
func nodeColWidths(total int) (wNode, wStatus, wRole, wCPUP, wCPUBar, wMEMP, wMEMBar, wPods, wTrend, wAdv int) {
	minNode, minStatus, minRole, minPct, minPods, minTrend, minAdv := 16, 9, 13, 7, 5, 12, 6
	base := minNode + minStatus + minRole + 2*minPct + minPods + minTrend + minAdv
	remain := total - base
	if remain < 8 {
		remain = 8
	}

	wCPUBar = remain / 2
	wMEMBar = remain - wCPUBar

	wNode = minNode
	wStatus = minStatus
	wRole = minRole
	wCPUP = minPct
	wMEMP = minPct
	wPods = minPods
	wTrend = minTrend
	wAdv = minAdv

	// clamps
	wCPUBar = clamp(wCPUBar, 4, 30)
	wMEMBar = clamp(wMEMBar, 4, 30)
	wNode = clamp(wNode, 12, 40)
	return
}

func fmtMilli(v *int64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%dm", *v)
}

// fmtMiB shows MiB, switching to GiB from 1024 up.
func fmtMiB(v *int64) string {
	if v == nil {
		return "-"
	}
	if *v >= 1024 {
		return fmt.Sprintf("%.1fGi", float64(*v)/1024)
	}
	return fmt.Sprintf("%dMi", *v)
}

func fmtQty(dim history.Dimension, v *int64) string {
	if dim == history.Memory {
		return fmtMiB(v)
	}
	return fmtMilli(v)
}

func fmtPct(p float64, ok bool) string {
	if !ok {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", p)
}

func value(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

// adviceLabel is the plain-text table cell for the worst recommendation.
func adviceLabel(recs []advisor.Recommendation) string {
	sev, ok := advisor.Highest(recs)
	if !ok {
		return "ok"
	}
	switch sev {
	case advisor.Critical:
		return "CRIT"
	case advisor.Warning:
		return "WARN"
	default:
		return "info"
	}
}

// sortPods orders by usage, highest first; name breaks ties.
func sortPods(p []domain.PodSnapshot, by string) {
	sort.SliceStable(p, func(i, j int) bool {
		a, b := value(p[i].CPU.Usage), value(p[j].CPU.Usage)
		if by == "mem" {
			a, b = value(p[i].Memory.Usage), value(p[j].Memory.Usage)
		}
		if a != b {
			return a > b
		}
		return p[i].Key() < p[j].Key()
	})
}

func sortNodes(n []domain.NodeSnapshot, by string) {
	sort.SliceStable(n, func(i, j int) bool {
		a := history.UsagePercent(n[i].CPU, history.NodePrecision)
		b := history.UsagePercent(n[j].CPU, history.NodePrecision)
		if by == "mem" {
			a = history.UsagePercent(n[i].Memory, history.NodePrecision)
			b = history.UsagePercent(n[j].Memory, history.NodePrecision)
		}
		if a != b {
			return a > b
		}
		return n[i].Name < n[j].Name
	})
}

// namespacesOf lists the distinct namespaces of pods, sorted.
func namespacesOf(pods []domain.PodSnapshot) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, p := range pods {
		if _, ok := seen[p.Namespace]; ok {
			continue
		}
		seen[p.Namespace] = struct{}{}
		out = append(out, p.Namespace)
	}
	sort.Strings(out)
	return out
}

func filterPods(pods []domain.PodSnapshot, ns string) []domain.PodSnapshot {
	if ns == "" {
		return pods
	}
	out := pods[:0:0]
	for _, p := range pods {
		if p.Namespace == ns {
			out = append(out, p)
		}
	}
	return out
}

// ago renders an age in whole seconds, minutes or hours.
func ago(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
}
