package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/clock"

	"github.com/HaPhanBaoMinh/kinsight/internal/advisor"
	"github.com/HaPhanBaoMinh/kinsight/internal/domain"
	"github.com/HaPhanBaoMinh/kinsight/internal/history"
	"github.com/HaPhanBaoMinh/kinsight/internal/ui/styles"
	"github.com/HaPhanBaoMinh/kinsight/internal/ui/widgets"
)

type View int

const (
	ViewCluster View = iota
	ViewNodes
	ViewPods
)

var viewNames = map[View]string{ViewCluster: "Cluster", ViewNodes: "Nodes", ViewPods: "Pods"}

// Source is what the dashboard reads. *session.Session implements it.
type Source interface {
	Start(ctx context.Context) error
	Stop()
	Connected() bool
	Err() error
	Endpoint() string
	Cluster() (domain.ClusterSnapshot, bool)
	Nodes() []domain.NodeSnapshot
	Pods() []domain.PodSnapshot
	LastUpdate() time.Time
	History() *history.Aggregator
	PodPercent(p domain.PodSnapshot) (cpu, memory float64, ok bool)
}

type Options struct {
	AutoReconnect bool
	// StaleAfter marks the data stale when no snapshot arrived for this long.
	StaleAfter time.Duration
	Backoff    wait.Backoff
	Clock      clock.PassiveClock
}

func DefaultOptions() Options {
	return Options{
		AutoReconnect: true,
		StaleAfter:    15 * time.Second,
		Backoff:       wait.Backoff{Duration: time.Second, Factor: 2, Jitter: 0.1, Steps: 10, Cap: 30 * time.Second},
		Clock:         clock.RealClock{},
	}
}

type snapshotMsg struct{}
type streamErrMsg struct{ err error }
type connectMsg struct{ err error }
type reconnectMsg struct{}
type tickMsg struct{}

type Model struct {
	ctx    context.Context
	cancel context.CancelFunc

	src     Source
	opts    Options
	backoff *wait.Backoff

	// Namespace picker
	nsPickerOpen bool
	nsTable      table.Model
	autoCursor   bool

	view   View
	ns     string // "" is every namespace
	nsList []string
	sortBy string // "cpu"|"mem"

	table    table.Model
	infoOpen bool

	// cache of the latest snapshot, sorted and filtered for display
	cluster    domain.ClusterSnapshot
	hasCluster bool
	nodes      []domain.NodeSnapshot
	pods       []domain.PodSnapshot

	width, height int
	err           error
	retryIn       time.Duration
}

func New(src Source, opts Options) Model {
	ctx, cancel := context.WithCancel(context.Background())
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	b := opts.Backoff

	t := table.New()
	t.SetHeight(12)
	t.SetWidth(100)

	m := Model{
		ctx:     ctx,
		cancel:  cancel,
		src:     src,
		opts:    opts,
		backoff: &b,
		view:    ViewCluster,
		sortBy:  "cpu",
		table:   t,
		nsList:  []string{""},
	}

	m.nsTable = table.New()
	m.nsTable.SetColumns([]table.Column{{Title: "Namespaces", Width: 32}})
	m.nsTable.SetHeight(10)
	m.nsTable.SetWidth(36)
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.connect(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m Model) connect() tea.Cmd {
	src, ctx := m.src, m.ctx
	return func() tea.Msg {
		return connectMsg{err: src.Start(ctx)}
	}
}

// reconnect drops the current connection, if any, and dials again.
func (m Model) reconnect() tea.Cmd {
	src, ctx := m.src, m.ctx
	return func() tea.Msg {
		src.Stop()
		return connectMsg{err: src.Start(ctx)}
	}
}

// scheduleReconnect arms the next automatic attempt, if enabled.
func (m *Model) scheduleReconnect() tea.Cmd {
	if !m.opts.AutoReconnect || m.ctx.Err() != nil {
		return nil
	}
	d := m.backoff.Step()
	m.retryIn = d
	return tea.Tick(d, func(time.Time) tea.Msg { return reconnectMsg{} })
}

func (m *Model) resetBackoff() {
	*m.backoff = m.opts.Backoff
	m.retryIn = 0
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		m.rebuildTable()
		return m, nil

	case snapshotMsg:
		m.refresh()
		return m, nil

	case streamErrMsg:
		m.err = msg.err
		return m, m.scheduleReconnect()

	case connectMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, m.scheduleReconnect()
		}
		m.err = nil
		m.resetBackoff()
		return m, nil

	case reconnectMsg:
		m.retryIn = 0
		if m.src.Connected() {
			return m, nil
		}
		return m, m.connect()

	case tickMsg:
		return m, tick()

	case tea.KeyMsg:
		if m.nsPickerOpen {
			switch msg.String() {
			case "enter":
				idx := clamp(m.nsTable.Cursor(), 0, len(m.nsList)-1)
				if ns := m.nsList[idx]; ns != m.ns {
					m.ns = ns
					m.autoCursor = true
					m.infoOpen = false
					m.refresh()
				}
				m.nsPickerOpen = false
				m.nsTable.Blur()
				return m, nil
			case "esc":
				m.nsPickerOpen = false
				m.nsTable.Blur()
				return m, nil
			case "up", "k", "down", "j", "pgup", "pgdown", "home", "end":
				var cmd tea.Cmd
				m.nsTable, cmd = m.nsTable.Update(msg)
				return m, cmd
			}
			return m, nil
		}

		switch msg.String() {
		case "ctrl+c", "q":
			m.cancel()
			return m, tea.Quit

		case "tab":
			m.view = (m.view + 1) % 3
			m.infoOpen = false
			m.autoCursor = true
			m.layout()
			m.rebuildTable()
			return m, nil

		case "n":
			m.view = ViewPods
			m.nsPickerOpen = true
			m.nsTable.Focus()
			cur := 0
			for i, v := range m.nsList {
				if v == m.ns {
					cur = i
					break
				}
			}
			m.nsTable.SetCursor(cur)
			m.rebuildTable()
			return m, nil

		case "i":
			m.infoOpen = !m.infoOpen
			m.layout()
			return m, nil

		case "esc":
			if m.infoOpen {
				m.infoOpen = false
				m.layout()
			}
			return m, nil

		case "s":
			if m.sortBy == "cpu" {
				m.sortBy = "mem"
			} else {
				m.sortBy = "cpu"
			}
			m.refresh()
			return m, nil

		case "r":
			m.resetBackoff()
			return m, m.reconnect()

		case "up", "k", "down", "j", "pgup", "pgdown", "home", "end":
			var cmd tea.Cmd
			m.table, cmd = m.table.Update(msg)
			return m, cmd
		}
	}

	return m, nil
}

// refresh copies the latest state out of the source and rebuilds the table.
func (m *Model) refresh() {
	m.cluster, m.hasCluster = m.src.Cluster()
	m.nodes = m.src.Nodes()
	sortNodes(m.nodes, m.sortBy)

	pods := m.src.Pods()
	m.nsList = append([]string{""}, namespacesOf(pods)...)
	var nsRows []table.Row
	for _, ns := range m.nsList {
		nsRows = append(nsRows, table.Row{nsLabel(ns)})
	}
	m.nsTable.SetRows(nsRows)

	m.pods = filterPods(pods, m.ns)
	sortPods(m.pods, m.sortBy)

	m.rebuildTable()

	rows := len(m.table.Rows())
	cur := m.table.Cursor()
	if rows > 0 && (m.autoCursor || cur < 0 || cur >= rows) {
		m.table.SetCursor(0)
	}
	m.autoCursor = false
}

func nsLabel(ns string) string {
	if ns == "" {
		return "(all)"
	}
	return ns
}

// layout sizes the table using measured header/footer, not magic numbers.
func (m *Model) layout() {
	if m.height == 0 {
		return
	}
	headerH := lipgloss.Height(m.renderHeader())
	footerH := lipgloss.Height(styles.Footer.Render("x"))
	base := m.height - headerH - footerH - 2
	if base < 6 {
		base = 6
	}
	if m.infoOpen {
		m.table.SetHeight(int(float64(base) * 0.55))
	} else {
		m.table.SetHeight(base)
	}
	m.table.SetWidth(m.width - 4)
}

func (m *Model) rebuildTable() {
	switch m.view {
	case ViewPods:
		wPod, wNS, wCPU, wCPUP, wMem, wMemP, wNode, wAdv := podColWidths(m.table.Width())
		cols := []table.Column{
			{Title: "POD", Width: wPod},
			{Title: "NAMESPACE", Width: wNS},
			{Title: "CPU", Width: wCPU},
			{Title: "CPU%", Width: wCPUP},
			{Title: "MEM", Width: wMem},
			{Title: "MEM%", Width: wMemP},
			{Title: "NODE", Width: wNode},
			{Title: "ADVICE", Width: wAdv},
		}
		rows := make([]table.Row, 0, len(m.pods))
		for _, p := range m.pods {
			cpuP, memP, ok := m.src.PodPercent(p)
			node := p.Node
			if node == "" {
				node = "<pending>"
			}
			rows = append(rows, table.Row{
				p.Name,
				p.Namespace,
				fmtMilli(p.CPU.Usage),
				fmtPct(cpuP, ok),
				fmtMiB(p.Memory.Usage),
				fmtPct(memP, ok),
				node,
				adviceLabel(advisor.EvaluatePod(p)),
			})
		}
		m.table.SetRows(nil)
		m.table.SetColumns(cols)
		m.table.SetRows(rows)
		m.table.Focus()

	case ViewNodes:
		wNode, wStatus, wRole, wCPUP, wCPUBar, wMEMP, wMEMBar, wPods, wTrend, wAdv := nodeColWidths(m.table.Width())
		cols := []table.Column{
			{Title: "NODE", Width: wNode},
			{Title: "STATUS", Width: wStatus},
			{Title: "ROLE", Width: wRole},
			{Title: "CPU%", Width: wCPUP},
			{Title: "", Width: wCPUBar},
			{Title: "MEM%", Width: wMEMP},
			{Title: "", Width: wMEMBar},
			{Title: "PODS", Width: wPods},
			{Title: "Trend", Width: wTrend},
			{Title: "ADVICE", Width: wAdv},
		}
		h := m.src.History()
		rows := make([]table.Row, 0, len(m.nodes))
		for _, n := range m.nodes {
			cpu := history.UsagePercent(n.CPU, history.NodePrecision)
			mem := history.UsagePercent(n.Memory, history.NodePrecision)
			trend := "-"
			if s, ok := h.Node(n.Name, history.CPU); ok {
				trend = widgets.SparkPercent(history.Values(s), wTrend)
			}
			rows = append(rows, table.Row{
				n.Name,
				string(n.Status),
				n.Role,
				fmtPct(cpu, true),
				widgets.Bar(cpu/100, wCPUBar-1),
				fmtPct(mem, true),
				widgets.Bar(mem/100, wMEMBar-1),
				fmt.Sprintf("%d", n.PodCount),
				trend,
				adviceLabel(advisor.EvaluateNode(n)),
			})
		}
		m.table.SetRows(nil)
		m.table.SetColumns(cols)
		m.table.SetRows(rows)
		m.table.Focus()

	default:
		m.table.Blur()
	}
}

func (m Model) View() string {
	head := m.renderHeader()

	var body string
	if m.view == ViewCluster {
		body = lipgloss.NewStyle().Padding(0, 1).Render(m.renderCluster())
	} else {
		body = lipgloss.NewStyle().Padding(0, 1).Render(m.table.View())
	}

	info := ""
	if m.infoOpen && m.view != ViewCluster {
		info = styles.Box.Width(m.width - 2).Render(m.renderInfo())
	}

	footer := styles.Footer.Render("↑/↓ move • [Tab] switch view • [n] namespace • [i] info • [s] sort • [r] reconnect • [q] quit")

	main := lipgloss.JoinVertical(lipgloss.Left, head, body, info, footer)
	if m.nsPickerOpen {
		box := styles.Box.
			BorderForeground(lipgloss.Color("#7DCE13")).
			Width(40).Height(14)
		title := styles.Title.Render(" Filter Namespace (↑/↓, Enter, Esc) ")
		content := lipgloss.JoinVertical(lipgloss.Left, title, m.nsTable.View())
		overlay := lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box.Render(content))
		return main + "\n" + overlay
	}
	return main
}

func (m Model) renderHeader() string {
	var tabs []string
	for _, v := range []View{ViewCluster, ViewNodes, ViewPods} {
		if v == m.view {
			tabs = append(tabs, styles.TabActive.Render("["+viewNames[v]+"]"))
		} else {
			tabs = append(tabs, styles.Tab.Render(" "+viewNames[v]+" "))
		}
	}
	line := styles.Header.Render(fmt.Sprintf("kinsight │ %s  ns: %s  sort: %s  ", m.src.Endpoint(), nsLabel(m.ns), m.sortBy))
	return lipgloss.JoinVertical(lipgloss.Left,
		line+m.renderStatus(),
		strings.Join(tabs, " "),
	)
}

// renderStatus shows the connection state and how fresh the data is.
func (m Model) renderStatus() string {
	last := m.src.LastUpdate()
	age := ""
	if !last.IsZero() {
		age = " · updated " + ago(m.opts.Clock.Since(last)) + " ago"
	}

	if !m.src.Connected() {
		s := "○ disconnected"
		if m.err != nil {
			s += ": " + m.err.Error()
		}
		if m.retryIn > 0 {
			s += fmt.Sprintf(" · retry in %s", m.retryIn.Round(time.Second))
		}
		return styles.Danger.Render(s + age)
	}
	if last.IsZero() {
		return styles.Faint.Render("● waiting for data")
	}
	if m.opts.StaleAfter > 0 && m.opts.Clock.Since(last) > m.opts.StaleAfter {
		return styles.Warn.Render("● stale" + age)
	}
	return styles.Good.Render("● live" + age)
}

func (m Model) renderCluster() string {
	if !m.hasCluster {
		return styles.Faint.Render("No data yet.")
	}
	c := m.cluster
	var b strings.Builder
	fmt.Fprintf(&b, "Nodes: %d (Ready %d / NotReady %d)  Pods: %d  Namespaces: %d  Kubernetes: %s\n\n",
		c.NodeCount, c.ReadyNodeCount, c.NotReadyNodeCount, c.PodCount, c.NamespaceCount, c.KubernetesVersion)

	h := m.src.History()
	for _, d := range []struct {
		dim    history.Dimension
		label  string
		metric domain.ResourceMetric
	}{
		{history.CPU, "CPU", c.CPU},
		{history.Memory, "Memory", c.Memory},
	} {
		pct := history.UsagePercent(d.metric, history.ClusterPrecision)
		total, hasTotal := d.metric.Total()
		fmt.Fprintf(&b, "%-7s %s  %s of %s\n", d.label,
			styles.ForPercent(pct).Render(widgets.Gauge(pct, 30)),
			fmtQty(d.dim, d.metric.Usage), fmtQty(d.dim, capacityOf(d.metric)))

		for _, f := range []struct {
			field advisor.Field
			name  string
			v     *int64
		}{
			{advisor.FieldRequests, "requests", d.metric.Requests},
			{advisor.FieldLimits, "limits", d.metric.Limits},
		} {
			line := fmt.Sprintf("        %-8s %-8s", f.name, fmtQty(d.dim, f.v))
			if lo, hi, ok := advisor.RecommendedRange(f.field, total); ok && hasTotal {
				pct := history.PercentOf(float64(value(f.v)), float64(total), history.ClusterPrecision)
				line += fmt.Sprintf(" [%s] %6.2f%%  recommended %s-%s",
					widgets.RangeBar(pct, lo/float64(total)*100, hi/float64(total)*100, 150, 30), pct,
					fmtQty(d.dim, ptrTo(int64(lo))), fmtQty(d.dim, ptrTo(int64(hi))))
			}
			b.WriteString(line + "\n")
		}

		samples := h.Cluster(d.dim)
		trend := make([]float64, len(samples))
		for i, s := range samples {
			trend[i] = history.UsagePercent(s.Value, history.ClusterPrecision)
		}
		fmt.Fprintf(&b, "        trend    %s\n\n", widgets.SparkPercent(trend, history.DefaultSize))
	}

	b.WriteString(renderRecommendations(advisor.EvaluateCluster(c)))
	return b.String()
}

func (m Model) renderInfo() string {
	i := m.table.Cursor()
	switch m.view {
	case ViewPods:
		if len(m.pods) == 0 {
			return "No pods"
		}
		p := m.pods[clamp(i, 0, len(m.pods)-1)]
		cpuP, memP, ok := m.src.PodPercent(p)
		return fmt.Sprintf(
			"Pod: %s  ns: %s  node: %s\n"+
				"CPU:    usage %s (%s of node)  requests %s  limits %s  node capacity %s\n"+
				"Memory: usage %s (%s of node)  requests %s  limits %s  node capacity %s\n\n%s",
			p.Name, p.Namespace, p.Node,
			fmtMilli(p.CPU.Usage), fmtPct(cpuP, ok), fmtMilli(p.CPU.Requests), fmtMilli(p.CPU.Limits), fmtMilli(p.NodeCPUCapacity),
			fmtMiB(p.Memory.Usage), fmtPct(memP, ok), fmtMiB(p.Memory.Requests), fmtMiB(p.Memory.Limits), fmtMiB(p.NodeMemoryCapacity),
			renderRecommendations(advisor.EvaluatePod(p)),
		)

	case ViewNodes:
		if len(m.nodes) == 0 {
			return "No nodes"
		}
		n := m.nodes[clamp(i, 0, len(m.nodes)-1)]
		h := m.src.History()
		cpuTrend, _ := h.Node(n.Name, history.CPU)
		memTrend, _ := h.Node(n.Name, history.Memory)
		return fmt.Sprintf(
			"Node: %s  %s  role: %s  pods: %d  created: %s\n"+
				"CPU:    usage %s  requests %s  limits %s  allocatable %s  capacity %s\n"+
				"Memory: usage %s  requests %s  limits %s  allocatable %s  capacity %s\n"+
				"CPU%%: %s\nMEM%%: %s\n\n%s",
			n.Name, n.Status, n.Role, n.PodCount, n.CreationTimestamp,
			fmtMilli(n.CPU.Usage), fmtMilli(n.CPU.Requests), fmtMilli(n.CPU.Limits), fmtMilli(n.CPU.Allocatable), fmtMilli(n.CPU.Capacity),
			fmtMiB(n.Memory.Usage), fmtMiB(n.Memory.Requests), fmtMiB(n.Memory.Limits), fmtMiB(n.Memory.Allocatable), fmtMiB(n.Memory.Capacity),
			widgets.SparkPercent(history.Values(cpuTrend), 40),
			widgets.SparkPercent(history.Values(memTrend), 40),
			renderRecommendations(advisor.EvaluateNode(n)),
		)
	}
	return ""
}

func renderRecommendations(recs []advisor.Recommendation) string {
	if len(recs) == 0 {
		return styles.Good.Render("Within policy: no recommendations.")
	}
	var b strings.Builder
	b.WriteString(styles.Title.Render("Recommendations"))
	for _, r := range recs {
		b.WriteString("\n  ")
		b.WriteString(styles.ForSeverity(r.Severity).Render(fmt.Sprintf("● %-8s", r.Severity)))
		b.WriteString(" " + r.Message)
	}
	return b.String()
}

func capacityOf(r domain.ResourceMetric) *int64 {
	if v, ok := r.Total(); ok {
		return &v
	}
	return nil
}

func ptrTo(v int64) *int64 { return &v }
