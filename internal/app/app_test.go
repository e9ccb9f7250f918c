package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/util/wait"
	testingclock "k8s.io/utils/clock/testing"
	"k8s.io/utils/ptr"

	"github.com/HaPhanBaoMinh/kinsight/internal/domain"
	"github.com/HaPhanBaoMinh/kinsight/internal/history"
	"github.com/HaPhanBaoMinh/kinsight/internal/stream"
)

type fakeSource struct {
	mu        sync.Mutex
	clock     *testingclock.FakeClock
	snap      domain.Snapshot
	has       bool
	last      time.Time
	connected bool
	startErr  error
	starts    int
	stops     int
	hist      *history.Aggregator
}

func newFakeSource(clk *testingclock.FakeClock) *fakeSource {
	return &fakeSource{clock: clk, hist: history.NewAggregator(clk, history.DefaultSize)}
}

func (f *fakeSource) push(s domain.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap, f.has, f.last = s, true, f.clock.Now()
	f.hist.Observe(s)
}

func (f *fakeSource) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	f.connected = f.startErr == nil
	return f.startErr
}

func (f *fakeSource) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.connected = false
}

func (f *fakeSource) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeSource) Err() error       { return nil }
func (f *fakeSource) Endpoint() string { return "http://test/api/overview/stream" }

func (f *fakeSource) Cluster() (domain.ClusterSnapshot, bool) { return f.snap.Cluster, f.has }
func (f *fakeSource) Nodes() []domain.NodeSnapshot {
	return append([]domain.NodeSnapshot(nil), f.snap.Nodes...)
}
func (f *fakeSource) Pods() []domain.PodSnapshot {
	return append([]domain.PodSnapshot(nil), f.snap.Pods...)
}
func (f *fakeSource) LastUpdate() time.Time         { return f.last }
func (f *fakeSource) History() *history.Aggregator { return f.hist }

func (f *fakeSource) PodPercent(p domain.PodSnapshot) (float64, float64, bool) {
	n, ok := f.snap.NodeByName()[p.Node]
	if !ok {
		return 0, 0, false
	}
	total, _ := n.CPU.Total()
	return history.PercentOf(float64(*p.CPU.Usage), float64(total), history.NodePrecision), 0, true
}

func testSnapshot() domain.Snapshot {
	return domain.Snapshot{
		Cluster: domain.ClusterSnapshot{
			NodeCount: 2, ReadyNodeCount: 1, NotReadyNodeCount: 1, PodCount: 3, NamespaceCount: 2,
			KubernetesVersion: "v1.29.4",
			CPU: domain.ResourceMetric{
				Usage: ptr.To[int64](3000), Requests: ptr.To[int64](3000), Limits: ptr.To[int64](4000),
				Capacity: ptr.To[int64](4000),
			},
			Memory: domain.ResourceMetric{
				Usage: ptr.To[int64](2048), Requests: ptr.To[int64](2000), Limits: ptr.To[int64](4096),
				Capacity: ptr.To[int64](8192),
			},
		},
		Nodes: []domain.NodeSnapshot{
			{Name: "small", Status: domain.NodeReady, Role: "worker",
				CPU:    domain.ResourceMetric{Usage: ptr.To[int64](500), Capacity: ptr.To[int64](2000)},
				Memory: domain.ResourceMetric{Usage: ptr.To[int64](1024), Capacity: ptr.To[int64](4096)}},
			{Name: "busy", Status: domain.NodeNotReady, Role: "control-plane",
				CPU:    domain.ResourceMetric{Usage: ptr.To[int64](1900), Capacity: ptr.To[int64](2000)},
				Memory: domain.ResourceMetric{Usage: ptr.To[int64](512), Capacity: ptr.To[int64](4096)}},
		},
		Pods: []domain.PodSnapshot{
			{Namespace: "default", Name: "api", Node: "small",
				CPU:    domain.PodResource{Usage: ptr.To[int64](200), Requests: ptr.To[int64](100), Limits: ptr.To[int64](500)},
				Memory: domain.PodResource{Usage: ptr.To[int64](100), Requests: ptr.To[int64](128), Limits: ptr.To[int64](256)}},
			{Namespace: "kube-system", Name: "dns", Node: "busy",
				CPU:    domain.PodResource{Usage: ptr.To[int64](50)},
				Memory: domain.PodResource{Usage: ptr.To[int64](300)}},
			{Namespace: "default", Name: "ghost", Node: "gone",
				CPU:    domain.PodResource{Usage: ptr.To[int64](10)},
				Memory: domain.PodResource{Usage: ptr.To[int64](10)}},
		},
	}
}

func testOptions(clk *testingclock.FakeClock) Options {
	opts := DefaultOptions()
	opts.Clock = clk
	opts.Backoff = wait.Backoff{Duration: time.Second, Factor: 2, Steps: 10, Cap: 5 * time.Second}
	return opts
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(Model)
	require.True(t, ok)
	return nm, cmd
}

func key(s string) tea.KeyMsg {
	switch s {
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func newModel(t *testing.T) (Model, *fakeSource, *testingclock.FakeClock) {
	t.Helper()
	clk := testingclock.NewFakeClock(time.Unix(1700000000, 0))
	src := newFakeSource(clk)
	m := New(src, testOptions(clk))
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 160, Height: 40})
	return m, src, clk
}

func TestClusterViewShowsGaugesAndAdvice(t *testing.T) {
	m, src, _ := newModel(t)
	assert.Contains(t, m.View(), "No data yet.")

	src.connected = true
	src.push(testSnapshot())
	m, _ = update(t, m, snapshotMsg{})

	out := m.View()
	assert.Contains(t, out, "Nodes: 2 (Ready 1 / NotReady 1)")
	assert.Contains(t, out, "Kubernetes: v1.29.4")
	assert.Contains(t, out, "75.00%", "cluster CPU gauge")
	assert.Contains(t, out, "25.00%", "cluster memory gauge")
	assert.Contains(t, out, "recommended 2400m-2800m")
	assert.Contains(t, out, "CPU requests exceed 70% of capacity")
	assert.Contains(t, out, "● live")
}

func TestNodesViewSortsAndToggles(t *testing.T) {
	m, src, _ := newModel(t)
	src.push(testSnapshot())
	m, _ = update(t, m, snapshotMsg{})

	m, _ = update(t, m, key("tab"))
	require.Equal(t, ViewNodes, m.view)
	rows := m.table.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, "busy", rows[0][0], "highest CPU first")
	assert.Equal(t, "95.0%", rows[0][3])
	assert.Equal(t, "CRIT", rows[0][9], "no requests declared")

	m, _ = update(t, m, key("s"))
	assert.Equal(t, "mem", m.sortBy)
	assert.Equal(t, "small", m.table.Rows()[0][0])

	m, _ = update(t, m, key("i"))
	assert.Contains(t, m.View(), "Node: small")
}

func TestPodsViewPercentAndNamespaceFilter(t *testing.T) {
	m, src, _ := newModel(t)
	src.push(testSnapshot())
	m, _ = update(t, m, snapshotMsg{})
	m, _ = update(t, m, key("tab"))
	m, _ = update(t, m, key("tab"))
	require.Equal(t, ViewPods, m.view)

	byName := map[string][]string{}
	for _, r := range m.table.Rows() {
		byName[r[0]] = r
	}
	require.Len(t, byName, 3)
	assert.Equal(t, "10.0%", byName["api"][3])
	assert.Equal(t, "CRIT", byName["api"][7], "usage above request")
	assert.Equal(t, "-", byName["ghost"][3], "unknown node renders a dash")

	assert.Equal(t, []string{"", "default", "kube-system"}, m.nsList)
	m, _ = update(t, m, key("n"))
	require.True(t, m.nsPickerOpen)
	m, _ = update(t, m, key("down"))
	m, _ = update(t, m, key("down"))
	m, _ = update(t, m, key("enter"))
	assert.False(t, m.nsPickerOpen)
	assert.Equal(t, "kube-system", m.ns)
	rows := m.table.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, "dns", rows[0][0])
}

func TestAutomaticReconnectBacksOff(t *testing.T) {
	m, src, _ := newModel(t)

	m, cmd := update(t, m, streamErrMsg{err: stream.ErrStreamEnded})
	require.NotNil(t, cmd)
	assert.Equal(t, time.Second, m.retryIn)
	assert.Contains(t, m.View(), "retry in 1s")

	src.startErr = errors.New("connection refused")
	m, cmd = update(t, m, reconnectMsg{})
	require.NotNil(t, cmd)
	m, cmd = update(t, m, cmd())
	require.NotNil(t, cmd)
	assert.Equal(t, 2*time.Second, m.retryIn)
	assert.Contains(t, m.View(), "connection refused")

	src.startErr = nil
	m, cmd = update(t, m, reconnectMsg{})
	m, _ = update(t, m, cmd())
	assert.NoError(t, m.err)
	assert.Zero(t, m.retryIn)
	assert.Equal(t, 2, src.starts)

	m, _ = update(t, m, streamErrMsg{err: stream.ErrStreamEnded})
	assert.Equal(t, time.Second, m.retryIn, "backoff resets after a successful connect")
}

func TestReconnectDisabled(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Unix(0, 0))
	opts := testOptions(clk)
	opts.AutoReconnect = false
	m := New(newFakeSource(clk), opts)

	m, cmd := update(t, m, streamErrMsg{err: stream.ErrStreamEnded})
	assert.Nil(t, cmd)
	assert.Zero(t, m.retryIn)
}

func TestManualReconnect(t *testing.T) {
	m, src, _ := newModel(t)
	src.connected = true

	_, cmd := update(t, m, key("r"))
	require.NotNil(t, cmd)
	msg := cmd()
	assert.Equal(t, connectMsg{}, msg)
	assert.Equal(t, 1, src.stops)
	assert.Equal(t, 1, src.starts)
}

func TestStaleIndicator(t *testing.T) {
	m, src, clk := newModel(t)
	src.connected = true
	src.push(testSnapshot())
	m, _ = update(t, m, snapshotMsg{})
	assert.Contains(t, m.renderStatus(), "live · updated 0s ago")

	clk.Step(20 * time.Second)
	assert.True(t, strings.Contains(m.renderStatus(), "stale · updated 20s ago"))
}

func TestListenerForwards(t *testing.T) {
	var got []tea.Msg
	l := Listener(func(msg tea.Msg) { got = append(got, msg) })
	l.OnSnapshot(domain.Snapshot{})
	l.OnError(stream.ErrFeedClosed)
	l.OnError(stream.ErrStreamEnded)

	require.Len(t, got, 2)
	assert.Equal(t, snapshotMsg{}, got[0])
	assert.Equal(t, streamErrMsg{err: stream.ErrStreamEnded}, got[1])
}

func TestQuitCancels(t *testing.T) {
	m, _, _ := newModel(t)
	m, cmd := update(t, m, key("q"))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())
	assert.Error(t, m.ctx.Err())
}
