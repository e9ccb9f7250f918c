package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
	"k8s.io/utils/ptr"

	"github.com/HaPhanBaoMinh/kinsight/internal/domain"
	"github.com/HaPhanBaoMinh/kinsight/internal/history"
	"github.com/HaPhanBaoMinh/kinsight/internal/stream"
)

const payload = `{"cluster":{"cpu":{"usage":500,"capacity":2000},"memory":{"usage":1024,"capacity":4096},"nodeCount":1,"readyNodeCount":1},
"nodes":[{"name":"n1","status":"Ready","cpu":{"usage":500,"capacity":2000},"memory":{"usage":1024,"capacity":4096}}],
"pods":[{"namespace":"default","name":"api","node":"n1","cpu":{"usage":200},"memory":{"usage":512}},
        {"namespace":"default","name":"orphan","node":"gone","cpu":{"usage":1},"memory":{"usage":1}}]}`

// streamServer sends count snapshots on every connection, then either
// hangs up or waits for the client to leave.
func streamServer(t *testing.T, count int, hold bool) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conns.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		for i := 0; i < count; i++ {
			assert.NoError(t, stream.WriteEvent(w, stream.EventMessage, []byte(payload)))
		}
		w.(http.Flusher).Flush()
		if hold {
			<-r.Context().Done()
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &conns
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish")
	}
}

func TestSessionIngestsUntilServerHangsUp(t *testing.T) {
	srv, _ := streamServer(t, 3, false)
	clk := testingclock.NewFakeClock(time.Unix(1700000000, 0))
	s := New(srv.URL, WithClock(clk))

	var viewed atomic.Int32
	var ended atomic.Value
	s.Subscribe(domain.ListenerFuncs{
		Snapshot: func(domain.Snapshot) {
			_, ok := s.Cluster()
			assert.True(t, ok, "store is updated before view listeners run")
			viewed.Add(1)
		},
		Error: func(err error) { ended.Store(err) },
	})

	_, ok := s.Cluster()
	assert.False(t, ok)

	require.NoError(t, s.Start(context.Background()))
	waitDone(t, s)

	assert.Equal(t, int32(3), viewed.Load())
	assert.ErrorIs(t, ended.Load().(error), stream.ErrStreamEnded)
	assert.ErrorIs(t, s.Err(), stream.ErrStreamEnded)
	assert.False(t, s.Connected())

	c, ok := s.Cluster()
	require.True(t, ok)
	assert.Equal(t, 1, c.NodeCount)
	assert.Len(t, s.Nodes(), 1)
	assert.Len(t, s.Pods(), 2)
	assert.Equal(t, clk.Now(), s.LastUpdate())

	assert.Len(t, s.History().Cluster(history.CPU), 3)
	n1, ok := s.History().Node("n1", history.CPU)
	require.True(t, ok)
	assert.Equal(t, []float64{25, 25, 25}, history.Values(n1))
}

func TestSessionPodPercent(t *testing.T) {
	srv, _ := streamServer(t, 1, false)
	s := New(srv.URL)
	require.NoError(t, s.Start(context.Background()))
	waitDone(t, s)

	pods := s.Pods()
	require.Len(t, pods, 2)

	cpu, mem, ok := s.PodPercent(pods[0])
	require.True(t, ok)
	assert.Equal(t, 10.0, cpu)
	assert.Equal(t, 12.5, mem)

	_, _, ok = s.PodPercent(pods[1])
	assert.False(t, ok, "pod on an unknown node has no percentage")
}

func TestSessionSingleConnectionAndReconnect(t *testing.T) {
	srv, conns := streamServer(t, 1, true)
	s := New(srv.URL)

	got := make(chan struct{}, 8)
	s.Subscribe(domain.ListenerFuncs{Snapshot: func(domain.Snapshot) { got <- struct{}{} }})

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)
	<-got
	assert.True(t, s.Connected())

	s.Stop()
	assert.False(t, s.Connected())
	assert.NoError(t, s.Err(), "a deliberate stop is not an error")

	require.NoError(t, s.Start(context.Background()))
	<-got
	s.Stop()

	assert.Equal(t, int32(2), conns.Load())
	assert.Len(t, s.History().Cluster(history.Memory), 2, "history survives reconnects")
}

func TestSessionDialFailure(t *testing.T) {
	s := New("http://127.0.0.1:1/api/overview/stream")
	assert.Error(t, s.Start(context.Background()))
	assert.Error(t, s.Err())
	assert.False(t, s.Connected())
	s.Stop()
}

func TestStoreReplacesWholeSnapshot(t *testing.T) {
	st := NewStore(testingclock.NewFakePassiveClock(time.Unix(5, 0)))
	st.OnSnapshot(domain.Snapshot{
		Nodes: []domain.NodeSnapshot{{Name: "a"}, {Name: "b"}},
		Pods:  []domain.PodSnapshot{{Name: "p"}},
	})
	st.OnSnapshot(domain.Snapshot{
		Cluster: domain.ClusterSnapshot{CPU: domain.ResourceMetric{Usage: ptr.To[int64](1)}},
		Nodes:   []domain.NodeSnapshot{{Name: "b"}},
	})

	assert.Len(t, st.Nodes(), 1)
	assert.Empty(t, st.Pods())
	_, ok := st.Node("a")
	assert.False(t, ok)
	assert.Equal(t, time.Unix(5, 0), st.LastUpdate())
}
