package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HaPhanBaoMinh/kinsight/internal/domain"
	"github.com/HaPhanBaoMinh/kinsight/internal/observability"
)

const validPayload = `{"cluster":{"cpu":{"usage":100,"capacity":1000},"memory":{"usage":10,"capacity":100},"nodeCount":1,"readyNodeCount":1,"notReadyNodeCount":0},"nodes":[{"name":"n1","status":"Ready"}],"pods":[]}`

type scriptedEvent struct {
	name string
	data string
}

// sseServer writes the scripted events and then either hangs up or keeps
// the connection open until the client leaves.
func sseServer(t *testing.T, events []scriptedEvent, hold bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		for _, ev := range events {
			assert.NoError(t, WriteEvent(w, ev.name, []byte(ev.data)))
		}
		w.(http.Flusher).Flush()
		if hold {
			<-r.Context().Done()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

type recorder struct {
	mu    sync.Mutex
	snaps []domain.Snapshot
	errs  []error
}

func (r *recorder) OnSnapshot(s domain.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps), len(r.errs)
}

func TestFeedDeliversAndDropsMalformed(t *testing.T) {
	srv := sseServer(t, []scriptedEvent{
		{name: EventMessage, data: validPayload},
		{name: EventMessage, data: `{"nodes":[]}`},
		{name: EventMessage, data: `not json`},
		{name: "heartbeat", data: `{}`},
		{name: EventMessage, data: validPayload},
	}, false)

	reg := prometheus.NewRegistry()
	feed, err := Dial(context.Background(), srv.URL, WithRecorder(observability.NewRecorder(reg)))
	require.NoError(t, err)

	var order []string
	rec := &recorder{}
	feed.Subscribe(domain.ListenerFuncs{Snapshot: func(domain.Snapshot) { order = append(order, "first") }})
	feed.Subscribe(rec)
	feed.Subscribe(domain.ListenerFuncs{Snapshot: func(domain.Snapshot) { order = append(order, "third") }})

	err = feed.Run()
	assert.ErrorIs(t, err, ErrStreamEnded)

	snaps, errs := rec.counts()
	assert.Equal(t, 2, snaps)
	assert.Equal(t, 1, errs, "exactly one error event")
	assert.Equal(t, []string{"first", "third", "first", "third"}, order)
	assert.Equal(t, int64(2), feed.Received())
	assert.Equal(t, int64(2), feed.Dropped())
	assert.Equal(t, "n1", rec.snaps[0].Nodes[0].Name)

	assert.ErrorIs(t, feed.Run(), ErrFeedClosed, "a feed cannot be restarted")
}

func TestFeedServerErrorEvent(t *testing.T) {
	srv := sseServer(t, []scriptedEvent{
		{name: EventMessage, data: validPayload},
		{name: EventError, data: `{"error":"metrics API unavailable"}`},
		{name: EventMessage, data: validPayload},
	}, true)

	feed, err := Dial(context.Background(), srv.URL)
	require.NoError(t, err)
	rec := &recorder{}
	feed.Subscribe(rec)

	err = feed.Run()
	var serverErr *ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, "metrics API unavailable", serverErr.Message)

	snaps, errs := rec.counts()
	assert.Equal(t, 1, snaps, "nothing is read after the error event")
	assert.Equal(t, 1, errs)
}

func TestFeedCloseStopsRun(t *testing.T) {
	srv := sseServer(t, []scriptedEvent{{name: EventMessage, data: validPayload}}, true)

	feed, err := Dial(context.Background(), srv.URL)
	require.NoError(t, err)

	got := make(chan struct{}, 1)
	feed.Subscribe(domain.ListenerFuncs{Snapshot: func(domain.Snapshot) { got <- struct{}{} }})

	done := make(chan error, 1)
	go func() { done <- feed.Run() }()

	select {
	case <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("no snapshot delivered")
	}
	require.NoError(t, feed.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrFeedClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Close")
	}
	assert.NoError(t, feed.Close(), "second close is a no-op")
}

func TestFeedUnsubscribe(t *testing.T) {
	srv := sseServer(t, []scriptedEvent{{name: EventMessage, data: validPayload}}, false)
	feed, err := Dial(context.Background(), srv.URL)
	require.NoError(t, err)

	rec := &recorder{}
	unsubscribe := feed.Subscribe(rec)
	unsubscribe()

	_ = feed.Run()
	snaps, errs := rec.counts()
	assert.Zero(t, snaps)
	assert.Zero(t, errs)
}

func TestDialRejectsBadResponses(t *testing.T) {
	notFound := httptest.NewServer(http.NotFoundHandler())
	defer notFound.Close()
	_, err := Dial(context.Background(), notFound.URL)
	assert.ErrorContains(t, err, "unexpected status")

	plain := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(validPayload))
	}))
	defer plain.Close()
	_, err = Dial(context.Background(), plain.URL)
	assert.ErrorContains(t, err, "unexpected content type")

	_, err = Dial(context.Background(), "http://127.0.0.1:1/stream")
	assert.Error(t, err)
}
