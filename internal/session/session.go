package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/HaPhanBaoMinh/kinsight/internal/domain"
	"github.com/HaPhanBaoMinh/kinsight/internal/history"
	"github.com/HaPhanBaoMinh/kinsight/internal/logging"
	"github.com/HaPhanBaoMinh/kinsight/internal/stream"
)

// ErrAlreadyStarted is returned by Start while a connection is open.
var ErrAlreadyStarted = errors.New("session: already connected")

type Option func(*Session)

func WithClock(c clock.PassiveClock) Option {
	return func(s *Session) { s.clock = c }
}

func WithStreamOptions(opts ...stream.Option) Option {
	return func(s *Session) { s.streamOpts = append(s.streamOpts, opts...) }
}

// Session owns at most one open feed plus the state derived from it. The
// latest snapshot and the history outlive individual connections; a new
// Start after a failure reconnects into the same state.
type Session struct {
	endpoint   string
	clock      clock.PassiveClock
	streamOpts []stream.Option

	store   *Store
	history *history.Aggregator

	mu        sync.Mutex
	listeners []domain.Listener
	feed      *stream.Feed
	cancel    context.CancelFunc
	done      chan struct{}
	lastErr   error
}

func New(endpoint string, opts ...Option) *Session {
	s := &Session{endpoint: endpoint, clock: clock.RealClock{}}
	for _, opt := range opts {
		opt(s)
	}
	s.store = NewStore(s.clock)
	s.history = history.NewAggregator(s.clock, history.DefaultSize)
	return s
}

// Subscribe adds a listener to the current and every later connection.
// Listeners run after the store and history are updated.
func (s *Session) Subscribe(l domain.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
	if s.feed != nil && s.running() {
		s.feed.Subscribe(l)
	}
}

// Start dials the endpoint and begins delivering snapshots in the
// background. It fails with ErrAlreadyStarted while a feed is running.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.feed != nil && s.running() {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	feed, err := stream.Dial(ctx, s.endpoint, s.streamOpts...)
	if err != nil {
		cancel()
		s.lastErr = err
		return err
	}

	feed.Subscribe(s.store)
	feed.Subscribe(s.history)
	feed.Subscribe(domain.ListenerFuncs{Error: s.recordError})
	for _, l := range s.listeners {
		feed.Subscribe(l)
	}

	done := make(chan struct{})
	s.feed, s.cancel, s.done, s.lastErr = feed, cancel, done, nil

	go func() {
		defer close(done)
		if err := feed.Run(); err != nil && !errors.Is(err, stream.ErrFeedClosed) {
			logging.Warn("stream from %s ended: %v", s.endpoint, err)
		}
	}()
	logging.Info("connected to %s", s.endpoint)
	return nil
}

// Stop closes the connection immediately and waits for delivery to end.
func (s *Session) Stop() {
	s.mu.Lock()
	feed, cancel, done := s.feed, s.cancel, s.done
	s.mu.Unlock()
	if feed == nil {
		return
	}
	feed.Close()
	cancel()
	<-done
}

// Done is closed when the current connection ends. Nil before Start.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Connected reports whether a feed is currently running.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feed != nil && s.running()
}

// Err is the error that ended the last connection or failed the last dial.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Session) Endpoint() string { return s.endpoint }

func (s *Session) Cluster() (domain.ClusterSnapshot, bool) { return s.store.Cluster() }
func (s *Session) Nodes() []domain.NodeSnapshot             { return s.store.Nodes() }
func (s *Session) Pods() []domain.PodSnapshot               { return s.store.Pods() }
func (s *Session) LastUpdate() time.Time                    { return s.store.LastUpdate() }
func (s *Session) History() *history.Aggregator             { return s.history }

// PodPercent is a pod's usage as a share of its node's current capacity.
// ok is false when the pod references a node missing from the latest
// snapshot.
func (s *Session) PodPercent(p domain.PodSnapshot) (cpu, memory float64, ok bool) {
	n, ok := s.store.Node(p.Node)
	if !ok {
		return 0, 0, false
	}
	return podShare(p.CPU, n.CPU), podShare(p.Memory, n.Memory), true
}

func podShare(p domain.PodResource, node domain.ResourceMetric) float64 {
	total, ok := node.Total()
	if !ok || p.Usage == nil {
		return 0
	}
	return history.PercentOf(float64(*p.Usage), float64(total), history.NodePrecision)
}

func (s *Session) recordError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !errors.Is(err, stream.ErrFeedClosed) {
		s.lastErr = err
	}
}

// running must be called with s.mu held.
func (s *Session) running() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}
