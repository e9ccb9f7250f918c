package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/HaPhanBaoMinh/kinsight/internal/domain"
	"github.com/HaPhanBaoMinh/kinsight/internal/logging"
	"github.com/HaPhanBaoMinh/kinsight/internal/observability"
)

var (
	// ErrFeedClosed is returned when a feed is run twice or was closed by
	// its owner.
	ErrFeedClosed = errors.New("stream: feed closed")
	// ErrStreamEnded means the server closed the connection.
	ErrStreamEnded = errors.New("stream: server ended the stream")
)

// ServerError is an error event pushed by the server before it hangs up.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "stream: server error: " + e.Message
}

type options struct {
	client   *http.Client
	recorder *observability.Recorder
}

type Option func(*options)

// WithHTTPClient overrides the client used to dial. It must not set a
// response timeout: the stream is long-lived.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

func WithRecorder(r *observability.Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// Feed is one open snapshot stream. Snapshots are delivered to listeners
// one at a time, in arrival order, on the goroutine that calls Run.
type Feed struct {
	ctx      context.Context
	id       string
	endpoint string
	body     io.ReadCloser
	recorder *observability.Recorder

	mu        sync.Mutex
	nextID    int
	listeners map[int]domain.Listener
	order     []int

	started   atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	received  atomic.Int64
	dropped   atomic.Int64
}

// Dial opens the stream at endpoint. The connection lives until ctx is
// cancelled, Close is called, or the server goes away.
func Dial(ctx context.Context, endpoint string, opts ...Option) (*Feed, error) {
	o := options{client: http.DefaultClient}
	for _, opt := range opts {
		opt(&o)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("stream: build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stream: dial %s: %w", endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("stream: dial %s: unexpected status %s", endpoint, resp.Status)
	}
	if mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err != nil || mt != "text/event-stream" {
		resp.Body.Close()
		return nil, fmt.Errorf("stream: dial %s: unexpected content type %q", endpoint, resp.Header.Get("Content-Type"))
	}

	f := &Feed{
		ctx:       ctx,
		id:        uuid.NewString(),
		endpoint:  endpoint,
		body:      resp.Body,
		recorder:  o.recorder,
		listeners: make(map[int]domain.Listener),
	}
	logging.Debug("stream %s: connected to %s", f.id, endpoint)
	return f, nil
}

// Subscribe registers l and returns a function that removes it. Listeners
// are called in registration order.
func (f *Feed) Subscribe(l domain.Listener) (unsubscribe func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = l
	f.order = append(f.order, id)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, id)
	}
}

// Run reads the stream until it fails and returns the error that ended it.
// Listeners see that same error once via OnError. A feed runs only once.
func (f *Feed) Run() error {
	if !f.started.CompareAndSwap(false, true) {
		return ErrFeedClosed
	}
	defer f.Close()

	r := NewReader(f.body)
	for {
		ev, err := r.Next()
		if err != nil {
			return f.fail(f.readError(err))
		}
		switch ev.Name {
		case EventMessage:
			snap, err := domain.DecodeSnapshot(ev.Data)
			if err != nil {
				f.dropped.Add(1)
				f.recorder.SnapshotDropped()
				logging.Debug("stream %s: dropping message: %v", f.id, err)
				continue
			}
			f.received.Add(1)
			f.recorder.SnapshotReceived()
			f.dispatch(func(l domain.Listener) { l.OnSnapshot(snap) })
		case EventError:
			var body struct {
				Error string `json:"error"`
			}
			msg := string(ev.Data)
			if json.Unmarshal(ev.Data, &body) == nil && body.Error != "" {
				msg = body.Error
			}
			return f.fail(&ServerError{Message: msg})
		}
	}
}

// Close tears the connection down. It is safe to call more than once and
// from any goroutine.
func (f *Feed) Close() error {
	var err error
	f.closeOnce.Do(func() {
		f.closed.Store(true)
		err = f.body.Close()
		logging.Debug("stream %s: closed", f.id)
	})
	return err
}

// Received and Dropped count decoded and discarded messages.
func (f *Feed) Received() int64 { return f.received.Load() }
func (f *Feed) Dropped() int64  { return f.dropped.Load() }

func (f *Feed) readError(err error) error {
	if f.closed.Load() || f.ctx.Err() != nil {
		return ErrFeedClosed
	}
	if errors.Is(err, io.EOF) {
		return ErrStreamEnded
	}
	return fmt.Errorf("stream: read: %w", err)
}

func (f *Feed) fail(err error) error {
	f.Close()
	f.dispatch(func(l domain.Listener) { l.OnError(err) })
	return err
}

func (f *Feed) dispatch(call func(domain.Listener)) {
	f.mu.Lock()
	ls := make([]domain.Listener, 0, len(f.listeners))
	live := f.order[:0]
	for _, id := range f.order {
		if l, ok := f.listeners[id]; ok {
			ls = append(ls, l)
			live = append(live, id)
		}
	}
	f.order = live
	f.mu.Unlock()

	for _, l := range ls {
		call(l)
	}
}
