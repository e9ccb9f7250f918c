package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/HaPhanBaoMinh/kinsight/internal/config"
	"github.com/HaPhanBaoMinh/kinsight/internal/domain"
	"github.com/HaPhanBaoMinh/kinsight/internal/history"
	"github.com/HaPhanBaoMinh/kinsight/internal/logging"
	"github.com/HaPhanBaoMinh/kinsight/internal/observability"
	"github.com/HaPhanBaoMinh/kinsight/internal/stream"
)

const shutdownTimeout = 10 * time.Second

type Option func(*Server)

func WithClock(c clock.WithTicker) Option {
	return func(s *Server) { s.clock = c }
}

// WithMetrics records server metrics on rec and serves g at /metrics.
func WithMetrics(rec *observability.Recorder, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.recorder = rec
		s.gatherer = g
	}
}

// Server publishes cluster snapshots taken from an OverviewRepo, as a
// server-sent event stream and as plain JSON.
type Server struct {
	repo     domain.OverviewRepo
	interval time.Duration
	clock    clock.WithTicker
	recorder *observability.Recorder
	gatherer prometheus.Gatherer
	router   *mux.Router
}

func New(repo domain.OverviewRepo, interval time.Duration, opts ...Option) *Server {
	s := &Server{repo: repo, interval: interval, clock: clock.RealClock{}}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(loggingMiddleware)
	r.Use(corsMiddleware)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/overview/stream", s.handleStream).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/cluster", s.handleCluster).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/nodes", s.handleNodes).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/pods", s.handlePods).Methods(http.MethodGet, http.MethodOptions)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "ok")
	}).Methods(http.MethodGet)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return r
}

// ListenAndServe serves until ctx is cancelled, then drains open requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("serving %s on %s (every %s)", config.StreamPath, addr, s.interval)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// collect takes one snapshot and records how long it took.
func (s *Server) collect(ctx context.Context) (domain.Snapshot, error) {
	start := s.clock.Now()
	snap, err := s.repo.Overview(ctx)
	s.recorder.ObserveCollect(s.clock.Since(start), err)
	if err == nil {
		s.recorder.RecordClusterUsage(
			history.UsagePercent(snap.Cluster.CPU, history.ClusterPrecision),
			history.UsagePercent(snap.Cluster.Memory, history.ClusterPrecision),
		)
	}
	return snap, err
}

// handleStream pushes a snapshot on connect and then once per interval. A
// failed collection is reported as an error event and ends the stream.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	log := logging.WithFields(map[string]interface{}{
		"client": uuid.NewString(),
		"remote": r.RemoteAddr,
	})
	log.Info("stream client connected")
	s.recorder.ClientConnected()
	defer func() {
		s.recorder.ClientDisconnected()
		log.Info("stream client disconnected")
	}()

	ctx := r.Context()
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if !s.push(ctx, w, log) {
			return
		}
		flusher.Flush()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
		}
	}
}

// push writes one event and reports whether the stream should continue.
func (s *Server) push(ctx context.Context, w http.ResponseWriter, log *logrus.Entry) bool {
	snap, err := s.collect(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		log.Warnf("collect failed: %v", err)
		data, _ := json.Marshal(map[string]string{"error": err.Error()})
		if werr := stream.WriteEvent(w, stream.EventError, data); werr == nil {
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
		return false
	}
	data, err := json.Marshal(snap)
	if err != nil {
		log.Warnf("encode snapshot: %v", err)
		return false
	}
	if err := stream.WriteEvent(w, stream.EventMessage, data); err != nil {
		return false
	}
	s.recorder.SnapshotPublished()
	return true
}

func (s *Server) handleCluster(w http.ResponseWriter, r *http.Request) {
	snap, err := s.collect(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, snap.Cluster)
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	snap, err := s.collect(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(snap.Nodes))
}

// handlePods returns every pod, or those in ?namespace= when given.
func (s *Server) handlePods(w http.ResponseWriter, r *http.Request) {
	snap, err := s.collect(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	pods := snap.Pods
	if ns := r.URL.Query().Get("namespace"); ns != "" {
		pods = make([]domain.PodSnapshot, 0, len(snap.Pods))
		for _, p := range snap.Pods {
			if p.Namespace == ns {
				pods = append(pods, p)
			}
		}
	}
	writeJSON(w, http.StatusOK, nonNil(pods))
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
