package session

import (
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/HaPhanBaoMinh/kinsight/internal/domain"
)

// Store keeps the latest snapshot. Each snapshot replaces the previous one
// whole.
type Store struct {
	clock clock.PassiveClock

	mu       sync.RWMutex
	snap     domain.Snapshot
	nodes    map[string]domain.NodeSnapshot
	has      bool
	received time.Time
}

func NewStore(clk clock.PassiveClock) *Store {
	return &Store{clock: clk}
}

func (s *Store) OnSnapshot(snap domain.Snapshot) {
	nodes := snap.NodeByName()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap
	s.nodes = nodes
	s.has = true
	s.received = s.clock.Now()
}

func (s *Store) OnError(error) {}

// Cluster returns the latest cluster aggregate; ok is false before the
// first snapshot.
func (s *Store) Cluster() (domain.ClusterSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Cluster, s.has
}

func (s *Store) Nodes() []domain.NodeSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.NodeSnapshot(nil), s.snap.Nodes...)
}

func (s *Store) Pods() []domain.PodSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.PodSnapshot(nil), s.snap.Pods...)
}

func (s *Store) Node(name string) (domain.NodeSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[name]
	return n, ok
}

// LastUpdate is when the latest snapshot arrived; zero before the first.
func (s *Store) LastUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.received
}
