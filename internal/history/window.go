package history

import (
	"math"
	"sort"
	"sync"
	"time"
)

// DefaultSize is the number of samples kept per window.
const DefaultSize = 50

// Decimal places used when turning usage into a percentage.
const (
	NodePrecision    = 1
	ClusterPrecision = 2
)

type Dimension string

const (
	CPU    Dimension = "cpu"
	Memory Dimension = "memory"
)

// Key identifies one window: one dimension of one entity.
type Key struct {
	Entity    string
	Dimension Dimension
}

type Sample[T any] struct {
	Timestamp time.Time
	Value     T
}

// Window is a FIFO buffer of at most max samples in arrival order.
type Window[T any] struct {
	samples []Sample[T]
	max     int
}

func NewWindow[T any](max int) *Window[T] {
	if max <= 0 {
		max = DefaultSize
	}
	return &Window[T]{samples: make([]Sample[T], 0, max), max: max}
}

// Append adds one sample and drops exactly one oldest sample when full.
func (w *Window[T]) Append(ts time.Time, v T) {
	if len(w.samples) == w.max {
		copy(w.samples, w.samples[1:])
		w.samples = w.samples[:w.max-1]
	}
	w.samples = append(w.samples, Sample[T]{Timestamp: ts, Value: v})
}

func (w *Window[T]) Len() int { return len(w.samples) }

// Samples returns a copy, oldest first.
func (w *Window[T]) Samples() []Sample[T] {
	out := make([]Sample[T], len(w.samples))
	copy(out, w.samples)
	return out
}

// Series is a set of windows keyed by entity and dimension. Windows are
// created on first Record and never removed.
type Series[T any] struct {
	mu      sync.RWMutex
	size    int
	windows map[Key]*Window[T]
}

func NewSeries[T any](size int) *Series[T] {
	return &Series[T]{size: size, windows: make(map[Key]*Window[T])}
}

// Record appends v to the window for key. Two calls with the same
// timestamp store two samples.
func (s *Series[T]) Record(ts time.Time, key Key, v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[key]
	if !ok {
		w = NewWindow[T](s.size)
		s.windows[key] = w
	}
	w.Append(ts, v)
}

func (s *Series[T]) Window(key Key) ([]Sample[T], bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.windows[key]
	if !ok {
		return nil, false
	}
	return w.Samples(), true
}

// Keys lists tracked windows sorted by entity then dimension.
func (s *Series[T]) Keys() []Key {
	s.mu.RLock()
	keys := make([]Key, 0, len(s.windows))
	for k := range s.windows {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Entity == keys[j].Entity {
			return keys[i].Dimension < keys[j].Dimension
		}
		return keys[i].Entity < keys[j].Entity
	})
	return keys
}

// PercentOf returns usage/capacity*100 rounded to places decimals, or 0
// when capacity is not positive.
func PercentOf(usage, capacity float64, places int) float64 {
	if capacity <= 0 {
		return 0
	}
	v := usage / capacity * 100
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
