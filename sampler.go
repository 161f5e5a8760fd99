package langsmith

import (
	"math/rand"
	"sync"
	"time"
)

// maxDroppedTraceRecords bounds the sampled-out trace set. Beyond it the
// oldest records are evicted; late arrivals for evicted traces ship as
// orphans rather than grow memory without bound.
const maxDroppedTraceRecords = 10000

// sampler decides, once per trace, whether the trace is kept. The decision
// happens when the root run is created; children and patches of a dropped
// trace consult the record and are discarded before queueing, so a trace
// is always shipped whole or not at all. Dropped child run IDs are
// recorded alongside the trace ID so a later patch carrying only the run
// ID is still caught.
type sampler struct {
	rate *float64

	mu      sync.Mutex
	rng     *rand.Rand
	dropped map[string]struct{}
	order   []string
}

func newSampler(rate *float64) *sampler {
	return &sampler{
		rate:    rate,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		dropped: make(map[string]struct{}),
	}
}

// sampleRoot decides the fate of a new trace. Returns true to keep it.
func (s *sampler) sampleRoot(traceID string) bool {
	if s.rate == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rng.Float64() < *s.rate {
		return true
	}
	s.recordDroppedLocked(traceID)
	return false
}

// isDropped reports whether the trace or run was sampled out earlier.
func (s *sampler) isDropped(id string) bool {
	if s.rate == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, dropped := s.dropped[id]
	return dropped
}

// markDropped records a run that belongs to a sampled-out trace so its
// own patches are dropped even when they arrive without a trace ID.
func (s *sampler) markDropped(runID string) {
	if s.rate == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordDroppedLocked(runID)
}

func (s *sampler) recordDroppedLocked(traceID string) {
	if _, exists := s.dropped[traceID]; exists {
		return
	}
	if len(s.order) >= maxDroppedTraceRecords {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.dropped, oldest)
	}
	s.dropped[traceID] = struct{}{}
	s.order = append(s.order, traceID)
}

// droppedCount returns how many sampled-out traces are currently recorded.
func (s *sampler) droppedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dropped)
}
