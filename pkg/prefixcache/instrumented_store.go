package prefixcache

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/llm-d/llm-d-prefix-state-cache/pkg/kvstate"
	"github.com/llm-d/llm-d-prefix-state-cache/pkg/prefixcache/metrics"
)

type instrumentedStore struct {
	next Store
}

// NewInstrumentedStore wraps a Store and emits metrics for Put and Get.
func NewInstrumentedStore(next Store) Store {
	return &instrumentedStore{next: next}
}

func (s *instrumentedStore) Put(ctx context.Context, key uint64, state *kvstate.DenseState) error {
	err := s.next.Put(ctx, key, state)
	metrics.Admissions.Inc()
	return err
}

func (s *instrumentedStore) Get(ctx context.Context, key uint64) (*kvstate.DenseState, bool) {
	timer := prometheus.NewTimer(metrics.LookupLatency)
	defer timer.ObserveDuration()

	metrics.LookupRequests.Inc()

	state, found := s.next.Get(ctx, key)
	if found {
		metrics.LookupHits.Inc()
	}

	return state, found
}

// Peek is a diagnostic read; it bypasses the lookup counters the same
// way it bypasses recency.
func (s *instrumentedStore) Peek(ctx context.Context, key uint64) (*kvstate.DenseState, bool) {
	return s.next.Peek(ctx, key)
}

func (s *instrumentedStore) Len() int {
	return s.next.Len()
}
