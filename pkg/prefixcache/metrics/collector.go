// Copyright 2025 The llm-d Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"k8s.io/klog/v2"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	// Admissions counts dense states admitted into the bounded store.
	Admissions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "prefixcache", Subsystem: "store", Name: "admissions_total",
		Help: "Total number of dense states admitted into the bounded store",
	})
	// Evictions counts dense states evicted from the bounded store.
	Evictions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "prefixcache", Subsystem: "store", Name: "evictions_total",
		Help: "Total number of dense states evicted from the bounded store",
	})

	// LookupRequests counts how many Get() calls have been made.
	LookupRequests = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "prefixcache", Subsystem: "store", Name: "lookup_requests_total",
		Help: "Total number of bounded-store lookup calls",
	})
	// LookupHits counts how many Get() calls found a state.
	LookupHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "prefixcache", Subsystem: "store", Name: "lookup_hits_total",
		Help: "Number of bounded-store lookups that found a state",
	})
	// LookupLatency logs latency of bounded-store lookups.
	LookupLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "prefixcache", Subsystem: "store", Name: "lookup_latency_seconds",
		Help:    "Latency of bounded-store lookups in seconds",
		Buckets: prometheus.DefBuckets,
	})
)

// Collectors returns a slice of all registered Prometheus collectors.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		Admissions, Evictions,
		LookupRequests, LookupHits, LookupLatency,
	}
}

var registerMetricsOnce = sync.Once{}

// Register registers all metrics with the controller-runtime registry.
func Register() {
	registerMetricsOnce.Do(func() {
		metrics.Registry.MustRegister(Collectors()...)
	})
}

// StartMetricsLogging spawns a goroutine that logs current metric values
// every interval until the context is cancelled.
func StartMetricsLogging(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logMetrics(ctx)
			}
		}
	}()
}

func logMetrics(ctx context.Context) {
	admissions, ok := counterValue(Admissions)
	if !ok {
		return
	}
	evictions, ok := counterValue(Evictions)
	if !ok {
		return
	}
	lookups, ok := counterValue(LookupRequests)
	if !ok {
		return
	}
	hits, ok := counterValue(LookupHits)
	if !ok {
		return
	}

	var latencyMetric dto.Metric
	if err := LookupLatency.Write(&latencyMetric); err != nil {
		return
	}
	latencyCount := latencyMetric.GetHistogram().GetSampleCount()
	latencySum := latencyMetric.GetHistogram().GetSampleSum()

	klog.FromContext(ctx).WithName("metrics").Info("metrics beat",
		"admissions", admissions,
		"evictions", evictions,
		"lookups", lookups,
		"hits", hits,
		"latency_count", latencyCount,
		"latency_sum", latencySum,
	)
}

func counterValue(counter prometheus.Counter) (float64, bool) {
	var m dto.Metric
	if err := counter.Write(&m); err != nil {
		return 0, false
	}

	return m.GetCounter().GetValue(), true
}
