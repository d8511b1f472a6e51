/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics provides Prometheus metrics for credential caches and tasks.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

// Result labels for metrics.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultHit     = "hit"
	ResultMiss    = "miss"
)

// Expiry notification modes.
const (
	ModeScheduled = "scheduled"
	ModeImmediate = "immediate"
)

const namespace = "credential_cache"

var (
	// CacheEntriesGauge tracks the number of entries held by a cache manager.
	CacheEntriesGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Number of credentials currently cached",
		},
		[]string{"cache"},
	)

	// CacheLookupsTotal counts cache lookups by result.
	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Total number of cache lookups (hit or miss)",
		},
		[]string{"cache", "result"},
	)

	// ExpiryNotificationsTotal counts expiry callbacks delivered.
	ExpiryNotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "expiry_notifications_total",
			Help:      "Total number of expiry notifications delivered (scheduled or immediate)",
		},
		[]string{"cache", "mode"},
	)

	// TaskFetchTotal counts completed fetch-with-retry operations.
	TaskFetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "fetch_total",
			Help:      "Total number of credential fetches after retries",
		},
		[]string{"task", "result"},
	)

	// TaskFetchAttemptsTotal counts every individual outbound fetch attempt.
	TaskFetchAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "fetch_attempts_total",
			Help:      "Total number of outbound fetch attempts including retries",
		},
		[]string{"task"},
	)

	// InvalidationsCoalescedTotal counts invalidations that joined an in-flight refresh.
	InvalidationsCoalescedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "invalidations_coalesced_total",
			Help:      "Total number of invalidations served by an already in-flight refresh",
		},
		[]string{"task"},
	)
)

func init() {
	// Register all metrics with the controller-runtime metrics registry
	metrics.Registry.MustRegister(
		CacheEntriesGauge,
		CacheLookupsTotal,
		ExpiryNotificationsTotal,
		TaskFetchTotal,
		TaskFetchAttemptsTotal,
		InvalidationsCoalescedTotal,
	)
}

// SetCacheEntries sets the entry count for a cache.
func SetCacheEntries(cache string, count int) {
	CacheEntriesGauge.WithLabelValues(cache).Set(float64(count))
}

// IncrementCacheLookup increments the lookup counter.
func IncrementCacheLookup(cache string, hit bool) {
	result := ResultMiss
	if hit {
		result = ResultHit
	}
	CacheLookupsTotal.WithLabelValues(cache, result).Inc()
}

// IncrementExpiryNotification increments the expiry notification counter.
func IncrementExpiryNotification(cache string, immediate bool) {
	mode := ModeScheduled
	if immediate {
		mode = ModeImmediate
	}
	ExpiryNotificationsTotal.WithLabelValues(cache, mode).Inc()
}

// IncrementTaskFetch increments the fetch counter.
func IncrementTaskFetch(task string, success bool) {
	result := ResultFailure
	if success {
		result = ResultSuccess
	}
	TaskFetchTotal.WithLabelValues(task, result).Inc()
}

// IncrementTaskFetchAttempt increments the attempt counter.
func IncrementTaskFetchAttempt(task string) {
	TaskFetchAttemptsTotal.WithLabelValues(task).Inc()
}

// IncrementInvalidationCoalesced increments the coalesced invalidation counter.
func IncrementInvalidationCoalesced(task string) {
	InvalidationsCoalescedTotal.WithLabelValues(task).Inc()
}

// Handler returns an http.Handler that serves the registry these metrics are
// registered in.
func Handler() http.Handler {
	return promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})
}
