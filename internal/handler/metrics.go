package handler

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/dualauth/dualauth/internal/metrics"
)

// MetricsHandler exposes in-memory metrics.
type MetricsHandler struct {
	snapshotter metrics.Snapshotter
}

// NewMetricsHandler creates a new MetricsHandler.
func NewMetricsHandler(snapshotter metrics.Snapshotter) *MetricsHandler {
	return &MetricsHandler{snapshotter: snapshotter}
}

// Metrics returns metrics in Prometheus exposition format.
func (h *MetricsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.snapshotter == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	snap := h.snapshotter.Snapshot()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	writeMetric(w, "dualauth_user_cache_hits_total %d\n", snap.UserCacheHits)
	writeMetric(w, "dualauth_user_cache_misses_total %d\n", snap.UserCacheMisses)
	writeMetric(w, "dualauth_rate_limited_total %d\n", snap.RateLimited)

	writeLabeled(w, "dualauth_registrations_total", "outcome", snap.Registrations)
	writeLabeled(w, "dualauth_logins_total", "outcome", snap.Logins)
	writeLabeled(w, "dualauth_tokens_issued_total", "kind", snap.TokensIssued)

	writeLabeled(w, "dualauth_audit_events_total", "status", snap.AuditEvents)
	writeMetric(w, "dualauth_audit_queue_depth %d\n", snap.AuditQueueDepth)
	writeMetric(w, "dualauth_audit_batches_total %d\n", snap.AuditBatchCount)
	writeMetric(w, "dualauth_audit_batch_events_total %d\n", snap.AuditBatchEvents)
	writeMetric(w, "dualauth_audit_batch_duration_seconds_sum %.6f\n", float64(snap.AuditBatchDurationTotalNs)/1e9)

	for _, l := range snap.StoreLatencies {
		writeMetric(w, "dualauth_store_duration_seconds_count{store=%q,op=%q} %d\n", l.Store, l.Op, l.Count)
		writeMetric(w, "dualauth_store_duration_seconds_sum{store=%q,op=%q} %.6f\n", l.Store, l.Op, float64(l.TotalNs)/1e9)
	}
}

// writeLabeled writes one series per label value in sorted order.
func writeLabeled(w http.ResponseWriter, name, label string, values map[string]uint64) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeMetric(w, "%s{%s=%q} %d\n", name, label, k, values[k])
	}
}

func writeMetric(w http.ResponseWriter, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
