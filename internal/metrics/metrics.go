// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Store labels.
const (
	StoreCache   = "cache"
	StoreDurable = "durable"
	StoreAudit   = "audit"
)

// Outcome labels for registration and login counters.
const (
	OutcomeSuccess  = "success"
	OutcomeConflict = "conflict"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Audit event statuses.
const (
	AuditPublished    = "published"
	AuditDropped      = "dropped"
	AuditPersisted    = "persisted"
	AuditFailed       = "failed"
	AuditDeadLettered = "dead_lettered"
)

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus, StatsD, etc.
type Recorder interface {
	// Store latency, labelled by store ("cache" or "durable") and operation.
	ObserveStoreLatency(store, op string, duration time.Duration)

	// User cache lookups on the login path
	IncUserCacheHit()
	IncUserCacheMiss()

	// Auth flow outcomes
	IncRegistration(outcome string)
	IncLogin(outcome string)
	IncTokenIssued(kind string)
	IncRateLimited()

	// Token audit pipeline
	IncAuditEvent(status string)
	SetAuditQueueDepth(depth int64)
	ObserveAuditBatch(size int, duration time.Duration)
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
