package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// ObserveStoreLatency is a no-op.
func (n *NoopRecorder) ObserveStoreLatency(store, op string, duration time.Duration) {}

// IncUserCacheHit is a no-op.
func (n *NoopRecorder) IncUserCacheHit() {}

// IncUserCacheMiss is a no-op.
func (n *NoopRecorder) IncUserCacheMiss() {}

// IncRegistration is a no-op.
func (n *NoopRecorder) IncRegistration(outcome string) {}

// IncLogin is a no-op.
func (n *NoopRecorder) IncLogin(outcome string) {}

// IncTokenIssued is a no-op.
func (n *NoopRecorder) IncTokenIssued(kind string) {}

// IncRateLimited is a no-op.
func (n *NoopRecorder) IncRateLimited() {}

// IncAuditEvent is a no-op.
func (n *NoopRecorder) IncAuditEvent(status string) {}

// SetAuditQueueDepth is a no-op.
func (n *NoopRecorder) SetAuditQueueDepth(depth int64) {}

// ObserveAuditBatch is a no-op.
func (n *NoopRecorder) ObserveAuditBatch(size int, duration time.Duration) {}
