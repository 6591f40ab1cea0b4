package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// StoreLatency aggregates observed durations for one store operation.
type StoreLatency struct {
	Store   string
	Op      string
	Count   uint64
	TotalNs int64
}

// Snapshot captures current in-memory counters.
type Snapshot struct {
	UserCacheHits   uint64
	UserCacheMisses uint64
	RateLimited     uint64

	Registrations map[string]uint64
	Logins        map[string]uint64
	TokensIssued  map[string]uint64

	AuditEvents               map[string]uint64
	AuditQueueDepth           int64
	AuditBatchCount           uint64
	AuditBatchEvents          uint64
	AuditBatchDurationTotalNs int64

	// Sorted by store, then op.
	StoreLatencies []StoreLatency
}

// InMemoryRecorder stores metrics in memory. It backs GET /metrics and tests.
type InMemoryRecorder struct {
	userCacheHits   uint64
	userCacheMisses uint64
	rateLimited     uint64

	auditQueueDepth           int64
	auditBatchCount           uint64
	auditBatchEvents          uint64
	auditBatchDurationTotalNs int64

	mu            sync.Mutex
	registrations map[string]uint64
	logins        map[string]uint64
	tokensIssued  map[string]uint64
	auditEvents   map[string]uint64
	latencies     map[storeOp]*StoreLatency
}

type storeOp struct {
	store string
	op    string
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{
		registrations: make(map[string]uint64),
		logins:        make(map[string]uint64),
		tokensIssued:  make(map[string]uint64),
		auditEvents:   make(map[string]uint64),
		latencies:     make(map[storeOp]*StoreLatency),
	}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	snap := Snapshot{
		UserCacheHits:   atomic.LoadUint64(&m.userCacheHits),
		UserCacheMisses: atomic.LoadUint64(&m.userCacheMisses),
		RateLimited:     atomic.LoadUint64(&m.rateLimited),

		AuditQueueDepth:           atomic.LoadInt64(&m.auditQueueDepth),
		AuditBatchCount:           atomic.LoadUint64(&m.auditBatchCount),
		AuditBatchEvents:          atomic.LoadUint64(&m.auditBatchEvents),
		AuditBatchDurationTotalNs: atomic.LoadInt64(&m.auditBatchDurationTotalNs),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snap.Registrations = copyCounts(m.registrations)
	snap.Logins = copyCounts(m.logins)
	snap.TokensIssued = copyCounts(m.tokensIssued)
	snap.AuditEvents = copyCounts(m.auditEvents)

	snap.StoreLatencies = make([]StoreLatency, 0, len(m.latencies))
	for _, l := range m.latencies {
		snap.StoreLatencies = append(snap.StoreLatencies, *l)
	}
	sort.Slice(snap.StoreLatencies, func(i, j int) bool {
		a, b := snap.StoreLatencies[i], snap.StoreLatencies[j]
		if a.Store != b.Store {
			return a.Store < b.Store
		}
		return a.Op < b.Op
	})

	return snap
}

// ObserveStoreLatency records the duration of one store call.
func (m *InMemoryRecorder) ObserveStoreLatency(store, op string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := storeOp{store: store, op: op}
	l, ok := m.latencies[key]
	if !ok {
		l = &StoreLatency{Store: store, Op: op}
		m.latencies[key] = l
	}
	l.Count++
	l.TotalNs += duration.Nanoseconds()
}

// IncUserCacheHit increments cache hit counter.
func (m *InMemoryRecorder) IncUserCacheHit() {
	atomic.AddUint64(&m.userCacheHits, 1)
}

// IncUserCacheMiss increments cache miss counter.
func (m *InMemoryRecorder) IncUserCacheMiss() {
	atomic.AddUint64(&m.userCacheMisses, 1)
}

// IncRegistration counts a registration attempt by outcome.
func (m *InMemoryRecorder) IncRegistration(outcome string) {
	m.inc(m.registrations, outcome)
}

// IncLogin counts a login attempt by outcome.
func (m *InMemoryRecorder) IncLogin(outcome string) {
	m.inc(m.logins, outcome)
}

// IncTokenIssued counts an issued token by kind.
func (m *InMemoryRecorder) IncTokenIssued(kind string) {
	m.inc(m.tokensIssued, kind)
}

// IncRateLimited increments the rejected-by-rate-limit counter.
func (m *InMemoryRecorder) IncRateLimited() {
	atomic.AddUint64(&m.rateLimited, 1)
}

// IncAuditEvent counts a token audit event by pipeline status.
func (m *InMemoryRecorder) IncAuditEvent(status string) {
	m.inc(m.auditEvents, status)
}

// SetAuditQueueDepth records the pending plus undelivered audit events.
func (m *InMemoryRecorder) SetAuditQueueDepth(depth int64) {
	atomic.StoreInt64(&m.auditQueueDepth, depth)
}

// ObserveAuditBatch records one persisted audit batch.
func (m *InMemoryRecorder) ObserveAuditBatch(size int, duration time.Duration) {
	atomic.AddUint64(&m.auditBatchCount, 1)
	atomic.AddUint64(&m.auditBatchEvents, uint64(size))
	atomic.AddInt64(&m.auditBatchDurationTotalNs, duration.Nanoseconds())
}

func (m *InMemoryRecorder) inc(counts map[string]uint64, label string) {
	m.mu.Lock()
	counts[label]++
	m.mu.Unlock()
}

func copyCounts(src map[string]uint64) map[string]uint64 {
	dst := make(map[string]uint64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
