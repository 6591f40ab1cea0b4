package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dualauth/dualauth/internal/metrics"
	"github.com/dualauth/dualauth/internal/model"
)

// ConsumerGroup is the Redis consumer group shared by every API replica.
const ConsumerGroup = "token_audit_writers"

const deadLetterMaxLen = 10000

// WorkerConfig tunes a Worker. Zero fields take the defaults from
// DefaultWorkerConfig; a negative ClaimEvery or DepthEvery disables that
// housekeeping step.
type WorkerConfig struct {
	// BatchSize caps records read and inserted per round.
	BatchSize int
	// BlockTimeout bounds one XREADGROUP wait.
	BlockTimeout time.Duration
	// Attempts is how many times a batch insert is tried before the round
	// gives up and leaves the batch pending.
	Attempts int
	// RetryDelay is the first backoff between attempts; it doubles.
	RetryDelay time.Duration
	// ClaimEvery is how often pending entries of dead consumers are taken
	// over, ClaimMinIdle how long an entry must sit unacked first.
	ClaimEvery   time.Duration
	ClaimMinIdle time.Duration
	// DepthEvery is how often the queue depth gauge is refreshed.
	DepthEvery time.Duration
}

// DefaultWorkerConfig returns the production settings.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		BatchSize:    500,
		BlockTimeout: 5 * time.Second,
		Attempts:     3,
		RetryDelay:   time.Second,
		ClaimEvery:   10 * time.Second,
		ClaimMinIdle: 30 * time.Second,
		DepthEvery:   5 * time.Second,
	}
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	d := DefaultWorkerConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.BlockTimeout <= 0 {
		c.BlockTimeout = d.BlockTimeout
	}
	if c.Attempts <= 0 {
		c.Attempts = d.Attempts
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = d.RetryDelay
	}
	if c.ClaimEvery == 0 {
		c.ClaimEvery = d.ClaimEvery
	}
	if c.ClaimMinIdle <= 0 {
		c.ClaimMinIdle = d.ClaimMinIdle
	}
	if c.DepthEvery == 0 {
		c.DepthEvery = d.DepthEvery
	}
	return c
}

// Sink persists audit records. Inserts must be idempotent on token ID
// since the stream delivers at least once.
type Sink interface {
	RecordIssuedTokens(ctx context.Context, tokens []*model.IssuedToken) error
}

// Worker moves issued-token records from the audit stream into a Sink.
type Worker struct {
	rdb      *redis.Client
	sink     Sink
	log      *slog.Logger
	rec      metrics.Recorder
	consumer string
	cfg      WorkerConfig

	// Touched only by the Run goroutine.
	claimCursor string
	nextClaim   time.Time
	nextDepth   time.Time

	mu      sync.Mutex
	used    bool
	stop    context.CancelFunc
	stopped chan struct{}
}

// NewWorker builds a Worker reading as consumerID. A nil recorder discards
// metrics.
func NewWorker(client *redis.Client, sink Sink, logger *slog.Logger, consumerID string, recorder metrics.Recorder, cfg WorkerConfig) *Worker {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Worker{
		rdb:         client,
		sink:        sink,
		log:         logger.With("component", "audit.worker", "consumer_id", consumerID),
		rec:         recorder,
		consumer:    consumerID,
		cfg:         cfg.withDefaults(),
		claimCursor: "0-0",
	}
}

// Run consumes until ctx is done or Shutdown is called. A Worker runs once.
func (w *Worker) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.used {
		w.mu.Unlock()
		return errors.New("audit worker already ran")
	}
	w.used = true
	ctx, w.stop = context.WithCancel(ctx)
	w.stopped = make(chan struct{})
	stopped := w.stopped
	w.mu.Unlock()
	defer close(stopped)

	if err := w.ensureConsumerGroup(ctx); err != nil {
		return fmt.Errorf("ensure consumer group: %w", err)
	}

	w.log.Info("audit worker started")
	for ctx.Err() == nil {
		err := w.processOnce(ctx)
		if err == nil || ctx.Err() != nil {
			continue
		}
		w.log.Error("audit round failed", "error", err)
		sleepContext(ctx, w.cfg.RetryDelay)
	}
	w.log.Info("audit worker stopped")
	return nil
}

// Shutdown cancels Run and waits for the current round to finish or ctx to
// expire. It matches server.ShutdownFunc.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	stop, stopped := w.stop, w.stopped
	w.mu.Unlock()
	if stop == nil {
		return nil
	}

	stop()
	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		w.log.Warn("audit worker did not stop in time")
		return ctx.Err()
	}
}

func (w *Worker) ensureConsumerGroup(ctx context.Context) error {
	err := w.rdb.XGroupCreateMkStream(ctx, StreamKey, ConsumerGroup, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// processOnce runs one round: reclaimed entries take priority over new
// ones. Entries are acked only after the sink accepted them; on failure
// they stay pending for a later claim.
func (w *Worker) processOnce(ctx context.Context) error {
	w.refreshDepth(ctx)

	msgs, err := w.claimStale(ctx)
	if err != nil {
		w.log.Warn("claim of stale entries failed", "error", err)
	}
	if len(msgs) == 0 {
		if msgs, err = w.readNew(ctx); err != nil {
			return err
		}
	}
	if len(msgs) == 0 {
		return nil
	}

	tokens, ids := w.decode(ctx, msgs)
	if len(tokens) > 0 {
		if err := w.store(ctx, tokens); err != nil {
			return err
		}
	}
	if err := w.rdb.XAck(ctx, StreamKey, ConsumerGroup, ids...).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	return nil
}

func (w *Worker) claimStale(ctx context.Context) ([]redis.XMessage, error) {
	if w.cfg.ClaimEvery < 0 || time.Now().Before(w.nextClaim) {
		return nil, nil
	}
	w.nextClaim = time.Now().Add(w.cfg.ClaimEvery)

	msgs, cursor, err := w.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   StreamKey,
		Group:    ConsumerGroup,
		Consumer: w.consumer,
		MinIdle:  w.cfg.ClaimMinIdle,
		Start:    w.claimCursor,
		Count:    int64(w.cfg.BatchSize),
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("xautoclaim: %w", err)
	}
	if cursor != "" {
		w.claimCursor = cursor
	}
	return msgs, nil
}

func (w *Worker) refreshDepth(ctx context.Context) {
	if w.cfg.DepthEvery < 0 || time.Now().Before(w.nextDepth) {
		return
	}
	w.nextDepth = time.Now().Add(w.cfg.DepthEvery)

	groups, err := w.rdb.XInfoGroups(ctx, StreamKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		w.log.Warn("reading consumer group info failed", "error", err)
		return
	}
	for _, g := range groups {
		if g.Name == ConsumerGroup {
			w.rec.SetAuditQueueDepth(g.Pending + g.Lag)
			return
		}
	}
}

func (w *Worker) readNew(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := w.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    ConsumerGroup,
		Consumer: w.consumer,
		Streams:  []string{StreamKey, ">"},
		Count:    int64(w.cfg.BatchSize),
		Block:    w.cfg.BlockTimeout,
	}).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("xreadgroup: %w", err)
	case len(streams) == 0:
		return nil, nil
	}
	return streams[0].Messages, nil
}

// decode returns the valid records and the ids of every entry, poison ones
// included: those are copied to the dead-letter stream and acked so they
// cannot wedge the group.
func (w *Worker) decode(ctx context.Context, msgs []redis.XMessage) ([]*model.IssuedToken, []string) {
	tokens := make([]*model.IssuedToken, 0, len(msgs))
	ids := make([]string, 0, len(msgs))

	for _, msg := range msgs {
		ids = append(ids, msg.ID)

		raw, ok := msg.Values["payload"].(string)
		if !ok {
			w.deadLetter(ctx, msg, "invalid_format", "payload field missing or not a string")
			continue
		}
		var p IssuedTokenPayload
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			w.deadLetter(ctx, msg, "unmarshal_error", err.Error())
			continue
		}
		if err := ValidatePayload(p); err != nil {
			w.deadLetter(ctx, msg, "validation_error", err.Error())
			continue
		}
		tokens = append(tokens, p.IssuedToken())
	}
	return tokens, ids
}

func (w *Worker) deadLetter(ctx context.Context, msg redis.XMessage, reason, detail string) {
	w.log.Warn("audit entry dead-lettered", "message_id", msg.ID, "reason", reason, "detail", detail)
	w.rec.IncAuditEvent(metrics.AuditDeadLettered)

	err := w.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: DeadLetterStreamKey,
		MaxLen: deadLetterMaxLen,
		Approx: true,
		Values: map[string]any{
			"original_id":      msg.ID,
			"original_stream":  StreamKey,
			"reason":           reason,
			"detail":           detail,
			"payload":          fmt.Sprint(msg.Values["payload"]),
			"dead_lettered_at": time.Now().UTC().Format(time.RFC3339),
		},
	}).Err()
	if err != nil {
		w.log.Error("dead-letter write failed", "message_id", msg.ID, "error", err)
	}
}

// store hands the batch to the sink, backing off between attempts.
func (w *Worker) store(ctx context.Context, tokens []*model.IssuedToken) error {
	delay := w.cfg.RetryDelay
	for attempt := 1; ; attempt++ {
		start := time.Now()
		err := w.sink.RecordIssuedTokens(ctx, tokens)
		if err == nil {
			took := time.Since(start)
			w.rec.ObserveAuditBatch(len(tokens), took)
			for range tokens {
				w.rec.IncAuditEvent(metrics.AuditPersisted)
			}
			w.log.Debug("audit batch stored", "batch_size", len(tokens), "duration_ms", float64(took.Microseconds())/1000)
			return nil
		}

		if attempt >= w.cfg.Attempts {
			for range tokens {
				w.rec.IncAuditEvent(metrics.AuditFailed)
			}
			w.log.Error("audit batch not stored, leaving it pending", "batch_size", len(tokens), "attempts", attempt, "error", err)
			return fmt.Errorf("record issued tokens: %w", err)
		}

		w.log.Warn("audit batch insert failed, retrying", "attempt", attempt, "backoff_ms", delay.Milliseconds(), "error", err)
		if !sleepContext(ctx, delay) {
			return ctx.Err()
		}
		delay *= 2
	}
}

// sleepContext reports whether d elapsed before ctx was done.
func sleepContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
