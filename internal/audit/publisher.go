// Package audit moves issued-token records from the request path to the
// durable store through a Redis stream.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dualauth/dualauth/internal/metrics"
	"github.com/dualauth/dualauth/internal/model"
)

const (
	// StreamKey is the Redis stream for issued-token events.
	StreamKey = "stream:token_audit"

	// DeadLetterStreamKey is the Redis stream for poison messages.
	DeadLetterStreamKey = "stream:token_audit:dlq"

	// MaxStreamLen is the approximate max length of the stream.
	MaxStreamLen = 100000
)

// IssuedTokenPayload is the compact event format stored in the stream.
type IssuedTokenPayload struct {
	ID        string `json:"id"`
	Username  string `json:"u"`
	Kind      string `json:"k"`
	TokenID   string `json:"jti"`
	IssuedAt  int64  `json:"iat"` // Unix milliseconds
	ExpiresAt int64  `json:"exp"` // Unix milliseconds
}

// NewPayload converts an audit record into its stream form.
func NewPayload(tok *model.IssuedToken) IssuedTokenPayload {
	return IssuedTokenPayload{
		ID:        tok.ID,
		Username:  tok.Username,
		Kind:      string(tok.Kind),
		TokenID:   tok.TokenID,
		IssuedAt:  tok.IssuedAt.UnixMilli(),
		ExpiresAt: tok.ExpiresAt.UnixMilli(),
	}
}

// IssuedToken converts the payload back into an audit record.
func (p IssuedTokenPayload) IssuedToken() *model.IssuedToken {
	return &model.IssuedToken{
		ID:        p.ID,
		Username:  p.Username,
		Kind:      model.TokenKind(p.Kind),
		TokenID:   p.TokenID,
		IssuedAt:  time.UnixMilli(p.IssuedAt).UTC(),
		ExpiresAt: time.UnixMilli(p.ExpiresAt).UTC(),
	}
}

// Publisher enqueues issued-token events to the Redis stream.
type Publisher struct {
	redis   *redis.Client
	logger  *slog.Logger
	metrics metrics.Recorder
}

// NewPublisher creates a new audit event publisher.
func NewPublisher(client *redis.Client, logger *slog.Logger, recorder metrics.Recorder) *Publisher {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Publisher{
		redis:   client,
		logger:  logger.With("component", "audit.publisher"),
		metrics: recorder,
	}
}

// RecordIssuedToken publishes tok to the stream. The durable write happens
// later in the Worker.
func (p *Publisher) RecordIssuedToken(ctx context.Context, tok *model.IssuedToken) error {
	streamID, err := p.Publish(ctx, NewPayload(tok))
	if err != nil {
		p.metrics.IncAuditEvent(metrics.AuditDropped)
		return err
	}

	p.logger.Debug("token audit event published",
		"token_id", tok.TokenID,
		"kind", string(tok.Kind),
		"stream_id", streamID,
	)
	p.metrics.IncAuditEvent(metrics.AuditPublished)
	return nil
}

// Publish adds an event to the stream synchronously.
func (p *Publisher) Publish(ctx context.Context, event IssuedTokenPayload) (string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	result, err := p.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		MaxLen: MaxStreamLen,
		Approx: true, // ~MAXLEN for performance
		ID:     "*",
		Values: map[string]interface{}{
			"payload": string(data),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}

	return result, nil
}
