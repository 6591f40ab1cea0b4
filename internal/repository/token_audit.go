package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dualauth/dualauth/internal/model"
)

// RecordIssuedTokens stores audit rows for issued tokens in one batch.
// Rows whose token_id already exists are skipped, so redelivered batches
// are harmless.
func (r *Repository) RecordIssuedTokens(ctx context.Context, tokens []*model.IssuedToken) error {
	if len(tokens) == 0 {
		return nil
	}

	batch := &pgx.Batch{}

	query := `
		INSERT INTO issued_tokens (id, username, kind, token_id, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (token_id) DO NOTHING
	`

	for _, tok := range tokens {
		batch.Queue(query,
			tok.ID,
			tok.Username,
			string(tok.Kind),
			tok.TokenID,
			tok.IssuedAt,
			tok.ExpiresAt,
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for i := range tokens {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to record issued token %d: %w", i, err)
		}
	}

	return nil
}

// CountIssuedTokens returns the number of audited tokens per kind for username.
func (r *Repository) CountIssuedTokens(ctx context.Context, username string) (map[model.TokenKind]int64, error) {
	query := `
		SELECT kind, COUNT(*)
		FROM issued_tokens
		WHERE username = $1
		GROUP BY kind
	`

	rows, err := r.pool.Query(ctx, query, username)
	if err != nil {
		return nil, fmt.Errorf("failed to count issued tokens: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.TokenKind]int64)
	for rows.Next() {
		var (
			kind  string
			count int64
		)
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("failed to scan issued token count: %w", err)
		}
		counts[model.TokenKind(kind)] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate issued token counts: %w", err)
	}

	return counts, nil
}
