package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dualauth/dualauth/internal/model"
)

// Store errors the service layer tests with errors.Is.
var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("username already exists")
)

const userColumns = `id, username, email, password_hash, created_at`

// CreateUser inserts a user and returns the committed row. The store
// assigns id and created_at. A taken username yields ErrUserExists; the
// UNIQUE constraint is the only arbiter between concurrent registrations.
func (r *Repository) CreateUser(ctx context.Context, username, email, passwordHash string) (*model.User, error) {
	rows, err := r.pool.Query(ctx,
		`INSERT INTO users (username, email, password_hash) VALUES ($1, $2, $3) RETURNING `+userColumns,
		username, email, passwordHash,
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	user, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[model.User])
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

// GetUserByUsername returns the durable record or ErrUserNotFound.
func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1`,
		username,
	)
	if err != nil {
		return nil, fmt.Errorf("select user: %w", err)
	}

	user, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[model.User])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select user: %w", err)
	}
	return user, nil
}
