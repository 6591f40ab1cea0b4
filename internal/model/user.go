// Package model defines domain entities for the application.
package model

import (
	"strconv"
	"time"
)

// User is a registered principal as stored in the durable store.
type User struct {
	ID           int64     `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"` // Never serialize
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// PublicUser is the subset of User fields safe to return to clients.
type PublicUser struct {
	ID        int64      `json:"id,omitempty"`
	Username  string     `json:"username"`
	Email     string     `json:"email"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// Public returns the client-facing view of the user.
func (u *User) Public() *PublicUser {
	p := &PublicUser{
		ID:       u.ID,
		Username: u.Username,
		Email:    u.Email,
	}
	if !u.CreatedAt.IsZero() {
		createdAt := u.CreatedAt
		p.CreatedAt = &createdAt
	}
	return p
}

// ToCachedUser converts a durable record into its cache representation.
func (u *User) ToCachedUser() *CachedUser {
	return &CachedUser{
		ID:           strconv.FormatInt(u.ID, 10),
		Username:     u.Username,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// CachedUser is the fast cache view of a User.
// All values are strings because they are stored as Redis hash fields.
// ID and CreatedAt are empty for a tentative entry written before the
// durable insert committed.
type CachedUser struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    string
}

// NewTentativeCachedUser builds a cache entry from the fields known before
// the durable store has assigned an ID.
func NewTentativeCachedUser(username, email, passwordHash string) *CachedUser {
	return &CachedUser{
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
	}
}

// IsDurable reports whether the entry carries a durable-store ID.
// Only durable entries are trusted on the login fast path.
func (c *CachedUser) IsDurable() bool {
	id, err := strconv.ParseInt(c.ID, 10, 64)
	return err == nil && id > 0
}

// Fields returns the entry as a Redis hash field map.
// Empty optional fields are omitted.
func (c *CachedUser) Fields() map[string]any {
	fields := map[string]any{
		"username":      c.Username,
		"email":         c.Email,
		"password_hash": c.PasswordHash,
	}
	if c.ID != "" {
		fields["id"] = c.ID
	}
	if c.CreatedAt != "" {
		fields["created_at"] = c.CreatedAt
	}
	return fields
}

// ToUser converts a cache entry back into a User.
// Unparseable ID or CreatedAt values are left zero.
func (c *CachedUser) ToUser() *User {
	u := &User{
		Username:     c.Username,
		Email:        c.Email,
		PasswordHash: c.PasswordHash,
	}
	if id, err := strconv.ParseInt(c.ID, 10, 64); err == nil {
		u.ID = id
	}
	if t, err := time.Parse(time.RFC3339Nano, c.CreatedAt); err == nil {
		u.CreatedAt = t
	}
	return u
}
