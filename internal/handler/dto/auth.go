// Package dto provides Data Transfer Objects for API requests and responses.
package dto

import (
	"time"

	"github.com/dualauth/dualauth/internal/model"
)

// RegisterRequest represents the request body for POST /register.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest represents the request body for POST /login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Timings reports per-store latency for one request in milliseconds.
type Timings struct {
	CacheMs             float64 `json:"cache_ms"`
	DurableMs           float64 `json:"durable_ms"`
	DurableVsCacheRatio float64 `json:"durable_vs_cache_ratio"`
}

// NewTimings converts store durations into the response form.
func NewTimings(cache, durable time.Duration, ratio float64) Timings {
	return Timings{
		CacheMs:             durationMs(cache),
		DurableMs:           durationMs(durable),
		DurableVsCacheRatio: ratio,
	}
}

func durationMs(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

// RegisterResponse is returned by POST /register.
type RegisterResponse struct {
	OK      bool              `json:"ok"`
	User    *model.PublicUser `json:"user"`
	Timings Timings           `json:"timings"`
}

// LoginResponse is returned by POST /login.
type LoginResponse struct {
	OK           bool   `json:"ok"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"` // seconds
}

// RefreshResponse is returned by POST /refresh.
type RefreshResponse struct {
	OK          bool   `json:"ok"`
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"` // seconds
}

// ProtectedResponse is returned by GET /protected.
type ProtectedResponse struct {
	OK        bool      `json:"ok"`
	Message   string    `json:"message"`
	Subject   string    `json:"subject"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// UserLookupResponse is returned by GET /users/{username}.
type UserLookupResponse struct {
	OK           bool              `json:"ok"`
	CacheUser    *model.PublicUser `json:"cache_user"`
	DurableUser  *model.PublicUser `json:"durable_user"`
	CacheDurable bool              `json:"cache_durable"`
	IssuedTokens map[string]int64  `json:"issued_tokens,omitempty"`
	Timings      Timings           `json:"timings"`
}

// ErrorResponse represents an error in API responses.
type ErrorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	Code  string `json:"code"`
}
