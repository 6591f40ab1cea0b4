// Package service provides business logic for the application.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/dualauth/dualauth/internal/auth"
	"github.com/dualauth/dualauth/internal/metrics"
	"github.com/dualauth/dualauth/internal/model"
	"github.com/dualauth/dualauth/internal/repository"
)

// TokenTypeBearer is the token_type reported to clients.
const TokenTypeBearer = "Bearer"

// dummyPassword is hashed once at startup so unknown-user logins spend the
// same verification time as wrong-password logins.
const dummyPassword = "dualauth-timing-equalizer"

// CredentialStore is the durable, authoritative user store.
type CredentialStore interface {
	CreateUser(ctx context.Context, username, email, passwordHash string) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
}

// UserCache is the fast, non-authoritative user store.
type UserCache interface {
	PutUser(ctx context.Context, username string, user *model.CachedUser) error
	GetUser(ctx context.Context, username string) (*model.CachedUser, error)
	DeleteUser(ctx context.Context, username string) error
}

// TokenAuditor records issued tokens. Optional.
type TokenAuditor interface {
	RecordIssuedToken(ctx context.Context, tok *model.IssuedToken) error
}

// TokenCounter reports audited token counts per kind. Optional.
type TokenCounter interface {
	CountIssuedTokens(ctx context.Context, username string) (map[model.TokenKind]int64, error)
}

// AuthConfig holds AuthService tunables.
type AuthConfig struct {
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	StoreTimeout time.Duration
}

// AuthDeps holds AuthService collaborators. Auditor, Counter, Recorder and
// Logger are optional.
type AuthDeps struct {
	Store    CredentialStore
	Cache    UserCache
	Codec    *auth.TokenCodec
	Hasher   *auth.PasswordHasher
	Auditor  TokenAuditor
	Counter  TokenCounter
	Recorder metrics.Recorder
	Logger   *slog.Logger
}

// AuthService handles registration, login and token flows, and keeps the
// fast cache consistent with the durable store.
type AuthService struct {
	store     CredentialStore
	cache     UserCache
	codec     *auth.TokenCodec
	hasher    *auth.PasswordHasher
	auditor   TokenAuditor
	counter   TokenCounter
	metrics   metrics.Recorder
	logger    *slog.Logger
	cfg       AuthConfig
	dummyHash string
}

// NewAuthService creates a new AuthService.
func NewAuthService(deps AuthDeps, cfg AuthConfig) (*AuthService, error) {
	if deps.Store == nil || deps.Cache == nil || deps.Codec == nil || deps.Hasher == nil {
		return nil, errors.New("auth service: store, cache, codec and hasher are required")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("auth service: token TTLs must be positive")
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 2 * time.Second
	}
	if deps.Recorder == nil {
		deps.Recorder = metrics.NewNoop()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	dummyHash, err := deps.Hasher.Hash(dummyPassword)
	if err != nil {
		return nil, fmt.Errorf("auth service: hash dummy password: %w", err)
	}

	return &AuthService{
		store:     deps.Store,
		cache:     deps.Cache,
		codec:     deps.Codec,
		hasher:    deps.Hasher,
		auditor:   deps.Auditor,
		counter:   deps.Counter,
		metrics:   deps.Recorder,
		logger:    deps.Logger,
		cfg:       cfg,
		dummyHash: dummyHash,
	}, nil
}

// Timings accumulates time spent in each store during one operation.
type Timings struct {
	Cache   time.Duration
	Durable time.Duration
}

// Ratio returns durable time divided by cache time, or 0 if the cache was
// not consulted.
func (t Timings) Ratio() float64 {
	if t.Cache <= 0 {
		return 0
	}
	return float64(t.Durable) / float64(t.Cache)
}

// RegisterInput defines input for registering a user.
type RegisterInput struct {
	Username string `json:"username" validate:"required,max=64,username"`
	Email    string `json:"email" validate:"required,max=254"`
	Password string `json:"password" validate:"required,max=256"`
}

// RegisterResult is the outcome of a successful registration.
type RegisterResult struct {
	User    *model.PublicUser
	Timings Timings
}

// Register creates a user in the durable store and mirrors it into the cache.
//
// The cache is written first with a tentative entry (no id), then the user
// is inserted durably, then the cache is overwritten with the committed
// record. If the insert fails the tentative entry is removed. The write path
// ignores client cancellation so a disconnect cannot strand it halfway.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*RegisterResult, error) {
	input.Username = strings.TrimSpace(input.Username)
	input.Email = strings.TrimSpace(input.Email)

	check := input
	check.Password = strings.TrimSpace(input.Password)
	if err := validateInput(check); err != nil {
		s.metrics.IncRegistration(metrics.OutcomeRejected)
		return nil, err
	}
	if limit := s.hasher.MaxPasswordBytes(); limit > 0 && len(input.Password) > limit {
		s.metrics.IncRegistration(metrics.OutcomeRejected)
		return nil, fmt.Errorf("%w: Password must be at most %d bytes", ErrInvalidField, limit)
	}

	ctx = context.WithoutCancel(ctx)
	username := input.Username
	var timings Timings

	// Step 1: Durable pre-check
	_, err := s.durableGetUser(ctx, username, &timings)
	switch {
	case err == nil:
		s.metrics.IncRegistration(metrics.OutcomeConflict)
		return nil, ErrUserAlreadyExists
	case !errors.Is(err, repository.ErrUserNotFound):
		s.metrics.IncRegistration(metrics.OutcomeFailed)
		return nil, storeUnavailable(err)
	}

	// Step 2: Hash
	hash, err := s.hasher.Hash(input.Password)
	if errors.Is(err, auth.ErrPasswordTooLong) {
		s.metrics.IncRegistration(metrics.OutcomeRejected)
		return nil, fmt.Errorf("%w: Password", ErrInvalidField)
	}
	if err != nil {
		s.metrics.IncRegistration(metrics.OutcomeFailed)
		return nil, fmt.Errorf("hash password: %w", err)
	}

	// Step 3: Tentative cache write
	if err := s.cachePutUser(ctx, username, model.NewTentativeCachedUser(username, input.Email, hash), &timings); err != nil {
		s.logger.Warn("tentative cache write failed", "username", username, "error", err)
	}

	// Step 4: Durable insert
	created, err := s.durableCreateUser(ctx, username, input.Email, hash, &timings)
	if err != nil {
		s.rollbackCache(ctx, username, &timings)
		if errors.Is(err, repository.ErrUserExists) {
			s.metrics.IncRegistration(metrics.OutcomeConflict)
			return nil, ErrUserAlreadyExists
		}
		s.metrics.IncRegistration(metrics.OutcomeFailed)
		return nil, storeUnavailable(err)
	}

	// Step 5: Re-read committed record and reconcile the cache
	stored, err := s.durableGetUser(ctx, username, &timings)
	if err != nil {
		s.logger.Warn("re-read after insert failed, using inserted record", "username", username, "error", err)
		stored = created
	}
	if err := s.cachePutUser(ctx, username, stored.ToCachedUser(), &timings); err != nil {
		s.logger.Warn("cache reconcile failed", "username", username, "error", err)
	}

	s.metrics.IncRegistration(metrics.OutcomeSuccess)
	s.logTimings("user registered", username, timings)

	return &RegisterResult{
		User:    stored.Public(),
		Timings: timings,
	}, nil
}

// LoginInput defines input for a password login.
type LoginInput struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=256"`
}

// LoginResult is the outcome of a successful login.
type LoginResult struct {
	Tokens    model.TokenPair
	FromCache bool
	Timings   Timings
}

// Login verifies credentials and issues an access and a refresh token.
// Unknown users and wrong passwords fail identically with
// ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	input.Username = strings.TrimSpace(input.Username)

	check := input
	check.Password = strings.TrimSpace(input.Password)
	if err := validateInput(check); err != nil {
		s.metrics.IncLogin(metrics.OutcomeRejected)
		return nil, err
	}

	username := input.Username
	var timings Timings

	user, fromCache, err := s.loadCredentials(ctx, username, &timings)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			_, _ = auth.VerifyPassword(input.Password, s.dummyHash)
			s.metrics.IncLogin(metrics.OutcomeRejected)
			return nil, ErrInvalidCredentials
		}
		s.metrics.IncLogin(metrics.OutcomeFailed)
		return nil, storeUnavailable(err)
	}

	ok, err := auth.VerifyPassword(input.Password, user.PasswordHash)
	if err != nil && fromCache {
		// Unreadable hash in the cache; retry against the durable record.
		s.logger.Warn("cached password hash unreadable, falling back to durable store", "username", username, "error", err)
		user, err = s.durableGetUser(ctx, username, &timings)
		if err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				s.metrics.IncLogin(metrics.OutcomeRejected)
				return nil, ErrInvalidCredentials
			}
			s.metrics.IncLogin(metrics.OutcomeFailed)
			return nil, storeUnavailable(err)
		}
		fromCache = false
		ok, err = auth.VerifyPassword(input.Password, user.PasswordHash)
	}
	if err != nil {
		s.logger.Error("stored password hash unreadable", "username", username, "error", err)
	}
	if !ok {
		s.metrics.IncLogin(metrics.OutcomeRejected)
		return nil, ErrInvalidCredentials
	}

	if !fromCache {
		if err := s.cachePutUser(ctx, username, user.ToCachedUser(), &timings); err != nil {
			s.logger.Warn("cache warm failed", "username", username, "error", err)
		}
	}

	access, err := s.issue(ctx, username, model.TokenKindAccess, s.cfg.AccessTTL)
	if err != nil {
		s.metrics.IncLogin(metrics.OutcomeFailed)
		return nil, err
	}
	refresh, err := s.issue(ctx, username, model.TokenKindRefresh, s.cfg.RefreshTTL)
	if err != nil {
		s.metrics.IncLogin(metrics.OutcomeFailed)
		return nil, err
	}

	s.metrics.IncLogin(metrics.OutcomeSuccess)
	s.logTimings("user logged in", username, timings, "from_cache", fromCache)

	return &LoginResult{
		Tokens: model.TokenPair{
			AccessToken:  access.Value,
			RefreshToken: refresh.Value,
			TokenType:    TokenTypeBearer,
			ExpiresIn:    s.cfg.AccessTTL,
		},
		FromCache: fromCache,
		Timings:   timings,
	}, nil
}

// RefreshResult is a newly minted access token.
type RefreshResult struct {
	AccessToken string
	TokenType   string
	ExpiresIn   time.Duration
	ExpiresAt   time.Time
}

// Refresh exchanges a valid refresh token for a new access token for the
// same subject. The refresh token itself is not rotated.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	claims, err := s.codec.VerifyKind(refreshToken, model.TokenKindRefresh)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	access, err := s.issue(ctx, claims.Subject, model.TokenKindAccess, s.cfg.AccessTTL)
	if err != nil {
		return nil, err
	}

	return &RefreshResult{
		AccessToken: access.Value,
		TokenType:   TokenTypeBearer,
		ExpiresIn:   s.cfg.AccessTTL,
		ExpiresAt:   access.ExpiresAt,
	}, nil
}

// Authorize verifies an access token and returns its principal. It performs
// no store I/O.
func (s *AuthService) Authorize(accessToken string) (*model.Principal, error) {
	claims, err := s.codec.VerifyKind(accessToken, model.TokenKindAccess)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return claims.Principal(), nil
}

// LookupResult is the view of one user from both stores.
type LookupResult struct {
	CacheUser    *model.PublicUser
	DurableUser  *model.PublicUser
	CacheDurable bool
	IssuedTokens map[model.TokenKind]int64
	Timings      Timings
}

// LookupUser reads username from both stores and reports their latencies.
func (s *AuthService) LookupUser(ctx context.Context, username string) (*LookupResult, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("%w: username", ErrMissingField)
	}

	result := &LookupResult{}

	cached, err := s.cacheGetUser(ctx, username, &result.Timings)
	if err != nil {
		s.logger.Warn("cache lookup failed", "username", username, "error", err)
	} else if cached != nil {
		result.CacheUser = cached.ToUser().Public()
		result.CacheDurable = cached.IsDurable()
	}

	stored, err := s.durableGetUser(ctx, username, &result.Timings)
	switch {
	case err == nil:
		result.DurableUser = stored.Public()
	case errors.Is(err, repository.ErrUserNotFound):
	case result.CacheUser == nil:
		return nil, storeUnavailable(err)
	default:
		s.logger.Warn("durable lookup failed", "username", username, "error", err)
	}

	if result.CacheUser == nil && result.DurableUser == nil {
		return nil, ErrUserNotFound
	}

	if s.counter != nil && result.DurableUser != nil {
		counts, err := s.countIssuedTokens(ctx, username)
		if err != nil {
			s.logger.Warn("issued token count failed", "username", username, "error", err)
		} else {
			result.IssuedTokens = counts
		}
	}

	s.logTimings("user looked up", username, result.Timings)

	return result, nil
}

// loadCredentials returns the user record used for password verification.
// A cache entry is only trusted when it carries a durable id; cache errors
// degrade to a durable read.
func (s *AuthService) loadCredentials(ctx context.Context, username string, timings *Timings) (*model.User, bool, error) {
	cached, err := s.cacheGetUser(ctx, username, timings)
	switch {
	case err != nil:
		s.logger.Warn("cache read failed, falling back to durable store", "username", username, "error", err)
	case cached != nil && cached.IsDurable():
		s.metrics.IncUserCacheHit()
		return cached.ToUser(), true, nil
	}
	s.metrics.IncUserCacheMiss()

	user, err := s.durableGetUser(ctx, username, timings)
	if err != nil {
		return nil, false, err
	}
	return user, false, nil
}

// issue signs a token and records it in the audit log when enabled.
func (s *AuthService) issue(ctx context.Context, username string, kind model.TokenKind, ttl time.Duration) (*auth.Token, error) {
	tok, err := s.codec.Issue(username, kind, ttl)
	if err != nil {
		return nil, fmt.Errorf("issue %s token: %w", kind, err)
	}
	s.metrics.IncTokenIssued(string(kind))

	if s.auditor != nil {
		s.recordIssuedToken(ctx, tok)
	}

	return tok, nil
}

func (s *AuthService) recordIssuedToken(ctx context.Context, tok *auth.Token) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StoreTimeout)
	defer cancel()

	start := time.Now()
	err := s.auditor.RecordIssuedToken(ctx, &model.IssuedToken{
		ID:        ulid.Make().String(),
		Username:  tok.Subject,
		Kind:      tok.Kind,
		TokenID:   tok.ID,
		IssuedAt:  tok.IssuedAt,
		ExpiresAt: tok.ExpiresAt,
	})
	s.metrics.ObserveStoreLatency(metrics.StoreAudit, "record_issued_token", time.Since(start))
	if err != nil {
		s.logger.Warn("token audit write failed", "username", tok.Subject, "kind", tok.Kind, "error", err)
	}
}

func (s *AuthService) countIssuedTokens(ctx context.Context, username string) (map[model.TokenKind]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	start := time.Now()
	counts, err := s.counter.CountIssuedTokens(ctx, username)
	s.metrics.ObserveStoreLatency(metrics.StoreDurable, "count_issued_tokens", time.Since(start))
	return counts, err
}

func (s *AuthService) rollbackCache(ctx context.Context, username string, timings *Timings) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	start := time.Now()
	err := s.cache.DeleteUser(ctx, username)
	s.observe(metrics.StoreCache, "delete_user", start, &timings.Cache)
	if err != nil {
		s.logger.Warn("cache rollback failed", "username", username, "error", err)
	}
}

func (s *AuthService) cacheGetUser(ctx context.Context, username string, timings *Timings) (*model.CachedUser, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	start := time.Now()
	cached, err := s.cache.GetUser(ctx, username)
	s.observe(metrics.StoreCache, "get_user", start, &timings.Cache)
	return cached, err
}

func (s *AuthService) cachePutUser(ctx context.Context, username string, user *model.CachedUser, timings *Timings) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	start := time.Now()
	err := s.cache.PutUser(ctx, username, user)
	s.observe(metrics.StoreCache, "put_user", start, &timings.Cache)
	return err
}

func (s *AuthService) durableGetUser(ctx context.Context, username string, timings *Timings) (*model.User, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	start := time.Now()
	user, err := s.store.GetUserByUsername(ctx, username)
	s.observe(metrics.StoreDurable, "get_user", start, &timings.Durable)
	return user, err
}

func (s *AuthService) durableCreateUser(ctx context.Context, username, email, hash string, timings *Timings) (*model.User, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	start := time.Now()
	user, err := s.store.CreateUser(ctx, username, email, hash)
	s.observe(metrics.StoreDurable, "create_user", start, &timings.Durable)
	return user, err
}

func (s *AuthService) observe(store, op string, start time.Time, total *time.Duration) {
	d := time.Since(start)
	s.metrics.ObserveStoreLatency(store, op, d)
	*total += d
}

func (s *AuthService) logTimings(msg, username string, t Timings, extra ...any) {
	args := []any{
		"username", username,
		"cache_ms", float64(t.Cache.Microseconds()) / 1000,
		"durable_ms", float64(t.Durable.Microseconds()) / 1000,
		"durable_vs_cache_ratio", t.Ratio(),
	}
	s.logger.Info(msg, append(args, extra...)...)
}

func storeUnavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
