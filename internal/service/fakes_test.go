package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dualauth/dualauth/internal/auth"
	"github.com/dualauth/dualauth/internal/metrics"
	"github.com/dualauth/dualauth/internal/model"
	"github.com/dualauth/dualauth/internal/repository"
)

var errDown = errors.New("connection refused")

// eventLog records store calls across fakes so tests can assert ordering.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

// fakeStore is an in-memory CredentialStore enforcing username uniqueness.
type fakeStore struct {
	mu     sync.Mutex
	users  map[string]*model.User
	nextID int64
	log    *eventLog

	getErr             error
	createErr          error
	failGetAfterCreate bool
	created            bool
	gets               int
}

func newFakeStore(log *eventLog) *fakeStore {
	return &fakeStore{users: make(map[string]*model.User), log: log}
}

func (f *fakeStore) CreateUser(ctx context.Context, username, email, passwordHash string) (*model.User, error) {
	f.log.add("durable.create")
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.createErr != nil {
		return nil, f.createErr
	}
	if _, ok := f.users[username]; ok {
		return nil, repository.ErrUserExists
	}

	f.nextID++
	u := &model.User{
		ID:           f.nextID,
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.users[username] = u
	f.created = true

	clone := *u
	return &clone, nil
}

func (f *fakeStore) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	f.log.add("durable.get")
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.gets++
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.failGetAfterCreate && f.created {
		return nil, errDown
	}

	u, ok := f.users[username]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	clone := *u
	return &clone, nil
}

func (f *fakeStore) getCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}

// fakeCache is an in-memory UserCache.
type fakeCache struct {
	mu      sync.Mutex
	entries map[string]model.CachedUser
	log     *eventLog

	getErr    error
	putErr    error
	deleteErr error
}

func newFakeCache(log *eventLog) *fakeCache {
	return &fakeCache{entries: make(map[string]model.CachedUser), log: log}
}

func (f *fakeCache) PutUser(ctx context.Context, username string, user *model.CachedUser) error {
	if user.IsDurable() {
		f.log.add("cache.put_durable")
	} else {
		f.log.add("cache.put_tentative")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.putErr != nil {
		return f.putErr
	}
	f.entries[username] = *user
	return nil
}

func (f *fakeCache) GetUser(ctx context.Context, username string) (*model.CachedUser, error) {
	f.log.add("cache.get")

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.entries[username]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (f *fakeCache) DeleteUser(ctx context.Context, username string) error {
	f.log.add("cache.delete")

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.entries, username)
	return nil
}

func (f *fakeCache) entry(username string) (model.CachedUser, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.entries[username]
	return u, ok
}

func (f *fakeCache) set(username string, u model.CachedUser) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[username] = u
}

// fakeAuditor is an in-memory TokenAuditor.
type fakeAuditor struct {
	mu     sync.Mutex
	tokens []model.IssuedToken
	err    error
}

func (f *fakeAuditor) RecordIssuedToken(ctx context.Context, tok *model.IssuedToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.tokens = append(f.tokens, *tok)
	return nil
}

func (f *fakeAuditor) CountIssuedTokens(ctx context.Context, username string) (map[model.TokenKind]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	counts := make(map[model.TokenKind]int64)
	for _, tok := range f.tokens {
		if tok.Username == username {
			counts[tok.Kind]++
		}
	}
	return counts, nil
}

func (f *fakeAuditor) recorded() []model.IssuedToken {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.IssuedToken(nil), f.tokens...)
}

type testEnv struct {
	svc      *AuthService
	store    *fakeStore
	cache    *fakeCache
	auditor  *fakeAuditor
	recorder *metrics.InMemoryRecorder
	codec    *auth.TokenCodec
	log      *eventLog
}

type envOption func(*AuthDeps)

func withAuditor(a *fakeAuditor) envOption {
	return func(d *AuthDeps) {
		d.Auditor = a
		d.Counter = a
	}
}

func withCodec(c *auth.TokenCodec) envOption {
	return func(d *AuthDeps) { d.Codec = c }
}

func withHasher(h *auth.PasswordHasher) envOption {
	return func(d *AuthDeps) { d.Hasher = h }
}

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	log := &eventLog{}
	store := newFakeStore(log)
	cache := newFakeCache(log)
	recorder := metrics.NewInMemory()

	codec, err := auth.NewTokenCodec(testSecret)
	require.NoError(t, err)

	hasher, err := auth.NewPasswordHasher(auth.HasherConfig{
		Algorithm: auth.AlgorithmArgon2id,
		Argon2:    auth.Argon2Params{Time: 1, MemoryKB: 64, Threads: 1},
	})
	require.NoError(t, err)

	deps := AuthDeps{
		Store:    store,
		Cache:    cache,
		Codec:    codec,
		Hasher:   hasher,
		Recorder: recorder,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&deps)
	}

	svc, err := NewAuthService(deps, AuthConfig{
		AccessTTL:    5 * time.Minute,
		RefreshTTL:   30 * time.Minute,
		StoreTimeout: time.Second,
	})
	require.NoError(t, err)

	env := &testEnv{
		svc:      svc,
		store:    store,
		cache:    cache,
		recorder: recorder,
		codec:    deps.Codec,
		log:      log,
	}
	if a, ok := deps.Auditor.(*fakeAuditor); ok {
		env.auditor = a
	}
	return env
}

func (e *testEnv) register(t *testing.T, username, password string) *RegisterResult {
	t.Helper()
	res, err := e.svc.Register(context.Background(), RegisterInput{
		Username: username,
		Email:    username + "@x.io",
		Password: password,
	})
	require.NoError(t, err)
	return res
}
