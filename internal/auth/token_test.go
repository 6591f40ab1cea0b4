package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dualauth/dualauth/internal/model"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

// fixedClock returns a clock pinned to t; advance moves it forward.
type fixedClock struct {
	t time.Time
}

func (c *fixedClock) Now() time.Time          { return c.t }
func (c *fixedClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCodec(t *testing.T, clock *fixedClock, opts ...CodecOption) *TokenCodec {
	t.Helper()

	opts = append([]CodecOption{WithClock(clock.Now)}, opts...)
	codec, err := NewTokenCodec(testSecret, opts...)
	require.NoError(t, err)
	return codec
}

func TestNewTokenCodec_RequiresSecret(t *testing.T) {
	t.Parallel()

	_, err := NewTokenCodec(nil)
	require.Error(t, err)
}

func TestIssueVerify_RoundTrip(t *testing.T) {
	t.Parallel()

	clock := &fixedClock{t: time.Unix(1_700_000_000, 0)}
	codec := newTestCodec(t, clock)

	tok, err := codec.Issue("alice", model.TokenKindAccess, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "alice", tok.Subject)
	assert.Equal(t, model.TokenKindAccess, tok.Kind)
	assert.NotEmpty(t, tok.ID)
	assert.WithinDuration(t, clock.t, tok.IssuedAt, 0)
	assert.WithinDuration(t, clock.t.Add(5*time.Minute), tok.ExpiresAt, 0)
	assert.Len(t, strings.Split(tok.Value, "."), 3)

	claims, err := codec.Verify(tok.Value)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, model.TokenKindAccess, claims.Kind)
	assert.Equal(t, tok.ID, claims.ID)
	assert.True(t, claims.ExpiresAt.After(claims.IssuedAt.Time))

	p := claims.Principal()
	assert.Equal(t, "alice", p.Subject)
	assert.Equal(t, tok.ID, p.TokenID)
	assert.WithinDuration(t, tok.ExpiresAt, p.ExpiresAt, 0)
}

func TestIssue_RejectsBadInput(t *testing.T) {
	t.Parallel()

	codec := newTestCodec(t, &fixedClock{t: time.Unix(1_700_000_000, 0)})

	tests := []struct {
		name    string
		subject string
		kind    model.TokenKind
		ttl     time.Duration
	}{
		{"empty subject", "", model.TokenKindAccess, time.Minute},
		{"zero ttl", "alice", model.TokenKindAccess, 0},
		{"negative ttl", "alice", model.TokenKindRefresh, -time.Minute},
		{"unknown kind", "alice", model.TokenKind("session"), time.Minute},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := codec.Issue(tt.subject, tt.kind, tt.ttl)
			assert.ErrorIs(t, err, ErrTokenInvalid)
		})
	}
}

func TestVerify_ExpiryBoundary(t *testing.T) {
	t.Parallel()

	clock := &fixedClock{t: time.Unix(1_700_000_000, 0)}
	codec := newTestCodec(t, clock)

	tok, err := codec.Issue("alice", model.TokenKindAccess, 5*time.Minute)
	require.NoError(t, err)

	clock.advance(5*time.Minute - time.Second)
	_, err = codec.Verify(tok.Value)
	require.NoError(t, err, "token must be valid one second before exp")

	clock.advance(time.Second)
	_, err = codec.Verify(tok.Value)
	assert.ErrorIs(t, err, ErrTokenExpired, "token must be expired at exp")

	clock.advance(time.Hour)
	_, err = codec.Verify(tok.Value)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerify_IssuedInFuture(t *testing.T) {
	t.Parallel()

	clock := &fixedClock{t: time.Unix(1_700_000_000, 0)}
	codec := newTestCodec(t, clock)

	tok, err := codec.Issue("alice", model.TokenKindAccess, 5*time.Minute)
	require.NoError(t, err)

	clock.advance(-time.Minute)
	_, err = codec.Verify(tok.Value)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerify_WrongSecret(t *testing.T) {
	t.Parallel()

	clock := &fixedClock{t: time.Unix(1_700_000_000, 0)}
	codec := newTestCodec(t, clock)

	other, err := NewTokenCodec([]byte("another-secret-another-secret-xx"), WithClock(clock.Now))
	require.NoError(t, err)

	tok, err := other.Issue("alice", model.TokenKindAccess, time.Minute)
	require.NoError(t, err)

	_, err = codec.Verify(tok.Value)
	assert.ErrorIs(t, err, ErrTokenInvalid)
	assert.False(t, errors.Is(err, ErrTokenExpired))
}

func TestVerify_Malformed(t *testing.T) {
	t.Parallel()

	codec := newTestCodec(t, &fixedClock{t: time.Unix(1_700_000_000, 0)})

	for _, raw := range []string{"", "garbage", "a.b.c", "abc.def"} {
		_, err := codec.Verify(raw)
		assert.ErrorIs(t, err, ErrTokenInvalid, "input %q", raw)
	}
}

func TestVerify_RejectsOtherAlgorithms(t *testing.T) {
	t.Parallel()

	clock := &fixedClock{t: time.Unix(1_700_000_000, 0)}
	codec := newTestCodec(t, clock)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			IssuedAt:  jwt.NewNumericDate(clock.t),
			ExpiresAt: jwt.NewNumericDate(clock.t.Add(time.Minute)),
		},
		Kind: model.TokenKindAccess,
	}

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(testSecret)
	require.NoError(t, err)
	_, err = codec.Verify(hs512)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = codec.Verify(none)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerify_RequiresKindAndSubject(t *testing.T) {
	t.Parallel()

	clock := &fixedClock{t: time.Unix(1_700_000_000, 0)}
	codec := newTestCodec(t, clock)

	base := jwt.RegisteredClaims{
		Subject:   "alice",
		IssuedAt:  jwt.NewNumericDate(clock.t),
		ExpiresAt: jwt.NewNumericDate(clock.t.Add(time.Minute)),
	}

	noKind, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: base}).SignedString(testSecret)
	require.NoError(t, err)
	_, err = codec.Verify(noKind)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	anon := base
	anon.Subject = ""
	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: anon, Kind: model.TokenKindAccess}).SignedString(testSecret)
	require.NoError(t, err)
	_, err = codec.Verify(noSubject)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	noExp := base
	noExp.ExpiresAt = nil
	unbounded, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: noExp, Kind: model.TokenKindAccess}).SignedString(testSecret)
	require.NoError(t, err)
	_, err = codec.Verify(unbounded)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyKind(t *testing.T) {
	t.Parallel()

	clock := &fixedClock{t: time.Unix(1_700_000_000, 0)}
	codec := newTestCodec(t, clock)

	access, err := codec.Issue("alice", model.TokenKindAccess, 5*time.Minute)
	require.NoError(t, err)
	refresh, err := codec.Issue("alice", model.TokenKindRefresh, 30*time.Minute)
	require.NoError(t, err)

	_, err = codec.VerifyKind(access.Value, model.TokenKindAccess)
	require.NoError(t, err)
	_, err = codec.VerifyKind(refresh.Value, model.TokenKindRefresh)
	require.NoError(t, err)

	_, err = codec.VerifyKind(access.Value, model.TokenKindRefresh)
	assert.ErrorIs(t, err, ErrTokenWrongKind)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	_, err = codec.VerifyKind(refresh.Value, model.TokenKindAccess)
	assert.ErrorIs(t, err, ErrTokenWrongKind)
}

func TestIssue_DistinctWithinSameSecond(t *testing.T) {
	t.Parallel()

	codec := newTestCodec(t, &fixedClock{t: time.Unix(1_700_000_000, 0)})

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		tok, err := codec.Issue("alice", model.TokenKindAccess, time.Minute)
		require.NoError(t, err)
		require.False(t, seen[tok.Value], "duplicate token issued")
		seen[tok.Value] = true
	}
}

func TestIssuer(t *testing.T) {
	t.Parallel()

	clock := &fixedClock{t: time.Unix(1_700_000_000, 0)}
	withIss := newTestCodec(t, clock, WithIssuer("dualauth"))
	noIss := newTestCodec(t, clock)

	tok, err := withIss.Issue("alice", model.TokenKindAccess, time.Minute)
	require.NoError(t, err)
	claims, err := withIss.Verify(tok.Value)
	require.NoError(t, err)
	assert.Equal(t, "dualauth", claims.Issuer)

	foreign, err := noIss.Issue("alice", model.TokenKindAccess, time.Minute)
	require.NoError(t, err)
	_, err = withIss.Verify(foreign.Value)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}
