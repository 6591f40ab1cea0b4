package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"

	"github.com/dualauth/dualauth/internal/model"
)

// Token verification errors.
var (
	// ErrTokenInvalid indicates a bad signature or a malformed token.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrTokenExpired indicates the token is past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenWrongKind indicates a valid token presented where the other kind is required.
	ErrTokenWrongKind = fmt.Errorf("%w: wrong token kind", ErrTokenInvalid)
)

// signingMethod is the only algorithm the codec signs with or accepts.
var signingMethod = jwt.SigningMethodHS256

// Claims is the signed payload of a token.
type Claims struct {
	jwt.RegisteredClaims
	Kind model.TokenKind `json:"kind"`
}

// Token is a freshly issued, signed token.
type Token struct {
	Value     string
	ID        string
	Subject   string
	Kind      model.TokenKind
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenCodec issues and verifies HMAC-signed, time-bounded identity tokens.
// Verification is pure computation and never touches a store.
type TokenCodec struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// CodecOption configures a TokenCodec.
type CodecOption func(*TokenCodec)

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) CodecOption {
	return func(c *TokenCodec) {
		c.now = now
	}
}

// WithIssuer sets the "iss" claim and requires it on verification.
func WithIssuer(issuer string) CodecOption {
	return func(c *TokenCodec) {
		c.issuer = issuer
	}
}

// NewTokenCodec creates a TokenCodec signing with the shared secret.
func NewTokenCodec(secret []byte, opts ...CodecOption) (*TokenCodec, error) {
	if len(secret) == 0 {
		return nil, errors.New("token codec: secret is required")
	}

	c := &TokenCodec{
		secret: secret,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Issue signs a token for subject that is valid for ttl from now.
func (c *TokenCodec) Issue(subject string, kind model.TokenKind, ttl time.Duration) (*Token, error) {
	if subject == "" {
		return nil, fmt.Errorf("issue token: %w: empty subject", ErrTokenInvalid)
	}
	if !kind.IsValid() {
		return nil, fmt.Errorf("issue token: %w: unknown kind %q", ErrTokenInvalid, kind)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("issue token: %w: ttl must be positive", ErrTokenInvalid)
	}

	now := c.now()
	issuedAt := jwt.NewNumericDate(now)
	expiresAt := jwt.NewNumericDate(now.Add(ttl))
	// Second precision can collapse very short TTLs onto iat.
	if !expiresAt.After(issuedAt.Time) {
		expiresAt = jwt.NewNumericDate(issuedAt.Add(time.Second))
	}

	id := ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    c.issuer,
			IssuedAt:  issuedAt,
			ExpiresAt: expiresAt,
			ID:        id,
		},
		Kind: kind,
	}

	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString(c.secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	return &Token{
		Value:     signed,
		ID:        id,
		Subject:   subject,
		Kind:      kind,
		IssuedAt:  issuedAt.Time,
		ExpiresAt: expiresAt.Time,
	}, nil
}

// Verify checks the signature and validity window of a token and returns
// its claims. It fails with ErrTokenExpired when now >= exp and with
// ErrTokenInvalid for any other problem.
func (c *TokenCodec) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}

	_, err := jwt.ParseWithClaims(tokenString, claims, c.keyFunc, c.parserOptions()...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	if !claims.Kind.IsValid() {
		return nil, fmt.Errorf("%w: missing or unknown kind", ErrTokenInvalid)
	}

	return claims, nil
}

// VerifyKind verifies a token and additionally requires it to be of kind.
func (c *TokenCodec) VerifyKind(tokenString string, kind model.TokenKind) (*Claims, error) {
	claims, err := c.Verify(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Kind != kind {
		return nil, ErrTokenWrongKind
	}
	return claims, nil
}

func (c *TokenCodec) keyFunc(token *jwt.Token) (any, error) {
	if token.Method.Alg() != signingMethod.Alg() {
		return nil, fmt.Errorf("unexpected signing method: %s", token.Method.Alg())
	}
	return c.secret, nil
}

func (c *TokenCodec) parserOptions() []jwt.ParserOption {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}
	return opts
}

// Principal converts verified claims into the authenticated principal.
func (cl *Claims) Principal() *model.Principal {
	p := &model.Principal{
		Subject: cl.Subject,
		TokenID: cl.ID,
	}
	if cl.IssuedAt != nil {
		p.IssuedAt = cl.IssuedAt.Time
	}
	if cl.ExpiresAt != nil {
		p.ExpiresAt = cl.ExpiresAt.Time
	}
	return p
}
