package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dualauth/dualauth/internal/auth"
	"github.com/dualauth/dualauth/internal/handler/dto"
	"github.com/dualauth/dualauth/internal/middleware"
	"github.com/dualauth/dualauth/internal/model"
	"github.com/dualauth/dualauth/internal/service"
)

// AuthService is the subset of service.AuthService used by the handlers.
type AuthService interface {
	Register(ctx context.Context, input service.RegisterInput) (*service.RegisterResult, error)
	Login(ctx context.Context, input service.LoginInput) (*service.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (*service.RefreshResult, error)
	LookupUser(ctx context.Context, username string) (*service.LookupResult, error)
}

// AuthHandler handles registration, login, token refresh and the
// protected endpoints.
type AuthHandler struct {
	svc    AuthService
	logger *slog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(svc AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		svc:    svc,
		logger: logger,
	}
}

// Register handles POST /register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req dto.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.svc.Register(r.Context(), service.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, dto.RegisterResponse{
		OK:      true,
		User:    result.User,
		Timings: toTimings(result.Timings),
	})
}

// Login handles POST /login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req dto.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.svc.Login(r.Context(), service.LoginInput{
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.LoginResponse{
		OK:           true,
		AccessToken:  result.Tokens.AccessToken,
		RefreshToken: result.Tokens.RefreshToken,
		TokenType:    result.Tokens.TokenType,
		ExpiresIn:    int64(result.Tokens.ExpiresIn.Seconds()),
	})
}

// Refresh handles POST /refresh. The refresh token is read from the
// Authorization header.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.BearerToken(r)
	if !ok {
		writeUnauthorized(w)
		return
	}

	result, err := h.svc.Refresh(r.Context(), token)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.RefreshResponse{
		OK:          true,
		AccessToken: result.AccessToken,
		TokenType:   result.TokenType,
		ExpiresIn:   int64(result.ExpiresIn.Seconds()),
	})
}

// Protected handles GET /protected. Must run behind
// middleware.RequireAccessToken.
func (h *AuthHandler) Protected(w http.ResponseWriter, r *http.Request) {
	principal := auth.PrincipalFromContext(r.Context())
	if principal == nil {
		writeUnauthorized(w)
		return
	}

	writeJSON(w, http.StatusOK, dto.ProtectedResponse{
		OK:        true,
		Message:   "hello, " + principal.Subject,
		Subject:   principal.Subject,
		IssuedAt:  principal.IssuedAt.UTC(),
		ExpiresAt: principal.ExpiresAt.UTC(),
	})
}

func toTimings(t service.Timings) dto.Timings {
	return dto.NewTimings(t.Cache, t.Durable, t.Ratio())
}

func toIssuedTokens(counts map[model.TokenKind]int64) map[string]int64 {
	if len(counts) == 0 {
		return nil
	}
	out := make(map[string]int64, len(counts))
	for kind, n := range counts {
		out[string(kind)] = n
	}
	return out
}
