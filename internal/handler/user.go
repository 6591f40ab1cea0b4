package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dualauth/dualauth/internal/handler/dto"
)

// LookupUser handles GET /users/{username}. It shows the user as held by
// each store along with the latency of each read.
func (h *AuthHandler) LookupUser(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	result, err := h.svc.LookupUser(r.Context(), username)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.UserLookupResponse{
		OK:           true,
		CacheUser:    result.CacheUser,
		DurableUser:  result.DurableUser,
		CacheDurable: result.CacheDurable,
		IssuedTokens: toIssuedTokens(result.IssuedTokens),
		Timings:      toTimings(result.Timings),
	})
}
