package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"clinicqueue/internal/auth"
	"clinicqueue/internal/models"
)

type authContextKey struct{}

// protect verifies the bearer token, rejects revoked tokens and enforces the
// allowed functions. Admins pass every role check. An empty role list admits
// any authenticated user.
func (h *Handler) protect(roles []models.Function, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" || h.issuer == nil {
			writeError(w, r, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		claims, err := h.issuer.Parse(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}
		revoked, err := h.revoker.IsRevoked(r.Context(), claims.ID)
		if err != nil {
			h.logger.Error().Err(err).Msg("revocation lookup")
			writeError(w, r, http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}
		if revoked {
			writeError(w, r, http.StatusUnauthorized, "unauthorized", "token revoked")
			return
		}
		if !hasRole(claims.Function, roles) {
			writeError(w, r, http.StatusForbidden, "forbidden", "your function does not allow this action")
			return
		}
		if !h.limiter.AllowUser(claims.UserID()) {
			writeError(w, r, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		ctx := context.WithValue(r.Context(), authContextKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func hasRole(function models.Function, roles []models.Function) bool {
	if len(roles) == 0 || function == models.FunctionAdmin {
		return true
	}
	for _, role := range roles {
		if role == function {
			return true
		}
	}
	return false
}

func claimsFromContext(ctx context.Context) (auth.Claims, bool) {
	claims, ok := ctx.Value(authContextKey{}).(auth.Claims)
	return claims, ok
}

// actorID is the authenticated user id, or empty outside protect.
func actorID(r *http.Request) string {
	claims, _ := claimsFromContext(r.Context())
	return claims.UserID()
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      models.User `json:"user"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeRequest(w, r, &req, false) {
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		writeErrorBody(w, r, http.StatusUnprocessableEntity, responseError{
			Code: "validation_error", Message: "the given data was invalid",
			Fields: map[string]string{"email": "is required", "password": "is required"},
		})
		return
	}
	if h.issuer == nil {
		writeError(w, r, http.StatusUnauthorized, "unauthorized", "login is not configured")
		return
	}

	user, found, err := h.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !found || auth.CheckPassword(user.PasswordHash, req.Password) != nil {
		writeError(w, r, http.StatusUnauthorized, "unauthorized", "invalid credentials")
		return
	}

	token, claims, err := h.issuer.Issue(user)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.logger.Info().Str("user_id", user.ID).Str("function", string(user.Function)).Msg("login")
	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: claims.ExpiresAtTime(), User: user})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFromContext(r.Context())
	if err := h.revoker.Revoke(r.Context(), claims.ID, claims.ExpiresAtTime()); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	user, found, err := h.store.GetUser(r.Context(), actorID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !found {
		writeError(w, r, http.StatusUnauthorized, "unauthorized", "user no longer exists")
		return
	}
	writeJSON(w, http.StatusOK, user)
}
