package me

import (
	"net/http"
	"time"

	"github.com/tendant/simple-idm-session/internal/http/middleware"
	"github.com/tendant/simple-idm-session/internal/httputil"
	"github.com/tendant/simple-idm-session/pkg/auth"
	"go.uber.org/zap"
)

// Handler handles user profile endpoints.
type Handler struct {
	logger *zap.Logger
	users  auth.UserLookup
}

// NewHandler creates a new me handler.
func NewHandler(logger *zap.Logger, users auth.UserLookup) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{logger: logger, users: users}
}

// UserResponse represents the user profile response.
type UserResponse struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	FirstName   string    `json:"first_name"`
	MiddleName  *string   `json:"middle_name,omitempty"`
	LastName    string    `json:"last_name"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// GetMe returns the current user's profile.
// GET /v1/me
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "authentication_required", "user authorization error", nil)
		return
	}

	user, err := h.users.GetByID(r.Context(), identity.UserID)
	if err != nil {
		h.logger.Warn("profile lookup failed", zap.Stringer("user_id", identity.UserID), zap.Error(err))
		httputil.WriteError(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, UserResponse{
		ID:          user.ID.String(),
		Email:       user.Email,
		FirstName:   user.FirstName,
		MiddleName:  user.MiddleName,
		LastName:    user.LastName,
		DisplayName: user.DisplayName(),
		CreatedAt:   user.CreatedAt,
	}, tokenMeta(identity.Claims))
}

// tokenMeta exposes only the access token's lifetime.
func tokenMeta(claims map[string]any) map[string]any {
	meta := make(map[string]any, 2)
	for _, key := range []string{"iat", "exp"} {
		if v, ok := claims[key]; ok {
			meta[key] = v
		}
	}
	return meta
}
