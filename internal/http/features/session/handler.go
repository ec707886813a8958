package session

import (
	"errors"
	"net/http"

	"github.com/tendant/simple-idm-session/internal/httputil"
	"github.com/tendant/simple-idm-session/pkg/auth"
	"github.com/tendant/simple-idm-session/pkg/domain"
	"go.uber.org/zap"
)

// Handler handles session endpoints.
type Handler struct {
	logger         *zap.Logger
	sessionService *auth.SessionService
	cookieConfig   httputil.CookieConfig
}

// NewHandler creates a new session handler.
func NewHandler(logger *zap.Logger, sessionService *auth.SessionService, cookieConfig httputil.CookieConfig) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		logger:         logger,
		sessionService: sessionService,
		cookieConfig:   cookieConfig,
	}
}

// LoginRequest represents a login request.
type LoginRequest struct {
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required"`
	RememberMe bool   `json:"remember_me"`
}

// Login opens a session.
// POST /v1/auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err)
		return
	}
	if fields := httputil.Validate(req); fields != nil {
		httputil.ValidationFailed(w, fields)
		return
	}

	tokens, err := h.sessionService.Login(r.Context(), auth.LoginInput{
		Email:       req.Email,
		Password:    req.Password,
		RememberMe:  req.RememberMe,
		ClientIP:    auth.ClientIP(r),
		Fingerprint: auth.RequestFingerprint(r),
	})
	if err != nil {
		h.fail(w, r, "login failed", err)
		return
	}

	h.writeTokens(w, tokens)
}

// Refresh rotates the session named by the cookie.
// POST /v1/auth/refresh
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	sessionID, _ := httputil.SessionIDFromCookie(r, h.cookieConfig)

	tokens, err := h.sessionService.Refresh(r.Context(), auth.RefreshInput{
		SessionID: sessionID,
		ClientIP:  auth.ClientIP(r),
	})
	if err != nil {
		h.fail(w, r, "refresh failed", err)
		return
	}

	h.writeTokens(w, tokens)
}

// Logout closes the session named by the cookie. It always answers 204 and
// clears the cookie, whether or not the session existed.
// GET|POST /v1/auth/logout
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	sessionID, _ := httputil.SessionIDFromCookie(r, h.cookieConfig)

	if err := h.sessionService.Logout(r.Context(), sessionID); err != nil {
		h.logger.Error("logout failed", zap.Error(err))
	}

	httputil.ClearSessionCookie(w, h.cookieConfig)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeTokens(w http.ResponseWriter, tokens *domain.SessionTokens) {
	httputil.SetSessionCookie(w, tokens.SessionID.String(), tokens.SessionExpiresAt, h.cookieConfig)
	httputil.JSON(w, http.StatusOK, tokens)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	if domain.ShouldClearCookie(err) {
		httputil.ClearSessionCookie(w, h.cookieConfig)
	}
	var authErr *domain.AuthError
	if !errors.As(err, &authErr) {
		h.logger.Error(msg, zap.String("path", r.URL.Path), zap.Error(err))
	}
	httputil.WriteError(w, err)
}
