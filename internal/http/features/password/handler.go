package password

import (
	"errors"
	"net/http"

	"github.com/tendant/simple-idm-session/internal/httputil"
	"github.com/tendant/simple-idm-session/pkg/auth"
	"github.com/tendant/simple-idm-session/pkg/domain"
	"go.uber.org/zap"
)

// Handler handles password account endpoints.
type Handler struct {
	logger          *zap.Logger
	passwordService *auth.PasswordService
}

// NewHandler creates a new password handler.
func NewHandler(logger *zap.Logger, passwordService *auth.PasswordService) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		logger:          logger,
		passwordService: passwordService,
	}
}

// RegisterRequest represents a registration request.
type RegisterRequest struct {
	Email      string  `json:"email" validate:"required,email,max=255"`
	Password   string  `json:"password" validate:"required,max=128"`
	FirstName  string  `json:"first_name" validate:"required,max=100"`
	MiddleName *string `json:"middle_name,omitempty" validate:"omitempty,max=100"`
	LastName   string  `json:"last_name" validate:"required,max=100"`
}

// RegisterResponse is returned for a new account.
type RegisterResponse struct {
	UUID  string `json:"uuid"`
	Email string `json:"email"`
}

// Register creates a password account. It does not open a session.
// POST /v1/auth/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err)
		return
	}
	if fields := httputil.Validate(req); fields != nil {
		httputil.ValidationFailed(w, fields)
		return
	}

	user, err := h.passwordService.Register(r.Context(), auth.RegisterInput{
		Email:      req.Email,
		Password:   req.Password,
		FirstName:  req.FirstName,
		MiddleName: req.MiddleName,
		LastName:   req.LastName,
	})
	if err != nil {
		var policyErr *auth.PolicyError
		if errors.As(err, &policyErr) {
			httputil.ValidationFailed(w, map[string]string{"password": policyErr.Error()})
			return
		}
		if !errors.Is(err, domain.ErrUserAlreadyExists) {
			h.logger.Error("registration failed", zap.Error(err))
		}
		httputil.WriteError(w, err)
		return
	}

	h.logger.Info("user registered", zap.Stringer("user_id", user.ID))
	httputil.JSON(w, http.StatusCreated, RegisterResponse{
		UUID:  user.ID.String(),
		Email: user.Email,
	})
}
