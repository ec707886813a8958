package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-idm-session/pkg/domain"
)

// UserStore is the persistence the credential checks need.
type UserStore interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
}

// RegisterInput carries the fields accepted at sign-up.
type RegisterInput struct {
	Email      string
	Password   string
	FirstName  string
	MiddleName *string
	LastName   string
}

// PasswordService handles password authentication.
type PasswordService struct {
	users  UserStore
	policy PasswordPolicy
	now    func() time.Time
}

// PasswordOption configures a PasswordService.
type PasswordOption func(*PasswordService)

// WithPasswordPolicy enforces policy on registration. Without it any
// password is accepted.
func WithPasswordPolicy(policy PasswordPolicy) PasswordOption {
	return func(s *PasswordService) { s.policy = policy }
}

// NewPasswordService creates a new password service.
func NewPasswordService(users UserStore, opts ...PasswordOption) *PasswordService {
	s := &PasswordService{users: users, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a new user with password credentials.
func (s *PasswordService) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	email := NormalizeEmail(in.Email)

	if err := s.policy.Check(in.Password); err != nil {
		return nil, err
	}

	exists, err := s.users.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, domain.ErrUserAlreadyExists
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	var middle *string
	if in.MiddleName != nil {
		m := SanitizeName(*in.MiddleName)
		middle = &m
	}

	now := s.now()
	user := &domain.User{
		ID:           uuid.New(),
		Email:        email,
		FirstName:    SanitizeName(in.FirstName),
		MiddleName:   middle,
		LastName:     SanitizeName(in.LastName),
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// VerifyCredentials returns the user owning email if password matches.
// Unknown emails and wrong passwords both yield ErrInvalidCredentials.
func (s *PasswordService) VerifyCredentials(ctx context.Context, email, password string) (*domain.User, error) {
	user, err := s.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			// Burn the same hashing cost as a real check.
			VerifyPassword(password, dummyHash())
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}

	if !VerifyPassword(password, user.PasswordHash) {
		return nil, domain.ErrInvalidCredentials
	}
	return user, nil
}

var (
	dummyHashOnce  sync.Once
	dummyHashValue string
)

func dummyHash() string {
	dummyHashOnce.Do(func() {
		dummyHashValue, _ = HashPassword(uuid.NewString())
	})
	return dummyHashValue
}

// NormalizeEmail normalizes an email address by lowercasing and trimming.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
