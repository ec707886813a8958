package repository

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/tendant/simple-idm-session/pkg/domain"
)

// MemoryUsersRepository keeps accounts in process memory. Emails are
// matched case-insensitively like the unique index on users.email.
type MemoryUsersRepository struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]domain.User
	byEmail map[string]uuid.UUID
}

// NewMemoryUsersRepository creates an empty repository.
func NewMemoryUsersRepository() *MemoryUsersRepository {
	return &MemoryUsersRepository{
		byID:    make(map[uuid.UUID]domain.User),
		byEmail: make(map[string]uuid.UUID),
	}
}

// Create stores a new user.
func (r *MemoryUsersRepository) Create(_ context.Context, user *domain.User) error {
	key := strings.ToLower(user.Email)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byEmail[key]; exists {
		return domain.ErrUserAlreadyExists
	}
	r.byID[user.ID] = *user
	r.byEmail[key] = user.ID
	return nil
}

// GetByID retrieves a user by ID.
func (r *MemoryUsersRepository) GetByID(_ context.Context, id uuid.UUID) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &user, nil
}

// GetByEmail retrieves a user by email.
func (r *MemoryUsersRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	r.mu.RLock()
	id, ok := r.byEmail[strings.ToLower(email)]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return r.GetByID(ctx, id)
}

// ExistsByEmail reports whether an account uses email.
func (r *MemoryUsersRepository) ExistsByEmail(_ context.Context, email string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byEmail[strings.ToLower(email)]
	return ok, nil
}
