package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/tendant/simple-idm-session/pkg/domain"
)

const userColumns = `id, email, password_hash, firstname, middlename, lastname, created_at, updated_at`

// pq error code for unique_violation.
const uniqueViolation = "23505"

// UsersRepository handles user persistence.
type UsersRepository struct {
	db *sql.DB
}

// NewUsersRepository creates a new users repository.
func NewUsersRepository(db *sql.DB) *UsersRepository {
	return &UsersRepository{db: db}
}

// Create creates a new user. A duplicate email is reported as
// domain.ErrUserAlreadyExists.
func (r *UsersRepository) Create(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		user.ID, user.Email, user.PasswordHash, user.FirstName, nullString(user.MiddleName),
		user.LastName, user.CreatedAt, user.UpdatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return domain.ErrUserAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *UsersRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

// GetByEmail retrieves a user by email.
func (r *UsersRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, email))
}

// ExistsByEmail checks if a user with the given email exists.
func (r *UsersRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)`, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check user email: %w", err)
	}
	return exists, nil
}

func scanUser(row rowScanner) (*domain.User, error) {
	user := &domain.User{}
	var middle sql.NullString
	err := row.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.FirstName, &middle,
		&user.LastName, &user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select user: %w", err)
	}
	if middle.Valid {
		user.MiddleName = &middle.String
	}
	return user, nil
}
