package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/tendant/simple-idm-session/pkg/domain"
)

const sessionColumns = `id, user_id, client_ip, fingerprint, persistent, expires_at, created_at, updated_at`

// SessionsRepository handles session persistence.
type SessionsRepository struct {
	db  *sql.DB
	now func() time.Time
}

var _ domain.SessionStore = (*SessionsRepository)(nil)

// NewSessionsRepository creates a new sessions repository.
func NewSessionsRepository(db *sql.DB) *SessionsRepository {
	return &SessionsRepository{db: db, now: time.Now}
}

// Create creates a new session.
func (r *SessionsRepository) Create(ctx context.Context, session *domain.Session) error {
	stampSession(session, r.now())
	if !session.ExpiresAt.After(session.CreatedAt) {
		return errInvalidExpiry
	}

	query := `
		INSERT INTO sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		session.ID, session.UserID, session.ClientIP, nullString(session.Fingerprint),
		session.Persistent, session.ExpiresAt, session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// FindByID retrieves a session by ID, or nil if there is none.
func (r *SessionsRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`

	session, err := scanSession(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select session: %w", err)
	}
	return session, nil
}

// FindExpired returns sessions with expires_at before asOf, optionally for one user.
func (r *SessionsRepository) FindExpired(ctx context.Context, asOf time.Time, userID *uuid.UUID) ([]*domain.Session, error) {
	conds := []string{"expires_at < $1"}
	args := []any{asOf}
	if userID != nil {
		args = append(args, *userID)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}
	return r.query(ctx, conds, args)
}

// FindActive returns unexpired sessions matching every supplied filter.
func (r *SessionsRepository) FindActive(ctx context.Context, filter domain.SessionFilter) ([]*domain.Session, error) {
	conds := []string{"expires_at > $1"}
	args := []any{r.now()}
	if filter.UserID != nil {
		args = append(args, *filter.UserID)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.ClientIP != nil {
		args = append(args, *filter.ClientIP)
		conds = append(conds, fmt.Sprintf("client_ip = $%d", len(args)))
	}
	if filter.Fingerprint != nil {
		args = append(args, *filter.Fingerprint)
		conds = append(conds, fmt.Sprintf("fingerprint = $%d", len(args)))
	}
	return r.query(ctx, conds, args)
}

// Delete removes the given sessions in one statement.
func (r *SessionsRepository) Delete(ctx context.Context, sessions ...*domain.Session) error {
	ids := make([]string, 0, len(sessions))
	for _, s := range sessions {
		if s != nil {
			ids = append(ids, s.ID.String())
		}
	}
	if len(ids) == 0 {
		return nil
	}

	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ANY($1::uuid[])`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("delete sessions: %w", err)
	}
	return nil
}

// Consume deletes the session and reports whether a row was removed.
func (r *SessionsRepository) Consume(ctx context.Context, id uuid.UUID) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("consume session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (r *SessionsRepository) query(ctx context.Context, conds []string, args []any) ([]*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE ` +
		strings.Join(conds, " AND ") + ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	session := &domain.Session{}
	var fingerprint sql.NullString
	err := row.Scan(
		&session.ID, &session.UserID, &session.ClientIP, &fingerprint,
		&session.Persistent, &session.ExpiresAt, &session.CreatedAt, &session.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if fingerprint.Valid {
		session.Fingerprint = &fingerprint.String
	}
	return session, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
