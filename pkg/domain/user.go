package domain

import (
	"time"

	"github.com/google/uuid"
)

// User represents the account.
type User struct {
	ID           uuid.UUID
	Email        string
	FirstName    string
	MiddleName   *string
	LastName     string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DisplayName joins the non-empty name parts.
func (u *User) DisplayName() string {
	name := u.FirstName
	if u.MiddleName != nil && *u.MiddleName != "" {
		name += " " + *u.MiddleName
	}
	if u.LastName != "" {
		name += " " + u.LastName
	}
	return name
}

// Identity is the authenticated principal attached to a request.
type Identity struct {
	UserID uuid.UUID
	Email  string
	Claims map[string]any
}
