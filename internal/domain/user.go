package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// User represents a profile kept by the identity store. It is only consulted
// to give participants a display name.
type User struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	IsGuest   bool      `json:"is_guest"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewUser(name string, email string) *User {
	now := time.Now().UTC()
	return &User{
		ID:        uuid.New(),
		Name:      name,
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Identity is the caller on whose behalf a session operation runs.
type Identity struct {
	ID   string
	Name string
}

func (u *User) Identity() Identity {
	return Identity{ID: u.ID.String(), Name: u.Name}
}

func (i Identity) IsSet() bool {
	return strings.TrimSpace(i.ID) != "" && strings.TrimSpace(i.Name) != ""
}
