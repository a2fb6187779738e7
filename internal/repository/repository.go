package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/watchparty/internal/domain"
)

var (
	ErrAccessCodeExists = errors.New("access code already in use")
	ErrSessionExists    = errors.New("session already exists")
	ErrUserNotFound     = errors.New("user not found")
	ErrUserEmailExists  = errors.New("user with email already exists")
)

type SessionEventType string

const (
	SessionEventUpdated SessionEventType = "updated"
	SessionEventClosed  SessionEventType = "closed"
)

// SessionEvent is pushed to subscribers after every committed mutation.
type SessionEvent struct {
	Type    SessionEventType
	Session *domain.Session
}

// SessionRepository is the session registry. Readers always receive clones;
// Update applies a mutation atomically and discards it when fn fails.
type SessionRepository interface {
	Create(ctx context.Context, session *domain.Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Session, error)
	Update(ctx context.Context, id uuid.UUID, fn func(*domain.Session) error) (*domain.Session, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context) ([]*domain.Session, error)
	Subscribe(id uuid.UUID) (<-chan SessionEvent, func())
}

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	Update(ctx context.Context, user *domain.User) error
}
