package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/watchparty/internal/domain"
	"github.com/immxrtalbeast/watchparty/internal/repository"
	"github.com/immxrtalbeast/watchparty/lib/logger/sl"
)

type UserService struct {
	users repository.UserRepository
	log   *slog.Logger
}

func NewUserService(users repository.UserRepository, log *slog.Logger) *UserService {
	return &UserService{users: users, log: log}
}

func (s *UserService) CreateUser(ctx context.Context, name string, email string) (*domain.User, error) {
	const op = "service.user.create"
	log := s.log.With(slog.String("op", op))

	log.Info("creating user")
	name = strings.TrimSpace(name)
	if name == "" {
		log.Error("no name provided")
		return nil, fmt.Errorf("%w: name is required", domain.ErrInvalidArgument)
	}
	user := domain.NewUser(name, strings.TrimSpace(email))
	if err := s.users.Create(ctx, user); err != nil {
		log.Error("failed to create user", sl.Err(err))
		return nil, err
	}
	return user, nil
}

func (s *UserService) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	const op = "service.user.get"
	log := s.log.With(slog.String("op", op), slog.String("user_id", id.String()))

	log.Debug("getting user")
	return s.users.GetByID(ctx, id)
}

func (s *UserService) UpdateUser(ctx context.Context, user *domain.User) error {
	if user == nil {
		return fmt.Errorf("%w: user is required", domain.ErrInvalidArgument)
	}
	user.UpdatedAt = time.Now().UTC()
	return s.users.Update(ctx, user)
}

// ResolveIdentity builds the caller identity. A registered user supplies the
// display name; otherwise the name given by the caller is used.
func (s *UserService) ResolveIdentity(ctx context.Context, userID, displayName string) (domain.Identity, error) {
	const op = "service.user.resolveIdentity"
	log := s.log.With(slog.String("op", op), slog.String("user_id", userID))

	identity := domain.Identity{
		ID:   strings.TrimSpace(userID),
		Name: strings.TrimSpace(displayName),
	}

	if id, err := uuid.Parse(identity.ID); err == nil {
		user, err := s.users.GetByID(ctx, id)
		switch {
		case err == nil:
			identity.Name = user.Name
		case errors.Is(err, repository.ErrUserNotFound):
		default:
			log.Warn("identity store lookup failed", sl.Err(err))
		}
	}

	if !identity.IsSet() {
		return domain.Identity{}, fmt.Errorf("%s: %w: user identity is not set", op, domain.ErrPrecondition)
	}
	return identity, nil
}
