package service

import (
	"context"
	"testing"

	"github.com/immxrtalbeast/watchparty/internal/domain"
	"github.com/immxrtalbeast/watchparty/internal/repository"
	"github.com/immxrtalbeast/watchparty/lib/logger/handlers/slogdiscard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserService_CreateAndResolve(t *testing.T) {
	svc := NewUserService(repository.NewInMemoryUserRepository(), slogdiscard.NewDiscardLogger())
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, "  ", "")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	user, err := svc.CreateUser(ctx, "Ada", "ada@example.com")
	require.NoError(t, err)

	identity, err := svc.ResolveIdentity(ctx, user.ID.String(), "Someone Else")
	require.NoError(t, err)
	assert.Equal(t, domain.Identity{ID: user.ID.String(), Name: "Ada"}, identity)

	guest, err := svc.ResolveIdentity(ctx, "guest-7", "Guest")
	require.NoError(t, err)
	assert.Equal(t, "Guest", guest.Name)

	_, err = svc.ResolveIdentity(ctx, "guest-7", "")
	assert.ErrorIs(t, err, domain.ErrPrecondition)

	_, err = svc.ResolveIdentity(ctx, "", "Nameless")
	assert.ErrorIs(t, err, domain.ErrPrecondition)
}

func TestUserService_Update(t *testing.T) {
	svc := NewUserService(repository.NewInMemoryUserRepository(), slogdiscard.NewDiscardLogger())
	ctx := context.Background()
	user, err := svc.CreateUser(ctx, "Ada", "")
	require.NoError(t, err)

	user.Name = "Ada L."
	require.NoError(t, svc.UpdateUser(ctx, user))

	got, err := svc.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada L.", got.Name)

	assert.ErrorIs(t, svc.UpdateUser(ctx, nil), domain.ErrInvalidArgument)
}
