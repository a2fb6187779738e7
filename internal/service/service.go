package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/watchparty/internal/domain"
	"github.com/immxrtalbeast/watchparty/internal/provider/gif"
	"github.com/immxrtalbeast/watchparty/internal/provider/tmdb"
	"github.com/immxrtalbeast/watchparty/internal/repository"
	"github.com/immxrtalbeast/watchparty/internal/transport"
)

type SessionInteractor interface {
	CreateSession(ctx context.Context, identity domain.Identity, contentID, contentTitle string, isPrivate bool) (*domain.Session, error)
	JoinSession(ctx context.Context, identity domain.Identity, sessionID uuid.UUID, accessCode string) (*domain.Session, error)
	LeaveSession(ctx context.Context, participantID string) error
	SendChatMessage(ctx context.Context, participantID, content string) (*domain.Message, error)
	SendReaction(ctx context.Context, participantID, content, mediaURL string) (*domain.Message, error)
	UpdatePlaybackState(ctx context.Context, participantID string, offset float64, playing bool) (*domain.PlaybackState, error)
	GetCurrentSession(ctx context.Context, participantID string) (*domain.Session, error)
	GetSession(ctx context.Context, sessionID uuid.UUID, participantID string) (*domain.Session, error)
	ListSessions(ctx context.Context) ([]*domain.Session, error)
	HandleEnvelope(ctx context.Context, participantID string, env domain.Envelope) error
	Attach(ctx context.Context, sessionID uuid.UUID, participantID string) (transport.Transport, error)
	SetConnectivity(ctx context.Context, participantID string, status domain.ParticipantStatus) error
	Subscribe(sessionID uuid.UUID) (<-chan repository.SessionEvent, func())
}

type UserInteractor interface {
	CreateUser(ctx context.Context, name string, email string) (*domain.User, error)
	GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error)
	UpdateUser(ctx context.Context, user *domain.User) error
	ResolveIdentity(ctx context.Context, userID, displayName string) (domain.Identity, error)
}

// ReactionSearcher finds reaction media. Implementations never fail.
type ReactionSearcher interface {
	Search(ctx context.Context, query string, limit int) gif.Response
	Trending(ctx context.Context, limit int) gif.Response
	MovieReaction(ctx context.Context, emotion string, limit int) gif.Response
}

type ContentCatalog interface {
	GetDetails(ctx context.Context, contentID string) (tmdb.MovieDetails, error)
	Search(ctx context.Context, query string, page int) (tmdb.MovieResponse, error)
	GetSimilar(ctx context.Context, contentID string, page int) (tmdb.MovieResponse, error)
	GetRecommendations(ctx context.Context, contentID string, page int) (tmdb.MovieResponse, error)
	Title(ctx context.Context, contentID string) string
}

// ContentResolver names content for new sessions.
type ContentResolver interface {
	Title(ctx context.Context, contentID string) string
}
