package converter

import (
	"time"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/watchparty/internal/domain"
)

type UserResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	IsGuest   bool      `json:"is_guest"`
	CreatedAt time.Time `json:"created_at"`
}

// IdentityResponse is what a client sends back as X-User-Id and X-User-Name.
type IdentityResponse struct {
	ParticipantID string `json:"participant_id"`
	DisplayName   string `json:"display_name"`
}

func UserToApi(u *domain.User) *UserResponse {
	if u == nil {
		return nil
	}
	return &UserResponse{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		IsGuest:   u.IsGuest,
		CreatedAt: u.CreatedAt,
	}
}

func IdentityToApi(i domain.Identity) IdentityResponse {
	return IdentityResponse{ParticipantID: i.ID, DisplayName: i.Name}
}
