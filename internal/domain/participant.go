package domain

import "time"

type ParticipantStatus string

const (
	ParticipantStatusConnected    ParticipantStatus = "connected"
	ParticipantStatusConnecting   ParticipantStatus = "connecting"
	ParticipantStatusDisconnected ParticipantStatus = "disconnected"
)

// Participant is a user attached to a watch-party session.
type Participant struct {
	ID          string            `json:"id"`
	DisplayName string            `json:"display_name"`
	IsHost      bool              `json:"is_host"`
	Status      ParticipantStatus `json:"status"`
	JoinedAt    time.Time         `json:"joined_at"`
}

func NewParticipant(identity Identity, isHost bool) *Participant {
	return &Participant{
		ID:          identity.ID,
		DisplayName: identity.Name,
		IsHost:      isHost,
		Status:      ParticipantStatusConnecting,
		JoinedAt:    time.Now().UTC(),
	}
}

func (p *Participant) IsConnected() bool {
	return p.Status == ParticipantStatusConnected
}
