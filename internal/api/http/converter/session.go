package converter

import (
	"time"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/watchparty/internal/domain"
)

type SessionResponse struct {
	ID               uuid.UUID             `json:"id"`
	Name             string                `json:"name"`
	HostID           string                `json:"host_id"`
	ContentID        string                `json:"content_id"`
	ContentTitle     string                `json:"content_title"`
	IsPrivate        bool                  `json:"is_private"`
	AccessCode       string                `json:"access_code,omitempty"`
	CreatedAt        time.Time             `json:"created_at"`
	ParticipantCount int                   `json:"participant_count"`
	Participants     []ParticipantResponse `json:"participants"`
	Messages         []MessageResponse     `json:"messages,omitempty"`
	State            PlaybackResponse      `json:"state"`
}

type ParticipantResponse struct {
	ID          string                   `json:"id"`
	DisplayName string                   `json:"display_name"`
	IsHost      bool                     `json:"is_host"`
	Status      domain.ParticipantStatus `json:"status"`
	IsConnected bool                     `json:"is_connected"`
	JoinedAt    time.Time                `json:"joined_at"`
}

type MessageResponse struct {
	ID         uuid.UUID          `json:"id"`
	Seq        uint64             `json:"seq"`
	Kind       domain.MessageKind `json:"kind"`
	SenderID   string             `json:"sender_id"`
	SenderName string             `json:"sender_name"`
	Content    string             `json:"content"`
	MediaURL   string             `json:"media_url,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
}

type PlaybackResponse struct {
	ContentID string    `json:"content_id"`
	Offset    float64   `json:"offset"`
	Playing   bool      `json:"playing"`
	UpdatedAt time.Time `json:"updated_at"`
	UpdatedBy string    `json:"updated_by,omitempty"`
}

func SessionToApi(s *domain.Session) *SessionResponse {
	if s == nil {
		return nil
	}
	resp := SessionSummaryToApi(s)
	resp.Messages = make([]MessageResponse, 0, len(s.Messages))
	for _, m := range s.Messages {
		resp.Messages = append(resp.Messages, MessageToApi(m))
	}
	return resp
}

// SessionSummaryToApi omits the message history, for listings.
func SessionSummaryToApi(s *domain.Session) *SessionResponse {
	participants := make([]ParticipantResponse, 0, len(s.Participants))
	for _, p := range s.Participants {
		participants = append(participants, ParticipantResponse{
			ID:          p.ID,
			DisplayName: p.DisplayName,
			IsHost:      p.IsHost,
			Status:      p.Status,
			IsConnected: p.IsConnected(),
			JoinedAt:    p.JoinedAt,
		})
	}

	return &SessionResponse{
		ID:               s.ID,
		Name:             s.Name,
		HostID:           s.HostID,
		ContentID:        s.ContentID,
		ContentTitle:     s.ContentTitle,
		IsPrivate:        s.IsPrivate,
		AccessCode:       s.AccessCode,
		CreatedAt:        s.CreatedAt,
		ParticipantCount: len(participants),
		Participants:     participants,
		State:            PlaybackToApi(s.State),
	}
}

func MessageToApi(m domain.Message) MessageResponse {
	return MessageResponse{
		ID:         m.ID,
		Seq:        m.Seq,
		Kind:       m.Kind,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Content:    m.Content,
		MediaURL:   m.MediaURL,
		CreatedAt:  m.CreatedAt,
	}
}

func PlaybackToApi(st domain.PlaybackState) PlaybackResponse {
	return PlaybackResponse{
		ContentID: st.ContentID,
		Offset:    st.Offset,
		Playing:   st.Playing,
		UpdatedAt: st.UpdatedAt,
		UpdatedBy: st.UpdatedBy,
	}
}
