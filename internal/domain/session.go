package domain

import (
	"crypto/rand"
	"math/big"
	"time"

	"github.com/google/uuid"
)

const (
	AccessCodeLength   = 6
	accessCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// Session is a watch-party instance. It carries no lock of its own: the
// registry serializes mutations and hands out clones to readers.
type Session struct {
	ID           uuid.UUID      `json:"id"`
	Name         string         `json:"name"`
	HostID       string         `json:"host_id"`
	ContentID    string         `json:"content_id"`
	ContentTitle string         `json:"content_title"`
	CreatedAt    time.Time      `json:"created_at"`
	IsPrivate    bool           `json:"is_private"`
	AccessCode   string         `json:"access_code,omitempty"`
	Participants []*Participant `json:"participants"`
	Messages     []Message      `json:"messages"`
	State        PlaybackState  `json:"state"`
}

// NewSession builds a session with the caller as sole participant and host.
func NewSession(host Identity, contentID, contentTitle string, isPrivate bool) *Session {
	s := &Session{
		ID:           uuid.New(),
		Name:         host.Name + "'s Watch Party",
		HostID:       host.ID,
		ContentID:    contentID,
		ContentTitle: contentTitle,
		CreatedAt:    time.Now().UTC(),
		IsPrivate:    isPrivate,
		Participants: []*Participant{NewParticipant(host, true)},
		Messages:     make([]Message, 0),
		State:        NewPlaybackState(contentID),
	}
	if isPrivate {
		s.AccessCode = GenerateAccessCode()
	}
	return s
}

// GenerateAccessCode draws AccessCodeLength characters uniformly from
// [A-Z0-9].
func GenerateAccessCode() string {
	limit := big.NewInt(int64(len(accessCodeAlphabet)))
	code := make([]byte, AccessCodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			panic("crypto/rand unavailable: " + err.Error())
		}
		code[i] = accessCodeAlphabet[n.Int64()]
	}
	return string(code)
}

func (s *Session) Participant(id string) (*Participant, bool) {
	for _, p := range s.Participants {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

func (s *Session) Host() (*Participant, bool) {
	for _, p := range s.Participants {
		if p.IsHost {
			return p, true
		}
	}
	return nil, false
}

// AddParticipant appends p to the roster in join order. Callers check for
// duplicates beforehand.
func (s *Session) AddParticipant(p *Participant) {
	p.IsHost = false
	s.Participants = append(s.Participants, p)
}

// RemoveParticipant drops the participant with the given ID. When the host
// leaves and others remain, the earliest-joined participant is promoted and
// returned as newHost.
func (s *Session) RemoveParticipant(id string) (removed *Participant, newHost *Participant) {
	idx := -1
	for i, p := range s.Participants {
		if p.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, nil
	}

	removed = s.Participants[idx]
	s.Participants = append(s.Participants[:idx:idx], s.Participants[idx+1:]...)

	if !removed.IsHost || len(s.Participants) == 0 {
		return removed, nil
	}

	newHost = s.Participants[0]
	for _, p := range s.Participants[1:] {
		if p.JoinedAt.Before(newHost.JoinedAt) {
			newHost = p
		}
	}
	newHost.IsHost = true
	s.HostID = newHost.ID
	return removed, newHost
}

// AppendMessage stamps msg with the next sequence number and appends it.
func (s *Session) AppendMessage(msg Message) Message {
	msg.Seq = uint64(len(s.Messages)) + 1
	s.Messages = append(s.Messages, msg)
	return msg
}

func (s *Session) IsEmpty() bool {
	return len(s.Participants) == 0
}

// Redacted returns a clone without the access code, for fan-out to
// participants that are not the host.
func (s *Session) Redacted() *Session {
	c := s.Clone()
	if c != nil {
		c.AccessCode = ""
	}
	return c
}

// Clone returns a deep copy safe to hand to concurrent readers.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Participants = make([]*Participant, len(s.Participants))
	for i, p := range s.Participants {
		pc := *p
		c.Participants[i] = &pc
	}
	c.Messages = make([]Message, len(s.Messages))
	copy(c.Messages, s.Messages)
	return &c
}
