package domain

import (
	"fmt"
	"time"

	"github.com/pion/webrtc/v3"
)

type EnvelopeType string

const (
	EnvelopeChat         EnvelopeType = "chat"
	EnvelopeReaction     EnvelopeType = "reaction"
	EnvelopeSystem       EnvelopeType = "system"
	EnvelopeStateUpdate  EnvelopeType = "state_update"
	EnvelopeSession      EnvelopeType = "session"
	EnvelopeLeave        EnvelopeType = "leave"
	EnvelopeOffer        EnvelopeType = "offer"
	EnvelopeAnswer       EnvelopeType = "answer"
	EnvelopeICECandidate EnvelopeType = "ice-candidate"
	EnvelopeError        EnvelopeType = "error"
)

// Envelope is the wire unit exchanged between participants of one session.
// Exactly one of the payload fields is populated, selected by Type.
type Envelope struct {
	Type      EnvelopeType               `json:"type"`
	SessionID string                     `json:"session_id,omitempty"`
	SenderID  string                     `json:"sender_id,omitempty"`
	TargetID  string                     `json:"target_id,omitempty"`
	Seq       uint64                     `json:"seq,omitempty"`
	Message   *Message                   `json:"message,omitempty"`
	State     *PlaybackState             `json:"state,omitempty"`
	Session   *Session                   `json:"session,omitempty"`
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	Error     string                     `json:"error,omitempty"`
	TS        time.Time                  `json:"ts"`
}

func NewMessageEnvelope(sessionID string, msg Message) Envelope {
	var t EnvelopeType
	switch msg.Kind {
	case MessageKindChat:
		t = EnvelopeChat
	case MessageKindReaction:
		t = EnvelopeReaction
	default:
		t = EnvelopeSystem
	}
	m := msg
	return Envelope{
		Type:      t,
		SessionID: sessionID,
		SenderID:  msg.SenderID,
		Message:   &m,
		TS:        time.Now().UTC(),
	}
}

func NewStateEnvelope(sessionID, senderID string, state PlaybackState) Envelope {
	st := state
	return Envelope{
		Type:      EnvelopeStateUpdate,
		SessionID: sessionID,
		SenderID:  senderID,
		State:     &st,
		TS:        time.Now().UTC(),
	}
}

func NewErrorEnvelope(sessionID string, err error) Envelope {
	return Envelope{
		Type:      EnvelopeError,
		SessionID: sessionID,
		Error:     err.Error(),
		TS:        time.Now().UTC(),
	}
}

// Validate checks that the payload matching Type is present.
func (e Envelope) Validate() error {
	switch e.Type {
	case EnvelopeChat, EnvelopeReaction, EnvelopeSystem:
		if e.Message == nil {
			return fmt.Errorf("%w: %s envelope without message", ErrInvalidArgument, e.Type)
		}
		if e.Type == EnvelopeReaction && e.Message.MediaURL == "" {
			return fmt.Errorf("%w: reaction envelope without media url", ErrInvalidArgument)
		}
	case EnvelopeStateUpdate:
		if e.State == nil {
			return fmt.Errorf("%w: state_update envelope without state", ErrInvalidArgument)
		}
		return ValidateOffset(e.State.Offset)
	case EnvelopeSession:
		if e.Session == nil {
			return fmt.Errorf("%w: session envelope without session", ErrInvalidArgument)
		}
	case EnvelopeOffer, EnvelopeAnswer:
		if e.SDP == nil {
			return fmt.Errorf("%w: %s envelope without sdp", ErrInvalidArgument, e.Type)
		}
	case EnvelopeICECandidate:
		if e.Candidate == nil {
			return fmt.Errorf("%w: ice-candidate envelope without candidate", ErrInvalidArgument)
		}
	case EnvelopeLeave:
	case EnvelopeError:
		if e.Error == "" {
			return fmt.Errorf("%w: error envelope without error", ErrInvalidArgument)
		}
	default:
		return fmt.Errorf("%w: unsupported envelope type %q", ErrInvalidArgument, e.Type)
	}
	return nil
}

// IsSignal reports whether the envelope belongs to the offer/answer/ICE
// negotiation.
func (e Envelope) IsSignal() bool {
	return e.Type == EnvelopeOffer || e.Type == EnvelopeAnswer || e.Type == EnvelopeICECandidate
}
