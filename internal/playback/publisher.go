package playback

import (
	"context"
	"time"

	"github.com/immxrtalbeast/watchparty/internal/domain"
	"github.com/immxrtalbeast/watchparty/internal/transport"
)

// TransportPublisher sends local changes as state_update envelopes.
type TransportPublisher struct {
	transport     transport.Transport
	participantID string
	contentID     string
}

func NewTransportPublisher(t transport.Transport, participantID, contentID string) *TransportPublisher {
	return &TransportPublisher{
		transport:     t,
		participantID: participantID,
		contentID:     contentID,
	}
}

func (p *TransportPublisher) Publish(ctx context.Context, offset float64, playing bool) (domain.PlaybackState, error) {
	if err := domain.ValidateOffset(offset); err != nil {
		return domain.PlaybackState{}, err
	}

	state := domain.PlaybackState{
		ContentID: p.contentID,
		Offset:    offset,
		Playing:   playing,
		UpdatedAt: time.Now().UTC(),
		UpdatedBy: p.participantID,
	}
	env := domain.NewStateEnvelope("", p.participantID, state)
	if err := p.transport.Send(ctx, env); err != nil {
		return domain.PlaybackState{}, err
	}
	return state, nil
}
