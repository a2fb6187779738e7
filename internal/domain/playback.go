package domain

import (
	"fmt"
	"math"
	"time"
)

// PlaybackState is the shared reference point for video playback. Every
// update replaces the previous state as a whole.
type PlaybackState struct {
	ContentID string    `json:"content_id"`
	Offset    float64   `json:"offset"`
	Playing   bool      `json:"playing"`
	UpdatedAt time.Time `json:"updated_at"`
	UpdatedBy string    `json:"updated_by,omitempty"`
}

func NewPlaybackState(contentID string) PlaybackState {
	return PlaybackState{
		ContentID: contentID,
		UpdatedAt: time.Now().UTC(),
	}
}

func ValidateOffset(offset float64) error {
	if math.IsNaN(offset) || math.IsInf(offset, 0) {
		return fmt.Errorf("%w: offset must be finite", ErrInvalidArgument)
	}
	if offset < 0 {
		return fmt.Errorf("%w: offset must not be negative", ErrInvalidArgument)
	}
	return nil
}
