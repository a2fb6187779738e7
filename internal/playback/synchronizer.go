// Package playback keeps a local player aligned with the shared session state.
package playback

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/immxrtalbeast/watchparty/internal/domain"
	"github.com/immxrtalbeast/watchparty/lib/logger/sl"
)

const (
	DefaultDriftThreshold = 2 * time.Second
	DefaultPushInterval   = 5 * time.Second
)

// Player is the local media element being synchronized. Offsets are seconds.
type Player interface {
	CurrentTime() float64
	Paused() bool
	Seek(offset float64)
	Play()
	Pause()
}

// Publisher forwards a locally originated change and returns the state as
// it was recorded, including its timestamp.
type Publisher interface {
	Publish(ctx context.Context, offset float64, playing bool) (domain.PlaybackState, error)
}

type PublisherFunc func(ctx context.Context, offset float64, playing bool) (domain.PlaybackState, error)

func (f PublisherFunc) Publish(ctx context.Context, offset float64, playing bool) (domain.PlaybackState, error) {
	return f(ctx, offset, playing)
}

type Option func(*Synchronizer)

func WithDriftThreshold(d time.Duration) Option {
	return func(s *Synchronizer) { s.threshold = d.Seconds() }
}

func WithPushInterval(d time.Duration) Option {
	return func(s *Synchronizer) { s.interval = d.Seconds() }
}

type Synchronizer struct {
	player    Player
	publisher Publisher
	log       *slog.Logger
	threshold float64
	interval  float64

	mu          sync.Mutex
	lastLocal   time.Time // timestamp of our latest push, for echo detection
	lastApplied time.Time // timestamp of the latest applied remote state
	lastPushed  float64
	playing     bool
}

func NewSynchronizer(player Player, publisher Publisher, log *slog.Logger, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		player:    player,
		publisher: publisher,
		log:       log,
		threshold: DefaultDriftThreshold.Seconds(),
		interval:  DefaultPushInterval.Seconds(),
		playing:   !player.Paused(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reconcile applies a remote state to the player. It reports whether the
// state was applied; echoes of our own updates and states older than the
// last applied one are skipped. Staleness is judged among remote states only,
// since local pushes carry the local clock and relayed states the server's.
func (s *Synchronizer) Reconcile(state domain.PlaybackState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.lastLocal.IsZero() && state.UpdatedAt.Equal(s.lastLocal) {
		return false
	}
	if !s.lastApplied.IsZero() && state.UpdatedAt.Before(s.lastApplied) {
		return false
	}
	s.lastApplied = state.UpdatedAt

	if math.Abs(s.player.CurrentTime()-state.Offset) > s.threshold {
		s.player.Seek(state.Offset)
		s.lastPushed = state.Offset
	}

	if state.Playing && s.player.Paused() {
		s.player.Play()
	} else if !state.Playing && !s.player.Paused() {
		s.player.Pause()
	}
	s.playing = state.Playing
	return true
}

// HandleEnvelope reconciles state_update envelopes and ignores the rest.
func (s *Synchronizer) HandleEnvelope(env domain.Envelope) {
	if env.Type != domain.EnvelopeStateUpdate || env.State == nil {
		return
	}
	s.Reconcile(*env.State)
}

func (s *Synchronizer) OnPlay(ctx context.Context) error {
	return s.onPlaying(ctx, true)
}

func (s *Synchronizer) OnPause(ctx context.Context) error {
	return s.onPlaying(ctx, false)
}

func (s *Synchronizer) onPlaying(ctx context.Context, playing bool) error {
	s.mu.Lock()
	if s.playing == playing {
		s.mu.Unlock()
		return nil
	}
	s.playing = playing
	s.mu.Unlock()

	return s.push(ctx)
}

// OnSeeked forwards a user seek immediately.
func (s *Synchronizer) OnSeeked(ctx context.Context) error {
	return s.push(ctx)
}

// OnTimeUpdate forwards the position once per push interval of playback.
func (s *Synchronizer) OnTimeUpdate(ctx context.Context) error {
	s.mu.Lock()
	due := math.Abs(s.player.CurrentTime()-s.lastPushed) >= s.interval
	s.mu.Unlock()
	if !due {
		return nil
	}
	return s.push(ctx)
}

func (s *Synchronizer) push(ctx context.Context) error {
	const op = "playback.Synchronizer.push"

	offset := s.player.CurrentTime()
	playing := !s.player.Paused()

	state, err := s.publisher.Publish(ctx, offset, playing)
	if err != nil {
		s.log.Warn("failed to publish playback state",
			slog.String("op", op),
			sl.Err(err),
		)
		return err
	}

	s.mu.Lock()
	s.lastLocal = state.UpdatedAt
	s.lastPushed = offset
	s.mu.Unlock()
	return nil
}
