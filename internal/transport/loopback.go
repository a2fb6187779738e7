package transport

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/watchparty/internal/domain"
	"github.com/immxrtalbeast/watchparty/internal/metrics"
)

// maxPending bounds a receiver's queue of envelopes sent by others. Its own
// envelopes are never dropped.
const maxPending = 1024

// Bus is an in-process Factory. Transports created for the same session
// share a topic and see each other's envelopes.
type Bus struct {
	log *slog.Logger

	mu     sync.RWMutex
	topics map[uuid.UUID]map[*LoopbackTransport]struct{}
}

func NewBus(log *slog.Logger) *Bus {
	return &Bus{
		log:    log,
		topics: make(map[uuid.UUID]map[*LoopbackTransport]struct{}),
	}
}

func (b *Bus) New(sessionID uuid.UUID, participantID string) Transport {
	return &LoopbackTransport{
		bus:           b,
		sessionID:     sessionID,
		participantID: participantID,
		log: b.log.With(
			slog.String("transport", "loopback"),
			slog.String("session_id", sessionID.String()),
			slog.String("participant_id", participantID),
		),
	}
}

// Peers returns the number of open transports on a session topic.
func (b *Bus) Peers(sessionID uuid.UUID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[sessionID])
}

func (b *Bus) attach(t *LoopbackTransport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	topic, ok := b.topics[t.sessionID]
	if !ok {
		topic = make(map[*LoopbackTransport]struct{})
		b.topics[t.sessionID] = topic
	}
	topic[t] = struct{}{}
}

func (b *Bus) detach(t *LoopbackTransport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	topic, ok := b.topics[t.sessionID]
	if !ok {
		return
	}
	delete(topic, t)
	if len(topic) == 0 {
		delete(b.topics, t.sessionID)
	}
}

func (b *Bus) publish(from *LoopbackTransport, env domain.Envelope) {
	b.mu.RLock()
	targets := make([]*LoopbackTransport, 0, len(b.topics[from.sessionID]))
	for t := range b.topics[from.sessionID] {
		if t != from && env.TargetID != "" && t.participantID != env.TargetID {
			continue
		}
		targets = append(targets, t)
	}
	b.mu.RUnlock()

	for _, t := range targets {
		if !t.enqueue(env, t == from) {
			metrics.TransportDrops.WithLabelValues("loopback").Inc()
			t.log.Warn("receiver queue full, envelope dropped",
				slog.String("type", string(env.Type)),
				slog.String("sender_id", env.SenderID),
			)
		}
	}
}

// LoopbackTransport delivers through a per-transport FIFO drained by a single
// goroutine, so handlers never run on the sender's goroutine.
type LoopbackTransport struct {
	bus           *Bus
	sessionID     uuid.UUID
	participantID string
	log           *slog.Logger

	listeners
	state stateBox
	seq   atomic.Uint64

	qmu   sync.Mutex
	queue []domain.Envelope
	wake  chan struct{}
	done  chan struct{}
}

func (t *LoopbackTransport) Open(ctx context.Context, role Role) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.state.get() == StateConnected {
		return nil
	}

	t.setState(StateConnecting)

	t.qmu.Lock()
	t.queue = nil
	t.wake = make(chan struct{}, 1)
	t.done = make(chan struct{})
	wake, done := t.wake, t.done
	t.qmu.Unlock()

	go t.drain(wake, done)
	t.bus.attach(t)

	t.setState(StateConnected)
	t.log.Debug("transport opened", slog.String("role", string(role)))
	return nil
}

func (t *LoopbackTransport) Send(ctx context.Context, env domain.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.state.get() != StateConnected {
		return ErrNotConnected
	}

	env.SessionID = t.sessionID.String()
	if env.SenderID == "" {
		env.SenderID = t.participantID
	}
	env.Seq = t.seq.Add(1)
	if env.TS.IsZero() {
		env.TS = time.Now().UTC()
	}

	t.bus.publish(t, env)
	return nil
}

func (t *LoopbackTransport) OnReceive(h Handler) func() {
	return t.addReceive(h)
}

func (t *LoopbackTransport) OnStateChange(h StateHandler) func() {
	return t.addState(h)
}

func (t *LoopbackTransport) State() State {
	return t.state.get()
}

func (t *LoopbackTransport) Close() error {
	if t.state.get() == StateDisconnected {
		return nil
	}
	t.bus.detach(t)

	t.qmu.Lock()
	if t.done != nil {
		close(t.done)
		t.done = nil
	}
	t.queue = nil
	t.qmu.Unlock()

	t.setState(StateDisconnected)
	return nil
}

func (t *LoopbackTransport) setState(s State) {
	if t.state.set(s) {
		t.emit(s)
	}
}

// enqueue reports false when the envelope was dropped.
func (t *LoopbackTransport) enqueue(env domain.Envelope, self bool) bool {
	t.qmu.Lock()
	defer t.qmu.Unlock()
	if t.done == nil {
		return true
	}
	if !self && len(t.queue) >= maxPending {
		return false
	}
	t.queue = append(t.queue, env)
	select {
	case t.wake <- struct{}{}:
	default:
	}
	return true
}

func (t *LoopbackTransport) drain(wake <-chan struct{}, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-wake:
		}

		t.qmu.Lock()
		batch := t.queue
		t.queue = nil
		t.qmu.Unlock()

		for _, env := range batch {
			select {
			case <-done:
				return
			default:
			}
			t.dispatch(env)
		}
	}
}
