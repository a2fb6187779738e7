// Package transport moves envelopes between the participants of one
// watch-party session.
package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/watchparty/internal/domain"
)

type Role string

const (
	RoleHost        Role = "host"
	RoleParticipant Role = "participant"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// ErrNotConnected is returned by Send on a transport that is not connected.
var ErrNotConnected = fmt.Errorf("%w: not connected", domain.ErrTransport)

type Handler func(domain.Envelope)

type StateHandler func(State)

// Transport is a per-participant channel bound to one session. Envelopes a
// transport sends successfully are delivered at least once to its own
// handlers. Ordering holds per sender only.
type Transport interface {
	Open(ctx context.Context, role Role) error
	Send(ctx context.Context, env domain.Envelope) error
	OnReceive(h Handler) (cancel func())
	OnStateChange(h StateHandler) (cancel func())
	State() State
	Close() error
}

type Factory interface {
	New(sessionID uuid.UUID, participantID string) Transport
}

type FactoryFunc func(sessionID uuid.UUID, participantID string) Transport

func (f FactoryFunc) New(sessionID uuid.UUID, participantID string) Transport {
	return f(sessionID, participantID)
}

// listeners keeps receive and state handlers. Handlers may be called from
// the transport's own goroutines and must not block for long.
type listeners struct {
	mu     sync.RWMutex
	nextID int
	recv   map[int]Handler
	states map[int]StateHandler
}

func (l *listeners) addReceive(h Handler) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.recv == nil {
		l.recv = make(map[int]Handler)
	}
	id := l.nextID
	l.nextID++
	l.recv[id] = h
	return func() {
		l.mu.Lock()
		delete(l.recv, id)
		l.mu.Unlock()
	}
}

func (l *listeners) addState(h StateHandler) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.states == nil {
		l.states = make(map[int]StateHandler)
	}
	id := l.nextID
	l.nextID++
	l.states[id] = h
	return func() {
		l.mu.Lock()
		delete(l.states, id)
		l.mu.Unlock()
	}
}

func (l *listeners) dispatch(env domain.Envelope) {
	l.mu.RLock()
	handlers := make([]Handler, 0, len(l.recv))
	for _, h := range l.recv {
		handlers = append(handlers, h)
	}
	l.mu.RUnlock()

	for _, h := range handlers {
		h(env)
	}
}

func (l *listeners) emit(s State) {
	l.mu.RLock()
	handlers := make([]StateHandler, 0, len(l.states))
	for _, h := range l.states {
		handlers = append(handlers, h)
	}
	l.mu.RUnlock()

	for _, h := range handlers {
		h(s)
	}
}

// stateBox tracks the connection state and notifies listeners on change.
type stateBox struct {
	mu    sync.Mutex
	state State
}

func (b *stateBox) get() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == "" {
		return StateDisconnected
	}
	return b.state
}

// set stores s and reports whether it differs from the previous state.
func (b *stateBox) set(s State) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	prev := b.state
	if prev == "" {
		prev = StateDisconnected
	}
	b.state = s
	return prev != s
}
