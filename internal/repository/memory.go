package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/watchparty/internal/domain"
)

const subscriberBuffer = 16

type subscriber struct {
	ch chan SessionEvent
}

// InMemorySessionRepository is the process-wide session registry. A single
// mutex guards the map, the access-code index and the subscriber lists so
// every mutation is atomic with respect to the others.
type InMemorySessionRepository struct {
	mu          sync.RWMutex
	sessions    map[uuid.UUID]*domain.Session
	codes       map[string]uuid.UUID
	subscribers map[uuid.UUID]map[*subscriber]struct{}
}

func NewInMemorySessionRepository() *InMemorySessionRepository {
	return &InMemorySessionRepository{
		sessions:    make(map[uuid.UUID]*domain.Session),
		codes:       make(map[string]uuid.UUID),
		subscribers: make(map[uuid.UUID]map[*subscriber]struct{}),
	}
}

func (r *InMemorySessionRepository) Create(ctx context.Context, session *domain.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[session.ID]; ok {
		return ErrSessionExists
	}
	if session.AccessCode != "" {
		if _, ok := r.codes[session.AccessCode]; ok {
			return ErrAccessCodeExists
		}
		r.codes[session.AccessCode] = session.ID
	}

	r.sessions[session.ID] = session.Clone()
	return nil
}

func (r *InMemorySessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}

	return session.Clone(), nil
}

// Update runs fn against a working copy of the session. The copy replaces the
// stored session only when fn succeeds. A session left without participants
// is removed and subscribers receive a closed event.
func (r *InMemorySessionRepository) Update(ctx context.Context, id uuid.UUID, fn func(*domain.Session) error) (*domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}

	working := current.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}

	if working.IsEmpty() {
		r.deleteLocked(id)
		return working.Clone(), nil
	}

	r.sessions[id] = working
	r.notifyLocked(id, SessionEvent{Type: SessionEventUpdated, Session: working.Clone()})
	return working.Clone(), nil
}

func (r *InMemorySessionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return domain.ErrSessionNotFound
	}

	r.deleteLocked(id)
	return nil
}

func (r *InMemorySessionRepository) List(ctx context.Context) ([]*domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		result = append(result, session.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// Subscribe registers for events of one session. The returned cancel func is
// safe to call more than once. Subscribing to an unknown session yields an
// already closed channel.
func (r *InMemorySessionRepository) Subscribe(id uuid.UUID) (<-chan SessionEvent, func()) {
	sub := &subscriber{ch: make(chan SessionEvent, subscriberBuffer)}

	r.mu.Lock()
	if _, ok := r.sessions[id]; !ok {
		r.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	subs, ok := r.subscribers[id]
	if !ok {
		subs = make(map[*subscriber]struct{})
		r.subscribers[id] = subs
	}
	subs[sub] = struct{}{}
	r.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if subs, ok := r.subscribers[id]; ok {
				if _, ok := subs[sub]; ok {
					delete(subs, sub)
					close(sub.ch)
				}
				if len(subs) == 0 {
					delete(r.subscribers, id)
				}
			}
		})
	}
	return sub.ch, cancel
}

func (r *InMemorySessionRepository) deleteLocked(id uuid.UUID) {
	session, ok := r.sessions[id]
	if !ok {
		return
	}
	if session.AccessCode != "" {
		delete(r.codes, session.AccessCode)
	}
	delete(r.sessions, id)

	closed := SessionEvent{Type: SessionEventClosed, Session: session.Clone()}
	for sub := range r.subscribers[id] {
		push(sub.ch, closed)
		close(sub.ch)
	}
	delete(r.subscribers, id)
}

func (r *InMemorySessionRepository) notifyLocked(id uuid.UUID, event SessionEvent) {
	for sub := range r.subscribers[id] {
		push(sub.ch, event)
	}
}

// push never blocks. A slow subscriber loses its oldest pending event so the
// newest snapshot always gets through.
func push(ch chan SessionEvent, event SessionEvent) {
	select {
	case ch <- event:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- event:
	default:
	}
}

type InMemoryUserRepository struct {
	mu     sync.RWMutex
	users  map[uuid.UUID]*domain.User
	emails map[string]uuid.UUID
}

func NewInMemoryUserRepository() *InMemoryUserRepository {
	return &InMemoryUserRepository{
		users:  make(map[uuid.UUID]*domain.User),
		emails: make(map[string]uuid.UUID),
	}
}

func (r *InMemoryUserRepository) Create(ctx context.Context, user *domain.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if user.Email != "" {
		if _, ok := r.emails[user.Email]; ok {
			return ErrUserEmailExists
		}
		r.emails[user.Email] = user.ID
	}

	u := *user
	r.users[user.ID] = &u
	return nil
}

func (r *InMemoryUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}

	u := *user
	return &u, nil
}

func (r *InMemoryUserRepository) Update(ctx context.Context, user *domain.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.users[user.ID]
	if !ok {
		return ErrUserNotFound
	}

	if user.Email != "" && user.Email != existing.Email {
		if owner, ok := r.emails[user.Email]; ok && owner != user.ID {
			return ErrUserEmailExists
		}
		r.emails[user.Email] = user.ID
	}
	if existing.Email != "" && existing.Email != user.Email {
		delete(r.emails, existing.Email)
	}

	u := *user
	r.users[user.ID] = &u
	return nil
}
