package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/watchparty/internal/domain"
	"github.com/immxrtalbeast/watchparty/internal/metrics"
	"github.com/immxrtalbeast/watchparty/internal/repository"
	"github.com/immxrtalbeast/watchparty/internal/transport"
	"github.com/immxrtalbeast/watchparty/lib/logger/sl"
)

const (
	maxChatMessageLength = 4000
	maxAccessCodeRetries = 16

	DefaultOpenTimeout = 10 * time.Second
)

var errNotParticipant = errors.New("caller is not a participant")

// member is the service-side binding of a participant to its session.
type member struct {
	sessionID   uuid.UUID
	transport   transport.Transport
	cancelState func()
}

// SessionService is the single authority for session and participant
// mutation. Every mutation goes through the registry's Update so a failed
// operation never leaves partial state behind.
type SessionService struct {
	sessions    repository.SessionRepository
	transports  transport.Factory
	content     ContentResolver
	log         *slog.Logger
	openTimeout time.Duration

	mu      sync.Mutex
	members map[string]*member
}

type SessionOption func(*SessionService)

func WithContentResolver(r ContentResolver) SessionOption {
	return func(s *SessionService) { s.content = r }
}

func WithOpenTimeout(d time.Duration) SessionOption {
	return func(s *SessionService) { s.openTimeout = d }
}

func NewSessionService(sessions repository.SessionRepository, transports transport.Factory, log *slog.Logger, opts ...SessionOption) *SessionService {
	if log == nil {
		log = slog.Default()
	}
	s := &SessionService{
		sessions:    sessions,
		transports:  transports,
		log:         log,
		openTimeout: DefaultOpenTimeout,
		members:     make(map[string]*member),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SessionService) CreateSession(ctx context.Context, identity domain.Identity, contentID, contentTitle string, isPrivate bool) (_ *domain.Session, err error) {
	const op = "service.session.create"
	log := s.log.With(
		slog.String("op", op),
		slog.String("participant_id", identity.ID),
	)
	defer func() { metrics.SessionOperations.WithLabelValues("create", metrics.Result(err)).Inc() }()

	if !identity.IsSet() {
		log.Warn("identity is not set")
		return nil, fmt.Errorf("%s: %w: user identity is not set", op, domain.ErrPrecondition)
	}
	contentID = strings.TrimSpace(contentID)
	if contentID == "" {
		return nil, fmt.Errorf("%s: %w: content id is required", op, domain.ErrInvalidArgument)
	}

	contentTitle = strings.TrimSpace(contentTitle)
	if contentTitle == "" && s.content != nil {
		contentTitle = s.content.Title(ctx, contentID)
	}

	previous := s.member(identity.ID)

	session := domain.NewSession(identity, contentID, contentTitle, isPrivate)

	tr, err := s.openTransport(ctx, session.ID, identity.ID, transport.RoleHost)
	if err != nil {
		log.Error("failed to open transport", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	session.Participants[0].Status = domain.ParticipantStatusConnected

	for attempt := 0; ; attempt++ {
		err = s.sessions.Create(ctx, session)
		if err == nil {
			break
		}
		if errors.Is(err, repository.ErrAccessCodeExists) && attempt < maxAccessCodeRetries {
			log.Debug("access code collision, regenerating")
			session.AccessCode = domain.GenerateAccessCode()
			continue
		}
		_ = tr.Close()
		log.Error("failed to register session", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.release(ctx, log, identity.ID, previous, session.ID)
	s.bind(identity.ID, session.ID, tr)
	metrics.ActiveSessions.Inc()

	log.Info("session created",
		slog.String("session_id", session.ID.String()),
		slog.String("content_id", contentID),
		slog.Bool("private", isPrivate),
	)
	return session.Clone(), nil
}

func (s *SessionService) JoinSession(ctx context.Context, identity domain.Identity, sessionID uuid.UUID, accessCode string) (_ *domain.Session, err error) {
	const op = "service.session.join"
	log := s.log.With(
		slog.String("op", op),
		slog.String("participant_id", identity.ID),
		slog.String("session_id", sessionID.String()),
	)
	defer func() { metrics.SessionOperations.WithLabelValues("join", metrics.Result(err)).Inc() }()

	if !identity.IsSet() {
		log.Warn("identity is not set")
		return nil, fmt.Errorf("%s: %w: user identity is not set", op, domain.ErrPrecondition)
	}

	current, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if current.IsPrivate && !accessCodeMatches(current.AccessCode, accessCode) {
		log.Info("access code mismatch")
		return nil, fmt.Errorf("%s: %w", op, domain.ErrAccessDenied)
	}

	previous := s.member(identity.ID)
	if previous != nil && previous.sessionID == sessionID {
		if _, ok := current.Participant(identity.ID); ok {
			log.Info("participant reconnecting")
			return s.reconnect(ctx, identity.ID, previous)
		}
	}

	tr, err := s.openTransport(ctx, sessionID, identity.ID, transport.RoleParticipant)
	if err != nil {
		log.Error("failed to open transport", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var joined *domain.Message
	updated, err := s.sessions.Update(ctx, sessionID, func(session *domain.Session) error {
		if p, ok := session.Participant(identity.ID); ok {
			p.DisplayName = identity.Name
			p.Status = domain.ParticipantStatusConnected
			return nil
		}
		p := domain.NewParticipant(identity, false)
		p.Status = domain.ParticipantStatusConnected
		session.AddParticipant(p)
		msg := session.AppendMessage(domain.NewSystemMessage(identity.Name + " joined the watch party"))
		joined = &msg
		return nil
	})
	if err != nil {
		_ = tr.Close()
		log.Error("failed to join session", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.release(ctx, log, identity.ID, previous, sessionID)
	s.bind(identity.ID, sessionID, tr)
	if joined != nil {
		metrics.MessagesTotal.WithLabelValues(string(domain.MessageKindSystem)).Inc()
		s.publish(ctx, identity.ID, domain.NewMessageEnvelope(sessionID.String(), *joined))
	}

	log.Info("participant joined", slog.Int("participants", len(updated.Participants)))
	return s.view(updated, identity.ID), nil
}

func (s *SessionService) reconnect(ctx context.Context, participantID string, m *member) (*domain.Session, error) {
	if m.transport.State() != transport.StateConnected {
		openCtx, cancel := context.WithTimeout(ctx, s.openTimeout)
		defer cancel()
		if err := m.transport.Open(openCtx, transport.RoleParticipant); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
		}
	}
	updated, err := s.setStatus(ctx, m.sessionID, participantID, domain.ParticipantStatusConnected)
	if err != nil {
		return nil, err
	}
	return s.view(updated, participantID), nil
}

// LeaveSession is a no-op for callers that are not in a session.
func (s *SessionService) LeaveSession(ctx context.Context, participantID string) (err error) {
	const op = "service.session.leave"
	log := s.log.With(
		slog.String("op", op),
		slog.String("participant_id", participantID),
	)

	m := s.member(participantID)
	if m == nil {
		log.Debug("not in a session")
		return nil
	}
	defer func() { metrics.SessionOperations.WithLabelValues("leave", metrics.Result(err)).Inc() }()
	log = log.With(slog.String("session_id", m.sessionID.String()))

	var notice *domain.Message
	updated, err := s.sessions.Update(ctx, m.sessionID, func(session *domain.Session) error {
		removed, newHost := session.RemoveParticipant(participantID)
		if removed == nil || session.IsEmpty() {
			return nil
		}
		content := removed.DisplayName + " left the watch party"
		if newHost != nil {
			content = fmt.Sprintf("%s (host) left. %s is now the host.", removed.DisplayName, newHost.DisplayName)
		}
		msg := session.AppendMessage(domain.NewSystemMessage(content))
		notice = &msg
		return nil
	})
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		log.Info("session already gone")
	case err != nil:
		log.Error("failed to leave session", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if notice != nil {
		metrics.MessagesTotal.WithLabelValues(string(domain.MessageKindSystem)).Inc()
		s.publish(ctx, participantID, domain.NewMessageEnvelope(m.sessionID.String(), *notice))
	}

	s.unbind(participantID, m)

	if updated != nil && updated.IsEmpty() {
		metrics.ActiveSessions.Dec()
		log.Info("last participant left, session closed")
		return nil
	}
	log.Info("participant left")
	return nil
}

func (s *SessionService) SendChatMessage(ctx context.Context, participantID, content string) (*domain.Message, error) {
	const op = "service.session.chat"
	log := s.log.With(slog.String("op", op), slog.String("participant_id", participantID))

	content = strings.TrimSpace(content)
	if content == "" {
		log.Debug("ignoring empty chat message")
		return nil, nil
	}
	if utf8.RuneCountInString(content) > maxChatMessageLength {
		return nil, fmt.Errorf("%s: %w: chat message is too long", op, domain.ErrInvalidArgument)
	}

	return s.appendMessage(ctx, log, participantID, func(p *domain.Participant) domain.Message {
		return domain.NewChatMessage(p, content)
	})
}

func (s *SessionService) SendReaction(ctx context.Context, participantID, content, mediaURL string) (*domain.Message, error) {
	const op = "service.session.reaction"
	log := s.log.With(slog.String("op", op), slog.String("participant_id", participantID))

	content = strings.TrimSpace(content)
	mediaURL = strings.TrimSpace(mediaURL)
	if content == "" || mediaURL == "" {
		log.Debug("ignoring incomplete reaction")
		return nil, nil
	}
	if utf8.RuneCountInString(content) > maxChatMessageLength {
		return nil, fmt.Errorf("%s: %w: reaction is too long", op, domain.ErrInvalidArgument)
	}

	return s.appendMessage(ctx, log, participantID, func(p *domain.Participant) domain.Message {
		return domain.NewReactionMessage(p, content, mediaURL)
	})
}

func (s *SessionService) appendMessage(ctx context.Context, log *slog.Logger, participantID string, build func(*domain.Participant) domain.Message) (*domain.Message, error) {
	m := s.member(participantID)
	if m == nil {
		log.Info("not in a session, message dropped")
		return nil, nil
	}

	var appended domain.Message
	_, err := s.sessions.Update(ctx, m.sessionID, func(session *domain.Session) error {
		p, ok := session.Participant(participantID)
		if !ok {
			return errNotParticipant
		}
		appended = session.AppendMessage(build(p))
		return nil
	})
	if errors.Is(err, errNotParticipant) || errors.Is(err, domain.ErrSessionNotFound) {
		log.Info("not in a session, message dropped")
		return nil, nil
	}
	if err != nil {
		log.Error("failed to append message", sl.Err(err))
		return nil, err
	}

	metrics.MessagesTotal.WithLabelValues(string(appended.Kind)).Inc()
	s.publish(ctx, participantID, domain.NewMessageEnvelope(m.sessionID.String(), appended))
	return &appended, nil
}

// UpdatePlaybackState replaces the session's playback state. The timestamp is
// taken from the server clock.
func (s *SessionService) UpdatePlaybackState(ctx context.Context, participantID string, offset float64, playing bool) (*domain.PlaybackState, error) {
	const op = "service.session.playback"
	log := s.log.With(slog.String("op", op), slog.String("participant_id", participantID))

	if err := domain.ValidateOffset(offset); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	m := s.member(participantID)
	if m == nil {
		log.Info("not in a session, playback update dropped")
		return nil, nil
	}

	var state domain.PlaybackState
	_, err := s.sessions.Update(ctx, m.sessionID, func(session *domain.Session) error {
		if _, ok := session.Participant(participantID); !ok {
			return errNotParticipant
		}
		state = domain.PlaybackState{
			ContentID: session.ContentID,
			Offset:    offset,
			Playing:   playing,
			UpdatedAt: time.Now().UTC(),
			UpdatedBy: participantID,
		}
		session.State = state
		return nil
	})
	if errors.Is(err, errNotParticipant) || errors.Is(err, domain.ErrSessionNotFound) {
		log.Info("not in a session, playback update dropped")
		return nil, nil
	}
	if err != nil {
		log.Error("failed to update playback state", sl.Err(err))
		return nil, err
	}

	s.publish(ctx, participantID, domain.NewStateEnvelope(m.sessionID.String(), participantID, state))
	return &state, nil
}

// GetCurrentSession returns nil when the participant is not in a session.
func (s *SessionService) GetCurrentSession(ctx context.Context, participantID string) (*domain.Session, error) {
	m := s.member(participantID)
	if m == nil {
		return nil, nil
	}
	session, err := s.sessions.GetByID(ctx, m.sessionID)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.view(session, participantID), nil
}

func (s *SessionService) GetSession(ctx context.Context, sessionID uuid.UUID, participantID string) (*domain.Session, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.view(session, participantID), nil
}

// ListSessions returns every active session without access codes.
func (s *SessionService) ListSessions(ctx context.Context) ([]*domain.Session, error) {
	sessions, err := s.sessions.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Session, 0, len(sessions))
	for _, session := range sessions {
		out = append(out, session.Redacted())
	}
	return out, nil
}

// HandleEnvelope applies an envelope received from a participant's client.
func (s *SessionService) HandleEnvelope(ctx context.Context, participantID string, env domain.Envelope) error {
	const op = "service.session.envelope"
	log := s.log.With(
		slog.String("op", op),
		slog.String("participant_id", participantID),
		slog.String("type", string(env.Type)),
	)

	if err := env.Validate(); err != nil {
		log.Info("invalid envelope", sl.Err(err))
		return err
	}

	var err error
	switch env.Type {
	case domain.EnvelopeChat:
		_, err = s.SendChatMessage(ctx, participantID, env.Message.Content)
	case domain.EnvelopeReaction:
		_, err = s.SendReaction(ctx, participantID, env.Message.Content, env.Message.MediaURL)
	case domain.EnvelopeStateUpdate:
		_, err = s.UpdatePlaybackState(ctx, participantID, env.State.Offset, env.State.Playing)
	case domain.EnvelopeLeave:
		err = s.LeaveSession(ctx, participantID)
	case domain.EnvelopeOffer, domain.EnvelopeAnswer, domain.EnvelopeICECandidate:
		err = s.relaySignal(ctx, participantID, env)
	default:
		err = fmt.Errorf("%w: clients may not send %s envelopes", domain.ErrInvalidArgument, env.Type)
	}
	if err != nil {
		log.Info("envelope rejected", sl.Err(err))
	}
	return err
}

func (s *SessionService) relaySignal(ctx context.Context, participantID string, env domain.Envelope) error {
	m := s.member(participantID)
	if m == nil {
		return fmt.Errorf("%w: not in a session", domain.ErrPrecondition)
	}
	if env.TargetID != "" {
		if peer := s.member(env.TargetID); peer == nil || peer.sessionID != m.sessionID {
			return fmt.Errorf("%w: unknown signal target %q", domain.ErrInvalidArgument, env.TargetID)
		}
	}
	forward := env
	forward.SenderID = participantID
	forward.Seq = 0
	forward.TS = time.Time{}
	return m.transport.Send(ctx, forward)
}

// Attach returns the participant's transport for the relay to forward
// envelopes to its client. A disconnected transport is reopened and the
// participant marked connected again.
func (s *SessionService) Attach(ctx context.Context, sessionID uuid.UUID, participantID string) (transport.Transport, error) {
	const op = "service.session.attach"

	m := s.member(participantID)
	if m == nil || m.sessionID != sessionID {
		return nil, fmt.Errorf("%s: %w: not a participant of this session", op, domain.ErrPrecondition)
	}
	if _, err := s.reconnect(ctx, participantID, m); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return m.transport, nil
}

// SetConnectivity records a participant's connection status.
func (s *SessionService) SetConnectivity(ctx context.Context, participantID string, status domain.ParticipantStatus) error {
	m := s.member(participantID)
	if m == nil {
		return nil
	}
	_, err := s.setStatus(ctx, m.sessionID, participantID, status)
	if errors.Is(err, errNotParticipant) || errors.Is(err, domain.ErrSessionNotFound) {
		return nil
	}
	return err
}

func (s *SessionService) Subscribe(sessionID uuid.UUID) (<-chan repository.SessionEvent, func()) {
	return s.sessions.Subscribe(sessionID)
}

// Close releases every transport held by the service.
func (s *SessionService) Close() {
	s.mu.Lock()
	members := s.members
	s.members = make(map[string]*member)
	s.mu.Unlock()

	for _, m := range members {
		m.cancelState()
		_ = m.transport.Close()
	}
}

func (s *SessionService) setStatus(ctx context.Context, sessionID uuid.UUID, participantID string, status domain.ParticipantStatus) (*domain.Session, error) {
	return s.sessions.Update(ctx, sessionID, func(session *domain.Session) error {
		p, ok := session.Participant(participantID)
		if !ok {
			return errNotParticipant
		}
		p.Status = status
		return nil
	})
}

func (s *SessionService) openTransport(ctx context.Context, sessionID uuid.UUID, participantID string, role transport.Role) (transport.Transport, error) {
	tr := s.transports.New(sessionID, participantID)

	openCtx, cancel := context.WithTimeout(ctx, s.openTimeout)
	defer cancel()

	if err := tr.Open(openCtx, role); err != nil {
		_ = tr.Close()
		if errors.Is(err, domain.ErrTransport) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	return tr, nil
}

// bind records the membership and mirrors transport state into the roster.
func (s *SessionService) bind(participantID string, sessionID uuid.UUID, tr transport.Transport) {
	cancel := tr.OnStateChange(func(state transport.State) {
		status := domain.ParticipantStatusDisconnected
		switch state {
		case transport.StateConnected:
			status = domain.ParticipantStatusConnected
		case transport.StateConnecting:
			status = domain.ParticipantStatusConnecting
		}
		if err := s.SetConnectivity(context.Background(), participantID, status); err != nil {
			s.log.Warn("failed to record connectivity",
				slog.String("participant_id", participantID),
				sl.Err(err),
			)
		}
	})

	s.mu.Lock()
	s.members[participantID] = &member{sessionID: sessionID, transport: tr, cancelState: cancel}
	s.mu.Unlock()
}

// release drops the caller's previous membership once the new one has been
// committed. A failed create or join never reaches this point, so the previous
// session stays untouched.
func (s *SessionService) release(ctx context.Context, log *slog.Logger, participantID string, previous *member, next uuid.UUID) {
	if previous == nil {
		return
	}
	if previous.sessionID == next {
		s.unbind(participantID, previous)
		return
	}
	log.Info("leaving previous session", slog.String("previous_session_id", previous.sessionID.String()))
	if err := s.LeaveSession(ctx, participantID); err != nil {
		log.Warn("failed to leave previous session", sl.Err(err))
		s.unbind(participantID, previous)
	}
}

func (s *SessionService) unbind(participantID string, m *member) {
	s.mu.Lock()
	if s.members[participantID] == m {
		delete(s.members, participantID)
	}
	s.mu.Unlock()

	m.cancelState()
	_ = m.transport.Close()
}

func (s *SessionService) member(participantID string) *member {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.members[participantID]
}

// publish sends env through the participant's transport, falling back to any
// other connected member of the same session.
func (s *SessionService) publish(ctx context.Context, participantID string, env domain.Envelope) {
	m := s.member(participantID)
	if m != nil {
		if err := m.transport.Send(ctx, env); err == nil {
			return
		}
	}

	sessionID, err := uuid.Parse(env.SessionID)
	if err != nil {
		return
	}

	s.mu.Lock()
	candidates := make([]transport.Transport, 0)
	for id, other := range s.members {
		if id != participantID && other.sessionID == sessionID {
			candidates = append(candidates, other.transport)
		}
	}
	s.mu.Unlock()

	for _, tr := range candidates {
		if err := tr.Send(ctx, env); err == nil {
			return
		}
	}
	s.log.Warn("no connected transport to publish on",
		slog.String("session_id", env.SessionID),
		slog.String("type", string(env.Type)),
	)
}

// view hides the access code from everyone but the host.
func (s *SessionService) view(session *domain.Session, participantID string) *domain.Session {
	if session.HostID == participantID {
		return session.Clone()
	}
	return session.Redacted()
}

func accessCodeMatches(want, got string) bool {
	got = strings.ToUpper(strings.TrimSpace(got))
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}
