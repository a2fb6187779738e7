package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/watchparty/internal/domain"
	"github.com/immxrtalbeast/watchparty/internal/repository"
	"github.com/immxrtalbeast/watchparty/internal/transport"
	"github.com/immxrtalbeast/watchparty/lib/logger/handlers/slogdiscard"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = domain.Identity{ID: "alice", Name: "Alice"}
	bob   = domain.Identity{ID: "bob", Name: "Bob"}
	carol = domain.Identity{ID: "carol", Name: "Carol"}

	webrtcOffer = webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  "v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n",
	}
)

func newTestService(t *testing.T, opts ...SessionOption) (*SessionService, *repository.InMemorySessionRepository) {
	t.Helper()
	repo := repository.NewInMemorySessionRepository()
	bus := transport.NewBus(slogdiscard.NewDiscardLogger())
	svc := NewSessionService(repo, bus, slogdiscard.NewDiscardLogger(), opts...)
	t.Cleanup(svc.Close)
	return svc, repo
}

func systemMessages(s *domain.Session) []domain.Message {
	var out []domain.Message
	for _, m := range s.Messages {
		if m.Kind == domain.MessageKindSystem {
			out = append(out, m)
		}
	}
	return out
}

type envelopeRecorder struct {
	mu   sync.Mutex
	envs []domain.Envelope
}

func (r *envelopeRecorder) handle(env domain.Envelope) {
	r.mu.Lock()
	r.envs = append(r.envs, env)
	r.mu.Unlock()
}

func (r *envelopeRecorder) ofType(typ domain.EnvelopeType) []domain.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Envelope
	for _, env := range r.envs {
		if env.Type == typ {
			out = append(out, env)
		}
	}
	return out
}

func listen(t *testing.T, svc *SessionService, sessionID uuid.UUID, participantID string) *envelopeRecorder {
	t.Helper()
	tr, err := svc.Attach(context.Background(), sessionID, participantID)
	require.NoError(t, err)
	rec := &envelopeRecorder{}
	cancel := tr.OnReceive(rec.handle)
	t.Cleanup(cancel)
	return rec
}

func TestSessionLifecycleScenario(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateSession(ctx, alice, "550", "X", false)
	require.NoError(t, err)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Len(t, created.Participants, 1)
	assert.True(t, created.Participants[0].IsHost)
	assert.Equal(t, 0.0, created.State.Offset)
	assert.False(t, created.State.Playing)
	assert.Empty(t, created.AccessCode)

	joined, err := svc.JoinSession(ctx, bob, created.ID, "")
	require.NoError(t, err)
	require.Len(t, joined.Participants, 2)
	assert.False(t, joined.Participants[1].IsHost)
	require.Len(t, systemMessages(joined), 1)
	assert.Equal(t, "Bob joined the watch party", joined.Messages[0].Content)

	require.NoError(t, svc.LeaveSession(ctx, alice.ID))

	after, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, after.Participants, 1)
	assert.True(t, after.Participants[0].IsHost)
	assert.Equal(t, bob.ID, after.HostID)
	msgs := systemMessages(after)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Alice (host) left. Bob is now the host.", msgs[1].Content)
	assert.Equal(t, domain.SystemSenderID, msgs[1].SenderID)

	require.NoError(t, svc.LeaveSession(ctx, bob.ID))

	_, err = repo.GetByID(ctx, created.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestCreateSession_RequiresIdentity(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateSession(ctx, domain.Identity{ID: "x"}, "550", "X", false)
	assert.ErrorIs(t, err, domain.ErrPrecondition)

	_, err = svc.JoinSession(ctx, domain.Identity{}, uuid.New(), "")
	assert.ErrorIs(t, err, domain.ErrPrecondition)

	all, _ := repo.List(ctx)
	assert.Empty(t, all)
}

func TestCreateSession_PrivateAccessCode(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateSession(ctx, alice, "550", "X", true)
	require.NoError(t, err)
	require.Len(t, created.AccessCode, domain.AccessCodeLength)
	for _, r := range created.AccessCode {
		assert.True(t, (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'), "unexpected rune %q", r)
	}

	_, err = svc.JoinSession(ctx, bob, created.ID, "WRONG1")
	assert.ErrorIs(t, err, domain.ErrAccessDenied)

	current, err := svc.GetSession(ctx, created.ID, alice.ID)
	require.NoError(t, err)
	assert.Len(t, current.Participants, 1)
	assert.Empty(t, current.Messages)

	joined, err := svc.JoinSession(ctx, bob, created.ID, strings.ToLower(created.AccessCode))
	require.NoError(t, err)
	assert.Len(t, joined.Participants, 2)
	assert.Empty(t, joined.AccessCode)

	hostView, err := svc.GetCurrentSession(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, created.AccessCode, hostView.AccessCode)
}

func TestJoinSession_UnknownSession(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.JoinSession(context.Background(), bob, uuid.New(), "")

	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestJoinSession_RejoinIsReconnect(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	created, err := svc.CreateSession(ctx, alice, "550", "X", false)
	require.NoError(t, err)

	_, err = svc.JoinSession(ctx, bob, created.ID, "")
	require.NoError(t, err)
	again, err := svc.JoinSession(ctx, bob, created.ID, "")
	require.NoError(t, err)

	assert.Len(t, again.Participants, 2)
	assert.Len(t, systemMessages(again), 1)
}

func TestJoinSession_LeavesPreviousSession(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	first, err := svc.CreateSession(ctx, alice, "550", "X", false)
	require.NoError(t, err)
	second, err := svc.CreateSession(ctx, bob, "13", "Y", false)
	require.NoError(t, err)

	_, err = svc.JoinSession(ctx, alice, second.ID, "")
	require.NoError(t, err)

	_, err = repo.GetByID(ctx, first.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	current, err := svc.GetCurrentSession(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, current.ID)
}

func TestLeaveSession_NonHostAndIdempotent(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	created, err := svc.CreateSession(ctx, alice, "550", "X", false)
	require.NoError(t, err)
	_, err = svc.JoinSession(ctx, bob, created.ID, "")
	require.NoError(t, err)

	require.NoError(t, svc.LeaveSession(ctx, bob.ID))
	require.NoError(t, svc.LeaveSession(ctx, bob.ID))
	require.NoError(t, svc.LeaveSession(ctx, "nobody"))

	after, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Len(t, after.Participants, 1)
	assert.Equal(t, alice.ID, after.HostID)
	msgs := systemMessages(after)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Bob left the watch party", msgs[1].Content)

	current, err := svc.GetCurrentSession(ctx, bob.ID)
	require.NoError(t, err)
	assert.Nil(t, current)
}

func TestHostHandoffPromotesEarliestJoined(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	created, err := svc.CreateSession(ctx, alice, "550", "X", false)
	require.NoError(t, err)
	_, err = svc.JoinSession(ctx, bob, created.ID, "")
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, err = svc.JoinSession(ctx, carol, created.ID, "")
	require.NoError(t, err)

	require.NoError(t, svc.LeaveSession(ctx, alice.ID))

	after, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	host, ok := after.Host()
	require.True(t, ok)
	assert.Equal(t, bob.ID, host.ID)
}

func TestHostInvariantUnderRandomChurn(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	rng := rand.New(rand.NewPCG(1, 2))

	people := make([]domain.Identity, 6)
	for i := range people {
		people[i] = domain.Identity{ID: fmt.Sprintf("p%d", i), Name: fmt.Sprintf("P%d", i)}
	}

	var sessionID uuid.UUID
	for step := 0; step < 300; step++ {
		who := people[rng.IntN(len(people))]
		if _, err := repo.GetByID(ctx, sessionID); err != nil {
			created, err := svc.CreateSession(ctx, who, "550", "X", false)
			require.NoError(t, err)
			sessionID = created.ID
			continue
		}
		if rng.IntN(2) == 0 {
			_, err := svc.JoinSession(ctx, who, sessionID, "")
			require.NoError(t, err)
		} else {
			require.NoError(t, svc.LeaveSession(ctx, who.ID))
		}

		session, err := repo.GetByID(ctx, sessionID)
		if errors.Is(err, domain.ErrSessionNotFound) {
			continue
		}
		require.NoError(t, err)
		hosts := 0
		for _, p := range session.Participants {
			if p.IsHost {
				hosts++
				assert.Equal(t, session.HostID, p.ID)
			}
		}
		require.Equal(t, 1, hosts, "step %d", step)
	}
}

func TestSendChatMessage(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	created, err := svc.CreateSession(ctx, alice, "550", "X", false)
	require.NoError(t, err)
	_, err = svc.JoinSession(ctx, bob, created.ID, "")
	require.NoError(t, err)
	bobInbox := listen(t, svc, created.ID, bob.ID)

	msg, err := svc.SendChatMessage(ctx, alice.ID, "  hello  ")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, "Alice", msg.SenderName)
	assert.Equal(t, uint64(2), msg.Seq)

	require.Eventually(t, func() bool { return len(bobInbox.ofType(domain.EnvelopeChat)) == 1 }, time.Second, 5*time.Millisecond)
	got := bobInbox.ofType(domain.EnvelopeChat)[0]
	assert.Equal(t, alice.ID, got.SenderID)
	assert.Equal(t, "hello", got.Message.Content)

	stored, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Messages, 2)
}

func TestSendChatMessage_NoOpsAndLimits(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	msg, err := svc.SendChatMessage(ctx, alice.ID, "hello")
	assert.NoError(t, err)
	assert.Nil(t, msg)

	_, err = svc.CreateSession(ctx, alice, "550", "X", false)
	require.NoError(t, err)

	msg, err = svc.SendChatMessage(ctx, alice.ID, "   ")
	assert.NoError(t, err)
	assert.Nil(t, msg)

	_, err = svc.SendChatMessage(ctx, alice.ID, strings.Repeat("é", maxChatMessageLength+1))
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	msg, err = svc.SendChatMessage(ctx, alice.ID, strings.Repeat("é", maxChatMessageLength))
	assert.NoError(t, err)
	assert.NotNil(t, msg)
}

func TestSendReaction(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.CreateSession(ctx, alice, "550", "X", false)
	require.NoError(t, err)

	msg, err := svc.SendReaction(ctx, alice.ID, "wow", "")
	assert.NoError(t, err)
	assert.Nil(t, msg)

	msg, err = svc.SendReaction(ctx, alice.ID, "wow", "https://media.tenor.com/wow.gif")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, domain.MessageKindReaction, msg.Kind)
	assert.Equal(t, "https://media.tenor.com/wow.gif", msg.MediaURL)
}

func TestUpdatePlaybackState(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	created, err := svc.CreateSession(ctx, alice, "550", "X", false)
	require.NoError(t, err)
	_, err = svc.JoinSession(ctx, bob, created.ID, "")
	require.NoError(t, err)
	aliceInbox := listen(t, svc, created.ID, alice.ID)

	_, err = svc.UpdatePlaybackState(ctx, bob.ID, -1, true)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	before := time.Now().UTC()
	state, err := svc.UpdatePlaybackState(ctx, bob.ID, 42.5, true)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, "550", state.ContentID)
	assert.Equal(t, bob.ID, state.UpdatedBy)
	assert.False(t, state.UpdatedAt.Before(before))

	stored, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, *state, stored.State)

	require.Eventually(t, func() bool { return len(aliceInbox.ofType(domain.EnvelopeStateUpdate)) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 42.5, aliceInbox.ofType(domain.EnvelopeStateUpdate)[0].State.Offset)

	none, err := svc.UpdatePlaybackState(ctx, "nobody", 1, true)
	assert.NoError(t, err)
	assert.Nil(t, none)
}

type failingTransport struct {
	closed bool
}

func (f *failingTransport) Open(context.Context, transport.Role) error {
	return errors.New("ice negotiation failed")
}
func (f *failingTransport) Send(context.Context, domain.Envelope) error {
	return transport.ErrNotConnected
}
func (f *failingTransport) OnReceive(transport.Handler) func()          { return func() {} }
func (f *failingTransport) OnStateChange(transport.StateHandler) func() { return func() {} }
func (f *failingTransport) State() transport.State                      { return transport.StateDisconnected }
func (f *failingTransport) Close() error {
	f.closed = true
	return nil
}

func TestTransportFailureLeavesRegistryUntouched(t *testing.T) {
	repo := repository.NewInMemorySessionRepository()
	bus := transport.NewBus(slogdiscard.NewDiscardLogger())
	failing := &failingTransport{}
	factory := transport.FactoryFunc(func(sessionID uuid.UUID, participantID string) transport.Transport {
		if participantID == bob.ID {
			return failing
		}
		return bus.New(sessionID, participantID)
	})
	svc := NewSessionService(repo, factory, slogdiscard.NewDiscardLogger())
	defer svc.Close()
	ctx := context.Background()

	_, err := svc.CreateSession(ctx, bob, "550", "X", false)
	require.ErrorIs(t, err, domain.ErrTransport)
	all, _ := repo.List(ctx)
	assert.Empty(t, all)
	assert.True(t, failing.closed)

	created, err := svc.CreateSession(ctx, alice, "550", "X", false)
	require.NoError(t, err)

	_, err = svc.JoinSession(ctx, bob, created.ID, "")
	require.ErrorIs(t, err, domain.ErrTransport)

	stored, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Participants, 1)
	assert.Empty(t, stored.Messages)
}

func TestFailedSwitchKeepsPreviousSession(t *testing.T) {
	repo := repository.NewInMemorySessionRepository()
	bus := transport.NewBus(slogdiscard.NewDiscardLogger())
	var failBob atomic.Bool
	factory := transport.FactoryFunc(func(sessionID uuid.UUID, participantID string) transport.Transport {
		if participantID == bob.ID && failBob.Load() {
			return &failingTransport{}
		}
		return bus.New(sessionID, participantID)
	})
	svc := NewSessionService(repo, factory, slogdiscard.NewDiscardLogger())
	defer svc.Close()
	ctx := context.Background()

	first, err := svc.CreateSession(ctx, carol, "550", "X", false)
	require.NoError(t, err)
	_, err = svc.JoinSession(ctx, bob, first.ID, "")
	require.NoError(t, err)
	second, err := svc.CreateSession(ctx, alice, "13", "Y", false)
	require.NoError(t, err)
	before, err := repo.GetByID(ctx, first.ID)
	require.NoError(t, err)

	failBob.Store(true)

	_, err = svc.JoinSession(ctx, bob, second.ID, "")
	require.ErrorIs(t, err, domain.ErrTransport)

	_, err = svc.CreateSession(ctx, bob, "680", "Z", false)
	require.ErrorIs(t, err, domain.ErrTransport)

	stored, err := repo.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Participants, 2)
	assert.Equal(t, len(before.Messages), len(stored.Messages))
	_, ok := stored.Participant(bob.ID)
	assert.True(t, ok)

	target, err := repo.GetByID(ctx, second.ID)
	require.NoError(t, err)
	assert.Len(t, target.Participants, 1)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	current, err := svc.GetCurrentSession(ctx, bob.ID)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, first.ID, current.ID)

	failBob.Store(false)
	_, err = svc.JoinSession(ctx, bob, second.ID, "")
	require.NoError(t, err)

	stored, err = repo.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Participants, 1)
	assert.Equal(t, "Bob left the watch party", stored.Messages[len(stored.Messages)-1].Content)
}

type collidingRepo struct {
	*repository.InMemorySessionRepository
	collisions int
}

func (r *collidingRepo) Create(ctx context.Context, s *domain.Session) error {
	if r.collisions > 0 {
		r.collisions--
		return repository.ErrAccessCodeExists
	}
	return r.InMemorySessionRepository.Create(ctx, s)
}

func TestCreateSession_RetriesAccessCodeCollision(t *testing.T) {
	repo := &collidingRepo{InMemorySessionRepository: repository.NewInMemorySessionRepository(), collisions: 2}
	svc := NewSessionService(repo, transport.NewBus(slogdiscard.NewDiscardLogger()), slogdiscard.NewDiscardLogger())
	defer svc.Close()

	created, err := svc.CreateSession(context.Background(), alice, "550", "X", true)

	require.NoError(t, err)
	assert.Zero(t, repo.collisions)
	assert.Len(t, created.AccessCode, domain.AccessCodeLength)
}

type titleStub map[string]string

func (s titleStub) Title(_ context.Context, id string) string { return s[id] }

func TestCreateSession_ResolvesMissingTitle(t *testing.T) {
	svc, _ := newTestService(t, WithContentResolver(titleStub{"550": "Fight Club"}))

	created, err := svc.CreateSession(context.Background(), alice, "550", "", false)

	require.NoError(t, err)
	assert.Equal(t, "Fight Club", created.ContentTitle)
	assert.Equal(t, "Alice's Watch Party", created.Name)
}

func TestHandleEnvelope(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	created, err := svc.CreateSession(ctx, alice, "550", "X", false)
	require.NoError(t, err)
	_, err = svc.JoinSession(ctx, bob, created.ID, "")
	require.NoError(t, err)
	bobInbox := listen(t, svc, created.ID, bob.ID)

	chat := domain.Envelope{Type: domain.EnvelopeChat, Message: &domain.Message{Content: "hi"}}
	require.NoError(t, svc.HandleEnvelope(ctx, alice.ID, chat))

	offer := domain.Envelope{
		Type:     domain.EnvelopeOffer,
		TargetID: bob.ID,
		SDP:      &webrtcOffer,
	}
	require.NoError(t, svc.HandleEnvelope(ctx, alice.ID, offer))

	require.Eventually(t, func() bool { return len(bobInbox.ofType(domain.EnvelopeOffer)) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, alice.ID, bobInbox.ofType(domain.EnvelopeOffer)[0].SenderID)

	forged := domain.NewMessageEnvelope(created.ID.String(), domain.NewSystemMessage("fake"))
	assert.ErrorIs(t, svc.HandleEnvelope(ctx, alice.ID, forged), domain.ErrInvalidArgument)

	stray := offer
	stray.TargetID = "ghost"
	assert.ErrorIs(t, svc.HandleEnvelope(ctx, alice.ID, stray), domain.ErrInvalidArgument)

	require.NoError(t, svc.HandleEnvelope(ctx, bob.ID, domain.Envelope{Type: domain.EnvelopeLeave}))

	stored, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Participants, 1)
	assert.Equal(t, domain.MessageKindChat, stored.Messages[1].Kind)
}

func TestConnectivityFollowsTransportState(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	created, err := svc.CreateSession(ctx, alice, "550", "X", false)
	require.NoError(t, err)
	assert.Equal(t, domain.ParticipantStatusConnected, created.Participants[0].Status)

	tr, err := svc.Attach(ctx, created.ID, alice.ID)
	require.NoError(t, err)
	require.NoError(t, tr.Close())

	stored, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ParticipantStatusDisconnected, stored.Participants[0].Status)

	_, err = svc.Attach(ctx, created.ID, alice.ID)
	require.NoError(t, err)
	stored, err = repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, stored.Participants[0].IsConnected())

	_, err = svc.Attach(ctx, created.ID, bob.ID)
	assert.ErrorIs(t, err, domain.ErrPrecondition)
}

func TestListSessionsRedactsCodes(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.CreateSession(ctx, alice, "550", "X", true)
	require.NoError(t, err)
	_, err = svc.CreateSession(ctx, bob, "13", "Y", false)
	require.NoError(t, err)

	list, err := svc.ListSessions(ctx)

	require.NoError(t, err)
	require.Len(t, list, 2)
	for _, s := range list {
		assert.Empty(t, s.AccessCode)
	}
}
