package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/immxrtalbeast/watchparty/internal/domain"
	"github.com/immxrtalbeast/watchparty/internal/transport"
	"github.com/immxrtalbeast/watchparty/lib/logger/handlers/slogdiscard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type inbox struct {
	mu   sync.Mutex
	envs []domain.Envelope
}

func (i *inbox) handle(env domain.Envelope) {
	i.mu.Lock()
	i.envs = append(i.envs, env)
	i.mu.Unlock()
}

func (i *inbox) find(match func(domain.Envelope) bool) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, env := range i.envs {
		if match(env) {
			return true
		}
	}
	return false
}

func relayURL(server *httptest.Server, sessionID, participantID string) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/api/sessions/" + sessionID + "/ws?participant_id=" + participantID
}

func TestRelay_FansOutBetweenClients(t *testing.T) {
	router, _ := newTestRouter(t)
	s := createSession(t, router, false)
	rec := doJSON(t, router, http.MethodPost, "/api/sessions/"+s.ID.String()+"/join", "bob", "Bob", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	server := httptest.NewServer(router)
	defer server.Close()

	ctx := context.Background()
	log := slogdiscard.NewDiscardLogger()

	aliceWS := transport.NewWebSocketTransport(relayURL(server, s.ID.String(), "alice"), "alice", transport.WithLogger(log))
	aliceBox := &inbox{}
	aliceWS.OnReceive(aliceBox.handle)
	require.NoError(t, aliceWS.Open(ctx, transport.RoleHost))
	defer aliceWS.Close()

	bobWS := transport.NewWebSocketTransport(relayURL(server, s.ID.String(), "bob"), "bob", transport.WithLogger(log))
	bobBox := &inbox{}
	bobWS.OnReceive(bobBox.handle)
	require.NoError(t, bobWS.Open(ctx, transport.RoleParticipant))
	defer bobWS.Close()

	require.NoError(t, aliceWS.Send(ctx, domain.Envelope{
		Type:    domain.EnvelopeChat,
		Message: &domain.Message{Content: "popcorn ready"},
	}))

	assert.Eventually(t, func() bool {
		return bobBox.find(func(env domain.Envelope) bool {
			return env.Type == domain.EnvelopeChat && env.Message.Content == "popcorn ready" && env.SenderID == "alice"
		})
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, bobWS.Send(ctx, domain.Envelope{
		Type:  domain.EnvelopeStateUpdate,
		State: &domain.PlaybackState{Offset: 12, Playing: true},
	}))

	assert.Eventually(t, func() bool {
		return aliceBox.find(func(env domain.Envelope) bool {
			return env.Type == domain.EnvelopeStateUpdate && env.State.UpdatedBy == "bob" && env.State.Offset == 12
		})
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, bobWS.Send(ctx, domain.Envelope{Type: domain.EnvelopeStateUpdate}))

	assert.Eventually(t, func() bool {
		return bobBox.find(func(env domain.Envelope) bool {
			return env.Type == domain.EnvelopeError
		})
	}, 2*time.Second, 20*time.Millisecond)
}

func TestRelay_MarksDisconnectedOnClose(t *testing.T) {
	router, sessions := newTestRouter(t)
	s := createSession(t, router, false)

	server := httptest.NewServer(router)
	defer server.Close()

	ws := transport.NewWebSocketTransport(relayURL(server, s.ID.String(), "alice"), "alice",
		transport.WithLogger(slogdiscard.NewDiscardLogger()))
	require.NoError(t, ws.Open(context.Background(), transport.RoleHost))

	current, err := sessions.GetCurrentSession(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, current.Participants[0].IsConnected())

	require.NoError(t, ws.Close())

	assert.Eventually(t, func() bool {
		current, err := sessions.GetCurrentSession(context.Background(), "alice")
		return err == nil && current != nil && !current.Participants[0].IsConnected()
	}, 2*time.Second, 20*time.Millisecond)
}

func TestRelay_RejectsStranger(t *testing.T) {
	router, _ := newTestRouter(t)
	s := createSession(t, router, false)

	server := httptest.NewServer(router)
	defer server.Close()

	ws := transport.NewWebSocketTransport(relayURL(server, s.ID.String(), "mallory"), "mallory",
		transport.WithLogger(slogdiscard.NewDiscardLogger()),
		transport.WithRetry(1, time.Second))

	err := ws.Open(context.Background(), transport.RoleParticipant)

	assert.ErrorIs(t, err, domain.ErrTransport)
}

func TestRelay_FailedUpgradeMarksDisconnected(t *testing.T) {
	router, sessions := newTestRouter(t)
	s := createSession(t, router, false)

	current, err := sessions.GetCurrentSession(context.Background(), "alice")
	require.NoError(t, err)
	require.True(t, current.Participants[0].IsConnected())

	rec := doJSON(t, router, http.MethodGet, "/api/sessions/"+s.ID.String()+"/ws?participant_id=alice", "", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	current, err = sessions.GetCurrentSession(context.Background(), "alice")
	require.NoError(t, err)
	assert.False(t, current.Participants[0].IsConnected())
}
