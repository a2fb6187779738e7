package http

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/immxrtalbeast/watchparty/internal/api/http/converter"
	"github.com/immxrtalbeast/watchparty/internal/domain"
	"github.com/immxrtalbeast/watchparty/internal/metrics"
	"github.com/immxrtalbeast/watchparty/internal/repository"
	"github.com/immxrtalbeast/watchparty/internal/service"
	"github.com/immxrtalbeast/watchparty/lib/logger/sl"
	"github.com/pion/webrtc/v3"
)

const (
	headerUserID   = "X-User-Id"
	headerUserName = "X-User-Name"

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16384
	sendBuffer     = 256
)

// ClientSettings is handed to clients so their transports and playback
// synchronizers match the server configuration.
type ClientSettings struct {
	ICEServers     []webrtc.ICEServer `json:"ice_servers"`
	DriftThreshold float64            `json:"drift_threshold"`
	PushInterval   float64            `json:"push_interval"`
}

type SessionController struct {
	sessions service.SessionInteractor
	users    service.UserInteractor
	settings ClientSettings
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewSessionController(sessions service.SessionInteractor, users service.UserInteractor, settings ClientSettings, log *slog.Logger) *SessionController {
	return &SessionController{
		sessions: sessions,
		users:    users,
		settings: settings,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (c *SessionController) identity(ctx *gin.Context) (domain.Identity, bool) {
	identity, err := c.users.ResolveIdentity(ctx.Request.Context(), ctx.GetHeader(headerUserID), ctx.GetHeader(headerUserName))
	if err != nil {
		writeError(ctx, err)
		return domain.Identity{}, false
	}
	return identity, true
}

func participantID(ctx *gin.Context) (string, bool) {
	id := strings.TrimSpace(ctx.GetHeader(headerUserID))
	if id == "" {
		ctx.JSON(http.StatusPreconditionFailed, gin.H{"error": "X-User-Id header is required"})
		return "", false
	}
	return id, true
}

func sessionIDParam(ctx *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(ctx.Param("sessionID"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return uuid.Nil, false
	}
	return id, true
}

func (c *SessionController) Settings(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, c.settings)
}

func (c *SessionController) CreateSession(ctx *gin.Context) {
	type CreateSessionRequest struct {
		ContentID    string `json:"content_id" binding:"required"`
		ContentTitle string `json:"content_title"`
		IsPrivate    bool   `json:"is_private"`
	}
	var req CreateSessionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	identity, ok := c.identity(ctx)
	if !ok {
		return
	}

	session, err := c.sessions.CreateSession(ctx.Request.Context(), identity, req.ContentID, req.ContentTitle, req.IsPrivate)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"session": converter.SessionToApi(session)})
}

func (c *SessionController) JoinSession(ctx *gin.Context) {
	type JoinSessionRequest struct {
		AccessCode string `json:"access_code"`
	}
	sessionID, ok := sessionIDParam(ctx)
	if !ok {
		return
	}
	var req JoinSessionRequest
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
			return
		}
	}
	identity, ok := c.identity(ctx)
	if !ok {
		return
	}

	session, err := c.sessions.JoinSession(ctx.Request.Context(), identity, sessionID, req.AccessCode)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"session": converter.SessionToApi(session)})
}

func (c *SessionController) LeaveSession(ctx *gin.Context) {
	pid, ok := participantID(ctx)
	if !ok {
		return
	}
	if err := c.sessions.LeaveSession(ctx.Request.Context(), pid); err != nil {
		writeError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (c *SessionController) GetSession(ctx *gin.Context) {
	sessionID, ok := sessionIDParam(ctx)
	if !ok {
		return
	}
	session, err := c.sessions.GetSession(ctx.Request.Context(), sessionID, ctx.GetHeader(headerUserID))
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"session": converter.SessionToApi(session)})
}

func (c *SessionController) GetCurrentSession(ctx *gin.Context) {
	pid, ok := participantID(ctx)
	if !ok {
		return
	}
	session, err := c.sessions.GetCurrentSession(ctx.Request.Context(), pid)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"session": converter.SessionToApi(session)})
}

func (c *SessionController) ListSessions(ctx *gin.Context) {
	sessions, err := c.sessions.ListSessions(ctx.Request.Context())
	if err != nil {
		writeError(ctx, err)
		return
	}
	out := make([]*converter.SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, converter.SessionSummaryToApi(s))
	}
	ctx.JSON(http.StatusOK, gin.H{"sessions": out})
}

func (c *SessionController) SendMessage(ctx *gin.Context) {
	type SendMessageRequest struct {
		Content string `json:"content"`
	}
	pid, ok := participantID(ctx)
	if !ok {
		return
	}
	var req SendMessageRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	msg, err := c.sessions.SendChatMessage(ctx.Request.Context(), pid, req.Content)
	if err != nil {
		writeError(ctx, err)
		return
	}
	if msg == nil {
		ctx.Status(http.StatusNoContent)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"message": converter.MessageToApi(*msg)})
}

func (c *SessionController) SendReaction(ctx *gin.Context) {
	type SendReactionRequest struct {
		Content  string `json:"content"`
		MediaURL string `json:"media_url"`
	}
	pid, ok := participantID(ctx)
	if !ok {
		return
	}
	var req SendReactionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	msg, err := c.sessions.SendReaction(ctx.Request.Context(), pid, req.Content, req.MediaURL)
	if err != nil {
		writeError(ctx, err)
		return
	}
	if msg == nil {
		ctx.Status(http.StatusNoContent)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"message": converter.MessageToApi(*msg)})
}

func (c *SessionController) UpdatePlayback(ctx *gin.Context) {
	type UpdatePlaybackRequest struct {
		Offset  *float64 `json:"offset" binding:"required"`
		Playing bool     `json:"playing"`
	}
	pid, ok := participantID(ctx)
	if !ok {
		return
	}
	var req UpdatePlaybackRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	state, err := c.sessions.UpdatePlaybackState(ctx.Request.Context(), pid, *req.Offset, req.Playing)
	if err != nil {
		writeError(ctx, err)
		return
	}
	if state == nil {
		ctx.Status(http.StatusNoContent)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"state": converter.PlaybackToApi(*state)})
}

// Events streams registry snapshots of one session as server-sent events
// until the session closes or the client goes away.
func (c *SessionController) Events(ctx *gin.Context) {
	sessionID, ok := sessionIDParam(ctx)
	if !ok {
		return
	}
	viewer := ctx.GetHeader(headerUserID)

	current, err := c.sessions.GetSession(ctx.Request.Context(), sessionID, viewer)
	if err != nil {
		writeError(ctx, err)
		return
	}
	events, cancel := c.sessions.Subscribe(sessionID)
	defer cancel()

	ctx.Header("Cache-Control", "no-cache")
	ctx.Header("X-Accel-Buffering", "no")
	ctx.SSEvent(string(repository.SessionEventUpdated), converter.SessionToApi(current))
	ctx.Writer.Flush()

	ctx.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			ctx.SSEvent(string(ev.Type), converter.SessionToApi(redactFor(ev.Session, viewer)))
			return ev.Type != repository.SessionEventClosed
		case <-ctx.Request.Context().Done():
			return false
		}
	})
}

func redactFor(s *domain.Session, viewer string) *domain.Session {
	if s.HostID == viewer && viewer != "" {
		return s
	}
	return s.Redacted()
}

// Relay upgrades to a websocket carrying envelopes between the client and the
// participant's server-side transport. Envelopes the participant sent are not
// echoed back.
func (c *SessionController) Relay(ctx *gin.Context) {
	const op = "api.http.session.relay"

	sessionID, ok := sessionIDParam(ctx)
	if !ok {
		return
	}
	pid := strings.TrimSpace(ctx.Query("participant_id"))
	if pid == "" {
		pid = strings.TrimSpace(ctx.GetHeader(headerUserID))
	}
	if pid == "" {
		ctx.JSON(http.StatusPreconditionFailed, gin.H{"error": "participant_id is required"})
		return
	}
	log := c.log.With(
		slog.String("op", op),
		slog.String("session_id", sessionID.String()),
		slog.String("participant_id", pid),
	)

	tr, err := c.sessions.Attach(ctx.Request.Context(), sessionID, pid)
	if err != nil {
		log.Info("attach rejected", sl.Err(err))
		writeError(ctx, err)
		return
	}

	client := newRelayClient(log)
	cancelRecv := tr.OnReceive(func(env domain.Envelope) {
		if env.SenderID == pid {
			return
		}
		client.trySend(env)
	})
	defer cancelRecv()

	events, cancelEvents := c.sessions.Subscribe(sessionID)
	defer cancelEvents()
	go func() {
		for ev := range events {
			client.trySend(domain.Envelope{
				Type:      domain.EnvelopeSession,
				SessionID: sessionID.String(),
				Session:   redactFor(ev.Session, pid),
				TS:        time.Now().UTC(),
			})
		}
	}()

	conn, err := c.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		log.Warn("failed to upgrade connection", sl.Err(err))
		if err := c.sessions.SetConnectivity(context.Background(), pid, domain.ParticipantStatusDisconnected); err != nil {
			log.Warn("failed to record disconnect", sl.Err(err))
		}
		return
	}
	client.conn = conn
	metrics.RelayConnections.Inc()
	defer metrics.RelayConnections.Dec()

	go client.writePump()
	client.readPump(func(env domain.Envelope) {
		if err := c.sessions.HandleEnvelope(context.Background(), pid, env); err != nil {
			client.trySend(domain.NewErrorEnvelope(sessionID.String(), err))
		}
	})

	if err := c.sessions.SetConnectivity(context.Background(), pid, domain.ParticipantStatusDisconnected); err != nil {
		log.Warn("failed to record disconnect", sl.Err(err))
	}
	log.Info("relay connection closed")
}

type relayClient struct {
	conn *websocket.Conn
	log  *slog.Logger
	send chan domain.Envelope
	done chan struct{}
	once sync.Once
}

// newRelayClient buffers envelopes until the connection is attached.
func newRelayClient(log *slog.Logger) *relayClient {
	return &relayClient{
		log:  log,
		send: make(chan domain.Envelope, sendBuffer),
		done: make(chan struct{}),
	}
}

func (c *relayClient) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// trySend drops the envelope when the client cannot keep up.
func (c *relayClient) trySend(env domain.Envelope) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- env:
	case <-c.done:
	default:
		metrics.TransportDrops.WithLabelValues("relay").Inc()
		c.log.Warn("relay buffer full, envelope dropped", slog.String("type", string(env.Type)))
	}
}

func (c *relayClient) readPump(handle func(domain.Envelope)) {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var env domain.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Info("relay read failed", sl.Err(err))
			}
			return
		}
		handle(env)
	}
}

func (c *relayClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case env := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
