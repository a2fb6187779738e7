package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/immxrtalbeast/watchparty/internal/domain"
	"github.com/immxrtalbeast/watchparty/lib/logger/sl"
)

const (
	writeWait = 10 * time.Second

	defaultMaxTries   uint = 5
	defaultMaxElapsed      = 30 * time.Second
)

// WebSocketTransport talks to the relay endpoint of the HTTP API. The relay
// fans envelopes out to the other participants of the session and does not
// echo them back, so successful writes are delivered to local handlers here.
type WebSocketTransport struct {
	endpoint      string
	participantID string
	header        http.Header
	dialer        *websocket.Dialer
	log           *slog.Logger
	maxTries      uint
	maxElapsed    time.Duration

	listeners
	state stateBox
	seq   atomic.Uint64

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	closed bool

	writeMu sync.Mutex
}

type WebSocketOption func(*WebSocketTransport)

func WithHeader(h http.Header) WebSocketOption {
	return func(t *WebSocketTransport) { t.header = h }
}

func WithDialer(d *websocket.Dialer) WebSocketOption {
	return func(t *WebSocketTransport) { t.dialer = d }
}

func WithLogger(log *slog.Logger) WebSocketOption {
	return func(t *WebSocketTransport) { t.log = log }
}

// WithRetry bounds dial attempts for both the initial open and reconnects.
func WithRetry(maxTries uint, maxElapsed time.Duration) WebSocketOption {
	return func(t *WebSocketTransport) {
		t.maxTries = maxTries
		t.maxElapsed = maxElapsed
	}
}

// NewWebSocketTransport builds a transport for endpoint, a ws:// or wss:// URL
// of the session relay including the participant query parameter.
func NewWebSocketTransport(endpoint, participantID string, opts ...WebSocketOption) *WebSocketTransport {
	t := &WebSocketTransport{
		endpoint:      endpoint,
		participantID: participantID,
		dialer:        websocket.DefaultDialer,
		log:           slog.Default(),
		maxTries:      defaultMaxTries,
		maxElapsed:    defaultMaxElapsed,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.With(
		slog.String("transport", "websocket"),
		slog.String("participant_id", participantID),
	)
	return t
}

func (t *WebSocketTransport) Open(ctx context.Context, role Role) error {
	const op = "transport.websocket.Open"
	log := t.log.With(slog.String("op", op), slog.String("role", string(role)))

	if t.state.get() == StateConnected {
		return nil
	}
	t.setState(StateConnecting)

	conn, err := t.dial(ctx)
	if err != nil {
		t.setState(StateDisconnected)
		log.Warn("failed to open relay connection", sl.Err(err))
		return fmt.Errorf("%s: %w: %v", op, domain.ErrTransport, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.conn = conn
	t.cancel = cancel
	t.closed = false
	t.mu.Unlock()

	t.setState(StateConnected)
	go t.readLoop(loopCtx, conn)
	return nil
}

func (t *WebSocketTransport) dial(ctx context.Context) (*websocket.Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second

	return backoff.Retry(ctx, func() (*websocket.Conn, error) {
		conn, resp, err := t.dialer.DialContext(ctx, t.endpoint, t.header)
		if err != nil {
			if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return nil, backoff.Permanent(fmt.Errorf("relay rejected handshake: %s", resp.Status))
			}
			return nil, err
		}
		return conn, nil
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(t.maxTries),
		backoff.WithMaxElapsedTime(t.maxElapsed),
	)
}

func (t *WebSocketTransport) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var env domain.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if ctx.Err() != nil {
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				t.log.Warn("relay connection lost", sl.Err(err))
			}
			conn = t.reconnect(ctx)
			if conn == nil {
				return
			}
			continue
		}
		t.dispatch(env)
	}
}

// reconnect returns nil when the transport was closed or the retry budget ran
// out; in the latter case the transport stays disconnected.
func (t *WebSocketTransport) reconnect(ctx context.Context) *websocket.Conn {
	t.mu.Lock()
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
	t.mu.Unlock()

	t.setState(StateConnecting)
	conn, err := t.dial(ctx)
	if err != nil {
		if ctx.Err() == nil {
			t.log.Error("failed to reconnect", sl.Err(err))
			t.setState(StateDisconnected)
		}
		return nil
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	t.conn = conn
	t.mu.Unlock()

	t.setState(StateConnected)
	t.log.Info("relay connection restored")
	return conn
}

func (t *WebSocketTransport) Send(ctx context.Context, env domain.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil || t.state.get() != StateConnected {
		return ErrNotConnected
	}

	if env.SenderID == "" {
		env.SenderID = t.participantID
	}
	env.Seq = t.seq.Add(1)
	if env.TS.IsZero() {
		env.TS = time.Now().UTC()
	}

	t.writeMu.Lock()
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)
	err := conn.WriteJSON(env)
	t.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}

	t.dispatch(env)
	return nil
}

func (t *WebSocketTransport) OnReceive(h Handler) func() {
	return t.addReceive(h)
}

func (t *WebSocketTransport) OnStateChange(h StateHandler) func() {
	return t.addState(h)
}

func (t *WebSocketTransport) State() State {
	return t.state.get()
}

func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	t.conn = nil
	if t.cancel != nil {
		t.cancel()
	}
	t.mu.Unlock()

	var err error
	if conn != nil {
		t.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		t.writeMu.Unlock()
		err = conn.Close()
	}

	t.setState(StateDisconnected)
	return err
}

func (t *WebSocketTransport) setState(s State) {
	if t.state.set(s) {
		t.emit(s)
	}
}
