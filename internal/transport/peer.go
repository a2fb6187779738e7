package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/immxrtalbeast/watchparty/internal/domain"
	"github.com/immxrtalbeast/watchparty/lib/logger/sl"
	"github.com/pion/webrtc/v3"
)

const dataChannelLabel = "watchparty"

// PeerTransport is a direct link between two participants over a WebRTC data
// channel. Offer, answer and ICE candidates travel over the signaling
// transport; the host side creates the channel and the offer.
type PeerTransport struct {
	signaling     Transport
	participantID string
	config        webrtc.Configuration
	log           *slog.Logger

	listeners
	state stateBox
	seq   atomic.Uint64

	mu          sync.Mutex
	remoteID    string
	pc          *webrtc.PeerConnection
	dc          *webrtc.DataChannel
	opened      chan struct{}
	openOnce    *sync.Once
	pending     []webrtc.ICECandidateInit
	unsubscribe func()
}

// NewPeerTransport links participantID to remoteID. An empty remoteID on the
// answering side accepts the first offer addressed to this participant.
func NewPeerTransport(signaling Transport, participantID, remoteID string, cfg webrtc.Configuration, log *slog.Logger) *PeerTransport {
	return &PeerTransport{
		signaling:     signaling,
		participantID: participantID,
		remoteID:      remoteID,
		config:        cfg,
		log: log.With(
			slog.String("transport", "webrtc"),
			slog.String("participant_id", participantID),
		),
	}
}

// ICEConfiguration turns a list of STUN/TURN URLs into a pion configuration.
func ICEConfiguration(urls []string) webrtc.Configuration {
	if len(urls) == 0 {
		return webrtc.Configuration{}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: urls}},
	}
}

func (t *PeerTransport) Open(ctx context.Context, role Role) error {
	const op = "transport.peer.Open"
	log := t.log.With(slog.String("op", op), slog.String("role", string(role)))

	if t.state.get() == StateConnected {
		return nil
	}
	if t.signaling.State() != StateConnected {
		return fmt.Errorf("%s: %w: signaling is %s", op, domain.ErrTransport, t.signaling.State())
	}
	t.setState(StateConnecting)

	pc, err := webrtc.NewPeerConnection(t.config)
	if err != nil {
		t.setState(StateDisconnected)
		return fmt.Errorf("%s: %w: %v", op, domain.ErrTransport, err)
	}

	t.mu.Lock()
	t.pc = pc
	t.opened = make(chan struct{})
	t.openOnce = &sync.Once{}
	t.pending = nil
	opened := t.opened
	t.mu.Unlock()

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		t.signal(domain.Envelope{Type: domain.EnvelopeICECandidate, Candidate: &init})
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Debug("peer connection state changed", slog.String("state", s.String()))
		switch s {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateClosed:
			t.setState(StateDisconnected)
		}
	})

	unsubscribe := t.signaling.OnReceive(t.handleSignal)
	t.mu.Lock()
	t.unsubscribe = unsubscribe
	t.mu.Unlock()

	switch role {
	case RoleHost:
		dc, err := pc.CreateDataChannel(dataChannelLabel, nil)
		if err != nil {
			_ = t.Close()
			return fmt.Errorf("%s: %w: %v", op, domain.ErrTransport, err)
		}
		t.bindChannel(dc)

		offer, err := pc.CreateOffer(nil)
		if err != nil {
			_ = t.Close()
			return fmt.Errorf("%s: %w: %v", op, domain.ErrTransport, err)
		}
		if err := pc.SetLocalDescription(offer); err != nil {
			_ = t.Close()
			return fmt.Errorf("%s: %w: %v", op, domain.ErrTransport, err)
		}
		t.signal(domain.Envelope{Type: domain.EnvelopeOffer, SDP: &offer})
	default:
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			if dc.Label() == dataChannelLabel {
				t.bindChannel(dc)
			}
		})
	}

	select {
	case <-opened:
		t.setState(StateConnected)
		log.Info("data channel open")
		return nil
	case <-ctx.Done():
		_ = t.Close()
		return fmt.Errorf("%s: %w: %v", op, domain.ErrTransport, ctx.Err())
	}
}

func (t *PeerTransport) handleSignal(env domain.Envelope) {
	if !env.IsSignal() || env.SenderID == t.participantID {
		return
	}
	if env.TargetID != "" && env.TargetID != t.participantID {
		return
	}

	t.mu.Lock()
	pc := t.pc
	if t.remoteID == "" && env.Type == domain.EnvelopeOffer {
		t.remoteID = env.SenderID
	}
	remoteID := t.remoteID
	t.mu.Unlock()

	if pc == nil || env.SenderID != remoteID {
		return
	}

	var err error
	switch env.Type {
	case domain.EnvelopeOffer:
		err = t.answer(pc, *env.SDP)
	case domain.EnvelopeAnswer:
		if err = pc.SetRemoteDescription(*env.SDP); err == nil {
			err = t.flushCandidates(pc)
		}
	case domain.EnvelopeICECandidate:
		if pc.RemoteDescription() == nil {
			t.mu.Lock()
			t.pending = append(t.pending, *env.Candidate)
			t.mu.Unlock()
			return
		}
		err = pc.AddICECandidate(*env.Candidate)
	}
	if err != nil {
		t.log.Warn("failed to apply signal",
			slog.String("type", string(env.Type)),
			sl.Err(err),
		)
	}
}

func (t *PeerTransport) answer(pc *webrtc.PeerConnection, offer webrtc.SessionDescription) error {
	if err := pc.SetRemoteDescription(offer); err != nil {
		return err
	}
	if err := t.flushCandidates(pc); err != nil {
		return err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return err
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return err
	}
	t.signal(domain.Envelope{Type: domain.EnvelopeAnswer, SDP: &answer})
	return nil
}

func (t *PeerTransport) flushCandidates(pc *webrtc.PeerConnection) error {
	t.mu.Lock()
	pending := t.pending
	t.pending = nil
	t.mu.Unlock()

	for _, c := range pending {
		if err := pc.AddICECandidate(c); err != nil {
			return err
		}
	}
	return nil
}

func (t *PeerTransport) signal(env domain.Envelope) {
	t.mu.Lock()
	env.TargetID = t.remoteID
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	if err := t.signaling.Send(ctx, env); err != nil {
		t.log.Warn("failed to send signal",
			slog.String("type", string(env.Type)),
			sl.Err(err),
		)
	}
}

func (t *PeerTransport) bindChannel(dc *webrtc.DataChannel) {
	t.mu.Lock()
	t.dc = dc
	opened, once := t.opened, t.openOnce
	t.mu.Unlock()

	dc.OnOpen(func() {
		once.Do(func() { close(opened) })
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		var env domain.Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			t.log.Warn("dropping malformed envelope", sl.Err(err))
			return
		}
		t.dispatch(env)
	})
	dc.OnClose(func() {
		t.setState(StateDisconnected)
	})
}

func (t *PeerTransport) Send(ctx context.Context, env domain.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	dc := t.dc
	t.mu.Unlock()
	if dc == nil || t.state.get() != StateConnected {
		return ErrNotConnected
	}

	if env.SenderID == "" {
		env.SenderID = t.participantID
	}
	env.Seq = t.seq.Add(1)
	if env.TS.IsZero() {
		env.TS = time.Now().UTC()
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	if err := dc.SendText(string(data)); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}

	t.dispatch(env)
	return nil
}

func (t *PeerTransport) OnReceive(h Handler) func() {
	return t.addReceive(h)
}

func (t *PeerTransport) OnStateChange(h StateHandler) func() {
	return t.addState(h)
}

func (t *PeerTransport) State() State {
	return t.state.get()
}

func (t *PeerTransport) Close() error {
	t.mu.Lock()
	pc := t.pc
	unsubscribe := t.unsubscribe
	t.pc = nil
	t.dc = nil
	t.unsubscribe = nil
	t.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	var err error
	if pc != nil {
		err = pc.Close()
	}
	t.setState(StateDisconnected)
	return err
}

func (t *PeerTransport) setState(s State) {
	if t.state.set(s) {
		t.emit(s)
	}
}
