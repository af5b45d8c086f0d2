// Package session owns the connection lifecycle: authenticate, dial, handshake,
// heartbeat, and the fixed-delay reconnect loop with a capped attempt budget.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dragodark/peerchat/internal/api"
	"github.com/dragodark/peerchat/internal/notify"
	"github.com/dragodark/peerchat/internal/transport"
	"github.com/dragodark/peerchat/internal/wire"
)

// State is the session lifecycle state.
type State int

const (
	// StateDisconnected means no connection and no pending reconnect.
	StateDisconnected State = iota
	// StateAuthenticating covers login, dial and the websocket handshake.
	StateAuthenticating
	// StateConnected means the handshake completed and frames are flowing.
	StateConnected
	// StateReconnecting means a retry timer is armed.
	StateReconnecting
	// StateFailed means the reconnect budget ran out. Terminal until the
	// user asks to connect again.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Authenticator exchanges credentials for a token.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (string, error)
}

// Dialer opens the websocket channel.
type Dialer interface {
	Dial(ctx context.Context) (transport.Conn, error)
}

// Receiver consumes a connected channel's frames until it closes.
type Receiver interface {
	Run(ctx context.Context, conn transport.Conn)
}

// Config holds the session knobs.
type Config struct {
	Username          string
	Password          string
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	HeartbeatPeriod   time.Duration
	HandshakeTimeout  time.Duration
}

// Manager drives the session state machine. All state transitions happen
// under one mutex; the reconnect timer checks the state again when it fires,
// so a timer that outlives a manual disconnect is a no-op.
type Manager struct {
	cfg      Config
	auth     Authenticator
	dialer   Dialer
	recv     Receiver
	notifier notify.Publisher
	log      *zerolog.Logger

	mu      sync.Mutex
	state   State
	attempt int
	manual  bool
	token   string
	conn    transport.Conn
	hbStop  chan struct{}
}

// New builds a manager. Nothing connects until Connect is called.
func New(cfg Config, auth Authenticator, dialer Dialer, recv Receiver, notifier notify.Publisher, logger *zerolog.Logger) *Manager {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.HeartbeatPeriod <= 0 {
		cfg.HeartbeatPeriod = 30 * time.Second
	}
	return &Manager{
		cfg:      cfg,
		auth:     auth,
		dialer:   dialer,
		recv:     recv,
		notifier: notifier,
		log:      logger,
	}
}

// State reports the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempt reports the current reconnect attempt counter.
func (m *Manager) Attempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt
}

// Connect starts a user-initiated connection. It resets the reconnect budget
// and returns immediately; progress is reported through the notifier.
func (m *Manager) Connect(ctx context.Context) {
	m.mu.Lock()
	if m.state == StateConnected || m.state == StateAuthenticating {
		m.mu.Unlock()
		return
	}
	m.manual = false
	m.attempt = 0
	m.mu.Unlock()
	go m.connect(ctx)
}

// Disconnect tears the session down and disarms any pending reconnect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.manual = true
	m.state = StateDisconnected
	conn := m.conn
	m.conn = nil
	if m.hbStop != nil {
		close(m.hbStop)
		m.hbStop = nil
	}
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	m.notifier.Publish(notify.Notification{Kind: notify.KindDisconnected, Text: "Disconnected", Speak: true})
}

// SendMessage sends a chat message on the live channel. Fire and forget: when
// the session is not connected the message is dropped with a log line, the
// same as a send racing a channel teardown.
func (m *Manager) SendMessage(ctx context.Context, chatID, text string, isAction bool) {
	frame, err := wire.Event(wire.EventSendMessage, wire.SendMessagePayload{
		ChatID:   chatID,
		Message:  text,
		IsAction: isAction,
	})
	if err != nil {
		m.log.Error().Err(err).Msg("encode send_message")
		return
	}
	m.send(ctx, frame)
}

// SendTyping tells the relay we are typing in a chat.
func (m *Manager) SendTyping(ctx context.Context, chatID string) {
	frame, err := wire.Event(wire.EventTyping, wire.TypingPayload{ChatID: chatID})
	if err != nil {
		m.log.Error().Err(err).Msg("encode typing")
		return
	}
	m.send(ctx, frame)
}

func (m *Manager) send(ctx context.Context, frame wire.Frame) {
	m.mu.Lock()
	conn, state := m.conn, m.state
	m.mu.Unlock()
	if state != StateConnected || conn == nil {
		m.log.Debug().Str("event", frame.Event).Msg("dropping send while not connected")
		return
	}
	if err := conn.Send(ctx, frame); err != nil {
		m.log.Debug().Err(err).Str("event", frame.Event).Msg("send failed")
	}
}

// connect runs one full attempt: login, dial, handshake. Transient failures
// schedule a retry; a credentials rejection is terminal and announced once.
func (m *Manager) connect(ctx context.Context) {
	m.mu.Lock()
	if m.state == StateConnected || m.state == StateAuthenticating || m.manual {
		m.mu.Unlock()
		return
	}
	firstAttempt := m.attempt == 0
	m.state = StateAuthenticating
	m.mu.Unlock()

	token, err := m.auth.Login(ctx, m.cfg.Username, m.cfg.Password)
	if err != nil {
		if errors.Is(err, api.ErrUnauthorized) {
			m.log.Error().Err(err).Msg("login rejected")
			m.mu.Lock()
			m.state = StateDisconnected
			m.mu.Unlock()
			m.notifier.Publish(notify.Notification{Kind: notify.KindLoginFailed, Text: "Login failed", Sound: true, Speak: true})
			return
		}
		m.log.Warn().Err(err).Msg("login attempt failed")
		m.retryOrFail(ctx, firstAttempt, "Server unreachable")
		return
	}

	conn, err := m.dialer.Dial(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("dial failed")
		m.retryOrFail(ctx, firstAttempt, "Server unreachable")
		return
	}

	if err := m.handshake(ctx, conn, token); err != nil {
		_ = conn.Close()
		m.log.Warn().Err(err).Msg("handshake failed")
		m.retryOrFail(ctx, firstAttempt, "Connection timed out")
		return
	}

	hbStop := make(chan struct{})
	m.mu.Lock()
	m.state = StateConnected
	m.attempt = 0
	m.token = token
	m.conn = conn
	m.hbStop = hbStop
	m.mu.Unlock()

	m.log.Info().Str("user", m.cfg.Username).Msg("session established")
	if firstAttempt {
		m.notifier.Publish(notify.Notification{Kind: notify.KindConnected, Text: "Connected", Sound: true, Speak: true})
	}

	go m.heartbeat(conn, hbStop)
	go func() {
		m.recv.Run(ctx, conn)
		m.channelClosed(ctx, conn)
	}()
}

// handshake completes the post-connect exchange: namespace ack, authenticate
// event, then wait for the authenticated confirmation. Pings arriving during
// the wait are answered; everything else is skipped until confirmation.
func (m *Manager) handshake(ctx context.Context, conn transport.Conn, token string) error {
	if err := conn.Send(ctx, wire.Ack()); err != nil {
		return err
	}
	authFrame, err := wire.Event(wire.EventAuthenticate, wire.AuthenticatePayload{Token: token})
	if err != nil {
		return err
	}
	if err := conn.Send(ctx, authFrame); err != nil {
		return err
	}

	deadline := time.NewTimer(m.cfg.HandshakeTimeout)
	defer deadline.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return errors.New("timed out waiting for authentication")
		case frame, ok := <-conn.Frames():
			if !ok {
				return errors.New("channel closed during handshake")
			}
			switch {
			case frame.Kind == wire.KindPing:
				_ = conn.Send(ctx, wire.Pong())
			case frame.Kind == wire.KindEvent && frame.Event == wire.EventAuthenticated:
				return nil
			case frame.Kind == wire.KindEvent && frame.Event == wire.EventError:
				return errors.New("relay rejected authentication")
			}
		}
	}
}

// channelClosed runs when the receiver drains the last frame of a connection.
// A stale call for an already-replaced connection does nothing.
func (m *Manager) channelClosed(ctx context.Context, conn transport.Conn) {
	m.mu.Lock()
	if m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	if m.hbStop != nil {
		close(m.hbStop)
		m.hbStop = nil
	}
	manual := m.manual
	m.mu.Unlock()

	_ = conn.Close()
	if manual {
		return
	}
	m.log.Warn().Msg("connection dropped")
	m.retryOrFail(ctx, false, "")
}

// retryOrFail arms the retry timer, or gives up and announces the loss once
// the budget is exhausted. Retries themselves are silent; only the first
// attempt's error and the final failure reach the user.
func (m *Manager) retryOrFail(ctx context.Context, firstAttempt bool, reason string) {
	m.mu.Lock()
	if m.manual {
		m.state = StateDisconnected
		m.mu.Unlock()
		return
	}
	if m.attempt >= m.cfg.ReconnectAttempts {
		m.state = StateFailed
		m.mu.Unlock()
		m.log.Error().Int("attempts", m.cfg.ReconnectAttempts).Msg("reconnect budget exhausted")
		m.notifier.Publish(notify.Notification{Kind: notify.KindConnectionLost, Text: "Connection lost", Sound: true, Speak: true})
		return
	}
	m.attempt++
	m.state = StateReconnecting
	attempt := m.attempt
	m.mu.Unlock()

	if firstAttempt && reason != "" {
		m.notifier.Publish(notify.Notification{Kind: notify.KindConnectFailed, Text: reason, Sound: true, Speak: true})
	}
	m.log.Info().Int("attempt", attempt).Dur("delay", m.cfg.ReconnectDelay).Msg("scheduling reconnect")

	time.AfterFunc(m.cfg.ReconnectDelay, func() {
		m.mu.Lock()
		if m.state != StateReconnecting {
			m.mu.Unlock()
			return
		}
		m.state = StateDisconnected
		m.mu.Unlock()
		m.connect(ctx)
	})
}

// heartbeat keeps the relay's liveness tracking fed. Send errors are ignored;
// a dead channel surfaces through the receiver instead.
func (m *Manager) heartbeat(conn transport.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(m.cfg.HeartbeatPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			frame, err := wire.Event(wire.EventHeartbeat, nil)
			if err != nil {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = conn.Send(ctx, frame)
			cancel()
		}
	}
}
