package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/dragodark/peerchat/internal/auth"
	"github.com/dragodark/peerchat/internal/relay"
	"github.com/dragodark/peerchat/internal/wire"
)

// authTimeout bounds how long a fresh connection may sit unauthenticated.
const authTimeout = 10 * time.Second

// WSHandler upgrades HTTP connections, runs the authentication handshake and
// bridges the socket to a relay.Client.
type WSHandler struct {
	hub         *relay.Hub
	authService *auth.Service
	log         *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *relay.Hub, authService *auth.Service, logger *zerolog.Logger) http.Handler {
	return &WSHandler{hub: hub, authService: authService, log: logger}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	username, err := h.handshake(ctx, conn)
	if err != nil {
		h.log.Debug().Err(err).Msg("ws handshake failed")
		conn.Close(websocket.StatusPolicyViolation, "authentication required")
		return
	}

	client := relay.NewClient(username)
	h.hub.RegisterClient(client)
	defer h.hub.UnregisterClient(client)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	// Both loops are done, so nothing sends on Commands anymore; closing it
	// lets the hub's forwarder goroutine exit.
	close(client.Commands)

	if err != nil && !errors.Is(err, context.Canceled) && websocket.CloseStatus(err) == 0 {
		h.log.Warn().Err(err).Str("user", username).Msg("ws connection closed with error")
	}
	conn.Close(websocket.StatusNormalClosure, "closing")
}

// handshake waits for the authenticate event and validates its token. Control
// frames arriving first are tolerated.
func (h *WSHandler) handshake(ctx context.Context, conn *websocket.Conn) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()

	for {
		frame, err := readFrame(ctx, conn)
		if err != nil {
			return "", err
		}
		switch {
		case frame.Kind == wire.KindAck, frame.Kind == wire.KindPong:
			continue
		case frame.Kind == wire.KindPing:
			if err := writeFrame(ctx, conn, wire.Pong()); err != nil {
				return "", err
			}
		case frame.Kind == wire.KindEvent && frame.Event == wire.EventAuthenticate:
			var payload wire.AuthenticatePayload
			if err := json.Unmarshal(frame.Data, &payload); err != nil {
				return "", err
			}
			claims, err := h.authService.ValidateToken(payload.Token)
			if err != nil {
				errFrame, encErr := wire.Event(wire.EventError, wire.ErrorPayload{Message: "invalid token"})
				if encErr == nil {
					_ = writeFrame(ctx, conn, errFrame)
				}
				return "", err
			}

			if err := writeFrame(ctx, conn, wire.Ack()); err != nil {
				return "", err
			}
			ok, err := wire.Event(wire.EventAuthenticated, wire.AuthenticatedPayload{Username: claims.Username})
			if err != nil {
				return "", err
			}
			if err := writeFrame(ctx, conn, ok); err != nil {
				return "", err
			}
			return claims.Username, nil
		default:
			return "", errors.New("unexpected frame before authentication")
		}
	}
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *relay.Client) error {
	for {
		frame, err := readFrame(ctx, conn)
		if err != nil {
			if errors.Is(err, wire.ErrMalformed) {
				h.log.Debug().Err(err).Str("user", client.Username).Msg("dropping malformed ws frame")
				continue
			}
			return err
		}

		switch {
		case frame.Kind == wire.KindPing:
			if err := writeFrame(ctx, conn, wire.Pong()); err != nil {
				return err
			}
		case frame.Kind == wire.KindEvent:
			cmd, ok := commandFromFrame(frame)
			if !ok {
				h.log.Debug().Str("user", client.Username).Str("event", frame.Event).Msg("ignoring unknown ws event")
				continue
			}
			select {
			case client.Commands <- cmd:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *relay.Client) error {
	for {
		select {
		case frame, ok := <-client.Events:
			if !ok {
				return nil
			}
			if err := writeFrame(ctx, conn, frame); err != nil {
				h.log.Error().Err(err).Str("user", client.Username).Msg("write ws event")
				return err
			}
		case <-client.Done():
			// A newer session for the same user took over.
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// commandFromFrame maps a client event to a hub command.
func commandFromFrame(frame wire.Frame) (*relay.Command, bool) {
	switch frame.Event {
	case wire.EventSendMessage:
		var payload wire.SendMessagePayload
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			return nil, false
		}
		return &relay.Command{
			Kind:     relay.CommandSendMessage,
			ChatID:   payload.ChatID,
			Text:     payload.Message,
			IsAction: payload.IsAction,
		}, true
	case wire.EventTyping:
		var payload wire.TypingPayload
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			return nil, false
		}
		return &relay.Command{Kind: relay.CommandTyping, ChatID: payload.ChatID}, true
	case wire.EventHeartbeat:
		return &relay.Command{Kind: relay.CommandHeartbeat}, true
	default:
		return nil, false
	}
}

func readFrame(ctx context.Context, conn *websocket.Conn) (wire.Frame, error) {
	msgType, data, err := conn.Read(ctx)
	if err != nil {
		return wire.Frame{}, err
	}
	if msgType != websocket.MessageText {
		return wire.Frame{}, errors.New("binary frames are not supported")
	}
	frame, err := wire.Decode(data)
	if err != nil {
		return wire.Frame{}, err
	}
	return frame, nil
}

func writeFrame(ctx context.Context, conn *websocket.Conn, frame wire.Frame) error {
	data, err := wire.Encode(frame)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
