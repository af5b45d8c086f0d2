// Command ws_smoke exercises a running relay end to end: it logs in over
// HTTP, completes the websocket handshake and reports every frame it sees
// until the timeout expires. Useful to verify a deployment without starting
// a full client.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/dragodark/peerchat/internal/api"
	"github.com/dragodark/peerchat/internal/transport"
	"github.com/dragodark/peerchat/internal/wire"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	server := flag.String("server", "http://localhost:8080", "relay base URL")
	user := flag.String("user", "tester", "username to log in with")
	pass := flag.String("pass", "testertester", "password")
	register := flag.Bool("register", false, "register the account first")
	chat := flag.String("chat", "", "optional chat id to send a test message to")
	timeout := flag.Duration("timeout", 10*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client := api.New(*server)
	if *register {
		if _, err := client.Register(ctx, *user, *pass, ""); err != nil && !errors.Is(err, api.ErrConflict) {
			return fmt.Errorf("register: %w", err)
		}
	}
	token, err := client.Login(ctx, *user, *pass)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	logger := zerolog.Nop()
	conn, err := transport.Dial(ctx, transport.WebsocketURL(*server), &logger)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if err := conn.Send(ctx, wire.Frame{Kind: wire.KindAck}); err != nil {
		return fmt.Errorf("send ack: %w", err)
	}
	authFrame, err := wire.Event(wire.EventAuthenticate, wire.AuthenticatePayload{Token: token})
	if err != nil {
		return fmt.Errorf("encode authenticate: %w", err)
	}
	if err := conn.Send(ctx, authFrame); err != nil {
		return fmt.Errorf("send authenticate: %w", err)
	}

	authenticated := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-conn.Frames():
			if !ok {
				return errors.New("connection closed by relay")
			}
			switch f.Kind {
			case wire.KindPing:
				if err := conn.Send(ctx, wire.Frame{Kind: wire.KindPong}); err != nil {
					return fmt.Errorf("send pong: %w", err)
				}
			case wire.KindEvent:
				fmt.Printf("event=%s payload=%s\n", f.Event, f.Data)
				if f.Event == wire.EventAuthenticated && !authenticated {
					authenticated = true
					if err := exercise(ctx, conn, *chat); err != nil {
						return err
					}
				}
				if f.Event == wire.EventError {
					return fmt.Errorf("relay error: %s", f.Data)
				}
			}
		}
	}
}

// exercise sends a heartbeat and, when a chat id was given, one message.
func exercise(ctx context.Context, conn *transport.Channel, chatID string) error {
	hb, err := wire.Event(wire.EventHeartbeat, nil)
	if err != nil {
		return fmt.Errorf("encode heartbeat: %w", err)
	}
	if err := conn.Send(ctx, hb); err != nil {
		return fmt.Errorf("send heartbeat: %w", err)
	}
	if chatID == "" {
		return nil
	}
	msg, err := wire.Event(wire.EventSendMessage, wire.SendMessagePayload{
		ChatID:  chatID,
		Message: "test message from ws_smoke",
	})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := conn.Send(ctx, msg); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}
