package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dragodark/peerchat/internal/api"
	"github.com/dragodark/peerchat/internal/config"
	"github.com/dragodark/peerchat/internal/directory"
	"github.com/dragodark/peerchat/internal/dispatch"
	"github.com/dragodark/peerchat/internal/ledger"
	"github.com/dragodark/peerchat/internal/notify"
	"github.com/dragodark/peerchat/internal/session"
	"github.com/dragodark/peerchat/internal/transport"
)

const historyPreview = 20

// ClientApp ties the api client, directory, ledger, dispatcher and session
// manager together behind a line-oriented console.
type ClientApp struct {
	cfg     *config.ClientConfig
	api     *api.Client
	dir     *directory.Directory
	led     *ledger.Ledger
	queue   *notify.Queue
	session *session.Manager
	log     *zerolog.Logger

	in  io.Reader
	out io.Writer
}

// NewClient wires the client subsystems from configuration. The console reads
// from in and writes to out; cmd passes stdin and stdout.
func NewClient(cfg *config.ClientConfig, logger *zerolog.Logger, in io.Reader, out io.Writer) *ClientApp {
	apiClient := api.New(cfg.ServerURL)
	dir := directory.New(cfg.Username)
	led := ledger.New(cfg.HistoryDir, logger)
	queue := notify.NewQueue(128)

	a := &ClientApp{
		cfg:   cfg,
		api:   apiClient,
		dir:   dir,
		led:   led,
		queue: queue,
		log:   logger,
		in:    in,
		out:   out,
	}

	dispatcher := dispatch.New(cfg.Username, dir, led, queue, a.refresh, logger)
	dialer := transport.Dialer{ServerURL: cfg.ServerURL, Log: logger}
	a.session = session.New(session.Config{
		Username:          cfg.Username,
		Password:          cfg.Password,
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectDelay:    cfg.ReconnectDelay,
		HeartbeatPeriod:   cfg.HeartbeatPeriod,
	}, apiClient, dialer, dispatcher, queue, logger)

	return a
}

// refresh replaces the conversation directory from the relay and re-applies
// the configured mutes. The dispatcher calls this when it sees a chat it does
// not know about.
func (a *ClientApp) refresh(ctx context.Context) error {
	chats, err := a.api.Chats(ctx)
	if err != nil {
		return fmt.Errorf("list chats: %w", err)
	}

	entries := make([]directory.Entry, 0, len(chats))
	for _, c := range chats {
		entries = append(entries, directory.Entry{
			ID:           c.ChatID,
			Type:         directory.ChatType(c.Type),
			Name:         c.Name,
			Participants: c.Participants,
			Admin:        c.Admin,
		})
	}
	a.dir.Replace(entries)

	for _, id := range a.cfg.MutedChats {
		if resolved, ok := a.resolveChat(id); ok {
			a.dir.SetMuted(resolved, true)
		}
	}
	return nil
}

// Run drives the console until ctx is cancelled or the user quits.
func (a *ClientApp) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.queue.Run(ctx, 200*time.Millisecond, a.show)

	if a.cfg.AutoConnect {
		a.session.Connect(ctx)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(a.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	a.printf("peerchat: logged in as %s, type /help for commands", a.cfg.Username)

	for {
		select {
		case <-ctx.Done():
			a.shutdown()
			return nil
		case line, ok := <-lines:
			if !ok {
				a.shutdown()
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if line == "/quit" {
				a.shutdown()
				return nil
			}
			if err := a.handle(ctx, line); err != nil {
				a.printf("error: %v", err)
			}
		}
	}
}

func (a *ClientApp) handle(ctx context.Context, line string) error {
	if !strings.HasPrefix(line, "/") {
		return a.say(ctx, line, false)
	}

	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch cmd {
	case "/help":
		a.printHelp()
		return nil
	case "/connect":
		a.session.Connect(ctx)
		return nil
	case "/disconnect":
		a.shutdown()
		return nil
	case "/me":
		return a.say(ctx, rest, true)
	case "/chats":
		return a.listChats(ctx)
	case "/friends":
		return a.listFriends(ctx)
	case "/add":
		return a.api.AddFriend(ctx, rest)
	case "/accept":
		return a.api.AcceptFriend(ctx, rest)
	case "/reject":
		return a.api.RejectFriend(ctx, rest)
	case "/unfriend":
		return a.api.DeleteFriend(ctx, rest)
	case "/chat":
		return a.openPrivate(ctx, rest)
	case "/group":
		return a.createGroup(ctx, rest)
	case "/open":
		return a.open(rest)
	case "/mute":
		return a.setMuted(rest, true)
	case "/unmute":
		return a.setMuted(rest, false)
	case "/invite":
		return a.withFocused(func(id string) error { return a.api.AddGroupMember(ctx, id, rest) })
	case "/kick":
		return a.withFocused(func(id string) error { return a.api.RemoveGroupMember(ctx, id, rest) })
	case "/rename":
		return a.withFocused(func(id string) error { return a.api.RenameGroup(ctx, id, rest) })
	case "/admin":
		return a.withFocused(func(id string) error { return a.api.TransferAdmin(ctx, id, rest) })
	case "/leave":
		return a.withFocused(func(id string) error {
			return a.api.RemoveGroupMember(ctx, id, a.cfg.Username)
		})
	case "/delete":
		return a.deleteFocused(ctx)
	default:
		return fmt.Errorf("unknown command %s", cmd)
	}
}

// shutdown disconnects only when a session is actually live or retrying, so
// quitting a never-connected console stays quiet.
func (a *ClientApp) shutdown() {
	if a.session.State() != session.StateDisconnected {
		a.session.Disconnect()
	}
}

// say sends a message to the focused conversation.
func (a *ClientApp) say(ctx context.Context, text string, isAction bool) error {
	id := a.focused()
	if id == "" {
		return errors.New("no conversation open, use /open first")
	}
	if a.session.State() != session.StateConnected {
		return errors.New("not connected")
	}
	a.session.SendMessage(ctx, id, text, isAction)
	return nil
}

func (a *ClientApp) listChats(ctx context.Context) error {
	if err := a.refresh(ctx); err != nil {
		return err
	}
	for _, e := range a.dir.Snapshot() {
		marker := " "
		if e.Unread > 0 {
			marker = fmt.Sprintf("%d", e.Unread)
		}
		muted := ""
		if e.Muted {
			muted = " (muted)"
		}
		a.printf("[%s] %s (%s)%s", marker, a.dir.DisplayName(e.ID), e.Type, muted)
	}
	return nil
}

func (a *ClientApp) listFriends(ctx context.Context) error {
	resp, err := a.api.Friends(ctx)
	if err != nil {
		return err
	}
	for _, f := range resp.Friends {
		a.printf("%s (%s)", f.Username, f.Status)
		a.dir.SetPresence(f.Username, f.Status == "online")
	}
	for _, u := range resp.PendingIncoming {
		a.printf("%s wants to be your friend, /accept %s", u, u)
	}
	for _, u := range resp.PendingOutgoing {
		a.printf("request to %s pending", u)
	}
	return nil
}

// openPrivate creates or reuses the private chat with the given friend and
// focuses it.
func (a *ClientApp) openPrivate(ctx context.Context, friend string) error {
	chatID, err := a.api.CreateChat(ctx, []string{friend}, "private", "")
	if err != nil {
		return err
	}
	if err := a.refresh(ctx); err != nil {
		return err
	}
	return a.open(chatID)
}

func (a *ClientApp) createGroup(ctx context.Context, rest string) error {
	fields := strings.Fields(rest)
	if len(fields) < 2 {
		return errors.New("usage: /group <name> <member> [member...]")
	}
	chatID, err := a.api.CreateChat(ctx, fields[1:], "group", fields[0])
	if err != nil {
		return err
	}
	if err := a.refresh(ctx); err != nil {
		return err
	}
	return a.open(chatID)
}

// open focuses a conversation by id or display name and prints its tail.
func (a *ClientApp) open(nameOrID string) error {
	id, ok := a.resolveChat(nameOrID)
	if !ok {
		return fmt.Errorf("no conversation named %q", nameOrID)
	}
	a.dir.SetFocus(id)

	name := a.dir.DisplayName(id)
	a.printf("-- %s --", name)

	records, err := a.led.LoadRecent(name, historyPreview)
	if err != nil {
		return err
	}
	for _, rec := range records {
		// FormatLine carries the ledger's trailing newline already.
		a.printf("%s", strings.TrimSuffix(ledger.FormatLine(rec), "\n"))
	}
	return nil
}

func (a *ClientApp) setMuted(nameOrID string, muted bool) error {
	id := nameOrID
	if id == "" {
		id = a.focused()
	}
	resolved, ok := a.resolveChat(id)
	if !ok {
		return fmt.Errorf("no conversation named %q", nameOrID)
	}
	a.dir.SetMuted(resolved, muted)
	return nil
}

func (a *ClientApp) deleteFocused(ctx context.Context) error {
	return a.withFocused(func(id string) error {
		e, ok := a.dir.Get(id)
		if !ok {
			return errors.New("conversation not found")
		}
		if e.Type == directory.ChatGroup {
			return a.api.DeleteGroup(ctx, id)
		}
		return a.api.DeleteChat(ctx, id)
	})
}

func (a *ClientApp) withFocused(fn func(id string) error) error {
	id := a.focused()
	if id == "" {
		return errors.New("no conversation open, use /open first")
	}
	return fn(id)
}

// focused returns the id of the conversation the user has open.
func (a *ClientApp) focused() string {
	return a.dir.Focus()
}

// resolveChat accepts a chat id or a display name, case-insensitively.
func (a *ClientApp) resolveChat(nameOrID string) (string, bool) {
	if _, ok := a.dir.Get(nameOrID); ok {
		return nameOrID, true
	}
	for _, e := range a.dir.Snapshot() {
		if strings.EqualFold(a.dir.DisplayName(e.ID), nameOrID) {
			return e.ID, true
		}
	}
	return "", false
}

// show renders one notification on the console. Sound becomes a terminal
// bell when sounds are enabled.
func (a *ClientApp) show(n notify.Notification) {
	bell := ""
	if n.Sound && a.cfg.PlaySounds {
		bell = "\a"
	}

	switch n.Kind {
	case notify.KindConnected:
		a.printf("%sconnected", bell)
	case notify.KindDisconnected:
		a.printf("disconnected")
	case notify.KindConnectionLost:
		a.printf("%sconnection lost", bell)
	case notify.KindLoginFailed:
		a.printf("login failed: %s", n.Text)
	case notify.KindConnectFailed:
		a.printf("could not connect: %s", n.Text)
	case notify.KindMessage:
		name := a.dir.DisplayName(n.ChatID)
		a.printf("%s[%s] %s: %s", bell, name, n.User, n.Text)
	case notify.KindPresence:
		a.printf("%s", n.Text)
	case notify.KindFriendRequest:
		a.printf("%s%s sent you a friend request", bell, n.User)
	case notify.KindFriendAccepted:
		a.printf("%s%s accepted your friend request", bell, n.User)
	case notify.KindGroupChange:
		a.printf("[%s] %s", a.dir.DisplayName(n.ChatID), n.Text)
	default:
		a.printf("%s", n.Text)
	}
}

func (a *ClientApp) printHelp() {
	for _, line := range []string{
		"/connect /disconnect /quit",
		"/friends /add <user> /accept <user> /reject <user> /unfriend <user>",
		"/chats /chat <friend> /group <name> <member...> /open <chat>",
		"/mute [chat] /unmute [chat]",
		"/invite <user> /kick <user> /rename <name> /admin <user> /leave /delete",
		"/me <action>, plain text sends to the open conversation",
	} {
		a.printf("%s", line)
	}
}

func (a *ClientApp) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format+"\n", args...)
}
