// ABOUTME: Interactive terminal client for the courier messaging gateway
// ABOUTME: Line-based REPL over the REST API plus a live push channel

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/courier/internal/client"
	"github.com/2389/courier/internal/event"
)

// version is set by goreleaser at build time
var version = "dev"

// getConfigPath returns the config file path: COURIER_CHAT_CONFIG if set,
// otherwise ~/.config/courier/chat.toml.
func getConfigPath() string {
	if p := os.Getenv("COURIER_CHAT_CONFIG"); p != "" {
		return p
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "chat.toml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "courier", "chat.toml")
}

func main() {
	configPath := flag.String("config", getConfigPath(), "Path to config file")
	username := flag.String("username", "", "Username to chat as (overrides config)")
	server := flag.String("server", "", "Gateway URL (overrides config)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath, *username, *server); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nGoodbye!")
}

// chat bundles one running session: the REST client, the local state store,
// who we are, and a username cache for rendering.
type chat struct {
	cfg    *Config
	api    *client.APIClient
	state  *client.StateStore
	me     *client.User
	logger *slog.Logger

	namesMu sync.Mutex
	names   map[int64]string

	// peer is the selected correspondent. Only the REPL goroutine touches
	// it; push handlers go through state.Active instead.
	peer *client.User
}

func run(ctx context.Context, configPath, usernameFlag, serverFlag string) error {
	cfg, err := Load(configPath)
	if err != nil {
		return err
	}
	if usernameFlag != "" {
		cfg.User.Username = usernameFlag
	}
	if serverFlag != "" {
		cfg.Gateway.URL = serverFlag
	}
	if cfg.User.Username == "" {
		return fmt.Errorf("no username: set user.username in %s or pass --username", configPath)
	}

	token, err := cfg.ResolveToken()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging.Level)

	api := client.NewAPIClient(cfg.Gateway.URL, token)
	if err := api.Health(ctx); err != nil {
		return fmt.Errorf("gateway unreachable at %s: %w", cfg.Gateway.URL, err)
	}

	me, err := api.SyncUser(ctx, cfg.User.Username)
	if err != nil {
		if errors.Is(err, client.ErrUnauthorized) || errors.Is(err, client.ErrForbidden) {
			return fmt.Errorf("token rejected for %q: run courier-gateway bootstrap --username %s",
				cfg.User.Username, cfg.User.Username)
		}
		return fmt.Errorf("syncing user: %w", err)
	}

	state := client.NewStateStore(api, cfg.Chat.RefreshInterval, logger)
	defer state.Close()

	app := &chat{
		cfg:    cfg,
		api:    api,
		state:  state,
		me:     me,
		logger: logger,
		names:  map[int64]string{me.ID: me.Username},
	}

	channel := client.NewChannel(client.ChannelConfig{
		Endpoint:    client.WSEndpoint(cfg.Gateway.URL, me.ID, token),
		RetryDelay:  cfg.Chat.ReconnectDelay,
		MaxAttempts: cfg.Chat.ReconnectAttempts,
	}, logger)
	defer channel.Disconnect()

	// Handlers come off before Disconnect runs so quitting does not print a
	// disconnection line over the goodbye.
	removeEvents := channel.OnEvent(func(evt any) { app.handleEvent(ctx, evt) })
	defer removeEvents()
	removeStatus := channel.OnStatus(app.handleStatus)
	defer removeStatus()

	color.New(color.FgCyan).Printf("courier-chat %s\n", version)
	fmt.Printf("Connected to %s as %s (user %d)\n", cfg.Gateway.URL, me.Username, me.ID)
	fmt.Println("Type a message and press Enter. /help for commands. Ctrl+C to quit.")
	fmt.Println()

	if err := channel.Connect(ctx); err != nil {
		color.Yellow("! push channel unavailable, retrying in background (%v)", err)
	}

	if err := state.RefreshSummaries(ctx); err == nil {
		if n := len(state.Summaries()); n > 0 {
			fmt.Printf("You have %d conversation(s). /chats to list them, /to <username> to open one.\n\n", n)
		}
	}

	return app.repl(ctx)
}

// repl reads lines from stdin until EOF, /quit, or the context is canceled.
// Lines starting with / are commands; anything else is sent to the open
// conversation.
func (a *chat) repl(ctx context.Context) error {
	scanner := bufio.NewScanner(os.Stdin)

	for {
		a.printPrompt()

		inputCh := make(chan string, 1)
		errCh := make(chan error, 1)

		go func() {
			if scanner.Scan() {
				inputCh <- scanner.Text()
			} else {
				if err := scanner.Err(); err != nil {
					errCh <- err
				} else {
					errCh <- io.EOF
				}
			}
		}()

		var input string
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		case input = <-inputCh:
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if input == "/quit" || input == "/exit" || input == "/q" {
			return nil
		}

		if strings.HasPrefix(input, "/") {
			a.runCommand(ctx, input)
			continue
		}

		if err := a.send(ctx, input); err != nil {
			fmt.Printf("[error] %v\n", err)
		}
	}
}

func (a *chat) printPrompt() {
	if a.peer != nil {
		fmt.Printf("[%s]> ", a.peer.Username)
	} else {
		fmt.Print("> ")
	}
}

func (a *chat) runCommand(ctx context.Context, input string) {
	cmd, args, _ := strings.Cut(input, " ")
	args = strings.TrimSpace(args)

	var err error
	switch cmd {
	case "/help":
		printHelp()
	case "/who":
		err = a.cmdWho(ctx)
	case "/chats":
		err = a.cmdChats(ctx)
	case "/to":
		err = a.cmdTo(ctx, args)
	case "/history":
		err = a.cmdHistory(ctx, args)
	case "/read":
		err = a.cmdRead(ctx)
	default:
		err = fmt.Errorf("unknown command %s, try /help", cmd)
	}
	if err != nil {
		fmt.Printf("[error] %v\n", err)
	}
	fmt.Println()
}

func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  /who             List who is online")
	fmt.Println("  /chats           List your conversations")
	fmt.Println("  /to <username>   Open the conversation with a user")
	fmt.Println("  /history [n]     Show the last n messages of this conversation")
	fmt.Println("  /read            Mark received messages in this conversation read")
	fmt.Println("  /help            Show this help")
	fmt.Println("  /quit            Exit")
}

// cmdWho lists the online users from the presence roster.
func (a *chat) cmdWho(ctx context.Context) error {
	ids := a.state.Online()
	if len(ids) == 0 {
		fmt.Println("No one is online")
		return nil
	}

	fmt.Printf("Online (%d):\n", len(ids))
	for _, id := range ids {
		if id == a.me.ID {
			fmt.Printf("  %s (you)\n", a.name(ctx, id))
		} else {
			fmt.Printf("  %s\n", a.name(ctx, id))
		}
	}
	return nil
}

// cmdChats refreshes and lists conversation summaries, newest activity
// first, marking the open one with an asterisk.
func (a *chat) cmdChats(ctx context.Context) error {
	if err := a.state.RefreshSummaries(ctx); err != nil {
		return err
	}

	summaries := a.state.Summaries()
	if len(summaries) == 0 {
		fmt.Println("No conversations yet. /to <username> to start one.")
		return nil
	}

	active := a.state.Active()
	for _, s := range summaries {
		a.cacheName(s.Other.ID, s.Other.Username)
		marker := " "
		if s.Conversation.ID == active {
			marker = "*"
		}
		if s.LastMessage != nil {
			fmt.Printf("%s %-16s %s  %s\n", marker, s.Other.Username,
				fmtTime(s.LastMessage.Timestamp), preview(s.LastMessage.Content))
		} else {
			fmt.Printf("%s %-16s (no messages)\n", marker, s.Other.Username)
		}
	}
	return nil
}

// cmdTo selects a correspondent and opens the existing conversation with
// them if there is one. With no prior conversation the first message sent
// creates it.
func (a *chat) cmdTo(ctx context.Context, username string) error {
	if username == "" {
		return fmt.Errorf("usage: /to <username>")
	}

	u, err := a.api.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, client.ErrNotFound) {
			return fmt.Errorf("no user named %q", username)
		}
		return err
	}
	if u.ID == a.me.ID {
		return fmt.Errorf("that would be talking to yourself")
	}

	a.cacheName(u.ID, u.Username)
	a.peer = u

	if err := a.state.RefreshSummaries(ctx); err != nil {
		return err
	}
	for _, s := range a.state.Summaries() {
		if s.Other.ID != u.ID {
			continue
		}
		if err := a.state.SetActive(ctx, s.Conversation.ID); err != nil {
			return err
		}
		fmt.Printf("Talking to %s\n", u.Username)
		a.printTail(ctx, a.cfg.Chat.HistoryLimit)
		return nil
	}

	// No conversation yet; the first message creates one
	if err := a.state.SetActive(ctx, 0); err != nil {
		return err
	}
	fmt.Printf("Talking to %s. No messages yet, type to start the conversation.\n", u.Username)
	return nil
}

func (a *chat) cmdHistory(ctx context.Context, args string) error {
	if a.state.Active() == 0 {
		return fmt.Errorf("no conversation open, use /to <username>")
	}

	n := a.cfg.Chat.HistoryLimit
	if args != "" {
		v, err := strconv.Atoi(args)
		if err != nil || v <= 0 {
			return fmt.Errorf("usage: /history [n]")
		}
		n = v
	}

	a.printTail(ctx, n)
	return nil
}

// cmdRead marks every received message in the open conversation as read.
// Conflicts mean the status already advanced and are skipped.
func (a *chat) cmdRead(ctx context.Context) error {
	if a.state.Active() == 0 {
		return fmt.Errorf("no conversation open, use /to <username>")
	}

	var marked int
	for _, m := range a.state.Messages() {
		if m.SenderID == a.me.ID || m.Status == "read" {
			continue
		}
		if err := a.api.MarkStatus(ctx, m.ID, "read"); err != nil {
			if errors.Is(err, client.ErrConflict) {
				continue
			}
			return fmt.Errorf("marking message %d: %w", m.ID, err)
		}
		marked++
	}

	fmt.Printf("Marked %d message(s) read\n", marked)
	return nil
}

// send delivers a line to the selected correspondent and echoes the stored
// record back, timestamp and all.
func (a *chat) send(ctx context.Context, content string) error {
	if a.peer == nil {
		return fmt.Errorf("no conversation open, use /to <username>")
	}

	msg, err := a.api.SendMessage(ctx, client.SendMessageRequest{
		RecipientID: a.peer.ID,
		Content:     content,
	})
	if err != nil {
		return err
	}

	if a.state.Active() == msg.ConversationID {
		a.state.Apply(event.NewMessageEvent(*msg))
	} else if err := a.state.SetActive(ctx, msg.ConversationID); err != nil {
		return err
	}

	a.printMessage(ctx, *msg)
	return nil
}

// handleEvent runs on the channel's dispatch goroutine. State is applied
// first; events that change nothing (duplicate pushes, greeting frames) are
// not rendered.
func (a *chat) handleEvent(ctx context.Context, evt any) {
	if !a.state.Apply(evt) {
		return
	}

	switch e := evt.(type) {
	case *event.NewMessage:
		msg := e.Message
		if msg.ConversationID == a.state.Active() {
			a.printMessage(ctx, msg)
		} else {
			from := a.name(ctx, msg.SenderID)
			color.New(color.FgHiBlack).Printf("(new message from %s, /to %s to open)\n", from, from)
		}
		go a.acknowledge(ctx, msg)
	case *event.UserStatus:
		color.New(color.FgHiBlack).Printf("* %s is %s\n", a.name(ctx, e.UserID), e.Status)
	}
}

// acknowledge advances a pushed message to delivered, and on to read when
// its conversation is open and auto_mark_read is set. A conflict means the
// status already advanced, not a failure.
func (a *chat) acknowledge(ctx context.Context, m event.Message) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := a.api.MarkStatus(ctx, m.ID, "delivered"); err != nil && !errors.Is(err, client.ErrConflict) {
		a.logger.Debug("marking delivered", "message_id", m.ID, "error", err)
		return
	}

	if a.cfg.Chat.AutoMarkRead && a.state.Active() == m.ConversationID {
		if err := a.api.MarkStatus(ctx, m.ID, "read"); err != nil && !errors.Is(err, client.ErrConflict) {
			a.logger.Debug("marking read", "message_id", m.ID, "error", err)
		}
	}
}

// handleStatus renders connection transitions. A terminal disconnect means
// the retry budget ran out; the REPL stays usable for REST commands.
func (a *chat) handleStatus(st client.Status) {
	switch {
	case st.State == client.StateConnected:
		color.Green("✓ push channel connected")
	case st.State == client.StateDisconnected && st.Terminal:
		color.Red("✗ push channel gone (restart to reconnect)")
	case st.State == client.StateDisconnected:
		color.Yellow("! push channel lost, reconnecting...")
	}
}

// printTail prints the last n messages of the active conversation.
func (a *chat) printTail(ctx context.Context, n int) {
	msgs := a.state.Messages()
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	for _, m := range msgs {
		a.printMessage(ctx, m)
	}
}

func (a *chat) printMessage(ctx context.Context, m event.Message) {
	ts := color.New(color.FgHiBlack).Sprint(fmtTime(m.Timestamp))
	var name string
	if m.SenderID == a.me.ID {
		name = color.New(color.FgGreen).Sprint("you")
	} else {
		name = color.New(color.FgCyan).Sprint(a.name(ctx, m.SenderID))
	}
	fmt.Printf("%s %s: %s\n", ts, name, m.Content)
}

// name resolves a user ID to a username, caching lookups. A failed lookup
// falls back to a numeric placeholder so rendering never stalls.
func (a *chat) name(ctx context.Context, id int64) string {
	a.namesMu.Lock()
	if n, ok := a.names[id]; ok {
		a.namesMu.Unlock()
		return n
	}
	a.namesMu.Unlock()

	lookupCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	u, err := a.api.GetUser(lookupCtx, id)
	if err != nil {
		return fmt.Sprintf("user-%d", id)
	}

	a.cacheName(u.ID, u.Username)
	return u.Username
}

func (a *chat) cacheName(id int64, username string) {
	a.namesMu.Lock()
	a.names[id] = username
	a.namesMu.Unlock()
}

// fmtTime renders a wire timestamp as local wall clock time.
func fmtTime(ts string) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ts
	}
	return t.Local().Format("15:04")
}

// preview squashes message content onto one list line.
func preview(content string) string {
	content = strings.ReplaceAll(content, "\n", " ")
	r := []rune(content)
	if len(r) > 48 {
		return string(r[:45]) + "..."
	}
	return content
}

// setupLogger builds the stderr logger. Chat output goes to stdout; logs
// default to warn so they stay out of the conversation.
func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelWarn
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
