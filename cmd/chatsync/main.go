// ABOUTME: Interactive console client for the chatsync conversation core.
// ABOUTME: Drives the engine with readline-style commands and colorized output.

package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/voltdesk/chatsync/internal/chat"
	"github.com/voltdesk/chatsync/internal/config"
	"github.com/voltdesk/chatsync/internal/engine"
	"github.com/voltdesk/chatsync/internal/rest"
	"github.com/voltdesk/chatsync/internal/socket"
)

// Version is set by goreleaser at build time.
var version = "dev"

// getConfigPath returns the path to the chatsync config file.
// Priority: CHATSYNC_CONFIG env var > XDG_CONFIG_HOME/chatsync/config.yaml > ~/.config/chatsync/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("CHATSYNC_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "chatsync", "config.yaml")
}

// getToken returns the session token from CHATSYNC_TOKEN env var or
// ~/.config/chatsync/token file.
func getToken() string {
	if token := os.Getenv("CHATSYNC_TOKEN"); token != "" {
		return token
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	tokenPath := filepath.Join(configDir, "chatsync", "token")
	data, err := os.ReadFile(tokenPath)
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(data))
}

func loadConfig() *config.Config {
	path := getConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return config.Default()
		}
		color.Red("Error loading config %s: %v", path, err)
		os.Exit(1)
	}
	return cfg
}

func main() {
	_ = godotenv.Load()

	server := flag.String("server", "", "REST base URL (overrides config)")
	socketURL := flag.String("socket", "", "Socket URL (overrides config)")
	user := flag.String("user", os.Getenv("CHATSYNC_USER"), "Current user id, for own-message detection")
	flag.Parse()

	cfg := loadConfig()
	if *server != "" {
		cfg.API.BaseURL = *server
	}
	if *socketURL != "" {
		cfg.Socket.URL = *socketURL
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	token := getToken()
	if token == "" {
		color.Red("No session token. Set CHATSYNC_TOKEN or write ~/.config/chatsync/token")
		os.Exit(1)
	}
	userID := *user

	fmt.Printf("chatsync %s connected to %s\n", version, cfg.API.BaseURL)
	fmt.Println("Type a message to send to the open conversation. /help for commands. Ctrl+C to quit.")
	fmt.Println()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	api := rest.NewClient(cfg.API.BaseURL, func() string { return getToken() }, cfg.API.RequestTimeout)
	conn := socket.NewManager(cfg.Socket.URL, socket.Options{
		HandshakeTimeout: cfg.Socket.HandshakeTimeout,
		PongWait:         cfg.Socket.PongWait,
		OpensPerMinute:   cfg.Socket.ReopenPerMinute,
	}, logger)
	eng := engine.New(api, conn, engine.Options{
		CurrentUserID:     userID,
		PageSize:          cfg.Chat.PageSize,
		PendingBufferSize: cfg.Chat.PendingBufferSize,
		PendingBufferTTL:  cfg.Chat.PendingBufferTTL,
		RefreshInterval:   cfg.Chat.RefreshInterval,
	}, logger)

	if err := eng.Start(ctx, token); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
	defer eng.Close()

	if err := run(ctx, eng, token); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nGoodbye!")
}

func run(ctx context.Context, eng *engine.Engine, token string) error {
	scanner := bufio.NewScanner(os.Stdin)

	for {
		if active := eng.ActiveConversation(); active != "" {
			fmt.Printf("[%s]> ", shortID(active))
		} else {
			fmt.Print("> ")
		}

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

		if done, err := handleCommand(ctx, eng, token, input); done {
			if err != nil {
				color.Red("[error] %v", err)
			}
			fmt.Println()
			continue
		}

		// Anything else is a message for the open conversation.
		active := eng.ActiveConversation()
		if active == "" {
			fmt.Println("No conversation open. Use /open <id> or /book <booking_id> first.")
			fmt.Println()
			continue
		}
		if _, err := eng.SendMessage(ctx, active, input); err != nil {
			color.Red("[send failed] %v", err)
			fmt.Println("The message is kept locally with a failed marker.")
		}
		fmt.Println()
	}
}

// handleCommand dispatches slash commands. Returns done=false when the
// input is not a command.
func handleCommand(ctx context.Context, eng *engine.Engine, token, input string) (bool, error) {
	cmd, args, _ := strings.Cut(input, " ")
	args = strings.TrimSpace(args)

	switch cmd {
	case "/list":
		return true, listConversations(eng)

	case "/open":
		if args == "" {
			return true, fmt.Errorf("usage: /open <conversation_id>")
		}
		if err := eng.OpenConversation(ctx, args); err != nil {
			return true, err
		}
		printTimeline(eng, args)
		eng.MarkRead(ctx, args)
		return true, nil

	case "/book":
		bookingID, message, _ := strings.Cut(args, " ")
		if bookingID == "" {
			return true, fmt.Errorf("usage: /book <booking_id> [first message]")
		}
		res, err := eng.StartConversation(ctx, bookingID, strings.TrimSpace(message))
		if err != nil {
			return true, err
		}
		if res.IsNew {
			fmt.Printf("Started conversation %s for booking %s\n", res.ConversationID, bookingID)
		} else {
			fmt.Printf("Reusing conversation %s for booking %s\n", res.ConversationID, bookingID)
		}
		printTimeline(eng, res.ConversationID)
		return true, nil

	case "/older":
		active := eng.ActiveConversation()
		if active == "" {
			return true, fmt.Errorf("no conversation open")
		}
		before := len(eng.Timeline(active))
		page := before/defaultPageGuess + 1
		if err := eng.FetchOlderMessages(ctx, active, page); err != nil {
			return true, err
		}
		printTimeline(eng, active)
		return true, nil

	case "/read":
		active := eng.ActiveConversation()
		if active == "" {
			return true, fmt.Errorf("no conversation open")
		}
		eng.MarkRead(ctx, active)
		fmt.Println("Marked read.")
		return true, nil

	case "/unread":
		total := eng.UnreadTotal()
		fmt.Printf("Unread (local): %d\n", total)
		if server, err := eng.SyncUnreadBadge(ctx); err == nil {
			fmt.Printf("Unread (server): %d\n", server)
		}
		return true, nil

	case "/status":
		snap := eng.ConnectionState()
		switch snap.State {
		case socket.StateConnected:
			color.Green("Connection: connected (token %s)", snap.TokenFingerprint)
		case socket.StateConnecting:
			color.Yellow("Connection: connecting")
		default:
			color.Red("Connection: disconnected (REST-only)")
		}
		if rooms := eng.JoinedRooms(); len(rooms) > 0 {
			fmt.Printf("Rooms: %s\n", strings.Join(rooms, ", "))
		}
		return true, nil

	case "/reconnect":
		return true, eng.Reconnect(ctx, token)

	case "/help":
		printHelp()
		return true, nil
	}

	if strings.HasPrefix(cmd, "/") {
		return true, fmt.Errorf("unknown command %s, try /help", cmd)
	}
	return false, nil
}

// defaultPageGuess only matters for the /older page heuristic in this
// console client; the engine dedups overlapping pages anyway.
const defaultPageGuess = 50

func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  /list                     List conversations, most recent first")
	fmt.Println("  /open <id>                Open a conversation and load history")
	fmt.Println("  /book <booking_id> [msg]  Open (or start) the conversation for a booking")
	fmt.Println("  /older                    Load an older history page")
	fmt.Println("  /read                     Mark the open conversation read")
	fmt.Println("  /unread                   Show unread counts")
	fmt.Println("  /status                   Show connection state and joined rooms")
	fmt.Println("  /reconnect                Re-attempt the live connection")
	fmt.Println("  /help                     Show this help")
	fmt.Println("  /quit                     Exit")
}

func listConversations(eng *engine.Engine) error {
	convs := eng.Conversations()
	if len(convs) == 0 {
		fmt.Println("No conversations")
		return nil
	}

	cyan := color.New(color.FgCyan)
	for _, c := range convs {
		badge := ""
		if c.Unread > 0 {
			badge = color.YellowString(" (%d unread)", c.Unread)
		}
		preview := ""
		if c.LastMessage != nil {
			preview = ": " + truncate(c.LastMessage.Body, 50)
		}
		cyan.Printf("  %s", shortID(c.ID))
		fmt.Printf("  %s%s%s\n", c.LastActivity.Format("Jan 02 15:04"), badge, preview)
	}
	return nil
}

func printTimeline(eng *engine.Engine, conversationID string) {
	msgs := eng.Timeline(conversationID)
	if len(msgs) == 0 {
		fmt.Println("No messages yet")
		return
	}

	fmt.Println(strings.Repeat("-", 60))
	for _, m := range msgs {
		printMessage(m)
	}
	fmt.Println(strings.Repeat("-", 60))
}

func printMessage(m chat.Message) {
	ts := color.HiBlackString(m.SentAt.Local().Format("15:04"))
	name := m.Sender.DisplayName
	if name == "" {
		name = m.Sender.UserID
	}

	var who string
	switch m.Sender.Role {
	case chat.RoleStaff, chat.RoleTechnician:
		who = color.GreenString("%s", name)
	default:
		who = color.CyanString("%s", name)
	}

	suffix := ""
	switch m.Delivery {
	case chat.DeliveryPending:
		suffix = color.HiBlackString(" (sending...)")
	case chat.DeliveryFailed:
		suffix = color.RedString(" (failed)")
	}

	fmt.Printf("%s %s: %s%s\n", ts, who, m.Body, suffix)
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// shortID trims a UUID-ish id for prompt display.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format(time.TimeOnly) + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Fprint(os.Stderr, buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}
