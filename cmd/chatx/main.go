package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/vpolkhovsky/chatx/internal/appdir"
	"github.com/vpolkhovsky/chatx/internal/bus"
	"github.com/vpolkhovsky/chatx/internal/config"
	"github.com/vpolkhovsky/chatx/internal/gateway"
	"github.com/vpolkhovsky/chatx/internal/notify"
	"github.com/vpolkhovsky/chatx/internal/outbox"
	"github.com/vpolkhovsky/chatx/internal/profile"
	"github.com/vpolkhovsky/chatx/internal/reconcile"
	"github.com/vpolkhovsky/chatx/internal/store"
)

// app bundles everything a command needs: the shared store and the services
// built on top of it.
type app struct {
	db       *store.DB
	cfg      *config.Config
	profiles *profile.Service
	messages *reconcile.Messages
	chats    *reconcile.OnlineChats
	outbox   *outbox.Sender
}

func main() {
	serverFlag := flag.String("server", "", "gateway base URL (overrides config)")
	profileFlag := flag.Int64("profile", 0, "profile id the command acts for")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	a, err := newApp(*serverFlag)
	if err != nil {
		fatal(err)
	}
	defer func() { _ = a.db.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch args[0] {
	case "login":
		if len(args) != 3 {
			fatalUsage("chatx login <username> <password>")
		}
		cmdLogin(ctx, a, args[1], args[2], *serverFlag, *jsonFlag)
	case "logout":
		cmdLogout(a, requireProfile(*profileFlag))
	case "sessions":
		cmdSessions(a, *jsonFlag)
	case "chats":
		cmdChats(ctx, a, requireProfile(*profileFlag), *jsonFlag)
	case "messages":
		if len(args) != 2 {
			fatalUsage("chatx -profile <id> messages <chat-id>")
		}
		cmdMessages(ctx, a, requireProfile(*profileFlag), parseID(args[1]), *jsonFlag)
	case "send":
		if len(args) < 3 {
			fatalUsage("chatx -profile <id> send <chat-id> <text...>")
		}
		cmdSend(a, requireProfile(*profileFlag), parseID(args[1]), strings.Join(args[2:], " "))
	case "create":
		if len(args) != 2 {
			fatalUsage("chatx -profile <id> create <name>")
		}
		cmdCreate(ctx, a, requireProfile(*profileFlag), args[1])
	case "join":
		if len(args) != 2 {
			fatalUsage("chatx -profile <id> join <code>")
		}
		cmdJoin(ctx, a, requireProfile(*profileFlag), args[1])
	case "code":
		if len(args) != 2 {
			fatalUsage("chatx -profile <id> code <chat-id>")
		}
		cmdCode(ctx, a, requireProfile(*profileFlag), parseID(args[1]))
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func newApp(serverOverride string) (*app, error) {
	if err := appdir.Ensure(); err != nil {
		return nil, err
	}
	cfg, err := config.Load(appdir.ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		cfg = &config.Config{}
	}
	if serverOverride != "" {
		cfg.ServerURL = serverOverride
	}
	if cfg.ServerURL == "" {
		cfg.ServerURL = "http://localhost:8080"
	}

	db, err := store.Open(appdir.DBPath())
	if err != nil {
		return nil, err
	}
	if _, err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	notifier := notify.Func(func(category, message string) {
		fmt.Fprintf(os.Stderr, "[%s] %s\n", category, message)
	})
	logger := zap.NewNop()

	gw := gateway.NewProvider(cfg.ServerURL, notifier, logger, cfg.PollInterval())
	remotes := reconcile.GatewayProvider{Provider: gw}
	offline := reconcile.NewOfflineChats(db)
	messages := reconcile.NewMessages(db, remotes, notifier, logger)

	return &app{
		db:       db,
		cfg:      cfg,
		profiles: profile.NewService(db, gw, notifier, nil, logger),
		messages: messages,
		chats:    reconcile.NewOnlineChats(db, offline, messages, remotes, notifier, logger),
		outbox:   outbox.NewSender(db, messages, bus.New(), logger, cfg.PollInterval()),
	}, nil
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chatx [--server <url>] [--profile <id>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  login <user> <pass>      Log in and store the session")
	fmt.Fprintln(os.Stderr, "  logout                   Drop the profile's session")
	fmt.Fprintln(os.Stderr, "  sessions                 List stored sessions")
	fmt.Fprintln(os.Stderr, "  chats                    List chats, most recent first")
	fmt.Fprintln(os.Stderr, "  messages <chat-id>       Show a chat's messages")
	fmt.Fprintln(os.Stderr, "  send <chat-id> <text>    Queue a message for sending")
	fmt.Fprintln(os.Stderr, "  create <name>            Create a chat")
	fmt.Fprintln(os.Stderr, "  join <code>              Join a chat by invite code")
	fmt.Fprintln(os.Stderr, "  code <chat-id>           Show a chat's invite code")
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func fatalUsage(usage string) {
	fmt.Fprintf(os.Stderr, "usage: %s\n", usage)
	os.Exit(1)
}

func requireProfile(id int64) int64 {
	if id == 0 {
		fmt.Fprintln(os.Stderr, "error: --profile is required for this command")
		os.Exit(1)
	}
	return id
}

func parseID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %q is not a valid id\n", s)
		os.Exit(1)
	}
	return id
}

func outputJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fatal(err)
	}
	fmt.Println(string(data))
}

func cmdLogin(ctx context.Context, a *app, username, password, serverOverride string, jsonOut bool) {
	p, err := a.profiles.Login(ctx, username, password)
	if err != nil {
		fatal(err)
	}
	if p == nil {
		fmt.Fprintln(os.Stderr, "login failed: invalid credentials")
		os.Exit(1)
	}
	// A -server override that worked becomes the stored default.
	if serverOverride != "" {
		if err := config.Save(appdir.ConfigPath(), a.cfg); err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not save config: %v\n", err)
		}
	}
	if jsonOut {
		outputJSON(p)
		return
	}
	fmt.Printf("Logged in as %s (profile %d)\n", p.Username, p.ID)
}

func cmdLogout(a *app, profileID int64) {
	if err := a.profiles.Logout(profileID); err != nil {
		fatal(err)
	}
	fmt.Printf("Logged out profile %d. Cached chats are kept.\n", profileID)
}

func cmdSessions(a *app, jsonOut bool) {
	records, err := a.db.Sessions()
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		type row struct {
			ProfileID int64  `json:"profileId"`
			Username  string `json:"username"`
		}
		rows := make([]row, 0, len(records))
		for _, r := range records {
			rows = append(rows, row{ProfileID: r.Profile.ID, Username: r.Profile.Username})
		}
		outputJSON(rows)
		return
	}
	if len(records) == 0 {
		fmt.Println("No stored sessions.")
		return
	}
	for _, r := range records {
		fmt.Printf("%d\t%s\n", r.Profile.ID, r.Profile.Username)
	}
}

func cmdChats(ctx context.Context, a *app, profileID int64, jsonOut bool) {
	previews, err := a.chats.ChatPreviews(ctx, profileID)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(previews)
		return
	}
	if len(previews) == 0 {
		fmt.Println("No chats.")
		return
	}
	for _, p := range previews {
		line := fmt.Sprintf("%d\t%s\t(%d members)", p.ChatID, p.Name, p.Participants)
		if p.LastMessage != nil && p.LastMessage.Text != nil {
			line += "\t" + *p.LastMessage.Text
		}
		fmt.Println(line)
	}
}

func cmdMessages(ctx context.Context, a *app, profileID, chatID int64, jsonOut bool) {
	views, err := a.messages.LoadChatMessages(ctx, profileID, chatID)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(views)
		return
	}
	for _, v := range views {
		when := time.UnixMilli(v.SentAt).Format("2006-01-02 15:04")
		text := ""
		if v.Text != nil {
			text = *v.Text
		}
		if v.ReplyTo != nil {
			fmt.Printf("%s  %s (replying to #%d): %s\n", when, v.From.Username, v.ReplyTo.ID, text)
		} else {
			fmt.Printf("%s  %s: %s\n", when, v.From.Username, text)
		}
		for _, f := range v.Files {
			fmt.Printf("          [file] %s (%d bytes)\n", f.Filename, f.Size)
		}
	}
}

func cmdSend(a *app, profileID, chatID int64, text string) {
	clientMsgID, err := a.outbox.Queue(profileID, chatID, text, nil)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("Queued %s; the daemon sends it shortly.\n", clientMsgID)
}

func cmdCreate(ctx context.Context, a *app, profileID int64, name string) {
	if err := a.chats.CreateChat(ctx, profileID, name); err != nil {
		fatal(err)
	}
	fmt.Printf("Chat %q created.\n", name)
}

func cmdJoin(ctx context.Context, a *app, profileID int64, code string) {
	if err := a.chats.JoinByCode(ctx, profileID, code); err != nil {
		fatal(err)
	}
	fmt.Println("Joined.")
}

func cmdCode(ctx context.Context, a *app, profileID, chatID int64) {
	code, err := a.chats.ChatCode(ctx, profileID, chatID)
	if err != nil {
		fatal(err)
	}
	if code == "" {
		fmt.Fprintln(os.Stderr, "could not fetch invite code")
		os.Exit(1)
	}
	fmt.Println(code)
}
