package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"lobbycast/internal/client"
	"lobbycast/internal/client/lobbyview"
	"lobbycast/internal/client/modal"
	"lobbycast/internal/client/notify"
	"lobbycast/internal/client/transport"
	"lobbycast/internal/config"
	"lobbycast/internal/logger"
	"lobbycast/internal/model"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const usage = `commands:
  create <gameType> <maxPlayers>   join <lobbyId>   leave
  ready   unready   start   kick <userId>   invite <userId>
  ai <easy|medium|hard>   unai <slot>   chat <text>   sync
  inbox   read   accept <id>   decline <id>   quit`

func main() {
	_ = godotenv.Load()

	bootLogger, err := logger.New("warn", false)
	if err != nil {
		log.Fatal("Failed to create logger:", err)
	}
	cfg, err := config.Load(bootLogger, "config")
	if err != nil {
		bootLogger.Fatal("failed to load config", zap.Error(err))
	}
	lg, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		bootLogger.Fatal("failed to create logger", zap.Error(err))
	}
	defer lg.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backoff := transport.DefaultBackoff()
	backoff.Attempts = cfg.Client.ReconnectMax
	c, err := client.New(client.Config{
		ServerURL:        cfg.Client.ServerURL,
		Token:            cfg.Client.Token,
		StorageDir:       cfg.Client.StoragePath,
		MaxNotifications: cfg.Client.MaxNotifications,
		AckTimeout:       cfg.Client.AckTimeout,
		Backoff:          backoff,
	}, lg)
	if err != nil {
		exitOnConnectionError(err)
		lg.Fatal("failed to start client", zap.Error(err))
	}
	defer c.Close()

	if err := c.Connect(ctx); err != nil {
		exitOnConnectionError(err)
		lg.Fatal("failed to connect", zap.Error(err))
	}
	fmt.Printf("signed in as %s (%s)\n%s\n", c.Identity.Username, c.Identity.UserID, usage)

	c.Lobby.OnRender(printView)
	c.Lobby.Mount()
	c.Notifications.SubscribeToUnreadCount(func(n int) {
		fmt.Printf("[inbox] %d unread\n", n)
	})

	go func() {
		if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			fmt.Println("connection lost for good:", err)
			stop()
		}
	}()

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	sess := &session{ctx: ctx, c: c, lines: lines}
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !sess.handle(line) {
				return
			}
		}
	}
}

// exitOnConnectionError ends the flow when there is no usable identity.
func exitOnConnectionError(err error) {
	if errors.Is(err, transport.ErrMissingToken) {
		fmt.Fprintln(os.Stderr, "no session token: log in again and set LOBBYCAST_CLIENT_TOKEN")
		os.Exit(2)
	}
}

// session is the prompt loop. Confirmation answers come from the same
// input stream as commands.
type session struct {
	ctx   context.Context
	c     *client.Client
	lines <-chan string
}

func (s *session) handle(line string) bool {
	ctx, c := s.ctx, s.c
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)
	sent := true
	switch cmd {
	case "":
		return true
	case "quit", "exit":
		return false
	case "create":
		gameType, maxArg, _ := strings.Cut(arg, " ")
		maxPlayers, err := strconv.Atoi(strings.TrimSpace(maxArg))
		if err != nil {
			maxPlayers = 2
		}
		enter(ctx, c, func() (model.Lobby, error) { return c.Lobby.Create(ctx, gameType, maxPlayers) })
	case "join":
		enter(ctx, c, func() (model.Lobby, error) { return c.Lobby.Join(ctx, arg) })
	case "leave":
		if !s.confirm("leave", "leave the lobby?") {
			return true
		}
		sent = c.Lobby.Leave()
	case "ready":
		sent = c.Lobby.SetReady(true)
	case "unready":
		sent = c.Lobby.SetReady(false)
	case "start":
		sent = c.Lobby.Start()
	case "kick":
		if !s.confirm("kick", "remove "+arg+"?") {
			return true
		}
		sent = c.Lobby.Kick(arg)
	case "invite":
		sent = c.Lobby.Invite(arg)
	case "ai":
		sent = c.Lobby.AddAI(model.AIDifficulty(arg))
	case "unai":
		slot, err := strconv.Atoi(arg)
		sent = err == nil && c.Lobby.RemoveAI(slot)
	case "chat":
		sent = c.Lobby.SendChat(arg)
	case "sync":
		sent = c.Lobby.Sync()
	case "inbox":
		printInbox(c.Notifications.GetAll())
	case "read":
		c.Notifications.MarkAllAsRead()
	case "accept", "decline":
		if err := c.RespondToInvitation(arg, cmd == "accept"); err != nil {
			fmt.Println("cannot respond:", err)
		}
	default:
		fmt.Println(usage)
	}
	if !sent {
		fmt.Println("not possible right now")
	}
	return true
}

// enter runs a create or join and waits for the view to show the lobby.
// Failing either step returns the user to the prompt.
func enter(ctx context.Context, c *client.Client, do func() (model.Lobby, error)) {
	if _, err := do(); err != nil {
		var rej *lobbyview.RejectedError
		if errors.As(err, &rej) {
			fmt.Println(lobbyview.DescribeReason(rej.Reason))
			return
		}
		fmt.Println("request failed:", err)
		return
	}
	if err := c.Lobby.WaitMounted(ctx, 10, 50*time.Millisecond); err != nil {
		fmt.Println("lobby did not load:", err)
		c.Lobby.Leave()
	}
}

// ask reads a y/n answer from the next input line.
func (s *session) ask(question string) bool {
	fmt.Printf("%s [y/N] ", question)
	select {
	case answer := <-s.lines:
		return strings.EqualFold(strings.TrimSpace(answer), "y")
	case <-s.ctx.Done():
		return false
	}
}

func printView(v lobbyview.View) {
	if v.Local.Notice != "" {
		fmt.Println("*", v.Local.Notice)
	}
	l, ok := v.Authority.Lobby()
	if !ok {
		return
	}
	fmt.Printf("== lobby %s (%s) %s v%d ==\n", l.ID, l.GameType, l.Phase, l.Version)
	for _, p := range l.Players {
		tags := []string{}
		if p.IsHost {
			tags = append(tags, "host")
		}
		if p.IsAI {
			tags = append(tags, "ai:"+string(p.AIDifficulty))
		}
		if p.IsReady {
			tags = append(tags, "ready")
		}
		if !p.IsOnline && !p.IsAI {
			tags = append(tags, "offline")
		}
		fmt.Printf("  [%d] %s %v\n", p.Index, p.Username, tags)
	}
	if v.IsHost {
		fmt.Printf("  you are host; start %s\n", map[bool]string{true: "enabled", false: "disabled"}[v.CanStart])
	}
	if v.GameID != "" {
		fmt.Printf("  game %s starting in %d\n", v.GameID, v.Countdown)
	}
	for _, m := range v.Authority.Chat() {
		fmt.Printf("  <%s> %s\n", m.Username, m.Message)
	}
}

func printInbox(items []notify.Notification) {
	if len(items) == 0 {
		fmt.Println("inbox empty")
		return
	}
	for _, n := range items {
		mark := " "
		if !n.Read {
			mark = "*"
		}
		action := ""
		if n.Actionable && !n.ActionPending {
			action = " (accept/decline " + n.ID + ")"
		}
		fmt.Printf("%s %s %s: %s%s\n", mark, n.Timestamp.Local().Format("15:04"), n.Title, n.Message, action)
	}
}

// confirm reports whether the user agreed. A dialog that is already open
// blocks a second one.
func (s *session) confirm(name, question string) bool {
	ok, err := s.c.Confirm(name, func() bool { return s.ask(question) })
	if errors.Is(err, modal.ErrModalOpen) {
		fmt.Println("finish the open prompt first")
	}
	return err == nil && ok
}
