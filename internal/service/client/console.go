package client

import (
	"bufio"
	"context"
	"fmt"
	"group_chat/internal/protocol/envelope"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	syncChatCount    = 20
	syncMessageCount = 20
)

// Console is a line-oriented front end. Plain lines are sent to the current
// chat; lines starting with '/' are commands.
type Console struct {
	client *Client

	mu      sync.Mutex
	out     io.Writer
	current string
}

func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

// Attach binds the console to a client. HandleEvent may be used as the
// client's EventHandler before Attach is called.
func (c *Console) Attach(client *Client) {
	c.client = client
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// HandleEvent prints a server event.
func (c *Console) HandleEvent(pkg envelope.ServerPackage) {
	switch p := pkg.(type) {
	case envelope.NewMessageEvent:
		m := p.ChatMessage
		c.printf("[%s] %s: %s\n", m.ChatID, m.UserID, m.Content)
	case envelope.SyncResponse:
		for _, cm := range p.ChatMessages {
			c.printf("== %s (%s) members=%d\n", cm.Chat.Name, cm.Chat.ID, len(cm.Chat.Members))
			for _, m := range cm.Messages {
				pin := " "
				if m.Pinned {
					pin = "*"
				}
				c.printf("%s %s %s: %s\n", pin, m.ID, m.UserID, m.Content)
			}
		}
	case envelope.MessagePinnedEvent:
		c.printf("[%s] message %s pinned=%t\n", p.ChatID, p.MessageID, p.Pinned)
	case envelope.MemberLeftEvent:
		c.printf("[%s] %s left\n", p.ChatID, p.UserID)
	case envelope.ErrorEvent:
		c.printf("server error: %s\n", p.ErrorMessage)
	}
}

// Run reads lines from in until EOF or ctx is done.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := c.Exec(ctx, line); err != nil {
			c.printf("error: %v\n", err)
		}
	}
	return scanner.Err()
}

// Exec runs a single input line.
func (c *Console) Exec(ctx context.Context, line string) error {
	if !strings.HasPrefix(line, "/") {
		if c.current == "" {
			return fmt.Errorf("no chat selected, use /use <chatId>")
		}
		_, err := c.client.SendMessage(ctx, c.current, []byte(line), c.report("send"))
		return err
	}

	cmd, args := parseCommand(line)
	switch cmd {
	case "use":
		if len(args) != 1 {
			return usage("/use <chatId>")
		}
		c.current = args[0]
		c.printf("current chat: %s\n", c.current)
		return nil

	case "sync":
		_, err := c.client.Sync(ctx, syncChatCount, syncMessageCount, c.report("sync"))
		return err

	case "history", "pinned":
		if c.current == "" {
			return usage("/use <chatId> first")
		}
		count := syncMessageCount
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return usage("/" + cmd + " [count]")
			}
			count = n
		}
		_, err := c.client.History(ctx, c.current, count, cmd == "pinned", "", c.report(cmd))
		return err

	case "pin":
		if len(args) != 1 {
			return usage("/pin <messageId>")
		}
		_, err := c.client.Pin(ctx, args[0], c.report("pin"))
		return err

	case "leave":
		if c.current == "" {
			return usage("/use <chatId> first")
		}
		chatID := c.current
		c.current = ""
		_, err := c.client.Leave(ctx, chatID, c.report("leave"))
		return err

	case "new":
		if len(args) == 0 {
			return usage("/new <name>")
		}
		chat, err := c.client.CreateChat(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		c.current = chat.ID
		c.printf("created chat %s (%s)\n", chat.Name, chat.ID)
		return nil

	case "invite":
		if c.current == "" || len(args) != 2 {
			return usage("/invite <joinKey> <ttl>, e.g. /invite s3cret 10m")
		}
		ttl, err := time.ParseDuration(args[1])
		if err != nil {
			return usage("/invite <joinKey> <ttl>")
		}
		inv, err := c.client.CreateInvitation(ctx, c.current, []byte(args[0]), ttl, nil)
		if err != nil {
			return err
		}
		c.printf("invitation %s for chat %s\n", inv.ID, inv.ChatID)
		return nil

	case "redeem":
		if len(args) != 2 {
			return usage("/redeem <invitationId> <joinKey>")
		}
		res, err := c.client.RedeemInvitation(ctx, args[0], []byte(args[1]))
		if err != nil {
			return err
		}
		c.current = res.ChatID
		c.printf("joined chat %s\n", res.ChatID)
		return nil

	case "pending":
		c.printf("%d package(s) awaiting acknowledgement\n", c.client.Pending())
		return nil

	default:
		return fmt.Errorf("unknown command /%s", cmd)
	}
}

func (c *Console) report(what string) func(envelope.AckDetails) {
	return func(d envelope.AckDetails) {
		if !d.Succeeded() {
			c.printf("%s failed: %s\n", what, d.Reason)
		}
	}
}

func parseCommand(line string) (string, []string) {
	fields := strings.Fields(strings.TrimPrefix(line, "/"))
	if len(fields) == 0 {
		return "", nil
	}
	return strings.ToLower(fields[0]), fields[1:]
}

func usage(s string) error {
	return fmt.Errorf("usage: %s", s)
}
