package client

import (
	"context"
	"errors"
	"group_chat/internal/protocol/delivery"
	"group_chat/internal/protocol/envelope"
	"group_chat/internal/utils/log"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrRejected is returned by Run when the server refuses the credential.
var ErrRejected = errors.New("client: credential rejected by server")

type (
	Config struct {
		// Host is the server's host:port.
		Host         string
		Secure       bool
		Token        string
		WriteTimeout time.Duration
		ReconnectMin time.Duration
		ReconnectMax time.Duration
	}

	// EventHandler receives every server package other than
	// acknowledgements, which the delivery queue consumes.
	EventHandler func(pkg envelope.ServerPackage)

	Client struct {
		cfg        Config
		queue      *delivery.Queue
		onEvent    EventHandler
		httpClient *http.Client

		rejected atomic.Bool

		mu   sync.Mutex
		conn *websocket.Conn
	}

	wsSender struct {
		conn         *websocket.Conn
		writeTimeout time.Duration
	}
)

func (s *wsSender) Send(_ context.Context, env envelope.ClientEnvelope) error {
	data, err := envelope.EncodeClient(env)
	if err != nil {
		return err
	}
	if s.writeTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return err
		}
	}
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

func NewClient(cfg Config, onEvent EventHandler, opts ...delivery.Option) *Client {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = 500 * time.Millisecond
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = 30 * time.Second
	}
	if onEvent == nil {
		onEvent = func(envelope.ServerPackage) {}
	}
	return &Client{
		cfg:        cfg,
		queue:      delivery.New(opts...),
		onEvent:    onEvent,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Enqueue hands pkg to the delivery queue. Work enqueued before the session
// is authorized waits for the handshake.
func (c *Client) Enqueue(ctx context.Context, pkg envelope.ClientPackage, onAck delivery.AckFunc, dependsOn string) (*delivery.Item, error) {
	item, err := c.queue.Enqueue(ctx, pkg, onAck, dependsOn)
	if errors.Is(err, delivery.ErrClosed) {
		// the item stays queued and is replayed on reconnect
		log.Debug("enqueue on a closed transport", zap.String("package_id", item.ID), zap.Error(err))
		c.dropConn()
		return item, nil
	}
	return item, err
}

func (c *Client) SendMessage(ctx context.Context, chatID string, content []byte, onAck delivery.AckFunc) (*delivery.Item, error) {
	return c.Enqueue(ctx, envelope.NewMessage{ChatID: chatID, Content: content}, onAck, "")
}

func (c *Client) Sync(ctx context.Context, chatCount, messageCount int, onAck delivery.AckFunc) (*delivery.Item, error) {
	return c.Enqueue(ctx, envelope.GetChats{ChatCount: chatCount, MessageCount: messageCount}, onAck, "")
}

func (c *Client) History(ctx context.Context, chatID string, count int, pinnedOnly bool, fromID string, onAck delivery.AckFunc) (*delivery.Item, error) {
	return c.Enqueue(ctx, envelope.GetChatMessages{ChatID: chatID, MessageCount: count, PinnedOnly: pinnedOnly, FromID: fromID}, onAck, "")
}

func (c *Client) Pin(ctx context.Context, messageID string, onAck delivery.AckFunc) (*delivery.Item, error) {
	return c.Enqueue(ctx, envelope.PinMessage{MessageID: messageID}, onAck, "")
}

func (c *Client) Leave(ctx context.Context, chatID string, onAck delivery.AckFunc) (*delivery.Item, error) {
	return c.Enqueue(ctx, envelope.LeaveChat{ChatID: chatID}, onAck, "")
}

// Pending returns the number of packages still waiting for an
// acknowledgement.
func (c *Client) Pending() int {
	return c.queue.Len()
}

// Run keeps a session open until ctx is done, reconnecting with jittered,
// capped exponential backoff. Unacknowledged packages are replayed after each
// reconnect.
func (c *Client) Run(ctx context.Context) error {
	if err := c.queue.Restore(ctx); err != nil {
		log.Warn("restore journal failed", zap.Error(err))
	}

	retry := &backoff.ExponentialBackOff{
		InitialInterval:     c.cfg.ReconnectMin,
		RandomizationFactor: 0.2,
		Multiplier:          2,
		MaxInterval:         c.cfg.ReconnectMax,
	}
	retry.Reset()

	for {
		conn, err := c.dial(ctx)
		if err == nil {
			retry.Reset()
			err = c.session(ctx, conn)
			c.queue.Detach()
		}

		if ctx.Err() != nil {
			return nil
		}
		if c.rejected.Load() {
			return ErrRejected
		}

		wait := retry.NextBackOff()
		log.Warn("connection lost", zap.Duration("retry_in", wait), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	scheme := "ws"
	if c.cfg.Secure {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: c.cfg.Host, Path: "/ws"}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (c *Client) session(ctx context.Context, conn *websocket.Conn) error {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer c.dropConn()

	sender := &wsSender{conn: conn, writeTimeout: c.cfg.WriteTimeout}
	if _, err := c.queue.Resume(ctx, sender, envelope.Authorization{Token: c.cfg.Token}, c.onAuthorized); err != nil {
		return err
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		env, err := envelope.DecodeServer(data)
		if err != nil {
			log.Error("decode server envelope failed", zap.Error(err))
			continue
		}

		if ack, ok := env.Package.(envelope.Acknowledgement); ok {
			if !c.queue.Acknowledge(ctx, ack) {
				log.Debug("ignore unmatched acknowledgement", zap.String("package_id", ack.PackageID))
			}
			continue
		}
		c.onEvent(env.Package)
	}
}

func (c *Client) onAuthorized(details envelope.AckDetails) {
	if details.Succeeded() {
		log.Info("session authorized")
		return
	}
	log.Error("session rejected", zap.String("reason", details.Reason))
	c.rejected.Store(true)
	c.dropConn()
}

// dropConn closes the current websocket, which ends the session's read loop.
func (c *Client) dropConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}
