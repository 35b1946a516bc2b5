package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"group_chat/internal/model"
	"group_chat/internal/protocol/envelope"
	"group_chat/internal/service/auth"
	"group_chat/internal/service/registry"
	"group_chat/internal/utils/log"

	"go.uber.org/zap"
)

const internalErrorMessage = "internal error"

type (
	Authenticator interface {
		Authenticate(ctx context.Context, token string) (*model.User, error)
	}

	Chats interface {
		Get(ctx context.Context, chatID string) (*model.Chat, error)
		IsMember(ctx context.Context, userID, chatID string) (bool, error)
		MembersOf(ctx context.Context, chatID string) ([]string, error)
		ListForUser(ctx context.Context, userID string, count int, fromID string) ([]*model.Chat, error)
		RemoveMember(ctx context.Context, chatID, userID string) error
	}

	Messages interface {
		Create(ctx context.Context, chatID, userID string, content []byte) (*model.Message, error)
		Get(ctx context.Context, id string) (*model.Message, error)
		ListForChat(ctx context.Context, chatID string, count int, pinnedOnly bool, fromID string) ([]*model.Message, error)
		TogglePin(ctx context.Context, id string) (*model.Message, error)
	}

	// Dispatcher validates, processes and routes client envelopes. It holds
	// no per-connection state; the caller feeds each connection's frames in
	// arrival order from a single goroutine.
	Dispatcher struct {
		registry *registry.Registry
		auth     Authenticator
		chats    Chats
		messages Messages
	}

	// outbound is one envelope and where it goes: back to the sending
	// connection, or to every live connection of targets.
	outbound struct {
		self    bool
		targets []string
		env     envelope.ServerEnvelope
	}

	// checked carries what validation already loaded into processing.
	checked struct {
		identity string
		user     *model.User
	}
)

func New(reg *registry.Registry, authenticator Authenticator, chats Chats, messages Messages) *Dispatcher {
	return &Dispatcher{
		registry: reg,
		auth:     authenticator,
		chats:    chats,
		messages: messages,
	}
}

// Submit decodes one received frame and handles it. Protocol errors drop the
// frame and are reported to the sender.
func (d *Dispatcher) Submit(ctx context.Context, conn *registry.Connection, raw []byte) {
	env, err := envelope.DecodeClient(raw)
	if err != nil {
		log.Warn("drop client frame", zap.String("conn", conn.ID()), zap.Error(err))
		d.reply(ctx, conn, envelope.ErrorEvent{ErrorMessage: protocolMessage(err)})
		if env.ID != "" {
			d.reply(ctx, conn, envelope.Acknowledgement{PackageID: env.ID, Details: envelope.Failure(protocolMessage(err))})
		}
		return
	}
	d.Handle(ctx, conn, env)
}

// Handle runs validate, process and dispatch for one envelope.
func (d *Dispatcher) Handle(ctx context.Context, conn *registry.Connection, env envelope.ClientEnvelope) {
	fields := []zap.Field{
		zap.String("conn", conn.ID()),
		zap.String("header", string(env.Package.ClientHeader())),
		zap.String("package_id", env.ID),
	}

	c, err := d.validate(ctx, conn, env.Package)
	if err != nil {
		d.fail(ctx, conn, env.ID, fields, err)
		return
	}

	out, err := d.process(ctx, conn, env, c)
	if err != nil {
		d.fail(ctx, conn, env.ID, fields, err)
		return
	}

	d.dispatch(ctx, conn, out)
}

func (d *Dispatcher) fail(ctx context.Context, conn *registry.Connection, packageID string, fields []zap.Field, err error) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		log.Debug("package rejected", append(fields, zap.String("reason", verr.Reason))...)
		d.reply(ctx, conn, envelope.Acknowledgement{PackageID: packageID, Details: envelope.Failure(verr.Reason)})
		return
	}

	log.Error("package failed", append(fields, zap.Error(err))...)
	d.reply(ctx, conn, envelope.ErrorEvent{ErrorMessage: internalErrorMessage})
	d.reply(ctx, conn, envelope.Acknowledgement{PackageID: packageID, Details: envelope.Failure(internalErrorMessage)})
}

func (d *Dispatcher) validate(ctx context.Context, conn *registry.Connection, pkg envelope.ClientPackage) (checked, error) {
	identity, authorized := d.registry.IdentityOf(conn)
	c := checked{identity: identity}

	if _, isAuth := pkg.(envelope.Authorization); !isAuth && !authorized {
		return c, reject(reasonNotAuthorized)
	}

	switch p := pkg.(type) {
	case envelope.Authorization:
		if authorized {
			return c, reject(reasonAlreadyAuthorized)
		}
		if p.Token == "" {
			return c, reject(auth.PublicMessage)
		}
		user, err := d.auth.Authenticate(ctx, p.Token)
		if err != nil {
			if auth.IsRejection(err) {
				return c, reject(auth.PublicMessage)
			}
			return c, err
		}
		c.user = user
		return c, nil

	case envelope.DeAuthorization:
		return c, nil

	case envelope.NewMessage:
		if len(p.Content) == 0 {
			return c, reject(reasonEmptyContent)
		}
		return c, d.requireMember(ctx, identity, p.ChatID)

	case envelope.GetChats:
		if p.ChatCount <= 0 || p.MessageCount <= 0 {
			return c, reject(reasonBadCount)
		}
		return c, nil

	case envelope.GetChatMessages:
		if p.MessageCount <= 0 {
			return c, reject(reasonBadCount)
		}
		return c, d.requireMember(ctx, identity, p.ChatID)

	case envelope.PinMessage:
		msg, err := d.messages.Get(ctx, p.MessageID)
		if err != nil {
			return c, fmt.Errorf("get message: %w", err)
		}
		if msg == nil {
			return c, reject(reasonMessageNotFound)
		}
		return c, d.requireMember(ctx, identity, msg.ChatID.Hex())

	case envelope.LeaveChat:
		return c, d.requireMember(ctx, identity, p.ChatID)

	default:
		return c, fmt.Errorf("%w: %s", envelope.ErrUnknownHeader, pkg.ClientHeader())
	}
}

func (d *Dispatcher) requireMember(ctx context.Context, identity, chatID string) error {
	ok, err := d.chats.IsMember(ctx, identity, chatID)
	if err != nil {
		return fmt.Errorf("check membership: %w", err)
	}
	if !ok {
		return reject(reasonNotMember)
	}
	return nil
}

func (d *Dispatcher) process(ctx context.Context, conn *registry.Connection, env envelope.ClientEnvelope, c checked) ([]outbound, error) {
	ack := outbound{
		self: true,
		env:  envelope.NewServer(envelope.Acknowledgement{PackageID: env.ID, Details: envelope.Success()}),
	}

	switch p := env.Package.(type) {
	case envelope.Authorization:
		identity := c.user.ID.Hex()
		if err := d.registry.Authorize(conn, identity); err != nil {
			log.DPanic("authorize connection", zap.String("conn", conn.ID()), zap.String("identity", identity), zap.Error(err))
			return nil, err
		}
		log.Info("connection authorized", zap.String("conn", conn.ID()), zap.String("identity", identity))
		return []outbound{ack}, nil

	case envelope.DeAuthorization:
		d.registry.Deauthorize(conn)
		log.Info("connection deauthorized", zap.String("conn", conn.ID()), zap.String("identity", c.identity))
		return []outbound{ack}, nil

	case envelope.NewMessage:
		members, err := d.chats.MembersOf(ctx, p.ChatID)
		if err != nil {
			return nil, fmt.Errorf("list members: %w", err)
		}
		msg, err := d.messages.Create(ctx, p.ChatID, c.identity, p.Content)
		if err != nil {
			return nil, fmt.Errorf("create message: %w", err)
		}
		event := outbound{
			targets: without(members, c.identity),
			env:     envelope.NewServer(envelope.NewMessageEvent{ChatMessage: toChatMessage(msg)}),
		}
		return []outbound{ack, event}, nil

	case envelope.GetChats:
		chats, err := d.chats.ListForUser(ctx, c.identity, p.ChatCount, p.FromID)
		if err != nil {
			return nil, fmt.Errorf("list chats: %w", err)
		}
		resp := envelope.SyncResponse{ChatMessages: make([]envelope.ChatMessages, 0, len(chats))}
		for _, chat := range chats {
			msgs, err := d.messages.ListForChat(ctx, chat.ID.Hex(), p.MessageCount, false, "")
			if err != nil {
				return nil, fmt.Errorf("list messages of %s: %w", chat.ID.Hex(), err)
			}
			resp.ChatMessages = append(resp.ChatMessages, toChatMessages(chat, msgs))
		}
		return []outbound{{self: true, env: envelope.NewServer(resp)}, ack}, nil

	case envelope.GetChatMessages:
		chat, err := d.chats.Get(ctx, p.ChatID)
		if err != nil {
			return nil, fmt.Errorf("get chat: %w", err)
		}
		if chat == nil {
			return nil, reject(reasonNotMember)
		}
		msgs, err := d.messages.ListForChat(ctx, p.ChatID, p.MessageCount, p.PinnedOnly, p.FromID)
		if err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}
		resp := envelope.SyncResponse{ChatMessages: []envelope.ChatMessages{toChatMessages(chat, msgs)}}
		return []outbound{{self: true, env: envelope.NewServer(resp)}, ack}, nil

	case envelope.PinMessage:
		msg, err := d.messages.TogglePin(ctx, p.MessageID)
		if err != nil {
			return nil, fmt.Errorf("toggle pin: %w", err)
		}
		if msg == nil {
			return nil, reject(reasonMessageNotFound)
		}
		chatID := msg.ChatID.Hex()
		members, err := d.chats.MembersOf(ctx, chatID)
		if err != nil {
			return nil, fmt.Errorf("list members: %w", err)
		}
		event := outbound{
			targets: members,
			env: envelope.NewServer(envelope.MessagePinnedEvent{
				ChatID:    chatID,
				MessageID: msg.ID.Hex(),
				Pinned:    msg.Pinned,
			}),
		}
		return []outbound{ack, event}, nil

	case envelope.LeaveChat:
		if err := d.chats.RemoveMember(ctx, p.ChatID, c.identity); err != nil {
			return nil, fmt.Errorf("remove member: %w", err)
		}
		remaining, err := d.chats.MembersOf(ctx, p.ChatID)
		if err != nil {
			return nil, fmt.Errorf("list members: %w", err)
		}
		event := outbound{
			targets: remaining,
			env:     envelope.NewServer(envelope.MemberLeftEvent{ChatID: p.ChatID, UserID: c.identity}),
		}
		return []outbound{ack, event}, nil

	default:
		return nil, fmt.Errorf("%w: %s", envelope.ErrUnknownHeader, env.Package.ClientHeader())
	}
}

// dispatch delivers every outbound envelope. Recipients that went offline
// since processing started are skipped; write failures stay local to the
// recipient.
func (d *Dispatcher) dispatch(ctx context.Context, conn *registry.Connection, out []outbound) {
	for _, o := range out {
		if o.self {
			if err := conn.Send(ctx, o.env); err != nil {
				log.Warn("reply failed", zap.String("conn", conn.ID()), zap.Error(err))
			}
			continue
		}
		if len(o.targets) == 0 {
			continue
		}
		if _, err := d.registry.Send(ctx, o.targets, o.env); err != nil {
			log.Warn("fan-out failed", zap.String("header", string(o.env.Package.ServerHeader())), zap.Error(err))
		}
	}
}

func (d *Dispatcher) reply(ctx context.Context, conn *registry.Connection, pkg envelope.ServerPackage) {
	if err := conn.Send(ctx, envelope.NewServer(pkg)); err != nil {
		log.Warn("reply failed", zap.String("conn", conn.ID()), zap.Error(err))
	}
}

func protocolMessage(err error) string {
	if errors.Is(err, envelope.ErrUnknownHeader) {
		return "unknown package header"
	}
	return "malformed package"
}

func without(ids []string, exclude string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != exclude {
			out = append(out, id)
		}
	}
	return out
}
