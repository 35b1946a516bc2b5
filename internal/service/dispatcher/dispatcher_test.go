package dispatcher

import (
	"context"
	"errors"
	"group_chat/internal/model"
	"group_chat/internal/protocol/envelope"
	"group_chat/internal/service/auth"
	"group_chat/internal/service/registry"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type fakeTransport struct {
	mu     sync.Mutex
	frames [][]byte
}

func (f *fakeTransport) Write(_ context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, data)
	return nil
}

func (f *fakeTransport) Close() error       { return nil }
func (f *fakeTransport) RemoteAddr() string { return "pipe" }

func (f *fakeTransport) drain(t *testing.T) []envelope.ServerEnvelope {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []envelope.ServerEnvelope
	for _, data := range f.frames {
		env, err := envelope.DecodeServer(data)
		require.NoError(t, err)
		out = append(out, env)
	}
	f.frames = nil
	return out
}

type fakeAuth struct {
	tokens map[string]*model.User
	err    error
}

func (f *fakeAuth) Authenticate(_ context.Context, token string) (*model.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.tokens[token]
	if !ok {
		return nil, auth.ErrInvalid
	}
	return u, nil
}

type fakeStore struct {
	mu          sync.Mutex
	chats       map[string]*model.Chat
	messages    map[string]*model.Message
	failList    error
	failMembers error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		chats:    make(map[string]*model.Chat),
		messages: make(map[string]*model.Message),
	}
}

func (s *fakeStore) addChat(name string, members ...*model.User) *model.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &model.Chat{ID: primitive.NewObjectID(), Name: name, CreatedAt: time.Now()}
	for _, m := range members {
		c.Members = append(c.Members, m.ID)
	}
	s.chats[c.ID.Hex()] = c
	return c
}

func (s *fakeStore) Get(_ context.Context, chatID string) (*model.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chats[chatID], nil
}

func (s *fakeStore) IsMember(_ context.Context, userID, chatID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return false, nil
	}
	id, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return false, nil
	}
	return c.HasMember(id), nil
}

func (s *fakeStore) MembersOf(_ context.Context, chatID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failMembers != nil {
		return nil, s.failMembers
	}
	var out []string
	if c, ok := s.chats[chatID]; ok {
		for _, m := range c.Members {
			out = append(out, m.Hex())
		}
	}
	return out, nil
}

func (s *fakeStore) ListForUser(_ context.Context, userID string, count int, _ string) ([]*model.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failList != nil {
		return nil, s.failList
	}
	id, _ := primitive.ObjectIDFromHex(userID)
	var out []*model.Chat
	for _, c := range s.chats {
		if c.HasMember(id) && len(out) < count {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *fakeStore) RemoveMember(_ context.Context, chatID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.chats[chatID]
	c.Members = slices.DeleteFunc(c.Members, func(id primitive.ObjectID) bool { return id.Hex() == userID })
	return nil
}

type fakeMessages struct{ *fakeStore }

func (m fakeMessages) Create(_ context.Context, chatID, userID string, content []byte) (*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cid, _ := primitive.ObjectIDFromHex(chatID)
	uid, _ := primitive.ObjectIDFromHex(userID)
	msg := &model.Message{ID: primitive.NewObjectID(), ChatID: cid, UserID: uid, Content: content, CreatedAt: time.Now()}
	m.messages[msg.ID.Hex()] = msg
	return msg, nil
}

func (m fakeMessages) Get(_ context.Context, id string) (*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.messages[id], nil
}

func (m fakeMessages) ListForChat(_ context.Context, chatID string, count int, pinnedOnly bool, _ string) ([]*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Message
	for _, msg := range m.messages {
		if msg.ChatID.Hex() != chatID || (pinnedOnly && !msg.Pinned) {
			continue
		}
		out = append(out, msg)
	}
	slices.SortFunc(out, func(a, b *model.Message) int { return a.CreatedAt.Compare(b.CreatedAt) })
	if len(out) > count {
		out = out[len(out)-count:]
	}
	return out, nil
}

func (m fakeMessages) TogglePin(_ context.Context, id string) (*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil, nil
	}
	msg.Pinned = !msg.Pinned
	cp := *msg
	return &cp, nil
}

type harness struct {
	t     *testing.T
	reg   *registry.Registry
	auth  *fakeAuth
	store *fakeStore
	d     *Dispatcher
}

func newHarness(t *testing.T) *harness {
	store := newFakeStore()
	h := &harness{
		t:     t,
		reg:   registry.New(),
		auth:  &fakeAuth{tokens: make(map[string]*model.User)},
		store: store,
	}
	h.d = New(h.reg, h.auth, store, fakeMessages{store})
	return h
}

func (h *harness) user(name, token string) *model.User {
	u := &model.User{ID: primitive.NewObjectID(), Name: name}
	h.auth.tokens[token] = u
	return u
}

func (h *harness) connect() (*registry.Connection, *fakeTransport) {
	tr := &fakeTransport{}
	c := registry.NewConnection(tr)
	h.reg.Register(c)
	return c, tr
}

func (h *harness) submit(c *registry.Connection, id string, pkg envelope.ClientPackage) {
	h.t.Helper()
	raw, err := envelope.EncodeClient(envelope.ClientEnvelope{ID: id, Package: pkg})
	require.NoError(h.t, err)
	h.d.Submit(context.Background(), c, raw)
}

func (h *harness) login(token string) (*registry.Connection, *fakeTransport) {
	h.t.Helper()
	c, tr := h.connect()
	h.submit(c, "login-"+token, envelope.Authorization{Token: token})
	requireAck(h.t, tr.drain(h.t), "login-"+token, envelope.AckSuccess)
	return c, tr
}

func requireAck(t *testing.T, got []envelope.ServerEnvelope, packageID string, status envelope.AckStatus) envelope.AckDetails {
	t.Helper()
	for _, env := range got {
		if ack, ok := env.Package.(envelope.Acknowledgement); ok && ack.PackageID == packageID {
			require.Equal(t, status, ack.Details.Status, "ack reason: %s", ack.Details.Reason)
			return ack.Details
		}
	}
	require.Failf(t, "missing acknowledgement", "no ack for %s in %d envelopes", packageID, len(got))
	return envelope.AckDetails{}
}

func packagesOf[T envelope.ServerPackage](got []envelope.ServerEnvelope) []T {
	var out []T
	for _, env := range got {
		if p, ok := env.Package.(T); ok {
			out = append(out, p)
		}
	}
	return out
}

func TestDispatcher_FanOutSkipsOfflineMembers(t *testing.T) {
	h := newHarness(t)
	u := h.user("U", "T")
	v := h.user("V", "TV")
	w := h.user("W", "TW")
	chat := h.store.addChat("C", u, v, w)

	a, aTr := h.login("T")
	_, wTr := h.login("TW")

	h.submit(a, "m1", envelope.NewMessage{ChatID: chat.ID.Hex(), Content: []byte("hi")})

	fromA := aTr.drain(t)
	requireAck(t, fromA, "m1", envelope.AckSuccess)
	assert.Empty(t, packagesOf[envelope.NewMessageEvent](fromA), "the sender does not receive its own message")

	events := packagesOf[envelope.NewMessageEvent](wTr.drain(t))
	require.Len(t, events, 1)
	assert.Equal(t, []byte("hi"), events[0].ChatMessage.Content)
	assert.Equal(t, u.ID.Hex(), events[0].ChatMessage.UserID)
	assert.Equal(t, chat.ID.Hex(), events[0].ChatMessage.ChatID)
	assert.Nil(t, h.reg.Resolve(v.ID.Hex()))
	assert.Len(t, chat.Members, 3, "V stays a member while offline")
}

func TestDispatcher_UnauthorizedPackageIsRejected(t *testing.T) {
	h := newHarness(t)
	u := h.user("U", "T")
	chat := h.store.addChat("C", u)
	c, tr := h.connect()

	h.submit(c, "p1", envelope.NewMessage{ChatID: chat.ID.Hex(), Content: []byte("x")})

	got := tr.drain(t)
	details := requireAck(t, got, "p1", envelope.AckError)
	assert.Equal(t, reasonNotAuthorized, details.Reason)
	assert.Empty(t, h.store.messages, "validation failures change nothing")
}

func TestDispatcher_AuthorizationFailures(t *testing.T) {
	h := newHarness(t)
	h.user("U", "T")

	c, tr := h.connect()
	h.submit(c, "a1", envelope.Authorization{Token: "bogus"})
	assert.Equal(t, auth.PublicMessage, requireAck(t, tr.drain(t), "a1", envelope.AckError).Reason)
	_, ok := h.reg.IdentityOf(c)
	assert.False(t, ok)

	h.submit(c, "a2", envelope.Authorization{Token: "T"})
	requireAck(t, tr.drain(t), "a2", envelope.AckSuccess)

	h.submit(c, "a3", envelope.Authorization{Token: "T"})
	assert.Equal(t, reasonAlreadyAuthorized, requireAck(t, tr.drain(t), "a3", envelope.AckError).Reason)
}

func TestDispatcher_AuthenticatorUnavailable(t *testing.T) {
	h := newHarness(t)
	h.auth.err = errors.New("mongo down")
	c, tr := h.connect()

	h.submit(c, "a1", envelope.Authorization{Token: "T"})

	got := tr.drain(t)
	requireAck(t, got, "a1", envelope.AckError)
	errs := packagesOf[envelope.ErrorEvent](got)
	require.Len(t, errs, 1)
	assert.Equal(t, internalErrorMessage, errs[0].ErrorMessage)
}

func TestDispatcher_NonMemberCannotPost(t *testing.T) {
	h := newHarness(t)
	h.user("U", "T")
	other := h.user("X", "TX")
	chat := h.store.addChat("C", other)
	a, aTr := h.login("T")
	_, xTr := h.login("TX")

	h.submit(a, "m1", envelope.NewMessage{ChatID: chat.ID.Hex(), Content: []byte("x")})

	assert.Equal(t, reasonNotMember, requireAck(t, aTr.drain(t), "m1", envelope.AckError).Reason)
	assert.Empty(t, xTr.drain(t))
}

func TestDispatcher_ProtocolErrors(t *testing.T) {
	h := newHarness(t)
	c, tr := h.connect()

	h.d.Submit(context.Background(), c, []byte{0xff, 0x00})

	got := tr.drain(t)
	require.Len(t, got, 1)
	errs := packagesOf[envelope.ErrorEvent](got)
	require.Len(t, errs, 1)
	assert.Equal(t, "malformed package", errs[0].ErrorMessage)
}

func TestDispatcher_GetChats(t *testing.T) {
	h := newHarness(t)
	u := h.user("U", "T")
	chat := h.store.addChat("C", u)
	a, tr := h.login("T")

	h.submit(a, "m1", envelope.NewMessage{ChatID: chat.ID.Hex(), Content: []byte("one")})
	tr.drain(t)

	h.submit(a, "g1", envelope.GetChats{ChatCount: 10, MessageCount: 10})
	got := tr.drain(t)
	require.Len(t, got, 2)

	resp, ok := got[0].Package.(envelope.SyncResponse)
	require.True(t, ok, "the response precedes the acknowledgement")
	require.Len(t, resp.ChatMessages, 1)
	assert.Equal(t, "C", resp.ChatMessages[0].Chat.Name)
	require.Len(t, resp.ChatMessages[0].Messages, 1)
	assert.Equal(t, []byte("one"), resp.ChatMessages[0].Messages[0].Content)
	requireAck(t, got, "g1", envelope.AckSuccess)

	h.submit(a, "g2", envelope.GetChats{ChatCount: 0, MessageCount: 10})
	assert.Equal(t, reasonBadCount, requireAck(t, tr.drain(t), "g2", envelope.AckError).Reason)
}

func TestDispatcher_GetChatsStoreFailure(t *testing.T) {
	h := newHarness(t)
	h.user("U", "T")
	a, tr := h.login("T")
	h.store.failList = errors.New("timeout")

	h.submit(a, "g1", envelope.GetChats{ChatCount: 1, MessageCount: 1})

	got := tr.drain(t)
	requireAck(t, got, "g1", envelope.AckError)
	assert.Len(t, packagesOf[envelope.ErrorEvent](got), 1)
	assert.Empty(t, packagesOf[envelope.SyncResponse](got))
}

func TestDispatcher_PinAndPinnedOnly(t *testing.T) {
	h := newHarness(t)
	u := h.user("U", "T")
	w := h.user("W", "TW")
	chat := h.store.addChat("C", u, w)
	a, aTr := h.login("T")
	_, wTr := h.login("TW")

	h.submit(a, "m1", envelope.NewMessage{ChatID: chat.ID.Hex(), Content: []byte("keep")})
	h.submit(a, "m2", envelope.NewMessage{ChatID: chat.ID.Hex(), Content: []byte("skip")})
	aTr.drain(t)
	posted := packagesOf[envelope.NewMessageEvent](wTr.drain(t))
	require.Len(t, posted, 2)
	keep := posted[0].ChatMessage.ID

	h.submit(a, "p1", envelope.PinMessage{MessageID: keep})
	requireAck(t, aTr.drain(t), "p1", envelope.AckSuccess)
	pinned := packagesOf[envelope.MessagePinnedEvent](wTr.drain(t))
	require.Len(t, pinned, 1)
	assert.True(t, pinned[0].Pinned)
	assert.Equal(t, keep, pinned[0].MessageID)

	h.submit(a, "q1", envelope.GetChatMessages{ChatID: chat.ID.Hex(), MessageCount: 10, PinnedOnly: true})
	resp := packagesOf[envelope.SyncResponse](aTr.drain(t))
	require.Len(t, resp, 1)
	require.Len(t, resp[0].ChatMessages[0].Messages, 1)
	assert.Equal(t, keep, resp[0].ChatMessages[0].Messages[0].ID)

	h.submit(a, "p2", envelope.PinMessage{MessageID: primitive.NewObjectID().Hex()})
	assert.Equal(t, reasonMessageNotFound, requireAck(t, aTr.drain(t), "p2", envelope.AckError).Reason)
}

func TestDispatcher_LeaveChat(t *testing.T) {
	h := newHarness(t)
	u := h.user("U", "T")
	w := h.user("W", "TW")
	chat := h.store.addChat("C", u, w)
	a, aTr := h.login("T")
	_, wTr := h.login("TW")

	h.submit(a, "l1", envelope.LeaveChat{ChatID: chat.ID.Hex()})
	requireAck(t, aTr.drain(t), "l1", envelope.AckSuccess)
	left := packagesOf[envelope.MemberLeftEvent](wTr.drain(t))
	require.Len(t, left, 1)
	assert.Equal(t, u.ID.Hex(), left[0].UserID)

	h.submit(a, "m1", envelope.NewMessage{ChatID: chat.ID.Hex(), Content: []byte("late")})
	assert.Equal(t, reasonNotMember, requireAck(t, aTr.drain(t), "m1", envelope.AckError).Reason)
}

func TestDispatcher_DeAuthorization(t *testing.T) {
	h := newHarness(t)
	u := h.user("U", "T")
	w := h.user("W", "TW")
	chat := h.store.addChat("C", u, w)
	a, aTr := h.login("T")
	w1, _ := h.login("TW")

	h.submit(a, "d1", envelope.DeAuthorization{})
	requireAck(t, aTr.drain(t), "d1", envelope.AckSuccess)

	h.submit(w1, "m1", envelope.NewMessage{ChatID: chat.ID.Hex(), Content: []byte("anyone?")})
	assert.Empty(t, aTr.drain(t), "a deauthorized connection receives no fan-out")

	h.submit(a, "m2", envelope.NewMessage{ChatID: chat.ID.Hex(), Content: []byte("x")})
	assert.Equal(t, reasonNotAuthorized, requireAck(t, aTr.drain(t), "m2", envelope.AckError).Reason)
}

func TestDispatcher_RejectedPackagesChangeNothing(t *testing.T) {
	h := newHarness(t)
	u := h.user("U", "T")
	v := h.user("V", "TV")
	chat := h.store.addChat("C", u, v)
	a, aTr := h.login("T")
	_, vTr := h.login("TV")

	h.submit(a, "m1", envelope.NewMessage{ChatID: chat.ID.Hex()})
	assert.Equal(t, reasonEmptyContent, requireAck(t, aTr.drain(t), "m1", envelope.AckError).Reason)

	h.submit(a, "h1", envelope.GetChatMessages{ChatID: chat.ID.Hex(), MessageCount: 0})
	got := aTr.drain(t)
	assert.Equal(t, reasonBadCount, requireAck(t, got, "h1", envelope.AckError).Reason)
	assert.Empty(t, packagesOf[envelope.SyncResponse](got))

	h.submit(a, "h2", envelope.GetChatMessages{ChatID: chat.ID.Hex(), MessageCount: -1})
	assert.Equal(t, reasonBadCount, requireAck(t, aTr.drain(t), "h2", envelope.AckError).Reason)

	assert.Empty(t, h.store.messages)
	assert.Empty(t, vTr.drain(t))
}

func TestDispatcher_MembersFailureStoresNothing(t *testing.T) {
	h := newHarness(t)
	u := h.user("U", "T")
	v := h.user("V", "TV")
	chat := h.store.addChat("C", u, v)
	a, aTr := h.login("T")
	_, vTr := h.login("TV")
	h.store.failMembers = errors.New("timeout")

	h.submit(a, "m1", envelope.NewMessage{ChatID: chat.ID.Hex(), Content: []byte("hi")})

	got := aTr.drain(t)
	requireAck(t, got, "m1", envelope.AckError)
	assert.Len(t, packagesOf[envelope.ErrorEvent](got), 1)
	assert.Empty(t, h.store.messages)
	assert.Empty(t, vTr.drain(t))
}
