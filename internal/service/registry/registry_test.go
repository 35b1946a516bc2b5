package registry

import (
	"context"
	"errors"
	"group_chat/internal/protocol/envelope"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu     sync.Mutex
	frames [][]byte
	fail   error
	closed bool
}

func (f *fakeTransport) Write(_ context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.frames = append(f.frames, data)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) RemoteAddr() string { return "127.0.0.1:1234" }

func (f *fakeTransport) received(t *testing.T) []envelope.ServerEnvelope {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []envelope.ServerEnvelope
	for _, data := range f.frames {
		env, err := envelope.DecodeServer(data)
		require.NoError(t, err)
		out = append(out, env)
	}
	return out
}

func newConn() (*Connection, *fakeTransport) {
	tr := &fakeTransport{}
	return NewConnection(tr), tr
}

func TestRegistry_AuthorizeAndResolve(t *testing.T) {
	r := New()
	c, _ := newConn()

	r.Register(c)
	assert.Equal(t, 1, r.Count())
	assert.Nil(t, r.Resolve("u1"))

	require.NoError(t, r.Authorize(c, "u1"))
	assert.Same(t, c, r.Resolve("u1"))

	identity, ok := r.IdentityOf(c)
	assert.True(t, ok)
	assert.Equal(t, "u1", identity)
}

func TestRegistry_AuthorizeTwiceIsCallerError(t *testing.T) {
	r := New()
	c, _ := newConn()
	r.Register(c)

	require.NoError(t, r.Authorize(c, "u1"))
	assert.ErrorIs(t, r.Authorize(c, "u2"), ErrAlreadyAuthorized)
	assert.Same(t, c, r.Resolve("u1"))
	assert.Nil(t, r.Resolve("u2"))
}

func TestRegistry_AuthorizeUnregistered(t *testing.T) {
	r := New()
	c, _ := newConn()
	assert.ErrorIs(t, r.Authorize(c, "u1"), ErrNotRegistered)
}

func TestRegistry_IdentityMovesToNewConnection(t *testing.T) {
	r := New()
	old, _ := newConn()
	fresh, _ := newConn()
	r.Register(old)
	r.Register(fresh)

	require.NoError(t, r.Authorize(old, "u1"))
	require.NoError(t, r.Authorize(fresh, "u1"))

	assert.Same(t, fresh, r.Resolve("u1"))
	_, ok := r.IdentityOf(old)
	assert.False(t, ok, "the displaced connection is no longer authorized")

	// removing the displaced connection must not unbind the new one
	r.Remove(old)
	assert.Same(t, fresh, r.Resolve("u1"))
}

func TestRegistry_DeauthorizeAndRemove(t *testing.T) {
	r := New()
	c, _ := newConn()
	r.Register(c)
	require.NoError(t, r.Authorize(c, "u1"))

	r.Deauthorize(c)
	assert.Nil(t, r.Resolve("u1"))
	assert.Equal(t, 1, r.Count())

	require.NoError(t, r.Authorize(c, "u2"), "a deauthorized connection may authorize again")

	r.Remove(c)
	r.Remove(c)
	assert.Nil(t, r.Resolve("u2"))
	assert.Equal(t, 0, r.Count())
}

func TestRegistry_ResolveManySkipsOffline(t *testing.T) {
	r := New()
	a, _ := newConn()
	w, _ := newConn()
	for _, c := range []*Connection{a, w} {
		r.Register(c)
	}
	require.NoError(t, r.Authorize(a, "U"))
	require.NoError(t, r.Authorize(w, "W"))

	got := r.ResolveMany([]string{"U", "V", "W", "W"})
	assert.ElementsMatch(t, []*Connection{a, w}, got)
}

func TestRegistry_SendFansOut(t *testing.T) {
	r := New()
	ctx := context.Background()

	var transports []*fakeTransport
	for _, id := range []string{"u1", "u2", "u3"} {
		c, tr := newConn()
		r.Register(c)
		require.NoError(t, r.Authorize(c, id))
		transports = append(transports, tr)
	}

	env := envelope.NewServer(envelope.MemberLeftEvent{ChatID: "c1", UserID: "u9"})
	n, err := r.Send(ctx, []string{"u1", "u3", "offline"}, env)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Len(t, transports[0].received(t), 1)
	assert.Empty(t, transports[1].received(t))
	got := transports[2].received(t)
	require.Len(t, got, 1)
	assert.Equal(t, env.ID, got[0].ID)
	assert.Equal(t, env.Package, got[0].Package)
}

func TestRegistry_SendReportsWriteFailure(t *testing.T) {
	r := New()
	good, goodTr := newConn()
	bad, badTr := newConn()
	badTr.fail = errors.New("broken pipe")
	r.Register(good)
	r.Register(bad)
	require.NoError(t, r.Authorize(good, "u1"))
	require.NoError(t, r.Authorize(bad, "u2"))

	n, err := r.Send(context.Background(), []string{"u1", "u2"}, envelope.NewServer(envelope.ErrorEvent{ErrorMessage: "x"}))
	require.Error(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, goodTr.received(t), 1, "one failing recipient does not block the others")
}
