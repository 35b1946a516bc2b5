package registry

import (
	"context"
	"errors"
	"group_chat/internal/protocol/envelope"
	"group_chat/internal/utils/log"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNotRegistered     = errors.New("connection is not registered")
	ErrAlreadyAuthorized = errors.New("connection is already authorized")
)

// fanOutLimit bounds concurrent writes for a single Send.
const fanOutLimit = 32

// Registry owns the set of live connections and the identity each one is
// authorized as. An identity resolves to at most one connection.
type Registry struct {
	mu         sync.RWMutex
	conns      map[*Connection]string
	byIdentity map[string]*Connection
}

func New() *Registry {
	return &Registry{
		conns:      make(map[*Connection]string),
		byIdentity: make(map[string]*Connection),
	}
}

// Register adds an unauthorized connection.
func (r *Registry) Register(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c]; !ok {
		r.conns[c] = ""
	}
}

// Authorize binds identity to c. Authorizing an already authorized
// connection is a caller bug and returns ErrAlreadyAuthorized. If another
// connection is bound to identity it is deauthorized.
func (r *Registry) Authorize(c *Connection, identity string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.conns[c]
	if !ok {
		return ErrNotRegistered
	}
	if current != "" {
		return ErrAlreadyAuthorized
	}

	if old, ok := r.byIdentity[identity]; ok && old != c {
		r.conns[old] = ""
		log.Info("identity moved to a new connection",
			zap.String("identity", identity),
			zap.String("old_conn", old.ID()),
			zap.String("new_conn", c.ID()))
	}

	r.conns[c] = identity
	r.byIdentity[identity] = c
	return nil
}

func (r *Registry) Deauthorize(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity, ok := r.conns[c]
	if !ok || identity == "" {
		return
	}
	r.conns[c] = ""
	if r.byIdentity[identity] == c {
		delete(r.byIdentity, identity)
	}
}

// Remove forgets c. It is safe to call more than once.
func (r *Registry) Remove(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity, ok := r.conns[c]
	if !ok {
		return
	}
	delete(r.conns, c)
	if identity != "" && r.byIdentity[identity] == c {
		delete(r.byIdentity, identity)
	}
}

// IdentityOf returns the identity c is authorized as.
func (r *Registry) IdentityOf(c *Connection) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	identity := r.conns[c]
	return identity, identity != ""
}

func (r *Registry) Resolve(identity string) *Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byIdentity[identity]
}

// ResolveMany returns the live connections for identities, silently
// skipping identities that are offline.
func (r *Registry) ResolveMany(identities []string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Connection, 0, len(identities))
	seen := make(map[*Connection]struct{}, len(identities))
	for _, id := range identities {
		c, ok := r.byIdentity[id]
		if !ok {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Send pushes env to every live connection of identities. Writes run
// concurrently with no ordering between recipients. It returns the number of
// connections written to and the first write error.
func (r *Registry) Send(ctx context.Context, identities []string, env envelope.ServerEnvelope) (int, error) {
	targets := r.ResolveMany(identities)
	if len(targets) == 0 {
		return 0, nil
	}
	if len(targets) == 1 {
		if err := targets[0].Send(ctx, env); err != nil {
			return 0, err
		}
		return 1, nil
	}

	var (
		g       errgroup.Group
		mu      sync.Mutex
		written int
	)
	g.SetLimit(fanOutLimit)
	for _, c := range targets {
		g.Go(func() error {
			if err := c.Send(ctx, env); err != nil {
				return err
			}
			mu.Lock()
			written++
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	return written, err
}
