package invitation

import (
	"context"
	"crypto/subtle"
	"group_chat/internal/model"
	"sync"
	"time"
)

// Store holds the active invitation set.
type Store interface {
	Put(ctx context.Context, inv *model.Invitation) error
	// Take removes and returns the invitation with id when joinKey matches
	// and it has not expired at now. Any miss is ErrInvitationInvalid and
	// leaves the set unchanged.
	Take(ctx context.Context, id string, joinKey []byte, now time.Time) (*model.Invitation, error)
	// Purge drops invitations that expired before now and reports how many.
	Purge(ctx context.Context, now time.Time) (int, error)
}

type MemoryStore struct {
	mu          sync.Mutex
	invitations map[string]*model.Invitation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{invitations: make(map[string]*model.Invitation)}
}

func (s *MemoryStore) Put(_ context.Context, inv *model.Invitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invitations[inv.ID] = inv
	return nil
}

func (s *MemoryStore) Take(_ context.Context, id string, joinKey []byte, now time.Time) (*model.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invitations[id]
	if !ok || !keysEqual(inv.JoinKey, joinKey) || inv.Expired(now) {
		return nil, ErrInvitationInvalid
	}
	delete(s.invitations, id)
	return inv, nil
}

func (s *MemoryStore) Purge(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, inv := range s.invitations {
		if inv.Expired(now) {
			delete(s.invitations, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.invitations)
}

func keysEqual(stored, given []byte) bool {
	return subtle.ConstantTimeCompare(stored, given) == 1
}
