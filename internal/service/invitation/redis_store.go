package invitation

import (
	"context"
	"errors"
	"fmt"
	"group_chat/internal/cryptographic/keywrap"
	"group_chat/internal/model"
	"group_chat/internal/service/redis"
	"group_chat/internal/utils/log"
	"time"

	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"
)

const (
	keyPrefix = "invitation:"

	// evictionGrace keeps a record in redis a little past its ttl so the
	// expiry check, not eviction, decides the boundary.
	evictionGrace = time.Minute
)

var recordMode cbor.EncMode

func init() {
	var err error
	recordMode, err = cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic("invitation: CBOR encoder initialization failed: " + err.Error())
	}
}

// RedisStore keeps invitations in redis, sealed with a key-wrap transform
// bound to the invitation id. Redis ttl evicts expired entries.
type RedisStore struct {
	rdb  *redis.RedisService
	wrap *keywrap.Wrapper
}

func NewRedisStore(rdb *redis.RedisService, wrap *keywrap.Wrapper) *RedisStore {
	return &RedisStore{rdb: rdb, wrap: wrap}
}

func (s *RedisStore) Put(ctx context.Context, inv *model.Invitation) error {
	plain, err := recordMode.Marshal(inv)
	if err != nil {
		return fmt.Errorf("encode invitation: %w", err)
	}
	sealed, err := s.wrap.Wrap(plain, []byte(inv.ID))
	if err != nil {
		return fmt.Errorf("wrap invitation: %w", err)
	}
	if err := s.rdb.Set(ctx, keyPrefix+inv.ID, sealed, inv.TTL+evictionGrace); err != nil {
		return fmt.Errorf("store invitation: %w", err)
	}
	return nil
}

func (s *RedisStore) Take(ctx context.Context, id string, joinKey []byte, now time.Time) (*model.Invitation, error) {
	var found *model.Invitation
	_, deleted, err := s.rdb.CompareAndDelete(ctx, keyPrefix+id, func(sealed []byte) bool {
		inv, err := s.open(id, sealed)
		if err != nil {
			log.Warn("unreadable invitation record", zap.String("invitation", id), zap.Error(err))
			return false
		}
		if !keysEqual(inv.JoinKey, joinKey) || inv.Expired(now) {
			return false
		}
		found = inv
		return true
	})
	if errors.Is(err, redis.ErrNotFound) {
		return nil, ErrInvitationInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("take invitation: %w", err)
	}
	if !deleted {
		return nil, ErrInvitationInvalid
	}
	return found, nil
}

// Purge is a no-op; redis evicts on ttl.
func (s *RedisStore) Purge(context.Context, time.Time) (int, error) {
	return 0, nil
}

func (s *RedisStore) open(id string, sealed []byte) (*model.Invitation, error) {
	plain, err := s.wrap.Unwrap(sealed, []byte(id))
	if err != nil {
		return nil, err
	}
	var inv model.Invitation
	if err := cbor.Unmarshal(plain, &inv); err != nil {
		return nil, fmt.Errorf("decode invitation: %w", err)
	}
	return &inv, nil
}
