package invitation

import (
	"context"
	"errors"
	"fmt"
	"group_chat/internal/model"
	"group_chat/internal/utils/log"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrInvitationInvalid covers unknown id, wrong key and expiry alike.
	ErrInvitationInvalid = errors.New("invitation is invalid or expired")
	ErrNotMember         = errors.New("creator is not a member of the chat")
	ErrInvalidTTL        = errors.New("invitation ttl out of range")
	ErrEmptyJoinKey      = errors.New("join key is empty")
)

const (
	defaultSweepInterval = time.Minute
	defaultMaxTTL        = 24 * time.Hour
)

type (
	Members interface {
		IsMember(ctx context.Context, userID, chatID string) (bool, error)
		AddMember(ctx context.Context, chatID, userID string) error
	}

	Service struct {
		store         Store
		members       Members
		now           func() time.Time
		maxTTL        time.Duration
		sweepInterval time.Duration
	}

	Option func(*Service)
)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithMaxTTL(d time.Duration) Option {
	return func(s *Service) { s.maxTTL = d }
}

func WithSweepInterval(d time.Duration) Option {
	return func(s *Service) { s.sweepInterval = d }
}

func NewService(store Store, members Members, opts ...Option) *Service {
	s := &Service{
		store:         store,
		members:       members,
		now:           time.Now,
		maxTTL:        defaultMaxTTL,
		sweepInterval: defaultSweepInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create issues an invitation to chatID on behalf of creatorID, who must
// already be a member.
func (s *Service) Create(ctx context.Context, creatorID string, joinKey []byte, chatID string, ttl time.Duration, keyMaterial []byte) (*model.Invitation, error) {
	if len(joinKey) == 0 {
		return nil, ErrEmptyJoinKey
	}
	if ttl <= 0 || ttl > s.maxTTL {
		return nil, ErrInvalidTTL
	}

	ok, err := s.members.IsMember(ctx, creatorID, chatID)
	if err != nil {
		return nil, fmt.Errorf("check membership: %w", err)
	}
	if !ok {
		return nil, ErrNotMember
	}

	inv := &model.Invitation{
		ID:          uuid.NewString(),
		ChatID:      chatID,
		CreatedBy:   creatorID,
		JoinKey:     joinKey,
		KeyMaterial: keyMaterial,
		CreatedAt:   s.now(),
		TTL:         ttl,
	}
	if err := s.store.Put(ctx, inv); err != nil {
		return nil, err
	}

	log.Info("invitation created", zap.String("invitation", inv.ID), zap.String("chat", chatID), zap.Duration("ttl", ttl))
	return inv, nil
}

// Redeem consumes the invitation and adds userID to its chat. If the
// membership update fails the invitation is put back.
func (s *Service) Redeem(ctx context.Context, userID, id string, joinKey []byte) (*model.Invitation, error) {
	inv, err := s.store.Take(ctx, id, joinKey, s.now())
	if err != nil {
		return nil, err
	}

	if err := s.members.AddMember(ctx, inv.ChatID, userID); err != nil {
		if perr := s.store.Put(ctx, inv); perr != nil {
			log.Error("restore invitation", zap.String("invitation", id), zap.Error(perr))
		}
		return nil, fmt.Errorf("add member: %w", err)
	}

	log.Info("invitation redeemed", zap.String("invitation", id), zap.String("chat", inv.ChatID), zap.String("identity", userID))
	return inv, nil
}

// Run purges expired invitations every sweep interval until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.store.Purge(ctx, s.now())
			if err != nil {
				log.Warn("invitation sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Debug("expired invitations purged", zap.Int("count", n))
			}
		}
	}
}
