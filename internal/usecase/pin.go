package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/DesignerDev23/MiiMii-sub000/internal/config"
	xerrors "github.com/DesignerDev23/MiiMii-sub000/internal/pkg/xerrors"
	"github.com/DesignerDev23/MiiMii-sub000/internal/repository"
)

// PinService verifies transaction PINs and enforces the lockout window.
// Attempt counters live in redis so a restart does not reset them.
type PinService struct {
	pins   repository.PinRepository
	rdb    *redis.Client
	policy config.PinPolicy
}

func NewPinService(pins repository.PinRepository, rdb *redis.Client, policy config.PinPolicy) *PinService {
	return &PinService{pins: pins, rdb: rdb, policy: policy}
}

func attemptsKey(userID string) string { return "pin:attempts:" + userID }

func (s *PinService) Set(ctx context.Context, userID, pin string) error {
	if len(pin) != 4 {
		return fmt.Errorf("pin must be 4 digits: %w", xerrors.ErrInvalidPin)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash pin: %w", err)
	}
	return s.pins.SetHash(ctx, userID, string(hash))
}

// Verify checks the PIN. After MaxAttempts consecutive failures the user
// is locked for LockoutMinutes; successful verification clears the counter.
func (s *PinService) Verify(ctx context.Context, userID, pin string) error {
	attempts, err := s.rdb.Get(ctx, attemptsKey(userID)).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("read pin attempts: %w", err)
	}
	if attempts >= s.policy.MaxAttempts {
		return xerrors.ErrPinLocked
	}

	hash, err := s.pins.GetHash(ctx, userID)
	if err != nil {
		return err
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)) != nil {
		lockout := time.Duration(s.policy.LockoutMinutes) * time.Minute
		pipe := s.rdb.TxPipeline()
		pipe.Incr(ctx, attemptsKey(userID))
		pipe.Expire(ctx, attemptsKey(userID), lockout)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("record pin failure: %w", err)
		}
		if attempts+1 >= s.policy.MaxAttempts {
			return xerrors.ErrPinLocked
		}
		return xerrors.ErrInvalidPin
	}

	s.rdb.Del(ctx, attemptsKey(userID))
	return nil
}
