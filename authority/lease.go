package authority

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"
)

var (
	ErrRoomClaimed = errors.New("room is claimed by another authority")
	ErrLeaseLost   = errors.New("lost the room claim")
)

const (
	LeaseTTL      = 8 * time.Second
	RenewInterval = 3 * time.Second
)

// Lease hands out exclusive claims on a name. It keeps a second authority from
// broadcasting into a room that already has one.
type Lease interface {
	Acquire(ctx context.Context, name string) (Claim, error)
}

type Claim interface {
	Extend(ctx context.Context) error
	Release(ctx context.Context) error
}

// NopLease grants every claim. With it, one authority per room code is a convention.
type NopLease struct{}

func (NopLease) Acquire(context.Context, string) (Claim, error) {
	return nopClaim{}, nil
}

type nopClaim struct{}

func (nopClaim) Extend(context.Context) error  { return nil }
func (nopClaim) Release(context.Context) error { return nil }

type RedisLease struct {
	rs     *redsync.Redsync
	expiry time.Duration
}

func NewRedisLease(rdb *redis.Client, expiry time.Duration) *RedisLease {
	pool := goredis.NewPool(rdb)
	return &RedisLease{rs: redsync.New(pool), expiry: expiry}
}

func (l *RedisLease) Acquire(ctx context.Context, name string) (Claim, error) {
	mutex := l.rs.NewMutex(name, redsync.WithExpiry(l.expiry), redsync.WithTries(1))
	if err := mutex.LockContext(ctx); err != nil {
		return nil, lockError(name, err)
	}
	return &redisClaim{name: name, mutex: mutex}, nil
}

// lockError reports a lock held elsewhere as ErrRoomClaimed. Anything else, such as an
// unreachable redis, is returned as is.
func lockError(name string, err error) error {
	var taken *redsync.ErrTaken
	if errors.As(err, &taken) || errors.Is(err, redsync.ErrFailed) {
		return fmt.Errorf("%w: %s: %v", ErrRoomClaimed, name, err)
	}
	return fmt.Errorf("error claiming %s: %w", name, err)
}

type redisClaim struct {
	name  string
	mutex *redsync.Mutex
}

func (c *redisClaim) Extend(ctx context.Context) error {
	ok, err := c.mutex.ExtendContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrLeaseLost, c.name, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrLeaseLost, c.name)
	}
	return nil
}

func (c *redisClaim) Release(ctx context.Context) error {
	ok, err := c.mutex.UnlockContext(ctx)
	return releaseError(c.name, ok, err)
}

func releaseError(name string, ok bool, err error) error {
	if err != nil {
		return fmt.Errorf("error releasing %s: %w", name, err)
	}
	if !ok {
		return fmt.Errorf("error releasing %s: claim already expired", name)
	}
	return nil
}
