package checkout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Locker serialises checkouts of one user. The returned func releases the lock.
type Locker interface {
	Lock(ctx context.Context, userID string) (func(), error)
}

// MemoryLocker is a per-user lock for a single process.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*userLock
	wait  time.Duration
}

type userLock struct {
	ch   chan struct{}
	refs int
}

// NewMemoryLocker waits at most wait for a busy user before failing with ErrCheckoutInProgress.
func NewMemoryLocker(wait time.Duration) *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]*userLock), wait: wait}
}

func (l *MemoryLocker) Lock(ctx context.Context, userID string) (func(), error) {
	l.mu.Lock()
	ul, ok := l.locks[userID]
	if !ok {
		ul = &userLock{ch: make(chan struct{}, 1)}
		l.locks[userID] = ul
	}
	ul.refs++
	l.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	select {
	case ul.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-ul.ch
				l.release(userID, ul)
			})
		}, nil
	case <-waitCtx.Done():
		l.release(userID, ul)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, ErrCheckoutInProgress
	}
}

func (l *MemoryLocker) release(userID string, ul *userLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ul.refs--
	if ul.refs == 0 {
		delete(l.locks, userID)
	}
}

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

const lockRetryInterval = 25 * time.Millisecond

// RedisLocker is a per-user lock shared by every instance using the same Redis.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	logger *zap.Logger
}

// NewRedisLocker holds locks for at most ttl so a crashed holder cannot block a user forever.
func NewRedisLocker(client *redis.Client, ttl, wait time.Duration, logger *zap.Logger) *RedisLocker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLocker{client: client, ttl: ttl, wait: wait, logger: logger}
}

func lockKey(userID string) string {
	return fmt.Sprintf("checkout-lock:%s", userID)
}

func (l *RedisLocker) Lock(ctx context.Context, userID string) (func(), error) {
	key := lockKey(userID)
	token := uuid.NewString()

	waitCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	for {
		ok, err := l.client.SetNX(waitCtx, key, token, l.ttl).Result()
		if err != nil && waitCtx.Err() == nil {
			return nil, fmt.Errorf("acquire checkout lock: %w", err)
		}
		if ok {
			return func() { l.unlock(key, token) }, nil
		}

		select {
		case <-waitCtx.Done():
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, ErrCheckoutInProgress
		case <-time.After(lockRetryInterval):
		}
	}
}

// unlock deletes the key only while it still holds our token.
func (l *RedisLocker) unlock(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := unlockScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
		l.logger.Warn("checkout_unlock_failed", zap.String("key", key), zap.Error(err))
	}
}
