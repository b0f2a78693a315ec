package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

var ErrLockHeld = errors.New("lock is held by another owner")

// releaseScript deletes the key only while it still carries our token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out short-lived exclusive locks backed by SET NX.
type Locker struct {
	adapter RedisAdapter
	prefix  string
}

func NewLocker(adapter RedisAdapter, prefix string) *Locker {
	return &Locker{adapter: adapter, prefix: prefix}
}

// Acquire takes the named lock for ttl. The returned func releases it and is
// safe to call after the lock expired.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	key := l.prefix + name
	token := uuid.NewString()

	ok, err := l.adapter.SetNX(ctx, key, []byte(token), ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}

	return func() {
		_, _ = l.adapter.Eval(context.Background(), releaseScript, []string{key}, token)
	}, nil
}
