// Package redislock implements payroll.RunLock on Redis so that commits for
// the same month are serialized across server instances.
package redislock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/warp/payroll-engine/generic"
)

// DefaultTTL bounds how long a crashed holder can block a month.
const DefaultTTL = 5 * time.Minute

// releaseScript deletes the key only if it still holds our token.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

type Lock struct {
	client redis.Cmdable
	ttl    time.Duration

	NewToken func() string
}

func New(client redis.Cmdable, ttl time.Duration) *Lock {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Lock{client: client, ttl: ttl, NewToken: uuid.NewString}
}

// Acquire takes key with SET NX. A held key returns generic.ErrRunInProgress.
func (l *Lock) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	token := l.NewToken()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, generic.ErrRunInProgress)
	}

	var (
		once       sync.Once
		releaseErr error
	)
	return func(ctx context.Context) error {
		once.Do(func() {
			n, err := l.client.Eval(ctx, releaseScript, []string{key}, token).Int64()
			switch {
			case err != nil:
				releaseErr = fmt.Errorf("release run lock %s: %w", key, err)
			case n == 0:
				releaseErr = fmt.Errorf("run lock %s expired before release", key)
			}
		})
		return releaseErr
	}, nil
}
