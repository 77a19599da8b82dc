// Package lock guards background cycles so only one process runs a given
// loop at a time.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/rueidis"
)

// Release gives a held lock back.
type Release func(ctx context.Context) error

// Locker takes named, expiring locks. ok is false when another holder has it.
type Locker interface {
	TryLock(ctx context.Context, name string) (release Release, ok bool, err error)
}

// Noop always grants the lock. Used when no Redis is configured.
type Noop struct{}

func (Noop) TryLock(context.Context, string) (Release, bool, error) {
	return func(context.Context) error { return nil }, true, nil
}

// releaseScript deletes the key only if it still carries our token, so an
// expired lock taken over by another process is left alone.
var releaseScript = rueidis.NewLuaScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis implements Locker with SET NX PX on a single Redis node.
type Redis struct {
	client rueidis.Client
	prefix string
	ttl    time.Duration
}

func NewRedis(client rueidis.Client, prefix string, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

// NewRedisClient connects to a single Redis address.
func NewRedisClient(addr string) (rueidis.Client, error) {
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  []string{addr},
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create redis client: %w", err)
	}
	return client, nil
}

func (r *Redis) TryLock(ctx context.Context, name string) (Release, bool, error) {
	key := r.prefix + name
	token := uuid.NewString()

	cmd := r.client.B().Set().Key(key).Value(token).Nx().PxMilliseconds(r.ttl.Milliseconds()).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("acquire lock %q: %w", key, err)
	}

	release := func(ctx context.Context) error {
		if err := releaseScript.Exec(ctx, r.client, []string{key}, []string{token}).Error(); err != nil {
			return fmt.Errorf("release lock %q: %w", key, err)
		}
		return nil
	}
	return release, true, nil
}
