package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/examportal/trustcore/shared/domain"
	"github.com/redis/go-redis/v9"
)

// rotateScript deletes KEYS[1] and sets KEYS[2] only if KEYS[1] existed and KEYS[2]
// did not. With a positive grace (ARGV[3]) it leaves KEYS[3] as an alias holding the
// new id (ARGV[4]).
var rotateScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[2]) == 1 then
  return -1
end
if redis.call("DEL", KEYS[1]) == 0 then
  if redis.call("EXISTS", KEYS[3]) == 1 then
    return -2
  end
  return 0
end
redis.call("SET", KEYS[2], ARGV[1], "PX", ARGV[2])
if tonumber(ARGV[3]) > 0 then
  redis.call("SET", KEYS[3], ARGV[4], "PX", ARGV[3])
end
return 1
`)

// RedisStore shares sessions between API instances. Values are JSON; the key TTL
// slides with every write.
type RedisStore struct {
	Client *redis.Client
	TTL    time.Duration
	Prefix string
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisStore{
		Client: client,
		TTL:    ttl,
		Prefix: "sess:",
	}
}

func (r *RedisStore) key(id string) string {
	return r.Prefix + id
}

func (r *RedisStore) aliasKey(id string) string {
	return r.Prefix + "alias:" + id
}

func (r *RedisStore) Get(ctx context.Context, id string) (domain.Session, error) {
	raw, err := r.Client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		target, aerr := r.Client.Get(ctx, r.aliasKey(id)).Result()
		if errors.Is(aerr, redis.Nil) {
			return domain.Session{}, ErrNotFound
		}
		if aerr != nil {
			return domain.Session{}, fmt.Errorf("failed to get session alias: %w", aerr)
		}
		raw, err = r.Client.Get(ctx, r.key(target)).Bytes()
	}
	if errors.Is(err, redis.Nil) {
		return domain.Session{}, ErrNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("failed to get session: %w", err)
	}
	var s domain.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return domain.Session{}, fmt.Errorf("failed to decode session: %w", err)
	}
	return s, nil
}

func (r *RedisStore) Create(ctx context.Context, s domain.Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	ok, err := r.Client.SetNX(ctx, r.key(s.Id), raw, r.TTL).Result()
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	if !ok {
		return ErrExists
	}
	return nil
}

func (r *RedisStore) Update(ctx context.Context, s domain.Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	ok, err := r.Client.SetXX(ctx, r.key(s.Id), raw, r.TTL).Result()
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if err := r.Client.Del(ctx, r.key(id), r.aliasKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (r *RedisStore) Rotate(ctx context.Context, oldID string, s domain.Session, grace time.Duration) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	keys := []string{r.key(oldID), r.key(s.Id), r.aliasKey(oldID)}
	res, err := rotateScript.Run(ctx, r.Client, keys, raw, r.TTL.Milliseconds(), grace.Milliseconds(), s.Id).Int()
	if err != nil {
		return fmt.Errorf("failed to rotate session: %w", err)
	}
	switch res {
	case 0:
		return ErrNotFound
	case -1:
		return ErrExists
	case -2:
		return ErrRotated
	}
	return nil
}
