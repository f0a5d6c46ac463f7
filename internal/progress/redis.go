package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "sigma:progress:"

	// DefaultLiveTTL bounds how long a non-terminal state survives a crashed worker.
	DefaultLiveTTL = 24 * time.Hour
)

// setScript writes ARGV[1] with a PX of ARGV[2] unless the stored value is
// terminal. Returns 1 on write, 0 when refused.
var setScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
  local ok, st = pcall(cjson.decode, cur)
  if ok and type(st) == 'table' and (st.status == 'DONE' or st.status == 'ERROR') then
    return 0
  end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return 1
`)

// Connect initializes a Redis client from URL or host:port input.
func Connect(redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// RedisStore shares progress between processes through Redis. Values are JSON
// under sigma:progress:<key>.
type RedisStore struct {
	client      *redis.Client
	terminalTTL time.Duration
	liveTTL     time.Duration
}

func NewRedisStore(client *redis.Client, terminalTTL time.Duration) *RedisStore {
	if terminalTTL <= 0 {
		terminalTTL = DefaultTerminalTTL
	}
	return &RedisStore{
		client:      client,
		terminalTTL: terminalTTL,
		liveTTL:     DefaultLiveTTL,
	}
}

func (s *RedisStore) Set(ctx context.Context, key string, st State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}

	n, err := setScript.Run(ctx, s.client, []string{redisKeyPrefix + key}, data, s.ttlFor(st).Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("set progress: %w", err)
	}
	if n == 0 {
		return ErrTerminalState
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (State, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Pending(), nil
	}
	if err != nil {
		return State{}, fmt.Errorf("get progress: %w", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("decode progress: %w", err)
	}
	return st, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("delete progress: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) ttlFor(st State) time.Duration {
	if st.Status.Terminal() {
		return s.terminalTTL
	}
	return s.liveTTL
}
