package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"tariff-auth/config"
	"tariff-auth/internal/ports"
	"time"

	"github.com/redis/go-redis/v9"
)

const scanBatchSize = 100

// RedisStore : KeyValueStore поверх Redis. Каждая операция ограничена по времени,
// таймаут отдается как ports.ErrStoreUnavailable.
type RedisStore struct {
	client  *config.RedisClient
	timeout time.Duration
}

func NewRedisStore(rdb *config.RedisClient, timeout time.Duration) *RedisStore {
	if timeout <= 0 {
		timeout = config.DefaultStoreTimeout
	}
	return &RedisStore{client: rdb, timeout: timeout}
}

// IncrementWithExpiry : INCR, затем EXPIRE только для первого инкремента в окне.
// Если ключ остался без TTL (упали между INCR и EXPIRE), TTL выставляется заново.
func (s *RedisStore) IncrementWithExpiry(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	count, err := s.client.Client.Incr(ctx, key).Result()
	if err != nil {
		if isNotInteger(err) {
			return 0, 0, fmt.Errorf("%w: %s", ports.ErrCorruptedValue, key)
		}
		return 0, 0, s.unavailable("INCR", key, err)
	}

	if count == 1 {
		if err := s.client.Client.Expire(ctx, key, window).Err(); err != nil {
			return count, window, s.unavailable("EXPIRE", key, err)
		}
		return count, window, nil
	}

	ttl, err := s.client.Client.TTL(ctx, key).Result()
	if err != nil {
		return count, 0, s.unavailable("TTL", key, err)
	}
	if ttl < 0 {
		if err := s.client.Client.Expire(ctx, key, window).Err(); err != nil {
			return count, window, s.unavailable("EXPIRE", key, err)
		}
		ttl = window
	}

	return count, ttl, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	val, err := s.client.Client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	} else if err != nil {
		return "", false, s.unavailable("GET", key, err)
	}
	return val, true, nil
}

func (s *RedisStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("ключ %s: TTL должен быть больше нуля", key)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := s.client.Client.Set(ctx, key, value, ttl)
	if err := cmd.Err(); err != nil {
		return s.unavailable("SET", key, err)
	}
	if cmd.Val() != "OK" {
		return fmt.Errorf("%w: неожиданный ответ Redis: %s", ports.ErrStoreUnavailable, cmd.Val())
	}
	return nil
}

func (s *RedisStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, fmt.Errorf("ключ %s: TTL должен быть больше нуля", key)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	stored, err := s.client.Client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, s.unavailable("SETNX", key, err)
	}
	return stored, nil
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Client.Del(ctx, keys...).Err(); err != nil {
		return s.unavailable("DEL", strings.Join(keys, ","), err)
	}
	return nil
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.client.Client.Exists(ctx, key).Result()
	if err != nil {
		return false, s.unavailable("EXISTS", key, err)
	}
	return n > 0, nil
}

func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ttl, err := s.client.Client.TTL(ctx, key).Result()
	if err != nil {
		return 0, s.unavailable("TTL", key, err)
	}
	// -1 : без срока жизни, -2 : ключа нет
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// Keys : SCAN по шаблону, KEYS не используем, чтобы не блокировать Redis
func (s *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := s.client.Client.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			return nil, s.unavailable("SCAN", pattern, err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

func (s *RedisStore) unavailable(op, key string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ports.ErrStoreUnavailable, op, key, err)
}

func isNotInteger(err error) bool {
	return strings.Contains(err.Error(), "not an integer")
}
