package ports

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrStoreUnavailable : хранилище недоступно или не ответило за отведенное время.
	// Таймаут считается недоступностью, а не отсутствием ключа.
	ErrStoreUnavailable = errors.New("хранилище недоступно")
	// ErrCorruptedValue : по ключу лежит значение, которое нельзя разобрать как число
	ErrCorruptedValue = errors.New("поврежденное значение в хранилище")
)

// KeyValueStore : общее хранилище с TTL (Redis или память процесса)
type KeyValueStore interface {
	// IncrementWithExpiry атомарно увеличивает счетчик. Если это первый инкремент в окне,
	// ключу выставляется TTL = window. Возвращает новое значение и остаток окна.
	IncrementWithExpiry(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	Get(ctx context.Context, key string) (value string, found bool, err error)
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	// SetIfAbsent записывает ключ, только если его нет (SET NX). false - ключ уже был.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	// TTL возвращает 0, если ключа нет или у него нет срока жизни
	TTL(ctx context.Context, key string) (time.Duration, error)
	// Keys возвращает ключи по glob-шаблону (SCAN в Redis)
	Keys(ctx context.Context, pattern string) ([]string, error)
}

// ErrNotFound : запись в долговременном хранилище не найдена
var ErrNotFound = errors.New("запись не найдена")
