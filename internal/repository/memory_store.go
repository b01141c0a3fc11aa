package repository

import (
	"context"
	"fmt"
	"log"
	"path"
	"strconv"
	"strings"
	"sync"
	"tariff-auth/internal/ports"
	"time"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// ErrStoreFull : места нет, а вытеснять можно только записи безопасности
var ErrStoreFull = fmt.Errorf("%w: хранилище в памяти заполнено", ports.ErrStoreUnavailable)

// protectedPrefixes : черный список и блокировки. Такие записи живут до своего
// TTL, иначе отозванный токен или заблокированная учетная запись снова пройдут.
var protectedPrefixes = []string{"blacklisted_", "user_lockout"}

func protected(key string) bool {
	for _, prefix := range protectedPrefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

// MemoryStore : KeyValueStore в памяти процесса для одного инстанса и тестов.
// Размер ограничен maxEntries: при переполнении сначала выкидываются истекшие
// записи, затем счетчик с ближайшим сроком истечения. Записи черного списка и
// блокировок не вытесняются никогда, если места под них нет, запись отклоняется
// с ErrStoreFull.
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]memoryEntry
	maxEntries int
	now        func() time.Time

	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
}

func NewMemoryStore(maxEntries int) *MemoryStore {
	return &MemoryStore{
		entries:    make(map[string]memoryEntry),
		maxEntries: maxEntries,
		now:        time.Now,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// WithClock подменяет источник времени (нужно тестам)
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

// StartJanitor запускает фоновую очистку истекших записей. Останавливается через Close.
func (s *MemoryStore) StartJanitor(interval time.Duration) {
	s.startOnce.Do(func() {
		go func() {
			defer close(s.done)

			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			for {
				select {
				case <-ticker.C:
					if removed := s.purgeExpired(); removed > 0 {
						log.Printf("[MemoryStore] удалено истекших записей: %d", removed)
					}
				case <-s.stop:
					return
				}
			}
		}()
	})
}

func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		started := true
		s.startOnce.Do(func() { started = false })
		if started {
			<-s.done
		}
	})
	return nil
}

// Len : количество записей, включая еще не вычищенные истекшие
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) IncrementWithExpiry(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if err := ctxErr(ctx, "INCR", key); err != nil {
		return 0, 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, ok := s.live(key, now)
	if !ok {
		if err := s.put(key, memoryEntry{value: "1", expiresAt: now.Add(window)}, now); err != nil {
			return 0, 0, err
		}
		return 1, window, nil
	}

	count, err := strconv.ParseInt(entry.value, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %s", ports.ErrCorruptedValue, key)
	}
	count++

	entry.value = strconv.FormatInt(count, 10)
	if entry.expiresAt.IsZero() {
		entry.expiresAt = now.Add(window)
	}
	s.entries[key] = entry

	return count, entry.expiresAt.Sub(now), nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctxErr(ctx, "GET", key); err != nil {
		return "", false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.live(key, s.now())
	if !ok {
		return "", false, nil
	}
	return entry.value, true, nil
}

func (s *MemoryStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("ключ %s: TTL должен быть больше нуля", key)
	}
	if err := ctxErr(ctx, "SET", key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	return s.put(key, memoryEntry{value: value, expiresAt: now.Add(ttl)}, now)
}

func (s *MemoryStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, fmt.Errorf("ключ %s: TTL должен быть больше нуля", key)
	}
	if err := ctxErr(ctx, "SETNX", key); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if entry, ok := s.entries[key]; ok && !entry.expired(now) {
		return false, nil
	}
	if err := s.put(key, memoryEntry{value: value, expiresAt: now.Add(ttl)}, now); err != nil {
		return false, err
	}
	return true, nil
}

func (s *MemoryStore) Delete(ctx context.Context, keys ...string) error {
	if err := ctxErr(ctx, "DEL", ""); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.entries, key)
	}
	return nil
}

func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctxErr(ctx, "EXISTS", key); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.live(key, s.now())
	return ok, nil
}

func (s *MemoryStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	if err := ctxErr(ctx, "TTL", key); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, ok := s.live(key, now)
	if !ok || entry.expiresAt.IsZero() {
		return 0, nil
	}
	return entry.expiresAt.Sub(now), nil
}

func (s *MemoryStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	if err := ctxErr(ctx, "SCAN", pattern); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var keys []string
	for key, entry := range s.entries {
		if entry.expired(now) {
			continue
		}
		matched, err := path.Match(pattern, key)
		if err != nil {
			return nil, fmt.Errorf("неверный шаблон %q: %w", pattern, err)
		}
		if matched {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// live : запись, если она есть и не истекла. Истекшая удаляется сразу.
func (s *MemoryStore) live(key string, now time.Time) (memoryEntry, bool) {
	entry, ok := s.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if entry.expired(now) {
		delete(s.entries, key)
		return memoryEntry{}, false
	}
	return entry, true
}

func (s *MemoryStore) put(key string, entry memoryEntry, now time.Time) error {
	if _, exists := s.entries[key]; !exists && s.maxEntries > 0 && len(s.entries) >= s.maxEntries {
		if !s.evict(now) {
			log.Printf("[MemoryStore] переполнено (%d записей), ключ %s не записан", len(s.entries), key)
			return fmt.Errorf("%w: %s", ErrStoreFull, key)
		}
	}
	s.entries[key] = entry
	return nil
}

// evict освобождает одно место. false, если остались только записи безопасности.
func (s *MemoryStore) evict(now time.Time) bool {
	for key, entry := range s.entries {
		if entry.expired(now) {
			delete(s.entries, key)
		}
	}
	if len(s.entries) < s.maxEntries {
		return true
	}

	var (
		victim  string
		nearest time.Time
	)
	for key, entry := range s.entries {
		if protected(key) || entry.expiresAt.IsZero() {
			continue
		}
		if victim == "" || entry.expiresAt.Before(nearest) {
			victim, nearest = key, entry.expiresAt
		}
	}
	if victim == "" {
		return false
	}

	delete(s.entries, victim)
	return true
}

func (s *MemoryStore) purgeExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, entry := range s.entries {
		if entry.expired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

func ctxErr(ctx context.Context, op, key string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %s %s: %w", ports.ErrStoreUnavailable, op, key, err)
	}
	return nil
}
