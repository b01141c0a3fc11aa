package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"tariff-auth/config"
	"tariff-auth/internal/metrics"
	"tariff-auth/internal/model"
	"tariff-auth/internal/ports"
	"time"
)

const (
	lockoutKeyPrefix  = "user_lockout:"
	attemptsKeyPrefix = "user_lockout_attempts:"

	lockoutComponent = "Lockout"
)

// LockoutPolicy : порог и прогрессия длительности блокировки
type LockoutPolicy struct {
	Threshold  int
	Base       time.Duration
	Multiplier float64
	Max        time.Duration
}

func NewLockoutPolicy(cfg config.LockoutConfig) LockoutPolicy {
	return LockoutPolicy{
		Threshold:  cfg.MaxAttempts,
		Base:       cfg.Base(),
		Multiplier: cfg.Multiplier,
		Max:        cfg.Max(),
	}
}

// Duration : min(Max, Base * Multiplier^(failed - Threshold)), 0 ниже порога
func (p LockoutPolicy) Duration(failed int) time.Duration {
	if failed < p.Threshold {
		return 0
	}

	d := float64(p.Base) * math.Pow(p.Multiplier, float64(failed-p.Threshold))
	if math.IsInf(d, 0) || math.IsNaN(d) || d >= float64(p.Max) {
		return p.Max
	}
	return time.Duration(d)
}

// LockoutService : блокировка учетной записи после серии неудачных входов.
//
// Состояние хранится в двух местах: колонки users (долговременно) и ключи
// в KV хранилище (быстрая проверка, видна всем инстансам сразу). Блокировка
// считается примененной, если удалась хотя бы одна из двух записей.
type LockoutService struct {
	repo     ports.LockoutRepository
	cache    ports.KeyValueStore
	notifier ports.AuditNotifier
	metrics  *metrics.Metrics
	policy   LockoutPolicy
	enabled  bool
	now      func() time.Time
}

func NewLockoutService(
	repo ports.LockoutRepository,
	cache ports.KeyValueStore,
	notifier ports.AuditNotifier,
	m *metrics.Metrics,
	cfg config.LockoutConfig,
) *LockoutService {
	return &LockoutService{
		repo:     repo,
		cache:    cache,
		notifier: notifier,
		metrics:  m,
		policy:   NewLockoutPolicy(cfg),
		enabled:  cfg.IsEnabled(),
		now:      time.Now,
	}
}

// WithClock подменяет источник времени (нужно тестам)
func (s *LockoutService) WithClock(now func() time.Time) *LockoutService {
	s.now = now
	return s
}

func (s *LockoutService) Policy() LockoutPolicy {
	return s.policy
}

// RecordFailure учитывает неудачный вход и при достижении порога блокирует учетную запись.
//
// Счетчик берется из БД (атомарный UPDATE ... RETURNING). Если БД недоступна,
// используется счетчик в кэше, чтобы атакующий не получил бесконечные попытки.
// Счетчик не сбрасывается при пассивном истечении блокировки, поэтому после нее
// первая же ошибка блокирует снова и на больший срок.
func (s *LockoutService) RecordFailure(ctx context.Context, userID string) (*model.LockoutState, error) {
	now := s.now()

	attempts, dbErr := s.repo.IncrementFailedAttempts(ctx, userID, now)
	cacheCount, _, cacheErr := s.cache.IncrementWithExpiry(ctx, attemptsKeyPrefix+userID, s.policy.Max)

	switch {
	case dbErr != nil && cacheErr != nil:
		securityDegraded(s.metrics, lockoutComponent, "неудачный вход "+userID+" не учтен", errors.Join(dbErr, cacheErr))
		return nil, fmt.Errorf("[Lockout] не удалось учесть неудачный вход: %w", errors.Join(dbErr, cacheErr))
	case dbErr != nil:
		log.Printf("[Lockout] БД недоступна, используется счетчик из кэша для %s: %v", userID, dbErr)
		attempts = int(cacheCount)
	case cacheErr != nil:
		log.Printf("[Lockout] не удалось обновить счетчик в кэше для %s: %v", userID, cacheErr)
	case int(cacheCount) > attempts:
		// попытки, пропущенные БД во время недоступности, переносятся из кэша
		if err := s.repo.SetFailedAttempts(ctx, userID, int(cacheCount)); err != nil {
			log.Printf("[Lockout] не удалось синхронизировать счетчик %s с кэшем: %v", userID, err)
		}
		attempts = int(cacheCount)
	}

	state := &model.LockoutState{
		UserID:         userID,
		FailedAttempts: attempts,
		LastFailureAt:  &now,
	}
	if !s.enabled || attempts < s.policy.Threshold {
		return state, nil
	}

	duration := s.policy.Duration(attempts)
	until := now.Add(duration)
	state.LockedUntil = &until

	if err := s.applyLock(ctx, userID, until, duration); err != nil {
		return state, err
	}

	log.Printf("[Lockout] учетная запись %s заблокирована до %s (попыток: %d)",
		userID, until.UTC().Format(time.RFC3339), attempts)
	s.metrics.AccountLockouts.Inc()
	s.audit(ctx, model.AuditEvent{
		Action:     model.AuditAccountLocked,
		UserID:     userID,
		Reason:     "превышено число неудачных попыток входа",
		OccurredAt: now.UTC(),
		Details: map[string]string{
			"failedAttempts": strconv.Itoa(attempts),
			"lockedUntil":    until.UTC().Format(time.RFC3339),
			"duration":       duration.String(),
		},
	})
	return state, nil
}

// applyLock : сначала кэш (блокировка сразу видна всем инстансам), затем БД
func (s *LockoutService) applyLock(ctx context.Context, userID string, until time.Time, duration time.Duration) error {
	cacheErr := s.cache.SetWithTTL(ctx, lockoutKeyPrefix+userID, strconv.FormatInt(until.Unix(), 10), duration)
	dbErr := s.repo.SetLockedUntil(ctx, userID, &until)

	switch {
	case cacheErr != nil && dbErr != nil:
		securityDegraded(s.metrics, lockoutComponent, "блокировка "+userID+" не применена", errors.Join(cacheErr, dbErr))
		return fmt.Errorf("[Lockout] не удалось заблокировать учетную запись: %w", errors.Join(cacheErr, dbErr))
	case cacheErr != nil:
		log.Printf("[Lockout] блокировка %s записана только в БД: %v", userID, cacheErr)
	case dbErr != nil:
		log.Printf("[Lockout] блокировка %s записана только в кэш, БД отстает: %v", userID, dbErr)
	}
	return nil
}

// RecordSuccess : успешный вход обнуляет счетчик и снимает блокировку в обоих хранилищах
func (s *LockoutService) RecordSuccess(ctx context.Context, userID string) error {
	if err := s.reset(ctx, userID); err != nil {
		return fmt.Errorf("[Lockout] не удалось сбросить счетчик после успешного входа: %w", err)
	}
	return nil
}

// IsLocked сначала смотрит в кэш. Если там пусто, проверяет БД: кэш мог
// истечь или не записаться, а блокировка в БД еще действует. Найденная
// в БД блокировка возвращается в кэш.
//
// Если недоступны оба хранилища, учетная запись считается незаблокированной.
func (s *LockoutService) IsLocked(ctx context.Context, userID string) (bool, *time.Time) {
	if !s.enabled {
		return false, nil
	}
	now := s.now()

	value, found, cacheErr := s.cache.Get(ctx, lockoutKeyPrefix+userID)
	if cacheErr == nil && found {
		if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
			until := time.Unix(seconds, 0)
			if now.Before(until) {
				return true, &until
			}
		}
	}

	state, dbErr := s.repo.GetLockoutState(ctx, userID)
	if dbErr != nil {
		if cacheErr != nil {
			securityDegraded(s.metrics, lockoutComponent, "проверка блокировки "+userID+" пропущена",
				errors.Join(cacheErr, dbErr))
		} else {
			log.Printf("[Lockout] БД недоступна, блокировка %s проверена только по кэшу: %v", userID, dbErr)
		}
		return false, nil
	}

	if !state.IsLockedAt(now) {
		return false, nil
	}

	until := *state.LockedUntil
	if cacheErr == nil {
		if err := s.cache.SetWithTTL(ctx, lockoutKeyPrefix+userID, strconv.FormatInt(until.Unix(), 10), until.Sub(now)); err != nil {
			log.Printf("[Lockout] не удалось вернуть блокировку %s в кэш: %v", userID, err)
		}
	}
	return true, &until
}

// Unlock : административное снятие блокировки, пишется в аудит
func (s *LockoutService) Unlock(ctx context.Context, userID, adminID, reason string) error {
	if err := s.reset(ctx, userID); err != nil {
		return fmt.Errorf("[Lockout] не удалось разблокировать %s: %w", userID, err)
	}

	log.Printf("[Lockout] учетная запись %s разблокирована администратором %s: %s", userID, adminID, reason)
	s.audit(ctx, model.AuditEvent{
		Action:     model.AuditAccountUnlocked,
		UserID:     userID,
		ActorID:    adminID,
		Reason:     reason,
		OccurredAt: s.now().UTC(),
	})
	return nil
}

// State : долговременное состояние для админки
func (s *LockoutService) State(ctx context.Context, userID string) (*model.LockoutState, error) {
	state, err := s.repo.GetLockoutState(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("[Lockout] не удалось получить состояние %s: %w", userID, err)
	}
	return state, nil
}

func (s *LockoutService) reset(ctx context.Context, userID string) error {
	cacheErr := s.cache.Delete(ctx, lockoutKeyPrefix+userID, attemptsKeyPrefix+userID)
	dbErr := s.repo.ResetLockout(ctx, userID)
	return errors.Join(cacheErr, dbErr)
}

func (s *LockoutService) audit(ctx context.Context, event model.AuditEvent) {
	if err := s.notifier.Notify(ctx, event); err != nil {
		log.Printf("[Lockout] не удалось отправить событие аудита %s: %v", event.Action, err)
	}
}
