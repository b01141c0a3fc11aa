package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"tariff-auth/internal/metrics"
	"tariff-auth/internal/model"
	"tariff-auth/internal/ports"
	"tariff-auth/internal/security"
	"tariff-auth/internal/util"
	"time"
)

const (
	revokedTokenPrefix = "blacklisted_tokens:"
	revokedUserPrefix  = "blacklisted_users:"

	revocationComponent = "Revocation"
)

// RevocationService : черный список токенов в KV хранилище. Записи живут
// ровно до истечения самого токена, поэтому чистить их не нужно.
type RevocationService struct {
	store        ports.KeyValueStore
	notifier     ports.AuditNotifier
	metrics      *metrics.Metrics
	watermarkTTL time.Duration
	now          func() time.Time
}

// NewRevocationService : watermarkTTL должен быть не меньше времени жизни
// самого долгоживущего токена (refresh), иначе отметка массового отзыва
// истечет раньше отозванных токенов.
func NewRevocationService(
	store ports.KeyValueStore,
	notifier ports.AuditNotifier,
	m *metrics.Metrics,
	watermarkTTL time.Duration,
) *RevocationService {
	return &RevocationService{
		store:        store,
		notifier:     notifier,
		metrics:      m,
		watermarkTTL: watermarkTTL,
		now:          time.Now,
	}
}

// WithClock подменяет источник времени (нужно тестам)
func (s *RevocationService) WithClock(now func() time.Time) *RevocationService {
	s.now = now
	return s
}

// Revoke : идемпотентная запись в черный список с TTL = entry.TTLSeconds.
// Повторный вызов перезаписывает причину и срок.
func (s *RevocationService) Revoke(ctx context.Context, entry model.RevocationEntry) error {
	data, ttl, err := s.prepare(&entry)
	if err != nil || ttl == 0 {
		return err
	}

	if err := s.store.SetWithTTL(ctx, revokedTokenPrefix+entry.TokenID, data, ttl); err != nil {
		securityDegraded(s.metrics, revocationComponent, "токен "+entry.TokenID+" не отозван", err)
		return util.LogError("[Revocation] не удалось отозвать токен", err)
	}
	s.metrics.Revoked(string(entry.TokenType))

	log.Printf("[Revocation] токен отозван: id=%s reason=%s user=%s type=%s",
		entry.TokenID, entry.Reason, entry.UserID, entry.TokenType)
	return nil
}

// Consume : атомарный отзыв (SET NX). false, если токен уже был отозван,
// из нескольких одновременных вызовов true получает только один.
func (s *RevocationService) Consume(ctx context.Context, entry model.RevocationEntry) (bool, error) {
	data, ttl, err := s.prepare(&entry)
	if err != nil {
		return false, err
	}
	if ttl == 0 {
		return false, nil
	}

	stored, err := s.store.SetIfAbsent(ctx, revokedTokenPrefix+entry.TokenID, data, ttl)
	if err != nil {
		securityDegraded(s.metrics, revocationComponent, "токен "+entry.TokenID+" не отозван", err)
		return false, util.LogError("[Revocation] не удалось отозвать токен", err)
	}
	if !stored {
		log.Printf("[Revocation] токен %s уже отозван", entry.TokenID)
		return false, nil
	}
	s.metrics.Revoked(string(entry.TokenType))

	log.Printf("[Revocation] токен использован: id=%s reason=%s user=%s type=%s",
		entry.TokenID, entry.Reason, entry.UserID, entry.TokenType)
	return true, nil
}

// prepare : сериализованная запись и ее TTL. ttl == 0 - токен уже истек.
func (s *RevocationService) prepare(entry *model.RevocationEntry) (string, time.Duration, error) {
	if entry.TokenID == "" {
		return "", 0, errors.New("[Revocation] не указан идентификатор токена")
	}
	if entry.TTLSeconds <= 0 {
		log.Printf("[Revocation] токен %s уже истек, запись не нужна", entry.TokenID)
		return "", 0, nil
	}
	if entry.RevokedAt.IsZero() {
		entry.RevokedAt = s.now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return "", 0, util.LogError("[Revocation] ошибка сериализации записи", err)
	}
	return string(data), time.Duration(entry.TTLSeconds) * time.Second, nil
}

// RevokeToken : отзыв по проверенным claims, TTL = оставшееся время жизни токена
func (s *RevocationService) RevokeToken(ctx context.Context, claims *security.Claims, reason string) error {
	if claims == nil {
		return errors.New("[Revocation] claims не переданы")
	}

	var remaining time.Duration
	if claims.ExpiresAt != nil {
		remaining = claims.ExpiresAt.Time.Sub(s.now())
	}

	return s.Revoke(ctx, model.RevocationEntry{
		TokenID:    claims.ID,
		TTLSeconds: ceilSeconds(remaining),
		Reason:     reason,
		UserID:     claims.UserID,
		TokenType:  claims.TokenType,
	})
}

// IsRevoked : проверка существования записи. При недоступном хранилище
// возвращает false и фиксирует деградацию безопасности.
func (s *RevocationService) IsRevoked(ctx context.Context, tokenID string) bool {
	exists, err := s.store.Exists(ctx, revokedTokenPrefix+tokenID)
	if err != nil {
		securityDegraded(s.metrics, revocationComponent, "проверка черного списка пропущена", err)
		return false
	}
	return exists
}

// IsRevokedForUser : токен выпущен не позже массового отзыва для пользователя.
// Отметка и время выпуска сравниваются с точностью до микросекунды, поэтому
// токены, выпущенные сразу после отзыва (смена пароля), действуют.
func (s *RevocationService) IsRevokedForUser(ctx context.Context, userID string, issuedAt time.Time) bool {
	if userID == "" {
		return false
	}

	value, found, err := s.store.Get(ctx, revokedUserPrefix+userID)
	if err != nil {
		securityDegraded(s.metrics, revocationComponent, "проверка массового отзыва пропущена", err)
		return false
	}
	if !found {
		return false
	}

	watermark, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		log.Printf("[Revocation] поврежденная отметка отзыва для %s: %q", userID, value)
		return false
	}

	return issuedAt.UnixMicro() <= watermark
}

func (s *RevocationService) Get(ctx context.Context, tokenID string) (*model.RevocationEntry, error) {
	value, found, err := s.store.Get(ctx, revokedTokenPrefix+tokenID)
	if err != nil {
		return nil, util.LogError("[Revocation] ошибка чтения записи", err)
	}
	if !found {
		return nil, fmt.Errorf("%w: токен %s не отозван", ports.ErrNotFound, tokenID)
	}

	var entry model.RevocationEntry
	if err := json.Unmarshal([]byte(value), &entry); err != nil {
		return nil, util.LogError("[Revocation] ошибка десериализации записи", err)
	}
	s.fillTTL(ctx, &entry)
	return &entry, nil
}

func (s *RevocationService) ListByUser(ctx context.Context, userID string) ([]model.RevocationEntry, error) {
	return s.list(ctx, func(e model.RevocationEntry) bool { return e.UserID == userID })
}

func (s *RevocationService) CountByUser(ctx context.Context, userID string) (int, error) {
	entries, err := s.ListByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

func (s *RevocationService) ListByType(ctx context.Context, tokenType model.TokenType) ([]model.RevocationEntry, error) {
	return s.list(ctx, func(e model.RevocationEntry) bool { return e.TokenType == tokenType })
}

func (s *RevocationService) ListByReason(ctx context.Context, reason string) ([]model.RevocationEntry, error) {
	return s.list(ctx, func(e model.RevocationEntry) bool { return strings.EqualFold(e.Reason, reason) })
}

// PurgeForUser : "выйти везде". Пишет отметку времени, после которой все ранее
// выпущенные токены пользователя считаются отозванными, не зная их jti.
func (s *RevocationService) PurgeForUser(ctx context.Context, userID, actorID, reason string) error {
	if userID == "" {
		return errors.New("[Revocation] не указан пользователь")
	}

	now := s.now()
	watermark := strconv.FormatInt(now.UnixMicro(), 10)
	if err := s.store.SetWithTTL(ctx, revokedUserPrefix+userID, watermark, s.watermarkTTL); err != nil {
		securityDegraded(s.metrics, revocationComponent, "токены пользователя "+userID+" не отозваны", err)
		return util.LogError("[Revocation] не удалось отозвать токены пользователя", err)
	}

	log.Printf("[Revocation] все токены пользователя %s отозваны: %s", userID, reason)

	event := model.AuditEvent{
		Action:     model.AuditTokensPurged,
		UserID:     userID,
		ActorID:    actorID,
		Reason:     reason,
		OccurredAt: now.UTC(),
	}
	if err := s.notifier.Notify(ctx, event); err != nil {
		log.Printf("[Revocation] не удалось отправить событие аудита: %v", err)
	}
	return nil
}

func (s *RevocationService) Stats(ctx context.Context) (model.RevocationStats, error) {
	var stats model.RevocationStats

	entries, err := s.list(ctx, func(model.RevocationEntry) bool { return true })
	if err != nil {
		return stats, err
	}

	for _, entry := range entries {
		stats.Total++
		switch entry.TokenType {
		case model.TokenTypeAccess:
			stats.Access++
		case model.TokenTypeRefresh:
			stats.Refresh++
		case model.TokenTypeCustom:
			stats.Custom++
		}
	}
	return stats, nil
}

// list : фильтрация на стороне сервиса по SCAN, без вторичных индексов.
// Записи, истекшие между SCAN и GET, пропускаются.
func (s *RevocationService) list(ctx context.Context, match func(model.RevocationEntry) bool) ([]model.RevocationEntry, error) {
	keys, err := s.store.Keys(ctx, revokedTokenPrefix+"*")
	if err != nil {
		return nil, util.LogError("[Revocation] ошибка получения списка записей", err)
	}

	entries := make([]model.RevocationEntry, 0, len(keys))
	for _, key := range keys {
		value, found, err := s.store.Get(ctx, key)
		if err != nil {
			return nil, util.LogError("[Revocation] ошибка чтения записи", err)
		}
		if !found {
			continue
		}

		var entry model.RevocationEntry
		if err := json.Unmarshal([]byte(value), &entry); err != nil {
			log.Printf("[Revocation] пропущена поврежденная запись %s: %v", key, err)
			continue
		}
		if match(entry) {
			entries = append(entries, entry)
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].RevokedAt.After(entries[j].RevokedAt)
	})
	return entries, nil
}

// fillTTL : в ответе TTLSeconds показывает остаток, а не исходный срок
func (s *RevocationService) fillTTL(ctx context.Context, entry *model.RevocationEntry) {
	ttl, err := s.store.TTL(ctx, revokedTokenPrefix+entry.TokenID)
	if err != nil || ttl <= 0 {
		return
	}
	entry.TTLSeconds = ceilSeconds(ttl)
}
