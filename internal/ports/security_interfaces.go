package ports

import (
	"context"
	"tariff-auth/internal/model"
	"tariff-auth/internal/security"
	"time"
)

type RevocationStore interface {
	Revoke(ctx context.Context, entry model.RevocationEntry) error
	// Consume атомарно отзывает токен. false, если он уже был отозван.
	Consume(ctx context.Context, entry model.RevocationEntry) (bool, error)
	RevokeToken(ctx context.Context, claims *security.Claims, reason string) error
	IsRevoked(ctx context.Context, tokenID string) bool
	IsRevokedForUser(ctx context.Context, userID string, issuedAt time.Time) bool
	Get(ctx context.Context, tokenID string) (*model.RevocationEntry, error)
	ListByUser(ctx context.Context, userID string) ([]model.RevocationEntry, error)
	CountByUser(ctx context.Context, userID string) (int, error)
	ListByType(ctx context.Context, tokenType model.TokenType) ([]model.RevocationEntry, error)
	ListByReason(ctx context.Context, reason string) ([]model.RevocationEntry, error)
	PurgeForUser(ctx context.Context, userID, actorID, reason string) error
	Stats(ctx context.Context) (model.RevocationStats, error)
}

type RateLimiter interface {
	CheckAndConsume(ctx context.Context, key string, limit int, window time.Duration) model.RateLimitStatus
	CheckScope(ctx context.Context, scope model.RateLimitScope, identity string) model.RateLimitStatus
	Peek(ctx context.Context, key string, limit int) model.RateLimitStatus
	Reset(ctx context.Context, key string) error
}

// RateLimitInspector : просмотр и сброс лимитов администратором
type RateLimitInspector interface {
	StatusForIP(ctx context.Context, ip string) model.IPRateLimitStatus
	ClearIP(ctx context.Context, ip string) error
	IsSuspicious(ctx context.Context, ip string) bool
}

type LockoutTracker interface {
	RecordFailure(ctx context.Context, userID string) (*model.LockoutState, error)
	RecordSuccess(ctx context.Context, userID string) error
	IsLocked(ctx context.Context, userID string) (bool, *time.Time)
	Unlock(ctx context.Context, userID, adminID, reason string) error
	State(ctx context.Context, userID string) (*model.LockoutState, error)
}

// AuditNotifier : доставка событий аудита (лог, NATS)
type AuditNotifier interface {
	Notify(ctx context.Context, event model.AuditEvent) error
}
