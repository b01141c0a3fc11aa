package ports

import (
	"context"
	"tariff-auth/internal/model"
	"time"
)

// UserRepository : учетные записи (таблица users основного приложения)
type UserRepository interface {
	FindByUUID(ctx context.Context, uuid string) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
}

// LockoutRepository : долговременная половина состояния блокировки (колонки users)
type LockoutRepository interface {
	GetLockoutState(ctx context.Context, userID string) (*model.LockoutState, error)
	IncrementFailedAttempts(ctx context.Context, userID string, at time.Time) (int, error)
	SetFailedAttempts(ctx context.Context, userID string, attempts int) error
	SetLockedUntil(ctx context.Context, userID string, until *time.Time) error
	// ResetLockout обнуляет счетчик и снимает блокировку одной командой
	ResetLockout(ctx context.Context, userID string) error
}
