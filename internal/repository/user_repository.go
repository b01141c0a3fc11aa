package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"tariff-auth/config"
	"tariff-auth/internal/model"
	"tariff-auth/internal/ports"
	"tariff-auth/internal/util"
	"time"

	"github.com/jmoiron/sqlx"
)

// UserRepository : чтение учетных записей и долговременная часть состояния
// блокировки (колонки failed_login_attempts, account_locked_until в users)
type UserRepository struct {
	*config.Database
	timeout time.Duration
}

func NewUserRepository(database *config.Database, timeout time.Duration) *UserRepository {
	if timeout <= 0 {
		timeout = config.DefaultQueryTimeout
	}
	return &UserRepository{database, timeout}
}

// FindByUUID : ищет пользователя по UUID
func (r *UserRepository) FindByUUID(ctx context.Context, uuid string) (*model.User, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT uuid, email, password_hash, role, created_at FROM users WHERE uuid = $1`
	var user model.User
	err := sqlx.GetContext(ctx, r.DB, &user, query, uuid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: пользователь %s", ports.ErrNotFound, uuid)
	} else if err != nil {
		return nil, util.LogError("[UserRepo] не удалось найти пользователя в БД", err)
	}
	return &user, nil
}

// FindByEmail : ищет пользователя по email
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT uuid, email, password_hash, role, created_at FROM users WHERE email = $1`
	var user model.User
	err := sqlx.GetContext(ctx, r.DB, &user, query, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: пользователь с email %s", ports.ErrNotFound, email)
	} else if err != nil {
		return nil, util.LogError("[UserRepo] не удалось найти пользователя по email", err)
	}
	return &user, nil
}

// GetLockoutState : счетчик неудачных входов и срок блокировки
func (r *UserRepository) GetLockoutState(ctx context.Context, userID string) (*model.LockoutState, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT uuid, failed_login_attempts, account_locked_until, last_failed_login_at
		FROM users
		WHERE uuid = $1
	`
	var state model.LockoutState
	err := sqlx.GetContext(ctx, r.DB, &state, query, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: пользователь %s", ports.ErrNotFound, userID)
	} else if err != nil {
		return nil, util.LogError("[UserRepo] не удалось получить состояние блокировки", err)
	}
	return &state, nil
}

// IncrementFailedAttempts : атомарный +1 на стороне БД, возвращает новое значение
func (r *UserRepository) IncrementFailedAttempts(ctx context.Context, userID string, at time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE users
		SET failed_login_attempts = failed_login_attempts + 1, last_failed_login_at = $2
		WHERE uuid = $1
		RETURNING failed_login_attempts
	`
	var attempts int
	err := r.DB.QueryRowxContext(ctx, query, userID, at).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: пользователь %s", ports.ErrNotFound, userID)
	} else if err != nil {
		return 0, util.LogError("[UserRepo] не удалось увеличить счетчик неудачных входов", err)
	}
	return attempts, nil
}

func (r *UserRepository) SetFailedAttempts(ctx context.Context, userID string, attempts int) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `UPDATE users SET failed_login_attempts = $2 WHERE uuid = $1`
	if _, err := r.DB.ExecContext(ctx, query, userID, attempts); err != nil {
		return util.LogError("[UserRepo] не удалось обновить счетчик неудачных входов", err)
	}
	return nil
}

// SetLockedUntil : nil снимает блокировку
func (r *UserRepository) SetLockedUntil(ctx context.Context, userID string, until *time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `UPDATE users SET account_locked_until = $2 WHERE uuid = $1`
	if _, err := r.DB.ExecContext(ctx, query, userID, until); err != nil {
		return util.LogError("[UserRepo] не удалось обновить срок блокировки", err)
	}
	return nil
}

func (r *UserRepository) ResetLockout(ctx context.Context, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE users
		SET failed_login_attempts = 0, account_locked_until = NULL
		WHERE uuid = $1
	`
	if _, err := r.DB.ExecContext(ctx, query, userID); err != nil {
		return util.LogError("[UserRepo] не удалось сбросить блокировку", err)
	}
	return nil
}
