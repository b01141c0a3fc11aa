package model

import "time"

// LockoutState : счетчик неудачных входов и состояние блокировки
type LockoutState struct {
	UserID         string     `db:"uuid" json:"userId"`
	FailedAttempts int        `db:"failed_login_attempts" json:"failedAttempts"`
	LockedUntil    *time.Time `db:"account_locked_until" json:"lockedUntil,omitempty"`
	LastFailureAt  *time.Time `db:"last_failed_login_at" json:"lastFailureAt,omitempty"`
}

// IsLockedAt : блокировка истекает пассивно, счетчик при этом не сбрасывается
func (s *LockoutState) IsLockedAt(now time.Time) bool {
	return s != nil && s.LockedUntil != nil && now.Before(*s.LockedUntil)
}
