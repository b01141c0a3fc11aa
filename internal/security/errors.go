package security

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrTokenMalformed        = errors.New("некорректный токен")
	ErrTokenSignatureInvalid = errors.New("неверная подпись токена")
	ErrTokenExpired          = errors.New("срок действия токена истек")
	ErrTokenUnsupported      = errors.New("неподдерживаемый токен")
	ErrTokenRevoked          = errors.New("токен отозван")
	ErrTokenTypeMismatch     = errors.New("неверный тип токена")

	ErrInvalidCredentials = errors.New("неверный логин или пароль")
	ErrRateLimited        = errors.New("слишком много запросов")
	ErrAccountLocked      = errors.New("учетная запись заблокирована")
)

// RateLimitedError : лимит исчерпан, RetryAfter: остаток окна
type RateLimitedError struct {
	Scope      string
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s: %s, повторить через %s", ErrRateLimited, e.Scope, e.RetryAfter)
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// AccountLockedError : учетная запись заблокирована до Until
type AccountLockedError struct {
	Until time.Time
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("%s до %s", ErrAccountLocked, e.Until.UTC().Format(time.RFC3339))
}

func (e *AccountLockedError) Is(target error) bool {
	return target == ErrAccountLocked
}

// IsTokenError : любая ошибка токена, которую клиент видит как 401
func IsTokenError(err error) bool {
	return errors.Is(err, ErrTokenMalformed) ||
		errors.Is(err, ErrTokenSignatureInvalid) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenUnsupported) ||
		errors.Is(err, ErrTokenRevoked) ||
		errors.Is(err, ErrTokenTypeMismatch)
}

// TokenErrorKind : короткое имя вида ошибки для логов и метрик
func TokenErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrTokenSignatureInvalid):
		return "signature_invalid"
	case errors.Is(err, ErrTokenRevoked):
		return "revoked"
	case errors.Is(err, ErrTokenTypeMismatch):
		return "type_mismatch"
	case errors.Is(err, ErrTokenUnsupported):
		return "unsupported"
	case errors.Is(err, ErrTokenMalformed):
		return "malformed"
	default:
		return "unknown"
	}
}
