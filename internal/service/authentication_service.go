package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"tariff-auth/internal/metrics"
	"tariff-auth/internal/model"
	"tariff-auth/internal/observability"
	"tariff-auth/internal/ports"
	"tariff-auth/internal/security"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	ReasonLogout    = "logout"
	ReasonRotated   = "refresh_rotated"
	ReasonAdmin     = "admin_revoked"
	ReasonPurgeUser = "logout_everywhere"
	ReasonRedeemed  = "redeemed"
)

// AuthenticationService : проверка токенов на каждом запросе и сценарии
// входа, обновления и выхода поверх codec, черного списка, лимитов и блокировок
type AuthenticationService struct {
	codec       ports.TokenCodec
	users       ports.UserRepository
	revocations ports.RevocationStore
	limiter     ports.RateLimiter
	lockout     ports.LockoutTracker
	metrics     *metrics.Metrics
	scopes      Scopes
	now         func() time.Time
}

func NewAuthenticationService(
	codec ports.TokenCodec,
	users ports.UserRepository,
	revocations ports.RevocationStore,
	limiter ports.RateLimiter,
	lockout ports.LockoutTracker,
	m *metrics.Metrics,
	scopes Scopes,
) *AuthenticationService {
	return &AuthenticationService{
		codec:       codec,
		users:       users,
		revocations: revocations,
		limiter:     limiter,
		lockout:     lockout,
		metrics:     m,
		scopes:      scopes,
		now:         time.Now,
	}
}

// WithClock подменяет источник времени (нужно тестам)
func (s *AuthenticationService) WithClock(now func() time.Time) *AuthenticationService {
	s.now = now
	return s
}

// Authenticate : bearer токен из запроса. Если заголовка нет, возвращает
// (nil, nil): запрос идет дальше анонимным, решение принимает RequireAuth.
func (s *AuthenticationService) Authenticate(r *http.Request, expected model.TokenType) (*model.Principal, error) {
	token, present := security.ExtractBearerToken(r)
	if !present {
		return nil, nil
	}
	return s.AuthenticateToken(r.Context(), token, expected)
}

// AuthenticateToken проверяет токен в фиксированном порядке:
//  1. черный список по jti (до проверки подписи, отозванный токен дальше не разбирается)
//  2. подпись, срок действия, тип из claims
//  3. совпадение типа с ожидаемым (refresh нельзя использовать как access)
//  4. массовый отзыв всех токенов пользователя
func (s *AuthenticationService) AuthenticateToken(ctx context.Context, token string, expected model.TokenType) (*model.Principal, error) {
	ctx, span := observability.Tracer().Start(ctx, "auth.AuthenticateToken",
		trace.WithAttributes(attribute.String("auth.expected_type", string(expected))))
	defer span.End()

	tokenID, err := s.codec.PeekTokenID(token)
	if err != nil {
		return nil, s.reject(span, err)
	}

	if s.revocations.IsRevoked(ctx, tokenID) {
		return nil, s.reject(span, fmt.Errorf("%w: %s", security.ErrTokenRevoked, tokenID))
	}

	claims, err := s.codec.Validate(token)
	if err != nil {
		return nil, s.reject(span, err)
	}

	if claims.TokenType != expected {
		return nil, s.reject(span, fmt.Errorf("%w: ожидался %s, получен %s",
			security.ErrTokenTypeMismatch, expected, claims.TokenType))
	}

	if issuedAt := claims.IssuedAtTime(); !issuedAt.IsZero() && s.revocations.IsRevokedForUser(ctx, claims.UserID, issuedAt) {
		return nil, s.reject(span, fmt.Errorf("%w: все токены пользователя %s отозваны",
			security.ErrTokenRevoked, claims.UserID))
	}

	span.SetAttributes(attribute.String("auth.user_id", claims.UserID))
	return claims.Principal(), nil
}

func (s *AuthenticationService) reject(span trace.Span, err error) error {
	kind := security.TokenErrorKind(err)
	s.metrics.TokenRejected(kind)
	span.SetAttributes(attribute.String("auth.reject_kind", kind))
	span.SetStatus(codes.Error, kind)
	return err
}

// Login : лимит по IP -> проверка блокировки -> пароль -> учет результата -> выпуск токенов.
//
// Возвращает:
//   - *security.RateLimitedError, если лимит входа для IP исчерпан
//   - *security.AccountLockedError, если учетная запись заблокирована
//   - security.ErrInvalidCredentials при неизвестном email или неверном пароле
func (s *AuthenticationService) Login(ctx context.Context, email, password, ipAddress, userAgent string) (*model.TokensPair, error) {
	ctx, span := observability.Tracer().Start(ctx, "auth.Login")
	defer span.End()

	status := s.limiter.CheckScope(ctx, s.scopes.Login, ipAddress)
	if !status.Allowed {
		s.metrics.LoginAttempt("rate_limited")
		span.SetStatus(codes.Error, "rate_limited")
		return nil, &security.RateLimitedError{
			Scope:      s.scopes.Login.Name,
			Limit:      status.Limit,
			RetryAfter: status.ResetAfter,
		}
	}

	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, ports.ErrNotFound) {
		s.metrics.LoginAttempt("unknown_user")
		return nil, security.ErrInvalidCredentials
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("[Auth] ошибка поиска пользователя: %w", err)
	}
	span.SetAttributes(attribute.String("auth.user_id", user.UUID))

	if locked, until := s.lockout.IsLocked(ctx, user.UUID); locked {
		s.metrics.LoginAttempt("locked")
		span.SetStatus(codes.Error, "locked")
		return nil, &security.AccountLockedError{Until: *until}
	}

	if !security.CheckPassword(password, user.PasswordHash) {
		s.metrics.LoginAttempt("failure")
		if err := s.RecordLoginOutcome(ctx, user.UUID, false); err != nil {
			log.Printf("[Auth] %v", err)
		}
		log.Printf("[Auth] неудачный вход: user=%s ip=%s", user.UUID, ipAddress)
		return nil, security.ErrInvalidCredentials
	}

	if err := s.RecordLoginOutcome(ctx, user.UUID, true); err != nil {
		log.Printf("[Auth] %v", err)
	}

	tokens, err := s.issuePair(user)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("[Auth] ошибка генерации токенов: %w", err)
	}

	s.metrics.LoginAttempt("success")
	log.Printf("[Auth] вход выполнен: user=%s ip=%s ua=%q", user.UUID, ipAddress, userAgent)
	return tokens, nil
}

// Refresh : ротация пары. Старый refresh отзывается, роль берется из БД заново.
func (s *AuthenticationService) Refresh(ctx context.Context, refreshToken, ipAddress string) (*model.TokensPair, error) {
	principal, err := s.AuthenticateToken(ctx, refreshToken, model.TokenTypeRefresh)
	if err != nil {
		return nil, err
	}

	status := s.limiter.CheckScope(ctx, s.scopes.User, principal.UserID)
	if !status.Allowed {
		return nil, &security.RateLimitedError{
			Scope:      s.scopes.User.Name,
			Limit:      status.Limit,
			RetryAfter: status.ResetAfter,
		}
	}

	user, err := s.users.FindByUUID(ctx, principal.UserID)
	if errors.Is(err, ports.ErrNotFound) {
		return nil, fmt.Errorf("%w: пользователь %s удален", security.ErrTokenRevoked, principal.UserID)
	} else if err != nil {
		return nil, fmt.Errorf("[Auth] ошибка поиска пользователя: %w", err)
	}

	if locked, until := s.lockout.IsLocked(ctx, user.UUID); locked {
		return nil, &security.AccountLockedError{Until: *until}
	}

	// refresh одноразовый: из параллельных ротаций пару получает только одна
	consumed, err := s.revocations.Consume(ctx, revocationEntry(principal, ReasonRotated, s.now()))
	if err != nil {
		securityDegraded(s.metrics, "Auth", "старый refresh токен не отозван при ротации", err)
	} else if !consumed {
		return nil, fmt.Errorf("%w: refresh токен %s уже использован", security.ErrTokenRevoked, principal.TokenID)
	}

	tokens, err := s.issuePair(user)
	if err != nil {
		return nil, fmt.Errorf("[Auth] ошибка генерации токенов: %w", err)
	}

	log.Printf("[Auth] токены обновлены: user=%s ip=%s", user.UUID, ipAddress)
	return tokens, nil
}

// Logout отзывает текущий access токен и, если передан, refresh токен того же пользователя.
// Чужой или невалидный refresh игнорируется.
func (s *AuthenticationService) Logout(ctx context.Context, principal *model.Principal, refreshToken string) error {
	if principal == nil {
		return security.ErrTokenMalformed
	}

	if err := s.revokePrincipal(ctx, principal, ReasonLogout); err != nil {
		return fmt.Errorf("[Auth] не удалось отозвать access токен: %w", err)
	}

	if refreshToken == "" {
		return nil
	}

	if !s.codec.IsOfType(refreshToken, model.TokenTypeRefresh) {
		log.Printf("[Auth] при выходе передан невалидный или не refresh токен: user=%s", principal.UserID)
		return nil
	}
	claims, err := s.codec.Validate(refreshToken)
	if err != nil {
		log.Printf("[Auth] refresh токен при выходе не принят: %s", security.TokenErrorKind(err))
		return nil
	}
	if claims.UserID != principal.UserID {
		log.Printf("[Auth] refresh токен при выходе не принадлежит пользователю %s", principal.UserID)
		return nil
	}

	if err := s.revocations.RevokeToken(ctx, claims, ReasonLogout); err != nil {
		return fmt.Errorf("[Auth] не удалось отозвать refresh токен: %w", err)
	}
	return nil
}

// IssueTokens : выпуск пары для уже проверенного пользователя (регистрация, смена пароля)
func (s *AuthenticationService) IssueTokens(ctx context.Context, userID string) (*model.TokensPair, error) {
	user, err := s.users.FindByUUID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("[Auth] пользователь не найден: %w", err)
	}

	tokens, err := s.issuePair(user)
	if err != nil {
		return nil, fmt.Errorf("[Auth] ошибка генерации токенов: %w", err)
	}
	return tokens, nil
}

// IssuePurposeToken : одноразовый токен с назначением (сброс пароля, подтверждение email)
func (s *AuthenticationService) IssuePurposeToken(ctx context.Context, userID, purpose string, lifetime time.Duration) (*security.IssuedToken, error) {
	user, err := s.users.FindByUUID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("[Auth] пользователь не найден: %w", err)
	}

	issued, err := s.codec.IssueCustomToken(user, purpose, lifetime)
	if err != nil {
		return nil, fmt.Errorf("[Auth] ошибка генерации токена: %w", err)
	}

	log.Printf("[Auth] выпущен токен назначения %s: user=%s jti=%s", purpose, user.UUID, issued.Claims.ID)
	return issued, nil
}

// RedeemPurposeToken проверяет токен назначения и сразу отзывает его.
// Повторное предъявление, в том числе параллельное, отклоняется как отозванный токен.
func (s *AuthenticationService) RedeemPurposeToken(ctx context.Context, token, purpose string) (*model.Principal, error) {
	if tokenID, err := s.codec.PeekTokenID(token); err == nil && s.revocations.IsRevoked(ctx, tokenID) {
		return nil, fmt.Errorf("%w: jti=%s", security.ErrTokenRevoked, tokenID)
	}

	claims, err := s.codec.ValidateCustomToken(token, purpose)
	if err != nil {
		return nil, err
	}
	principal := claims.Principal()
	if issuedAt := claims.IssuedAtTime(); !issuedAt.IsZero() && s.revocations.IsRevokedForUser(ctx, claims.UserID, issuedAt) {
		return nil, fmt.Errorf("%w: токены пользователя %s отозваны", security.ErrTokenRevoked, claims.UserID)
	}

	consumed, err := s.revocations.Consume(ctx, model.RevocationEntry{
		TokenID:    claims.ID,
		TTLSeconds: ceilSeconds(s.codec.RemainingLifetime(claims)),
		Reason:     ReasonRedeemed,
		UserID:     claims.UserID,
		TokenType:  claims.TokenType,
	})
	if err != nil {
		return nil, fmt.Errorf("[Auth] не удалось погасить токен: %w", err)
	}
	if !consumed {
		return nil, fmt.Errorf("%w: токен %s уже использован", security.ErrTokenRevoked, claims.ID)
	}

	log.Printf("[Auth] токен назначения %s погашен: user=%s", purpose, claims.UserID)
	return principal, nil
}

func (s *AuthenticationService) issuePair(user *model.User) (*model.TokensPair, error) {
	tokens, err := s.codec.IssueTokenPair(user)
	if err != nil {
		return nil, err
	}
	s.metrics.TokenPairIssued()
	return tokens, nil
}

func (s *AuthenticationService) RecordLoginOutcome(ctx context.Context, userID string, success bool) error {
	if success {
		return s.lockout.RecordSuccess(ctx, userID)
	}
	_, err := s.lockout.RecordFailure(ctx, userID)
	return err
}

// Revoke : отзыв по jti без claims. Срок жизни токена неизвестен, поэтому
// запись держится максимальное время жизни (refresh).
func (s *AuthenticationService) Revoke(ctx context.Context, tokenID, reason string) error {
	return s.revocations.Revoke(ctx, model.RevocationEntry{
		TokenID:    tokenID,
		TTLSeconds: ceilSeconds(s.codec.RefreshTTL()),
		Reason:     reason,
	})
}

func (s *AuthenticationService) RevokeAllForUser(ctx context.Context, userID, actorID, reason string) error {
	return s.revocations.PurgeForUser(ctx, userID, actorID, reason)
}

func (s *AuthenticationService) revokePrincipal(ctx context.Context, principal *model.Principal, reason string) error {
	return s.revocations.Revoke(ctx, revocationEntry(principal, reason, s.now()))
}

func revocationEntry(principal *model.Principal, reason string, now time.Time) model.RevocationEntry {
	return model.RevocationEntry{
		TokenID:    principal.TokenID,
		TTLSeconds: ceilSeconds(principal.ExpiresAt.Sub(now)),
		Reason:     reason,
		UserID:     principal.UserID,
		TokenType:  principal.TokenType,
	}
}
