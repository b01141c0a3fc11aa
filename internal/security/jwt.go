package security

import (
	"errors"
	"fmt"
	"strings"
	"tariff-auth/config"
	"tariff-auth/internal/model"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type Claims struct {
	UserID    string          `json:"userId"`
	Role      string          `json:"role,omitempty"`
	TokenType model.TokenType `json:"tokenType"`
	Purpose   string          `json:"purpose,omitempty"`
	// IssuedAtMicro : момент выпуска в микросекундах, iat хранит только секунды
	IssuedAtMicro int64 `json:"iatUs,omitempty"`
	jwt.RegisteredClaims
}

// Principal : субъект запроса из проверенных claims
func (c *Claims) Principal() *model.Principal {
	principal := &model.Principal{
		UserID:    c.UserID,
		Subject:   c.Subject,
		Role:      c.Role,
		TokenID:   c.ID,
		TokenType: c.TokenType,
	}
	principal.IssuedAt = c.IssuedAtTime()
	if c.ExpiresAt != nil {
		principal.ExpiresAt = c.ExpiresAt.Time
	}
	return principal
}

// IssuedAtTime : точное время выпуска. Для токенов без iatUs берется iat.
func (c *Claims) IssuedAtTime() time.Time {
	if c.IssuedAtMicro > 0 {
		return time.UnixMicro(c.IssuedAtMicro)
	}
	if c.IssuedAt != nil {
		return c.IssuedAt.Time
	}
	return time.Time{}
}

// TokenRequest : что положить в новый токен
type TokenRequest struct {
	Subject string
	UserID  string
	Role    string
	Type    model.TokenType
	Purpose string
}

type IssuedToken struct {
	Token  string
	Claims *Claims
}

// JWTService : выпуск и проверка JWT (HS512). Состояния не хранит.
type JWTService struct {
	secretKey  []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewJWTService(cfg *config.JWTConfig) *JWTService {
	return &JWTService{
		secretKey:  []byte(cfg.SecretKey),
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTTL(),
		refreshTTL: cfg.RefreshTTL(),
		now:        time.Now,
	}
}

// WithClock подменяет источник времени (нужно тестам)
func (s *JWTService) WithClock(now func() time.Time) *JWTService {
	s.now = now
	return s
}

func (s *JWTService) AccessTTL() time.Duration {
	return s.accessTTL
}

func (s *JWTService) RefreshTTL() time.Duration {
	return s.refreshTTL
}

// Issue выпускает подписанный токен с уникальным jti.
//
// Параметры:
//   - request: subject, userId, роль, тип и (для custom) назначение токена
//   - lifetime: время жизни, строго больше нуля
//
// Возвращает:
//   - строку токена и проставленные claims
//   - ошибку, если тип неизвестен или подпись не удалась
func (s *JWTService) Issue(request TokenRequest, lifetime time.Duration) (*IssuedToken, error) {
	if lifetime <= 0 {
		return nil, fmt.Errorf("время жизни токена должно быть больше нуля: %s", lifetime)
	}
	if !request.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrTokenUnsupported, request.Type)
	}

	now := s.now()
	issuedAt := now.Truncate(jwt.TimePrecision)
	claims := &Claims{
		UserID:        request.UserID,
		Role:          request.Role,
		TokenType:     request.Type,
		Purpose:       request.Purpose,
		IssuedAtMicro: now.UnixMicro(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   request.Subject,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(lifetime)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(s.secretKey)
	if err != nil {
		return nil, fmt.Errorf("ошибка подписи токена: %w", err)
	}

	return &IssuedToken{Token: signed, Claims: claims}, nil
}

func (s *JWTService) IssueAccessToken(user *model.User) (*IssuedToken, error) {
	return s.Issue(TokenRequest{
		Subject: user.Email,
		UserID:  user.UUID,
		Role:    user.Role,
		Type:    model.TokenTypeAccess,
	}, s.accessTTL)
}

// IssueRefreshToken : роль в refresh не кладется, она берется из БД при обновлении
func (s *JWTService) IssueRefreshToken(user *model.User) (*IssuedToken, error) {
	return s.Issue(TokenRequest{
		Subject: user.Email,
		UserID:  user.UUID,
		Type:    model.TokenTypeRefresh,
	}, s.refreshTTL)
}

// IssueTokenPair : access и refresh с разными jti, отзываются независимо
func (s *JWTService) IssueTokenPair(user *model.User) (*model.TokensPair, error) {
	access, err := s.IssueAccessToken(user)
	if err != nil {
		return nil, err
	}

	refresh, err := s.IssueRefreshToken(user)
	if err != nil {
		return nil, err
	}

	return &model.TokensPair{
		AccessToken:      access.Token,
		RefreshToken:     refresh.Token,
		AccessExpiresAt:  access.Claims.ExpiresAt.Time,
		RefreshExpiresAt: refresh.Claims.ExpiresAt.Time,
	}, nil
}

// IssueCustomToken : одноразовые токены с назначением (например, сброс пароля)
func (s *JWTService) IssueCustomToken(user *model.User, purpose string, lifetime time.Duration) (*IssuedToken, error) {
	if purpose == "" {
		return nil, errors.New("назначение custom токена не указано")
	}
	return s.Issue(TokenRequest{
		Subject: user.Email,
		UserID:  user.UUID,
		Type:    model.TokenTypeCustom,
		Purpose: purpose,
	}, lifetime)
}

// Validate проверяет подпись, срок действия и тип токена.
// Каждый вид отказа возвращается своей ошибкой: ErrTokenMalformed, ErrTokenSignatureInvalid,
// ErrTokenExpired или ErrTokenUnsupported.
func (s *JWTService) Validate(tokenStr string) (*Claims, error) {
	if strings.TrimSpace(tokenStr) == "" {
		return nil, fmt.Errorf("%w: пустой токен", ErrTokenMalformed)
	}

	claims := &Claims{}
	_, err := s.parser().ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return s.secretKey, nil
	})
	if err != nil {
		return nil, classifyJWTError(err)
	}

	if !claims.TokenType.Valid() {
		return nil, fmt.Errorf("%w: тип %q", ErrTokenUnsupported, claims.TokenType)
	}
	if claims.ID == "" {
		return nil, fmt.Errorf("%w: нет jti", ErrTokenMalformed)
	}

	return claims, nil
}

func (s *JWTService) ValidateCustomToken(tokenStr, purpose string) (*Claims, error) {
	claims, err := s.Validate(tokenStr)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != model.TokenTypeCustom {
		return nil, fmt.Errorf("%w: ожидался custom, получен %s", ErrTokenTypeMismatch, claims.TokenType)
	}
	if claims.Purpose != purpose {
		return nil, fmt.Errorf("%w: назначение %q вместо %q", ErrTokenTypeMismatch, claims.Purpose, purpose)
	}
	return claims, nil
}

// PeekTokenID достает jti без проверки подписи. Используется только для
// проверки черного списка до полной валидации.
func (s *JWTService) PeekTokenID(tokenStr string) (string, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, claims); err != nil {
		return "", fmt.Errorf("%w: %w", ErrTokenMalformed, err)
	}
	if claims.ID == "" {
		return "", fmt.Errorf("%w: нет jti", ErrTokenMalformed)
	}
	return claims.ID, nil
}

func (s *JWTService) IsOfType(tokenStr string, expected model.TokenType) bool {
	claims, err := s.Validate(tokenStr)
	if err != nil {
		return false
	}
	return claims.TokenType == expected
}

// RemainingLifetime : сколько токену осталось жить, не меньше нуля
func (s *JWTService) RemainingLifetime(claims *Claims) time.Duration {
	if claims == nil || claims.ExpiresAt == nil {
		return 0
	}
	remaining := claims.ExpiresAt.Time.Sub(s.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (s *JWTService) parser() *jwt.Parser {
	return jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
}

func classifyJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %w", ErrTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrSignatureInvalid):
		return fmt.Errorf("%w: %w", ErrTokenSignatureInvalid, err)
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %w", ErrTokenUnsupported, err)
	default:
		return fmt.Errorf("%w: %w", ErrTokenMalformed, err)
	}
}
