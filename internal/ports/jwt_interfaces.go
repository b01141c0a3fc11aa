package ports

import (
	"tariff-auth/internal/model"
	"tariff-auth/internal/security"
	"time"
)

type TokenCodec interface {
	Issue(request security.TokenRequest, lifetime time.Duration) (*security.IssuedToken, error)
	IssueTokenPair(user *model.User) (*model.TokensPair, error)
	IssueCustomToken(user *model.User, purpose string, lifetime time.Duration) (*security.IssuedToken, error)
	Validate(token string) (*security.Claims, error)
	ValidateCustomToken(token, purpose string) (*security.Claims, error)
	PeekTokenID(token string) (string, error)
	IsOfType(token string, expected model.TokenType) bool
	RemainingLifetime(claims *security.Claims) time.Duration
	RefreshTTL() time.Duration
}
