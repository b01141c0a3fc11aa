package ports

import (
	"context"
	"net/http"
	"tariff-auth/internal/model"
	"tariff-auth/internal/security"
	"time"
)

// AuthenticationService : фасад слоя безопасности для остального приложения
type AuthenticationService interface {
	Authenticate(r *http.Request, expected model.TokenType) (*model.Principal, error)
	AuthenticateToken(ctx context.Context, token string, expected model.TokenType) (*model.Principal, error)
	Login(ctx context.Context, email, password, ipAddress, userAgent string) (*model.TokensPair, error)
	Refresh(ctx context.Context, refreshToken, ipAddress string) (*model.TokensPair, error)
	Logout(ctx context.Context, principal *model.Principal, refreshToken string) error
	IssueTokens(ctx context.Context, userID string) (*model.TokensPair, error)
	RecordLoginOutcome(ctx context.Context, userID string, success bool) error
	Revoke(ctx context.Context, tokenID, reason string) error
	RevokeAllForUser(ctx context.Context, userID, actorID, reason string) error
	IssuePurposeToken(ctx context.Context, userID, purpose string, lifetime time.Duration) (*security.IssuedToken, error)
	RedeemPurposeToken(ctx context.Context, token, purpose string) (*model.Principal, error)
}
