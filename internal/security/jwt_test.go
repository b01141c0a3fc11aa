package security_test

import (
	"tariff-auth/config"
	"tariff-auth/internal/model"
	"tariff-auth/internal/security"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key"

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time {
	return c.now
}

func newJWTService(c *clock) *security.JWTService {
	return security.NewJWTService(&config.JWTConfig{
		SecretKey:       testSecret,
		Issuer:          "tariff-auth",
		AccessTokenTTL:  "15m",
		RefreshTokenTTL: "168h",
	}).WithClock(c.Now)
}

func newClock() *clock {
	return &clock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

var testUser = &model.User{UUID: "user-1", Email: "user@example.com", Role: model.RoleAdmin}

// signRaw подписывает произвольные claims, минуя JWTService
func signRaw(t *testing.T, method jwt.SigningMethod, claims jwt.Claims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func TestJWTService_RoundTrip(t *testing.T) {
	c := newClock()
	codec := newJWTService(c)

	issued, err := codec.IssueAccessToken(testUser)
	require.NoError(t, err)

	claims, err := codec.Validate(issued.Token)
	require.NoError(t, err)

	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "user@example.com", claims.Subject)
	assert.Equal(t, model.RoleAdmin, claims.Role)
	assert.Equal(t, model.TokenTypeAccess, claims.TokenType)
	assert.Equal(t, "tariff-auth", claims.Issuer)
	assert.Equal(t, issued.Claims.ID, claims.ID)
	assert.Equal(t, c.now.Add(15*time.Minute).Unix(), claims.ExpiresAt.Unix())

	principal := claims.Principal()
	assert.Equal(t, "user-1", principal.UserID)
	assert.Equal(t, claims.ID, principal.TokenID)
	assert.Equal(t, c.now.Unix(), principal.IssuedAt.Unix())
	assert.True(t, principal.IsAdmin())
}

func TestJWTService_TokenPair(t *testing.T) {
	codec := newJWTService(newClock())

	pair, err := codec.IssueTokenPair(testUser)
	require.NoError(t, err)

	access, err := codec.Validate(pair.AccessToken)
	require.NoError(t, err)
	refresh, err := codec.Validate(pair.RefreshToken)
	require.NoError(t, err)

	assert.NotEqual(t, access.ID, refresh.ID)
	assert.Equal(t, model.TokenTypeRefresh, refresh.TokenType)
	assert.Empty(t, refresh.Role, "роль в refresh не кладется")
	assert.Equal(t, 168*time.Hour, pair.RefreshExpiresAt.Sub(pair.AccessExpiresAt)+15*time.Minute)

	assert.True(t, codec.IsOfType(pair.AccessToken, model.TokenTypeAccess))
	assert.False(t, codec.IsOfType(pair.AccessToken, model.TokenTypeRefresh))
	assert.False(t, codec.IsOfType("garbage", model.TokenTypeAccess))
}

func TestJWTService_DistinctTokenIDs(t *testing.T) {
	codec := newJWTService(newClock())

	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		issued, err := codec.IssueAccessToken(testUser)
		require.NoError(t, err)
		_, duplicate := seen[issued.Claims.ID]
		require.False(t, duplicate, "jti повторился")
		seen[issued.Claims.ID] = struct{}{}
	}
}

func TestJWTService_Expired(t *testing.T) {
	c := newClock()
	codec := newJWTService(c)

	issued, err := codec.IssueAccessToken(testUser)
	require.NoError(t, err)

	c.now = c.now.Add(14 * time.Minute)
	_, err = codec.Validate(issued.Token)
	assert.NoError(t, err)

	c.now = c.now.Add(time.Minute)
	_, err = codec.Validate(issued.Token)
	assert.ErrorIs(t, err, security.ErrTokenExpired)
	assert.Equal(t, "expired", security.TokenErrorKind(err))
}

func TestJWTService_ValidateErrors(t *testing.T) {
	c := newClock()
	codec := newJWTService(c)

	other := security.NewJWTService(&config.JWTConfig{SecretKey: "other-secret"}).WithClock(c.Now)
	foreign, err := other.IssueAccessToken(testUser)
	require.NoError(t, err)

	valid, err := codec.IssueAccessToken(testUser)
	require.NoError(t, err)
	tampered := valid.Token[:len(valid.Token)-4] + "AAAA"

	expiresAt := jwt.NewNumericDate(c.now.Add(time.Hour))
	issuedAt := jwt.NewNumericDate(c.now)

	hs256 := signRaw(t, jwt.SigningMethodHS256, &security.Claims{
		UserID:           "user-1",
		TokenType:        model.TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{ID: "jti", ExpiresAt: expiresAt, IssuedAt: issuedAt},
	})
	unknownType := signRaw(t, jwt.SigningMethodHS512, &security.Claims{
		UserID:           "user-1",
		TokenType:        "session",
		RegisteredClaims: jwt.RegisteredClaims{ID: "jti", ExpiresAt: expiresAt, IssuedAt: issuedAt},
	})
	noTokenID := signRaw(t, jwt.SigningMethodHS512, &security.Claims{
		UserID:           "user-1",
		TokenType:        model.TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: expiresAt, IssuedAt: issuedAt},
	})
	noExpiry := signRaw(t, jwt.SigningMethodHS512, &security.Claims{
		UserID:           "user-1",
		TokenType:        model.TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{ID: "jti", IssuedAt: issuedAt},
	})

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{name: "empty", token: "", want: security.ErrTokenMalformed},
		{name: "spaces", token: "   ", want: security.ErrTokenMalformed},
		{name: "not a jwt", token: "abc.def", want: security.ErrTokenMalformed},
		{name: "foreign secret", token: foreign.Token, want: security.ErrTokenSignatureInvalid},
		{name: "tampered signature", token: tampered, want: security.ErrTokenSignatureInvalid},
		{name: "other algorithm", token: hs256, want: security.ErrTokenSignatureInvalid},
		{name: "unknown token type", token: unknownType, want: security.ErrTokenUnsupported},
		{name: "no jti", token: noTokenID, want: security.ErrTokenMalformed},
		{name: "no exp", token: noExpiry, want: security.ErrTokenMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Validate(tt.token)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, security.IsTokenError(err))
		})
	}
}

func TestJWTService_IssueValidation(t *testing.T) {
	codec := newJWTService(newClock())

	_, err := codec.Issue(security.TokenRequest{UserID: "u", Type: model.TokenTypeAccess}, 0)
	assert.Error(t, err)

	_, err = codec.Issue(security.TokenRequest{UserID: "u", Type: "session"}, time.Minute)
	assert.ErrorIs(t, err, security.ErrTokenUnsupported)

	_, err = codec.IssueCustomToken(testUser, "", time.Minute)
	assert.Error(t, err)
}

func TestJWTService_CustomToken(t *testing.T) {
	codec := newJWTService(newClock())

	issued, err := codec.IssueCustomToken(testUser, "password_reset", 30*time.Minute)
	require.NoError(t, err)

	claims, err := codec.ValidateCustomToken(issued.Token, "password_reset")
	require.NoError(t, err)
	assert.Equal(t, model.TokenTypeCustom, claims.TokenType)
	assert.Equal(t, "password_reset", claims.Purpose)

	_, err = codec.ValidateCustomToken(issued.Token, "email_confirm")
	assert.ErrorIs(t, err, security.ErrTokenTypeMismatch)

	access, err := codec.IssueAccessToken(testUser)
	require.NoError(t, err)
	_, err = codec.ValidateCustomToken(access.Token, "password_reset")
	assert.ErrorIs(t, err, security.ErrTokenTypeMismatch)
}

func TestJWTService_PeekTokenID(t *testing.T) {
	c := newClock()
	codec := newJWTService(c)

	issued, err := codec.IssueAccessToken(testUser)
	require.NoError(t, err)

	c.now = c.now.Add(time.Hour)
	tokenID, err := codec.PeekTokenID(issued.Token)
	require.NoError(t, err, "jti читается и у просроченного токена")
	assert.Equal(t, issued.Claims.ID, tokenID)

	_, err = codec.PeekTokenID("garbage")
	assert.ErrorIs(t, err, security.ErrTokenMalformed)
}

func TestJWTService_RemainingLifetime(t *testing.T) {
	c := newClock()
	codec := newJWTService(c)

	issued, err := codec.IssueAccessToken(testUser)
	require.NoError(t, err)

	c.now = c.now.Add(10 * time.Minute)
	assert.Equal(t, 5*time.Minute, codec.RemainingLifetime(issued.Claims))

	c.now = c.now.Add(time.Hour)
	assert.Zero(t, codec.RemainingLifetime(issued.Claims))
	assert.Zero(t, codec.RemainingLifetime(nil))
}

func TestTokenErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{security.ErrTokenExpired, "expired"},
		{security.ErrTokenSignatureInvalid, "signature_invalid"},
		{security.ErrTokenRevoked, "revoked"},
		{security.ErrTokenTypeMismatch, "type_mismatch"},
		{security.ErrTokenUnsupported, "unsupported"},
		{security.ErrTokenMalformed, "malformed"},
		{security.ErrInvalidCredentials, "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, security.TokenErrorKind(tt.err))
	}

	assert.False(t, security.IsTokenError(security.ErrInvalidCredentials))
}

func TestRetryableErrors(t *testing.T) {
	limited := &security.RateLimitedError{Scope: "login", Limit: 5, RetryAfter: time.Minute}
	assert.ErrorIs(t, limited, security.ErrRateLimited)
	assert.NotErrorIs(t, limited, security.ErrAccountLocked)

	until := time.Date(2025, 3, 1, 12, 15, 0, 0, time.UTC)
	locked := &security.AccountLockedError{Until: until}
	assert.ErrorIs(t, locked, security.ErrAccountLocked)
	assert.Contains(t, locked.Error(), "2025-03-01T12:15:00Z")
}

func TestJWTService_SubSecondIssuedAt(t *testing.T) {
	c := newClock()
	c.now = c.now.Add(250 * time.Millisecond)
	codec := newJWTService(c)

	issued, err := codec.IssueAccessToken(testUser)
	require.NoError(t, err)

	claims, err := codec.Validate(issued.Token)
	require.NoError(t, err)

	// iat остается в секундах, точное время в iatUs
	assert.Equal(t, c.now.Truncate(time.Second).Unix(), claims.IssuedAt.Unix())
	assert.Equal(t, c.now.UnixMicro(), claims.IssuedAtMicro)
	assert.True(t, claims.IssuedAtTime().Equal(c.now))
	assert.True(t, claims.Principal().IssuedAt.Equal(c.now))
}

func TestClaims_IssuedAtTimeFallsBackToSeconds(t *testing.T) {
	issuedAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	claims := &security.Claims{RegisteredClaims: jwt.RegisteredClaims{IssuedAt: jwt.NewNumericDate(issuedAt)}}
	assert.True(t, claims.IssuedAtTime().Equal(issuedAt))

	assert.True(t, (&security.Claims{}).IssuedAtTime().IsZero())
}
