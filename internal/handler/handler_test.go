package handler_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"tariff-auth/config"
	"tariff-auth/internal/handler"
	"tariff-auth/internal/metrics"
	"tariff-auth/internal/model"
	"tariff-auth/internal/model/requestresponse"
	"tariff-auth/internal/notifier"
	"tariff-auth/internal/ports"
	"tariff-auth/internal/repository"
	"tariff-auth/internal/security"
	"tariff-auth/internal/service"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const password = "Str0ngPassw0rd!"

// ===== FAKES =====

type userStore struct {
	byID map[string]*model.User
}

func (s *userStore) FindByUUID(_ context.Context, uuid string) (*model.User, error) {
	if user, ok := s.byID[uuid]; ok {
		return user, nil
	}
	return nil, ports.ErrNotFound
}

func (s *userStore) FindByEmail(_ context.Context, email string) (*model.User, error) {
	for _, user := range s.byID {
		if user.Email == email {
			return user, nil
		}
	}
	return nil, ports.ErrNotFound
}

type lockoutStore struct {
	mu     sync.Mutex
	states map[string]*model.LockoutState
}

func (s *lockoutStore) state(userID string) *model.LockoutState {
	if s.states == nil {
		s.states = make(map[string]*model.LockoutState)
	}
	state, ok := s.states[userID]
	if !ok {
		state = &model.LockoutState{UserID: userID}
		s.states[userID] = state
	}
	return state
}

func (s *lockoutStore) GetLockoutState(_ context.Context, userID string) (*model.LockoutState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *s.state(userID)
	return &copied, nil
}

func (s *lockoutStore) IncrementFailedAttempts(_ context.Context, userID string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.state(userID)
	state.FailedAttempts++
	state.LastFailureAt = &at
	return state.FailedAttempts, nil
}

func (s *lockoutStore) SetFailedAttempts(_ context.Context, userID string, attempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state(userID).FailedAttempts = attempts
	return nil
}

func (s *lockoutStore) SetLockedUntil(_ context.Context, userID string, until *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state(userID).LockedUntil = until
	return nil
}

func (s *lockoutStore) ResetLockout(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.state(userID)
	state.FailedAttempts = 0
	state.LockedUntil = nil
	return nil
}

// ===== FIXTURE =====

type server struct {
	router  http.Handler
	codec   *security.JWTService
	limiter *service.RateLimitService
	user    *model.User
	admin   *model.User
}

func newServer(t *testing.T) *server {
	t.Helper()

	cfg := &config.AppConfig{JWT: config.JWTConfig{SecretKey: "handler-test-secret"}}
	require.NoError(t, cfg.Finalize())

	hash, err := security.HashPassword(password)
	require.NoError(t, err)
	user := &model.User{UUID: "user-1", Email: "user@example.com", PasswordHash: hash, Role: model.RoleUser}
	admin := &model.User{UUID: "admin-1", Email: "admin@example.com", PasswordHash: hash, Role: model.RoleAdmin}
	users := &userStore{byID: map[string]*model.User{user.UUID: user, admin.UUID: admin}}

	m := metrics.Noop()
	store := repository.NewMemoryStore(0)
	audit := notifier.LogNotifier{}

	codec := security.NewJWTService(&cfg.JWT)
	revocations := service.NewRevocationService(store, audit, m, codec.RefreshTTL())
	limiter := service.NewRateLimitService(store, m, cfg.RateLimit)
	lockout := service.NewLockoutService(&lockoutStore{}, store, audit, m, cfg.Lockout)
	auth := service.NewAuthenticationService(codec, users, revocations, limiter, lockout, m, limiter.Scopes())

	router := chi.NewRouter()
	router.Use(handler.RateLimitMiddleware(limiter, limiter.Scopes().GlobalIP, false))
	handler.RegisterAuthRoutes(router, handler.NewAuthenticationHandler(auth, false), auth)
	handler.RegisterAdminRoutes(router, handler.NewAdminHandler(auth, lockout, revocations, limiter), auth)

	return &server{router: router, codec: codec, limiter: limiter, user: user, admin: admin}
}

type call struct {
	method string
	path   string
	body   string
	token  string
	remote string
}

func (s *server) do(c call) *httptest.ResponseRecorder {
	var request *http.Request
	if c.body != "" {
		request = httptest.NewRequest(c.method, c.path, strings.NewReader(c.body))
		request.Header.Set("Content-Type", "application/json")
	} else {
		request = httptest.NewRequest(c.method, c.path, nil)
	}
	if c.token != "" {
		request.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.remote != "" {
		request.RemoteAddr = c.remote
	}

	recorder := httptest.NewRecorder()
	s.router.ServeHTTP(recorder, request)
	return recorder
}

func (s *server) login(t *testing.T, email, pswd, remote string) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(call{
		method: http.MethodPost,
		path:   "/api/auth/login",
		body:   fmt.Sprintf(`{"email":%q,"password":%q}`, email, pswd),
		remote: remote,
	})
}

func (s *server) tokensFor(t *testing.T, user *model.User) *model.TokensPair {
	t.Helper()
	pair, err := s.codec.IssueTokenPair(user)
	require.NoError(t, err)
	return pair
}

func decode[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var body T
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body), recorder.Body.String())
	return body
}

// ===== AUTH =====

func TestLogin_SuccessAndMe(t *testing.T) {
	s := newServer(t)

	recorder := s.login(t, "user@example.com", password, "10.0.0.1:1000")
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())

	tokens := decode[requestresponse.TokensResponse](t, recorder)
	require.NotEmpty(t, tokens.Response.AccessToken)
	require.NotEmpty(t, tokens.Response.RefreshToken)

	me := s.do(call{method: http.MethodGet, path: "/api/auth/me", token: tokens.Response.AccessToken})
	require.Equal(t, http.StatusOK, me.Code)
	current := decode[requestresponse.CurrentUserResponse](t, me)
	assert.Equal(t, "user-1", current.Response.UserID)
	assert.Equal(t, "user@example.com", current.Response.Email)
	assert.Equal(t, model.RoleUser, current.Response.Role)

	head := s.do(call{method: http.MethodHead, path: "/api/auth/me", token: tokens.Response.AccessToken})
	assert.Equal(t, http.StatusOK, head.Code)
	assert.Zero(t, head.Body.Len())
}

func TestLogin_BadRequests(t *testing.T) {
	s := newServer(t)

	tests := []struct {
		name string
		body string
	}{
		{name: "invalid json", body: `{"email":`},
		{name: "no password", body: `{"email":"user@example.com"}`},
		{name: "blank email", body: `{"email":"   ","password":"x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := s.do(call{method: http.MethodPost, path: "/api/auth/login", body: tt.body})
			assert.Equal(t, http.StatusBadRequest, recorder.Code)
		})
	}
}

func TestLogin_InvalidCredentialsAreUniform(t *testing.T) {
	s := newServer(t)

	wrongPassword := s.login(t, "user@example.com", "wrong", "10.0.0.1:1000")
	unknownUser := s.login(t, "nobody@example.com", "wrong", "10.0.0.2:1000")

	assert.Equal(t, http.StatusUnauthorized, wrongPassword.Code)
	assert.Equal(t, http.StatusUnauthorized, unknownUser.Code)

	first := decode[requestresponse.ErrorResponse](t, wrongPassword)
	second := decode[requestresponse.ErrorResponse](t, unknownUser)
	assert.Equal(t, first.Message, second.Message, "ответ не раскрывает, существует ли пользователь")
}

func TestLogin_RateLimitedSixthAttempt(t *testing.T) {
	s := newServer(t)

	for i := 1; i <= 5; i++ {
		recorder := s.login(t, "user@example.com", "wrong", "203.0.113.7:5000")
		assert.Equal(t, http.StatusUnauthorized, recorder.Code, "попытка %d", i)
	}

	recorder := s.login(t, "user@example.com", password, "203.0.113.7:5000")
	require.Equal(t, http.StatusTooManyRequests, recorder.Code)
	assert.NotEmpty(t, recorder.Header().Get("Retry-After"))

	body := decode[requestresponse.ErrorResponse](t, recorder)
	assert.Greater(t, body.RetryAfter, int64(0))
	assert.LessOrEqual(t, body.RetryAfter, int64(900))
	assert.NotEmpty(t, body.ResetAt)
}

func TestLogin_LockedAccount(t *testing.T) {
	s := newServer(t)

	for i := 0; i < 5; i++ {
		recorder := s.login(t, "user@example.com", "wrong", fmt.Sprintf("10.2.0.%d:1000", i))
		assert.Equal(t, http.StatusUnauthorized, recorder.Code)
	}

	recorder := s.login(t, "user@example.com", password, "10.2.0.50:1000")
	require.Equal(t, http.StatusForbidden, recorder.Code)

	body := decode[requestresponse.ErrorResponse](t, recorder)
	assert.InDelta(t, 900, body.RetryAfter, 2)
	assert.NotEmpty(t, recorder.Header().Get("Retry-After"))

	other := s.login(t, "admin@example.com", password, "10.2.0.51:1000")
	assert.Equal(t, http.StatusOK, other.Code, "блокировка касается только одной учетной записи")
}

func TestMe_Unauthorized(t *testing.T) {
	s := newServer(t)
	refresh := s.tokensFor(t, s.user).RefreshToken

	tests := []struct {
		name  string
		token string
	}{
		{name: "no token", token: ""},
		{name: "garbage", token: "garbage"},
		{name: "refresh as access", token: refresh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := s.do(call{method: http.MethodGet, path: "/api/auth/me", token: tt.token})
			assert.Equal(t, http.StatusUnauthorized, recorder.Code)
			assert.Equal(t, security.UnauthorizedMessage, decode[requestresponse.ErrorResponse](t, recorder).Message)
		})
	}
}

func TestRefresh(t *testing.T) {
	s := newServer(t)
	pair := s.tokensFor(t, s.user)

	body := fmt.Sprintf(`{"refreshToken":%q}`, pair.RefreshToken)

	recorder := s.do(call{method: http.MethodPost, path: "/api/auth/refresh", body: body})
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	rotated := decode[requestresponse.TokensResponse](t, recorder)
	assert.NotEqual(t, pair.RefreshToken, rotated.Response.RefreshToken)

	replay := s.do(call{method: http.MethodPost, path: "/api/auth/refresh", body: body})
	assert.Equal(t, http.StatusUnauthorized, replay.Code, "старый refresh повторно не принимается")

	accessAsRefresh := s.do(call{
		method: http.MethodPost,
		path:   "/api/auth/refresh",
		body:   fmt.Sprintf(`{"refreshToken":%q}`, pair.AccessToken),
	})
	assert.Equal(t, http.StatusUnauthorized, accessAsRefresh.Code)

	empty := s.do(call{method: http.MethodPost, path: "/api/auth/refresh", body: `{}`})
	assert.Equal(t, http.StatusBadRequest, empty.Code)
}

func TestRedeemPurposeToken(t *testing.T) {
	s := newServer(t)
	issued, err := s.codec.IssueCustomToken(s.user, "password_reset", 30*time.Minute)
	require.NoError(t, err)

	redeem := func(token, purpose string) *httptest.ResponseRecorder {
		return s.do(call{
			method: http.MethodPost,
			path:   "/api/auth/purpose-token/redeem",
			body:   fmt.Sprintf(`{"token":%q,"purpose":%q}`, token, purpose),
		})
	}

	// 1. Чужое назначение не принимается и не гасит токен
	assert.Equal(t, http.StatusUnauthorized, redeem(issued.Token, "email_verify").Code)

	// 2. Верное назначение: токен погашен
	recorder := redeem(issued.Token, "password_reset")
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	body := decode[requestresponse.RedeemPurposeTokenResponse](t, recorder)
	assert.Equal(t, "user-1", body.Response.UserID)
	assert.True(t, body.Response.Redeemed)

	// 3. Повторно и access токеном нельзя
	assert.Equal(t, http.StatusUnauthorized, redeem(issued.Token, "password_reset").Code)
	assert.Equal(t, http.StatusUnauthorized, redeem(s.tokensFor(t, s.user).AccessToken, "password_reset").Code)

	empty := s.do(call{method: http.MethodPost, path: "/api/auth/purpose-token/redeem", body: `{"token":""}`})
	assert.Equal(t, http.StatusBadRequest, empty.Code)
}

func TestLogout(t *testing.T) {
	s := newServer(t)
	pair := s.tokensFor(t, s.user)

	recorder := s.do(call{
		method: http.MethodPost,
		path:   "/api/auth/logout",
		body:   fmt.Sprintf(`{"refreshToken":%q}`, pair.RefreshToken),
		token:  pair.AccessToken,
	})
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	assert.True(t, decode[requestresponse.LogoutResponse](t, recorder).Response.LoggedOut)

	me := s.do(call{method: http.MethodGet, path: "/api/auth/me", token: pair.AccessToken})
	assert.Equal(t, http.StatusUnauthorized, me.Code)

	refresh := s.do(call{
		method: http.MethodPost,
		path:   "/api/auth/refresh",
		body:   fmt.Sprintf(`{"refreshToken":%q}`, pair.RefreshToken),
	})
	assert.Equal(t, http.StatusUnauthorized, refresh.Code)

	second := s.tokensFor(t, s.user)
	withoutBody := s.do(call{method: http.MethodPost, path: "/api/auth/logout", token: second.AccessToken})
	assert.Equal(t, http.StatusOK, withoutBody.Code, "тело запроса необязательно")
}

// ===== ADMIN =====

func TestAdmin_RequiresAdminRole(t *testing.T) {
	s := newServer(t)

	anonymous := s.do(call{method: http.MethodGet, path: "/api/admin/revocations/stats"})
	assert.Equal(t, http.StatusUnauthorized, anonymous.Code)

	user := s.do(call{method: http.MethodGet, path: "/api/admin/revocations/stats", token: s.tokensFor(t, s.user).AccessToken})
	assert.Equal(t, http.StatusForbidden, user.Code)

	admin := s.do(call{method: http.MethodGet, path: "/api/admin/revocations/stats", token: s.tokensFor(t, s.admin).AccessToken})
	assert.Equal(t, http.StatusOK, admin.Code)
}

func TestAdmin_UnlockUser(t *testing.T) {
	s := newServer(t)
	adminToken := s.tokensFor(t, s.admin).AccessToken

	for i := 0; i < 5; i++ {
		s.login(t, "user@example.com", "wrong", fmt.Sprintf("10.3.0.%d:1000", i))
	}
	require.Equal(t, http.StatusForbidden, s.login(t, "user@example.com", password, "10.3.0.10:1000").Code)

	state := s.do(call{method: http.MethodGet, path: "/api/admin/users/user-1/lockout", token: adminToken})
	require.Equal(t, http.StatusOK, state.Code)
	lockout := decode[requestresponse.LockoutStateResponse](t, state)
	assert.True(t, lockout.Response.Locked)
	assert.Equal(t, 5, lockout.Response.FailedAttempts)

	unlock := s.do(call{
		method: http.MethodPost,
		path:   "/api/admin/users/user-1/unlock",
		body:   `{"reason":"звонок в поддержку"}`,
		token:  adminToken,
	})
	require.Equal(t, http.StatusOK, unlock.Code, unlock.Body.String())
	assert.True(t, decode[requestresponse.UnlockResponse](t, unlock).Response.Unlocked)

	assert.Equal(t, http.StatusOK, s.login(t, "user@example.com", password, "10.3.0.11:1000").Code)
}

func TestAdmin_RevokeUserAndListings(t *testing.T) {
	s := newServer(t)
	adminToken := s.tokensFor(t, s.admin).AccessToken
	victim := s.tokensFor(t, s.user)

	revoke := s.do(call{
		method: http.MethodPost,
		path:   "/api/admin/users/user-1/revoke",
		body:   `{"reason":"incident"}`,
		token:  adminToken,
	})
	require.Equal(t, http.StatusOK, revoke.Code, revoke.Body.String())

	me := s.do(call{method: http.MethodGet, path: "/api/auth/me", token: victim.AccessToken})
	assert.Equal(t, http.StatusUnauthorized, me.Code)

	claims, err := s.codec.Validate(s.tokensFor(t, s.user).AccessToken)
	require.NoError(t, err)

	single := s.do(call{method: http.MethodPost, path: "/api/admin/revocations/" + claims.ID, token: adminToken})
	require.Equal(t, http.StatusOK, single.Code)

	entry := s.do(call{method: http.MethodGet, path: "/api/admin/revocations/" + claims.ID, token: adminToken})
	require.Equal(t, http.StatusOK, entry.Code)
	assert.Equal(t, "admin_revoked", decode[requestresponse.RevocationEntryResponse](t, entry).Response.Reason)

	missing := s.do(call{method: http.MethodGet, path: "/api/admin/revocations/unknown-jti", token: adminToken})
	assert.Equal(t, http.StatusNotFound, missing.Code)

	byReason := s.do(call{method: http.MethodGet, path: "/api/admin/revocations?reason=admin_revoked", token: adminToken})
	require.Equal(t, http.StatusOK, byReason.Code)
	assert.Equal(t, 1, decode[requestresponse.RevocationListResponse](t, byReason).Response.Count)

	noFilter := s.do(call{method: http.MethodGet, path: "/api/admin/revocations", token: adminToken})
	assert.Equal(t, http.StatusBadRequest, noFilter.Code)

	badType := s.do(call{method: http.MethodGet, path: "/api/admin/revocations?type=session", token: adminToken})
	assert.Equal(t, http.StatusBadRequest, badType.Code)

	byUser := s.do(call{method: http.MethodGet, path: "/api/admin/users/user-2/revocations", token: adminToken})
	require.Equal(t, http.StatusOK, byUser.Code)
	assert.Zero(t, decode[requestresponse.RevocationListResponse](t, byUser).Response.Count)
}

func TestAdmin_RateLimits(t *testing.T) {
	s := newServer(t)
	adminToken := s.tokensFor(t, s.admin).AccessToken

	for i := 0; i < 6; i++ {
		s.login(t, "nobody@example.com", "wrong", "198.51.100.9:1000")
	}

	status := s.do(call{method: http.MethodGet, path: "/api/admin/rate-limits/198.51.100.9", token: adminToken})
	require.Equal(t, http.StatusOK, status.Code)
	body := decode[requestresponse.RateLimitStatusResponse](t, status)
	assert.Equal(t, int64(6), body.Response.Scopes[service.ScopeLogin].Count)
	assert.False(t, body.Response.Scopes[service.ScopeLogin].Allowed)
	assert.False(t, body.Response.Suspicious)

	reset := s.do(call{method: http.MethodDelete, path: "/api/admin/rate-limits/198.51.100.9", token: adminToken})
	require.Equal(t, http.StatusOK, reset.Code)

	assert.Equal(t, http.StatusUnauthorized, s.login(t, "nobody@example.com", "wrong", "198.51.100.9:1000").Code,
		"после сброса лимит снова доступен")

	invalid := s.do(call{method: http.MethodGet, path: "/api/admin/rate-limits/not-an-ip", token: adminToken})
	assert.Equal(t, http.StatusBadRequest, invalid.Code)
}

// ===== MIDDLEWARE =====

func TestRateLimitMiddleware(t *testing.T) {
	store := repository.NewMemoryStore(0)
	cfg := &config.AppConfig{JWT: config.JWTConfig{SecretKey: "secret"}}
	require.NoError(t, cfg.Finalize())
	limiter := service.NewRateLimitService(store, metrics.Noop(), cfg.RateLimit)

	scope := model.RateLimitScope{Name: "test", Prefix: "rate_limit:test:", Limit: 2, Window: time.Minute}
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	protected := handler.RateLimitMiddleware(limiter, scope, false)(ok)

	send := func(remote string) *httptest.ResponseRecorder {
		request := httptest.NewRequest(http.MethodGet, "/", nil)
		request.RemoteAddr = remote
		recorder := httptest.NewRecorder()
		protected.ServeHTTP(recorder, request)
		return recorder
	}

	first := send("10.9.0.1:1")
	assert.Equal(t, http.StatusNoContent, first.Code)
	assert.Equal(t, "2", first.Header().Get(handler.HeaderRateLimitLimit))
	assert.Equal(t, "1", first.Header().Get(handler.HeaderRateLimitRemaining))
	assert.Equal(t, "60", first.Header().Get(handler.HeaderRateLimitReset))

	second := send("10.9.0.1:2")
	assert.Equal(t, http.StatusNoContent, second.Code)
	assert.Equal(t, "0", second.Header().Get(handler.HeaderRateLimitRemaining))

	third := send("10.9.0.1:3")
	assert.Equal(t, http.StatusTooManyRequests, third.Code)
	assert.NotEmpty(t, third.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusNoContent, send("10.9.0.2:1").Code, "другой IP не затронут")
}

func TestRateLimitMiddleware_ForwardedFor(t *testing.T) {
	store := repository.NewMemoryStore(0)
	cfg := &config.AppConfig{JWT: config.JWTConfig{SecretKey: "secret"}}
	require.NoError(t, cfg.Finalize())
	limiter := service.NewRateLimitService(store, metrics.Noop(), cfg.RateLimit)

	scope := model.RateLimitScope{Name: "test", Prefix: "rate_limit:test:", Limit: 1, Window: time.Minute}
	protected := handler.RateLimitMiddleware(limiter, scope, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for _, client := range []string{"203.0.113.1", "203.0.113.2"} {
		request := httptest.NewRequest(http.MethodGet, "/", nil)
		request.Header.Set("X-Forwarded-For", client)
		recorder := httptest.NewRecorder()
		protected.ServeHTTP(recorder, request)
		assert.Equal(t, http.StatusOK, recorder.Code, client)
	}
}

func TestBurstLimitMiddleware(t *testing.T) {
	rule := config.RateLimitRule{Limit: 2, Window: "1m"}
	calls := 0
	protected := handler.BurstLimitMiddleware(rule, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func(remote string) *httptest.ResponseRecorder {
		request := httptest.NewRequest(http.MethodGet, "/", nil)
		request.RemoteAddr = remote
		recorder := httptest.NewRecorder()
		protected.ServeHTTP(recorder, request)
		return recorder
	}

	// 1. Два запроса проходят, третий отсекается без вызова обработчика
	assert.Equal(t, http.StatusNoContent, send("10.8.0.1:1").Code)
	assert.Equal(t, http.StatusNoContent, send("10.8.0.1:2").Code)

	third := send("10.8.0.1:3")
	assert.Equal(t, http.StatusTooManyRequests, third.Code)
	assert.Equal(t, "60", third.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(third.Body.Bytes(), &body))
	assert.EqualValues(t, http.StatusTooManyRequests, body["code"])
	assert.EqualValues(t, 60, body["retry_after"])
	assert.Equal(t, 2, calls)

	// 2. Порт не входит в ключ, другой IP не затронут
	assert.Equal(t, http.StatusNoContent, send("10.8.0.2:1").Code)
}
