package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"tariff-auth/internal/model/requestresponse"
	"tariff-auth/internal/ports"
	"tariff-auth/internal/security"
	"tariff-auth/internal/util"
	"time"
)

type AuthenticationHandler struct {
	ports.AuthenticationService
	trustProxyHeaders bool
	now               func() time.Time
}

func NewAuthenticationHandler(authenticationService ports.AuthenticationService, trustProxyHeaders bool) *AuthenticationHandler {
	return &AuthenticationHandler{
		AuthenticationService: authenticationService,
		trustProxyHeaders:     trustProxyHeaders,
		now:                   time.Now,
	}
}

// Login godoc
// @Summary Аутентификация пользователя
// @Description Выдает пару access/refresh токенов по email и паролю. Лимит 5 попыток за 15 минут с одного IP, после 5 неудачных попыток подряд учетная запись блокируется.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param body body requestresponse.LoginRequest true "Тело запроса"
// @Success 200 {object} requestresponse.TokensResponse "Успешная аутентификация"
// @Failure 400 {object} requestresponse.ErrorResponse "Некорректный JSON или пустые поля"
// @Failure 401 {object} requestresponse.ErrorResponse "Неверный логин или пароль"
// @Failure 403 {object} requestresponse.ErrorResponse "Учетная запись заблокирована (retry_after, reset_at)"
// @Failure 429 {object} requestresponse.ErrorResponse "Слишком много попыток (retry_after, reset_at)"
// @Failure 500 {object} requestresponse.ErrorResponse "Внутренняя ошибка сервера"
// @Router /api/auth/login [post]
func (h *AuthenticationHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req requestresponse.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		util.HandleError(w, "email и password обязательны", http.StatusBadRequest)
		return
	}

	ip := security.ClientIP(r, h.trustProxyHeaders)
	tokens, err := h.AuthenticationService.Login(r.Context(), req.Email, req.Password, ip, r.UserAgent())
	if err != nil {
		h.handleAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, requestresponse.TokensResponse{Response: *tokens})
}

// Refresh godoc
// @Summary Обновление токенов
// @Description Выдает новую пару по refresh токену. Старый refresh токен отзывается и повторно не принимается.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param body body requestresponse.RefreshTokenRequest true "Тело запроса"
// @Success 200 {object} requestresponse.TokensResponse "Новые access и refresh токены"
// @Failure 400 {object} requestresponse.ErrorResponse "Неверный JSON"
// @Failure 401 {object} requestresponse.ErrorResponse "Невалидный, просроченный или отозванный токен"
// @Failure 403 {object} requestresponse.ErrorResponse "Учетная запись заблокирована"
// @Failure 429 {object} requestresponse.ErrorResponse "Слишком много запросов"
// @Failure 500 {object} requestresponse.ErrorResponse "Внутренняя ошибка сервера"
// @Router /api/auth/refresh [post]
func (h *AuthenticationHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req requestresponse.RefreshTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return
	}

	if strings.TrimSpace(req.RefreshToken) == "" {
		util.HandleError(w, "refreshToken обязателен", http.StatusBadRequest)
		return
	}

	tokens, err := h.AuthenticationService.Refresh(r.Context(), req.RefreshToken, security.ClientIP(r, h.trustProxyHeaders))
	if err != nil {
		h.handleAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, requestresponse.TokensResponse{Response: *tokens})
}

// Logout godoc
// @Summary Завершение сессии
// @Description Отзывает текущий access токен и, если он передан в теле, refresh токен того же пользователя.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param body body requestresponse.LogoutRequest false "Тело запроса"
// @Success 200 {object} requestresponse.LogoutResponse
// @Failure 401 {object} requestresponse.ErrorResponse
// @Failure 500 {object} requestresponse.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/auth/logout [post]
func (h *AuthenticationHandler) Logout(w http.ResponseWriter, r *http.Request) {
	principal, ok := security.PrincipalFromContext(r.Context())
	if !ok {
		util.HandleError(w, security.UnauthorizedMessage, http.StatusUnauthorized)
		return
	}

	var req requestresponse.LogoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		util.HandleError(w, "некорректный JSON", http.StatusBadRequest)
		return
	}

	if err := h.AuthenticationService.Logout(r.Context(), principal, req.RefreshToken); err != nil {
		log.Printf("[Auth] ошибка выхода user=%s: %v", principal.UserID, err)
		util.HandleError(w, "внутренняя ошибка сервера", http.StatusInternalServerError)
		return
	}

	resp := requestresponse.LogoutResponse{}
	resp.Response.LoggedOut = true
	writeJSON(w, http.StatusOK, resp)
}

// RedeemPurposeToken godoc
// @Summary Погашение одноразового токена
// @Description Проверяет токен назначения (например, сброс пароля) и отзывает его. Повторно токен не принимается.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param body body requestresponse.RedeemPurposeTokenRequest true "Тело запроса"
// @Success 200 {object} requestresponse.RedeemPurposeTokenResponse
// @Failure 400 {object} requestresponse.ErrorResponse "Неверный JSON или пустые поля"
// @Failure 401 {object} requestresponse.ErrorResponse "Невалидный, просроченный, чужого назначения или уже использованный токен"
// @Failure 500 {object} requestresponse.ErrorResponse "Внутренняя ошибка сервера"
// @Router /api/auth/purpose-token/redeem [post]
func (h *AuthenticationHandler) RedeemPurposeToken(w http.ResponseWriter, r *http.Request) {
	var req requestresponse.RedeemPurposeTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return
	}

	req.Purpose = strings.TrimSpace(req.Purpose)
	if strings.TrimSpace(req.Token) == "" || req.Purpose == "" {
		util.HandleError(w, "token и purpose обязательны", http.StatusBadRequest)
		return
	}

	principal, err := h.AuthenticationService.RedeemPurposeToken(r.Context(), req.Token, req.Purpose)
	if err != nil {
		h.handleAuthError(w, err)
		return
	}

	resp := requestresponse.RedeemPurposeTokenResponse{}
	resp.Response.UserID = principal.UserID
	resp.Response.Purpose = req.Purpose
	resp.Response.Redeemed = true
	writeJSON(w, http.StatusOK, resp)
}

// Me godoc
// @Summary Текущий пользователь
// @Description Возвращает данные субъекта из access токена
// @Tags Authentication
// @Produce json
// @Success 200 {object} requestresponse.CurrentUserResponse
// @Failure 401 {object} requestresponse.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/auth/me [get]
func (h *AuthenticationHandler) Me(w http.ResponseWriter, r *http.Request) {
	principal, ok := security.PrincipalFromContext(r.Context())
	if !ok {
		util.HandleError(w, security.UnauthorizedMessage, http.StatusUnauthorized)
		return
	}

	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	resp := requestresponse.CurrentUserResponse{}
	resp.Response.UserID = principal.UserID
	resp.Response.Email = principal.Subject
	resp.Response.Role = principal.Role
	resp.Response.ExpiresAt = principal.ExpiresAt
	writeJSON(w, http.StatusOK, resp)
}

// MeHead godoc
// @Summary Текущий пользователь
// @Description Проверка access токена без тела ответа
// @Tags Authentication
// @Success 200
// @Failure 401 {object} requestresponse.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/auth/me [head]
func (h *AuthenticationHandler) MeHead(w http.ResponseWriter, r *http.Request) {
	h.Me(w, r)
}

// handleAuthError : текст ошибки токена наружу не отдается, причина остается в логах
func (h *AuthenticationHandler) handleAuthError(w http.ResponseWriter, err error) {
	var (
		limited *security.RateLimitedError
		locked  *security.AccountLockedError
	)

	switch {
	case errors.As(err, &limited):
		util.HandleRetryableError(w, "слишком много запросов, попробуйте позже", http.StatusTooManyRequests, limited.RetryAfter, h.now())
	case errors.As(err, &locked):
		util.HandleRetryableError(w, "учетная запись временно заблокирована", http.StatusForbidden, locked.Until.Sub(h.now()), h.now())
	case errors.Is(err, security.ErrInvalidCredentials):
		util.HandleError(w, "неверный логин или пароль", http.StatusUnauthorized)
	case security.IsTokenError(err):
		log.Printf("[Auth] токен отклонен (%s): %v", security.TokenErrorKind(err), err)
		util.HandleError(w, security.UnauthorizedMessage, http.StatusUnauthorized)
	default:
		log.Println(err)
		util.HandleError(w, "внутренняя ошибка сервера", http.StatusInternalServerError)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, target interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		util.HandleError(w, "некорректный JSON", http.StatusBadRequest)
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Println("ошибка кодирования ответа:", err)
	}
}
