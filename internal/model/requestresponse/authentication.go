package requestresponse

import (
	"tariff-auth/internal/model"
	"time"
)

// LoginRequest : тело запроса на аутентификацию
type LoginRequest struct {
	Email    string `json:"email" example:"user@example.com"`
	Password string `json:"password" example:"P@ssw0rd123"`
}

// TokensResponse : ответ на вход и обновление токенов
type TokensResponse struct {
	Response model.TokensPair `json:"response"`
}

// CurrentUserResponse : информация о текущем пользователе
type CurrentUserResponse struct {
	Response struct {
		UserID    string    `json:"userId" example:"b6a1e1c4-4b1d-4f1e-8b29-1234567890ab"`
		Email     string    `json:"email" example:"user@example.com"`
		Role      string    `json:"role" example:"USER"`
		ExpiresAt time.Time `json:"expiresAt"`
	} `json:"response"`
}

// RefreshTokenRequest : запрос на обновление пары токенов
type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken" example:"eyJhbGciOiJIUzUxMiIsInR5cCI6IkpXVCJ9..."`
}

// LogoutRequest : refresh токен необязателен, без него отзывается только access
type LogoutRequest struct {
	RefreshToken string `json:"refreshToken,omitempty" example:"eyJhbGciOiJIUzUxMiIsInR5cCI6IkpXVCJ9..."`
}

// LogoutResponse : ответ на завершение сессии
type LogoutResponse struct {
	Response struct {
		LoggedOut bool `json:"loggedOut" example:"true"`
	} `json:"response"`
}

// RedeemPurposeTokenRequest : одноразовый токен и ожидаемое назначение
type RedeemPurposeTokenRequest struct {
	Token   string `json:"token" example:"eyJhbGciOiJIUzUxMiIsInR5cCI6IkpXVCJ9..."`
	Purpose string `json:"purpose" example:"password_reset"`
}

type RedeemPurposeTokenResponse struct {
	Response struct {
		UserID   string `json:"userId" example:"b6a1e1c4-4b1d-4f1e-8b29-1234567890ab"`
		Purpose  string `json:"purpose" example:"password_reset"`
		Redeemed bool   `json:"redeemed" example:"true"`
	} `json:"response"`
}

// ErrorResponse : стандартная структура ошибки (util.HandleError)
type ErrorResponse struct {
	Error      string `json:"error" example:"Unauthorized"`
	Message    string `json:"message" example:"необходимо войти заново"`
	Code       int    `json:"code" example:"401"`
	RetryAfter int64  `json:"retry_after,omitempty" example:"900"`
	ResetAt    string `json:"reset_at,omitempty" example:"2025-03-01T12:15:00Z"`
}
