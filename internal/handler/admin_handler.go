package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"tariff-auth/internal/model"
	"tariff-auth/internal/model/requestresponse"
	"tariff-auth/internal/ports"
	"tariff-auth/internal/security"
	"tariff-auth/internal/util"

	"github.com/go-chi/chi/v5"
)

// AdminHandler : ручки администратора безопасности (роль ADMIN)
type AdminHandler struct {
	auth        ports.AuthenticationService
	lockout     ports.LockoutTracker
	revocations ports.RevocationStore
	limits      ports.RateLimitInspector
}

func NewAdminHandler(
	auth ports.AuthenticationService,
	lockout ports.LockoutTracker,
	revocations ports.RevocationStore,
	limits ports.RateLimitInspector,
) *AdminHandler {
	return &AdminHandler{
		auth:        auth,
		lockout:     lockout,
		revocations: revocations,
		limits:      limits,
	}
}

// UnlockUser godoc
// @Summary Разблокировка учетной записи
// @Description Снимает блокировку и обнуляет счетчик неудачных входов. Действие попадает в аудит.
// @Tags Admin
// @Accept json
// @Produce json
// @Param id path string true "UUID пользователя"
// @Param body body requestresponse.AdminActionRequest false "Причина"
// @Success 200 {object} requestresponse.UnlockResponse
// @Failure 400 {object} requestresponse.ErrorResponse
// @Failure 401 {object} requestresponse.ErrorResponse
// @Failure 403 {object} requestresponse.ErrorResponse
// @Failure 500 {object} requestresponse.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/admin/users/{id}/unlock [post]
func (h *AdminHandler) UnlockUser(w http.ResponseWriter, r *http.Request) {
	admin, req, ok := h.adminAction(w, r)
	if !ok {
		return
	}
	userID := chi.URLParam(r, "id")

	if err := h.lockout.Unlock(r.Context(), userID, admin.UserID, req.Reason); err != nil {
		log.Printf("[Admin] ошибка разблокировки %s: %v", userID, err)
		util.HandleError(w, "не удалось разблокировать пользователя", http.StatusInternalServerError)
		return
	}

	resp := requestresponse.UnlockResponse{}
	resp.Response.UserID = userID
	resp.Response.Unlocked = true
	writeJSON(w, http.StatusOK, resp)
}

// LockoutState godoc
// @Summary Состояние блокировки
// @Tags Admin
// @Produce json
// @Param id path string true "UUID пользователя"
// @Success 200 {object} requestresponse.LockoutStateResponse
// @Failure 404 {object} requestresponse.ErrorResponse
// @Failure 500 {object} requestresponse.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/admin/users/{id}/lockout [get]
func (h *AdminHandler) LockoutState(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	state, err := h.lockout.State(r.Context(), userID)
	if errors.Is(err, ports.ErrNotFound) {
		util.HandleError(w, "пользователь не найден", http.StatusNotFound)
		return
	} else if err != nil {
		log.Printf("[Admin] %v", err)
		util.HandleError(w, "внутренняя ошибка сервера", http.StatusInternalServerError)
		return
	}

	resp := requestresponse.LockoutStateResponse{}
	resp.Response.LockoutState = *state
	resp.Response.Locked, _ = h.lockout.IsLocked(r.Context(), userID)
	writeJSON(w, http.StatusOK, resp)
}

// RevokeUser godoc
// @Summary Отзыв всех токенов пользователя
// @Description Все токены, выпущенные до этого момента, перестают приниматься. Действие попадает в аудит.
// @Tags Admin
// @Accept json
// @Produce json
// @Param id path string true "UUID пользователя"
// @Param body body requestresponse.AdminActionRequest false "Причина"
// @Success 200 {object} requestresponse.RevokeUserResponse
// @Failure 400 {object} requestresponse.ErrorResponse
// @Failure 500 {object} requestresponse.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/admin/users/{id}/revoke [post]
func (h *AdminHandler) RevokeUser(w http.ResponseWriter, r *http.Request) {
	admin, req, ok := h.adminAction(w, r)
	if !ok {
		return
	}
	userID := chi.URLParam(r, "id")

	if err := h.auth.RevokeAllForUser(r.Context(), userID, admin.UserID, req.Reason); err != nil {
		log.Printf("[Admin] ошибка отзыва токенов %s: %v", userID, err)
		util.HandleError(w, "не удалось отозвать токены", http.StatusInternalServerError)
		return
	}

	resp := requestresponse.RevokeUserResponse{}
	resp.Response.UserID = userID
	resp.Response.Revoked = true
	writeJSON(w, http.StatusOK, resp)
}

// UserRevocations godoc
// @Summary Отозванные токены пользователя
// @Tags Admin
// @Produce json
// @Param id path string true "UUID пользователя"
// @Success 200 {object} requestresponse.RevocationListResponse
// @Failure 500 {object} requestresponse.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/admin/users/{id}/revocations [get]
func (h *AdminHandler) UserRevocations(w http.ResponseWriter, r *http.Request) {
	entries, err := h.revocations.ListByUser(r.Context(), chi.URLParam(r, "id"))
	h.writeRevocations(w, entries, err)
}

// ListRevocations godoc
// @Summary Черный список токенов
// @Description Фильтр по типу токена или по причине отзыва, один из параметров обязателен
// @Tags Admin
// @Produce json
// @Param type query string false "access | refresh | custom"
// @Param reason query string false "Причина отзыва"
// @Success 200 {object} requestresponse.RevocationListResponse
// @Failure 400 {object} requestresponse.ErrorResponse
// @Failure 500 {object} requestresponse.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/admin/revocations [get]
func (h *AdminHandler) ListRevocations(w http.ResponseWriter, r *http.Request) {
	tokenType := model.TokenType(r.URL.Query().Get("type"))
	reason := strings.TrimSpace(r.URL.Query().Get("reason"))

	switch {
	case tokenType != "":
		if !tokenType.Valid() {
			util.HandleError(w, "неизвестный тип токена", http.StatusBadRequest)
			return
		}
		entries, err := h.revocations.ListByType(r.Context(), tokenType)
		h.writeRevocations(w, entries, err)
	case reason != "":
		entries, err := h.revocations.ListByReason(r.Context(), reason)
		h.writeRevocations(w, entries, err)
	default:
		util.HandleError(w, "укажите type или reason", http.StatusBadRequest)
	}
}

// GetRevocation godoc
// @Summary Запись черного списка
// @Tags Admin
// @Produce json
// @Param tokenId path string true "jti токена"
// @Success 200 {object} requestresponse.RevocationEntryResponse
// @Failure 404 {object} requestresponse.ErrorResponse
// @Failure 500 {object} requestresponse.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/admin/revocations/{tokenId} [get]
func (h *AdminHandler) GetRevocation(w http.ResponseWriter, r *http.Request) {
	entry, err := h.revocations.Get(r.Context(), chi.URLParam(r, "tokenId"))
	if errors.Is(err, ports.ErrNotFound) {
		util.HandleError(w, "токен не отозван", http.StatusNotFound)
		return
	} else if err != nil {
		log.Printf("[Admin] %v", err)
		util.HandleError(w, "внутренняя ошибка сервера", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, requestresponse.RevocationEntryResponse{Response: *entry})
}

// RevokeToken godoc
// @Summary Отзыв токена по jti
// @Tags Admin
// @Accept json
// @Produce json
// @Param tokenId path string true "jti токена"
// @Param body body requestresponse.AdminActionRequest false "Причина"
// @Success 200 {object} requestresponse.RevokeTokenResponse
// @Failure 500 {object} requestresponse.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/admin/revocations/{tokenId} [post]
func (h *AdminHandler) RevokeToken(w http.ResponseWriter, r *http.Request) {
	admin, req, ok := h.adminAction(w, r)
	if !ok {
		return
	}
	tokenID := chi.URLParam(r, "tokenId")

	reason := req.Reason
	if reason == "" {
		reason = "admin_revoked"
	}

	if err := h.auth.Revoke(r.Context(), tokenID, reason); err != nil {
		log.Printf("[Admin] ошибка отзыва токена %s: %v", tokenID, err)
		util.HandleError(w, "не удалось отозвать токен", http.StatusInternalServerError)
		return
	}
	log.Printf("[Admin] токен %s отозван администратором %s", tokenID, admin.UserID)

	resp := requestresponse.RevokeTokenResponse{}
	resp.Response.TokenID = tokenID
	resp.Response.Revoked = true
	writeJSON(w, http.StatusOK, resp)
}

// RevocationStats godoc
// @Summary Статистика черного списка
// @Tags Admin
// @Produce json
// @Success 200 {object} requestresponse.RevocationStatsResponse
// @Failure 500 {object} requestresponse.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/admin/revocations/stats [get]
func (h *AdminHandler) RevocationStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.revocations.Stats(r.Context())
	if err != nil {
		log.Printf("[Admin] %v", err)
		util.HandleError(w, "хранилище недоступно", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, requestresponse.RevocationStatsResponse{Response: stats})
}

// RateLimitStatus godoc
// @Summary Лимиты по IP
// @Tags Admin
// @Produce json
// @Param ip path string true "IP адрес"
// @Success 200 {object} requestresponse.RateLimitStatusResponse
// @Failure 400 {object} requestresponse.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/admin/rate-limits/{ip} [get]
func (h *AdminHandler) RateLimitStatus(w http.ResponseWriter, r *http.Request) {
	ip, ok := ipParam(w, r)
	if !ok {
		return
	}

	resp := requestresponse.RateLimitStatusResponse{}
	resp.Response.IPRateLimitStatus = h.limits.StatusForIP(r.Context(), ip)
	resp.Response.Suspicious = h.limits.IsSuspicious(r.Context(), ip)
	writeJSON(w, http.StatusOK, resp)
}

// ResetRateLimits godoc
// @Summary Сброс лимитов по IP
// @Tags Admin
// @Produce json
// @Param ip path string true "IP адрес"
// @Success 200 {object} requestresponse.RateLimitResetResponse
// @Failure 400 {object} requestresponse.ErrorResponse
// @Failure 503 {object} requestresponse.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/admin/rate-limits/{ip} [delete]
func (h *AdminHandler) ResetRateLimits(w http.ResponseWriter, r *http.Request) {
	ip, ok := ipParam(w, r)
	if !ok {
		return
	}

	if err := h.limits.ClearIP(r.Context(), ip); err != nil {
		log.Printf("[Admin] %v", err)
		util.HandleError(w, "хранилище недоступно", http.StatusServiceUnavailable)
		return
	}

	resp := requestresponse.RateLimitResetResponse{}
	resp.Response.IPAddress = ip
	resp.Response.Cleared = true
	writeJSON(w, http.StatusOK, resp)
}

// adminAction : субъект из контекста и необязательное тело с причиной
func (h *AdminHandler) adminAction(w http.ResponseWriter, r *http.Request) (*model.Principal, requestresponse.AdminActionRequest, bool) {
	var req requestresponse.AdminActionRequest

	admin, ok := security.PrincipalFromContext(r.Context())
	if !ok {
		util.HandleError(w, security.UnauthorizedMessage, http.StatusUnauthorized)
		return nil, req, false
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		util.HandleError(w, "некорректный JSON", http.StatusBadRequest)
		return nil, req, false
	}
	req.Reason = strings.TrimSpace(req.Reason)

	return admin, req, true
}

func (h *AdminHandler) writeRevocations(w http.ResponseWriter, entries []model.RevocationEntry, err error) {
	if err != nil {
		log.Printf("[Admin] %v", err)
		util.HandleError(w, "хранилище недоступно", http.StatusServiceUnavailable)
		return
	}
	if entries == nil {
		entries = []model.RevocationEntry{}
	}

	resp := requestresponse.RevocationListResponse{}
	resp.Response.Count = len(entries)
	resp.Response.Entries = entries
	writeJSON(w, http.StatusOK, resp)
}

func ipParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	ip := chi.URLParam(r, "ip")
	if net.ParseIP(ip) == nil {
		util.HandleError(w, "некорректный IP адрес", http.StatusBadRequest)
		return "", false
	}
	return ip, true
}
