package handler

import (
	"tariff-auth/internal/model"
	"tariff-auth/internal/security"

	"github.com/go-chi/chi/v5"
)

func RegisterAuthRoutes(r chi.Router, h *AuthenticationHandler, authenticator security.Authenticator) {
	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Post("/refresh", h.Refresh)
		r.Post("/purpose-token/redeem", h.RedeemPurposeToken)

		r.Group(func(r chi.Router) {
			r.Use(security.AuthMiddleware(authenticator, model.TokenTypeAccess))
			r.Use(security.RequireAuth)
			r.Get("/me", h.Me)
			r.Head("/me", h.MeHead)
			r.Post("/logout", h.Logout)
		})
	})
}

func RegisterAdminRoutes(r chi.Router, h *AdminHandler, authenticator security.Authenticator) {
	r.Route("/api/admin", func(r chi.Router) {
		r.Use(security.AuthMiddleware(authenticator, model.TokenTypeAccess))
		r.Use(security.RequireRole(model.RoleAdmin))

		r.Route("/users/{id}", func(r chi.Router) {
			r.Post("/unlock", h.UnlockUser)
			r.Get("/lockout", h.LockoutState)
			r.Post("/revoke", h.RevokeUser)
			r.Get("/revocations", h.UserRevocations)
		})

		r.Get("/revocations", h.ListRevocations)
		r.Get("/revocations/stats", h.RevocationStats)
		r.Get("/revocations/{tokenId}", h.GetRevocation)
		r.Post("/revocations/{tokenId}", h.RevokeToken)

		r.Get("/rate-limits/{ip}", h.RateLimitStatus)
		r.Delete("/rate-limits/{ip}", h.ResetRateLimits)
	})
}
