package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/carthagofood/carthago/internal/middleware"
	"github.com/carthagofood/carthago/internal/models"
)

// NewRouter constructs the sandbox HTTP handler.
//
// Routes:
//
//	POST  /auth/register                 → authHandler.Register
//	POST  /auth/login                    → authHandler.Login
//	POST  /auth/sms/request-otp          → authHandler.RequestOTP
//	POST  /auth/sms/verify-otp           → authHandler.VerifyOTP
//	PUT   /auth/profile                  → authHandler.UpdateProfile (bearer)
//	GET   /ws                            → pushHandler.Connect (bearer)
//	PATCH /admin/restaurants/{id}/approve → adminHandler.ApproveRestaurant (admin)
//	POST  /dev/push                      → pushHandler.Publish
//
// Middleware chain (applied in order):
//  1. RequestID, Recoverer
//  2. AllowContentType("application/json"): rejects non-JSON bodies
//  3. WithRequestLogging(logger)
func NewRouter(
	authHandler *AuthHandler,
	pushHandler *PushHandler,
	adminHandler *AdminHandler,
	verifier middleware.Verifier,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.AllowContentType("application/json"))
	r.Use(middleware.WithRequestLogging(logger))

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
		r.Post("/sms/request-otp", authHandler.RequestOTP)
		r.Post("/sms/verify-otp", authHandler.VerifyOTP)

		r.With(middleware.BearerAuth(verifier)).Put("/profile", authHandler.UpdateProfile)
	})

	r.With(middleware.BearerAuth(verifier)).Get("/ws", pushHandler.Connect)

	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.BearerAuth(verifier))
		r.Use(middleware.RequireRole(models.RoleAdmin))
		r.Patch("/restaurants/{id}/approve", adminHandler.ApproveRestaurant)
	})

	r.Post("/dev/push", pushHandler.Publish)

	return r
}
