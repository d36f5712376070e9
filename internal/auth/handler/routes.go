package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

func RegisterRoutes(app *fiber.App, h *AuthHandler) {
	auth := app.Group("/auth")

	// Sign-in fans out to the identity provider; keep abuse off that path.
	auth.Post("/signin", limiter.New(limiter.Config{
		Max:        10,
		Expiration: time.Minute,
	}), h.SignIn)

	auth.Post("/refresh", h.Refresh)
	auth.Post("/signout", h.SignOut)

	auth.Get("/me", h.RequireAuth(), h.Me)
	auth.Patch("/profile", h.RequireAuth(), h.UpdateProfile)
	auth.Post("/delete-account", h.RequireAuth(), h.DeleteAccount)
}
