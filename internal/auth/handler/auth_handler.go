package handler

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/flexaargo/loginlab/internal/auth/dto"
	"github.com/flexaargo/loginlab/internal/auth/service"
	apperrors "github.com/flexaargo/loginlab/internal/errors"
)

type AuthHandler struct {
	authService *service.AuthService
	tokens      service.TokenGenerator
}

func NewAuthHandler(authService *service.AuthService, tokens service.TokenGenerator) *AuthHandler {
	return &AuthHandler{authService: authService, tokens: tokens}
}

func (h *AuthHandler) SignIn(c *fiber.Ctx) error {
	var input dto.SignInInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid input",
		})
	}

	if input.IdentityToken == "" || input.AuthorizationCode == "" || input.Nonce == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "identityToken, authorizationCode and nonce are required",
		})
	}

	input.UserAgent = string(c.Request().Header.UserAgent())
	input.DeviceName = c.Get("X-Device-Name")
	input.IPAddress = clientIP(c)

	result, err := h.authService.SignIn(c.Context(), input)
	if err != nil {
		return h.fail(c, err)
	}

	status := fiber.StatusOK
	if result.Created {
		status = fiber.StatusCreated
	}

	return c.Status(status).JSON(result)
}

func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	var input dto.RefreshInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid input"})
	}
	if input.RefreshToken == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "refreshToken is required"})
	}

	input.UserAgent = string(c.Request().Header.UserAgent())
	input.DeviceName = c.Get("X-Device-Name")
	input.IPAddress = clientIP(c)

	pair, err := h.authService.Refresh(c.Context(), input)
	if err != nil {
		return h.fail(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(pair)
}

func (h *AuthHandler) SignOut(c *fiber.Ctx) error {
	var input dto.SignOutInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid input"})
	}
	if input.RefreshToken == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "refreshToken is required"})
	}

	found, err := h.authService.SignOut(c.Context(), input.RefreshToken)
	if err != nil {
		return h.fail(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(dto.SignOutResult{Found: found})
}

func (h *AuthHandler) Me(c *fiber.Ctx) error {
	user, err := h.authService.CurrentUser(c.Context(), authenticatedUserID(c))
	if err != nil {
		return h.fail(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(user)
}

func (h *AuthHandler) UpdateProfile(c *fiber.Ctx) error {
	var input dto.UpdateProfileInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid input"})
	}

	user, err := h.authService.UpdateProfile(c.Context(), authenticatedUserID(c), input)
	if err != nil {
		return h.fail(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(user)
}

func (h *AuthHandler) DeleteAccount(c *fiber.Ctx) error {
	var input dto.DeleteAccountInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid input"})
	}
	if input.IdentityToken == "" || input.AuthorizationCode == "" || input.Nonce == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "identityToken, authorizationCode and nonce are required",
		})
	}

	if err := h.authService.DeleteAccount(c.Context(), authenticatedUserID(c), input); err != nil {
		return h.fail(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"deleted": true})
}

// fail maps a service error to the client-facing taxonomy. Authentication
// failures are deliberately undifferentiated; provider and internal failures
// keep their detail in the logs only.
func (h *AuthHandler) fail(c *fiber.Ctx, err error) error {
	switch {
	case apperrors.IsValidation(err):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case apperrors.IsAuthentication(err), errors.Is(err, apperrors.ErrUserNotFound):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	case apperrors.IsProvider(err):
		var pe *apperrors.ProviderError
		errors.As(err, &pe)
		slog.Error("identity provider call failed",
			"op", pe.Op, "status", pe.StatusCode, "body", pe.Body)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "identity provider unavailable"})
	default:
		slog.Error("request failed", "path", c.Path(), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}
}

// clientIP prefers proxy headers and falls back to the connection address.
func clientIP(c *fiber.Ctx) string {
	if forwarded := c.Get(fiber.HeaderXForwardedFor); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if realIP := c.Get("X-Real-IP"); realIP != "" {
		return strings.TrimSpace(realIP)
	}

	return c.IP()
}
