package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/concretepros/directory-api/internal/auth"
	"github.com/concretepros/directory-api/pkg/response"
)

// AuthMiddleware verifies provider tokens, falling back to legacy HMAC tokens when a secret is set
type AuthMiddleware struct {
	verifier  auth.TokenVerifier
	jwtSecret string
	gateway   bool
}

func NewAuthMiddleware(verifier auth.TokenVerifier, jwtSecret string) *AuthMiddleware {
	return &AuthMiddleware{
		verifier:  verifier,
		jwtSecret: jwtSecret,
	}
}

// NewLegacyAuthMiddleware accepts only HMAC tokens (tests and local development)
func NewLegacyAuthMiddleware(jwtSecret string) *AuthMiddleware {
	return &AuthMiddleware{jwtSecret: jwtSecret}
}

// NewGatewayAuthMiddleware trusts the X-User-* headers set by a ForwardAuth
// gateway in front of the API. Only use it when the API is not reachable directly.
func NewGatewayAuthMiddleware() *AuthMiddleware {
	return &AuthMiddleware{gateway: true}
}

// Authenticate validates the bearer token. EventSource cannot send headers, so
// stream routes also accept the token in the access_token query parameter.
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	if m.gateway {
		return gatewayIdentity
	}
	return func(c *fiber.Ctx) error {
		tokenString, ok := bearerToken(c)
		if !ok {
			return response.Unauthorized(c, "Missing or malformed authorization header")
		}

		if m.verifier != nil {
			claims, err := m.verifier.Validate(tokenString)
			if err == nil {
				c.Locals("userId", claims.UserID)
				c.Locals("email", claims.Email)
				return c.Next()
			}
			if m.jwtSecret == "" {
				return response.Unauthorized(c, "Invalid or expired token")
			}
		}

		if m.jwtSecret != "" {
			claims, err := auth.ValidateLegacyToken(tokenString, m.jwtSecret)
			if err != nil {
				return response.Unauthorized(c, "Invalid or expired token")
			}
			c.Locals("userId", claims.UserID)
			c.Locals("email", claims.Email)
			return c.Next()
		}

		return response.Unauthorized(c, "Authentication not configured")
	}
}

func gatewayIdentity(c *fiber.Ctx) error {
	userID := c.Get("X-User-Id")
	if userID == "" {
		return response.Unauthorized(c, "Missing user identity headers")
	}
	c.Locals("userId", userID)
	c.Locals("email", c.Get("X-User-Email"))
	return c.Next()
}

func bearerToken(c *fiber.Ctx) (string, bool) {
	header := c.Get(fiber.HeaderAuthorization)
	if header == "" {
		token := c.Query("access_token")
		return token, token != ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func GetUserID(c *fiber.Ctx) string {
	if userID, ok := c.Locals("userId").(string); ok {
		return userID
	}
	return ""
}

func GetUserEmail(c *fiber.Ctx) string {
	if email, ok := c.Locals("email").(string); ok {
		return email
	}
	return ""
}
