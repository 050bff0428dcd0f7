package middleware

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/pluree/api/internal/auth"
	"github.com/pluree/api/pkg/response"
)

// AuthMiddleware handles JWT authentication
type AuthMiddleware struct {
	verifier  auth.TokenVerifier
	jwtSecret string // fallback for legacy tokens
}

// identity is what a verified token tells us about the caller
type identity struct {
	userID string
	email  string
	name   string
	claims interface{}
}

// NewAuthMiddleware creates a new auth middleware with Cognito JWKS verification
func NewAuthMiddleware(verifier auth.TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
	}
}

// NewAuthMiddlewareWithFallback creates auth middleware with both JWKS and legacy HMAC support
func NewAuthMiddlewareWithFallback(verifier auth.TokenVerifier, jwtSecret string) *AuthMiddleware {
	return &AuthMiddleware{
		verifier:  verifier,
		jwtSecret: jwtSecret,
	}
}

// NewLegacyAuthMiddleware creates auth middleware using only HMAC signing (for testing/dev)
func NewLegacyAuthMiddleware(jwtSecret string) *AuthMiddleware {
	return &AuthMiddleware{
		jwtSecret: jwtSecret,
	}
}

// Authenticate validates JWT token from Authorization header
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString, msg := bearerToken(c)
		if msg != "" {
			return response.Unauthorized(c, msg)
		}

		if m.verifier == nil && m.jwtSecret == "" {
			return response.Unauthorized(c, "Authentication not configured")
		}

		id, ok := m.verify(tokenString)
		if !ok {
			return response.Unauthorized(c, "Invalid or expired token")
		}

		setIdentity(c, id)
		return c.Next()
	}
}

// Identify populates the caller identity when a valid token is present and
// lets the request through either way. Handlers fall back to the sentinel
// correlation key for anonymous callers.
func (m *AuthMiddleware) Identify() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString, msg := bearerToken(c)
		if msg == "" {
			if id, ok := m.verify(tokenString); ok {
				setIdentity(c, id)
			}
		}
		return c.Next()
	}
}

// verify tries Cognito JWKS first, then the legacy HMAC secret
func (m *AuthMiddleware) verify(tokenString string) (identity, bool) {
	if m.verifier != nil {
		claims, err := m.verifier.Validate(tokenString)
		if err == nil {
			return identity{
				userID: claims.UserID,
				email:  claims.Email,
				name:   claims.DisplayName(),
				claims: claims,
			}, true
		}
	}

	if m.jwtSecret != "" {
		claims, err := auth.ValidateLegacyToken(tokenString, m.jwtSecret)
		if err == nil {
			return identity{
				userID: claims.UserID,
				email:  claims.Email,
				claims: claims,
			}, true
		}
	}

	return identity{}, false
}

func bearerToken(c *fiber.Ctx) (string, string) {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return "", "Missing authorization header"
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", "Invalid authorization header format"
	}

	return parts[1], ""
}

func setIdentity(c *fiber.Ctx, id identity) {
	c.Locals("userId", id.userID)
	c.Locals("email", id.email)
	c.Locals("name", id.name)
	c.Locals("claims", id.claims)
}

// GetUserID extracts user ID from context
func GetUserID(c *fiber.Ctx) string {
	if userID, ok := c.Locals("userId").(string); ok {
		return userID
	}
	return ""
}

// GetUserEmail extracts user email from context
func GetUserEmail(c *fiber.Ctx) string {
	if email, ok := c.Locals("email").(string); ok {
		return email
	}
	return ""
}

// GetUserName extracts user name from context
func GetUserName(c *fiber.Ctx) string {
	if name, ok := c.Locals("name").(string); ok {
		return name
	}
	return ""
}

// GenerateToken creates a new legacy JWT token (useful for testing)
func (m *AuthMiddleware) GenerateToken(userID, email string) (string, error) {
	if m.jwtSecret == "" {
		return "", fiber.NewError(fiber.StatusInternalServerError, "legacy tokens are disabled")
	}
	return auth.NewLegacyToken(userID, email, m.jwtSecret, 24*time.Hour)
}
