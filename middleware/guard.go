package middleware

import (
	"strings"

	"github.com/MrEthical07/goEnroll/jwt"
	"github.com/MrEthical07/goEnroll/permission"
	"github.com/gofiber/fiber/v2"
)

const claimsLocalKey = "goenroll.claims"

// ClaimsFrom returns the claims stored by Guard.
func ClaimsFrom(c *fiber.Ctx) (*jwt.Claims, bool) {
	claims, ok := c.Locals(claimsLocalKey).(*jwt.Claims)
	return claims, ok
}

// Guard rejects requests without a valid bearer access token.
func Guard(mgr *jwt.Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if mgr == nil {
			return unauthorized(c)
		}
		token, ok := bearerToken(c.Get(fiber.HeaderAuthorization))
		if !ok {
			return unauthorized(c)
		}
		claims, err := mgr.Parse(token)
		if err != nil {
			return unauthorized(c)
		}
		c.Locals(claimsLocalKey, claims)
		return c.Next()
	}
}

// RequireSubject allows the request when the route parameter param equals
// the token subject, or when the caller holds one of the trusted roles.
// It must run after Guard.
func RequireSubject(param string, trusted ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, ok := ClaimsFrom(c)
		if !ok {
			return unauthorized(c)
		}
		if c.Params(param) == claims.UserID() || hasRole(claims, trusted) {
			return c.Next()
		}
		return forbidden(c)
	}
}

// RequireRole allows the request only for the listed roles. It must run
// after Guard.
func RequireRole(allowed ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, ok := ClaimsFrom(c)
		if !ok {
			return unauthorized(c)
		}
		if !hasRole(claims, allowed) {
			return forbidden(c)
		}
		return c.Next()
	}
}

func hasRole(claims *jwt.Claims, roles []string) bool {
	role := permission.Normalize(claims.Role)
	for _, r := range roles {
		if permission.Normalize(r) == role {
			return true
		}
	}
	return false
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "unauthorized"})
}

func forbidden(c *fiber.Ctx) error {
	return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"message": "forbidden"})
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}
	token := strings.TrimSpace(value[len(bearer):])
	return token, token != ""
}
