package auth

import (
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// Config holds the credentials the middleware accepts.
type Config struct {
	// ApiKey is compared with the X-API-Key header.
	ApiKey string
	// JWTSecret verifies HS256 bearer tokens.
	JWTSecret string
}

// ClaimsKey is where verified token claims are stored on the Fiber context.
const ClaimsKey = "claims"

// New returns a middleware that rejects requests without a valid API key or
// bearer token. With no credentials configured every request passes.
func New(cfg Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if cfg.ApiKey == "" && cfg.JWTSecret == "" {
			return c.Next()
		}

		if cfg.ApiKey != "" {
			key := c.Get("X-API-Key")
			if key != "" && subtle.ConstantTimeCompare([]byte(key), []byte(cfg.ApiKey)) == 1 {
				return c.Next()
			}
		}

		if cfg.JWTSecret != "" {
			if raw, ok := strings.CutPrefix(c.Get(fiber.HeaderAuthorization), "Bearer "); ok {
				claims, err := ValidateToken(raw, cfg.JWTSecret)
				if err == nil {
					c.Locals(ClaimsKey, claims)
					return c.Next()
				}
			}
		}

		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}
}

// ValidateToken parses and validates an HS256 token.
func ValidateToken(tokenString, secret string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
