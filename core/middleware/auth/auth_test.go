package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, secret string, exp time.Time) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "device-1",
		"exp": exp.Unix(),
	})
	s, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestNew(t *testing.T) {
	valid := sign(t, "secret", time.Now().Add(time.Hour))
	expired := sign(t, "secret", time.Now().Add(-time.Hour))
	foreign := sign(t, "other", time.Now().Add(time.Hour))

	tests := []struct {
		name    string
		cfg     Config
		headers map[string]string
		want    int
	}{
		{"Open", Config{}, nil, fiber.StatusOK},
		{"MissingKey", Config{ApiKey: "key"}, nil, fiber.StatusUnauthorized},
		{"WrongKey", Config{ApiKey: "key"}, map[string]string{"X-API-Key": "nope"}, fiber.StatusUnauthorized},
		{"ValidKey", Config{ApiKey: "key"}, map[string]string{"X-API-Key": "key"}, fiber.StatusOK},
		{"ValidToken", Config{JWTSecret: "secret"}, map[string]string{"Authorization": "Bearer " + valid}, fiber.StatusOK},
		{"ExpiredToken", Config{JWTSecret: "secret"}, map[string]string{"Authorization": "Bearer " + expired}, fiber.StatusUnauthorized},
		{"ForeignToken", Config{JWTSecret: "secret"}, map[string]string{"Authorization": "Bearer " + foreign}, fiber.StatusUnauthorized},
		{"TokenWhenBothSet", Config{ApiKey: "key", JWTSecret: "secret"}, map[string]string{"Authorization": "Bearer " + valid}, fiber.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Use(New(tt.cfg))
			app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

			req := httptest.NewRequest("GET", "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestValidateToken_Claims(t *testing.T) {
	claims, err := ValidateToken(sign(t, "secret", time.Now().Add(time.Hour)), "secret")
	require.NoError(t, err)
	assert.Equal(t, "device-1", claims["sub"])
}
