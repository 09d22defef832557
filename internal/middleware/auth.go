package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/soltixdb/morgoth/internal/logging"
	"github.com/soltixdb/morgoth/internal/models"
)

// MinAPIKeyLength is the minimum required length for API keys
const MinAPIKeyLength = 32

// ValidateAPIKey checks if an API key meets the length requirement
func ValidateAPIKey(key string) bool {
	return len(strings.TrimSpace(key)) >= MinAPIKeyLength
}

// requestKey reads the key from X-API-Key, "Authorization: Bearer <key>"
// or a bare Authorization header
func requestKey(c *fiber.Ctx) string {
	if key := c.Get("X-API-Key"); key != "" {
		return key
	}
	auth := c.Get(fiber.HeaderAuthorization)
	if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return after
	}
	return auth
}

// APIKeyAuth creates an API key authentication middleware. Keys shorter
// than MinAPIKeyLength are ignored with a warning.
func APIKeyAuth(logger *logging.Logger, apiKeys []string, enabled bool) fiber.Handler {
	if !enabled {
		return func(c *fiber.Ctx) error {
			return c.Next()
		}
	}

	keys := make([][]byte, 0, len(apiKeys))
	for _, key := range apiKeys {
		if key == "" {
			continue
		}
		if !ValidateAPIKey(key) {
			logger.Warn("API key does not meet security requirements",
				"key_length", len(key),
				"min_required", MinAPIKeyLength,
				"key_prefix", maskAPIKey(key))
			continue
		}
		keys = append(keys, []byte(key))
	}
	if len(keys) == 0 {
		logger.Error("Authentication enabled without any valid API key; all requests will be rejected",
			"configured_keys", len(apiKeys))
	}

	return func(c *fiber.Ctx) error {
		key := requestKey(c)
		if key == "" {
			logger.Warn("API key missing", "path", c.Path(), "method", c.Method(), "ip", c.IP())
			return c.Status(fiber.StatusUnauthorized).JSON(models.ErrorResponse{
				Error: models.ErrorDetail{
					Code:    "UNAUTHORIZED",
					Message: "API key is required. Provide it via X-API-Key header or Authorization header.",
				},
			})
		}

		for _, k := range keys {
			if subtle.ConstantTimeCompare(k, []byte(key)) == 1 {
				return c.Next()
			}
		}

		logger.Warn("Invalid API key",
			"path", c.Path(),
			"method", c.Method(),
			"ip", c.IP(),
			"api_key_prefix", maskAPIKey(key))
		return c.Status(fiber.StatusUnauthorized).JSON(models.ErrorResponse{
			Error: models.ErrorDetail{
				Code:    "UNAUTHORIZED",
				Message: "Invalid API key.",
			},
		})
	}
}

// maskAPIKey keeps the first 4 characters of a key for logs
func maskAPIKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return key[:4] + "****"
}
