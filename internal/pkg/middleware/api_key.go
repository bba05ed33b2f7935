package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// KeyAPIClient is the Locals key holding the index of the matched API key.
const KeyAPIClient = "api_client"

// APIKeyAuthMiddleware authenticates back-office requests carrying one of the
// configured API keys. Keys are compared as SHA-256 digests in constant time.
func APIKeyAuthMiddleware(keys []string) fiber.Handler {
	digests := make([][32]byte, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			digests = append(digests, sha256.Sum256([]byte(k)))
		}
	}

	return func(c *fiber.Ctx) error {
		apiKey := extractAPIKeyFromHeader(c)
		if apiKey == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing API key"})
		}

		got := sha256.Sum256([]byte(apiKey))
		for i := range digests {
			if subtle.ConstantTimeCompare(got[:], digests[i][:]) == 1 {
				c.Locals(KeyAPIClient, i)
				return c.Next()
			}
		}
		log.Warnf("[API] Rejected API key from %s for %s", c.IP(), c.Path())
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid API key"})
	}
}

// ParseAPIKeys splits a comma separated key list.
func ParseAPIKeys(raw string) []string {
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

func extractAPIKeyFromHeader(c *fiber.Ctx) string {
	apiKey := strings.TrimSpace(c.Get("X-API-Key"))
	if apiKey != "" {
		return apiKey
	}
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
