package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// GenerateRandomString returns a URL-safe random string of n bytes entropy.
func GenerateRandomString(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("security: invalid random length %d", n)
	}
	buf := make([]byte, n)
	if _, errRead := rand.Read(buf); errRead != nil {
		return "", fmt.Errorf("security: read random: %w", errRead)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
