package shared

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// CanonicalIdentity normalises a login identity so visually equal inputs
// share lookups and lockout counters.
func CanonicalIdentity(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	// Casers carry state and are not safe to share between goroutines.
	return cases.Fold().String(norm.NFKC.String(trimmed))
}

// RandomToken returns n random bytes encoded as unpadded base64url.
func RandomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("shared: random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
