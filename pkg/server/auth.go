package server

import (
	"net/http"
	"strings"

	"github.com/aurora-ai/amica/pkg/core"
)

// Verifier resolves a bearer credential to a stable user identifier.
type Verifier interface {
	// Verify returns the user id for a token, or core.ErrUnauthorized.
	Verify(token string) (string, error)
}

// StaticVerifier is a fixed token-to-user table, loaded from configuration.
type StaticVerifier struct {
	tokens map[string]string
}

// NewStaticVerifier creates a verifier over a token → user id map.
func NewStaticVerifier(tokens map[string]string) *StaticVerifier {
	return &StaticVerifier{tokens: tokens}
}

// Verify looks the token up in the static table.
func (v *StaticVerifier) Verify(token string) (string, error) {
	if token == "" {
		return "", core.ErrUnauthorized
	}
	userID, ok := v.tokens[token]
	if !ok {
		return "", core.ErrUnauthorized
	}
	return userID, nil
}

// bearerToken extracts the bearer credential from a request, or "".
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(auth, prefix))
}
