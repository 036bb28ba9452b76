package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// Scopes understood by the API. A ":rw" scope implies its ":ro" pair.
const (
	ScopeAll      = "*"
	ScopeLayersRO = "layers:ro"
	ScopeLayersRW = "layers:rw"
	ScopeQueueRO  = "queue:ro"
	ScopeQueueRW  = "queue:rw"
	ScopeEventsRO = "events:ro"
)

var (
	ErrMissingHeader = errors.New("missing Authorization header")
	ErrBadHeader     = errors.New("invalid Authorization header format")
	ErrMissingToken  = errors.New("missing API key")
)

// TokenConfig is a bearer token with a set of scopes.
type TokenConfig struct {
	Token  string
	Scopes []string
}

type Principal struct {
	Token  string
	Scopes map[string]struct{}
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func ExtractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingHeader
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", ErrBadHeader
	}

	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

func constantTimeEqual(a, b string) bool {
	if a == "" || b == "" || len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Authenticate matches a presented bearer token against configured tokens.
// A match on apiKey authenticates with every scope.
func Authenticate(presented, apiKey string, tokens []TokenConfig) (Principal, bool) {
	if constantTimeEqual(presented, apiKey) {
		return Principal{
			Token:  presented,
			Scopes: map[string]struct{}{ScopeAll: {}},
		}, true
	}

	for _, t := range tokens {
		if constantTimeEqual(presented, t.Token) {
			return Principal{
				Token:  presented,
				Scopes: normalizeScopes(t.Scopes),
			}, true
		}
	}
	return Principal{}, false
}

func normalizeScopes(scopes []string) map[string]struct{} {
	out := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out[s] = struct{}{}
		if base, ok := strings.CutSuffix(s, ":rw"); ok {
			out[base+":ro"] = struct{}{}
		}
	}
	return out
}

func HasAnyScope(p Principal, required ...string) bool {
	if len(required) == 0 {
		return true
	}
	if _, ok := p.Scopes[ScopeAll]; ok {
		return true
	}
	for _, s := range required {
		if _, ok := p.Scopes[s]; ok {
			return true
		}
	}
	return false
}
