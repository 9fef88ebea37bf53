// Package auth carries the authenticated caller identity through a
// request context.
package auth

import (
	"context"
	"net/http"
	"strings"
)

// Principal identifies an authenticated API caller. Interview
// participants never carry one; they are authenticated per-session by
// resume tokens on the live socket.
type Principal struct {
	APIKey string
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p, p != nil
}

// ParseBearer extracts the token from an Authorization header of the
// form "Bearer <token>". The scheme is matched case-insensitively per
// RFC 9110.
func ParseBearer(r *http.Request) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
