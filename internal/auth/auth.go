// Package auth resolves the caller of a request to a user id.
package auth

import (
	"context"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/support934/smartgecode-saas/internal/model"
	"github.com/support934/smartgecode-saas/internal/quota"
)

// Context is the resolved caller. UserID is 0 for anonymous callers.
type Context struct {
	UserID      int64
	Fingerprint string
}

// Anonymous returns the context for an unauthenticated caller.
func Anonymous(fingerprint string) Context {
	return Context{UserID: model.AnonymousUserID, Fingerprint: fingerprint}
}

// IsAnonymous reports whether no user was resolved.
func (c Context) IsAnonymous() bool {
	return c.UserID == model.AnonymousUserID
}

// QuotaKey returns the key lookups are counted against.
func (c Context) QuotaKey() quota.Key {
	return quota.Key{UserID: c.UserID, Fingerprint: c.Fingerprint}
}

// TokenLookup maps an API token to a user id.
type TokenLookup interface {
	UserByToken(ctx context.Context, token string) (int64, error)
}

// Resolver turns request credentials into a Context. It never fails a
// request: unknown or malformed credentials resolve to anonymous.
type Resolver struct {
	tokens TokenLookup
}

// NewResolver creates a Resolver. tokens may be nil, in which case every
// caller is anonymous.
func NewResolver(tokens TokenLookup) *Resolver {
	return &Resolver{tokens: tokens}
}

// Resolve reads "Authorization: Bearer <token>".
func (r *Resolver) Resolve(req *http.Request) Context {
	anon := Anonymous(ClientIP(req))

	token, ok := bearer(req.Header.Get("Authorization"))
	if !ok || r.tokens == nil {
		return anon
	}

	id, err := r.tokens.UserByToken(req.Context(), token)
	if err != nil || id <= 0 {
		zap.L().Debug("auth: token not resolved, treating as anonymous", zap.Error(err))
		return anon
	}
	return Context{UserID: id, Fingerprint: anon.Fingerprint}
}

func bearer(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// ClientIP returns the caller's address, preferring the first
// X-Forwarded-For entry set by a fronting proxy.
func ClientIP(req *http.Request) string {
	if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}

type ctxKey struct{}

// WithContext stores c on ctx.
func WithContext(ctx context.Context, c Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// FromContext returns the Context stored by WithContext, or anonymous.
func FromContext(ctx context.Context) Context {
	if c, ok := ctx.Value(ctxKey{}).(Context); ok {
		return c
	}
	return Anonymous("")
}

// Middleware resolves the caller once per request and stores it on the
// request context.
func (r *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		c := r.Resolve(req)
		next.ServeHTTP(w, req.WithContext(WithContext(req.Context(), c)))
	})
}
