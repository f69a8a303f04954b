// Package auth carries the acting principal through a request.
//
// The host application owns authentication; this package only looks the principal up
// (from a shared session store or trusted upstream headers) and places it in the context.
package auth

import (
	"context"
	"net/http"
)

// Principal is the acting user of one request.
type Principal struct {
	ID    string
	Login string
}

// Anonymous is used when no principal resolves.
var Anonymous = Principal{ID: "anonymous", Login: "anonymous"}

// IsAnonymous reports whether p is the anonymous principal.
func (p Principal) IsAnonymous() bool { return p.ID == "" || p == Anonymous }

// LogName is the value logged for the principal.
func (p Principal) LogName() string {
	if p.IsAnonymous() {
		return "anonymous"
	}
	if p.Login != "" {
		return p.Login
	}
	return p.ID
}

type ctxKey struct{}

// WithPrincipal returns a child context carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// FromContext returns the principal in ctx, or Anonymous.
func FromContext(ctx context.Context) Principal {
	if p, ok := ctx.Value(ctxKey{}).(Principal); ok && p.ID != "" {
		return p
	}
	return Anonymous
}

// Resolver looks up the principal of a request.
// ok=false means "not resolved here"; err is reserved for lookup failures.
type Resolver interface {
	Resolve(r *http.Request) (p Principal, ok bool, err error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(r *http.Request) (Principal, bool, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(r *http.Request) (Principal, bool, error) { return f(r) }

// Chain tries resolvers in order; the first hit wins.
type Chain []Resolver

// Resolve implements Resolver. A failing resolver does not stop the chain.
func (c Chain) Resolve(r *http.Request) (Principal, bool, error) {
	var firstErr error
	for _, res := range c {
		if res == nil {
			continue
		}
		p, ok, err := res.Resolve(r)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			return p, true, nil
		}
	}
	return Principal{}, false, firstErr
}
