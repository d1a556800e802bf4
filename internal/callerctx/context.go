package callerctx

import (
	"context"
	"strings"

	"github.com/smallbiznis/agentmarket/internal/ledgererr"
)

// ErrMissingCaller is returned when an operation needs an identified caller.
var ErrMissingCaller = ledgererr.New(ledgererr.Unauthorized, "caller_required")

// CallerContextKey is the request context key for the authenticated caller address.
type CallerContextKey struct{}

// Normalize canonicalizes an address for comparison and storage.
func Normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// WithCaller stores the caller address in the context.
func WithCaller(ctx context.Context, address string) context.Context {
	return context.WithValue(ctx, CallerContextKey{}, Normalize(address))
}

// CallerFromContext returns the caller address from context, if set.
func CallerFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	value, ok := ctx.Value(CallerContextKey{}).(string)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}

// Require returns the caller address or ErrMissingCaller.
func Require(ctx context.Context) (string, error) {
	caller, ok := CallerFromContext(ctx)
	if !ok {
		return "", ErrMissingCaller
	}
	return caller, nil
}
