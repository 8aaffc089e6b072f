// Package contextkeys provides centralized context key definitions
//
// All context keys used across the gateway are defined here so that the
// middleware that sets a value and the handler that reads it agree on the key.
//
// USAGE PATTERN:
//
//	ctx = contextkeys.WithClaims(ctx, claims)
//	claims, ok := ctx.Value(contextkeys.ClaimsKey).(*auth.Claims)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// ClaimsKey contains *auth.Claims
	// Set by: middleware.AuthGate (pkg/middleware/auth.go)
	// Required by: middleware.RateLimitGate, quota and chat handlers
	// Type: *auth.Claims
	ClaimsKey Key = "credential_claims"

	// SubjectKey contains the credential identity rendered as "type:value"
	// Set by: middleware.AuthGate
	// Used by: Logger
	// Type: string
	SubjectKey Key = "subject"

	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: Logger, response headers
	// Type: string
	RequestIDKey Key = "request_id"

	// LoggerKey contains *observability.Logger
	// Set by: httputil.LoggingMiddleware
	// Used by: Handlers that need structured logging with request context
	// Type: *observability.Logger
	LoggerKey Key = "logger"

	// UsageKey contains *usage.Decision for the current request
	// Set by: middleware.RateLimitGate
	// Used by: Handlers that echo remaining quota
	// Type: *usage.Decision
	UsageKey Key = "usage_decision"
)

// WithClaims adds validated credential claims to the context
func WithClaims(ctx context.Context, claims interface{}) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}

// WithSubject adds the credential subject to the context
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, SubjectKey, subject)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// WithUsage adds the rate limit decision to the context
func WithUsage(ctx context.Context, decision interface{}) context.Context {
	return context.WithValue(ctx, UsageKey, decision)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetSubject retrieves the credential subject from context
func GetSubject(ctx context.Context) string {
	if subject, ok := ctx.Value(SubjectKey).(string); ok {
		return subject
	}
	return ""
}
