// Package middleware provides the gateway's request gates.
//
// # Gates
//
// AuthGate: validates the bearer credential, rejects superseded credentials
// and checks that the identity is still backed by the invitation store.
//
//	gate := middleware.NewAuthGate(issuer, lookup,
//		middleware.WithExcludedPaths("/api/v1/auth/*", "/health*"),
//		middleware.WithRevocationChecker(counter))
//
// RateLimitGate: counts the request against the credential's daily quota in
// Redis and sets X-Rate-Limit-Limit, X-Rate-Limit-Remaining and
// X-Rate-Limit-Reset. Fails open when Redis is unavailable.
//
//	limit := middleware.NewRateLimitGate(counter, issuer, cfg.DefaultQuota)
//
// AdminGate: shared secret in the api-key header.
//
// ClientThrottle: in-process per-IP token bucket for the unauthenticated
// login endpoints.
//
// # Ordering
//
// The rate limit gate reuses the claims placed by the auth gate, so it must
// run inside it:
//
//	handler := authGate.Handler(limitGate.Handler(routes))
//
// # Related Packages
//
//   - pkg/auth: Credential validation
//   - pkg/usage: Daily counters and revocation markers
//   - pkg/invitation: Code and wallet lookups
package middleware
