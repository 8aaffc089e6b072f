// Package usage counts admitted requests per credential per day in Redis and
// keeps the blacklist of superseded credentials.
//
// # Daily Counters
//
// Each credential's jti gets one counter per local calendar day:
//
//	rate_limit:{jti}:{YYYY-MM-DD}
//
// The key's 24h TTL is re-applied on every increment, so expiry is the reset
// mechanism. A request is admitted while today's count is below the quota
// carried in the credential; denied requests are not counted.
//
//	counter := usage.NewCounter(redisClient, usage.WithAtomic(cfg.Atomic))
//	decision, err := counter.CheckAndIncrement(ctx, claims.ID, claims.Quota)
//	if errors.Is(err, usage.ErrStorageUnavailable) {
//		// callers fail open
//	}
//
// # Revocation
//
// Reissuing a credential mints a new jti but leaves the old one valid until it
// expires. Revoke records the old jti until its expiry so the auth gate can
// reject it.
package usage
