// Package invitation stores the invitation codes that gate account creation,
// the wallet accounts created by binding them and the email users created on
// first email login.
//
// # Lifecycle
//
// A generated code is 8 random alphanumeric characters valid for 7 days. It
// is either consumed once by Check (legacy invitation login) or bound once to
// a wallet by Bind, which extends its expiry to 365 days and creates the
// wallet account. Codes that expire unused and unbound are dead and are
// removed by the Sweeper.
//
//	store := invitation.NewSQLStore(db)
//	if err := store.Migrate(ctx); err != nil {
//		return err
//	}
//	code, err := store.Generate(ctx)
//	err = store.Check(ctx, code.Code)
//	if invitation.IsInvalid(err) {
//		// 401 "Invalid invitation code"
//	}
//
// Failures carry a reason (ErrNotFound, ErrExpired, ErrAlreadyUsed,
// ErrAlreadyBound) so callers can log it while answering with one message.
//
// # Caching
//
// The auth gate looks up a code or wallet on every request. CachedLookup puts
// a short-lived LRU in front of the store; callers that change a code should
// Invalidate it.
package invitation
