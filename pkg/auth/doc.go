// Package auth issues and validates the gateway's signed credentials.
//
// # Overview
//
// A credential is an HMAC-signed JWT whose claims carry an explicit identity
// (wallet, email or legacy invitation code), a unique token id (jti) and a
// daily request quota. The issuer is stateless: it never touches Redis or the
// database. Revocation of superseded credentials and usage accounting live in
// pkg/usage; identity checks against the invitation store live in
// pkg/middleware.
//
// # Usage
//
//	issuer, err := auth.NewIssuer(auth.Config{Secret: []byte(secret)})
//	token, claims, err := issuer.Issue(auth.WalletIdentity(addr), nil, 0)
//
//	claims, err := issuer.Validate(token)
//	switch {
//	case errors.Is(err, auth.ErrCredentialExpired):
//		// 401 "Token expired"
//	case errors.Is(err, auth.ErrCredentialInvalid):
//		// 401 "Invalid token"
//	}
//
// Reissue keeps identity and attributes and mints a new jti with a new quota.
// It does not invalidate the original credential.
//
// # Related Packages
//
//   - pkg/usage: Daily counters keyed by jti
//   - pkg/middleware: Auth gate
package auth
