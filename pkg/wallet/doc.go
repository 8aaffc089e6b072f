// Package wallet verifies wallet logins issued by Privy.
//
// A client signs in with Privy and sends the resulting access token. The
// token is an ES256 JWT checked against the app's published JWKS (issuer
// "privy.io", audience the app id) with go-oidc; its subject is the Privy
// user id, which is then resolved to the user's linked wallet address through
// the Privy REST API.
package wallet
