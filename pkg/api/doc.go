// Package api implements the gateway's HTTP surface.
//
// Routes live under a configurable base path (default /api/v1):
//
//	POST /auth/check-invitation-code   invitation code login
//	POST /auth/wallet/verify           Privy wallet login, binds a code on first use
//	POST /auth/email/send-code         email a one-time login code
//	POST /auth/email/login             redeem the emailed code
//	POST /admin/invitation-codes       generate a code (api-key header)
//	GET  /admin/invitation-codes       list available codes (api-key header)
//	POST /admin/update-quota           reissue a credential with a new quota
//	GET  /user/quota                   today's usage for the caller
//	POST /chat/completions             counted, proxied to the completion provider
//	POST /emotion/analyze              counted, proxied to the classifier
//
// The /auth routes are public and sit behind a per-client throttle. Every
// other non-admin route passes the auth gate; only the chat and emotion
// routes are counted against the daily quota.
//
// # Usage
//
//	srv, err := api.NewServer(api.Config{BasePath: "/api/v1", AdminAPIKey: key}, api.Deps{
//		Issuer: issuer,
//		Usage:  counter,
//		Store:  store,
//		Lookup: invitation.NewCachedLookup(store, 1024, time.Minute, metrics),
//	})
//	http.ListenAndServe(":8000", srv)
package api
