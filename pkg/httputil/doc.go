// Package httputil provides HTTP helpers shared by the gateway's handlers and
// middleware.
//
// # Response Helpers
//
// Every non-2xx body has the shape {"message": "..."}:
//
//	httputil.WriteUnauthorized(w, "Invalid invitation code")
//	httputil.WriteTooManyRequests(w, "Rate limit exceeded. Try again tomorrow.")
//	httputil.WriteInternalError(w) // always "Internal Server Error"
//
// # Request Parsing
//
//	var req CheckInvitationRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // 400 already written
//	}
//	token, ok := httputil.BearerToken(r)
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RecoveryMiddleware(logger),
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.CORSMiddleware(origins),
//		httputil.MaxBytesMiddleware(1<<20),
//	)(router)
//
// # Related Packages
//
//   - pkg/middleware: Auth and rate limit gates
package httputil
