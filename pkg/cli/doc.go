// Package cli implements aimoctl, the operator tool for the gateway.
//
// Commands:
//
//	migrate                              apply the invitation schema
//	purge [-grace d]                     delete expired, never-used codes
//	codes generate [-count n] [-workers n]
//	codes list [-limit n]
//	token mint -type t -value v [-quota n]
//	token inspect -token t
//	token reissue -token t -quota n      replace a credential and revoke the old one
//
// Database and Redis connections are opened lazily from the loaded config.
package cli
