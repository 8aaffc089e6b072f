// Package storage opens the gateway's two backing stores: the Postgres
// database holding invitation codes and wallet accounts, and the Redis
// instance holding usage counters, revocation markers and email codes.
//
// Both constructors apply explicit pool sizes and timeouts and ping the
// store before returning, so a misconfigured deployment fails at startup
// rather than on the first request.
//
//	db, err := storage.OpenPostgres(ctx, cfg)
//	rdb, err := storage.NewRedisClient(ctx, cfg)
package storage
