package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConns = 3

	db, err := Open(context.Background(), "sqlite3", ":memory:", cfg)
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, 3, db.Stats().MaxOpenConnections)
	assert.NoError(t, Ping(context.Background(), db, time.Second))
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "nope", "", DefaultConfig())
	assert.Error(t, err)
}

func TestOpenPostgres_RequiresURL(t *testing.T) {
	_, err := OpenPostgres(context.Background(), Config{})
	assert.Error(t, err)
}

func TestOpenPostgres_Unreachable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PostgresURL = "postgres://u:p@127.0.0.1:1/db?sslmode=disable&connect_timeout=1"
	cfg.PingTimeout = time.Second

	_, err := OpenPostgres(context.Background(), cfg)
	assert.Error(t, err)
}

func TestRedisOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RedisURL = "redis://:urlpass@cache:6380/2"
	cfg.RedisPoolSize = 7
	cfg.ReadTimeout = 2 * time.Second

	opts, err := RedisOptions(cfg)
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, "urlpass", opts.Password)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 7, opts.PoolSize)
	assert.Equal(t, 2*time.Second, opts.ReadTimeout)
	assert.Equal(t, 5*time.Second, opts.DialTimeout)

	cfg.RedisPassword = "override"
	cfg.RedisDB = 4
	opts, err = RedisOptions(cfg)
	require.NoError(t, err)
	assert.Equal(t, "override", opts.Password)
	assert.Equal(t, 4, opts.DB)
}

func TestRedisOptions_Invalid(t *testing.T) {
	_, err := RedisOptions(Config{})
	assert.Error(t, err)

	_, err = RedisOptions(Config{RedisURL: "http://not-redis"})
	assert.Error(t, err)
}

func TestNewRedisClient(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	cfg := DefaultConfig()
	cfg.RedisURL = "redis://" + mr.Addr()

	client, err := NewRedisClient(context.Background(), cfg)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	assert.True(t, mr.Exists("k"))

	mr.Close()
	_, err = NewRedisClient(context.Background(), cfg)
	assert.Error(t, err)
}
