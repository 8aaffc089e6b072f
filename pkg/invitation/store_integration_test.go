//go:build integration

package invitation

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("aimo_test"),
		postgres.WithUsername("aimo"),
		postgres.WithPassword("aimo_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.PingContext(ctx))

	require.NoError(t, Migrate(ctx, db))
	return db
}

func TestPostgresStore_Lifecycle(t *testing.T) {
	db := setupPostgres(t)
	store := NewSQLStore(db)
	ctx := context.Background()

	// running migrations again is a no-op
	require.NoError(t, store.Migrate(ctx))

	code, err := store.Generate(ctx)
	require.NoError(t, err)

	require.NoError(t, store.Check(ctx, code.Code))
	assert.ErrorIs(t, store.Check(ctx, code.Code), ErrAlreadyUsed)

	bindable, err := store.Generate(ctx)
	require.NoError(t, err)
	account, err := store.Bind(ctx, bindable.Code, "0xintegration")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(DefaultBoundTTL), account.Code.ExpiresAt, time.Minute)

	_, err = store.Bind(ctx, bindable.Code, "0xother")
	assert.ErrorIs(t, err, ErrAlreadyBound)

	stored, err := store.WalletAccount(ctx, "0xintegration")
	require.NoError(t, err)
	assert.Equal(t, bindable.Code, stored.InvitationCode)
	assert.True(t, stored.Code.Bound)

	require.NoError(t, store.TouchWallet(ctx, "0xintegration"))

	available, err := store.ListAvailable(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, available)
}

func TestPostgresStore_ConcurrentCheckConsumesOnce(t *testing.T) {
	db := setupPostgres(t)
	store := NewSQLStore(db)
	ctx := context.Background()

	code, err := store.Generate(ctx)
	require.NoError(t, err)

	var succeeded int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if store.Check(ctx, code.Code) == nil {
				atomic.AddInt32(&succeeded, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&succeeded))
}

func TestPostgresStore_PurgeDead(t *testing.T) {
	db := setupPostgres(t)
	store := NewSQLStore(db, WithUnboundTTL(time.Second))
	ctx := context.Background()

	_, err := store.Generate(ctx)
	require.NoError(t, err)

	purged, err := store.PurgeDead(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
}

func TestPostgresStore_EmailUsers(t *testing.T) {
	db := setupPostgres(t)
	store := NewSQLStore(db)
	ctx := context.Background()

	first, created, err := store.RecordEmailLogin(ctx, "pg@example.com")
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := store.RecordEmailLogin(ctx, "PG@example.com")
	require.NoError(t, err)
	assert.False(t, created)
	assert.True(t, second.CreatedAt.Equal(first.CreatedAt))
	assert.False(t, second.LastLogin.Before(first.LastLogin))

	consumed, err := store.Generate(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Check(ctx, consumed.Code))
	_, err = store.Bind(ctx, consumed.Code, "0xpgconsumed")
	assert.ErrorIs(t, err, ErrAlreadyUsed)
}
