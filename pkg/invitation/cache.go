package invitation

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/aimoverse/aimo-gateway/pkg/observability"
)

const (
	DefaultCacheSize = 1024
	DefaultCacheTTL  = 30 * time.Second
)

// CachedLookup is a read-through cache in front of a Lookup. Only successful
// lookups are cached; misses and errors always reach the store. Concurrent
// misses for the same key share one store query.
//
// Returned values are shared between callers and must not be modified.
type CachedLookup struct {
	next    Lookup
	codes   *lru.LRU[string, *Code]
	wallets *lru.LRU[string, *WalletAccount]
	group   singleflight.Group
	metrics *observability.Metrics
}

// NewCachedLookup wraps next. Non-positive size or ttl select the defaults.
// metrics may be nil.
func NewCachedLookup(next Lookup, size int, ttl time.Duration, metrics *observability.Metrics) *CachedLookup {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedLookup{
		next:    next,
		codes:   lru.NewLRU[string, *Code](size, nil, ttl),
		wallets: lru.NewLRU[string, *WalletAccount](size, nil, ttl),
		metrics: metrics,
	}
}

// Get returns the code, from cache when possible.
func (l *CachedLookup) Get(ctx context.Context, code string) (*Code, error) {
	if cached, ok := l.codes.Get(code); ok {
		l.record("hit")
		return cached, nil
	}
	l.record("miss")

	v, err, _ := l.group.Do("code:"+code, func() (interface{}, error) {
		c, err := l.next.Get(ctx, code)
		if err != nil {
			return nil, err
		}
		l.codes.Add(code, c)
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Code), nil
}

// WalletAccount returns the wallet's account, from cache when possible.
func (l *CachedLookup) WalletAccount(ctx context.Context, wallet string) (*WalletAccount, error) {
	if cached, ok := l.wallets.Get(wallet); ok {
		l.record("hit")
		return cached, nil
	}
	l.record("miss")

	v, err, _ := l.group.Do("wallet:"+wallet, func() (interface{}, error) {
		account, err := l.next.WalletAccount(ctx, wallet)
		if err != nil {
			return nil, err
		}
		l.wallets.Add(wallet, account)
		return account, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*WalletAccount), nil
}

// Invalidate drops a cached code.
func (l *CachedLookup) Invalidate(code string) {
	l.codes.Remove(code)
}

// InvalidateWallet drops a cached wallet account.
func (l *CachedLookup) InvalidateWallet(wallet string) {
	l.wallets.Remove(wallet)
}

// Len returns the number of cached codes and wallet accounts.
func (l *CachedLookup) Len() int {
	return l.codes.Len() + l.wallets.Len()
}

func (l *CachedLookup) record(result string) {
	if l.metrics != nil {
		l.metrics.InvitationCacheTotal.WithLabelValues(result).Inc()
	}
}
