// Package cache selects and applies a caching strategy per class of
// upstream request: cache-first, network-first or stale-while-revalidate.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/trogers1052/portfolio-tracker/internal/metrics"
	"go.uber.org/zap"
)

// Store is the minimal key/value contract a strategy needs
type Store interface {
	// Get returns ok=false on a miss; err is reserved for store failures
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Strategy is how a request class balances freshness against availability
type Strategy int

const (
	NetworkFirst Strategy = iota
	CacheFirst
	StaleWhileRevalidate
)

func (s Strategy) String() string {
	switch s {
	case CacheFirst:
		return "cache_first"
	case StaleWhileRevalidate:
		return "stale_while_revalidate"
	default:
		return "network_first"
	}
}

// Class groups upstream requests with the same freshness needs
type Class string

const (
	ClassQuote     Class = "quote"
	ClassHistory   Class = "history"
	ClassReference Class = "reference"
)

// StrategyFor maps a request class to its strategy. Unknown classes are
// always fetched from the network first.
func StrategyFor(class Class) Strategy {
	switch class {
	case ClassHistory:
		return CacheFirst
	case ClassReference:
		return StaleWhileRevalidate
	default:
		return NetworkFirst
	}
}

// Fetcher loads a fresh value from the network
type Fetcher func(ctx context.Context) ([]byte, error)

// Resolver runs fetches through the strategy for their class
type Resolver struct {
	store  Store
	ttls   map[Class]time.Duration
	logger *zap.Logger

	// background revalidations, tracked so tests and shutdown can wait
	wg             sync.WaitGroup
	refreshTimeout time.Duration
	inflight       sync.Map
}

// NewResolver creates a Resolver. ttls gives the retention per class; a
// class without an entry is cached for defaultTTL.
func NewResolver(store Store, ttls map[Class]time.Duration, logger *zap.Logger) *Resolver {
	return &Resolver{
		store:          store,
		ttls:           ttls,
		logger:         logger,
		refreshTimeout: 15 * time.Second,
	}
}

const defaultTTL = time.Minute

func (r *Resolver) ttl(class Class) time.Duration {
	if d, ok := r.ttls[class]; ok && d > 0 {
		return d
	}
	return defaultTTL
}

// Fetch returns the value for key using the strategy selected for class
func (r *Resolver) Fetch(ctx context.Context, class Class, key string, fetch Fetcher) ([]byte, error) {
	strategy := StrategyFor(class)
	switch strategy {
	case CacheFirst:
		return r.cacheFirst(ctx, class, key, fetch)
	case StaleWhileRevalidate:
		return r.staleWhileRevalidate(ctx, class, key, fetch)
	default:
		return r.networkFirst(ctx, class, key, fetch)
	}
}

// Wait blocks until background revalidations finish
func (r *Resolver) Wait() {
	r.wg.Wait()
}

func (r *Resolver) cacheFirst(ctx context.Context, class Class, key string, fetch Fetcher) ([]byte, error) {
	if v, ok := r.get(ctx, key); ok {
		r.count(CacheFirst, "hit")
		return v, nil
	}
	r.count(CacheFirst, "miss")
	return r.fetchAndPut(ctx, class, key, fetch)
}

func (r *Resolver) networkFirst(ctx context.Context, class Class, key string, fetch Fetcher) ([]byte, error) {
	v, err := r.fetchAndPut(ctx, class, key, fetch)
	if err == nil {
		r.count(NetworkFirst, "network")
		return v, nil
	}
	if cached, ok := r.get(ctx, key); ok {
		r.count(NetworkFirst, "fallback")
		r.logger.Debug("Serving cached copy after fetch failure",
			zap.String("key", key), zap.Error(err))
		return cached, nil
	}
	r.count(NetworkFirst, "miss")
	return nil, err
}

func (r *Resolver) staleWhileRevalidate(ctx context.Context, class Class, key string, fetch Fetcher) ([]byte, error) {
	v, ok := r.get(ctx, key)
	if !ok {
		r.count(StaleWhileRevalidate, "miss")
		return r.fetchAndPut(ctx, class, key, fetch)
	}
	r.count(StaleWhileRevalidate, "stale")

	if _, running := r.inflight.LoadOrStore(key, struct{}{}); !running {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			defer r.inflight.Delete(key)

			bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.refreshTimeout)
			defer cancel()
			if _, err := r.fetchAndPut(bg, class, key, fetch); err != nil {
				r.logger.Debug("Background revalidation failed", zap.String("key", key), zap.Error(err))
			}
		}()
	}
	return v, nil
}

func (r *Resolver) fetchAndPut(ctx context.Context, class Class, key string, fetch Fetcher) ([]byte, error) {
	v, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, errors.New("fetcher returned no data")
	}
	if r.store != nil {
		if err := r.store.Put(ctx, key, v, r.ttl(class)); err != nil {
			r.logger.Warn("Failed to write cache", zap.String("key", key), zap.Error(err))
		}
	}
	return v, nil
}

func (r *Resolver) get(ctx context.Context, key string) ([]byte, bool) {
	if r.store == nil {
		return nil, false
	}
	v, ok, err := r.store.Get(ctx, key)
	if err != nil {
		r.logger.Warn("Failed to read cache", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return v, ok
}

func (r *Resolver) count(s Strategy, result string) {
	metrics.CacheLookups.WithLabelValues(s.String(), result).Inc()
}

// Key builds a namespaced cache key
func Key(class Class, parts ...string) string {
	k := "portfolio:" + string(class)
	for _, p := range parts {
		k = fmt.Sprintf("%s:%s", k, p)
	}
	return k
}
