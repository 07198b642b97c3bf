// Package shop implements the per-account shop cache and feeds price
// observations discovered in shop responses back into the asset catalog.
package shop

import (
	"context"
	"sync"
	"time"

	"github.com/rivengate/skinwatch/internal/catalog"
	"github.com/rivengate/skinwatch/internal/store"
)

const cacheTTL = 25 * time.Hour

// Fetcher performs the opaque upstream calls for a shop/night-market/
// bundle listing; the concrete upstream wire shapes are out of this
// module's scope.
type Fetcher interface {
	FetchDailyShop(ctx context.Context, acc *store.Account) (items []store.ItemID, prices map[string]catalog.Price, expiresAt time.Time, err error)
	FetchNightMarket(ctx context.Context, acc *store.Account) (items []store.ItemID, prices map[string]catalog.Price, expiresAt time.Time, err error)
	FetchBundles(ctx context.Context) (bundleIDs []string, prices map[string]catalog.Price, err error)
}

type cacheEntry struct {
	snapshot store.ShopSnapshot
	expires  time.Time
}

// Service is the shop service: fetch_shop/fetch_night_market/fetch_bundles
// with a 25-hour per-Puuid cache, authenticating via the caller-supplied
// Authenticator before any cache-miss upstream call.
type Service struct {
	fetcher Fetcher
	catalog *catalog.Catalog

	mu    sync.Mutex
	cache map[store.Puuid]cacheEntry
}

// New returns a Service wired to fetcher and cat.
func New(fetcher Fetcher, cat *catalog.Catalog) *Service {
	return &Service{fetcher: fetcher, cache: make(map[store.Puuid]cacheEntry), catalog: cat}
}

// Authenticator is consulted before any cache-miss upstream call.
type Authenticator func(ctx context.Context, acc *store.Account) error

// FetchShop returns the cached snapshot for acc if still valid, otherwise
// authenticates, fetches upstream, caches the result, and merges any
// observed prices into the catalog.
func (s *Service) FetchShop(ctx context.Context, acc *store.Account, authenticate Authenticator) (store.ShopSnapshot, error) {
	s.mu.Lock()
	entry, ok := s.cache[acc.Puuid]
	s.mu.Unlock()
	if ok && entry.expires.After(time.Now()) {
		cached := entry.snapshot
		cached.Cached = true
		return cached, nil
	}

	if authenticate != nil {
		if err := authenticate(ctx, acc); err != nil {
			return store.ShopSnapshot{}, err
		}
	}

	items, prices, expiresAt, err := s.fetcher.FetchDailyShop(ctx, acc)
	if err != nil {
		return store.ShopSnapshot{}, err
	}

	snap := store.ShopSnapshot{Puuid: acc.Puuid, Items: items, ExpiresAt: expiresAt, Cached: false}

	s.mu.Lock()
	s.cache[acc.Puuid] = cacheEntry{snapshot: snap, expires: time.Now().Add(cacheTTL)}
	s.mu.Unlock()

	s.catalog.MergePrices(prices)

	return snap, nil
}

// FetchNightMarket is analogous to FetchShop for the rotating night-market
// listing, when active.
func (s *Service) FetchNightMarket(ctx context.Context, acc *store.Account, authenticate Authenticator) ([]store.ItemID, time.Time, error) {
	if authenticate != nil {
		if err := authenticate(ctx, acc); err != nil {
			return nil, time.Time{}, err
		}
	}
	items, prices, expiresAt, err := s.fetcher.FetchNightMarket(ctx, acc)
	if err != nil {
		return nil, time.Time{}, err
	}
	s.catalog.MergePrices(prices)
	return items, expiresAt, nil
}

// FetchBundles is analogous to FetchShop for the current storefront
// bundles, which are account-independent.
func (s *Service) FetchBundles(ctx context.Context) ([]string, error) {
	bundleIDs, prices, err := s.fetcher.FetchBundles(ctx)
	if err != nil {
		return nil, err
	}
	s.catalog.MergePrices(prices)
	return bundleIDs, nil
}
