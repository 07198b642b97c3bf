package shop

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rivengate/skinwatch/internal/catalog"
	"github.com/rivengate/skinwatch/internal/store"
)

type fakeFetcher struct {
	shopCalls int
	items     []store.ItemID
	prices    map[string]catalog.Price
	expiresAt time.Time
	shopErr   error

	bundleIDs  []string
	bundleErr  error
}

func (f *fakeFetcher) FetchDailyShop(ctx context.Context, acc *store.Account) ([]store.ItemID, map[string]catalog.Price, time.Time, error) {
	f.shopCalls++
	return f.items, f.prices, f.expiresAt, f.shopErr
}

func (f *fakeFetcher) FetchNightMarket(ctx context.Context, acc *store.Account) ([]store.ItemID, map[string]catalog.Price, time.Time, error) {
	return f.items, f.prices, f.expiresAt, f.shopErr
}

func (f *fakeFetcher) FetchBundles(ctx context.Context) ([]string, map[string]catalog.Price, error) {
	return f.bundleIDs, f.prices, f.bundleErr
}

func newTestCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New(filepath.Join(t.TempDir(), "catalog.json"), nil)
	require.NoError(t, err)
	return c
}

func TestFetchShopCallsUpstreamOnCacheMiss(t *testing.T) {
	f := &fakeFetcher{items: []store.ItemID{"a", "b"}, expiresAt: time.Now().Add(time.Hour)}
	svc := New(f, newTestCatalog(t))

	snap, err := svc.FetchShop(context.Background(), &store.Account{Puuid: "p1"}, nil)
	require.NoError(t, err)
	assert.False(t, snap.Cached)
	assert.Equal(t, []store.ItemID{"a", "b"}, snap.Items)
	assert.Equal(t, 1, f.shopCalls)
}

func TestFetchShopServesFromCacheOnSecondCall(t *testing.T) {
	f := &fakeFetcher{items: []store.ItemID{"a"}, expiresAt: time.Now().Add(time.Hour)}
	svc := New(f, newTestCatalog(t))
	acc := &store.Account{Puuid: "p1"}

	_, err := svc.FetchShop(context.Background(), acc, nil)
	require.NoError(t, err)

	snap, err := svc.FetchShop(context.Background(), acc, nil)
	require.NoError(t, err)
	assert.True(t, snap.Cached)
	assert.Equal(t, 1, f.shopCalls, "second call within the cache TTL must not hit the fetcher again")
}

func TestFetchShopAuthenticatesOnlyOnCacheMiss(t *testing.T) {
	f := &fakeFetcher{items: []store.ItemID{"a"}, expiresAt: time.Now().Add(time.Hour)}
	svc := New(f, newTestCatalog(t))
	acc := &store.Account{Puuid: "p1"}

	authCalls := 0
	authenticate := func(ctx context.Context, a *store.Account) error {
		authCalls++
		return nil
	}

	_, err := svc.FetchShop(context.Background(), acc, authenticate)
	require.NoError(t, err)
	_, err = svc.FetchShop(context.Background(), acc, authenticate)
	require.NoError(t, err)

	assert.Equal(t, 1, authCalls)
}

func TestFetchShopPropagatesAuthenticationFailure(t *testing.T) {
	f := &fakeFetcher{}
	svc := New(f, newTestCatalog(t))

	authErr := errors.New("credentials expired")
	_, err := svc.FetchShop(context.Background(), &store.Account{Puuid: "p1"}, func(ctx context.Context, a *store.Account) error {
		return authErr
	})

	assert.ErrorIs(t, err, authErr)
	assert.Equal(t, 0, f.shopCalls, "an auth failure must short-circuit before any upstream call")
}

func TestFetchShopMergesObservedPricesIntoCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	cat, err := catalog.New(path, nil)
	require.NoError(t, err)
	f := &fakeFetcher{
		items:     []store.ItemID{"a"},
		prices:    map[string]catalog.Price{"a": {Cost: 1775, Currency: "vp"}},
		expiresAt: time.Now().Add(time.Hour),
	}
	svc := New(f, cat)

	_, err = svc.FetchShop(context.Background(), &store.Account{Puuid: "p1"}, nil)
	require.NoError(t, err)

	cat.Flush()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "1775", "a price observed in a shop fetch must be merged into the catalog")
}

func TestFetchBundlesReturnsIDs(t *testing.T) {
	cat := newTestCatalog(t)
	f := &fakeFetcher{
		bundleIDs: []string{"bundle-1"},
		prices:    map[string]catalog.Price{"bundle-1": {Cost: 6375, Currency: "vp"}},
	}
	svc := New(f, cat)

	ids, err := svc.FetchBundles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"bundle-1"}, ids)
}

func TestFetchBundlesPropagatesUpstreamError(t *testing.T) {
	wantErr := errors.New("storefront unavailable")
	f := &fakeFetcher{bundleErr: wantErr}
	svc := New(f, newTestCatalog(t))

	_, err := svc.FetchBundles(context.Background())
	assert.ErrorIs(t, err, wantErr)
}
