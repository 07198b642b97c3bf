package alertengine

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rivengate/skinwatch/internal/apperr"
	"github.com/rivengate/skinwatch/internal/catalog"
	"github.com/rivengate/skinwatch/internal/clock"
	"github.com/rivengate/skinwatch/internal/shop"
	"github.com/rivengate/skinwatch/internal/store"
)

type fakeStore struct {
	store.Store

	mu         sync.Mutex
	users      map[store.UserID]*store.User
	candidates []store.UserID

	updateSingleAccountCalls int
	invalidateCalls          int
	savedUser                *store.User
}

func newFakeStore(users ...*store.User) *fakeStore {
	fs := &fakeStore{users: make(map[store.UserID]*store.User)}
	for _, u := range users {
		fs.users[u.ID] = u
		fs.candidates = append(fs.candidates, u.ID)
	}
	return fs
}

func (f *fakeStore) GetUser(ctx context.Context, id store.UserID) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[id], nil
}

func (f *fakeStore) SaveUser(ctx context.Context, u *store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.savedUser = u
	f.users[u.ID] = u
	return nil
}

func (f *fakeStore) UpdateSingleAccount(ctx context.Context, a *store.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateSingleAccountCalls++
	return nil
}

func (f *fakeStore) UpdateAccountAuth(ctx context.Context, puuid store.Puuid, auth *store.Auth) error {
	return nil
}

func (f *fakeStore) InvalidateUserCache(ctx context.Context, id store.UserID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidateCalls++
}

func (f *fakeStore) BeginBatchWrites(ctx context.Context) (context.Context, error) { return ctx, nil }
func (f *fakeStore) CommitBatchWrites(ctx context.Context) error                   { return nil }
func (f *fakeStore) BeginUserCacheScope(ctx context.Context) context.Context       { return ctx }
func (f *fakeStore) EndUserCacheScope(ctx context.Context)                         {}

func (f *fakeStore) UserIDsWithAlertsOrDailyShop(ctx context.Context) ([]store.UserID, error) {
	return f.candidates, nil
}

type fakeShopFetcher struct {
	mu        sync.Mutex
	calls     int
	items     []store.ItemID
	err       error
	errOnce   bool
}

func (f *fakeShopFetcher) FetchDailyShop(ctx context.Context, acc *store.Account) ([]store.ItemID, map[string]catalog.Price, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		err := f.err
		if f.errOnce {
			f.err = nil
		}
		return nil, nil, time.Time{}, err
	}
	return f.items, nil, time.Now().Add(25 * time.Hour), nil
}

func (f *fakeShopFetcher) FetchNightMarket(ctx context.Context, acc *store.Account) ([]store.ItemID, map[string]catalog.Price, time.Time, error) {
	return nil, nil, time.Time{}, nil
}

func (f *fakeShopFetcher) FetchBundles(ctx context.Context) ([]string, map[string]catalog.Price, error) {
	return nil, nil, nil
}

type fakeNotifier struct {
	mu              sync.Mutex
	alertsSent      []store.UserID
	dailyShopsSent  []store.UserID
	credExpiredSent []store.UserID
}

func (n *fakeNotifier) SendAlert(ctx context.Context, userID store.UserID, accountIdx int, alerts []store.Alert, expiresAt time.Time, targetChannelID store.ChannelID) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alertsSent = append(n.alertsSent, userID)
	return nil
}

func (n *fakeNotifier) SendDailyShop(ctx context.Context, userID store.UserID, snapshot store.ShopSnapshot, channelID store.ChannelID) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dailyShopsSent = append(n.dailyShopsSent, userID)
	return nil
}

func (n *fakeNotifier) SendCredentialsExpired(ctx context.Context, userID store.UserID, targetChannelID store.ChannelID) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.credExpiredSent = append(n.credExpiredSent, userID)
	return nil
}

func (n *fakeNotifier) NotifyChannelInaccessible(ctx context.Context, userID store.UserID, channelID store.ChannelID, reason string, migratedCount int) error {
	return nil
}

func (n *fakeNotifier) OpenDMChannel(ctx context.Context, userID store.UserID) (store.ChannelID, error) {
	return store.ChannelID("dm:" + userID), nil
}

func newTestEngine(t *testing.T, st store.Store, fetcher *fakeShopFetcher, notifier *fakeNotifier) *Engine {
	t.Helper()
	cat, err := catalog.New(filepath.Join(t.TempDir(), "catalog.json"), nil)
	require.NoError(t, err)
	svc := shop.New(fetcher, cat)
	return New(st, svc, nil, notifier, nil, clock.NewMock(time.Now()), zerolog.Nop(), Options{ShardID: 0, TotalShards: 1, AuthFailureStrikes: 3})
}

func TestProcessUserDispatchesAlertOnMatchingItem(t *testing.T) {
	u := &store.User{
		ID: "user1",
		Accounts: []store.Account{
			{Puuid: "p1", UserID: "user1", Alerts: []store.Alert{{ItemID: "reaver_vandal", ChannelID: "c1"}}},
		},
	}
	fetcher := &fakeShopFetcher{items: []store.ItemID{"reaver_vandal"}}
	notifier := &fakeNotifier{}
	st := newFakeStore(u)
	e := newTestEngine(t, st, fetcher, notifier)

	_, err := e.processUser(context.Background(), "user1", false)
	require.NoError(t, err)
	assert.Equal(t, []store.UserID{"user1"}, notifier.alertsSent)
}

func TestProcessUserSkipsAccountWithNoAlertsOrDailyShop(t *testing.T) {
	u := &store.User{
		ID: "user1",
		Accounts: []store.Account{
			{Puuid: "p1", UserID: "user1"},
		},
	}
	fetcher := &fakeShopFetcher{items: []store.ItemID{"reaver_vandal"}}
	notifier := &fakeNotifier{}
	st := newFakeStore(u)
	e := newTestEngine(t, st, fetcher, notifier)

	_, err := e.processUser(context.Background(), "user1", false)
	require.NoError(t, err)
	assert.Zero(t, fetcher.calls, "an account with no alerts and no daily-shop setting must not be fetched")
}

func TestProcessUserDispatchesDailyShopForCurrentAccount(t *testing.T) {
	u := &store.User{
		ID:                  "user1",
		CurrentAccountIndex: 1,
		Settings:            store.Settings{DailyShopAccountIdx: 1},
		Accounts: []store.Account{
			{Puuid: "p1", UserID: "user1"},
		},
	}
	fetcher := &fakeShopFetcher{items: []store.ItemID{"vandal"}}
	notifier := &fakeNotifier{}
	st := newFakeStore(u)
	e := newTestEngine(t, st, fetcher, notifier)

	_, err := e.processUser(context.Background(), "user1", false)
	require.NoError(t, err)
	assert.Equal(t, []store.UserID{"user1"}, notifier.dailyShopsSent)
}

func TestProcessUserTracksAuthFailureStrikesAndClearsAuthOnCap(t *testing.T) {
	u := &store.User{
		ID: "user1",
		Accounts: []store.Account{
			{
				Puuid: "p1", UserID: "user1",
				Auth:         &store.Auth{Cookies: &store.CookieAuth{Cookies: "jar"}},
				Alerts:       []store.Alert{{ItemID: "a", ChannelID: "c1"}},
				AuthFailures: 2,
			},
		},
	}
	fetcher := &fakeShopFetcher{err: &apperr.InvalidCredentials{Reason: "expired"}}
	notifier := &fakeNotifier{}
	st := newFakeStore(u)
	e := newTestEngine(t, st, fetcher, notifier)

	_, err := e.processUser(context.Background(), "user1", false)
	require.NoError(t, err)

	assert.Equal(t, 3, u.Accounts[0].AuthFailures)
	assert.Nil(t, u.Accounts[0].Auth, "reaching the strike cap must clear auth")
	assert.Equal(t, []store.UserID{"user1"}, notifier.credExpiredSent)
}

func TestProcessUserDoesNotClearAuthBelowStrikeCap(t *testing.T) {
	u := &store.User{
		ID: "user1",
		Accounts: []store.Account{
			{
				Puuid: "p1", UserID: "user1",
				Auth:         &store.Auth{Cookies: &store.CookieAuth{Cookies: "jar"}},
				Alerts:       []store.Alert{{ItemID: "a", ChannelID: "c1"}},
				AuthFailures: 0,
			},
		},
	}
	fetcher := &fakeShopFetcher{err: &apperr.InvalidCredentials{Reason: "expired"}}
	notifier := &fakeNotifier{}
	st := newFakeStore(u)
	e := newTestEngine(t, st, fetcher, notifier)

	_, err := e.processUser(context.Background(), "user1", false)
	require.NoError(t, err)

	assert.Equal(t, 1, u.Accounts[0].AuthFailures)
	assert.NotNil(t, u.Accounts[0].Auth)
	assert.Empty(t, notifier.credExpiredSent)
}

func TestProcessUserReturnsCacheMissAsNextShouldWait(t *testing.T) {
	u := &store.User{
		ID: "user1",
		Accounts: []store.Account{
			{Puuid: "p1", UserID: "user1", Alerts: []store.Alert{{ItemID: "a", ChannelID: "c1"}}},
		},
	}
	fetcher := &fakeShopFetcher{items: []store.ItemID{"b"}}
	st := newFakeStore(u)
	e := newTestEngine(t, st, fetcher, &fakeNotifier{})

	nextShouldWait, err := e.processUser(context.Background(), "user1", false)
	require.NoError(t, err)
	assert.True(t, nextShouldWait, "a real upstream fetch (cache miss) must carry should_wait=true forward")
}

func TestRunOnceOnlyProcessesOwnedPartition(t *testing.T) {
	u1 := &store.User{ID: "100663296", Accounts: []store.Account{{Puuid: "p1", UserID: "100663296", Alerts: []store.Alert{{ItemID: "a", ChannelID: "c1"}}}}}
	u2 := &store.User{ID: "104857600", Accounts: []store.Account{{Puuid: "p2", UserID: "104857600", Alerts: []store.Alert{{ItemID: "a", ChannelID: "c2"}}}}}
	fetcher := &fakeShopFetcher{items: []store.ItemID{"a"}}
	notifier := &fakeNotifier{}
	st := newFakeStore(u1, u2)

	cat, err := catalog.New(filepath.Join(t.TempDir(), "catalog.json"), nil)
	require.NoError(t, err)
	svc := shop.New(fetcher, cat)
	e := New(st, svc, nil, notifier, nil, clock.NewMock(time.Now()), zerolog.Nop(), Options{ShardID: 0, TotalShards: 2, AuthFailureStrikes: 3})

	require.NoError(t, e.RunOnce(context.Background()))

	owned := Partition([]store.UserID{u1.ID, u2.ID}, 0, 2)
	assert.ElementsMatch(t, owned, notifier.alertsSent)
	assert.Len(t, notifier.alertsSent, 1, "RunOnce on shard 0 of 2 must process only its owned partition")
}
