package sqlite3

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rivengate/skinwatch/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(context.Background(), filepath.Join(t.TempDir(), "skinwatch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveUserThenGetUserRoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := &store.User{ID: "u1", Accounts: []store.Account{{Puuid: "p1", UserID: "u1"}}}
	require.NoError(t, s.SaveUser(ctx, u))

	got, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, store.UserID("u1"), got.ID)
	assert.Len(t, got.Accounts, 1)
}

// TestGetUserWithinBatchScopeDoesNotDeadlock pins the fix for the
// single-connection pool: a read issued inside an open batch scope must go
// through the batch's own *sql.Tx instead of requesting a second connection
// from a pool capped at one.
func TestGetUserWithinBatchScopeDoesNotDeadlock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := &store.User{ID: "u1", Accounts: []store.Account{{Puuid: "p1", UserID: "u1"}}}
	require.NoError(t, s.SaveUser(ctx, u))

	batchCtx, err := s.BeginBatchWrites(ctx)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := s.GetUser(batchCtx, "u1")
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("GetUser inside a batch scope deadlocked against the single-connection pool")
	}

	require.NoError(t, s.CommitBatchWrites(batchCtx))
}

// TestGetUserWithinBatchSeesOnlyCommittedState confirms the batch-scope
// contract: a pending (buffered, not-yet-flushed) SaveUser for a user does
// not leak into a GetUser for that same user inside the same batch, and a
// read reflects only what was committed before the batch opened plus writes
// already flushed by this batch's own tx.
func TestGetUserWithinBatchSeesOnlyCommittedState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveUser(ctx, &store.User{ID: "u1"}))

	batchCtx, err := s.BeginBatchWrites(ctx)
	require.NoError(t, err)

	// Buffered, not yet flushed to the database.
	require.NoError(t, s.SaveUser(batchCtx, &store.User{ID: "u1", CurrentAccountIndex: 7}))

	got, err := s.GetUser(batchCtx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Zero(t, got.CurrentAccountIndex, "a pending buffered save must not be visible to a read within the same batch")

	require.NoError(t, s.CommitBatchWrites(batchCtx))

	got, err = s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 7, got.CurrentAccountIndex, "the buffered save must be visible once the batch commits")
}

func TestUpdateSingleAccountWithinBatchIsVisibleToReadInSameBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := &store.User{ID: "u1", Accounts: []store.Account{{Puuid: "p1", UserID: "u1"}}}
	require.NoError(t, s.SaveUser(ctx, u))

	batchCtx, err := s.BeginBatchWrites(ctx)
	require.NoError(t, err)

	require.NoError(t, s.UpdateSingleAccount(batchCtx, &store.Account{Puuid: "p1", UserID: "u1", Username: "renamed"}))

	got, err := s.GetUser(batchCtx, "u1")
	require.NoError(t, err)
	require.Len(t, got.Accounts, 1)
	assert.Equal(t, "renamed", got.Accounts[0].Username, "a write through the batch tx must be visible to a read in the same batch")

	require.NoError(t, s.CommitBatchWrites(batchCtx))
}

func TestDeleteUserRemovesUserAndAccounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := &store.User{ID: "u1", Accounts: []store.Account{{Puuid: "p1", UserID: "u1"}}}
	require.NoError(t, s.SaveUser(ctx, u))
	require.NoError(t, s.DeleteUser(ctx, "u1"))

	got, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUserIDsWithAlertsOrDailyShop(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveUser(ctx, &store.User{
		ID:       "with-alert",
		Accounts: []store.Account{{Puuid: "p1", UserID: "with-alert", Alerts: []store.Alert{{ItemID: "a", ChannelID: "c"}}}},
	}))
	require.NoError(t, s.SaveUser(ctx, &store.User{
		ID:       "with-daily-shop",
		Settings: store.Settings{DailyShopAccountIdx: 1},
	}))
	require.NoError(t, s.SaveUser(ctx, &store.User{ID: "neither"}))

	ids, err := s.UserIDsWithAlertsOrDailyShop(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []store.UserID{"with-alert", "with-daily-shop"}, ids)
}
