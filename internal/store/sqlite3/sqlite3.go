// Package sqlite3 implements store.Store over an embedded, pure-Go SQLite
// database opened in WAL mode. The pool holds a single connection, so
// writes are serialized and reads are serialized with them; reads do not
// run in parallel.
package sqlite3

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	jsoniter "github.com/json-iterator/go"
	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/rivengate/skinwatch/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	currentAccount INTEGER NOT NULL DEFAULT 1,
	settings TEXT NOT NULL DEFAULT '{}',
	createdAt TEXT NOT NULL,
	updatedAt TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS accounts (
	puuid TEXT PRIMARY KEY,
	userId TEXT NOT NULL REFERENCES users(id),
	username TEXT NOT NULL DEFAULT '',
	region TEXT NOT NULL DEFAULT '',
	auth TEXT NOT NULL DEFAULT 'null',
	alerts TEXT NOT NULL DEFAULT '[]',
	authFailures INTEGER NOT NULL DEFAULT 0,
	lastFetchedData TEXT,
	lastNoticeSeen TEXT NOT NULL DEFAULT '',
	lastSawEasterEgg TEXT,
	createdAt TEXT NOT NULL,
	updatedAt TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_accounts_userId ON accounts(userId);
`

// Store is the SQLite-backed store.Store implementation.
type Store struct {
	db   *sql.DB
	goqu *goqu.Database

	usersTable    string
	accountsTable string

	cacheMu sync.Mutex
}

// batchState is stashed on the context by BeginBatchWrites. pending holds
// last-write-wins user saves keyed by UserID; depth folds nested
// Begin/Commit pairs into the outermost transaction.
type batchState struct {
	mu      sync.Mutex
	tx      *sql.Tx
	pending map[store.UserID]*store.User
	depth   int
}

type batchKey struct{}
type cacheKey struct{}

type cacheState struct {
	mu      sync.Mutex
	entries map[store.UserID]*store.User
}

// New opens (creating if needed) the SQLite database at path, applies the
// schema, and configures the single-writer WAL pragmas.
func New(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite3: open %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite3: %s: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite3: apply schema: %w", err)
	}

	return &Store{
		db:            db,
		goqu:          goqu.New("sqlite3", db),
		usersTable:    "users",
		accountsTable: "accounts",
	}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

type userRow struct {
	ID             string `db:"id"`
	CurrentAccount int    `db:"currentAccount"`
	Settings       string `db:"settings"`
	CreatedAt      string `db:"createdAt"`
	UpdatedAt      string `db:"updatedAt"`
}

type accountRow struct {
	Puuid            string `db:"puuid"`
	UserID           string `db:"userId"`
	Username         string `db:"username"`
	Region           string `db:"region"`
	Auth             string `db:"auth"`
	Alerts           string `db:"alerts"`
	AuthFailures     int    `db:"authFailures"`
	LastFetchedData  sql.NullString `db:"lastFetchedData"`
	LastNoticeSeen   string `db:"lastNoticeSeen"`
	LastSawEasterEgg sql.NullString `db:"lastSawEasterEgg"`
	CreatedAt        string `db:"createdAt"`
	UpdatedAt        string `db:"updatedAt"`
}

// queryer is satisfied by both *sql.DB and *sql.Tx. readUser queries
// through it so that, inside a batch scope, reads run on the same
// connection the batch's transaction already holds instead of requesting a
// second one from a pool capped at one.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// GetUser performs a full eager join of a user and its accounts. Within a
// batch scope, reads run through the batch's own transaction, so they see
// that transaction's writes plus whatever was committed before it opened —
// pending (buffered, not-yet-flushed) SaveUser calls for the same user id
// are not visible, per the batch-scope contract.
func (s *Store) GetUser(ctx context.Context, id store.UserID) (*store.User, error) {
	if cs, ok := cacheFromCtx(ctx); ok {
		cs.mu.Lock()
		if u, found := cs.entries[id]; found {
			cs.mu.Unlock()
			return u, nil
		}
		cs.mu.Unlock()
	}

	u, err := s.readUser(ctx, id)
	if err != nil {
		return nil, err
	}

	if cs, ok := cacheFromCtx(ctx); ok && u != nil {
		cs.mu.Lock()
		cs.entries[id] = u
		cs.mu.Unlock()
	}
	return u, nil
}

func (s *Store) readUser(ctx context.Context, id store.UserID) (*store.User, error) {
	var q queryer = s.db
	if bs, ok := batchFromCtx(ctx); ok {
		q = bs.tx
	}

	var row userRow
	query, args, _ := s.goqu.From(s.usersTable).Where(goqu.Ex{"id": string(id)}).ToSQL()
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite3: get user: %w", err)
	}
	found := false
	for rows.Next() {
		found = true
		if err := rows.Scan(&row.ID, &row.CurrentAccount, &row.Settings, &row.CreatedAt, &row.UpdatedAt); err != nil {
			rows.Close()
			return nil, err
		}
	}
	rows.Close()
	if !found {
		return nil, nil
	}

	var settings store.Settings
	if err := json.Unmarshal([]byte(row.Settings), &settings); err != nil {
		return nil, fmt.Errorf("sqlite3: decode settings: %w", err)
	}

	createdAt, _ := time.Parse(time.RFC3339Nano, row.CreatedAt)
	updatedAt, _ := time.Parse(time.RFC3339Nano, row.UpdatedAt)

	u := &store.User{
		ID:                  id,
		CurrentAccountIndex: row.CurrentAccount,
		Settings:            settings,
		CreatedAt:           createdAt,
		UpdatedAt:           updatedAt,
	}

	accQuery, accArgs, _ := s.goqu.From(s.accountsTable).Where(goqu.Ex{"userId": string(id)}).Order(goqu.I("createdAt").Asc()).ToSQL()
	accRows, err := q.QueryContext(ctx, accQuery, accArgs...)
	if err != nil {
		return nil, fmt.Errorf("sqlite3: get accounts: %w", err)
	}
	defer accRows.Close()

	for accRows.Next() {
		var ar accountRow
		if err := accRows.Scan(&ar.Puuid, &ar.UserID, &ar.Username, &ar.Region, &ar.Auth, &ar.Alerts,
			&ar.AuthFailures, &ar.LastFetchedData, &ar.LastNoticeSeen, &ar.LastSawEasterEgg,
			&ar.CreatedAt, &ar.UpdatedAt); err != nil {
			return nil, err
		}
		acc, err := decodeAccount(ar)
		if err != nil {
			return nil, err
		}
		u.Accounts = append(u.Accounts, *acc)
	}

	return u, nil
}

func decodeAccount(ar accountRow) (*store.Account, error) {
	var auth *store.Auth
	if ar.Auth != "" && ar.Auth != "null" {
		auth = &store.Auth{}
		if err := json.Unmarshal([]byte(ar.Auth), auth); err != nil {
			return nil, fmt.Errorf("sqlite3: decode auth: %w", err)
		}
	}

	var alerts []store.Alert
	if err := json.Unmarshal([]byte(ar.Alerts), &alerts); err != nil {
		return nil, fmt.Errorf("sqlite3: decode alerts: %w", err)
	}

	createdAt, _ := time.Parse(time.RFC3339Nano, ar.CreatedAt)
	updatedAt, _ := time.Parse(time.RFC3339Nano, ar.UpdatedAt)
	var lastFetched, lastEgg time.Time
	if ar.LastFetchedData.Valid {
		lastFetched, _ = time.Parse(time.RFC3339Nano, ar.LastFetchedData.String)
	}
	if ar.LastSawEasterEgg.Valid {
		lastEgg, _ = time.Parse(time.RFC3339Nano, ar.LastSawEasterEgg.String)
	}

	return &store.Account{
		Puuid:             store.Puuid(ar.Puuid),
		UserID:            store.UserID(ar.UserID),
		Username:          ar.Username,
		Region:            ar.Region,
		Auth:              auth,
		Alerts:            alerts,
		AuthFailures:      ar.AuthFailures,
		LastFetchedData:   lastFetched,
		LastNoticeSeen:    ar.LastNoticeSeen,
		LastSawEasterEgg:  lastEgg,
		CreatedAt:         createdAt,
		UpdatedAt:         updatedAt,
	}, nil
}

// SaveUser upserts the user row and all of its account rows. Inside a batch
// scope this only buffers the save (last-write-wins per user); outside a
// batch scope it writes immediately in its own transaction.
func (s *Store) SaveUser(ctx context.Context, u *store.User) error {
	if bs, ok := batchFromCtx(ctx); ok {
		bs.mu.Lock()
		cp := *u
		cp.Accounts = append([]store.Account(nil), u.Accounts...)
		bs.pending[u.ID] = &cp
		bs.mu.Unlock()
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite3: save user: begin: %w", err)
	}
	if err := writeUser(ctx, tx, s.usersTable, s.accountsTable, u); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func writeUser(ctx context.Context, tx *sql.Tx, usersTable, accountsTable string, u *store.User) error {
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now

	settingsJSON, err := json.Marshal(u.Settings)
	if err != nil {
		return fmt.Errorf("sqlite3: encode settings: %w", err)
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, currentAccount, settings, createdAt, updatedAt)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			currentAccount=excluded.currentAccount,
			settings=excluded.settings,
			updatedAt=excluded.updatedAt
	`, usersTable),
		string(u.ID), u.CurrentAccountIndex, string(settingsJSON),
		u.CreatedAt.Format(time.RFC3339Nano), u.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("sqlite3: upsert user: %w", err)
	}

	for i := range u.Accounts {
		if err := writeAccount(ctx, tx, accountsTable, &u.Accounts[i]); err != nil {
			return err
		}
	}
	return nil
}

func writeAccount(ctx context.Context, tx *sql.Tx, accountsTable string, a *store.Account) error {
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	authJSON := []byte("null")
	if a.Auth != nil {
		var err error
		authJSON, err = json.Marshal(a.Auth)
		if err != nil {
			return fmt.Errorf("sqlite3: encode auth: %w", err)
		}
	}
	alertsJSON, err := json.Marshal(a.Alerts)
	if err != nil {
		return fmt.Errorf("sqlite3: encode alerts: %w", err)
	}

	var lastFetched, lastEgg any
	if !a.LastFetchedData.IsZero() {
		lastFetched = a.LastFetchedData.Format(time.RFC3339Nano)
	}
	if !a.LastSawEasterEgg.IsZero() {
		lastEgg = a.LastSawEasterEgg.Format(time.RFC3339Nano)
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (puuid, userId, username, region, auth, alerts, authFailures,
			lastFetchedData, lastNoticeSeen, lastSawEasterEgg, createdAt, updatedAt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(puuid) DO UPDATE SET
			userId=excluded.userId, username=excluded.username, region=excluded.region,
			auth=excluded.auth, alerts=excluded.alerts, authFailures=excluded.authFailures,
			lastFetchedData=excluded.lastFetchedData, lastNoticeSeen=excluded.lastNoticeSeen,
			lastSawEasterEgg=excluded.lastSawEasterEgg, updatedAt=excluded.updatedAt
	`, accountsTable),
		string(a.Puuid), string(a.UserID), a.Username, a.Region, string(authJSON), string(alertsJSON),
		a.AuthFailures, lastFetched, a.LastNoticeSeen, lastEgg,
		a.CreatedAt.Format(time.RFC3339Nano), a.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("sqlite3: upsert account: %w", err)
	}
	return nil
}

// UpdateSingleAccount writes only the given account row, leaving sibling
// accounts and the parent user row untouched.
func (s *Store) UpdateSingleAccount(ctx context.Context, a *store.Account) error {
	if bs, ok := batchFromCtx(ctx); ok {
		bs.mu.Lock()
		defer bs.mu.Unlock()
		return writeAccount(ctx, bs.tx, s.accountsTable, a)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := writeAccount(ctx, tx, s.accountsTable, a); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// UpdateAccountAuth writes only the auth column for puuid.
func (s *Store) UpdateAccountAuth(ctx context.Context, puuid store.Puuid, auth *store.Auth) error {
	authJSON := []byte("null")
	if auth != nil {
		var err error
		authJSON, err = json.Marshal(auth)
		if err != nil {
			return err
		}
	}
	exec := func(ctx context.Context, execer interface {
		ExecContext(context.Context, string, ...any) (sql.Result, error)
	}) error {
		_, err := execer.ExecContext(ctx,
			fmt.Sprintf("UPDATE %s SET auth=?, updatedAt=? WHERE puuid=?", s.accountsTable),
			string(authJSON), time.Now().UTC().Format(time.RFC3339Nano), string(puuid))
		return err
	}

	if bs, ok := batchFromCtx(ctx); ok {
		bs.mu.Lock()
		defer bs.mu.Unlock()
		return exec(ctx, bs.tx)
	}
	return exec(ctx, s.db)
}

// DeleteUser deletes a user's accounts and then the user row, in one
// transaction.
func (s *Store) DeleteUser(ctx context.Context, id store.UserID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE userId=?", s.accountsTable), string(id)); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id=?", s.usersTable), string(id)); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// DeleteAccount deletes a single account by puuid.
func (s *Store) DeleteAccount(ctx context.Context, puuid store.Puuid) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE puuid=?", s.accountsTable), string(puuid))
	return err
}

// AllUserIDs returns every user id in the store.
func (s *Store) AllUserIDs(ctx context.Context) ([]store.UserID, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT id FROM %s", s.usersTable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []store.UserID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, store.UserID(id))
	}
	return ids, rows.Err()
}

// UserIDsWithAlertsOrDailyShop returns the indexed fast path the alert
// engine scans: users having at least one non-empty alert set, or a
// dailyShop setting.
func (s *Store) UserIDsWithAlertsOrDailyShop(ctx context.Context) ([]store.UserID, error) {
	query := fmt.Sprintf(`
		SELECT DISTINCT u.id FROM %s u
		LEFT JOIN %s a ON a.userId = u.id
		WHERE (a.alerts IS NOT NULL AND a.alerts != '[]' AND a.alerts != 'null')
		   OR (json_extract(u.settings, '$.dailyShop') IS NOT NULL
		       AND json_extract(u.settings, '$.dailyShop') != 0)
	`, s.usersTable, s.accountsTable)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sqlite3: user ids with alerts: %w", err)
	}
	defer rows.Close()

	var ids []store.UserID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, store.UserID(id))
	}
	return ids, rows.Err()
}

// BeginBatchWrites opens (or, if already open, deepens) a batch scope and
// returns a context carrying it. Nested Begin/Commit pairs fold into the
// outermost transaction.
func (s *Store) BeginBatchWrites(ctx context.Context) (context.Context, error) {
	if bs, ok := batchFromCtx(ctx); ok {
		bs.mu.Lock()
		bs.depth++
		bs.mu.Unlock()
		return ctx, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ctx, fmt.Errorf("sqlite3: begin batch: %w", err)
	}
	bs := &batchState{tx: tx, pending: make(map[store.UserID]*store.User), depth: 1}
	return context.WithValue(ctx, batchKey{}, bs), nil
}

// CommitBatchWrites flushes all buffered SaveUser calls in one transaction
// and closes the batch scope (or, for a nested Begin, decrements depth).
func (s *Store) CommitBatchWrites(ctx context.Context) error {
	bs, ok := batchFromCtx(ctx)
	if !ok {
		return fmt.Errorf("sqlite3: commit batch: no batch scope open")
	}

	bs.mu.Lock()
	bs.depth--
	if bs.depth > 0 {
		bs.mu.Unlock()
		return nil
	}
	pending := bs.pending
	tx := bs.tx
	bs.mu.Unlock()

	for _, u := range pending {
		if err := writeUser(ctx, tx, s.usersTable, s.accountsTable, u); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func batchFromCtx(ctx context.Context) (*batchState, bool) {
	bs, ok := ctx.Value(batchKey{}).(*batchState)
	return bs, ok
}

// BeginUserCacheScope returns a context in which repeated GetUser(id) calls
// return the same snapshot without re-reading, until EndUserCacheScope or
// InvalidateUserCache(id).
func (s *Store) BeginUserCacheScope(ctx context.Context) context.Context {
	return context.WithValue(ctx, cacheKey{}, &cacheState{entries: make(map[store.UserID]*store.User)})
}

// EndUserCacheScope is a documentation no-op: the cache lives on the
// context value and is garbage collected once the context is dropped.
// Callers should stop using the scoped context after calling this.
func (s *Store) EndUserCacheScope(ctx context.Context) {}

// InvalidateUserCache drops any cached snapshot for id in the current
// scope. MUST be called after any mutation within a cache scope, or stale
// reads will occur.
func (s *Store) InvalidateUserCache(ctx context.Context, id store.UserID) {
	if cs, ok := cacheFromCtx(ctx); ok {
		cs.mu.Lock()
		delete(cs.entries, id)
		cs.mu.Unlock()
	}
}

func cacheFromCtx(ctx context.Context) (*cacheState, bool) {
	cs, ok := ctx.Value(cacheKey{}).(*cacheState)
	return cs, ok
}

// NewAccountID mints a new lexically-sortable id for callers that need a
// surrogate key beyond a natural Puuid (e.g. internal migration records).
func NewAccountID() string {
	return ulid.Make().String()
}
