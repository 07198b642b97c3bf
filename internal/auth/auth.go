// Package auth implements the per-account token lifecycle: proactive
// refresh, cookie/code variant handling, and the optional serialized
// cluster-wide login queue that protects the upstream login endpoint from
// a self-inflicted IP ban.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/rivengate/skinwatch/internal/apperr"
	"github.com/rivengate/skinwatch/internal/bus"
	"github.com/rivengate/skinwatch/internal/clock"
	"github.com/rivengate/skinwatch/internal/store"
)

// Reauthorizer performs the opaque upstream calls this core never
// interprets beyond their typed results: exchanging a cookie jar or
// refresh token for a fresh token triple. The concrete upstream wire
// shapes live outside this module's scope (spec.md §1/§6).
type Reauthorizer interface {
	ReauthorizeWithCookies(ctx context.Context, cookies string) (access, id, entitlement string, expiresAt time.Time, err error)
	ReauthorizeWithRefreshToken(ctx context.Context, refreshToken string) (access, id, entitlement, newRefreshToken string, expiresAt time.Time, err error)
	ExchangeCode(ctx context.Context, code string) (refreshToken string, err error)
	FetchEntitlement(ctx context.Context, accessToken string) (string, error)
}

// Core maintains per-Account tokens over a store.Store. Its methods call
// the Reauthorizer directly; none of them goes through LoginQueue, and the
// UseLoginQueue and LoginQueueInterval options are stored but not read.
type Core struct {
	store        store.Store
	reauthorizer Reauthorizer
	bus          *bus.Bus
	clock        clock.Clock

	refreshBuffer      time.Duration
	authFailureStrikes int

	useLoginQueue      bool
	loginQueueInterval time.Duration
}

// Options configures a Core.
type Options struct {
	RefreshBuffer      time.Duration
	AuthFailureStrikes int
	UseLoginQueue      bool
	LoginQueueInterval time.Duration
}

// New returns a Core wired to the given store, upstream reauthorizer, and
// coordination bus.
func New(st store.Store, reauth Reauthorizer, b *bus.Bus, clk clock.Clock, opts Options) *Core {
	return &Core{
		store:              st,
		reauthorizer:       reauth,
		bus:                b,
		clock:              clk,
		refreshBuffer:      opts.RefreshBuffer,
		authFailureStrikes: opts.AuthFailureStrikes,
		useLoginQueue:      opts.UseLoginQueue,
		loginQueueInterval: opts.LoginQueueInterval,
	}
}

// AuthUser verifies or refreshes the access token for the given account.
// If the token's remaining lifetime exceeds the refresh buffer, it returns
// immediately. Otherwise it refreshes: code flow (refresh_token) first,
// cookie reauthorize as fallback, per spec.md §4.E. On success it persists
// the new tokens and always re-fetches the entitlement token when the
// access token changed (I5). On failure it clears Auth (I4 bookkeeping is
// the caller's — the alert engine increments auth_failures and checks the
// strikes cap).
func (c *Core) AuthUser(ctx context.Context, acc *store.Account) error {
	if acc.Auth == nil || acc.Auth.IsAbsent() {
		return &apperr.InvalidCredentials{Reason: "no auth on account"}
	}

	if acc.Auth.AccessExpiresAt.After(c.clock.Now().Add(c.refreshBuffer)) {
		return nil
	}

	var access, id, entitlement string
	var expiresAt time.Time
	var err error
	codeFailed := false

	if acc.Auth.Code != nil {
		var newRefresh string
		access, id, entitlement, newRefresh, expiresAt, err = c.reauthorizer.ReauthorizeWithRefreshToken(ctx, acc.Auth.Code.RefreshToken)
		if err != nil {
			var invalid *apperr.InvalidCredentials
			if isInvalidCredentials(err, &invalid) {
				// Per the resolved Open Question: clear the refresh token
				// whenever a refresh attempt with it present comes back
				// invalid, to avoid repeated hopeless refreshes.
				acc.Auth.Code.RefreshToken = ""
				codeFailed = true
			}
		} else {
			acc.Auth.Code.RefreshToken = newRefresh
			acc.Auth.Code.RefreshTokenObtainedAt = c.clock.Now()
		}
	}

	if (acc.Auth.Code == nil || codeFailed) && acc.Auth.Cookies != nil {
		access, id, entitlement, expiresAt, err = c.reauthorizer.ReauthorizeWithCookies(ctx, acc.Auth.Cookies.Cookies)
		// Invariant I5: cookie-based refresh must also refresh entitlement,
		// which ReauthorizeWithCookies already returns above.
	}

	if err != nil {
		acc.Auth = nil
		return err
	}
	if access == "" {
		acc.Auth = nil
		return &apperr.InvalidCredentials{Reason: "no refresh path available"}
	}

	acc.Auth.AccessToken = access
	acc.Auth.IDToken = id
	acc.Auth.EntitlementToken = entitlement
	acc.Auth.AccessExpiresAt = expiresAt

	if err := c.store.UpdateAccountAuth(ctx, acc.Puuid, acc.Auth); err != nil {
		return err
	}
	return nil
}

func isInvalidCredentials(err error, target **apperr.InvalidCredentials) bool {
	return errors.As(err, target)
}

// RedeemCookies exchanges a cookie jar for tokens and creates or updates
// the account owning puuid for userID.
func (c *Core) RedeemCookies(ctx context.Context, userID store.UserID, puuid store.Puuid, cookies string) (*store.Account, error) {
	access, id, entitlement, expiresAt, err := c.reauthorizer.ReauthorizeWithCookies(ctx, cookies)
	if err != nil {
		return nil, err
	}

	acc := &store.Account{
		Puuid:  puuid,
		UserID: userID,
		Auth: &store.Auth{
			Cookies:          &store.CookieAuth{Cookies: cookies},
			AccessToken:      access,
			IDToken:          id,
			EntitlementToken: entitlement,
			AccessExpiresAt:  expiresAt,
		},
	}
	if err := c.store.UpdateSingleAccount(ctx, acc); err != nil {
		return nil, err
	}
	return acc, nil
}

// RedeemCodeCallback parses the `code` query parameter from callbackURL,
// exchanges it at the token endpoint, and stores the resulting
// refresh_token on the account owning puuid for userID.
func (c *Core) RedeemCodeCallback(ctx context.Context, userID store.UserID, puuid store.Puuid, callbackURL string) (*store.Account, error) {
	u, err := url.Parse(callbackURL)
	if err != nil {
		return nil, fmt.Errorf("auth: parse callback url: %w", err)
	}
	code := u.Query().Get("code")
	if code == "" {
		return nil, &apperr.InvalidCredentials{Reason: "callback missing code parameter"}
	}

	refreshToken, err := c.reauthorizer.ExchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}

	acc := &store.Account{
		Puuid:  puuid,
		UserID: userID,
		Auth: &store.Auth{
			Code: &store.CodeAuth{
				RefreshToken:           refreshToken,
				RefreshTokenObtainedAt: c.clock.Now(),
			},
		},
	}
	if err := c.store.UpdateSingleAccount(ctx, acc); err != nil {
		return nil, err
	}
	return acc, nil
}

// DeleteUserAuth sets the account's Auth to absent, keeping the account
// and its alerts.
func (c *Core) DeleteUserAuth(ctx context.Context, acc *store.Account) error {
	acc.Auth = nil
	return c.store.UpdateAccountAuth(ctx, acc.Puuid, nil)
}

