package alertengine

import (
	"context"
	"errors"
	"time"

	"github.com/rivengate/skinwatch/internal/apperr"
	"github.com/rivengate/skinwatch/internal/store"
)

const maintenanceRetryDelay = 15 * time.Minute

// processUser runs the per-account loop for one user and returns the
// should_wait flag to carry into the next user in sequential mode: true
// whenever this user's most recent upstream call was a cache miss
// (indicating a real network round-trip just happened), per spec.md
// §4.I's resolved Open Question.
func (e *Engine) processUser(ctx context.Context, userID store.UserID, shouldWait bool) (nextShouldWait bool, err error) {
	if shouldWait && e.delayBetweenAlerts > 0 {
		select {
		case <-time.After(e.delayBetweenAlerts):
		case <-ctx.Done():
			return shouldWait, ctx.Err()
		}
	}

	u, err := e.store.GetUser(ctx, userID)
	if err != nil || u == nil {
		return shouldWait, err
	}

	var credentialsExpiredChannels map[store.ChannelID]store.UserID
	lastWasCacheMiss := shouldWait

	for i := range u.Accounts {
		acc := &u.Accounts[i]

		hasDailyShop := u.Settings.DailyShopAccountIdx == i+1
		if len(acc.Alerts) == 0 && !hasDailyShop {
			continue
		}
		if len(acc.Alerts) == 0 && u.Settings.DailyShopAccountIdx != 0 && u.Settings.DailyShopAccountIdx != i+1 {
			continue
		}

		if pruned := dedupeAlerts(acc.Alerts); len(pruned) != len(acc.Alerts) {
			acc.Alerts = pruned
			if err := e.store.UpdateSingleAccount(ctx, acc); err != nil {
				return shouldWait, err
			}
			e.store.InvalidateUserCache(ctx, userID)
		}

		snapshot, cacheMiss, authFailed := e.fetchWithRetry(ctx, acc)
		lastWasCacheMiss = cacheMiss

		if authFailed {
			acc.AuthFailures++
			if acc.AuthFailures > e.authFailureStrikes {
				acc.AuthFailures = e.authFailureStrikes
			}
			if acc.AuthFailures >= e.authFailureStrikes {
				acc.Auth = nil
				if credentialsExpiredChannels == nil {
					credentialsExpiredChannels = make(map[store.ChannelID]store.UserID)
				}
				for _, al := range acc.Alerts {
					credentialsExpiredChannels[al.ChannelID] = userID
				}
			}
			if err := e.store.UpdateSingleAccount(ctx, acc); err != nil {
				return shouldWait, err
			}
			e.store.InvalidateUserCache(ctx, userID)
			continue
		}

		isCurrent := u.CurrentAccountIndex == i+1
		if isCurrent && hasDailyShop {
			if err := e.dispatchDailyShop(ctx, userID, snapshot); err != nil {
				e.log.Error().Err(err).Msg("failed to dispatch daily shop notification")
			}
		}

		positive := intersect(acc.Alerts, snapshot.Items)
		if len(positive) > 0 {
			if err := e.dispatchAlerts(ctx, userID, i+1, positive, snapshot.ExpiresAt); err != nil {
				e.log.Error().Err(err).Msg("failed to dispatch alert notification")
			}
		}
	}

	for channelID := range credentialsExpiredChannels {
		if err := e.dispatchCredentialsExpired(ctx, userID, channelID); err != nil {
			e.log.Error().Err(err).Msg("failed to dispatch credentials-expired notification")
		}
	}

	return lastWasCacheMiss, nil
}

// fetchWithRetry fetches acc's shop, handling maintenance and rate-limit
// responses with sleep-then-retry. It retries until a fetch succeeds, a
// non-retryable error arrives, or ctx is cancelled; the number of retries
// is not capped.
func (e *Engine) fetchWithRetry(ctx context.Context, acc *store.Account) (snapshot store.ShopSnapshot, cacheMiss, authFailed bool) {
	for {
		snap, err := e.shop.FetchShop(ctx, acc, e.authenticate)
		if err == nil {
			return snap, !snap.Cached, false
		}

		var maint *apperr.Maintenance
		var rl *apperr.RateLimited
		var invalid *apperr.InvalidCredentials

		switch {
		case asErr(err, &maint):
			select {
			case <-time.After(maintenanceRetryDelay):
				continue
			case <-ctx.Done():
				return store.ShopSnapshot{}, true, false
			}
		case asErr(err, &rl):
			wait := time.Until(rl.RetryAt)
			if wait < 0 {
				wait = 0
			}
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return store.ShopSnapshot{}, true, false
			}
		case asErr(err, &invalid):
			return store.ShopSnapshot{}, true, true
		default:
			e.log.Error().Err(err).Str("puuid", string(acc.Puuid)).Msg("shop fetch failed")
			return store.ShopSnapshot{}, true, false
		}
	}
}

func asErr[T error](err error, target *T) bool {
	return errors.As(err, target)
}

// dedupeAlerts removes duplicate alerts by ItemID, keeping the first
// occurrence, preserving set semantics per Account (invariant I1).
func dedupeAlerts(alerts []store.Alert) []store.Alert {
	seen := make(map[store.ItemID]bool, len(alerts))
	out := make([]store.Alert, 0, len(alerts))
	for _, a := range alerts {
		if seen[a.ItemID] {
			continue
		}
		seen[a.ItemID] = true
		out = append(out, a)
	}
	return out
}

// intersect computes alerts whose ItemID appears in offerItems.
func intersect(alerts []store.Alert, offerItems []store.ItemID) []store.Alert {
	offered := make(map[store.ItemID]bool, len(offerItems))
	for _, id := range offerItems {
		offered[id] = true
	}
	var hits []store.Alert
	for _, a := range alerts {
		if offered[a.ItemID] {
			hits = append(hits, a)
		}
	}
	return hits
}
