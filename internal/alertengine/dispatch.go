package alertengine

import (
	"context"
	"sync"
	"time"

	busp "github.com/rivengate/skinwatch/internal/bus"
	"github.com/rivengate/skinwatch/internal/notify"
	"github.com/rivengate/skinwatch/internal/store"
)

// channelAccessCache mirrors the source's 60-second channel-access cache
// with no cross-shard invalidation: a newly kicked guild is only detected
// on the shard that already cached it, which spec.md §9 accepts as
// by-design. It exists purely to avoid hammering notify.Port on every
// dispatch for channels this engine already knows are unreachable.
type channelAccessCache struct {
	mu      sync.Mutex
	unreachable map[store.ChannelID]time.Time
}

const channelAccessTTL = 60 * time.Second

func (c *channelAccessCache) markUnreachable(id store.ChannelID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unreachable == nil {
		c.unreachable = make(map[store.ChannelID]time.Time)
	}
	c.unreachable[id] = time.Now()
}

func (c *channelAccessCache) isKnownUnreachable(id store.ChannelID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.unreachable[id]
	if !ok {
		return false
	}
	if time.Since(t) > channelAccessTTL {
		delete(c.unreachable, id)
		return false
	}
	return true
}

var globalChannelAccessCache channelAccessCache

func (e *Engine) dispatchAlerts(ctx context.Context, userID store.UserID, accountIdx int, alerts []store.Alert, expiresAt time.Time) error {
	if len(alerts) == 0 {
		return nil
	}
	channelID := alerts[0].ChannelID
	err := e.deliverOrRoute(ctx, channelID, func(target store.ChannelID) error {
		return e.notifier.SendAlert(ctx, userID, accountIdx, alerts, expiresAt, target)
	}, func() (busp.Message, error) {
		ids := make([]string, len(alerts))
		for i, a := range alerts {
			ids[i] = string(a.ItemID)
		}
		return busp.Message{
			Type: busp.TypeAlertDelivery,
			AlertDelivery: &busp.AlertDeliveryPayload{
				UserID: string(userID), AccountIdx: accountIdx, ItemIDs: ids,
				ExpiresAt: expiresAt.Unix(), TargetChannel: string(channelID),
			},
		}, nil
	})
	if err == errChannelInaccessible {
		return e.migrateToDM(ctx, userID, channelID, "channel inaccessible")
	}
	return err
}

func (e *Engine) dispatchDailyShop(ctx context.Context, userID store.UserID, snapshot store.ShopSnapshot) error {
	channelID := store.ChannelID("") // resolved by the notify.Port from user settings
	return e.notifier.SendDailyShop(ctx, userID, snapshot, channelID)
}

func (e *Engine) dispatchCredentialsExpired(ctx context.Context, userID store.UserID, channelID store.ChannelID) error {
	err := e.deliverOrRoute(ctx, channelID, func(target store.ChannelID) error {
		return e.notifier.SendCredentialsExpired(ctx, userID, target)
	}, func() (busp.Message, error) {
		return busp.Message{
			Type: busp.TypeCredentialsExpired,
			CredentialsExpired: &busp.CredentialsExpiredPayload{
				UserID: string(userID), TargetChannel: string(channelID),
			},
		}, nil
	})
	if err == errChannelInaccessible {
		return e.migrateToDM(ctx, userID, channelID, "credentials expired, channel inaccessible")
	}
	return err
}

var errChannelInaccessible = notify.ErrNotOnThisShard

// deliverOrRoute attempts direct delivery via the notify.Port; if it
// reports ErrNotOnThisShard, falls back to a targeted-by-key bus send. If
// no shard owns the channel, it reports errChannelInaccessible so the
// caller can trigger migrate-to-DM.
func (e *Engine) deliverOrRoute(ctx context.Context, channelID store.ChannelID, direct func(store.ChannelID) error, build func() (busp.Message, error)) error {
	if globalChannelAccessCache.isKnownUnreachable(channelID) {
		return e.routeViaBus(ctx, channelID, build)
	}

	err := direct(channelID)
	if err == nil {
		return nil
	}
	if err != notify.ErrNotOnThisShard {
		return err
	}
	return e.routeViaBus(ctx, channelID, build)
}

func (e *Engine) routeViaBus(ctx context.Context, channelID store.ChannelID, build func() (busp.Message, error)) error {
	msg, err := build()
	if err != nil {
		return err
	}
	accepted, err := e.bus.SendToKey(ctx, msg, string(channelID))
	if err != nil {
		return err
	}
	if !accepted {
		globalChannelAccessCache.markUnreachable(channelID)
		return errChannelInaccessible
	}
	return nil
}

// migrateToDM implements the recovery path of spec.md §4.I: opens the
// user's DM channel, rewrites every alert bound to the inaccessible
// channel to the DM channel in one transactional save, and notifies the
// user of the migration and its reason.
func (e *Engine) migrateToDM(ctx context.Context, userID store.UserID, inaccessibleChannel store.ChannelID, reason string) error {
	dmChannel, err := e.notifier.OpenDMChannel(ctx, userID)
	if err != nil {
		return err
	}

	u, err := e.store.GetUser(ctx, userID)
	if err != nil || u == nil {
		return err
	}

	migrated := 0
	for i := range u.Accounts {
		for j := range u.Accounts[i].Alerts {
			if u.Accounts[i].Alerts[j].ChannelID == inaccessibleChannel {
				u.Accounts[i].Alerts[j].ChannelID = dmChannel
				migrated++
			}
		}
	}
	if migrated == 0 {
		return nil
	}

	if err := e.store.SaveUser(ctx, u); err != nil {
		return err
	}
	e.store.InvalidateUserCache(ctx, userID)

	return e.notifier.NotifyChannelInaccessible(ctx, userID, dmChannel, reason, migrated)
}
