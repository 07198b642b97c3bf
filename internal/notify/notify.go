// Package notify defines the abstract sink the presentation adapter binds
// to. The core never renders chat-platform messages itself; it only
// constructs typed payloads and hands them to a Port implementation.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/rivengate/skinwatch/internal/store"
)

// ErrNotOnThisShard is returned by a Port implementation when the target
// channel is not cached on the shard handling the call. The caller (the
// alert engine) falls back to the coordination bus's targeted-by-key send.
var ErrNotOnThisShard = errors.New("notify: target channel not on this shard")

// Port is the notification sink a thin presentation adapter implements.
type Port interface {
	SendAlert(ctx context.Context, userID store.UserID, accountIdx int, alerts []store.Alert, expiresAt time.Time, targetChannelID store.ChannelID) error
	SendDailyShop(ctx context.Context, userID store.UserID, snapshot store.ShopSnapshot, channelID store.ChannelID) error
	SendCredentialsExpired(ctx context.Context, userID store.UserID, targetChannelID store.ChannelID) error
	NotifyChannelInaccessible(ctx context.Context, userID store.UserID, channelID store.ChannelID, reason string, migratedCount int) error

	// OpenDMChannel resolves (creating if necessary) the user's direct
	// message channel id, used by the migrate-to-DM recovery path.
	OpenDMChannel(ctx context.Context, userID store.UserID) (store.ChannelID, error)
}
