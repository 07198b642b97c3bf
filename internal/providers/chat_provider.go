package providers

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/rivengate/skinwatch/internal/notify"
	"github.com/rivengate/skinwatch/internal/store"
)

// ChatProvider is the presentation-layer boundary adapter: the chat
// platform SDK itself is an explicit Non-goal (spec.md §1), so this
// logs what it would have sent and reports ErrNotOnThisShard for any
// channel it cannot resolve locally, letting internal/alertengine's
// bus-routing and migrate-to-DM paths exercise normally against a
// real (if presentation-less) process.
type ChatProvider struct {
	log zerolog.Logger

	// localChannels are the channel ids this process instance can reach
	// directly; a real presentation adapter would populate this from its
	// own gateway session cache.
	localChannels map[store.ChannelID]bool
}

// NewChatProvider returns a ChatProvider that considers only the given
// channel ids locally reachable; with an empty list every channel is
// reachable.
func NewChatProvider(log zerolog.Logger, localChannels []store.ChannelID) *ChatProvider {
	set := make(map[store.ChannelID]bool, len(localChannels))
	for _, c := range localChannels {
		set[c] = true
	}
	return &ChatProvider{log: log, localChannels: set}
}

func (c *ChatProvider) reachable(id store.ChannelID) bool {
	if len(c.localChannels) == 0 {
		return true
	}
	return c.localChannels[id]
}

func (c *ChatProvider) SendAlert(ctx context.Context, userID store.UserID, accountIdx int, alerts []store.Alert, expiresAt time.Time, targetChannelID store.ChannelID) error {
	if !c.reachable(targetChannelID) {
		return notify.ErrNotOnThisShard
	}
	c.log.Info().Str("user", string(userID)).Int("account", accountIdx).Int("alerts", len(alerts)).Str("channel", string(targetChannelID)).Msg("alert delivered")
	return nil
}

func (c *ChatProvider) SendDailyShop(ctx context.Context, userID store.UserID, snapshot store.ShopSnapshot, channelID store.ChannelID) error {
	if !c.reachable(channelID) {
		return notify.ErrNotOnThisShard
	}
	c.log.Info().Str("user", string(userID)).Int("items", len(snapshot.Items)).Msg("daily shop delivered")
	return nil
}

func (c *ChatProvider) SendCredentialsExpired(ctx context.Context, userID store.UserID, targetChannelID store.ChannelID) error {
	if !c.reachable(targetChannelID) {
		return notify.ErrNotOnThisShard
	}
	c.log.Info().Str("user", string(userID)).Msg("credentials-expired notice delivered")
	return nil
}

func (c *ChatProvider) NotifyChannelInaccessible(ctx context.Context, userID store.UserID, channelID store.ChannelID, reason string, migratedCount int) error {
	c.log.Warn().Str("user", string(userID)).Str("channel", string(channelID)).Str("reason", reason).Int("migrated", migratedCount).Msg("channel inaccessible, alerts migrated to DM")
	return nil
}

func (c *ChatProvider) OpenDMChannel(ctx context.Context, userID store.UserID) (store.ChannelID, error) {
	return store.ChannelID("dm:" + string(userID)), nil
}

// Upload implements emoji.Uploader. Asset upload is part of the excluded
// chat platform SDK; this returns a deterministic reference derived from
// name so the registry's upload-once invariant is still exercised.
func (c *ChatProvider) Upload(ctx context.Context, name string, image []byte) (string, error) {
	c.log.Debug().Str("name", name).Int("bytes", len(image)).Msg("emoji uploaded")
	return "emoji:" + name, nil
}
