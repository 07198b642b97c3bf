// Package bus implements the cross-shard coordination fabric: broadcast
// and targeted-by-key messaging, the readiness barrier, a distributed
// lock, and shared counter/queue primitives backed by NATS Streaming (for
// pub/sub transport) and Redis (for atomic cluster state) — the same
// NATS/STAN/Redis stack used upstream to move shard events to consumers.
package bus

// MessageType is a closed tag for the bus's standard message variants.
// Replacing the source's stringly-typed `type` switch with this tagged
// union keeps dispatch exhaustive and avoids payload/type mismatches.
type MessageType string

const (
	TypeAllShardsReady     MessageType = "all_shards_ready"
	TypeConfigReload       MessageType = "config_reload"
	TypeCatalogReload      MessageType = "catalog_reload"
	TypePriceUpdate        MessageType = "price_update"
	TypeEmojiCatalogWarm   MessageType = "emoji_catalog_warm"
	TypeSettingsInvalidate MessageType = "settings_invalidate"
	TypeAlertDelivery      MessageType = "alert_delivery"
	TypeDailyShopDelivery  MessageType = "daily_shop_delivery"
	TypeCredentialsExpired MessageType = "credentials_expired"
	TypeForceCheckAlerts   MessageType = "force_check_alerts"
	TypeLogLines           MessageType = "log_lines"
	TypeVersionData        MessageType = "version_data"
	TypeShardRespawned     MessageType = "shard_respawned"
	TypeProcessExit        MessageType = "process_exit"
)

// Message is the envelope published on the bus. At most one payload field
// is set, matching Type; types without a payload struct set none. msgpack tags follow the upstream event struct
// convention (see marshal.go's `msgpack:"shard_id"` fields).
type Message struct {
	Type     MessageType `msgpack:"type"`
	SenderID int         `msgpack:"sender_id"`

	ConfigReload       *ConfigReloadPayload       `msgpack:"config_reload,omitempty"`
	PriceUpdate        *PriceUpdatePayload        `msgpack:"price_update,omitempty"`
	EmojiCatalogWarm   *EmojiCatalogWarmPayload   `msgpack:"emoji_catalog_warm,omitempty"`
	SettingsInvalidate *SettingsInvalidatePayload `msgpack:"settings_invalidate,omitempty"`
	AlertDelivery      *AlertDeliveryPayload      `msgpack:"alert_delivery,omitempty"`
	DailyShopDelivery  *DailyShopDeliveryPayload  `msgpack:"daily_shop_delivery,omitempty"`
	CredentialsExpired *CredentialsExpiredPayload `msgpack:"credentials_expired,omitempty"`
	LogLines           *LogLinesPayload           `msgpack:"log_lines,omitempty"`
	VersionData        *VersionDataPayload        `msgpack:"version_data,omitempty"`
	ShardRespawned     *ShardRespawnedPayload     `msgpack:"shard_respawned,omitempty"`
}

type ConfigReloadPayload struct {
	Path string `msgpack:"path"`
}

type PriceUpdatePayload struct {
	ItemID string  `msgpack:"item_id"`
	Price  int     `msgpack:"price"`
	Currency string `msgpack:"currency"`
}

type EmojiCatalogWarmPayload struct {
	Snapshot map[string]string `msgpack:"snapshot"` // name -> emoji id
}

type SettingsInvalidatePayload struct {
	UserID string `msgpack:"user_id"`
}

type AlertDeliveryPayload struct {
	UserID         string   `msgpack:"user_id"`
	AccountIdx     int      `msgpack:"account_idx"`
	ItemIDs        []string `msgpack:"item_ids"`
	ExpiresAt      int64    `msgpack:"expires_at"`
	TargetChannel  string   `msgpack:"target_channel"`
}

type DailyShopDeliveryPayload struct {
	UserID        string   `msgpack:"user_id"`
	ItemIDs       []string `msgpack:"item_ids"`
	TargetChannel string   `msgpack:"target_channel"`
}

type CredentialsExpiredPayload struct {
	UserID        string `msgpack:"user_id"`
	TargetChannel string `msgpack:"target_channel"`
}

type LogLinesPayload struct {
	Lines []string `msgpack:"lines"`
}

type VersionDataPayload struct {
	GameVersion string `msgpack:"game_version"`
}

type ShardRespawnedPayload struct {
	ShardID int `msgpack:"shard_id"`
}
