package alertengine

import (
	"github.com/rivengate/skinwatch/internal/shard"
	"github.com/rivengate/skinwatch/internal/store"
)

// Owns reports whether shardID (0-based) owns userID under totalShards,
// via the snowflake-style right-shift-by-22 partition formula shared
// with internal/shard: shifting out the timestamp portion of the
// external id and keeping the worker-id portion produces an even
// distribution across shards. Structurally grounded on
// Manager.CreateShardIDs cluster/shard-count division in
// gateway/manager.go, generalized from a contiguous shard-id range to a
// per-user hash-mod partition.
func Owns(userID store.UserID, shardID, totalShards int) bool {
	return shard.Owns(string(userID), shardID, totalShards)
}

// Partition filters userIDs down to the subset owned by shardID.
func Partition(userIDs []store.UserID, shardID, totalShards int) []store.UserID {
	var owned []store.UserID
	for _, id := range userIDs {
		if Owns(id, shardID, totalShards) {
			owned = append(owned, id)
		}
	}
	return owned
}
