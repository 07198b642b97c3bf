// Package shard implements the partitioning scheme and per-process
// shard/manager lifecycle wrapper: shard = one OS process, N shards
// total, work partitioned by (id >> 22) mod total.
package shard

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rivengate/skinwatch/internal/bus"
)

// OwnerOf reports which shard id, out of total, owns the entity
// identified by id (a snowflake-style decimal string), via
// (int64(id) >> 22) mod total.
func OwnerOf(id string, total int) int {
	if total <= 1 {
		return 0
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0
	}
	return int((n >> 22) % int64(total))
}

// Owns reports whether this shard owns id out of total shards.
func Owns(id string, shardID, total int) bool {
	return OwnerOf(id, total) == shardID
}

// Partition filters ids down to the ones owned by shardID.
func Partition(ids []string, shardID, total int) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if Owns(id, shardID, total) {
			out = append(out, id)
		}
	}
	return out
}

// Shard is one worker in the cluster: an identity, a bus connection,
// and a readiness/respawn lifecycle mirroring the gateway.Shard/ShardGroup
// pattern, generalized from Discord gateway session management to this
// module's periodic-task lifecycle.
type Shard struct {
	ID    int
	Total int

	Bus *bus.Bus
	log zerolog.Logger

	mu        sync.Mutex
	respawns  int
	startedAt time.Time
}

// New returns a Shard bound to id/total and the given bus connection.
func New(id, total int, b *bus.Bus, log zerolog.Logger) *Shard {
	return &Shard{ID: id, Total: total, Bus: b, log: log.With().Int("shard", id).Logger()}
}

// Owns reports whether this shard owns id.
func (s *Shard) Owns(id string) bool {
	return Owns(id, s.ID, s.Total)
}

// MarkReady announces this shard's readiness on the coordination bus
// and records the start time for uptime reporting.
func (s *Shard) MarkReady(ctx context.Context) error {
	s.mu.Lock()
	s.startedAt = time.Now()
	s.mu.Unlock()

	return s.Bus.Broadcast(ctx, bus.Message{Type: bus.TypeShardRespawned, ShardRespawned: &bus.ShardRespawnedPayload{ShardID: s.ID}})
}

// Respawn increments the respawn counter and re-arms the bus's
// readiness barrier, mirroring the shard reconnect/resume flow
// generalized to this module's coordination bus.
func (s *Shard) Respawn(ctx context.Context) error {
	s.mu.Lock()
	s.respawns++
	s.mu.Unlock()
	return s.MarkReady(ctx)
}

// Respawns returns how many times this shard has respawned.
func (s *Shard) Respawns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.respawns
}

// Uptime returns how long this shard has been continuously ready.
func (s *Shard) Uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}

// Ready blocks until the cluster-wide all_shards_ready barrier opens.
func (s *Shard) Ready() <-chan struct{} {
	return s.Bus.Ready()
}
