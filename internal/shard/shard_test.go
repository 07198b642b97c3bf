package shard

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOwnerOfDistributesBySnowflakeWorkerID(t *testing.T) {
	const total = 4
	counts := make(map[int]int)
	for i := int64(0); i < 4096; i++ {
		id := strconv.FormatInt(i<<22, 10)
		owner := OwnerOf(id, total)
		require.GreaterOrEqual(t, owner, 0)
		require.Less(t, owner, total)
		counts[owner]++
	}
	for shardID := 0; shardID < total; shardID++ {
		assert.NotZerof(t, counts[shardID], "shard %d received no owned ids, expected roughly even distribution", shardID)
	}
}

func TestOwnerOfSingleShardOwnsEverything(t *testing.T) {
	assert.Equal(t, 0, OwnerOf("123456789012345678", 1))
	assert.True(t, Owns("999999999999999999", 0, 1))
}

func TestPartitionKeepsOnlyOwnedIDs(t *testing.T) {
	ids := []string{"0", "4194304", "8388608", "12582912"} // 0, 1<<22, 2<<22, 3<<22
	const total = 4
	for shardID := 0; shardID < total; shardID++ {
		part := Partition(ids, shardID, total)
		for _, id := range part {
			assert.Truef(t, Owns(id, shardID, total), "Partition returned id %s not owned by shard %d", id, shardID)
		}
	}
}
