package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/rivengate/skinwatch/internal/bus"
)

// LoginOperation is one unit of work submitted to the serialized
// cluster-wide login queue (spec.md §4.E). Payload is opaque to the queue
// itself — it is interpreted by the processor callback passed to Run.
type LoginOperation struct {
	Counter   uint64          `json:"counter"`
	Operation string          `json:"operation"`
	Payload   json.RawMessage `json:"payload"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

// EnqueueResult is returned immediately to a caller that submits an
// operation to the queue.
type EnqueueResult struct {
	InQueue bool   `json:"in_queue"`
	Counter uint64 `json:"c"`
}

// PollResult is returned to a caller polling for its operation's outcome.
type PollResult struct {
	Processed bool            `json:"processed"`
	Result    json.RawMessage `json:"result,omitempty"`
	Remaining int64           `json:"remaining"`
}

// LoginQueue serializes login operations cluster-wide so the upstream
// login endpoint — aggressively rate limited per source IP — never sees
// concurrent attempts from more than one shard.
type LoginQueue struct {
	bus      *bus.Bus
	rdb      *redis.Client
	prefix   string
	interval time.Duration
}

// NewLoginQueue returns a LoginQueue backed by the bus's shared primitives.
func NewLoginQueue(b *bus.Bus, rdb *redis.Client, prefix string, interval time.Duration) *LoginQueue {
	return &LoginQueue{bus: b, rdb: rdb, prefix: prefix, interval: interval}
}

// Enqueue appends op (with a freshly assigned monotonic counter) to the
// queue and returns immediately.
func (lq *LoginQueue) Enqueue(ctx context.Context, operation string, payload json.RawMessage) (EnqueueResult, error) {
	counter, err := lq.bus.NextCounter(ctx)
	if err != nil {
		return EnqueueResult{}, err
	}

	op := LoginOperation{Counter: counter, Operation: operation, Payload: payload, EnqueuedAt: time.Now()}
	data, err := json.Marshal(op)
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("loginqueue: encode op: %w", err)
	}

	if err := lq.bus.Queue("auth:queue").Push(ctx, string(data)); err != nil {
		return EnqueueResult{}, err
	}
	return EnqueueResult{InQueue: true, Counter: counter}, nil
}

// Poll reports the processing state of the operation identified by
// counter: whether it has been processed, its result if so, and the
// current queue depth.
func (lq *LoginQueue) Poll(ctx context.Context, counter uint64) (PollResult, error) {
	key := fmt.Sprintf("%sauth:result:%d", lq.prefix, counter)
	val, err := lq.rdb.Get(ctx, key).Result()
	remaining, _ := lq.bus.Queue("auth:queue").Len(ctx)

	if err == redis.Nil {
		return PollResult{Processed: false, Remaining: remaining}, nil
	}
	if err != nil {
		return PollResult{}, err
	}
	return PollResult{Processed: true, Result: json.RawMessage(val), Remaining: remaining}, nil
}

// Processor executes exactly one LoginOperation and returns its result.
type Processor func(ctx context.Context, op LoginOperation) (json.RawMessage, error)

// Run holds the cluster-wide processing lock (if acquired) and drains the
// queue at lq.interval, storing each result under auth:result:{counter}
// with a short TTL. Only one shard at any instant holds the lock (invariant
// I5/testable property 5), enforced by bus.Lock's Redis set-if-absent.
// Run blocks until ctx is cancelled.
func (lq *LoginQueue) Run(ctx context.Context, process Processor) {
	ticker := time.NewTicker(lq.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			lq.drainOnce(ctx, process)
		}
	}
}

func (lq *LoginQueue) drainOnce(ctx context.Context, process Processor) {
	unlock, err := lq.bus.Lock(ctx, "auth:processing_lock", lq.interval*3)
	if err != nil {
		// Another shard holds the lock; nothing to do this tick.
		return
	}
	defer unlock()

	queue := lq.bus.Queue("auth:queue")
	for {
		raw, ok, err := queue.Pop(ctx)
		if err != nil || !ok {
			return
		}

		var op LoginOperation
		if err := json.Unmarshal([]byte(raw), &op); err != nil {
			continue
		}

		result, procErr := process(ctx, op)
		if procErr != nil {
			result, _ = json.Marshal(map[string]string{"error": procErr.Error()})
		}

		key := fmt.Sprintf("%sauth:result:%d", lq.prefix, op.Counter)
		lq.rdb.Set(ctx, key, string(result), 5*time.Minute)
	}
}

// SweepStaleProcessing clears any "processing" marks older than 5 minutes,
// guarding against a shard that died mid-operation leaving a permanent
// stuck marker (spec.md §4.E).
func (lq *LoginQueue) SweepStaleProcessing(ctx context.Context) error {
	key := lq.prefix + "auth:processing"
	entries, err := lq.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return err
	}
	for field, startedAtStr := range entries {
		startedAt, err := time.Parse(time.RFC3339, startedAtStr)
		if err != nil || time.Since(startedAt) > 5*time.Minute {
			lq.rdb.HDel(ctx, key, field)
		}
	}
	return nil
}
