package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/nats-io/nats.go"
	stan "github.com/nats-io/stan.go"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/rivengate/skinwatch/internal/apperr"
)

// Handler is invoked for every message received on the broadcast subject,
// including ones this shard itself sent, and for every message delivered to
// this shard's targeted subject.
type Handler func(Message)

// Bus is the coordination fabric for one shard. It owns a NATS Streaming
// connection for pub/sub transport and a Redis client for atomic cluster
// primitives (locks, counters, queues, rate limits, targeted-key
// ownership), following the same connection pair sessions.go/manager.go
// wire up upstream.
type Bus struct {
	shardID int
	prefix  string

	nc *nats.Conn
	sc stan.Conn
	rdb *redis.Client

	log zerolog.Logger

	broadcastSubject string
	targetedSubject  string

	mu       sync.Mutex
	handlers []Handler
	ownedKeys map[string]bool

	readyMu sync.Mutex
	ready   chan struct{}
}

// Config configures a Bus connection.
type Config struct {
	ShardID     int
	NatsURL     string
	ClusterID   string
	ClientID    string
	ChannelPrefix string
	Redis       *redis.Options
	Log         zerolog.Logger
}

// Connect dials NATS Streaming and Redis and returns a ready-to-use Bus.
// Grounded on sessions.go's nats.Connect/stan.Connect pairing.
func Connect(cfg Config) (*Bus, error) {
	nc, err := nats.Connect(cfg.NatsURL)
	if err != nil {
		return nil, fmt.Errorf("bus: nats connect: %w", err)
	}

	sc, err := stan.Connect(cfg.ClusterID, cfg.ClientID, stan.NatsConn(nc))
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("bus: stan connect: %w", err)
	}

	rdb := redis.NewClient(cfg.Redis)

	b := &Bus{
		shardID:          cfg.ShardID,
		prefix:           cfg.ChannelPrefix,
		nc:               nc,
		sc:               sc,
		rdb:              rdb,
		log:              cfg.Log.With().Int("shard_id", cfg.ShardID).Logger(),
		broadcastSubject: cfg.ChannelPrefix + ".broadcast",
		targetedSubject:  fmt.Sprintf("%s.targeted.%d", cfg.ChannelPrefix, cfg.ShardID),
		ownedKeys:        make(map[string]bool),
		ready:            make(chan struct{}),
	}

	if _, err := sc.Subscribe(b.broadcastSubject, b.onBroadcast, stan.DeliverAllAvailable()); err != nil {
		b.Close()
		return nil, fmt.Errorf("bus: subscribe broadcast: %w", err)
	}
	if _, err := sc.Subscribe(b.targetedSubject, b.onTargeted); err != nil {
		b.Close()
		return nil, fmt.Errorf("bus: subscribe targeted: %w", err)
	}

	return b, nil
}

// Close disconnects from NATS Streaming, NATS, and Redis.
func (b *Bus) Close() error {
	if b.sc != nil {
		b.sc.Close()
	}
	if b.nc != nil {
		b.nc.Close()
	}
	if b.rdb != nil {
		return b.rdb.Close()
	}
	return nil
}

// OnMessage registers a handler invoked for every broadcast and targeted
// message this shard receives.
func (b *Bus) OnMessage(h Handler) {
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()
}

// MarkKeyOwned records in this shard's local ownership set that its cache
// holds key (e.g. a channel id). SendToKey does not read this set; only
// AnnounceKeyOwnership publishes the key to the shared directory that
// SendToKey consults.
func (b *Bus) MarkKeyOwned(key string) {
	b.mu.Lock()
	b.ownedKeys[key] = true
	b.mu.Unlock()
}

// UnmarkKeyOwned removes key from this shard's ownership set.
func (b *Bus) UnmarkKeyOwned(key string) {
	b.mu.Lock()
	delete(b.ownedKeys, key)
	b.mu.Unlock()
}

func (b *Bus) onBroadcast(m *stan.Msg) {
	var msg Message
	if err := msgpack.Unmarshal(m.Data, &msg); err != nil {
		b.log.Error().Err(err).Msg("bus: failed to decode broadcast message")
		return
	}
	if msg.Type == TypeAllShardsReady {
		b.openReadiness()
	}
	if msg.Type == TypeShardRespawned && msg.ShardRespawned != nil && msg.ShardRespawned.ShardID == b.shardID {
		b.rearmReadiness()
	}
	b.dispatch(msg)
}

func (b *Bus) onTargeted(m *stan.Msg) {
	var msg Message
	if err := msgpack.Unmarshal(m.Data, &msg); err != nil {
		b.log.Error().Err(err).Msg("bus: failed to decode targeted message")
		return
	}
	b.dispatch(msg)
}

func (b *Bus) dispatch(msg Message) {
	b.mu.Lock()
	handlers := append([]Handler(nil), b.handlers...)
	b.mu.Unlock()
	for _, h := range handlers {
		h(msg)
	}
}

// Broadcast publishes msg to every shard, including the sender. Delivery
// is best-effort FIFO per sender (NATS Streaming preserves publish order
// per connection); it blocks on the readiness barrier first.
func (b *Bus) Broadcast(ctx context.Context, msg Message) error {
	if err := b.waitReady(ctx); err != nil {
		return err
	}
	msg.SenderID = b.shardID
	data, err := msgpack.Marshal(&msg)
	if err != nil {
		return fmt.Errorf("bus: encode broadcast: %w", err)
	}
	return b.sc.Publish(b.broadcastSubject, data)
}

// SendToKey delivers msg only to the shard whose local cache owns key. It
// returns accepted=true if any shard's ownership set contained key at the
// time of send. Ownership is tracked in Redis so any shard can answer the
// "who owns this key" question without a broadcast round-trip.
func (b *Bus) SendToKey(ctx context.Context, msg Message, key string) (accepted bool, err error) {
	if err := b.waitReady(ctx); err != nil {
		return false, err
	}

	ownerShard, err := b.rdb.Get(ctx, b.keyOwnerKey(key)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, &apperr.SharedStoreUnavailable{Cause: err}
	}

	msg.SenderID = b.shardID
	data, encErr := msgpack.Marshal(&msg)
	if encErr != nil {
		return false, fmt.Errorf("bus: encode targeted: %w", encErr)
	}

	subject := fmt.Sprintf("%s.targeted.%s", b.prefix, ownerShard)
	if err := b.sc.Publish(subject, data); err != nil {
		return false, fmt.Errorf("bus: publish targeted: %w", err)
	}
	return true, nil
}

// AnnounceKeyOwnership publishes this shard as the current owner of key in
// the shared key-ownership directory, with ttl as a safety expiry so a
// dead shard's stale ownership eventually clears.
func (b *Bus) AnnounceKeyOwnership(ctx context.Context, key string, ttl time.Duration) error {
	b.MarkKeyOwned(key)
	if err := b.rdb.Set(ctx, b.keyOwnerKey(key), fmt.Sprintf("%d", b.shardID), ttl).Err(); err != nil {
		return &apperr.SharedStoreUnavailable{Cause: err}
	}
	return nil
}

func (b *Bus) keyOwnerKey(key string) string {
	return fmt.Sprintf("%sbus:owner:%s", b.prefix, key)
}

// Ready returns a channel closed once the readiness barrier is open.
func (b *Bus) Ready() <-chan struct{} {
	b.readyMu.Lock()
	defer b.readyMu.Unlock()
	return b.ready
}

func (b *Bus) openReadiness() {
	b.readyMu.Lock()
	defer b.readyMu.Unlock()
	select {
	case <-b.ready:
	default:
		close(b.ready)
	}
}

func (b *Bus) rearmReadiness() {
	b.readyMu.Lock()
	defer b.readyMu.Unlock()
	select {
	case <-b.ready:
		b.ready = make(chan struct{})
	default:
	}
}

func (b *Bus) waitReady(ctx context.Context) error {
	select {
	case <-b.Ready():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Lock attempts to acquire a cluster-wide named lock with the given TTL,
// using Redis SET NX PX (set-if-absent) so a dead holder's lock expires
// rather than deadlocking the cluster. It returns an unlock function that
// releases the lock (only if still held by this process) and an error if
// the lock is already held elsewhere.
func (b *Bus) Lock(ctx context.Context, name string, ttl time.Duration) (unlock func(), err error) {
	token := fmt.Sprintf("%d-%d", b.shardID, time.Now().UnixNano())
	key := fmt.Sprintf("%slock:%s", b.prefix, name)

	ok, err := b.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, &apperr.SharedStoreUnavailable{Cause: err}
	}
	if !ok {
		return nil, fmt.Errorf("bus: lock %q already held", name)
	}

	return func() {
		script := redis.NewScript(`
			if redis.call("get", KEYS[1]) == ARGV[1] then
				return redis.call("del", KEYS[1])
			end
			return 0
		`)
		script.Run(context.Background(), b.rdb, []string{key}, token)
	}, nil
}

// NextCounter returns a monotonically increasing cluster-wide counter
// value, backing the auth queue's ordering key.
func (b *Bus) NextCounter(ctx context.Context) (uint64, error) {
	key := fmt.Sprintf("%sauth:counter", b.prefix)
	v, err := b.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, &apperr.SharedStoreUnavailable{Cause: err}
	}
	return uint64(v), nil
}

// Queue returns a handle to the named shared FIFO queue.
func (b *Bus) Queue(name string) *Queue {
	return &Queue{rdb: b.rdb, key: fmt.Sprintf("%squeue:%s", b.prefix, name)}
}

// Queue is a Redis-list-backed shared FIFO.
type Queue struct {
	rdb *redis.Client
	key string
}

// Push appends value to the tail of the queue.
func (q *Queue) Push(ctx context.Context, value string) error {
	if err := q.rdb.RPush(ctx, q.key, value).Err(); err != nil {
		return &apperr.SharedStoreUnavailable{Cause: err}
	}
	return nil
}

// Pop removes and returns the head of the queue, or ("", false, nil) if
// empty.
func (q *Queue) Pop(ctx context.Context) (value string, ok bool, err error) {
	v, err := q.rdb.LPop(ctx, q.key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, &apperr.SharedStoreUnavailable{Cause: err}
	}
	return v, true, nil
}

// Len returns the current queue length.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.rdb.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, &apperr.SharedStoreUnavailable{Cause: err}
	}
	return n, nil
}
