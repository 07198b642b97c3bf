// Package alertengine implements the periodic partitioned scan that
// fetches each shard-owned account's shop, diffs it against the account's
// alerts, and dispatches notifications — with failure recovery that
// migrates alerts off a channel the cluster can no longer reach.
package alertengine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/rivengate/skinwatch/internal/apperr"
	"github.com/rivengate/skinwatch/internal/bus"
	"github.com/rivengate/skinwatch/internal/clock"
	"github.com/rivengate/skinwatch/internal/notify"
	"github.com/rivengate/skinwatch/internal/shop"
	"github.com/rivengate/skinwatch/internal/store"
)

const batchSize = 50

// Engine runs the periodic alert scan for one shard.
type Engine struct {
	store    store.Store
	shop     *shop.Service
	notifier notify.Port
	bus      *bus.Bus
	clock    clock.Clock
	log      zerolog.Logger

	authenticate shop.Authenticator

	shardID     int
	totalShards int

	delayBetweenAlerts time.Duration
	concurrency        int
	authFailureStrikes int
}

// Options configures an Engine.
type Options struct {
	ShardID            int
	TotalShards        int
	DelayBetweenAlerts time.Duration
	Concurrency        int // 1 = sequential, >1 = bounded parallel
	AuthFailureStrikes int
}

// New returns an Engine wired to its dependencies.
func New(st store.Store, shopSvc *shop.Service, authenticate shop.Authenticator, notifier notify.Port, b *bus.Bus, clk clock.Clock, log zerolog.Logger, opts Options) *Engine {
	return &Engine{
		store:              st,
		shop:               shopSvc,
		notifier:           notifier,
		bus:                b,
		clock:              clk,
		log:                log,
		authenticate:       authenticate,
		shardID:            opts.ShardID,
		totalShards:        opts.TotalShards,
		delayBetweenAlerts: opts.DelayBetweenAlerts,
		concurrency:        opts.Concurrency,
		authFailureStrikes: opts.AuthFailureStrikes,
	}
}

// RunOnce executes one full partitioned scan: it fetches the indexed
// candidate user set, filters to this shard's partition, and processes it
// sequentially or with bounded concurrency per e.concurrency.
func (e *Engine) RunOnce(ctx context.Context) error {
	allCandidates, err := e.store.UserIDsWithAlertsOrDailyShop(ctx)
	if err != nil {
		return err
	}

	owned := Partition(allCandidates, e.shardID, e.totalShards)
	e.log.Info().Int("candidates", len(allCandidates)).Int("owned", len(owned)).Msg("alert scan starting")

	if e.concurrency <= 1 {
		return e.runSequential(ctx, owned)
	}
	return e.runConcurrent(ctx, owned)
}

func (e *Engine) runSequential(ctx context.Context, userIDs []store.UserID) error {
	for start := 0; start < len(userIDs); start += batchSize {
		end := start + batchSize
		if end > len(userIDs) {
			end = len(userIDs)
		}
		if err := e.runBatch(ctx, userIDs[start:end]); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

func (e *Engine) runBatch(ctx context.Context, userIDs []store.UserID) error {
	batchCtx, err := e.store.BeginBatchWrites(ctx)
	if err != nil {
		return err
	}
	batchCtx = e.store.BeginUserCacheScope(batchCtx)

	shouldWait := false
	for _, id := range userIDs {
		var err error
		shouldWait, err = e.processUser(batchCtx, id, shouldWait)
		if err != nil {
			e.log.Error().Err(err).Str("user_id", string(id)).Msg("alert check failed for user")
		}
	}

	return e.store.CommitBatchWrites(batchCtx)
}

func (e *Engine) runConcurrent(ctx context.Context, userIDs []store.UserID) error {
	batchCtx, err := e.store.BeginBatchWrites(ctx)
	if err != nil {
		return err
	}

	tickets := make(chan struct{}, e.concurrency)
	done := make(chan error, len(userIDs))

	for _, id := range userIDs {
		id := id
		tickets <- struct{}{}
		go func() {
			defer func() { <-tickets }()
			scoped := e.store.BeginUserCacheScope(batchCtx)
			_, err := e.processUser(scoped, id, false)
			done <- err
		}()
	}

	for range userIDs {
		if err := <-done; err != nil {
			e.log.Error().Err(err).Msg("alert check failed for user")
		}
	}

	return e.store.CommitBatchWrites(batchCtx)
}
