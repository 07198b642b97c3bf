// Command skinwatch is the shard process entry point: it parses the
// config file location, wires every internal component together, and
// runs until an OS signal or operator stop command requests shutdown.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime/pprof"
	"strconv"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/rivengate/skinwatch/internal/alertengine"
	"github.com/rivengate/skinwatch/internal/auth"
	"github.com/rivengate/skinwatch/internal/bus"
	"github.com/rivengate/skinwatch/internal/catalog"
	"github.com/rivengate/skinwatch/internal/clock"
	"github.com/rivengate/skinwatch/internal/config"
	"github.com/rivengate/skinwatch/internal/emoji"
	"github.com/rivengate/skinwatch/internal/operator"
	"github.com/rivengate/skinwatch/internal/providers"
	"github.com/rivengate/skinwatch/internal/ratelimit"
	"github.com/rivengate/skinwatch/internal/scheduler"
	"github.com/rivengate/skinwatch/internal/shard"
	"github.com/rivengate/skinwatch/internal/shop"
	"github.com/rivengate/skinwatch/internal/store"
	"github.com/rivengate/skinwatch/internal/store/sqlite3"
	"github.com/rivengate/skinwatch/internal/upstream"
)

var zlog = zerolog.New(zerolog.ConsoleWriter{
	Out:        os.Stdout,
	TimeFormat: time.Stamp,
}).With().Timestamp().Logger()

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	shardID := flag.Int("shard", 0, "this process's shard id")
	natsURL := flag.String("nats", "nats://127.0.0.1:4222", "NATS Streaming server URL")
	cpuprofile := flag.String("cpuprofile", "", "write cpu profile to `file`")
	flag.Parse()

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			zlog.Fatal().Err(err).Msg("could not create cpu profile")
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			zlog.Fatal().Err(err).Msg("could not start cpu profile")
		}
		defer pprof.StopCPUProfile()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()

	cfgMgr, err := config.NewManager(*configPath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("could not load configuration")
	}
	cfg := cfgMgr.Current()

	totalShards, err := strconv.Atoi(cfg.Shards)
	if err != nil {
		totalShards = 1
	}

	clk := clock.Real{}

	st, err := sqlite3.New(ctx, cfg.DatabasePath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("could not open user store")
	}
	defer st.Close()
	var userStore store.Store = st

	redisOpts := &redis.Options{
		Addr:     cfg.Store.Host + ":" + strconv.Itoa(cfg.Store.Port),
		Password: cfg.Store.Password,
		DB:       cfg.Store.DB,
	}
	rdb := redis.NewClient(redisOpts)

	b, err := bus.Connect(bus.Config{
		ShardID:       *shardID,
		NatsURL:       *natsURL,
		ClusterID:     "skinwatch",
		ClientID:      "skinwatch-shard-" + strconv.Itoa(*shardID),
		ChannelPrefix: "skinwatch",
		Redis:         redisOpts,
		Log:           zlog,
	})
	if err != nil {
		zlog.Fatal().Err(err).Msg("could not connect to coordination bus")
	}
	defer b.Close()

	gate := ratelimit.New(rdb, "skinwatch:ratelimit", time.Duration(cfg.RateLimitBackoffSeconds)*time.Second, time.Duration(cfg.RateLimitCapSeconds)*time.Second)

	httpClient, err := upstream.New(upstream.Options{
		BaseURL:        "",
		Gate:           gate,
		PlatformHeader: "skinwatch",
	})
	if err != nil {
		zlog.Fatal().Err(err).Msg("could not build upstream client")
	}

	upstreamProvider := providers.NewUpstreamProvider(httpClient, cfg.OAuthClientID, cfg.OAuthClientSecret)
	chatProvider := providers.NewChatProvider(zlog, nil)

	authCore := auth.New(userStore, upstreamProvider, b, clk, auth.Options{
		RefreshBuffer:      time.Duration(cfg.TokenRefreshBufferMinutes) * time.Minute,
		AuthFailureStrikes: cfg.AuthFailureStrikes,
		UseLoginQueue:      cfg.UseLoginQueue,
		LoginQueueInterval: time.Duration(cfg.LoginQueueInterval) * time.Millisecond,
	})
	_ = auth.NewLoginQueue(b, rdb, "skinwatch:loginqueue", time.Duration(cfg.LoginQueueInterval)*time.Millisecond)

	cat, err := catalog.New(cfg.CatalogPath, b)
	if err != nil {
		zlog.Fatal().Err(err).Msg("could not load asset catalog")
	}

	shopSvc := shop.New(upstreamProvider, cat)

	engine := alertengine.New(userStore, shopSvc, authCore.AuthUser, chatProvider, b, clk, zlog, alertengine.Options{
		ShardID:            *shardID,
		TotalShards:        totalShards,
		DelayBetweenAlerts: time.Duration(cfg.DelayBetweenAlerts) * time.Millisecond,
		Concurrency:        cfg.AlertConcurrency,
		AuthFailureStrikes: cfg.AuthFailureStrikes,
	})

	emojiRegistry := emoji.New("emoji.json", chatProvider, b)

	sched := scheduler.New(b, zlog, time.UTC)
	sched.Add(scheduler.Task{Name: "refresh_skins", Schedule: cfg.RefreshSkins, Fn: func(ctx context.Context) error { return engine.RunOnce(ctx) }})
	sched.Add(scheduler.Task{Name: "refresh_prices", Schedule: cfg.RefreshPrices, LeaderOnly: true, Fn: func(ctx context.Context) error {
		_, prices, err := upstreamProvider.FetchBundles(ctx)
		if err != nil {
			return err
		}
		cat.MergePrices(prices)
		return nil
	}})
	sched.Add(scheduler.Task{Name: "check_game_version", Schedule: cfg.CheckGameVersion, LeaderOnly: true, Fn: func(ctx context.Context) error {
		return nil
	}})
	sched.Add(scheduler.Task{Name: "update_user_agent", Schedule: cfg.UpdateUserAgent, Fn: func(ctx context.Context) error {
		httpClient.SetClientVersion(cat.GameVersion())
		return nil
	}})

	if err := sched.Start(ctx); err != nil {
		zlog.Fatal().Err(err).Msg("could not start scheduler")
	}

	sh := shard.New(*shardID, totalShards, b, zlog)
	if err := sh.MarkReady(ctx); err != nil {
		zlog.Error().Err(err).Msg("could not announce shard readiness")
	}

	// opHandler is the owner-gated command surface; the presentation
	// adapter that registers chat commands and calls opHandler.Handle is
	// out of this module's scope (spec.md §1 Non-goals).
	opHandler := &operator.Handler{
		ConfigMgr:  cfgMgr,
		Bus:        b,
		Shard:      sh,
		Engine:     engine,
		Catalog:    cat,
		Emoji:      emojiRegistry,
		ConfigPath: *configPath,
		Shutdown:   stop,
	}

	if _, err := opHandler.Handle(ctx, operator.Command{Name: operator.CmdDebugAlerts}); err != nil {
		zlog.Warn().Err(err).Msg("operator self-check failed")
	}

	zlog.Info().Int("shard", *shardID).Int("total_shards", totalShards).Msg("shard ready, awaiting shutdown signal")

	<-ctx.Done()

	zlog.Info().Msg("shutting down")
	sched.Stop()
	cat.Flush()
	emojiRegistry.Flush()
}
