package main

import (
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/maverick/internal/cache"
	"github.com/sawpanic/maverick/internal/config"
	httpapi "github.com/sawpanic/maverick/internal/interfaces/http"
	"github.com/sawpanic/maverick/internal/interfaces/http/handlers"
	"github.com/sawpanic/maverick/internal/provider"
	"github.com/sawpanic/maverick/internal/scheduler"
	"github.com/sawpanic/maverick/internal/screen"
	"github.com/sawpanic/maverick/internal/store"
)

// app wires the full dependency graph: config, Postgres, Redis, the tiered
// cache, the provider chain, the scheduler, and the ops server.
type app struct {
	cfg       *config.Config
	db        *store.DB
	redis     *redis.Client
	cache     *cache.TieredCache
	chain     *provider.Chain
	scheduler *scheduler.Scheduler
	service   *scheduler.Service
	server    *httpapi.Server
}

func newApp(cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	db, err := store.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	var redisClient *redis.Client
	if cfg.Cache.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
	} else {
		log.Warn().Msg("no redis address configured, distributed cache tier disabled")
	}

	tiered := cache.New(cache.Options{
		LocalMaxEntries: cfg.Cache.LocalMaxEntries,
		LocalMaxBytes:   cfg.Cache.LocalMaxBytes,
		Redis:           redisClient,
		RedisKeyPrefix:  cfg.Cache.KeyPrefix,
		Store:           db.CacheEntries(),
	})

	chain := provider.NewChain(cfg.Providers)

	// Intraday bars are alpaca-only; the top-up goes straight to the
	// client rather than through the chain.
	var intraday scheduler.IntradaySource
	for _, pc := range cfg.Providers.Order {
		if pc.Name == "alpaca" {
			intraday = provider.NewAlpacaClient(pc)
			break
		}
	}

	sched := scheduler.New(cfg.Scheduler, scheduler.Deps{
		Source:     chain,
		Intraday:   intraday,
		Bars:       db.Bars(),
		Results:    db.Results(),
		Runs:       db.Runs(),
		Markers:    db.Markers(),
		Universe:   db.Universe(),
		Cache:      tiered,
		Algorithms: screen.All(cfg.Screening),
		BarTTL:     cfg.Cache.TTL("bars"),
	})

	service, err := scheduler.NewService(cfg.Scheduler, sched)
	if err != nil {
		return nil, err
	}

	h := handlers.New(db.Results(), sched, tiered, cfg.Cache.TTL("screening"))
	h.SetBreakerSource(chain)
	h.SetBarSource(db.Bars())
	server := httpapi.NewServer(httpapi.DefaultServerConfig(cfg.HTTP.Addr), h)

	return &app{
		cfg:       cfg,
		db:        db,
		redis:     redisClient,
		cache:     tiered,
		chain:     chain,
		scheduler: sched,
		service:   service,
		server:    server,
	}, nil
}

func (a *app) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			log.Warn().Err(err).Msg("redis close failed")
		}
	}
	if err := a.db.Close(); err != nil {
		log.Warn().Err(err).Msg("database close failed")
	}
}
