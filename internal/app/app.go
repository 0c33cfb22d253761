// Package app wires configuration into a repository, cache, sales engine
// and service. cmd/server and cmd/salesctl share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"koperasi/backend/internal/cache"
	"koperasi/backend/internal/config"
	"koperasi/backend/internal/sales"
	"koperasi/backend/internal/seed"
	"koperasi/backend/internal/service"
	"koperasi/backend/internal/store"
	"koperasi/backend/internal/store/memory"
	"koperasi/backend/internal/store/sqlstore"
)

type Runtime struct {
	Repo        store.Repository
	Engine      *sales.Engine
	Service     *service.Service
	Submissions cache.SubmissionCache

	closers []func() error
}

// Open picks postgres when DATABASE_URL is set, otherwise sqlite when
// SQLITE_PATH is set, and the seeded in-memory store when neither is. A configured database that
// cannot be reached is an error, never a silent fallback.
func Open(ctx context.Context, cfg config.Config) (*Runtime, error) {
	rt := &Runtime{}

	switch {
	case cfg.DatabaseURL != "":
		db, err := sqlstore.New(ctx, sqlstore.DriverPostgres, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set: %w", err)
		}
		rt.Repo = db
		rt.closers = append(rt.closers, db.Close)
		if err := db.Migrate(ctx); err != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("migrate postgres schema: %w", err)
		}
		log.Println("repository: postgres")
	case cfg.SQLitePath != "":
		db, err := sqlstore.New(ctx, sqlstore.DriverSQLite, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.SQLitePath, err)
		}
		rt.Repo = db
		rt.closers = append(rt.closers, db.Close)
		if err := db.Migrate(ctx); err != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("migrate sqlite schema: %w", err)
		}
		log.Printf("repository: sqlite (%s)", cfg.SQLitePath)
	default:
		rt.Repo = memory.NewSeeded()
		log.Println("repository: in-memory")
	}

	if cfg.SeedFile != "" {
		catalog, err := seed.LoadFile(cfg.SeedFile)
		if err != nil {
			_ = rt.Close()
			return nil, err
		}
		sum, err := catalog.Apply(ctx, rt.Repo)
		if err != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("apply seed catalog: %w", err)
		}
		log.Printf("seed: items=%d users=%d legacy_sales=%d ledger_posts=%d", sum.Items, sum.Users, sum.LegacySales, sum.LedgerPosts)
	}

	rt.Submissions = cache.NewMemorySubmissionCache()
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisSubmissionCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), using in-memory submission cache", err)
			_ = redisCache.Close()
		} else {
			rt.Submissions = redisCache
			rt.closers = append(rt.closers, redisCache.Close)
			log.Println("cache: redis")
		}
	} else {
		log.Println("cache: in-memory")
	}

	rt.Engine = sales.NewEngine(rt.Repo,
		sales.WithStepTimeout(cfg.StepTimeout()),
		sales.WithActor(service.ActorName),
	)
	if rt.Engine.Transactional() {
		log.Println("sales engine: store transactions")
	} else {
		log.Println("sales engine: step compensation")
	}
	rt.Service = service.New(rt.Repo, rt.Engine, rt.Submissions, cfg.IdempotencyTTL())
	return rt, nil
}

// Close releases connections in reverse order of opening.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
