// schemactxd serves query-scoped schema context over HTTP.
//
// It bootstraps the table catalog at startup, warms the schema cache from
// durable storage when one is configured, and exposes context assembly,
// catalog inspection, and cache management endpoints.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/datalumen/schemactx/internal/builder"
	"github.com/datalumen/schemactx/internal/cache"
	"github.com/datalumen/schemactx/internal/catalog"
	"github.com/datalumen/schemactx/internal/config"
	"github.com/datalumen/schemactx/internal/filestore"
	fsminio "github.com/datalumen/schemactx/internal/filestore/minio"
	"github.com/datalumen/schemactx/internal/intent"
	"github.com/datalumen/schemactx/internal/llm"
	"github.com/datalumen/schemactx/internal/logger"
	"github.com/datalumen/schemactx/internal/metadata"
	"github.com/datalumen/schemactx/internal/metadata/mysql"
	"github.com/datalumen/schemactx/internal/metadata/postgres"
	"github.com/datalumen/schemactx/internal/relgraph"
	"github.com/datalumen/schemactx/internal/schema"
	"github.com/datalumen/schemactx/internal/server"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	// .env is optional; real deployments inject env vars directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.With().Err(err).Logger().Fatal("schemactxd exited")
	}
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	fetcher, err := newFetcher(ctx, cfg)
	if err != nil {
		return err
	}
	defer fetcher.Close()

	cat := catalog.New(fetcher, cfg.TierMapping(), log)
	if err := cat.Bootstrap(ctx); err != nil {
		// No catalog means no request can be validated. Refuse to start.
		return err
	}
	log.With().Int("tables", cat.Size()).Logger().Info("catalog bootstrapped")

	var durable cache.Store
	if cfg.Store.Endpoint != "" {
		fs, err := fsminio.New(ctx, &filestore.Config{
			Endpoint:  cfg.Store.Endpoint,
			AccessKey: cfg.Store.AccessKey,
			SecretKey: cfg.Store.SecretKey,
			UseSSL:    cfg.Store.UseSSL,
		})
		if err != nil {
			return err
		}
		defer fs.Close()

		durable, err = cache.NewObjectStore(ctx, fs, cfg.Store.Bucket, cfg.Store.Prefix)
		if err != nil {
			return err
		}
	}

	schemaCache := cache.New(fetcher, cat, durable, cache.Options{
		Capacity:     cfg.Cache.Capacity,
		TTL:          cfg.Cache.TTL.Std(),
		FetchTimeout: cfg.Cache.FetchTimeout.Std(),
		FetchRetries: cfg.Cache.FetchRetries,
		RetryBackoff: cfg.Cache.RetryBackoff.Std(),
	}, log)
	defer schemaCache.Close()

	if durable != nil {
		if err := schemaCache.Warm(ctx); err != nil {
			log.With().Err(err).Logger().Warn("cache warm-up failed; starting cold")
		} else {
			log.With().Int("entries", schemaCache.Len()).Logger().Info("cache warmed from durable store")
		}
	}

	// CORE tables are always resident, not loaded on first request.
	schemaCache.WarmCore(ctx, cat.NamesByTier(schema.TierCore))

	var planner intent.Planner
	if cfg.LLM.BaseURL != "" {
		client, err := llm.New(&llm.Config{
			BaseURL:     cfg.LLM.BaseURL,
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
			Timeout:     cfg.LLM.Timeout.Std(),
		})
		if err != nil {
			return err
		}
		planner = client
	} else {
		log.Warn("no planner configured; intent resolution always falls back to core tables")
	}

	resolver := intent.New(planner, cat, schemaCache, intent.Options{
		Timeout:        cfg.Intent.Timeout.Std(),
		FallbackRecent: cfg.Intent.FallbackRecent,
	}, log)

	discoverer := relgraph.New(schemaCache, fetcher, cat, log)

	ctxBuilder := builder.New(resolver, schemaCache, discoverer, builder.Options{
		FetchConcurrency: cfg.Builder.FetchConcurrency,
		Deadline:         cfg.Builder.Deadline.Std(),
		MaxDepth:         cfg.Discovery.MaxDepth,
		MaxTables:        cfg.Discovery.MaxTables,
	}, log)

	srv := server.New(ctxBuilder, cat, schemaCache, log)
	return srv.Run(ctx, cfg.Server.Listen)
}

func newFetcher(ctx context.Context, cfg *config.Config) (metadata.Fetcher, error) {
	mcfg := metadata.DefaultConfig(cfg.Database.DSN)
	mcfg.Driver = metadata.Driver(cfg.Database.Driver)
	mcfg.Schema = cfg.Database.Schema
	if cfg.Database.MaxConns > 0 {
		mcfg.MaxConns = cfg.Database.MaxConns
	}
	if cfg.Database.MinConns > 0 {
		mcfg.MinConns = cfg.Database.MinConns
	}
	if cfg.Database.ConnectTimeout > 0 {
		mcfg.ConnectTimeout = cfg.Database.ConnectTimeout.Std()
	}

	switch mcfg.Driver {
	case metadata.DriverMySQL:
		return mysql.New(ctx, mcfg)
	default:
		return postgres.New(ctx, mcfg)
	}
}
