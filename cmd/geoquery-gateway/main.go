package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/mohammed-shakir/geoquery-cache/internal/cache"
	"github.com/mohammed-shakir/geoquery-cache/internal/cache/memstore"
	"github.com/mohammed-shakir/geoquery-cache/internal/cache/redisstore"
	"github.com/mohammed-shakir/geoquery-cache/internal/cache/sqlstore"
	"github.com/mohammed-shakir/geoquery-cache/internal/core/config"
	"github.com/mohammed-shakir/geoquery-cache/internal/core/executor"
	"github.com/mohammed-shakir/geoquery-cache/internal/core/health"
	"github.com/mohammed-shakir/geoquery-cache/internal/core/httpclient"
	"github.com/mohammed-shakir/geoquery-cache/internal/core/model"
	"github.com/mohammed-shakir/geoquery-cache/internal/core/router"
	"github.com/mohammed-shakir/geoquery-cache/internal/core/server"
	"github.com/mohammed-shakir/geoquery-cache/internal/database"
	"github.com/mohammed-shakir/geoquery-cache/internal/fetcher"
	"github.com/mohammed-shakir/geoquery-cache/internal/gateway"
	"github.com/mohammed-shakir/geoquery-cache/internal/geocode"
	"github.com/mohammed-shakir/geoquery-cache/internal/hotness/expdecay"
	"github.com/mohammed-shakir/geoquery-cache/internal/hotness/metricswrap"
	"github.com/mohammed-shakir/geoquery-cache/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/geoquery-cache/internal/logger"
	h3mapper "github.com/mohammed-shakir/geoquery-cache/internal/mapper/h3"
	"github.com/mohammed-shakir/geoquery-cache/internal/metrics"
	"github.com/mohammed-shakir/geoquery-cache/internal/observations"
	"github.com/mohammed-shakir/geoquery-cache/internal/retention"
)

// set with -ldflags
var (
	Version   = "dev"
	Revision  = ""
	Branch    = ""
	BuildDate = ""
)

func main() {
	os.Exit(run())
}

func run() int {
	storeFlag := flag.String("store", "", "cache store driver: memory, redis or sql")
	flag.Parse()

	cfg := config.FromEnv()
	if *storeFlag != "" {
		cfg.StoreDriver = strings.ToLower(strings.TrimSpace(*storeFlag))
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Store:     cfg.StoreDriver,
		Component: "gateway",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, appLog, &zl); err != nil {
		appLog.Error("gateway exited", "err", err)
		return 1
	}
	appLog.Info("gateway stopped")
	return 0
}

func serve(ctx context.Context, cfg config.Config, log *slog.Logger, zl *zerolog.Logger) error {
	prov := metrics.Init(metrics.Config{
		Build: metrics.BuildInfo{
			Version: Version, Revision: Revision, Branch: Branch, BuildDate: BuildDate,
		},
		StoreDriver: cfg.StoreDriver,
	})
	log.Info("starting geoquery gateway",
		"addr", cfg.Addr, "version", Version, "store", cfg.StoreDriver, "db", cfg.DBDriver)

	db, err := database.Open(database.Config{Driver: cfg.DBDriver, Path: cfg.DBPath, DSN: cfg.DBDSN})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = database.Close(db) }()

	store, closeStore, err := openStore(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer closeStore()
	if m, ok := store.(*memstore.Store); ok {
		prov.GaugeFunc("geoquery_memstore_entries", "Entries held by the in-process store.",
			func() float64 { return float64(m.Len()) })
	}

	exec := executor.New(log, httpclient.NewOutbound(cfg.Upstream.Timeout), cfg.Upstream.UserAgent)
	registry, err := fetcher.NewDefault(cfg.Upstream, exec, fetcher.WithLogger(log))
	if err != nil {
		return fmt.Errorf("fetchers: %w", err)
	}

	demand := metricswrap.New(expdecay.New(cfg.HotHalfLife), log, cfg.HotThreshold, cfg.HotLogSample)
	dispatcher := gateway.New(store, registry,
		gateway.WithLogger(log),
		gateway.WithPolicy(gateway.PolicyFromConfig(cfg)),
		gateway.WithDemand(demand),
		gateway.WithStoreTimeout(cfg.StoreOpTimeout))

	obsRepo, err := observations.New(db, cfg.ObsMaxLimit)
	if err != nil {
		return err
	}
	geo, err := geocode.New(exec, cfg.Upstream.GeocodeURL, cfg.Upstream.GeocodeRPS)
	if err != nil {
		return err
	}

	ready := health.Checks{Timeout: cfg.StoreOpTimeout}
	if p, ok := store.(cache.Pinger); ok {
		ready.Store = p
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Retention.Enabled {
		purger, _ := store.(cache.Purger)
		j := retention.New(purger,
			retention.WithSchedule(cfg.Retention.Schedule),
			retention.WithLogger(log.With("component", "retention")),
			retention.WithPruner(demand, cfg.HotPruneFloor))
		if err := j.Start(); err != nil {
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			<-j.Stop().Done()
			return nil
		})
	}

	if cfg.Invalidation.Enabled {
		deleter, ok := store.(cache.RegionDeleter)
		if !ok {
			return fmt.Errorf("store driver %q cannot apply invalidations", cfg.StoreDriver)
		}
		cons := kafkaconsumer.New(kafkaconsumer.FromConfig(cfg.Invalidation), log, zl, deleter)
		if err := cons.Start(gctx); err != nil {
			return fmt.Errorf("invalidation consumer: %w", err)
		}
		ready.Consumer = cons
		g.Go(func() error {
			<-gctx.Done()
			cons.Stop()
			return nil
		})
	}

	api := &router.API{
		Logger:       log,
		Resolver:     dispatcher,
		Observations: obsRepo,
		Geocoder:     geo,
		Demand:       demand,
		Cells:        h3mapper.New(),
	}
	h := server.Handler(log, server.Deps{API: api, Ready: ready, Metrics: prov.Handler()})
	g.Go(func() error { return server.Run(gctx, cfg.Addr, log, h) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// openStore returns the configured cache driver and a func releasing it.
func openStore(ctx context.Context, cfg config.Config, db *gorm.DB) (cache.Store, func(), error) {
	switch cfg.StoreDriver {
	case "memory":
		s, err := memstore.New(cfg.MemMaxEntries)
		if err != nil {
			return nil, nil, fmt.Errorf("memstore: %w", err)
		}
		return s, func() {}, nil
	case "redis":
		cli, err := redisstore.New(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("redis: %w", err)
		}
		tol := func(d model.DataType) float64 { return cfg.Tolerance(string(d)) }
		s, err := redisstore.NewStore(cli, redisstore.WithTolerance(tol))
		if err != nil {
			_ = cli.Close()
			return nil, nil, err
		}
		return s, func() { _ = cli.Close() }, nil
	case "sql", "":
		s, err := sqlstore.New(db)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlstore: %w", err)
		}
		return s, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
