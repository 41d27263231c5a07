package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/Mindburn-Labs/progression/pkg/archive"
	"github.com/Mindburn-Labs/progression/pkg/catalog"
	"github.com/Mindburn-Labs/progression/pkg/config"
	"github.com/Mindburn-Labs/progression/pkg/ledger"
	"github.com/Mindburn-Labs/progression/pkg/lock"
	"github.com/Mindburn-Labs/progression/pkg/observability"
	"github.com/Mindburn-Labs/progression/pkg/progression"
	"github.com/Mindburn-Labs/progression/pkg/stats"
	"github.com/Mindburn-Labs/progression/pkg/store"
)

// app holds the wired engine for one CLI invocation.
type app struct {
	cfg       *config.Config
	svc       progression.Service
	store     *store.SQL
	locker    lock.Locker
	telemetry *observability.Provider
	logger    *slog.Logger
}

func liteDBPath(cfg *config.Config) string {
	return filepath.Join(cfg.DataDir, "svt.db")
}

// openApp wires catalog, stats, ledger, lock and telemetry from cfg.
func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := slog.Default().With("component", "svt")

	cat, err := catalog.LoadFile(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}
	logger.DebugContext(ctx, "catalog loaded", "version", cat.Version(), "missions", cat.Len())

	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, store: st, logger: logger}

	provider, err := openStats(ctx, cfg, st)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	a.locker, err = openLocker(ctx, cfg)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	a.telemetry, err = observability.New(ctx, &observability.Config{
		ServiceName:    "svt-progression",
		ServiceVersion: cat.Version(),
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     1.0,
		BatchTimeout:   observability.DefaultConfig().BatchTimeout,
		ExportInterval: observability.DefaultConfig().ExportInterval,
		Enabled:        cfg.Telemetry,
		Insecure:       cfg.Environment == "development",
	})
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	engine := progression.New(cat, provider, ledger.New(st), st,
		progression.WithLocker(a.locker),
		progression.WithStatsTimeout(cfg.StatsTimeout),
	)
	a.svc = observability.Instrument(engine, a.telemetry)
	return a, nil
}

func openStats(ctx context.Context, cfg *config.Config, st *store.SQL) (stats.Provider, error) {
	var provider stats.Provider
	if cfg.StatsFile != "" {
		p, err := stats.LoadFile(cfg.StatsFile)
		if err != nil {
			return nil, err
		}
		provider = p
	} else {
		p := stats.NewSQLProvider(st.DB())
		if err := p.Init(ctx); err != nil {
			return nil, fmt.Errorf("init stats table: %w", err)
		}
		provider = p
	}
	if cfg.StatsRPS > 0 {
		provider = stats.RateLimited(provider, cfg.StatsRPS, cfg.StatsBurst)
	}
	return provider, nil
}

func openLocker(ctx context.Context, cfg *config.Config) (lock.Locker, error) {
	if cfg.RedisAddr == "" {
		return lock.NewLocal(), nil
	}
	r := lock.NewRedisAddr(cfg.RedisAddr)
	if err := r.Ping(ctx); err != nil {
		return nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
	}
	return r, nil
}

// exporter opens the archive store lazily so object-storage credentials are
// only needed by `svt export`.
func (a *app) exporter(ctx context.Context) (*archive.Exporter, error) {
	s, err := archive.Open(ctx, a.cfg.ArchiveURL, a.cfg.DataDir)
	if err != nil {
		return nil, err
	}
	return archive.NewExporter(s), nil
}

func (a *app) Close(ctx context.Context) {
	if a.telemetry != nil {
		_ = a.telemetry.Shutdown(ctx)
	}
	if c, ok := a.locker.(io.Closer); ok {
		_ = c.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.WarnContext(ctx, "close store", "error", err)
		}
	}
}
