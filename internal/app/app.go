// Package app wires configuration into a ready pipeline runner.
package app

import (
	"context"
	"fmt"
	"time"

	"example.com/attribution/internal/config"
	"example.com/attribution/internal/gateway"
	"example.com/attribution/internal/journey"
	"example.com/attribution/internal/notify"
	"example.com/attribution/internal/pipeline"
	"example.com/attribution/internal/report"
	"example.com/attribution/internal/storage/memory"
	spg "example.com/attribution/internal/storage/postgres"

	log "github.com/sirupsen/logrus"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Store is everything the runner and the API read and write.
type Store interface {
	pipeline.ConversionStore
	journey.SessionSource
	pipeline.ResultStore
	pipeline.ReportStore
	Ready(ctx context.Context) error
}

type App struct {
	Store   Store
	Runner  *pipeline.Runner
	closers []func()
}

// Close releases the broker connection and the database pool.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// OpenStore connects to postgres and applies the migration, or loads a
// memory store from seed.
func OpenStore(ctx context.Context, cfg config.Config, kind, seed string) (Store, func(), error) {
	switch kind {
	case StoreMemory:
		if seed == "" {
			return memory.New(memory.Seed{}), func() {}, nil
		}
		s, err := memory.Load(seed)
		if err != nil {
			return nil, nil, err
		}
		log.WithField("seed", seed).Info("Loaded in-memory store.")
		return s, func() {}, nil
	case StorePostgres, "":
		db, err := spg.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("db connect: %w", err)
		}
		if err := db.RunMigration(ctx, cfg.MigrationPath); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migration: %w", err)
		}
		log.WithField("path", cfg.MigrationPath).Info("Migration applied.")
		return db, db.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q", kind)
	}
}

// NewScorer builds the attribution client from cfg.
func NewScorer(cfg config.Config) (*gateway.Client, error) {
	var redistribution *gateway.RedistributionParameter
	if cfg.RedistributeDirect {
		redistribution = gateway.DefaultRedistribution(cfg.DirectChannels)
	}
	return gateway.New(gateway.Options{
		BaseURL:         cfg.IHCBaseURL,
		APIKey:          cfg.IHCAPIKey,
		ConvTypeID:      cfg.IHCConvTypeID,
		MaxRetries:      cfg.MaxRetries,
		RetryDelay:      cfg.RetryDelay,
		Redistribution:  redistribution,
		ResponseDumpDir: cfg.ResponseDumpDir,
	})
}

// NewPublisher connects to the broker, or returns notify.Nop without a URL.
func NewPublisher(ctx context.Context, cfg config.Config) (notify.Publisher, error) {
	if cfg.AMQPURL == "" {
		return notify.Nop{}, nil
	}
	conn, err := notify.DialWithRetry(ctx, notify.ConnectionOptions{URL: cfg.AMQPURL, RetryAttempts: 5, Delay: time.Second})
	if err != nil {
		return nil, err
	}
	p, err := notify.New(conn, cfg.AMQPExchange)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return p, nil
}

// RunnerOptions maps cfg onto pipeline options.
func RunnerOptions(cfg config.Config) pipeline.Options {
	return pipeline.Options{
		Journey: journey.Options{
			LookupBatchSize:          cfg.LookupBatchSize,
			IncludeConversionInstant: cfg.IncludeConversionInstant,
		},
		MaxJourneysPerChunk: cfg.MaxJourneysPerChunk,
		MaxSessionsPerChunk: cfg.MaxSessionsPerChunk,
		RateLimitDelay:      cfg.RateLimitDelay,
		WriteBatchSize:      cfg.WriteBatchSize,
	}
}

// New builds every collaborator of a run.
func New(ctx context.Context, cfg config.Config, storeKind, seed string) (*App, error) {
	a := &App{}
	store, closeStore, err := OpenStore(ctx, cfg, storeKind, seed)
	if err != nil {
		return nil, err
	}
	a.Store = store
	a.closers = append(a.closers, closeStore)

	scorer, err := NewScorer(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	pub, err := NewPublisher(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("notify: %w", err)
	}
	a.closers = append(a.closers, func() { _ = pub.Close() })

	a.Runner = pipeline.NewRunner(pipeline.Deps{
		Conversions: store,
		Sessions:    store,
		Results:     store,
		Reports:     store,
		Scorer:      scorer,
		Exporter:    report.ExporterFor(cfg.ReportOutputPath),
		Notifier:    pub,
	}, RunnerOptions(cfg))
	return a, nil
}
