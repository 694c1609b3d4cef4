package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/tap-acuite/internal/catalog"
	"github.com/JakeFAU/tap-acuite/internal/clock/system"
	"github.com/JakeFAU/tap-acuite/internal/config"
	"github.com/JakeFAU/tap-acuite/internal/engine"
	"github.com/JakeFAU/tap-acuite/internal/fetcher"
	"github.com/JakeFAU/tap-acuite/internal/id/uuid"
	"github.com/JakeFAU/tap-acuite/internal/logging"
	"github.com/JakeFAU/tap-acuite/internal/metrics"
	"github.com/JakeFAU/tap-acuite/internal/orchestrator"
	"github.com/JakeFAU/tap-acuite/internal/policy/ratelimit"
	"github.com/JakeFAU/tap-acuite/internal/progress"
	"github.com/JakeFAU/tap-acuite/internal/progress/sinks"
	pubsubsink "github.com/JakeFAU/tap-acuite/internal/sink/pubsub"
	"github.com/JakeFAU/tap-acuite/internal/sink/singer"
	"github.com/JakeFAU/tap-acuite/internal/state"
	"github.com/JakeFAU/tap-acuite/internal/storage/gcs"
	"github.com/JakeFAU/tap-acuite/internal/storage/local"
	"github.com/JakeFAU/tap-acuite/internal/storage/postgres"
	"github.com/JakeFAU/tap-acuite/internal/tap"
)

const shutdownTimeout = 15 * time.Second

type syncFlags struct {
	statePath   string
	catalogPath string
}

func newSyncCmd(cfgFile *string) *cobra.Command {
	var flags syncFlags
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Extract the selected streams and write Singer messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return runSync(cmd.Context(), cfg, flags, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&flags.statePath, "state", "", "state file from a previous run (overrides the state backend)")
	cmd.Flags().StringVar(&flags.catalogPath, "catalog", "", "catalog file selecting the streams to sync")
	cmd.Flags().StringVar(&flags.catalogPath, "properties", "", "alias for --catalog")
	return cmd
}

// runSync wires one run from cfg and executes it.
func runSync(ctx context.Context, cfg config.Config, flags syncFlags, stdout io.Writer) error {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	runID, err := uuid.New().NewRunID()
	if err != nil {
		return err
	}
	logger = logger.With(zap.String("run_id", runID.String()))

	registry := metrics.NewRegistry()
	promSink, err := sinks.NewPrometheusSink(registry)
	if err != nil {
		return err
	}
	hub := progress.NewHub(progress.Config{Logger: logger}, sinks.NewLogSink(logger), promSink)
	emitter := progress.WithRun(hub, runID)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if cerr := hub.Close(closeCtx); cerr != nil {
			logger.Warn("progress hub close failed", zap.Error(cerr))
		}
		if dropped := hub.Dropped(); dropped > 0 {
			logger.Warn("progress events dropped", zap.Int64("dropped", dropped))
		}
		if perr := metrics.Push(closeCtx, metrics.PushConfig{URL: cfg.Metrics.PushURL, Job: cfg.Metrics.Job}, registry); perr != nil {
			logger.Warn("metrics push failed", zap.Error(perr))
		}
	}()

	out, closeOut, err := openSink(ctx, cfg, stdout, logger)
	if err != nil {
		return err
	}
	defer closeOut()

	store, closeStore, err := openStateStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	initial, err := loadState(ctx, flags.statePath, store)
	if err != nil {
		return err
	}
	cat, err := loadCatalog(flags.catalogPath)
	if err != nil {
		return err
	}

	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
		Burst:             cfg.HTTP.MaxConcurrency,
	})
	client, err := fetcher.New(fetcher.Config{
		BaseURL:        cfg.API.BaseURL,
		APIKey:         cfg.APIKey,
		AuthHeader:     cfg.API.AuthHeader,
		MaxConcurrency: int64(cfg.HTTP.MaxConcurrency),
		Timeout:        cfg.Timeout(),
		MaxAttempts:    cfg.HTTP.MaxAttempts,
		BackoffInitial: cfg.BackoffInitial(),
		BackoffMax:     cfg.BackoffMax(),
	},
		fetcher.WithLogger(logger),
		fetcher.WithEmitter(emitter),
		fetcher.WithLimiter(limiter),
	)
	if err != nil {
		return err
	}

	clock := system.New()
	eng, err := engine.New(engine.Deps{
		Fetcher: client,
		Sink:    out,
		Clock:   clock,
		Emitter: emitter,
		Logger:  logger,
	}, engine.Config{
		PageSize:           cfg.Sync.PageSize,
		SlowPageSize:       cfg.Sync.SlowPageSize,
		TrimLimit:          cfg.Sync.TrimLimit,
		HSEventTrimLimit:   cfg.Sync.HSEventTrimLimit,
		DetailConcurrency:  cfg.Sync.DetailConcurrency,
		LocationCountryIDs: cfg.Sync.LocationCountryIDs,
	})
	if err != nil {
		return err
	}
	orch, err := orchestrator.New(orchestrator.Deps{
		Engine:  eng,
		Sink:    out,
		Store:   store,
		Clock:   clock,
		Emitter: emitter,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	if _, err := orch.Run(ctx, cat, initial); err != nil {
		return err
	}
	return nil
}

// openSink returns the record sink named by output.kind and a func that
// flushes and releases it.
func openSink(ctx context.Context, cfg config.Config, stdout io.Writer, logger *zap.Logger) (tap.Sink, func(), error) {
	switch cfg.Output.Kind {
	case config.OutputPubSub:
		sink, err := pubsubsink.Open(ctx, cfg.Output.PubSub.ProjectID, cfg.Output.PubSub.Topic, nil, pubsubsink.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return sink, func() {
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := sink.Flush(flushCtx); err != nil {
				logger.Warn("pubsub flush failed", zap.Error(err))
			}
			if err := sink.Close(); err != nil {
				logger.Warn("pubsub close failed", zap.Error(err))
			}
		}, nil
	default:
		w := singer.NewWriter(stdout)
		return w, func() {
			if err := w.Flush(); err != nil {
				logger.Warn("stdout flush failed", zap.Error(err))
			}
		}, nil
	}
}

// openStateStore returns the configured state backend, or nil for "none".
func openStateStore(ctx context.Context, cfg config.Config) (tap.StateStore, func(), error) {
	noop := func() {}
	switch cfg.State.Backend {
	case config.StateFile:
		store, err := local.New(local.Config{Path: cfg.State.File.Path})
		if err != nil {
			return nil, nil, err
		}
		return store, noop, nil
	case config.StateGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("create storage client: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.State.GCS.Bucket, Object: cfg.State.GCS.Object})
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return store, func() { _ = client.Close() }, nil
	case config.StatePostgres:
		store, err := postgres.NewStateStore(ctx, postgres.Config{
			DSN:   cfg.State.Postgres.DSN,
			Table: cfg.State.Postgres.Table,
			TapID: cfg.State.Postgres.TapID,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := store.EnsureTable(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, noop, nil
	}
}

// loadState prefers an explicit --state file, then the backend, then empty.
func loadState(ctx context.Context, path string, store tap.StateStore) (state.State, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read state file: %w", err)
		}
		return state.Parse(data)
	}
	if store != nil {
		return store.Load(ctx)
	}
	return state.State{}, nil
}

// loadCatalog reads the catalog file, falling back to the discovered catalog.
func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Discover()
	}
	return catalog.Load(path)
}
