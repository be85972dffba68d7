package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"PerpFunding/internal/config"
	"PerpFunding/internal/core"
	"PerpFunding/internal/event"
	"PerpFunding/internal/ingestion"
	"PerpFunding/internal/ledger"
	"PerpFunding/internal/observability"
	"PerpFunding/internal/persistence"
	"PerpFunding/internal/projection"
	"PerpFunding/internal/query"
	"PerpFunding/internal/server"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

func serveCmd() *cobra.Command {
	var marketsPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the funding engine",
		Long: `Runs migrations, recovers core state from the latest verified snapshot
and the command log, then consumes funding commands from NATS until
SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if marketsPath != "" {
				cfg.MarketsFile = marketsPath
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&marketsPath, "markets", "", "markets file (overrides PERP_MARKETS_FILE)")
	return cmd
}

func runServe(parent context.Context, cfg config.Config) error {
	logger := observability.NewLogger("perpfunding")
	logger.Info().Str("version", version).Msg("perpfunding starting")

	if os.Getenv("GOGC") == "" {
		logger.Warn().Msg("GOGC not set, recommend GOGC=400 for production")
	}

	markets, err := config.LoadMarkets(cfg.MarketsFile)
	if err != nil {
		return err
	}

	// Cancelled by a signal or a failed component; stops intake and servers
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Workers outlive ctx so they can drain
	pipeCtx, pipeCancel := context.WithCancel(context.Background())
	defer pipeCancel()

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	healthChecker := observability.NewHealthChecker()

	// --- Postgres ---
	db, err := openDB(ctx, cfg.PostgresURL)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info().Msg("postgres connected")

	migrator := persistence.NewMigrator(db, os.DirFS(cfg.MigrationsDir), logger)
	if err := migrator.Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	healthChecker.AddCheck("postgres", db.PingContext)

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, logger)
	if err != nil {
		return err
	}
	defer nc.Close()
	if err := ingestion.EnsureStreams(ctx, js, logger); err != nil {
		return err
	}
	healthChecker.AddCheck("nats", func(context.Context) error {
		if nc.Status() != nats.CONNECTED {
			return fmt.Errorf("nats status %s", nc.Status())
		}
		return nil
	})

	// --- Redis (optional) ---
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		rdb = redis.NewClient(opt)
		defer rdb.Close()
		healthChecker.AddCheck("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
		logger.Info().Str("addr", opt.Addr).Msg("redis rate cache enabled")
	}

	// --- Channels ---
	// persist blocks the core (backpressure), projection drops when full
	rawChan := make(chan ingestion.RawEvent, cfg.InboundChanSize)
	commandChan := make(chan event.Event, cfg.InboundChanSize)
	persistChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	projectionChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)
	publishChan := make(chan event.RecordEnvelope, cfg.PublishChanSize)

	// --- Core ---
	dbChecker := persistence.NewPostgresIdempotencyChecker(db)
	engine := core.NewDeterministicCore(core.Config{
		GuardRails:    *markets.GuardRails,
		DedupCapacity: cfg.IdempotencyLRUCapacity,
	}, persistChan, projectionChan, dbChecker, metrics, observability.NewLogger("core"))
	for _, m := range markets.Markets {
		if err := engine.RegisterMarket(m); err != nil {
			return err
		}
	}

	// --- Read side ---
	history := projection.NewFundingHistory(cfg.ProjectionRetention)
	history.Seed(markets.Markets, -1)

	pgRecords := query.NewPostgresRecordStore(db)
	var records projection.RecordStore = pgRecords
	var invalidator projection.Invalidator
	if rdb != nil {
		cached := projection.NewCachedRecordStore(pgRecords, rdb, cfg.RateCacheTTL, metrics)
		records = cached
		invalidator = cached
	}
	// funding ledger, rebuilt from the journal table
	book := ledger.NewBook()
	ledgerSource := func(ctx context.Context) (map[ledger.AccountKey]int64, int64, error) {
		return persistence.LoadJournalBalances(ctx, db)
	}
	balances, upTo, err := ledgerSource(ctx)
	if err != nil {
		return fmt.Errorf("load funding ledger: %w", err)
	}
	book.Seed(balances, upTo)

	queryService := query.NewQueryService(history, records, pgRecords).WithLedger(book)

	srv := server.New(cfg.GRPCAddr, cfg.HTTPAddr, &server.Deps{
		QueryService:  queryService,
		HealthChecker: healthChecker,
		Gatherer:      registry,
		Metrics:       metrics,
		Logger:        observability.NewLogger("server"),
	})

	errChan := make(chan error, 8)
	report := func(name string, err error) {
		if err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("%s: %w", name, err)
		}
	}

	go func() { report("grpc server", srv.StartGRPC(ctx)) }()
	go func() { report("http server", srv.StartHTTP(ctx)) }()

	// --- Workers ---
	var workers sync.WaitGroup

	persistWorker := persistence.NewPersistenceWorker(db, persistChan, publishChan,
		cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics,
		observability.NewLogger("persistence"))
	projWorker := projection.NewProjectionWorker(history, projectionChan, invalidator, metrics,
		observability.NewLogger("projection")).WithLedger(book, ledgerSource)
	publisher := ingestion.NewRecordPublisher(js, publishChan, metrics,
		observability.NewLogger("publisher"))

	workers.Add(3)
	go func() {
		defer workers.Done()
		// publishChan has no other writer
		defer close(publishChan)
		report("persistence worker", persistWorker.Run(pipeCtx))
	}()
	go func() {
		defer workers.Done()
		report("projection worker", projWorker.Run(pipeCtx))
	}()
	go func() {
		defer workers.Done()
		report("record publisher", publisher.Run(pipeCtx))
	}()

	// --- Recovery ---
	snapMgr := persistence.NewSnapshotManager(db)
	res, err := persistence.Recover(ctx, engine, snapMgr, dbChecker, observability.NewLogger("recovery"))
	if err != nil {
		close(persistChan)
		close(projectionChan)
		workers.Wait()
		return fmt.Errorf("recovery: %w", err)
	}
	recovered := engine.CreateSnapshotState()
	history.Seed(recovered.Markets, recovered.Sequence)
	logger.Info().
		Int64("snapshot_sequence", res.SnapshotSequence).
		Int("replayed", res.Replayed).
		Int64("next_sequence", res.NextSequence).
		Msg("recovery complete")

	// --- Intake ---
	runner := core.NewRunner(engine, commandChan, snapMgr, cfg.SnapshotInterval, metrics,
		observability.NewLogger("runner"))
	pump := ingestion.NewPump(rawChan, commandChan, metrics,
		observability.NewLogger("pump"))

	runnerDone := make(chan struct{})
	go func() {
		defer close(runnerDone)
		runner.Run(pipeCtx)
		// the core was the only writer
		close(persistChan)
		close(projectionChan)
	}()
	go pump.Run(ctx)

	subscriber := ingestion.NewNATSSubscriber(js, rawChan, observability.NewLogger("subscriber"))
	if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		cancel()
		<-runnerDone
		workers.Wait()
		return err
	}

	srv.SetServing(true)
	logger.Info().
		Int64("sequence", engine.GetSequence()).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Msg("perpfunding ready")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown requested")
	case runErr = <-errChan:
		logger.Error().Err(runErr).Msg("component failed, shutting down")
	}

	// Stop intake; the pump closes commandChan, the runner takes a final
	// snapshot and closes the output channels, the workers drain.
	srv.SetServing(false)
	cancel()
	subscriber.Stop()

	drained := make(chan struct{})
	go func() {
		<-runnerDone
		workers.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		logger.Info().Msg("pipeline drained")
	case <-time.After(shutdownTimeout):
		logger.Warn().Dur("timeout", shutdownTimeout).Msg("drain timed out, abandoning in-flight work")
		pipeCancel()
		<-drained
	}

	logger.Info().Int64("sequence", engine.GetSequence()).Msg("perpfunding shutdown complete")
	return runErr
}

func openDB(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return db, nil
}
