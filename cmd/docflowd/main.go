// docflowd runs the document ingestion pipeline: source scanning, queue
// workers, scheduled tasks and the metrics endpoint.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/docflowhq/docflow/constants"
	"github.com/docflowhq/docflow/internal/common"
	"github.com/docflowhq/docflow/internal/dedup"
	"github.com/docflowhq/docflow/internal/doctemplate"
	"github.com/docflowhq/docflow/internal/extract"
	"github.com/docflowhq/docflow/internal/ingest"
	"github.com/docflowhq/docflow/internal/logging"
	"github.com/docflowhq/docflow/internal/match"
	"github.com/docflowhq/docflow/internal/metrics"
	"github.com/docflowhq/docflow/internal/notify"
	"github.com/docflowhq/docflow/internal/pipeline"
	"github.com/docflowhq/docflow/internal/queue"
	"github.com/docflowhq/docflow/internal/repository"
	"github.com/docflowhq/docflow/internal/router"
	"github.com/docflowhq/docflow/internal/source"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "docflowd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := logging.Setup(logging.Config{Format: cfg.Log.Format, Level: cfg.Log.Level})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Persistence. An empty DSN selects the in-memory repositories, which is
	// enough for a single-node trial run.
	stores, closeStores, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStores()

	// Durable queue store.
	qstore, err := queue.OpenSQLite(cfg.QueueDB.Path)
	if err != nil {
		return err
	}
	defer qstore.Close()

	// Source backend.
	src, err := source.New(ctx, source.Config{
		Kind:     cfg.Source.Kind,
		Addr:     cfg.Source.Addr,
		User:     cfg.Source.User,
		Password: cfg.Source.Password,
	})
	if err != nil {
		return err
	}
	defer src.Close()

	// Templates.
	templates := doctemplate.NewMemoryStore()
	if cfg.Pipeline.TemplatesFile != "" {
		templates, err = doctemplate.LoadFile(cfg.Pipeline.TemplatesFile)
		if err != nil {
			return fmt.Errorf("load templates: %w", err)
		}
	}

	// Remote sources scan their configured root; local sources scan the
	// unprocessed directory directly.
	unprocessedDir := cfg.Scanner.UnprocessedDir
	if cfg.Source.Kind != "local" && cfg.Source.Root != "" {
		unprocessedDir = cfg.Source.Root
	}

	manager := queue.NewManager(qstore, qstore, logger)
	fileRouter := router.New(src, router.Paths{
		Processed: cfg.Scanner.ProcessedDir,
		Failed:    cfg.Scanner.FailedDir,
	}, logger)
	dedupIndex := dedup.NewIndex(stores.Documents, cfg.Retention.Days, logger)
	batches := pipeline.NewBatchManager(manager, cfg.Scanner.StagingDir, logger)

	processor := &pipeline.Processor{
		Stores:    stores,
		Source:    src,
		Resolver:  doctemplate.NewResolver(templates, logger),
		Extractor: extract.NewExtractor(logger),
		Dedup:     dedupIndex,
		Matcher:   match.NewMatcher(stores.Companies, stores.BusinessDocs, logger),
		Router:    fileRouter,
		Cache:     extract.NewLayoutCache(),
		Queue:     manager,
		Batches:   batches,
		Logger:    logger,
		Config: pipeline.Config{
			UnprocessedDir: unprocessedDir,
			StagingDir:     cfg.Scanner.StagingDir,
			NotifyEmail:    cfg.Notify.Email,
		},
	}

	scanner := &ingest.Scanner{
		Source:   src,
		Queue:    manager,
		Docs:     stores.Documents,
		Dedup:    dedupIndex,
		Router:   fileRouter,
		ScanRuns: stores.ScanRuns,
		Logger:   logger,
		Config: ingest.ScannerConfig{
			UnprocessedDir: unprocessedDir,
			MinFileAge:     cfg.Scanner.MinFileAge,
			SourceTag:      cfg.Source.Kind,
		},
	}

	limiter := notify.NewLimiter(cfg.Notify.RateCapacity, cfg.Notify.RateRefill, cfg.Notify.RateRefillEvery)
	defer limiter.Close()
	sender := &notify.Sender{
		Provider: &notify.SMTPProvider{
			Host: cfg.Notify.SMTPHost,
			Port: cfg.Notify.SMTPPort,
			User: cfg.Notify.SMTPUser,
			Pass: cfg.Notify.SMTPPassword,
			From: cfg.Notify.From,
		},
		Limiter: limiter,
		Logs:    stores.Deliveries,
		Logger:  logger,
	}

	tasks := &pipeline.Tasks{
		Scanner:    scanner,
		Purger:     manager,
		StagingDir: cfg.Scanner.StagingDir,
		Logger:     logger,
	}

	if err := registerQueues(manager, processor, sender, tasks, cfg); err != nil {
		return err
	}

	manager.Start(ctx)
	go metrics.ObserveEvents(manager.Events(), logger)
	go metrics.StartServer(ctx, cfg.Metrics.Addr, logger)

	monitor := queue.NewMonitor(manager, qstore, metrics.QueueObserver{}, logger, queue.MonitorConfig{
		Interval:          30 * time.Second,
		Instance:          hostname(),
		HeartbeatInterval: cfg.Metrics.HeartbeatInterval,
	})
	go monitor.Run(ctx)

	if cfg.Scanner.Enabled {
		go runScanSchedule(ctx, manager, cfg.Scanner.PollMinutes, logger)
		if cfg.Scanner.WatchLocal && cfg.Source.Kind == "local" {
			watcher := &ingest.Watcher{
				Dir:    cfg.Scanner.UnprocessedDir,
				Logger: logger,
				Trigger: func(ctx context.Context) {
					enqueueTask(ctx, manager, constants.TaskLocalFolderScan, logger)
				},
			}
			go func() {
				if err := watcher.Run(ctx); err != nil {
					logger.Error("watcher stopped", "error", err)
				}
			}()
		}
	}

	logger.Info("docflowd started",
		"source", cfg.Source.Kind,
		"scanner_enabled", cfg.Scanner.Enabled,
		"poll_minutes", cfg.Scanner.PollMinutes)

	<-ctx.Done()
	logger.Info("shutting down")
	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return manager.Shutdown(drainCtx)
}

func openStores(ctx context.Context, cfg *common.Config, logger *slog.Logger) (repository.Stores, func(), error) {
	if cfg.Database.DSN == "" {
		logger.Warn("no database configured, using in-memory stores")
		mem := repository.NewMemoryStores()
		return mem.Bundle(), func() {}, nil
	}
	pool, err := repository.Open(ctx, repository.Config{
		DSN:              cfg.Database.DSN,
		MaxConns:         cfg.Database.MaxConns,
		MinConns:         cfg.Database.MinConns,
		MaxConnLifetime:  cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:  cfg.Database.MaxConnIdleTime,
		DialTimeout:      cfg.Database.DialTimeout,
		StatementTimeout: cfg.Database.StatementTimeout,
	}, logger)
	if err != nil {
		return repository.Stores{}, nil, err
	}
	return repository.NewPostgresStores(pool, logger).Bundle(), pool.Close, nil
}

func registerQueues(manager *queue.Manager, processor *pipeline.Processor, sender *notify.Sender, tasks *pipeline.Tasks, cfg *common.Config) error {
	queues := []struct {
		cfg     queue.QueueConfig
		handler queue.HandlerFunc
	}{
		{
			// Downloads are network bound; generous lock for slow transfers.
			cfg: queue.QueueConfig{
				Name:         constants.QueueFileImport,
				Concurrency:  3,
				LockDuration: 2 * time.Minute,
				MaxStalled:   2,
				MaxAttempts:  3,
			},
			handler: processor.HandleFileImport,
		},
		{
			// Extraction can chew on large PDFs; longest lock of the set.
			cfg: queue.QueueConfig{
				Name:         constants.QueueInvoiceImport,
				Concurrency:  4,
				LockDuration: cfg.Pipeline.ProcessTimeout,
				MaxStalled:   2,
				MaxAttempts:  3,
			},
			handler: processor.HandleInvoiceImport,
		},
		{
			cfg: queue.QueueConfig{
				Name:         constants.QueueBulkParsingTest,
				Concurrency:  2,
				LockDuration: cfg.Pipeline.ProcessTimeout,
				MaxAttempts:  1,
			},
			handler: processor.HandleBulkParsingTest,
		},
		{
			cfg: queue.QueueConfig{
				Name:         constants.QueueEmail,
				Concurrency:  2,
				LockDuration: time.Minute,
				MaxAttempts:  5,
				BackoffBase:  5 * time.Second,
			},
			handler: func(ctx context.Context, job *queue.Job) error {
				return handleEmail(ctx, job, sender)
			},
		},
		{
			cfg: queue.QueueConfig{
				Name:         constants.QueueScheduledTasks,
				Concurrency:  1,
				LockDuration: 10 * time.Minute,
				MaxAttempts:  1,
			},
			handler: tasks.Handle,
		},
	}
	for _, q := range queues {
		if err := manager.Register(q.cfg, q.handler); err != nil {
			return err
		}
	}
	return nil
}

func handleEmail(ctx context.Context, job *queue.Job, sender *notify.Sender) error {
	payload, err := queue.DecodePayload[queue.EmailPayload](job.Payload)
	if err != nil {
		return common.Unrecoverable(err)
	}
	id, err := uuid.Parse(payload.DeliveryLogID)
	if err != nil {
		return common.Unrecoverable(err)
	}
	return sender.Send(ctx, &notify.Message{
		DeliveryLogID: id,
		Recipients:    payload.Recipients,
		Subject:       payload.Subject,
		Body:          payload.Body,
		Attachments:   payload.Attachments,
		Settings:      payload.ProviderSettings,
	})
}

// runScanSchedule enqueues a folder-scan task at the configured cadence.
// Scans run as queue jobs so they share locking and visibility with all
// other work.
func runScanSchedule(ctx context.Context, manager *queue.Manager, pollMinutes int, logger *slog.Logger) {
	enqueueTask(ctx, manager, constants.TaskLocalFolderScan, logger)
	cleanupEvery := time.NewTicker(24 * time.Hour)
	defer cleanupEvery.Stop()
	scanEvery := time.NewTicker(time.Duration(pollMinutes) * time.Minute)
	defer scanEvery.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-scanEvery.C:
			enqueueTask(ctx, manager, constants.TaskLocalFolderScan, logger)
		case <-cleanupEvery.C:
			enqueueTask(ctx, manager, constants.TaskFileCleanup, logger)
		}
	}
}

func enqueueTask(ctx context.Context, manager *queue.Manager, task string, logger *slog.Logger) {
	// Skip when the previous run of the same task is still pending.
	if pending, err := manager.HasPending(ctx, constants.QueueScheduledTasks, task); err != nil || pending {
		if err != nil {
			logger.Error("task pending check failed", "task", task, "error", err)
		}
		return
	}
	payload := queue.ScheduledTaskPayload{TaskName: task}
	if _, err := manager.EnqueueJSON(ctx, constants.QueueScheduledTasks, task, payload,
		queue.WithFileKey(task)); err != nil {
		logger.Error("task enqueue failed", "task", task, "error", err)
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "docflowd"
	}
	return h
}
