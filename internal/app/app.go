package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	_ "github.com/lib/pq"

	"github.com/google/uuid"

	"github.com/crablduck/crm-spyder/internal/classify"
	"github.com/crablduck/crm-spyder/internal/config"
	"github.com/crablduck/crm-spyder/internal/crawler"
	"github.com/crablduck/crm-spyder/internal/dedupe"
	"github.com/crablduck/crm-spyder/internal/domain"
	"github.com/crablduck/crm-spyder/internal/infrastructure/llm"
	"github.com/crablduck/crm-spyder/internal/infrastructure/ocr"
	"github.com/crablduck/crm-spyder/internal/infrastructure/parser"
	"github.com/crablduck/crm-spyder/internal/infrastructure/portal"
	"github.com/crablduck/crm-spyder/internal/infrastructure/scheduler"
	"github.com/crablduck/crm-spyder/internal/infrastructure/storage"
	"github.com/crablduck/crm-spyder/internal/infrastructure/telegram"
	"github.com/crablduck/crm-spyder/internal/logging"
	"github.com/crablduck/crm-spyder/internal/ports"
	"github.com/crablduck/crm-spyder/internal/profile"
	"github.com/crablduck/crm-spyder/internal/usecase"
)

// ErrNoHospitalSucceeded signals that every hospital in the batch
// failed; the process should exit non-zero.
var ErrNoHospitalSucceeded = errors.New("no hospital succeeded")

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg    config.Config
	logger *slog.Logger
}

// New builds a runnable application instance.
func New(cfg config.Config, baseLogger *slog.Logger) *Application {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}
	return &Application{cfg: cfg, logger: baseLogger}
}

// RunCrawl executes one crawl run, or loops under cron when an
// expression is configured. All run-scoped resources (browser sessions,
// batch store, seen-key journal) are released on every exit path,
// including operator interrupt.
func (a *Application) RunCrawl(ctx context.Context) error {
	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("configuration: %w", err)
	}

	if a.cfg.Scheduler.CronExpression == "" {
		return a.crawlOnce(ctx)
	}

	driver := scheduler.NewCronScheduler(a.cfg.Scheduler.CronExpression, a.cfg.Scheduler.Location())
	sched := usecase.NewScheduler(driver, func(jobCtx context.Context) error {
		if err := a.crawlOnce(jobCtx); err != nil {
			a.logger.Error("scheduled crawl failed", "error", err)
			return err
		}
		return nil
	})

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return sched.Stop(stopCtx)
}

func (a *Application) crawlOnce(ctx context.Context) (err error) {
	repo := profile.NewCSVRepository(a.cfg.Roster.MasterPath)
	profiles, err := repo.Load(ctx)
	if err != nil {
		return fmt.Errorf("load roster: %w", err)
	}
	hospitals := profile.Roster(profiles)
	if len(hospitals) == 0 {
		return fmt.Errorf("roster is empty")
	}

	journal, err := storage.OpenSeenJournal(a.cfg.Storage.CheckpointDir)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := journal.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	seed, err := journal.Load()
	if err != nil {
		return err
	}

	var archive ports.RecordStore
	if dsn := a.cfg.Storage.DatabaseDSN; dsn != "" {
		db, dbErr := sql.Open("postgres", dsn)
		if dbErr != nil {
			return fmt.Errorf("open database: %w", dbErr)
		}
		defer db.Close()
		archive = storage.NewPostgresRepository(db)
	}

	runID := fmt.Sprintf("%s_%s", time.Now().Format("20060102_150405"), uuid.NewString()[:8])
	runLogger := logging.ForRun(a.logger, runID)
	batch, err := storage.NewBatchStore(a.cfg.Storage.OutputDir, runID, a.cfg.Storage.FlushEvery)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := batch.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close batch store: %w", cerr)
		}
	}()

	var enricher ports.Enricher
	if a.cfg.ChatGPT.APIKey != "" {
		enricher = llm.NewChatGPTEnricher(a.cfg.ChatGPT)
	}

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Sessions: &portal.Factory{
			SearchURL: a.cfg.Portal.SearchURL,
			Headless:  a.cfg.Portal.Headless,
			Logger:    runLogger.With("component", "portal"),
		},
		Solver: ocr.NewClient(a.cfg.OCR.Endpoint, a.cfg.OCR.APIKey),
		Fetcher: parser.NewDetailFetcher(
			&http.Client{Timeout: 20 * time.Second},
			a.cfg.Portal.BaseURL,
			a.cfg.Crawl.NetworkRetries,
			runLogger.With("component", "fetcher"),
		),
		Classifier: classify.New(a.cfg.Taxonomy),
		Dedup:      dedupe.New(seed),
		Batch:      batch,
		Journal:    journal,
		Archive:    archive,
		Enricher:   enricher,
		Logger:     runLogger.With("component", "pipeline"),
		Crawl: crawler.Config{
			BaseURL:         a.cfg.Portal.BaseURL,
			DetailURL:       a.cfg.Portal.DetailURL,
			MaxPages:        a.cfg.Crawl.MaxPages,
			CaptchaAttempts: a.cfg.Crawl.CaptchaAttempts,
			PageRetries:     a.cfg.Crawl.PageRetries,
			MinDelay:        a.cfg.Crawl.MinDelay(),
		},
		Workers:      a.cfg.Crawl.Workers,
		FetchDetails: a.cfg.Crawl.FetchDetails,
		LookbackDays: a.cfg.Crawl.LookbackDays,
		RunID:        runID,
	})

	summary, runErr := pipeline.Run(ctx, hospitals)

	fmt.Println(usecase.RenderSummary(summary))
	a.notify(summary)

	if runErr != nil {
		return runErr
	}
	if summary.Succeeded() == 0 {
		return fmt.Errorf("%w: %s", ErrNoHospitalSucceeded, summary.String())
	}
	a.logger.Info("crawl run complete", "run_id", runID, "output", batch.Dir())
	return nil
}

// RunIntegrate merges one persisted run batch into the customer master
// dataset, writing a new artifact.
func (a *Application) RunIntegrate(ctx context.Context, runDir string) error {
	records, err := storage.ReadBatch(runDir)
	if err != nil {
		return fmt.Errorf("read batch: %w", err)
	}
	if len(records) == 0 {
		a.logger.Info("batch is empty, nothing to integrate", "run_dir", runDir)
		return nil
	}

	repo := profile.NewCSVRepository(a.cfg.Roster.MasterPath)
	integrator := profile.NewIntegrator(repo, a.logger.With("component", "integrator"))

	path, stats, err := integrator.Integrate(ctx, records)
	if err != nil {
		return err
	}

	a.logger.Info("integration complete",
		"records", stats.Records, "facts_added", stats.FactsAdded,
		"facts_skipped", stats.FactsSkipped, "unmatched", stats.Unmatched,
		"artifact", path)
	return nil
}

func (a *Application) notify(summary domain.RunSummary) {
	if a.cfg.Telegram.BotToken == "" || a.cfg.Telegram.ChatID == "" {
		return
	}
	notifier := telegram.NewNotifier(a.cfg.Telegram.BotToken, a.cfg.Telegram.ChatID)
	notifyCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := notifier.PublishSummary(notifyCtx, summary); err != nil {
		a.logger.Warn("summary notification failed", "error", err)
	}
}
