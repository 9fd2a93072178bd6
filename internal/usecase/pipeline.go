package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/crablduck/crm-spyder/internal/classify"
	"github.com/crablduck/crm-spyder/internal/crawler"
	"github.com/crablduck/crm-spyder/internal/dedupe"
	"github.com/crablduck/crm-spyder/internal/domain"
	"github.com/crablduck/crm-spyder/internal/ports"
)

// DetailFetcher narrows the parser's fetcher for testability.
type DetailFetcher interface {
	Fetch(ctx context.Context, item domain.SearchResultItem) domain.DetailRecord
}

// BatchSink is the run's durable output; failures here are fatal.
type BatchSink interface {
	Append(rec domain.ClassifiedRecord) error
}

// KeyJournal records persisted keys for the next run's seeding.
type KeyJournal interface {
	Append(key domain.RecordKey) error
}

// PipelineDeps wires all driven adapters into the crawl pipeline.
type PipelineDeps struct {
	Sessions     ports.SessionFactory
	Solver       ports.CaptchaSolver
	Fetcher      DetailFetcher
	Classifier   *classify.Classifier
	Dedup        *dedupe.Deduplicator
	Batch        BatchSink
	Journal      KeyJournal
	Archive      ports.RecordStore
	Enricher     ports.Enricher
	Logger       *slog.Logger
	Crawl        crawler.Config
	Workers      int
	FetchDetails bool
	LookbackDays int
	RunID        string
}

// Pipeline implements the announcement-crawl workflow: search, extract,
// fetch details, parse contracts, classify, dedupe, persist.
type Pipeline struct {
	deps PipelineDeps
	now  func() time.Time
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	if deps.Workers <= 0 {
		deps.Workers = 1
	}
	return &Pipeline{deps: deps, now: time.Now}
}

// Run crawls every hospital with a bounded worker pool, each worker
// owning its own portal session. The returned error is non-nil only for
// run-fatal conditions (persistence failure, cancellation); individual
// hospital failures land in the summary instead.
func (p *Pipeline) Run(ctx context.Context, hospitals []domain.Hospital) (domain.RunSummary, error) {
	summary := domain.RunSummary{RunID: p.deps.RunID, StartedAt: p.now()}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan domain.Hospital)
	results := make(chan domain.HospitalSummary, len(hospitals))

	var fatalOnce sync.Once
	var fatalErr error
	fatal := func(err error) {
		fatalOnce.Do(func() {
			fatalErr = err
			cancel()
		})
	}

	var wg sync.WaitGroup
	for w := 0; w < p.deps.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for hospital := range jobs {
				results <- p.crawlHospital(runCtx, hospital, fatal)
			}
		}()
	}

	for _, h := range hospitals {
		select {
		case jobs <- h:
		case <-runCtx.Done():
		}
		if runCtx.Err() != nil {
			break
		}
	}
	close(jobs)
	wg.Wait()
	close(results)

	for hs := range results {
		summary.Hospitals = append(summary.Hospitals, hs)
	}
	summary.FinishedAt = p.now()

	if fatalErr != nil {
		return summary, fatalErr
	}
	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

// crawlHospital runs one hospital's search end to end. fatal is invoked
// only for persistence failures, which abort the whole run.
func (p *Pipeline) crawlHospital(ctx context.Context, hospital domain.Hospital, fatal func(error)) domain.HospitalSummary {
	hs := domain.HospitalSummary{Hospital: hospital}
	logger := p.log().With("hospital", hospital.Name)

	session, err := p.deps.Sessions.NewSession(ctx)
	if err != nil {
		hs.Err = fmt.Errorf("open session: %w", err)
		return hs
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			logger.Warn("session close failed", "error", cerr)
		}
	}()

	orch := crawler.New(session, p.deps.Solver, p.deps.Crawl, logger)
	result, err := orch.Run(ctx, hospital.Name)
	hs.PagesVisited = result.PagesVisited
	hs.PagesSkipped = result.PagesSkipped
	if err != nil {
		hs.Err = err
		return hs
	}

	items := p.withinLookback(result.Items)
	hs.Found = len(items)

	archived := p.archivedKeys(ctx, items, logger)

	for _, item := range items {
		if ctx.Err() != nil {
			hs.Err = ctx.Err()
			return hs
		}

		item.SourceHospital = hospital.ID
		key := domain.NewRecordKey(item.Title, item.PublishTime)
		if archived[key] || !p.deps.Dedup.Admit(key) {
			hs.Duplicates++
			continue
		}

		rec, err := p.buildRecord(ctx, hospital, item)
		if err != nil {
			logger.Warn("item failed", "title", item.Title, "error", err)
			hs.Failed++
			continue
		}

		if err := p.persist(ctx, rec, key); err != nil {
			hs.Err = err
			fatal(err)
			return hs
		}
		hs.New++
	}

	logger.Info("hospital done",
		"found", hs.Found, "new", hs.New, "duplicates", hs.Duplicates,
		"failed", hs.Failed, "pages", hs.PagesVisited, "pages_skipped", hs.PagesSkipped)
	return hs
}

func (p *Pipeline) buildRecord(ctx context.Context, hospital domain.Hospital, item domain.SearchResultItem) (domain.ClassifiedRecord, error) {
	var detail domain.DetailRecord
	if p.deps.FetchDetails && p.deps.Fetcher != nil && item.DetailURL != "" {
		detail = p.deps.Fetcher.Fetch(ctx, item)
	} else {
		detail = domain.DetailRecord{
			Item:              item,
			Title:             item.Title,
			PublishTime:       item.PublishTime,
			DetailUnavailable: !p.deps.FetchDetails,
			CrawledAt:         p.now(),
		}
	}

	rec := domain.ClassifiedRecord{
		Detail:     detail,
		HospitalID: hospital.ID,
		Categories: p.deps.Classifier.Classify(detail),
	}

	// Enrichment is advisory: failure or absence never blocks the
	// deterministic pipeline.
	if p.deps.Enricher != nil && detail.Body != "" {
		if guess, err := p.deps.Enricher.Enrich(ctx, detail.Body); err == nil {
			rec.Enrichment = guess
		} else {
			p.log().Debug("enrichment unavailable", "title", item.Title, "error", err)
		}
	}

	return rec, nil
}

func (p *Pipeline) persist(ctx context.Context, rec domain.ClassifiedRecord, key domain.RecordKey) error {
	if err := p.deps.Batch.Append(rec); err != nil {
		return fmt.Errorf("persist record: %w", err)
	}
	if p.deps.Journal != nil {
		if err := p.deps.Journal.Append(key); err != nil {
			return fmt.Errorf("journal key: %w", err)
		}
	}
	if p.deps.Archive != nil {
		if err := p.deps.Archive.SaveRecord(ctx, rec); err != nil {
			// The archive is a secondary store; the batch and journal
			// already hold the record.
			p.log().Warn("archive write failed", "key", key.String(), "error", err)
		}
	}
	return nil
}

// archivedKeys consults the optional Postgres archive for keys already
// stored by previous runs.
func (p *Pipeline) archivedKeys(ctx context.Context, items []domain.SearchResultItem, logger *slog.Logger) map[domain.RecordKey]bool {
	if p.deps.Archive == nil || len(items) == 0 {
		return nil
	}
	keys := make([]domain.RecordKey, len(items))
	for i, item := range items {
		keys[i] = domain.NewRecordKey(item.Title, item.PublishTime)
	}
	seen, err := p.deps.Archive.SeenKeys(ctx, keys)
	if err != nil {
		logger.Warn("archive lookup failed", "error", err)
		return nil
	}
	return seen
}

// withinLookback drops items older than the configured window. Items
// whose publish time cannot be parsed are kept.
func (p *Pipeline) withinLookback(items []domain.SearchResultItem) []domain.SearchResultItem {
	if p.deps.LookbackDays <= 0 {
		return items
	}
	cutoff := p.now().AddDate(0, 0, -p.deps.LookbackDays)

	out := items[:0]
	for _, item := range items {
		ts, ok := parsePublishTime(item.PublishTime)
		if ok && ts.Before(cutoff) {
			continue
		}
		out = append(out, item)
	}
	return out
}

func parsePublishTime(value string) (time.Time, bool) {
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

func (p *Pipeline) log() *slog.Logger {
	if p.deps.Logger != nil {
		return p.deps.Logger
	}
	return slog.Default()
}
