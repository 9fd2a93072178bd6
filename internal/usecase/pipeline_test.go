package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/crablduck/crm-spyder/internal/classify"
	"github.com/crablduck/crm-spyder/internal/config"
	"github.com/crablduck/crm-spyder/internal/crawler"
	"github.com/crablduck/crm-spyder/internal/dedupe"
	"github.com/crablduck/crm-spyder/internal/domain"
	"github.com/crablduck/crm-spyder/internal/ports"
)

type scriptedSession struct {
	pages []string
	index int
}

func (s *scriptedSession) Open(ctx context.Context) error { s.index = 0; return nil }

func (s *scriptedSession) CaptchaImage(ctx context.Context) ([]byte, error) {
	return []byte("captcha"), nil
}

func (s *scriptedSession) SubmitSearch(ctx context.Context, unitName, captcha string) error {
	return nil
}

func (s *scriptedSession) PageHTML(ctx context.Context) (string, error) {
	if s.index >= len(s.pages) {
		return "", fmt.Errorf("no page %d", s.index)
	}
	return s.pages[s.index], nil
}

func (s *scriptedSession) NextPage(ctx context.Context) error {
	s.index++
	return nil
}

func (s *scriptedSession) Close() error { return nil }

type scriptedFactory struct {
	pages []string
}

func (f *scriptedFactory) NewSession(ctx context.Context) (ports.PortalSession, error) {
	return &scriptedSession{pages: f.pages}, nil
}

type tokenSolver struct{}

func (tokenSolver) Solve(ctx context.Context, image []byte) (string, error) {
	return "abcd", nil
}

type memorySink struct {
	mu      sync.Mutex
	records []domain.ClassifiedRecord
	failOn  string
}

func (s *memorySink) Append(rec domain.ClassifiedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn != "" && rec.Detail.Item.Title == s.failOn {
		return fmt.Errorf("disk full")
	}
	s.records = append(s.records, rec)
	return nil
}

type memoryJournal struct {
	mu   sync.Mutex
	keys []domain.RecordKey
}

func (j *memoryJournal) Append(key domain.RecordKey) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.keys = append(j.keys, key)
	return nil
}

// pageHTML renders a results table with the given row titles. Each title
// publishes at a fixed time so (title, time) keys stay stable.
func pageHTML(totalPages int, titles []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<html><body><span>共 %d 页</span><table><tbody>`, totalPages)
	for i, title := range titles {
		fmt.Fprintf(&b,
			`<tr><td>福州市</td><td>公开招标</td><td>市立医院</td><td><a href="/detail?id=%d">%s</a></td><td>2026-08-20 10:00:00</td></tr>`,
			i, title)
	}
	b.WriteString(`</tbody></table></body></html>`)
	return b.String()
}

func testTaxonomy() []config.TaxonomyEntry {
	return []config.TaxonomyEntry{
		{Category: "HIS", Keywords: []string{"his", "医院信息系统"}},
		{Category: "LIS", Keywords: []string{"lis", "检验"}},
	}
}

func TestPipelineCountsNewAndDuplicateAcrossPages(t *testing.T) {
	t.Parallel()

	// Two result pages, 15 + 3 rows. Two rows repeat keys persisted by
	// a previous run, so they must count as duplicates, not new.
	page1Titles := make([]string, 15)
	for i := range page1Titles {
		page1Titles[i] = fmt.Sprintf("HIS系统采购公告%02d", i)
	}
	page2Titles := []string{"检验设备采购公告", "办公用品采购公告", "HIS系统采购公告00回头客"}

	seed := []domain.RecordKey{
		domain.NewRecordKey(page1Titles[3], "2026-08-20 10:00:00"),
		domain.NewRecordKey(page2Titles[1], "2026-08-20 10:00:00"),
	}

	sink := &memorySink{}
	journal := &memoryJournal{}
	pipe := NewPipeline(PipelineDeps{
		Sessions:   &scriptedFactory{pages: []string{pageHTML(2, page1Titles), pageHTML(2, page2Titles)}},
		Solver:     tokenSolver{},
		Classifier: classify.New(testTaxonomy()),
		Dedup:      dedupe.New(seed),
		Batch:      sink,
		Journal:    journal,
		Crawl:      crawler.Config{MaxPages: 10, CaptchaAttempts: 5},
		Workers:    1,
		RunID:      "test-run",
	})

	hospitals := []domain.Hospital{{ID: "h1", Name: "市立医院"}}
	summary, err := pipe.Run(context.Background(), hospitals)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(summary.Hospitals) != 1 {
		t.Fatalf("expected 1 hospital summary, got %d", len(summary.Hospitals))
	}
	hs := summary.Hospitals[0]
	if hs.Err != nil {
		t.Fatalf("hospital failed: %v", hs.Err)
	}
	if hs.Found != 18 || hs.New != 16 || hs.Duplicates != 2 || hs.Failed != 0 {
		t.Fatalf("expected 18 found / 16 new / 2 duplicates / 0 failed, got %d/%d/%d/%d",
			hs.Found, hs.New, hs.Duplicates, hs.Failed)
	}
	if hs.PagesVisited != 2 {
		t.Fatalf("expected 2 pages visited, got %d", hs.PagesVisited)
	}

	if len(sink.records) != 16 {
		t.Fatalf("expected 16 persisted records, got %d", len(sink.records))
	}
	if len(journal.keys) != 16 {
		t.Fatalf("expected 16 journaled keys, got %d", len(journal.keys))
	}
	for _, rec := range sink.records {
		if rec.HospitalID != "h1" {
			t.Fatalf("record missing hospital id: %+v", rec.Detail.Item)
		}
		if !rec.Detail.DetailUnavailable {
			t.Fatalf("expected degraded detail record without fetcher")
		}
	}
	if summary.Succeeded() != 1 {
		t.Fatalf("expected 1 succeeded hospital")
	}
}

func TestPipelineClassifiesPersistedRecords(t *testing.T) {
	t.Parallel()

	titles := []string{"HIS系统采购公告", "检验信息系统升级", "绿化养护服务"}
	sink := &memorySink{}
	pipe := NewPipeline(PipelineDeps{
		Sessions:   &scriptedFactory{pages: []string{pageHTML(1, titles)}},
		Solver:     tokenSolver{},
		Classifier: classify.New(testTaxonomy()),
		Dedup:      dedupe.New(nil),
		Batch:      sink,
		Crawl:      crawler.Config{MaxPages: 5, CaptchaAttempts: 5},
		RunID:      "test-run",
	})

	summary, err := pipe.Run(context.Background(), []domain.Hospital{{ID: "h1", Name: "市立医院"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := summary.Hospitals[0].New; got != 3 {
		t.Fatalf("expected 3 new records, got %d", got)
	}

	byTitle := map[string][]string{}
	for _, rec := range sink.records {
		byTitle[rec.Detail.Item.Title] = rec.Categories
	}
	if got := byTitle["HIS系统采购公告"]; len(got) != 1 || got[0] != "HIS" {
		t.Fatalf("expected [HIS], got %v", got)
	}
	if got := byTitle["检验信息系统升级"]; len(got) != 1 || got[0] != "LIS" {
		t.Fatalf("expected [LIS], got %v", got)
	}
	if got := byTitle["绿化养护服务"]; len(got) != 0 {
		t.Fatalf("expected no categories, got %v", got)
	}
}

func TestPipelinePersistenceFailureIsFatal(t *testing.T) {
	t.Parallel()

	titles := []string{"HIS系统采购公告A", "HIS系统采购公告B"}
	sink := &memorySink{failOn: titles[0]}
	pipe := NewPipeline(PipelineDeps{
		Sessions:   &scriptedFactory{pages: []string{pageHTML(1, titles)}},
		Solver:     tokenSolver{},
		Classifier: classify.New(testTaxonomy()),
		Dedup:      dedupe.New(nil),
		Batch:      sink,
		Crawl:      crawler.Config{MaxPages: 5, CaptchaAttempts: 5},
		RunID:      "test-run",
	})

	_, err := pipe.Run(context.Background(), []domain.Hospital{{ID: "h1", Name: "市立医院"}})
	if err == nil {
		t.Fatalf("expected fatal persistence error")
	}
	if !strings.Contains(err.Error(), "persist record") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPipelineLookbackDropsOldItems(t *testing.T) {
	t.Parallel()

	// A publish time years in the past falls outside any recent window,
	// so the item must be filtered before dedup.
	page := `<html><body><span>共 1 页</span><table><tbody>` +
		`<tr><td>福州市</td><td>公开招标</td><td>市立医院</td>` +
		`<td><a href="/detail?id=1">HIS系统采购公告</a></td><td>2019-01-01 10:00:00</td></tr>` +
		`</tbody></table></body></html>`
	sink := &memorySink{}
	pipe := NewPipeline(PipelineDeps{
		Sessions:     &scriptedFactory{pages: []string{page}},
		Solver:       tokenSolver{},
		Classifier:   classify.New(testTaxonomy()),
		Dedup:        dedupe.New(nil),
		Batch:        sink,
		Crawl:        crawler.Config{MaxPages: 5, CaptchaAttempts: 5},
		LookbackDays: 1,
		RunID:        "test-run",
	})

	summary, err := pipe.Run(context.Background(), []domain.Hospital{{ID: "h1", Name: "市立医院"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	hs := summary.Hospitals[0]
	if hs.Found != 0 || hs.New != 0 {
		t.Fatalf("expected old items filtered, got found=%d new=%d", hs.Found, hs.New)
	}
	if len(sink.records) != 0 {
		t.Fatalf("expected no persisted records, got %d", len(sink.records))
	}
}

type archiveStub struct {
	seen map[domain.RecordKey]bool
}

func (a *archiveStub) SeenKeys(ctx context.Context, keys []domain.RecordKey) (map[domain.RecordKey]bool, error) {
	return a.seen, nil
}

func (a *archiveStub) SaveRecord(ctx context.Context, rec domain.ClassifiedRecord) error {
	return nil
}

func TestPipelineArchiveKeysCountAsDuplicates(t *testing.T) {
	t.Parallel()

	titles := []string{"HIS系统采购公告A", "HIS系统采购公告B"}
	archived := map[domain.RecordKey]bool{
		domain.NewRecordKey(titles[0], "2026-08-20 10:00:00"): true,
	}
	sink := &memorySink{}
	pipe := NewPipeline(PipelineDeps{
		Sessions:   &scriptedFactory{pages: []string{pageHTML(1, titles)}},
		Solver:     tokenSolver{},
		Classifier: classify.New(testTaxonomy()),
		Dedup:      dedupe.New(nil),
		Batch:      sink,
		Archive:    &archiveStub{seen: archived},
		Crawl:      crawler.Config{MaxPages: 5, CaptchaAttempts: 5},
		RunID:      "test-run",
	})

	summary, err := pipe.Run(context.Background(), []domain.Hospital{{ID: "h1", Name: "市立医院"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	hs := summary.Hospitals[0]
	if hs.New != 1 || hs.Duplicates != 1 {
		t.Fatalf("expected 1 new / 1 duplicate, got %d/%d", hs.New, hs.Duplicates)
	}
}
