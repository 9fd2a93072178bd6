package parser

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/crablduck/crm-spyder/internal/domain"
)

var (
	publishTimeExpr = regexp.MustCompile(`\d{4}-\d{2}-\d{2}\s+\d{2}:\d{2}:\d{2}`)
	contentClass    = regexp.MustCompile(`content|article|detail`)
)

// attachment extensions recognized on detail pages.
var attachmentExts = []string{".pdf", ".doc", ".docx", ".xls", ".xlsx", ".zip", ".rar"}

// DetailFetcher retrieves and parses full announcements. Detail pages
// are plain URL-addressable documents, so they are fetched over HTTP
// instead of the browser session.
type DetailFetcher struct {
	client  *http.Client
	baseURL string
	retries int
	backoff time.Duration
	logger  *slog.Logger
}

// NewDetailFetcher wires an HTTP client; retries defaults to 3.
func NewDetailFetcher(client *http.Client, baseURL string, retries int, logger *slog.Logger) *DetailFetcher {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if retries <= 0 {
		retries = 3
	}
	return &DetailFetcher{
		client:  client,
		baseURL: baseURL,
		retries: retries,
		backoff: time.Second,
		logger:  logger,
	}
}

// Fetch returns the DetailRecord for one result item. When the retry
// budget is exhausted the record degrades to the fields known from the
// item, marked DetailUnavailable; that is a valid record, not an error.
func (f *DetailFetcher) Fetch(ctx context.Context, item domain.SearchResultItem) domain.DetailRecord {
	var lastErr error
	for attempt := 1; attempt <= f.retries; attempt++ {
		doc, err := f.fetchDocument(ctx, item.DetailURL)
		if err == nil {
			return f.parseDetail(doc, item)
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
		select {
		case <-time.After(time.Duration(attempt) * f.backoff):
		case <-ctx.Done():
		}
	}

	if f.logger != nil {
		f.logger.Warn("detail unavailable", "url", item.DetailURL, "error", lastErr)
	}
	return domain.DetailRecord{
		Item:              item,
		Title:             item.Title,
		PublishTime:       item.PublishTime,
		DetailUnavailable: true,
		CrawledAt:         time.Now(),
	}
}

func (f *DetailFetcher) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "crm-spyder/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("portal returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	return doc, nil
}

func (f *DetailFetcher) parseDetail(doc *goquery.Document, item domain.SearchResultItem) domain.DetailRecord {
	rec := domain.DetailRecord{
		Item:        item,
		Title:       item.Title,
		PublishTime: item.PublishTime,
		CrawledAt:   time.Now(),
	}

	doc.Find("h1, h2, h3, h4").EachWithBreak(func(i int, s *goquery.Selection) bool {
		text := strings.TrimSpace(s.Text())
		if strings.Contains(text, "公告") {
			rec.Title = text
			return false
		}
		return true
	})

	pageText := doc.Text()
	if m := publishTimeExpr.FindString(pageText); m != "" {
		rec.PublishTime = m
	}

	rec.Body = strings.TrimSpace(pageText)
	doc.Find("div").EachWithBreak(func(i int, s *goquery.Selection) bool {
		class, _ := s.Attr("class")
		if contentClass.MatchString(class) {
			rec.Body = strings.TrimSpace(s.Text())
			return false
		}
		return true
	})

	rec.Attachments = f.attachments(doc)

	if strings.Contains(rec.Title, "合同") || strings.Contains(rec.Body, "合同编号") {
		rec.ContractRaw = rec.Body
		info := ParseContract(rec.Body)
		rec.Contract = &info
	}

	return rec
}

func (f *DetailFetcher) attachments(doc *goquery.Document) []domain.Attachment {
	var out []domain.Attachment
	doc.Find("a[href]").Each(func(i int, link *goquery.Selection) {
		href, _ := link.Attr("href")
		ext := attachmentExt(href)
		if ext == "" {
			return
		}
		out = append(out, domain.Attachment{
			Name: strings.TrimSpace(link.Text()),
			URL:  absoluteURL(f.baseURL, href),
			Type: ext,
		})
	})
	return out
}

func attachmentExt(href string) string {
	lower := strings.ToLower(href)
	for _, ext := range attachmentExts {
		if strings.HasSuffix(lower, ext) {
			return strings.TrimPrefix(ext, ".")
		}
	}
	return ""
}
