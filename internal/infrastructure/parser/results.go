package parser

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/crablduck/crm-spyder/internal/domain"
)

var (
	totalPagesExpr = regexp.MustCompile(`共\s*(\d+)\s*页`)
	onclickExpr    = regexp.MustCompile(`articleDetail\('([^']+)','([^']+)','([^']+)','([^']+)','([^']+)'\)`)
)

// PageResult is one parsed results page.
type PageResult struct {
	Items      []domain.SearchResultItem
	TotalPages int
	Skipped    int
}

// ParseResults extracts the announcement rows from a results page.
// Rows without a title or resolvable link are skipped, not fatal;
// optional cells degrade to the empty string.
func ParseResults(html, baseURL, detailURL string) (PageResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return PageResult{}, fmt.Errorf("parse results page: %w", err)
	}

	res := PageResult{TotalPages: totalPages(doc)}
	now := time.Now()

	doc.Find("table tbody tr").Each(func(i int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 5 {
			if looksLikeHeader(row) {
				return
			}
			res.Skipped++
			return
		}

		titleCell := cells.Eq(3)
		title := strings.TrimSpace(titleCell.Text())
		link := detailLink(titleCell, baseURL, detailURL)
		if title == "" || link == "" {
			res.Skipped++
			return
		}

		res.Items = append(res.Items, domain.SearchResultItem{
			District:    strings.TrimSpace(cells.Eq(0).Text()),
			Method:      strings.TrimSpace(cells.Eq(1).Text()),
			Unit:        strings.TrimSpace(cells.Eq(2).Text()),
			Title:       title,
			DetailURL:   link,
			PublishTime: strings.TrimSpace(cells.Eq(4).Text()),
			CrawledAt:   now,
		})
	})

	return res, nil
}

// detailLink resolves the announcement link from an anchor href, an
// onclick articleDetail(...) payload, or data attributes, in that order.
func detailLink(cell *goquery.Selection, baseURL, detailURL string) string {
	if href, ok := cell.Find("a").First().Attr("href"); ok && href != "" {
		return absoluteURL(baseURL, href)
	}

	for _, holder := range []*goquery.Selection{cell.Find("a").First(), cell} {
		if onclick, ok := holder.Attr("onclick"); ok {
			if link := urlFromOnclick(detailURL, onclick); link != "" {
				return link
			}
		}
	}

	if id, ok := cell.Attr("data-id"); ok && id != "" {
		typ, _ := cell.Attr("data-type")
		params := url.Values{}
		params.Set("type", typ)
		params.Set("id", id)
		params.Set("soure", "ggxx")
		return detailURL + "?" + params.Encode()
	}

	return ""
}

func urlFromOnclick(detailURL, onclick string) string {
	m := onclickExpr.FindStringSubmatch(onclick)
	if m == nil {
		return ""
	}
	params := url.Values{}
	params.Set("type", m[1])
	params.Set("id", m[2])
	params.Set("planId", m[3])
	params.Set("channel", m[4])
	params.Set("soure", m[5])
	return detailURL + "?" + params.Encode()
}

func absoluteURL(baseURL, href string) string {
	if strings.HasPrefix(href, "http") {
		return href
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// totalPages reads the pager. Falls back to the highest numeric pager
// item, then to 1.
func totalPages(doc *goquery.Document) int {
	text := doc.Find("span").FilterFunction(func(i int, s *goquery.Selection) bool {
		return strings.Contains(s.Text(), "页")
	}).First().Text()

	if m := totalPagesExpr.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return n
		}
	}

	last := 1
	doc.Find("ul.el-pager li").Each(func(i int, s *goquery.Selection) {
		if n, err := strconv.Atoi(strings.TrimSpace(s.Text())); err == nil && n > last {
			last = n
		}
	})
	return last
}

func looksLikeHeader(row *goquery.Selection) bool {
	text := row.Text()
	for _, header := range []string{"区划", "采购方式", "采购单位", "公告标题", "发布时间"} {
		if strings.Contains(text, header) {
			return true
		}
	}
	return row.Find("th").Length() > 0
}
