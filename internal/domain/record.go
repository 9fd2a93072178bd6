package domain

import (
	"fmt"
	"strings"
	"time"
)

// Hospital is one entry of the immutable customer roster.
type Hospital struct {
	ID      string
	Name    string
	Aliases []string
}

// SearchResultItem is one row of a portal results page.
type SearchResultItem struct {
	District       string    `json:"district"`
	Method         string    `json:"procurement_method"`
	Unit           string    `json:"procurement_unit"`
	Title          string    `json:"title"`
	DetailURL      string    `json:"detail_url"`
	PublishTime    string    `json:"publish_time"`
	CrawledAt      time.Time `json:"crawl_time"`
	SourceHospital string    `json:"hospital_id"`
	PageIndex      int       `json:"page"`
}

// Attachment is a downloadable file referenced from a detail page.
type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Type string `json:"type"`
}

// ContractInfo holds labeled fields extracted from an announcement's
// contract section. Every field is optional; absence is valid.
type ContractInfo struct {
	ContractNumber    string `json:"contract_number,omitempty"`
	ContractName      string `json:"contract_name,omitempty"`
	ProjectNumber     string `json:"project_number,omitempty"`
	Buyer             string `json:"buyer,omitempty"`
	Supplier          string `json:"supplier,omitempty"`
	Amount            string `json:"contract_amount,omitempty"`
	PerformancePeriod string `json:"performance_period,omitempty"`
}

// Empty reports whether no field was recognized.
func (c ContractInfo) Empty() bool {
	return c == ContractInfo{}
}

// DetailRecord is the full announcement behind one SearchResultItem.
// When the detail page could not be fetched the record carries only the
// fields known from the result row and DetailUnavailable is set.
type DetailRecord struct {
	Item              SearchResultItem `json:"item"`
	Title             string           `json:"title"`
	PublishTime       string           `json:"publish_time"`
	Body              string           `json:"content"`
	Attachments       []Attachment     `json:"attachments,omitempty"`
	Contract          *ContractInfo    `json:"contract_info,omitempty"`
	ContractRaw       string           `json:"contract_raw,omitempty"`
	DetailUnavailable bool             `json:"detail_unavailable,omitempty"`
	CrawledAt         time.Time        `json:"crawl_time"`
}

// ClassifiedRecord is a DetailRecord plus matched taxonomy tags and the
// optional enrichment guess.
type ClassifiedRecord struct {
	Detail     DetailRecord `json:"detail"`
	HospitalID string       `json:"hospital_id"`
	Categories []string     `json:"categories"`
	Enrichment string       `json:"enrichment,omitempty"`
}

// Key returns the natural dedup key. The portal exposes no announcement
// id, so (title, publish time) stands in for one; two genuinely distinct
// announcements sharing both fields collapse into a single record.
func (r ClassifiedRecord) Key() RecordKey {
	return NewRecordKey(r.Detail.Item.Title, r.Detail.Item.PublishTime)
}

// RecordKey identifies a record across runs.
type RecordKey string

const keySeparator = "\x1f"

// NewRecordKey builds the (title, publish time) natural key.
func NewRecordKey(title, publishTime string) RecordKey {
	return RecordKey(strings.TrimSpace(title) + keySeparator + strings.TrimSpace(publishTime))
}

func (k RecordKey) String() string { return string(k) }

// CustomerProfileRecord is the long-lived per-hospital profile row.
// SystemsBuilt is only ever appended to or explicitly corrected, never
// silently overwritten.
type CustomerProfileRecord struct {
	HospitalID   string
	Name         string
	Aliases      string
	SystemsBuilt string
}

// HospitalSummary is the per-hospital outcome reported after a run.
type HospitalSummary struct {
	Hospital     Hospital
	PagesVisited int
	PagesSkipped int
	Found        int
	New          int
	Duplicates   int
	Failed       int
	Err          error
}

// RunSummary aggregates one crawl run.
type RunSummary struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Hospitals  []HospitalSummary
}

// Succeeded counts hospitals that completed without a terminal error.
func (s RunSummary) Succeeded() int {
	n := 0
	for _, h := range s.Hospitals {
		if h.Err == nil {
			n++
		}
	}
	return n
}

func (s RunSummary) String() string {
	return fmt.Sprintf("run %s: %d/%d hospitals succeeded", s.RunID, s.Succeeded(), len(s.Hospitals))
}
