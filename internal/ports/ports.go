package ports

import (
	"context"
	"time"

	"github.com/crablduck/crm-spyder/internal/domain"
)

// CaptchaSolver turns a captcha image into a guessed token. The caller
// owns the retry budget; Solve itself attempts recognition once.
type CaptchaSolver interface {
	Solve(ctx context.Context, image []byte) (string, error)
}

// PortalSession owns exclusive access to one browser context driving the
// portal's search form. Implementations are not thread-safe: one session
// serves one hospital's query sequentially. Close must be invoked on
// every exit path.
type PortalSession interface {
	// Open navigates to the search page and waits for the form.
	Open(ctx context.Context) error
	// CaptchaImage screenshots the current captcha challenge.
	CaptchaImage(ctx context.Context) ([]byte, error)
	// SubmitSearch fills the unit name and captcha token and submits.
	// Returns domain.ErrCaptchaRejected when the portal refuses the token.
	SubmitSearch(ctx context.Context, unitName, captcha string) error
	// PageHTML returns the current results page markup.
	PageHTML(ctx context.Context) (string, error)
	// NextPage advances to the next results page.
	NextPage(ctx context.Context) error
	Close() error
}

// SessionFactory creates one PortalSession per hospital worker.
type SessionFactory interface {
	NewSession(ctx context.Context) (PortalSession, error)
}

// RecordStore persists classified records for deduplication and audit.
type RecordStore interface {
	SeenKeys(ctx context.Context, keys []domain.RecordKey) (map[domain.RecordKey]bool, error)
	SaveRecord(ctx context.Context, rec domain.ClassifiedRecord) error
}

// ProfileRepository reads the customer master dataset and writes the
// merged result as a new artifact, never in place.
type ProfileRepository interface {
	Load(ctx context.Context) ([]domain.CustomerProfileRecord, error)
	WriteNew(ctx context.Context, profiles []domain.CustomerProfileRecord) (string, error)
}

// Enricher is the optional AI collaborator: a structured guess of
// software/hardware facts from raw announcement text. Its absence or
// failure never blocks the deterministic pipeline.
type Enricher interface {
	Enrich(ctx context.Context, text string) (string, error)
}

// Notifier publishes the run summary to an operator channel. The
// implementation owns the channel-appropriate rendering.
type Notifier interface {
	PublishSummary(ctx context.Context, summary domain.RunSummary) error
}

// Scheduler controls when crawl runs execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
