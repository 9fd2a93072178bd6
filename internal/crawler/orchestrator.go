// Package crawler drives one hospital's query through all result pages.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/crablduck/crm-spyder/internal/domain"
	"github.com/crablduck/crm-spyder/internal/infrastructure/parser"
	"github.com/crablduck/crm-spyder/internal/ports"
)

// State is the orchestrator's position in its lifecycle.
type State int32

const (
	StateInit State = iota
	StateSearching
	StatePaginating
	StateDone
	StateFailed
)

// String returns the string representation of a state.
func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateSearching:
		return "searching"
	case StatePaginating:
		return "paginating"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config bundles the externally supplied budgets for one query.
type Config struct {
	BaseURL         string
	DetailURL       string
	MaxPages        int
	CaptchaAttempts int
	PageRetries     int
	MinDelay        time.Duration
}

// Result is the outcome of one hospital's search.
type Result struct {
	Items        []domain.SearchResultItem
	TotalPages   int
	PagesVisited int
	PagesSkipped int
	RowsSkipped  int
}

// Orchestrator owns one portal session and walks the paginated results
// for a single unit-name query. Sequential; one instance per hospital.
type Orchestrator struct {
	session ports.PortalSession
	solver  ports.CaptchaSolver
	cfg     Config
	logger  *slog.Logger
	state   State
}

// New wires a session and solver to the configured budgets.
func New(session ports.PortalSession, solver ports.CaptchaSolver, cfg Config, logger *slog.Logger) *Orchestrator {
	if cfg.CaptchaAttempts <= 0 {
		cfg.CaptchaAttempts = 5
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 1
	}
	return &Orchestrator{
		session: session,
		solver:  solver,
		cfg:     cfg,
		logger:  logger,
		state:   StateInit,
	}
}

// State reports the current lifecycle position.
func (o *Orchestrator) State() State {
	return o.state
}

// Run executes Init → Searching → Paginating → Done|Failed. A failure
// here is per-hospital; callers must not abort the batch on it.
func (o *Orchestrator) Run(ctx context.Context, unitName string) (Result, error) {
	var res Result

	if err := o.startSearch(ctx, unitName); err != nil {
		o.state = StateFailed
		return res, err
	}

	o.state = StateSearching
	page, err := o.firstPage(ctx, &res)
	if err != nil {
		o.state = StateFailed
		return res, fmt.Errorf("first results page: %w", err)
	}
	res.PagesVisited++

	res.TotalPages = page.TotalPages
	if len(page.Items) == 0 && page.TotalPages <= 1 {
		o.state = StateDone
		return res, nil
	}

	// Cap-before-total: the page cap bounds runtime on hospitals with
	// unexpectedly large result sets.
	target := page.TotalPages
	if o.cfg.MaxPages < target {
		target = o.cfg.MaxPages
	}

	o.state = StatePaginating
	for pageNo := 2; pageNo <= target; pageNo++ {
		if err := o.politenessDelay(ctx); err != nil {
			o.state = StateFailed
			return res, err
		}

		if err := o.advanceWithRetry(ctx); err != nil {
			// Navigation is broken; the remaining pages are a recorded
			// gap, not a run failure.
			o.log("pagination stopped early", "page", pageNo, "error", err)
			res.PagesSkipped += target - pageNo + 1
			break
		}

		if _, err := o.parseCurrentPage(ctx, &res); err != nil {
			o.log("results page skipped", "page", pageNo, "error", err)
			res.PagesSkipped++
			res.PagesVisited++
			continue
		}
		res.PagesVisited++
	}

	o.state = StateDone
	return res, nil
}

// startSearch submits the query, solving the captcha within a counted
// budget and retrying the whole page-load within the page budget.
func (o *Orchestrator) startSearch(ctx context.Context, unitName string) error {
	attempts := o.cfg.PageRetries + 1
	var lastErr error
	for pageTry := 1; pageTry <= attempts; pageTry++ {
		if err := o.session.Open(ctx); err != nil {
			lastErr = err
			continue
		}

		err := o.solveAndSubmit(ctx, unitName)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}
		o.log("search submit failed, retrying page", "attempt", pageTry, "error", err)
	}
	return fmt.Errorf("search %q: %w", unitName, lastErr)
}

// solveAndSubmit consumes at most the captcha budget's worth of Solve
// invocations for one page-load.
func (o *Orchestrator) solveAndSubmit(ctx context.Context, unitName string) error {
	for attempt := 1; attempt <= o.cfg.CaptchaAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		image, err := o.session.CaptchaImage(ctx)
		if err != nil {
			return fmt.Errorf("captcha image: %w", err)
		}

		token, err := o.solver.Solve(ctx, image)
		if err != nil {
			o.log("captcha recognition failed", "attempt", attempt, "error", err)
			continue
		}

		err = o.session.SubmitSearch(ctx, unitName, token)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrCaptchaRejected) {
			return fmt.Errorf("submit search: %w", err)
		}
		o.log("captcha token rejected", "attempt", attempt)
	}
	return &domain.CaptchaExhaustedError{Attempts: o.cfg.CaptchaAttempts}
}

// firstPage reads and parses the initial results page within the page
// budget, matching the retry treatment later pages get.
func (o *Orchestrator) firstPage(ctx context.Context, res *Result) (parser.PageResult, error) {
	attempts := o.cfg.PageRetries + 1
	var lastErr error
	for try := 1; try <= attempts; try++ {
		page, err := o.parseCurrentPage(ctx, res)
		if err == nil {
			return page, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return parser.PageResult{}, ctx.Err()
		}
		o.log("first results page failed, retrying", "attempt", try, "error", err)
	}
	return parser.PageResult{}, lastErr
}

func (o *Orchestrator) advanceWithRetry(ctx context.Context) error {
	attempts := o.cfg.PageRetries + 1
	var lastErr error
	for try := 1; try <= attempts; try++ {
		err := o.session.NextPage(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return lastErr
}

func (o *Orchestrator) parseCurrentPage(ctx context.Context, res *Result) (parser.PageResult, error) {
	html, err := o.session.PageHTML(ctx)
	if err != nil {
		return parser.PageResult{}, err
	}

	page, err := parser.ParseResults(html, o.cfg.BaseURL, o.cfg.DetailURL)
	if err != nil {
		return parser.PageResult{}, err
	}

	res.RowsSkipped += page.Skipped
	res.Items = append(res.Items, page.Items...)
	return page, nil
}

// politenessDelay enforces the minimum inter-request pause while
// honoring cancellation.
func (o *Orchestrator) politenessDelay(ctx context.Context) error {
	if o.cfg.MinDelay <= 0 {
		return nil
	}
	select {
	case <-time.After(o.cfg.MinDelay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) log(msg string, args ...any) {
	if o.logger != nil {
		o.logger.Debug(msg, args...)
	}
}
