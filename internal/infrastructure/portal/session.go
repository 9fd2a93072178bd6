package portal

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/crablduck/crm-spyder/internal/domain"
	"github.com/crablduck/crm-spyder/internal/ports"
)

// Element-UI selectors observed on the portal.
const (
	unitInputSel    = `input[placeholder="请输入采购单位"]`
	captchaInputSel = `input[placeholder="请输入验证码"]`
	captchaImageSel = `img.captcha, img[src*="captcha"]`
	queryButtonSel  = `//button[.//span[contains(text(), "查询")]]`
	nextButtonSel   = `button.btn-next`
	resultRowSel    = `table tbody tr`
	disabledClass   = "is-disabled"
)

// Captcha rejection markers rendered by the portal after a bad token.
var rejectionMarkers = []string{"请完成上方验证码操作", "验证码错误", "验证码失效"}

// Session drives the portal search form through one headless-browser
// context. Not thread-safe: one Session serves one hospital's query
// sequentially.
type Session struct {
	searchURL string
	ctx       context.Context
	cancel    context.CancelFunc
	allocStop context.CancelFunc
	logger    *slog.Logger

	mu     sync.Mutex
	closed bool
}

var _ ports.PortalSession = (*Session)(nil)

// Factory builds one Session per hospital worker.
type Factory struct {
	SearchURL string
	Headless  bool
	Logger    *slog.Logger
}

var _ ports.SessionFactory = (*Factory)(nil)

// NewSession allocates a fresh browser context.
func (f *Factory) NewSession(ctx context.Context) (ports.PortalSession, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", f.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserAgent("Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
	)

	allocCtx, allocStop := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, cancel := chromedp.NewContext(allocCtx)

	return &Session{
		searchURL: f.SearchURL,
		ctx:       browserCtx,
		cancel:    cancel,
		allocStop: allocStop,
		logger:    f.Logger,
	}, nil
}

// Open navigates to the search page and waits for the unit-name input.
func (s *Session) Open(ctx context.Context) error {
	if err := s.guard(); err != nil {
		return err
	}

	err := s.run(ctx,
		chromedp.Navigate(s.searchURL),
		chromedp.WaitVisible(unitInputSel, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("open search page: %w", err)
	}
	return nil
}

// CaptchaImage screenshots the captcha challenge element.
func (s *Session) CaptchaImage(ctx context.Context) ([]byte, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	var buf []byte
	err := s.run(ctx,
		chromedp.WaitVisible(captchaImageSel, chromedp.ByQuery),
		chromedp.Screenshot(captchaImageSel, &buf, chromedp.ByQuery),
	)
	if err != nil {
		return nil, fmt.Errorf("capture captcha: %w", err)
	}
	return buf, nil
}

// SubmitSearch fills the unit name and captcha token, clicks the query
// button, and waits for the outcome. Returns domain.ErrCaptchaRejected
// when the portal refuses the token.
func (s *Session) SubmitSearch(ctx context.Context, unitName, captcha string) error {
	if err := s.guard(); err != nil {
		return err
	}

	err := s.run(ctx,
		chromedp.WaitVisible(unitInputSel, chromedp.ByQuery),
		chromedp.Clear(unitInputSel, chromedp.ByQuery),
		chromedp.SendKeys(unitInputSel, unitName, chromedp.ByQuery),
		chromedp.Clear(captchaInputSel, chromedp.ByQuery),
		chromedp.SendKeys(captchaInputSel, captcha, chromedp.ByQuery),
		chromedp.Click(queryButtonSel, chromedp.BySearch),
		chromedp.Sleep(2*time.Second),
	)
	if err != nil {
		return fmt.Errorf("submit search: %w", err)
	}

	html, err := s.PageHTML(ctx)
	if err != nil {
		return err
	}
	for _, marker := range rejectionMarkers {
		if strings.Contains(html, marker) {
			return domain.ErrCaptchaRejected
		}
	}
	return nil
}

// PageHTML returns the current page markup.
func (s *Session) PageHTML(ctx context.Context) (string, error) {
	if err := s.guard(); err != nil {
		return "", err
	}

	var html string
	if err := s.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read page html: %w", err)
	}
	return html, nil
}

// NextPage clicks the pager's next button and waits for fresh rows.
func (s *Session) NextPage(ctx context.Context) error {
	if err := s.guard(); err != nil {
		return err
	}

	var class string
	var found bool
	err := s.run(ctx,
		chromedp.AttributeValue(nextButtonSel, "class", &class, &found, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("locate next button: %w", err)
	}
	if found && strings.Contains(class, disabledClass) {
		return fmt.Errorf("next page: pager is on the last page")
	}

	err = s.run(ctx,
		chromedp.Click(nextButtonSel, chromedp.ByQuery),
		chromedp.Sleep(2*time.Second),
		chromedp.WaitVisible(resultRowSel, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("advance page: %w", err)
	}
	return nil
}

// Close tears the browser context down. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()
	s.allocStop()
	if s.logger != nil {
		s.logger.Debug("portal session closed")
	}
	return nil
}

func (s *Session) guard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrSessionClosed
	}
	return nil
}

// run executes actions on the browser context while honoring the
// caller's deadline and cancellation.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(s.ctx, actions...)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
