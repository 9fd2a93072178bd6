package telegram

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/crablduck/crm-spyder/internal/domain"
	"github.com/crablduck/crm-spyder/internal/ports"
)

const defaultAPIBase = "https://api.telegram.org"

// Notifier posts crawl run outcomes to a Telegram chat via bot API.
// Messages are rendered as short per-hospital lines; chat clients use
// proportional fonts, so no table layout is attempted.
type Notifier struct {
	botToken string
	chatID   string
	apiBase  string
	client   *http.Client
}

var _ ports.Notifier = (*Notifier)(nil)

// NewNotifier registers bot token and chat identifier.
func NewNotifier(botToken, chatID string) *Notifier {
	return &Notifier{
		botToken: botToken,
		chatID:   chatID,
		apiBase:  defaultAPIBase,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// PublishSummary renders and posts the run outcome.
func (n *Notifier) PublishSummary(ctx context.Context, summary domain.RunSummary) error {
	if n.botToken == "" || n.chatID == "" || n.client == nil {
		return fmt.Errorf("telegram notifier misconfigured")
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.botToken)
	form := url.Values{}
	form.Set("chat_id", n.chatID)
	form.Set("text", renderMessage(summary))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram error: %s", resp.Status)
	}

	return nil
}

// renderMessage formats the run as one header plus one line per
// hospital.
func renderMessage(summary domain.RunSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Crawl run %s: %d/%d hospitals ok (%s)\n",
		summary.RunID, summary.Succeeded(), len(summary.Hospitals),
		summary.FinishedAt.Sub(summary.StartedAt).Round(time.Second))

	for _, hs := range summary.Hospitals {
		if hs.Err != nil {
			fmt.Fprintf(&b, "✗ %s: %s\n", hs.Hospital.Name, hs.Err)
			continue
		}
		fmt.Fprintf(&b, "✓ %s: %d new, %d dup, %d failed (%d pages",
			hs.Hospital.Name, hs.New, hs.Duplicates, hs.Failed, hs.PagesVisited)
		if hs.PagesSkipped > 0 {
			fmt.Fprintf(&b, ", %d skipped", hs.PagesSkipped)
		}
		b.WriteString(")\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
