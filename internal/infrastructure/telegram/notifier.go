package telegram

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"KnowledgeScanner/internal/domain"
	"KnowledgeScanner/internal/ports"
)

const (
	defaultAPIBase = "https://api.telegram.org"
	// messageLimit is the Bot API cap on a single text message.
	messageLimit = 4096
)

// Notifier sends a digest of accepted items to a Telegram chat via the bot API.
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

// Notify posts the digest, split into as many messages as the size cap demands.
func (n *Notifier) Notify(ctx context.Context, items []domain.Item) error {
	if len(items) == 0 {
		return nil
	}
	if n.botToken == "" || n.chatID == "" || n.client == nil {
		return fmt.Errorf("%w: telegram notifier misconfigured", domain.ErrNotification)
	}

	for _, msg := range splitMessages(domain.Digest(items), messageLimit) {
		if err := n.send(ctx, msg); err != nil {
			return fmt.Errorf("%w: telegram: %v", domain.ErrNotification, err)
		}
	}
	return nil
}

func (n *Notifier) send(ctx context.Context, text string) error {
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(n.apiBase, "/"), n.botToken)
	form := url.Values{}
	form.Set("chat_id", n.chatID)
	form.Set("text", text)
	form.Set("parse_mode", "Markdown")

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

// splitMessages cuts text on block boundaries so each piece stays within limit runes.
// A single block longer than limit is cut hard.
func splitMessages(text string, limit int) []string {
	if text == "" {
		return nil
	}
	var (
		out []string
		cur strings.Builder
		n   int
	)
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
			n = 0
		}
	}

	for _, block := range strings.Split(text, "\n\n") {
		size := len([]rune(block))
		sep := 0
		if n > 0 {
			sep = 2
		}
		if n+sep+size <= limit {
			if sep > 0 {
				cur.WriteString("\n\n")
			}
			cur.WriteString(block)
			n += sep + size
			continue
		}
		flush()
		runes := []rune(block)
		for len(runes) > limit {
			out = append(out, string(runes[:limit]))
			runes = runes[limit:]
		}
		cur.WriteString(string(runes))
		n = len(runes)
	}
	flush()
	return out
}
