package telegram

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"PaperSieve/internal/domain"
	"PaperSieve/internal/ports"
)

const (
	defaultAPIBase = "https://api.telegram.org"
	// messageLimit stays under Telegram's 4096 character cap.
	messageLimit = 4000

	// Rune caps before escaping. html.EscapeString expands a rune to at most
	// five bytes, so one block stays well under messageLimit.
	maxTitleRunes   = 300
	maxAuthorsRunes = 150
	maxReasonRunes  = 280
)

// message is one sendMessage payload and the papers it carries.
type message struct {
	text string
	ids  []string
}

// Notifier sends digests to a Telegram chat via bot API.
type Notifier struct {
	botToken string
	chatID   string
	apiBase  string
	client   *http.Client
	logger   *zap.Logger
}

var _ ports.Notifier = (*Notifier)(nil)

// NewNotifier registers bot token and chat identifier. An empty apiBase
// targets the public Bot API.
func NewNotifier(botToken, chatID, apiBase string, log *zap.Logger) *Notifier {
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{
		botToken: botToken,
		chatID:   chatID,
		apiBase:  strings.TrimSuffix(apiBase, "/"),
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   log,
	}
}

// Name identifies the channel in logs.
func (n *Notifier) Name() string {
	return "telegram"
}

// PublishPapers posts the papers as one or more HTML messages.
func (n *Notifier) PublishPapers(ctx context.Context, papers []domain.Paper) error {
	if len(papers) == 0 {
		return nil
	}
	var delivered []string
	for i, msg := range buildMessages(papers) {
		if err := n.send(ctx, msg.text); err != nil {
			err = eris.Wrapf(err, "telegram: message %d", i+1)
			if len(delivered) == 0 {
				return err
			}
			return &domain.PartialDeliveryError{Delivered: delivered, Err: err}
		}
		delivered = append(delivered, msg.ids...)
	}
	n.logger.Info("digest sent", zap.Int("papers", len(papers)))
	return nil
}

func (n *Notifier) send(ctx context.Context, text string) error {
	if n.botToken == "" || n.chatID == "" || n.client == nil {
		return eris.New("telegram notifier misconfigured")
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.botToken)
	form := url.Values{}
	form.Set("chat_id", n.chatID)
	form.Set("text", text)
	form.Set("parse_mode", "HTML")
	form.Set("disable_web_page_preview", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return eris.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("telegram error: %s", resp.Status)
	}

	return nil
}

// buildMessages renders one block per paper and packs blocks into messages
// below the size limit.
func buildMessages(papers []domain.Paper) []message {
	header := fmt.Sprintf("<b>%d relevant papers</b>\n\n", len(papers))

	var (
		messages []message
		current  strings.Builder
		ids      []string
	)
	current.WriteString(header)
	for i, p := range papers {
		block := formatPaper(i+1, p)
		if current.Len()+len(block) > messageLimit && len(ids) > 0 {
			messages = append(messages, message{text: current.String(), ids: ids})
			current.Reset()
			ids = nil
		}
		current.WriteString(block)
		ids = append(ids, p.ID)
	}
	if len(ids) > 0 {
		messages = append(messages, message{text: current.String(), ids: ids})
	}
	return messages
}

func formatPaper(n int, p domain.Paper) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d. <a href=\"%s\">%s</a>\n", n, html.EscapeString(p.Link), escape(p.Title, maxTitleRunes))
	if len(p.Authors) > 0 {
		authors := p.Authors
		if len(authors) > 3 {
			authors = append(authors[:3:3], "et al.")
		}
		fmt.Fprintf(&sb, "<i>%s</i>\n", escape(strings.Join(authors, ", "), maxAuthorsRunes))
	}
	fmt.Fprintf(&sb, "Score: %.2f\n", p.RelevanceScore())
	if reason := p.RelevanceReason(); reason != "" {
		fmt.Fprintf(&sb, "%s\n", escape(reason, maxReasonRunes))
	}
	sb.WriteString("\n")
	return sb.String()
}

// escape cuts s to n runes, marking the cut with an ellipsis, and escapes it.
func escape(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		s = string(r[:n-1]) + "…"
	}
	return html.EscapeString(s)
}
