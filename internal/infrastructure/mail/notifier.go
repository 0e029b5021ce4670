package mail

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"PaperSieve/internal/config"
	"PaperSieve/internal/domain"
	"PaperSieve/internal/ports"
)

// Sender delivers composed messages. *gomail.Dialer satisfies it.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Notifier e-mails an HTML digest of relevant papers.
type Notifier struct {
	sender Sender
	from   string
	to     []string
	now    func() time.Time
	logger *zap.Logger
}

var _ ports.Notifier = (*Notifier)(nil)

// NewNotifier dials the configured SMTP server on every publish.
func NewNotifier(cfg config.EmailConfig, log *zap.Logger) *Notifier {
	return NewNotifierWithSender(gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password), cfg.From, cfg.To, log)
}

// NewNotifierWithSender wires a custom Sender.
func NewNotifierWithSender(sender Sender, from string, to []string, log *zap.Logger) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{sender: sender, from: from, to: to, now: time.Now, logger: log}
}

// Name identifies the channel in logs.
func (n *Notifier) Name() string {
	return "email"
}

// PublishPapers sends one message addressed to every recipient.
func (n *Notifier) PublishPapers(ctx context.Context, papers []domain.Paper) error {
	if len(papers) == 0 {
		return nil
	}
	if n.sender == nil || n.from == "" || len(n.to) == 0 {
		return eris.New("email notifier misconfigured")
	}
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "email: publish")
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", n.to...)
	m.SetHeader("Subject", subject(len(papers), n.now()))
	m.SetBody("text/plain", plainBody(papers))
	m.AddAlternative("text/html", htmlBody(papers))

	if err := n.sender.DialAndSend(m); err != nil {
		return eris.Wrap(err, "email: send digest")
	}
	n.logger.Info("digest sent", zap.Int("papers", len(papers)), zap.Int("recipients", len(n.to)))
	return nil
}

func subject(count int, now time.Time) string {
	return fmt.Sprintf("[PaperSieve] %d relevant papers, %s", count, now.Format("2006-01-02"))
}

func plainBody(papers []domain.Paper) string {
	var sb strings.Builder
	for i, p := range papers {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, p.Title)
		if len(p.Authors) > 0 {
			fmt.Fprintf(&sb, "   Authors: %s\n", strings.Join(firstN(p.Authors, 5), ", "))
		}
		fmt.Fprintf(&sb, "   Score: %.2f\n", p.RelevanceScore())
		if r := p.RelevanceReason(); r != "" {
			fmt.Fprintf(&sb, "   %s\n", r)
		}
		fmt.Fprintf(&sb, "   %s\n\n", p.Link)
	}
	return sb.String()
}

func htmlBody(papers []domain.Paper) string {
	var sb strings.Builder
	sb.WriteString(`<div style="font-family: Arial, sans-serif; padding: 20px; color: #333;">`)
	fmt.Fprintf(&sb, "<h2>%d relevant papers</h2>", len(papers))
	for _, p := range papers {
		sb.WriteString(`<div style="margin-bottom: 18px;">`)
		fmt.Fprintf(&sb, `<h3><a href="%s">%s</a></h3>`, html.EscapeString(p.Link), html.EscapeString(p.Title))
		if len(p.Authors) > 0 {
			fmt.Fprintf(&sb, "<p><strong>Authors:</strong> %s</p>", html.EscapeString(strings.Join(firstN(p.Authors, 5), ", ")))
		}
		fmt.Fprintf(&sb, "<p><strong>Score:</strong> %.2f</p>", p.RelevanceScore())
		if r := p.RelevanceReason(); r != "" {
			fmt.Fprintf(&sb, "<p>%s</p>", html.EscapeString(r))
		}
		if p.PDFLink != "" {
			fmt.Fprintf(&sb, `<p><a href="%s">PDF</a></p>`, html.EscapeString(p.PDFLink))
		}
		sb.WriteString("</div>")
	}
	sb.WriteString("</div>")
	return sb.String()
}

func firstN(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
