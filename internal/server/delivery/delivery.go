// Package delivery renders magic links and hands them to an outbound
// channel: an SMTP relay, or in development an outbox writer. Only message
// metadata is ever logged.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/dmitrijs2005/magiclink/internal/logging"
)

const (
	KindLog     = "log"
	KindSMTP    = "smtp"
	KindDiscard = "discard"

	tokenParam = "token"
	subject    = "Your sign-in link"
)

var ErrUnknownKind = errors.New("unknown delivery kind")

// Message is one magic link bound for a mailbox.
type Message struct {
	To        string
	FullName  string
	Link      string
	ExpiresAt time.Time
}

// Sender delivers a message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// BuildLink appends token=<secret> to baseURL, keeping any query it has.
func BuildLink(baseURL, secret string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid link base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid link base url %q: scheme and host required", baseURL)
	}
	q := u.Query()
	q.Set(tokenParam, secret)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

var bodyTemplate = template.Must(template.New("magiclink").Parse(`Hello{{if .FullName}} {{.FullName}}{{end}},

Use the link below to sign in:

{{.Link}}

The link works once and expires in {{.ExpiresIn}} ({{.ExpiresAt}}).
If you did not ask for it, ignore this message.
`))

type messageView struct {
	Message
	ExpiresIn string
	ExpiresAt string
}

func newView(msg Message, now time.Time) messageView {
	return messageView{
		Message:   msg,
		ExpiresIn: msg.ExpiresAt.Sub(now).Round(time.Second).String(),
		ExpiresAt: msg.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

// Render produces the plain-text body of msg as of now.
func Render(msg Message, now time.Time) (string, error) {
	var b strings.Builder
	err := bodyTemplate.Execute(&b, newView(msg, now))
	return b.String(), err
}

// LogSender writes rendered messages to an outbox and logs the recipient.
type LogSender struct {
	mu     sync.Mutex
	log    logging.Logger
	outbox io.Writer
	now    func() time.Time
}

func NewLogSender(log logging.Logger, outbox io.Writer) *LogSender {
	return &LogSender{log: log.With("module", "delivery"), outbox: outbox, now: time.Now}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	body, err := Render(msg, s.now())
	if err != nil {
		return fmt.Errorf("error rendering message: %w", err)
	}

	s.mu.Lock()
	_, err = fmt.Fprintf(s.outbox, "To: %s\nSubject: %s\n\n%s\n", msg.To, subject, body)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("error writing outbox: %w", err)
	}

	s.log.Info(ctx, "magic link delivered", "to", msg.To, "expires_at", msg.ExpiresAt)
	return nil
}

type discardSender struct{}

func (discardSender) Send(context.Context, Message) error { return nil }

// NewSender picks the channel by kind. smtpCfg is only read for KindSMTP.
func NewSender(kind string, log logging.Logger, outbox io.Writer, smtpCfg SMTPConfig) (Sender, error) {
	switch kind {
	case KindLog, "":
		return NewLogSender(log, outbox), nil
	case KindSMTP:
		return NewSMTPSender(smtpCfg, log)
	case KindDiscard:
		return discardSender{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}
