package delivery

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"time"

	"github.com/dmitrijs2005/magiclink/internal/logging"
)

const (
	smtpDialTimeout = 10 * time.Second
	smtpHelloName   = "localhost"
)

// SMTPConfig addresses the mail relay. Username and Password are optional;
// when set the relay must offer AUTH.
type SMTPConfig struct {
	Addr     string
	Username string
	Password string
	From     string
	FromName string
}

var htmlTemplate = htmltemplate.Must(htmltemplate.New("magiclink_html").Parse(`<!DOCTYPE html>
<html>
<body>
<p>Hello{{if .FullName}} {{.FullName}}{{end}},</p>
<p>Use the button below to sign in:</p>
<p><a href="{{.Link}}">Sign in</a></p>
<p>Or paste this link into your browser:<br>{{.Link}}</p>
<p>The link works once and expires in {{.ExpiresIn}} ({{.ExpiresAt}}).<br>
If you did not ask for it, ignore this message.</p>
</body>
</html>
`))

// SMTPSender mails each link as a multipart/alternative message with text
// and HTML parts. STARTTLS is used whenever the relay offers it.
type SMTPSender struct {
	cfg       SMTPConfig
	host      string
	log       logging.Logger
	now       func() time.Time
	tlsConfig *tls.Config
}

func NewSMTPSender(cfg SMTPConfig, log logging.Logger) (*SMTPSender, error) {
	host, _, err := net.SplitHostPort(cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("invalid smtp address %q: %w", cfg.Addr, err)
	}
	if _, err := mail.ParseAddress(cfg.From); err != nil {
		return nil, fmt.Errorf("invalid smtp sender %q: %w", cfg.From, err)
	}
	return &SMTPSender{
		cfg:       cfg,
		host:      host,
		log:       log.With("module", "delivery"),
		now:       time.Now,
		tlsConfig: &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12},
	}, nil
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	body, err := s.compose(msg)
	if err != nil {
		return fmt.Errorf("error composing message: %w", err)
	}
	if err := s.deliver(ctx, msg.To, body); err != nil {
		return fmt.Errorf("error sending mail via %s: %w", s.cfg.Addr, err)
	}

	s.log.Info(ctx, "magic link delivered", "to", msg.To, "expires_at", msg.ExpiresAt, "relay", s.cfg.Addr)
	return nil
}

func (s *SMTPSender) compose(msg Message) ([]byte, error) {
	now := s.now()
	view := newView(msg, now)

	var text, html bytes.Buffer
	if err := bodyTemplate.Execute(&text, view); err != nil {
		return nil, err
	}
	if err := htmlTemplate.Execute(&html, view); err != nil {
		return nil, err
	}

	var parts bytes.Buffer
	mw := multipart.NewWriter(&parts)
	for _, p := range []struct {
		contentType string
		body        []byte
	}{
		{"text/plain; charset=UTF-8", text.Bytes()},
		{"text/html; charset=UTF-8", html.Bytes()},
	} {
		w, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {p.contentType},
			"Content-Transfer-Encoding": {"quoted-printable"},
		})
		if err != nil {
			return nil, err
		}
		qp := quotedprintable.NewWriter(w)
		if _, err := qp.Write(p.body); err != nil {
			return nil, err
		}
		if err := qp.Close(); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	from := mail.Address{Name: s.cfg.FromName, Address: s.cfg.From}

	var out bytes.Buffer
	fmt.Fprintf(&out, "From: %s\r\n", from.String())
	fmt.Fprintf(&out, "To: %s\r\n", msg.To)
	fmt.Fprintf(&out, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&out, "Date: %s\r\n", now.Format(time.RFC1123Z))
	out.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&out, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", mw.Boundary())
	out.Write(parts.Bytes())
	return out.Bytes(), nil
}

func (s *SMTPSender) deliver(ctx context.Context, to string, body []byte) error {
	d := &net.Dialer{Timeout: smtpDialTimeout}
	conn, err := d.DialContext(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, s.host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if err := c.Hello(smtpHelloName); err != nil {
		return err
	}
	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(s.tlsConfig); err != nil {
			return err
		}
	}
	if s.cfg.Username != "" {
		if ok, _ := c.Extension("AUTH"); !ok {
			return errors.New("relay does not offer AUTH")
		}
		if err := c.Auth(smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.host)); err != nil {
			return err
		}
	}

	if err := c.Mail(s.cfg.From); err != nil {
		return err
	}
	if err := c.Rcpt(to); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}
