// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grammata Contributors

// Package notify delivers password-reset links out of band. The SMTP
// notifier sends a multipart plaintext+HTML email; the log notifier
// writes the link to the application log for development setups.
package notify

import (
	"bytes"
	"context"
	"html/template"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	texttemplate "text/template"

	"github.com/samber/oops"
	gomail "github.com/wneessen/go-mail"

	"github.com/grammata/grammata/internal/auth"
	"github.com/grammata/grammata/internal/config"
)

var (
	_ auth.Notifier = (*SMTPNotifier)(nil)
	_ auth.Notifier = (*LogNotifier)(nil)
)

const resetSubject = "Password Reset Request"

var textTmpl = texttemplate.Must(texttemplate.New("reset-text").Parse(`Dear {{.Email}},

Please follow the link below to reset your password:

{{.URL}}

Note: for security reasons this link is only valid for one hour.

If you did not request this email you can safely ignore it.
`))

var htmlTmpl = template.Must(template.New("reset-html").Parse(`<html>
  <head>
    <title>Password Reset Request</title>
  </head>
  <body>
    <div>
      <p>Dear {{.Email}},</p>
      <p>Please follow the link below to reset your password:</p>
      <p><a href="{{.URL}}">Reset</a></p>
      <p>Note: for security reasons this link is only valid for one hour.</p>
      <p>If you did not request this email you can safely ignore it.</p>
    </div>
  </body>
</html>
`))

type resetEmailData struct {
	Email string
	URL   string
}

// resetLink builds the user-facing reset URL with the token as a query
// parameter.
func resetLink(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", oops.Code("NOTIFY_BAD_RESET_URL").With("base", base).Wrap(err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// renderResetEmail produces the plaintext and HTML bodies.
func renderResetEmail(email, link string) (text, html string, err error) {
	data := resetEmailData{Email: email, URL: link}

	var textBuf bytes.Buffer
	if err := textTmpl.Execute(&textBuf, data); err != nil {
		return "", "", oops.Code("NOTIFY_RENDER_FAILED").With("part", "text").Wrap(err)
	}
	var htmlBuf bytes.Buffer
	if err := htmlTmpl.Execute(&htmlBuf, data); err != nil {
		return "", "", oops.Code("NOTIFY_RENDER_FAILED").With("part", "html").Wrap(err)
	}
	return textBuf.String(), htmlBuf.String(), nil
}

// SMTPNotifier sends reset links via an SMTP relay.
type SMTPNotifier struct {
	client   *gomail.Client
	from     string
	resetURL string
}

// NewSMTPNotifier creates a notifier from the notify configuration.
func NewSMTPNotifier(cfg config.NotifyConfig) (*SMTPNotifier, error) {
	host, portStr, err := net.SplitHostPort(cfg.SMTPAddr)
	if err != nil {
		return nil, oops.Code("NOTIFY_BAD_ADDR").With("addr", cfg.SMTPAddr).Wrap(err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, oops.Code("NOTIFY_BAD_ADDR").With("addr", cfg.SMTPAddr).Wrap(err)
	}

	opts := []gomail.Option{gomail.WithPort(port)}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}

	client, err := gomail.NewClient(host, opts...)
	if err != nil {
		return nil, oops.Code("NOTIFY_CLIENT_FAILED").With("host", host).Wrap(err)
	}

	return &SMTPNotifier{
		client:   client,
		from:     cfg.From,
		resetURL: cfg.ResetURL,
	}, nil
}

// SendPasswordResetLink sends the multipart reset email. The token
// travels only inside the link; it is never logged here.
func (n *SMTPNotifier) SendPasswordResetLink(ctx context.Context, email, token string) error {
	link, err := resetLink(n.resetURL, token)
	if err != nil {
		return err
	}
	text, html, err := renderResetEmail(email, link)
	if err != nil {
		return err
	}

	msg := gomail.NewMsg()
	if err := msg.From(n.from); err != nil {
		return oops.Code("NOTIFY_SEND_FAILED").With("from", n.from).Wrap(err)
	}
	if err := msg.To(email); err != nil {
		return oops.Code("NOTIFY_SEND_FAILED").Wrap(err)
	}
	msg.Subject(resetSubject)
	msg.SetBodyString(gomail.TypeTextPlain, text)
	msg.AddAlternativeString(gomail.TypeTextHTML, html)

	if err := n.client.DialAndSendWithContext(ctx, msg); err != nil {
		return oops.Code("NOTIFY_SEND_FAILED").Wrap(err)
	}
	return nil
}

// LogNotifier writes reset links to the log instead of sending mail.
// Development use only: the link contains the plaintext token.
type LogNotifier struct {
	logger   *slog.Logger
	resetURL string
}

// NewLogNotifier creates a LogNotifier. A nil logger uses slog.Default.
func NewLogNotifier(logger *slog.Logger, resetURL string) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger, resetURL: resetURL}
}

// SendPasswordResetLink logs the reset link.
func (n *LogNotifier) SendPasswordResetLink(ctx context.Context, email, token string) error {
	link, err := resetLink(n.resetURL, token)
	if err != nil {
		return err
	}
	n.logger.InfoContext(ctx, "password reset link issued",
		"email", email,
		"link", link,
	)
	return nil
}
