// Package smtprelay implements a Provider that submits messages to an SMTP
// relay, such as the SES SMTP interface or a local MTA.
package smtprelay

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"

	"github.com/shineum/ses-forwarder/internal/mime"
	"github.com/shineum/ses-forwarder/internal/provider"
)

const defaultDialTimeout = 30 * time.Second

// Config holds the configuration for creating a Provider.
type Config struct {
	// Addr is the host:port of the relay.
	Addr     string
	Username string
	Password string
	// LocalName is sent in EHLO on plaintext connections. Defaults to
	// "localhost".
	LocalName string
	// StartTLS upgrades the connection before anything else is sent. The
	// relay must offer STARTTLS.
	StartTLS bool
	// InsecureSkipVerify disables certificate checks after STARTTLS.
	InsecureSkipVerify bool
}

// Provider submits raw messages over SMTP, upgrading with STARTTLS when
// configured and using PLAIN authentication when a username is set.
type Provider struct {
	cfg    Config
	dialer *net.Dialer
}

var _ provider.Provider = (*Provider)(nil)

// New creates a new Provider with the given configuration.
func New(cfg Config) *Provider {
	if cfg.LocalName == "" {
		cfg.LocalName = "localhost"
	}
	return &Provider{
		cfg:    cfg,
		dialer: &net.Dialer{Timeout: defaultDialTimeout},
	}
}

// SendRaw submits raw with from as the envelope sender. The only envelope
// recipients are the addresses of the To header. The returned id is
// generated locally since SMTP does not report one.
func (p *Provider) SendRaw(ctx context.Context, raw []byte, from string) (string, error) {
	rcpts, err := mime.ToAddresses(raw)
	if err != nil {
		return "", err
	}

	conn, err := p.dialer.DialContext(ctx, "tcp", p.cfg.Addr)
	if err != nil {
		return "", fmt.Errorf("failed to connect to SMTP relay %s: %w", p.cfg.Addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	c, err := p.newClient(conn)
	if err != nil {
		conn.Close()
		return "", err
	}
	defer c.Close()

	if p.cfg.Username != "" {
		if ok, _ := c.Extension("AUTH"); !ok {
			return "", errors.New("SMTP relay does not support AUTH")
		}
		auth := sasl.NewPlainClient("", p.cfg.Username, p.cfg.Password)
		if err := c.Auth(auth); err != nil {
			return "", fmt.Errorf("SMTP authentication failed: %w", classify(err))
		}
	}

	envelopeFrom := mime.ExtractEmailAddress(from)
	if err := c.SendMail(envelopeFrom, rcpts, bytes.NewReader(raw)); err != nil {
		return "", fmt.Errorf("SMTP relay rejected message: %w", classify(err))
	}

	if err := c.Quit(); err != nil {
		slog.Debug("SMTP QUIT failed", "error", err)
	}

	id := "smtp-" + uuid.NewString()
	slog.Debug("message submitted to SMTP relay",
		"addr", p.cfg.Addr,
		"recipients", len(rcpts),
		"id", id,
	)
	return id, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "smtp"
}

// newClient greets the relay on conn, upgrading it first when StartTLS is
// set. NewClientStartTLS sends its own EHLO. The caller closes conn on error.
func (p *Provider) newClient(conn net.Conn) (*smtp.Client, error) {
	if !p.cfg.StartTLS {
		c := smtp.NewClient(conn)
		if err := c.Hello(p.cfg.LocalName); err != nil {
			return nil, fmt.Errorf("EHLO failed: %w", classify(err))
		}
		return c, nil
	}

	host, _, _ := net.SplitHostPort(p.cfg.Addr)
	c, err := smtp.NewClientStartTLS(conn, &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: p.cfg.InsecureSkipVerify,
	})
	if err != nil {
		return nil, fmt.Errorf("STARTTLS failed: %w", classify(err))
	}
	return c, nil
}

// classify wraps temporary SMTP replies (4xx) with provider.ErrThrottled.
func classify(err error) error {
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) && smtpErr.Temporary() {
		return fmt.Errorf("%w: %w", provider.ErrThrottled, err)
	}
	return err
}
