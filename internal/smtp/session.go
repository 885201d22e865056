package smtp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"

	"github.com/shineum/ses-forwarder/internal/domain"
	"github.com/shineum/ses-forwarder/internal/forwarder"
	"github.com/shineum/ses-forwarder/internal/mime"
	"github.com/shineum/ses-forwarder/internal/storage"
	"github.com/shineum/ses-forwarder/internal/trigger"
)

// deliveryTimeout bounds storing and routing one accepted message.
const deliveryTimeout = 2 * time.Minute

// Router routes one stored message. *forwarder.Forwarder implements it.
type Router interface {
	Route(ctx context.Context, t trigger.Trigger) forwarder.Outcome
}

// backend creates one session per connection.
type backend struct {
	ctx    context.Context
	auth   *Authenticator
	store  storage.Writer
	bucket string
	prefix string
	router Router
	newID  func() string
}

func (b *backend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	slog.Debug("new SMTP connection",
		"remote_addr", c.Conn().RemoteAddr().String(),
	)
	return &session{backend: b}, nil
}

// session holds the state of one SMTP transaction.
type session struct {
	backend       *backend
	authenticated bool
	from          string
	rcptTo        []string
}

func (s *session) AuthMechanisms() []string {
	if !s.backend.auth.Enabled() {
		return nil
	}
	return []string{sasl.Plain}
}

func (s *session) Auth(mech string) (sasl.Server, error) {
	if !s.backend.auth.Enabled() || mech != sasl.Plain {
		return nil, smtp.ErrAuthUnknownMechanism
	}
	return s.backend.auth.PlainServer(func(username string) {
		s.authenticated = true
		slog.Debug("SMTP client authenticated", "username", username)
	}), nil
}

func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	if s.backend.auth.Enabled() && !s.authenticated {
		return smtp.ErrAuthRequired
	}
	s.from = from
	return nil
}

func (s *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	if _, err := domain.NewEmailAddress(to); err != nil {
		return &smtp.SMTPError{
			Code:         553,
			EnhancedCode: smtp.EnhancedCode{5, 1, 3},
			Message:      "Invalid recipient address",
		}
	}
	s.rcptTo = append(s.rcptTo, to)
	return nil
}

// Data stores the message under prefix/<id> and routes it with the first
// recipient as destination. Once stored the message is accepted; routing
// failures are logged, as the receipt rule does.
func (s *session) Data(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read message data: %w", err)
	}
	if len(s.rcptTo) == 0 {
		return &smtp.SMTPError{
			Code:         503,
			EnhancedCode: smtp.EnhancedCode{5, 5, 1},
			Message:      "Missing RCPT TO command",
		}
	}
	raw = terminateHeaders(raw)

	ctx, cancel := context.WithTimeout(s.backend.ctx, deliveryTimeout)
	defer cancel()

	id, err := domain.NewMessageID(s.backend.newID())
	if err != nil {
		return err
	}
	key, err := domain.StorageKeyFor(s.backend.prefix, id)
	if err != nil {
		return err
	}
	if err := s.backend.store.Put(ctx, s.backend.bucket, key, raw); err != nil {
		slog.Error("failed to store inbound message",
			"key", key.String(),
			"error", err,
		)
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 3, 0},
			Message:      "Temporary storage failure",
		}
	}

	slog.Info("inbound message stored",
		"message_id", id.String(),
		"key", key.String(),
		"bytes", len(raw),
		"recipients", len(s.rcptTo),
	)

	out := s.backend.router.Route(ctx, trigger.Trigger{
		MessageID:   id.String(),
		Destination: s.rcptTo[0],
		Source:      s.from,
	})
	slog.Info("inbound message routed",
		"message_id", id.String(),
		"status", string(out.Status),
		"forwarded_id", out.ForwardedID,
	)
	return nil
}

func (s *session) Reset() {
	s.from = ""
	s.rcptTo = nil
}

func (s *session) Logout() error {
	return nil
}

var _ smtp.AuthSession = (*session)(nil)

// terminateHeaders closes the header block of a header-only message so the
// stored object always has a header/body boundary.
func terminateHeaders(raw []byte) []byte {
	if _, ok := mime.FindHeaderBodyBoundary(raw); ok {
		return raw
	}
	if !bytes.HasSuffix(raw, []byte("\r\n")) {
		raw = append(raw, "\r\n"...)
	}
	return append(raw, "\r\n"...)
}

func defaultID() string {
	return uuid.NewString()
}
