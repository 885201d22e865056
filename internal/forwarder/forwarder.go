// Package forwarder runs the forwarding pipeline: retrieve a stored inbound
// message, check its size, rewrite its envelope headers and hand it to the
// outbound provider.
package forwarder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shineum/ses-forwarder/internal/domain"
	"github.com/shineum/ses-forwarder/internal/mime"
	"github.com/shineum/ses-forwarder/internal/parser"
	"github.com/shineum/ses-forwarder/internal/provider"
	"github.com/shineum/ses-forwarder/internal/routing"
	"github.com/shineum/ses-forwarder/internal/storage"
	"github.com/shineum/ses-forwarder/internal/trigger"
)

// DefaultMaxSizeMB is the size limit used when none is configured.
const DefaultMaxSizeMB = 10

// Mode selects how a message is re-sent.
type Mode string

const (
	// ModeRaw rewrites the header block and sends the original MIME bytes.
	ModeRaw Mode = "raw"
	// ModeSimple sends a new plain-text message built from the subject and
	// text body.
	ModeSimple Mode = "simple"
)

// Config holds the settings of a Forwarder.
type Config struct {
	Bucket           string
	Prefix           string
	ForwardTo        string
	MaxSizeMB        int
	SiteDomain       string
	ForwarderAddress string
	Mode             Mode
	Policy           routing.Policy
}

// Forwarder composes the content store, the MIME rewriter and the outbound
// provider. It holds no per-message state and is safe for concurrent use.
type Forwarder struct {
	store    storage.Store
	provider provider.Provider
	cfg      Config
}

// New creates a Forwarder.
func New(store storage.Store, p provider.Provider, cfg Config) *Forwarder {
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = DefaultMaxSizeMB
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeRaw
	}
	return &Forwarder{store: store, provider: p, cfg: cfg}
}

// Forward relays the stored message messageID to forwardTo and returns the
// id assigned by the provider.
func (f *Forwarder) Forward(ctx context.Context, messageID, forwardTo string) (string, error) {
	return f.forward(ctx, messageID, forwardTo, "")
}

func (f *Forwarder) forward(ctx context.Context, messageID, forwardTo, subjectPrefix string) (string, error) {
	id, err := domain.NewMessageID(messageID)
	if err != nil {
		return "", stageErr(StageValidate, "", err)
	}
	to, err := domain.NewEmailAddress(forwardTo)
	if err != nil {
		return "", stageErr(StageValidate, "", err)
	}
	key, err := domain.StorageKeyFor(f.cfg.Prefix, id)
	if err != nil {
		return "", stageErr(StageValidate, "", err)
	}

	raw, err := f.store.Get(ctx, f.cfg.Bucket, key)
	if err != nil {
		return "", stageErr(StageRetrieve, key.String(), err)
	}

	if err := ValidateSize(len(raw), f.cfg.MaxSizeMB); err != nil {
		return "", stageErr(StageSizeCheck, key.String(), err)
	}

	identity, err := parser.ResolveReplyIdentity(raw)
	if err != nil {
		return "", stageErr(StageResolveIdentity, key.String(), err)
	}
	from := routing.FromDisplay(identity.DisplayName, f.cfg.SiteDomain, f.cfg.ForwarderAddress)

	var forwardedID string
	switch f.cfg.Mode {
	case ModeSimple:
		forwardedID, err = f.sendSimple(ctx, key.String(), raw, from, to, identity, subjectPrefix)
	default:
		forwardedID, err = f.sendRaw(ctx, key.String(), raw, from, to, identity, subjectPrefix)
	}
	if err != nil {
		return "", err
	}

	slog.Info("email forwarded",
		"message_id", id.String(),
		"key", key.String(),
		"bytes", len(raw),
		"forward_to", to.String(),
		"reply_to", identity.Address.String(),
		"provider", f.provider.Name(),
		"forwarded_id", forwardedID,
	)

	return forwardedID, nil
}

// Rewrite applies the size check and the header rewrite to raw without
// retrieving or transmitting anything. subjectPrefix may be empty.
func (f *Forwarder) Rewrite(raw []byte, forwardTo, subjectPrefix string) ([]byte, error) {
	to, err := domain.NewEmailAddress(forwardTo)
	if err != nil {
		return nil, stageErr(StageValidate, "", err)
	}
	if err := ValidateSize(len(raw), f.cfg.MaxSizeMB); err != nil {
		return nil, stageErr(StageSizeCheck, "", err)
	}
	identity, err := parser.ResolveReplyIdentity(raw)
	if err != nil {
		return nil, stageErr(StageResolveIdentity, "", err)
	}
	from := routing.FromDisplay(identity.DisplayName, f.cfg.SiteDomain, f.cfg.ForwarderAddress)
	return rewriteRaw(raw, "", from, to, identity, subjectPrefix)
}

func rewriteRaw(raw []byte, key, from string, to domain.EmailAddress, identity domain.Identity, subjectPrefix string) ([]byte, error) {
	var err error
	if subjectPrefix != "" {
		raw, err = mime.PrefixSubject(raw, subjectPrefix)
		if err != nil {
			return nil, stageErr(StageRewrite, key, err)
		}
	}

	out, err := mime.RewriteHeaders(raw, from, to.String(), identity.Address.String())
	if err != nil {
		return nil, stageErr(StageRewrite, key, err)
	}
	return out, nil
}

func (f *Forwarder) sendRaw(ctx context.Context, key string, raw []byte, from string, to domain.EmailAddress, identity domain.Identity, subjectPrefix string) (string, error) {
	out, err := rewriteRaw(raw, key, from, to, identity, subjectPrefix)
	if err != nil {
		return "", err
	}

	forwardedID, err := f.provider.SendRaw(ctx, out, f.cfg.ForwarderAddress)
	if err != nil {
		return "", stageErr(StageTransmit, key, err)
	}
	return forwardedID, nil
}

func (f *Forwarder) sendSimple(ctx context.Context, key string, raw []byte, from string, to domain.EmailAddress, identity domain.Identity, subjectPrefix string) (string, error) {
	sender, ok := f.provider.(provider.SimpleSender)
	if !ok {
		return "", stageErr(StageTransmit, key,
			fmt.Errorf("provider %s cannot send simple messages", f.provider.Name()))
	}

	parsed, err := parser.Parse(raw)
	if err != nil {
		return "", stageErr(StageParse, key, err)
	}

	forwardedID, err := sender.SendSimple(ctx, provider.SimpleMessage{
		From:    from,
		To:      to.String(),
		ReplyTo: identity.Address.String(),
		Subject: subjectPrefix + parsed.Subject.String(),
		Body:    parsed.Body.String(),
	})
	if err != nil {
		return "", stageErr(StageTransmit, key, err)
	}
	return forwardedID, nil
}

// ValidateSize fails with ErrSizeExceeded when size is larger than limitMB
// megabytes. A message of exactly the limit passes.
func ValidateSize(size, limitMB int) error {
	limit := limitMB * 1024 * 1024
	if size > limit {
		return fmt.Errorf("%w: %d bytes, limit %d MB", ErrSizeExceeded, size, limitMB)
	}
	return nil
}

// Status is the result class of Route.
type Status string

const (
	StatusForwarded Status = "forwarded"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// Outcome is the result of routing one trigger.
type Outcome struct {
	Status      Status
	ForwardedID string
	Err         error
}

// Route classifies the trigger destination, skips report addresses and
// forwards everything else to the configured forward address.
func (f *Forwarder) Route(ctx context.Context, t trigger.Trigger) Outcome {
	decision := f.cfg.Policy.Classify(t.Destination)
	if decision.Action == routing.Skip {
		slog.Info("skipping report address",
			"message_id", t.MessageID,
			"destination", t.Destination,
		)
		return Outcome{Status: StatusSkipped}
	}

	forwardedID, err := f.forward(ctx, t.MessageID, f.cfg.ForwardTo, f.cfg.Policy.SubjectPrefix(decision))
	if err != nil {
		attrs := []any{
			"message_id", t.MessageID,
			"destination", t.Destination,
			"error", err,
		}
		var se *StageError
		if errors.As(err, &se) {
			attrs = append(attrs, "stage", string(se.Stage))
		}
		slog.Error("failed to forward email", attrs...)
		return Outcome{Status: StatusFailed, Err: err}
	}

	return Outcome{Status: StatusForwarded, ForwardedID: forwardedID}
}
