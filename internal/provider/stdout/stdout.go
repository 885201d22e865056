// Package stdout implements a dry-run Provider that prints messages to
// standard output instead of sending them.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/shineum/ses-forwarder/internal/provider"
)

const rule = "========================================\n"

// Provider prints messages in a human-readable envelope.
type Provider struct {
	mu sync.Mutex
	// writer is the output destination, defaulting to os.Stdout.
	writer io.Writer
}

var (
	_ provider.Provider     = (*Provider)(nil)
	_ provider.SimpleSender = (*Provider)(nil)
)

// New creates a new stdout Provider that writes to os.Stdout.
func New() *Provider {
	return &Provider{writer: os.Stdout}
}

// NewWithWriter creates a new stdout Provider that writes to the given writer.
// This is useful for testing.
func NewWithWriter(w io.Writer) *Provider {
	return &Provider{writer: w}
}

// SendRaw prints the envelope sender, the size and the raw message.
func (p *Provider) SendRaw(_ context.Context, raw []byte, from string) (string, error) {
	id := newID()

	var b strings.Builder
	b.WriteString(rule)
	fmt.Fprintf(&b, "Id: %s\n", id)
	fmt.Fprintf(&b, "Envelope-From: %s\n", from)
	fmt.Fprintf(&b, "Size: %s\n", formatSize(len(raw)))
	b.WriteString(rule)
	b.Write(raw)
	if !strings.HasSuffix(b.String(), "\n") {
		b.WriteString("\n")
	}
	b.WriteString(rule)

	if err := p.write(b.String()); err != nil {
		return "", err
	}
	return id, nil
}

// SendSimple prints the plain fields of msg.
func (p *Provider) SendSimple(_ context.Context, msg provider.SimpleMessage) (string, error) {
	id := newID()

	var b strings.Builder
	b.WriteString(rule)
	fmt.Fprintf(&b, "Id: %s\n", id)
	fmt.Fprintf(&b, "From: %s\n", msg.From)
	fmt.Fprintf(&b, "To: %s\n", msg.To)
	if msg.ReplyTo != "" {
		fmt.Fprintf(&b, "Reply-To: %s\n", msg.ReplyTo)
	}
	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	b.WriteString("Body:\n")
	b.WriteString(msg.Body + "\n")
	b.WriteString(rule)

	if err := p.write(b.String()); err != nil {
		return "", err
	}
	return id, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}

func (p *Provider) write(s string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := io.WriteString(p.writer, s); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

func newID() string {
	return "stdout-" + uuid.NewString()
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
