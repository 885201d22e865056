package stdout

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shineum/ses-forwarder/internal/provider"
)

func TestSendRaw(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := NewWithWriter(&buf)

	raw := "From: \"Jane\" (via y.com) <fwd@y.com>\r\nTo: contact@y.com\r\n\r\nHello"
	id, err := p.SendRaw(context.Background(), []byte(raw), "fwd@y.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(id, "stdout-") {
		t.Errorf("id: got %q, want stdout- prefix", id)
	}

	output := buf.String()
	for _, want := range []string{
		"Id: " + id + "\n",
		"Envelope-From: fwd@y.com\n",
		"Size: 64 B\n",
		raw + "\n",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}
}

func TestSendRawUniqueIDs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := NewWithWriter(&buf)

	first, _ := p.SendRaw(context.Background(), []byte("a\r\n\r\n"), "f@y.com")
	second, _ := p.SendRaw(context.Background(), []byte("a\r\n\r\n"), "f@y.com")
	if first == second {
		t.Errorf("ids should differ, both %q", first)
	}
}

func TestSendSimple(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := NewWithWriter(&buf)

	_, err := p.SendSimple(context.Background(), provider.SimpleMessage{
		From:    "\"Jane\" (via y.com) <fwd@y.com>",
		To:      "contact@y.com",
		ReplyTo: "jane@x.com",
		Subject: "Hi",
		Body:    "Hello",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := buf.String()
	for _, want := range []string{
		"From: \"Jane\" (via y.com) <fwd@y.com>\n",
		"To: contact@y.com\n",
		"Reply-To: jane@x.com\n",
		"Subject: Hi\n",
		"Body:\nHello\n",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}
}

func TestSendSimpleWithoutReplyTo(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := NewWithWriter(&buf)

	if _, err := p.SendSimple(context.Background(), provider.SimpleMessage{From: "f@y.com", To: "t@y.com"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(buf.String(), "Reply-To:") {
		t.Error("output should not contain Reply-To when not set")
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestSendRawWriteError(t *testing.T) {
	t.Parallel()

	p := NewWithWriter(failingWriter{})
	if _, err := p.SendRaw(context.Background(), []byte("a\r\n\r\n"), "f@y.com"); err == nil {
		t.Error("expected write error, got nil")
	}
}

func TestName(t *testing.T) {
	t.Parallel()

	p := New()
	if p.Name() != "stdout" {
		t.Errorf("Name: got %q, want %q", p.Name(), "stdout")
	}
}

func TestFormatSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		bytes int
		want  string
	}{
		{name: "zero bytes", bytes: 0, want: "0 B"},
		{name: "small bytes", bytes: 512, want: "512 B"},
		{name: "kilobytes", bytes: 46080, want: "45.0 KB"},
		{name: "megabytes", bytes: 1258291, want: "1.2 MB"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := formatSize(tt.bytes)
			if got != tt.want {
				t.Errorf("formatSize(%d): got %q, want %q", tt.bytes, got, tt.want)
			}
		})
	}
}
