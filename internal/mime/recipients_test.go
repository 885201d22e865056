package mime

import (
	"errors"
	"testing"
)

func TestToAddresses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    []string
		wantErr error
	}{
		{
			name: "single address",
			raw:  "To: owner@y.com\r\n\r\nbody",
			want: []string{"owner@y.com"},
		},
		{
			name: "list with display names",
			raw:  "To: A <a@x.com>, b@x.com\r\nSubject: s\r\n\r\n",
			want: []string{"a@x.com", "b@x.com"},
		},
		{
			name: "cc and bcc are ignored",
			raw:  "Cc: outsider@z.com\r\nTo: owner@y.com\r\nBcc: hidden@z.com\r\n\r\n",
			want: []string{"owner@y.com"},
		},
		{
			name:    "no to header",
			raw:     "Cc: outsider@z.com\r\nSubject: s\r\n\r\n",
			wantErr: ErrNoRecipient,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ToAddresses([]byte(tt.raw))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("got %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("address %d: got %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestToAddressesUnparseable(t *testing.T) {
	t.Parallel()

	if _, err := ToAddresses([]byte("To: <<<\r\n\r\n")); err == nil {
		t.Error("expected error, got nil")
	}
}

func TestToAddressesAfterRewriteDropsOriginalCc(t *testing.T) {
	t.Parallel()

	inbound := []byte("From: jane@x.com\r\n" +
		"To: contact@y.com\r\n" +
		"Cc: outsider@z.com\r\n" +
		"Subject: Hi\r\n" +
		"\r\n" +
		"Hello")

	out, err := RewriteHeaders(inbound, `"jane" (via y.com) <fwd@y.com>`, "owner@y.com", "jane@x.com")
	if err != nil {
		t.Fatalf("RewriteHeaders: %v", err)
	}

	got, err := ToAddresses(out)
	if err != nil {
		t.Fatalf("ToAddresses: %v", err)
	}
	if len(got) != 1 || got[0] != "owner@y.com" {
		t.Errorf("got %v, want [owner@y.com]", got)
	}
}
