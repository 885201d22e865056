package parser

import (
	"errors"
	"testing"

	"github.com/shineum/ses-forwarder/internal/domain"
)

func TestResolveReplyIdentity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		raw      string
		wantAddr string
		wantName string
	}{
		{
			name:     "reply-to wins over from",
			raw:      "From: noreply@x.com\r\nReply-To: \"Jane\" <jane@x.com>\r\n\r\nHello",
			wantAddr: "jane@x.com",
			wantName: "Jane",
		},
		{
			name:     "from only",
			raw:      "From: John Doe <john@example.com>\r\n\r\nHello",
			wantAddr: "john@example.com",
			wantName: "John Doe",
		},
		{
			name:     "bare address falls back to local part",
			raw:      "From: john@example.com\r\n\r\nHello",
			wantAddr: "john@example.com",
			wantName: "john",
		},
		{
			name:     "header names are case-insensitive",
			raw:      "FROM: a@x.com\r\nreply-to: b@y.com\r\n\r\n",
			wantAddr: "b@y.com",
			wantName: "b",
		},
		{
			name:     "blank reply-to is ignored",
			raw:      "From: a@x.com\r\nReply-To: \r\n\r\n",
			wantAddr: "a@x.com",
			wantName: "a",
		},
		{
			name:     "encoded display name is decoded",
			raw:      "From: =?UTF-8?Q?Jos=C3=A9?= <jose@example.com>\r\n\r\n",
			wantAddr: "jose@example.com",
			wantName: "José",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			id, err := ResolveReplyIdentity([]byte(tt.raw))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if id.Address.String() != tt.wantAddr {
				t.Errorf("Address: got %q, want %q", id.Address, tt.wantAddr)
			}
			if id.DisplayName != tt.wantName {
				t.Errorf("DisplayName: got %q, want %q", id.DisplayName, tt.wantName)
			}
		})
	}
}

func TestResolveReplyIdentityMissingHeaders(t *testing.T) {
	t.Parallel()

	_, err := ResolveReplyIdentity([]byte("Subject: hi\r\n\r\nbody"))
	if !errors.Is(err, ErrMissingHeader) {
		t.Errorf("got %v, want ErrMissingHeader", err)
	}
}

func TestResolveReplyIdentityInvalidAddress(t *testing.T) {
	t.Parallel()

	_, err := ResolveReplyIdentity([]byte("From: nobody\r\n\r\nbody"))
	if !errors.Is(err, domain.ErrInvalidEmail) {
		t.Errorf("got %v, want ErrInvalidEmail", err)
	}
}
