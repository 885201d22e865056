// Package provider defines the interface for outbound mail relays.
package provider

import (
	"context"
	"errors"
)

// ErrThrottled is wrapped by providers when the relay rejected a request
// because of its sending rate.
var ErrThrottled = errors.New("sending throttled")

// Provider is the interface that outbound relays must implement.
// Each provider accepts a complete raw MIME message and a from-address
// and hands it to the target service (e.g., SES, Microsoft Graph, SMTP).
type Provider interface {
	// SendRaw delivers raw as-is. Recipients are taken from the message
	// headers unless the provider documents otherwise. It returns the id
	// the relay assigned to the message.
	SendRaw(ctx context.Context, raw []byte, from string) (string, error)

	// Name returns the human-readable name of this provider.
	Name() string
}

// SimpleMessage is a plain-text message built from parsed fields.
type SimpleMessage struct {
	From    string
	To      string
	ReplyTo string
	Subject string
	Body    string
}

// SimpleSender is implemented by providers that can build and send a
// message from plain fields instead of raw MIME.
type SimpleSender interface {
	SendSimple(ctx context.Context, msg SimpleMessage) (string, error)
}
