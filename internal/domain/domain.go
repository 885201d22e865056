// Package domain defines the validated value types that flow through the
// forwarding pipeline.
package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Validation error kinds. Constructors wrap one of these together with the
// offending value, so callers can match with errors.Is.
var (
	ErrInvalidEmail      = errors.New("invalid email address")
	ErrInvalidMessageID  = errors.New("invalid message id")
	ErrInvalidStorageKey = errors.New("invalid storage key")
	ErrInvalidSubject    = errors.New("invalid subject")
	ErrInvalidBody       = errors.New("invalid email body")
)

// EmailAddress is a mailbox address that passed the shape check.
// The check is deliberately weak: it requires an "@" and more than three
// bytes, nothing else.
type EmailAddress struct {
	value string
}

// NewEmailAddress validates raw and wraps it.
func NewEmailAddress(raw string) (EmailAddress, error) {
	if !strings.Contains(raw, "@") || len(raw) <= 3 {
		return EmailAddress{}, fmt.Errorf("%w: %q", ErrInvalidEmail, raw)
	}
	return EmailAddress{value: raw}, nil
}

// String returns the address as given.
func (a EmailAddress) String() string {
	return a.value
}

// LocalPart returns everything before the first "@".
func (a EmailAddress) LocalPart() string {
	local, _, _ := strings.Cut(a.value, "@")
	return local
}

// IsZero reports whether a is the zero value.
func (a EmailAddress) IsZero() bool {
	return a.value == ""
}

// MessageID identifies a message stored by the receiving service.
type MessageID struct {
	value string
}

// NewMessageID rejects the empty string.
func NewMessageID(raw string) (MessageID, error) {
	if raw == "" {
		return MessageID{}, fmt.Errorf("%w: empty", ErrInvalidMessageID)
	}
	return MessageID{value: raw}, nil
}

func (m MessageID) String() string {
	return m.value
}

// StorageKey locates a raw message inside the content store.
type StorageKey struct {
	value string
}

// NewStorageKey rejects the empty string.
func NewStorageKey(raw string) (StorageKey, error) {
	if raw == "" {
		return StorageKey{}, fmt.Errorf("%w: empty", ErrInvalidStorageKey)
	}
	return StorageKey{value: raw}, nil
}

// StorageKeyFor builds the key "prefix/id" used by the receipt rule.
func StorageKeyFor(prefix string, id MessageID) (StorageKey, error) {
	return NewStorageKey(prefix + "/" + id.String())
}

func (k StorageKey) String() string {
	return k.value
}

// Subject is a free-text subject line. Any string is accepted.
type Subject struct {
	value string
}

// NewSubject never fails; the error return keeps the constructor shape
// uniform with the other value types.
func NewSubject(raw string) (Subject, error) {
	return Subject{value: raw}, nil
}

func (s Subject) String() string {
	return s.value
}

// Body is a free-text message body. Any string is accepted.
type Body struct {
	value string
}

// NewBody never fails.
func NewBody(raw string) (Body, error) {
	return Body{value: raw}, nil
}

func (b Body) String() string {
	return b.value
}

// Identity is the sender identity resolved from a message: the address that
// replies should reach and the name shown to the recipient.
type Identity struct {
	Address     EmailAddress
	DisplayName string
}

// ParsedEmail holds the fields used when a message is re-sent as a simple
// (non-MIME-preserving) email.
type ParsedEmail struct {
	Subject Subject
	From    EmailAddress
	Body    Body
}
