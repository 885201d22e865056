package mime

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidStructure is returned when a message has no header/body boundary.
var ErrInvalidStructure = errors.New("invalid email structure")

// forbiddenHeaders are never copied into a rewritten message. DKIM,
// Return-Path and Message-Id belong to the original sending domain; the SES
// headers are assigned again by the outbound relay; the address headers are
// replaced.
var forbiddenHeaders = map[string]struct{}{
	"from":             {},
	"to":               {},
	"reply-to":         {},
	"dkim-signature":   {},
	"return-path":      {},
	"sender":           {},
	"message-id":       {},
	"x-ses-message-id": {},
	"x-ses-outgoing":   {},
}

// IsForbiddenHeader reports whether name is stripped by RewriteHeaders.
func IsForbiddenHeader(name string) bool {
	_, ok := forbiddenHeaders[strings.ToLower(name)]
	return ok
}

// RewriteHeaders returns a copy of raw whose header block keeps every
// non-forbidden field in order and ends with new From, To and Reply-To
// fields. The body bytes are copied verbatim.
func RewriteHeaders(raw []byte, from, to, replyTo string) ([]byte, error) {
	return rebuild(raw, func(headers HeaderList) HeaderList {
		out := headers.Without(IsForbiddenHeader)
		return append(out,
			NewHeaderField("From", from),
			NewHeaderField("To", to),
			NewHeaderField("Reply-To", replyTo),
		)
	})
}

// PrefixSubject returns a copy of raw with prefix prepended to the first
// Subject field. Messages without a Subject are copied unchanged.
func PrefixSubject(raw []byte, prefix string) ([]byte, error) {
	return rebuild(raw, func(headers HeaderList) HeaderList {
		out := make(HeaderList, 0, len(headers))
		done := false
		for _, f := range headers {
			if !done && strings.EqualFold(f.Name, "Subject") {
				f = NewHeaderField(f.Name, prefix+f.Value)
				done = true
			}
			out = append(out, f)
		}
		return out
	})
}

// DropHeaders returns a copy of raw without any field named in names,
// compared case-insensitively.
func DropHeaders(raw []byte, names ...string) ([]byte, error) {
	return rebuild(raw, func(headers HeaderList) HeaderList {
		return headers.Without(func(name string) bool {
			for _, n := range names {
				if strings.EqualFold(name, n) {
					return true
				}
			}
			return false
		})
	})
}

// Body returns the bytes after the header/body boundary.
func Body(raw []byte) ([]byte, error) {
	offset, ok := FindHeaderBodyBoundary(raw)
	if !ok {
		return nil, fmt.Errorf("%w: could not find header/body boundary", ErrInvalidStructure)
	}
	return raw[offset:], nil
}

// rebuild serializes the header list produced by edit, a blank line and the
// original body into a new buffer. raw is never modified.
func rebuild(raw []byte, edit func(HeaderList) HeaderList) ([]byte, error) {
	offset, ok := FindHeaderBodyBoundary(raw)
	if !ok {
		return nil, fmt.Errorf("%w: could not find header/body boundary", ErrInvalidStructure)
	}

	headers, err := ParseHeaders(raw[:offset])
	if err != nil {
		return nil, err
	}

	block := edit(headers).Bytes()

	var buf bytes.Buffer
	buf.Grow(len(block) + 2 + len(raw) - offset)
	buf.Write(block)
	buf.WriteString("\r\n")
	buf.Write(raw[offset:])

	return buf.Bytes(), nil
}
