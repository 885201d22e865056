// Package parser extracts sender identity and simple text content from raw
// RFC 5322 messages.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"

	"github.com/shineum/ses-forwarder/internal/domain"
	"github.com/shineum/ses-forwarder/internal/mime"
)

// DefaultSubject is used when a message has no Subject header.
const DefaultSubject = "Forwarded Email"

// errNoTextBody is returned by textBody when no part carries text.
var errNoTextBody = errors.New("no text body found")

// Parse reads the subject, sender address and text body of a raw message.
// From is mandatory. When the body cannot be extracted, the whole message is
// used, decoded as UTF-8 with invalid sequences replaced.
func Parse(raw []byte) (*domain.ParsedEmail, error) {
	headers, err := mime.ParseHeaders(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	subjectText, ok := headers.Get("Subject")
	if !ok {
		subjectText = DefaultSubject
	}

	fromValue, ok := headers.Get("From")
	if !ok {
		return nil, fmt.Errorf("%w: From", ErrMissingHeader)
	}
	from, err := domain.NewEmailAddress(mime.ExtractEmailAddress(fromValue))
	if err != nil {
		return nil, fmt.Errorf("failed to read From header: %w", err)
	}

	bodyText, err := textBody(raw)
	if err != nil {
		slog.Warn("failed to extract text body, using raw message",
			"error", err,
		)
		bodyText = strings.ToValidUTF8(string(raw), "�")
	}

	subject, err := domain.NewSubject(subjectText)
	if err != nil {
		return nil, err
	}
	body, err := domain.NewBody(strings.TrimSpace(bodyText))
	if err != nil {
		return nil, err
	}

	return &domain.ParsedEmail{
		Subject: subject,
		From:    from,
		Body:    body,
	}, nil
}

// textBody walks the MIME tree and returns the first text/plain part, or the
// first text/html part when there is no plain text. Transfer encodings and
// charsets are decoded by go-message.
func textBody(raw []byte) (string, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !isRecoverable(err) {
		return "", fmt.Errorf("failed to read message: %w", err)
	}

	var text, html string
	walkErr := entity.Walk(func(_ []int, part *message.Entity, err error) error {
		if err != nil && !isRecoverable(err) {
			return err
		}

		mediaType, _, ctErr := part.Header.ContentType()
		if ctErr != nil {
			mediaType = "text/plain"
		}
		if strings.HasPrefix(mediaType, "multipart/") {
			return nil
		}

		disposition, _, _ := part.Header.ContentDisposition()
		if disposition == "attachment" {
			return nil
		}

		switch {
		case mediaType == "text/plain" && text == "":
			content, err := io.ReadAll(part.Body)
			if err != nil {
				return fmt.Errorf("failed to read text part: %w", err)
			}
			text = string(content)
		case mediaType == "text/html" && html == "":
			content, err := io.ReadAll(part.Body)
			if err != nil {
				return fmt.Errorf("failed to read html part: %w", err)
			}
			html = string(content)
		case part == entity && text == "":
			slog.Debug("unrecognized top-level content type, reading as text",
				"content_type", mediaType,
			)
			content, err := io.ReadAll(part.Body)
			if err != nil {
				return fmt.Errorf("failed to read message body: %w", err)
			}
			text = string(content)
		}
		return nil
	})
	if walkErr != nil {
		return "", walkErr
	}

	switch {
	case text != "":
		return text, nil
	case html != "":
		return html, nil
	case entity.MultipartReader() == nil:
		// A single-part message whose body is simply empty.
		return "", nil
	default:
		return "", errNoTextBody
	}
}

// isRecoverable reports whether go-message returned a usable entity along
// with err.
func isRecoverable(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}
