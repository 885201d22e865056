// Package trigger decodes SES receipt notifications into the message id and
// destination address of a stored inbound message.
package trigger

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"
)

var (
	// ErrNoRecords is returned for a notification without records.
	ErrNoRecords = errors.New("event contains no records")
	// ErrNoDestination is returned when the first record has no destination.
	ErrNoDestination = errors.New("record contains no destination")
)

// Trigger identifies one stored inbound message.
type Trigger struct {
	MessageID   string
	Destination string
	Source      string
}

// Decode returns the first record of event. Further records and further
// destinations are ignored; SES delivers one record per invocation for
// receipt rules.
func Decode(event events.SimpleEmailEvent) (Trigger, error) {
	if len(event.Records) == 0 {
		return Trigger{}, ErrNoRecords
	}
	if n := len(event.Records); n > 1 {
		slog.Warn("event contains multiple records, processing the first only",
			"records", n,
		)
	}

	mail := event.Records[0].SES.Mail
	if len(mail.Destination) == 0 {
		return Trigger{}, fmt.Errorf("%w: message %q", ErrNoDestination, mail.MessageID)
	}

	return Trigger{
		MessageID:   mail.MessageID,
		Destination: mail.Destination[0],
		Source:      mail.Source,
	}, nil
}

// DecodeJSON decodes a raw SES notification payload.
func DecodeJSON(data []byte) (Trigger, error) {
	var event events.SimpleEmailEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return Trigger{}, fmt.Errorf("failed to parse SES event: %w", err)
	}
	return Decode(event)
}
