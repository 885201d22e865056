// Package routing decides whether an inbound message is relayed and builds
// the sender identity shown on the forwarded copy.
package routing

import (
	"fmt"
	gomime "mime"
	"strings"
	"unicode/utf8"
)

// SecondaryPrefix is prepended to the subject of secondary forwards.
const SecondaryPrefix = "[INFO] "

// skipPrefixes are automated report mailboxes that never reach a human inbox.
var skipPrefixes = []string{"dmarc@", "reports@"}

// Action is the forward-or-skip outcome of classification.
type Action int

const (
	Forward Action = iota
	Skip
)

func (a Action) String() string {
	switch a {
	case Forward:
		return "forward"
	case Skip:
		return "skip"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Tier refines a Forward decision when a primary allow-list is configured.
type Tier int

const (
	Untiered Tier = iota
	Primary
	Secondary
)

func (t Tier) String() string {
	switch t {
	case Untiered:
		return "untiered"
	case Primary:
		return "primary"
	case Secondary:
		return "secondary"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// Decision is the result of classifying a destination address.
type Decision struct {
	Action Action
	Tier   Tier
}

// Classify returns Skip for report addresses (dmarc@, reports@, matched
// case-sensitively against the full address) and Forward otherwise.
func Classify(destination string) Decision {
	for _, prefix := range skipPrefixes {
		if strings.HasPrefix(destination, prefix) {
			return Decision{Action: Skip}
		}
	}
	return Decision{Action: Forward}
}

// Policy is the routing configuration. The zero value applies the skip-list
// only.
type Policy struct {
	// PrimaryLocalParts, when non-empty, tags forwards to these local parts
	// as Primary and every other forward as Secondary.
	PrimaryLocalParts []string
}

// Classify applies the skip-list and then, if configured, the primary
// allow-list. Local parts are compared case-insensitively.
func (p Policy) Classify(destination string) Decision {
	d := Classify(destination)
	if d.Action == Skip || len(p.PrimaryLocalParts) == 0 {
		return d
	}

	local, _, _ := strings.Cut(destination, "@")
	for _, primary := range p.PrimaryLocalParts {
		if strings.EqualFold(local, primary) {
			d.Tier = Primary
			return d
		}
	}
	d.Tier = Secondary
	return d
}

// SubjectPrefix returns the prefix to add to the subject for d, or "".
func (p Policy) SubjectPrefix(d Decision) string {
	if d.Action == Forward && d.Tier == Secondary {
		return SecondaryPrefix
	}
	return ""
}

// FromDisplay builds the From header of a forwarded copy:
//
//	"Jane Doe" (via example.com) <forwarder@example.com>
//
// Names outside ASCII are written as an RFC 2047 encoded word.
func FromDisplay(displayName, siteDomain, forwarderAddress string) string {
	return fmt.Sprintf("%s (via %s) <%s>", quoteName(displayName), siteDomain, forwarderAddress)
}

func quoteName(name string) string {
	if !isASCII(name) {
		if !utf8.ValidString(name) {
			name = strings.ToValidUTF8(name, "�")
		}
		return gomime.QEncoding.Encode("utf-8", name)
	}

	var b strings.Builder
	b.Grow(len(name) + 2)
	b.WriteByte('"')
	for i := 0; i < len(name); i++ {
		if name[i] == '"' || name[i] == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(name[i])
	}
	b.WriteByte('"')
	return b.String()
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
