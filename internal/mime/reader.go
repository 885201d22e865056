// Package mime reads and rewrites the header block of raw RFC 5322 messages
// without touching their bodies.
package mime

import (
	"bufio"
	"bytes"
	"fmt"
	gomime "mime"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/textproto"
)

var headerBodySeparator = []byte("\r\n\r\n")

// wordDecoder decodes RFC 2047 encoded words using the charsets registered
// by go-message/charset.
var wordDecoder = &gomime.WordDecoder{CharsetReader: message.CharsetReader}

// HeaderField is a single header as it appeared in the message.
type HeaderField struct {
	// Name is the field name with its original casing.
	Name string
	// Value is the unfolded field value, not RFC 2047 decoded.
	Value string

	raw []byte
}

// NewHeaderField creates a field that is serialized as "Name: Value".
// Line breaks in value are replaced with spaces so that a value can never
// start a new header line.
func NewHeaderField(name, value string) HeaderField {
	value = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ").Replace(value)
	return HeaderField{Name: name, Value: value}
}

// Text returns the RFC 2047 decoded value, or the raw value when decoding
// fails.
func (f HeaderField) Text() string {
	decoded, err := wordDecoder.DecodeHeader(f.Value)
	if err != nil {
		return f.Value
	}
	return decoded
}

func (f HeaderField) writeTo(buf *bytes.Buffer) {
	if f.raw != nil {
		buf.Write(f.raw)
		if !bytes.HasSuffix(f.raw, []byte("\r\n")) {
			buf.WriteString("\r\n")
		}
		return
	}
	buf.WriteString(f.Name)
	buf.WriteString(": ")
	buf.WriteString(f.Value)
	buf.WriteString("\r\n")
}

// HeaderList is the ordered list of header fields of a message.
type HeaderList []HeaderField

// Get returns the decoded value of the first field named name, compared
// case-insensitively.
func (l HeaderList) Get(name string) (string, bool) {
	for _, f := range l {
		if strings.EqualFold(f.Name, name) {
			return f.Text(), true
		}
	}
	return "", false
}

// Has reports whether a field named name is present.
func (l HeaderList) Has(name string) bool {
	_, ok := l.Get(name)
	return ok
}

// Without returns a new list without the fields for which drop returns true.
func (l HeaderList) Without(drop func(name string) bool) HeaderList {
	out := make(HeaderList, 0, len(l))
	for _, f := range l {
		if drop(f.Name) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Bytes serializes the list as a header block, without the terminating
// blank line.
func (l HeaderList) Bytes() []byte {
	var buf bytes.Buffer
	for _, f := range l {
		f.writeTo(&buf)
	}
	return buf.Bytes()
}

// FindHeaderBodyBoundary returns the offset of the first byte after the first
// CRLF CRLF sequence in raw.
func FindHeaderBodyBoundary(raw []byte) (int, bool) {
	i := bytes.Index(raw, headerBodySeparator)
	if i < 0 {
		return 0, false
	}
	return i + len(headerBodySeparator), true
}

// ParseHeaders parses the header block at the start of raw. A message with
// no header/body boundary is read as a header block running to the end.
func ParseHeaders(raw []byte) (HeaderList, error) {
	if _, ok := FindHeaderBodyBoundary(raw); !ok {
		raw = append(append(make([]byte, 0, len(raw)+len(headerBodySeparator)), raw...), headerBodySeparator...)
	}
	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message headers: %w", err)
	}

	list := make(HeaderList, 0, h.Len())
	fields := h.Fields()
	for fields.Next() {
		rawField, err := fields.Raw()
		if err != nil {
			return nil, fmt.Errorf("failed to read header field %q: %w", fields.Key(), err)
		}
		list = append(list, HeaderField{
			Name:  fieldName(rawField, fields.Key()),
			Value: fields.Value(),
			raw:   rawField,
		})
	}
	return list, nil
}

// fieldName recovers the name as written; go-message canonicalizes keys.
func fieldName(raw []byte, canonical string) string {
	i := bytes.IndexByte(raw, ':')
	if i < 0 {
		return canonical
	}
	name := strings.TrimSpace(string(raw[:i]))
	if name == "" {
		return canonical
	}
	return name
}

// ExtractEmailAddress returns the bare address of a From/Reply-To style
// value. It never fails; validity is checked by the caller.
func ExtractEmailAddress(value string) string {
	if start := strings.IndexByte(value, '<'); start >= 0 {
		if end := strings.IndexByte(value[start+1:], '>'); end >= 0 {
			return value[start+1 : start+1+end]
		}
	}

	for _, token := range strings.Fields(value) {
		if strings.Contains(token, "@") {
			return token
		}
	}

	return strings.TrimSpace(value)
}

// ExtractDisplayName returns the display name of a From/Reply-To style
// value, falling back to the local part of the address.
func ExtractDisplayName(value string) string {
	if start := strings.IndexByte(value, '<'); start >= 0 {
		name := strings.Trim(strings.TrimSpace(value[:start]), `"`)
		if name != "" {
			return name
		}
		local, _, _ := strings.Cut(ExtractEmailAddress(value), "@")
		return local
	}

	local, _, _ := strings.Cut(value, "@")
	return local
}
