package parser

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shineum/ses-forwarder/internal/domain"
	"github.com/shineum/ses-forwarder/internal/mime"
)

// ErrMissingHeader is returned when a required header is absent.
var ErrMissingHeader = errors.New("missing header")

// identityHeaders lists the headers consulted for the reply identity, in
// order of preference.
var identityHeaders = []string{"Reply-To", "From"}

// ResolveReplyIdentity returns the address replies to a forwarded copy should
// reach and the display name of the original author. An explicit Reply-To
// wins over From, so replies reach the real author even when From is a
// no-reply address.
func ResolveReplyIdentity(raw []byte) (domain.Identity, error) {
	headers, err := mime.ParseHeaders(raw)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("failed to parse message: %w", err)
	}
	return resolveIdentity(headers)
}

func resolveIdentity(headers mime.HeaderList) (domain.Identity, error) {
	for _, name := range identityHeaders {
		value, ok := headers.Get(name)
		if !ok || strings.TrimSpace(value) == "" {
			continue
		}

		addr, err := domain.NewEmailAddress(mime.ExtractEmailAddress(value))
		if err != nil {
			return domain.Identity{}, fmt.Errorf("failed to read %s header: %w", name, err)
		}

		return domain.Identity{
			Address:     addr,
			DisplayName: mime.ExtractDisplayName(value),
		}, nil
	}

	return domain.Identity{}, fmt.Errorf("%w: neither Reply-To nor From present", ErrMissingHeader)
}
