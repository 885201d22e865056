package mime

import (
	"errors"
	"fmt"

	"github.com/emersion/go-message/mail"
)

// ErrNoRecipient is returned when a message has no usable To header.
var ErrNoRecipient = errors.New("message has no To recipient")

// ToAddresses returns the addresses of the first To header of raw. Cc and
// Bcc are ignored: a forwarded copy is only delivered to the address the
// rewriter placed in To.
func ToAddresses(raw []byte) ([]string, error) {
	headers, err := ParseHeaders(raw)
	if err != nil {
		return nil, err
	}

	value, ok := headers.Get("To")
	if !ok {
		return nil, ErrNoRecipient
	}
	list, err := mail.ParseAddressList(value)
	if err != nil {
		return nil, fmt.Errorf("failed to parse To header: %w", err)
	}

	addrs := make([]string, 0, len(list))
	for _, addr := range list {
		addrs = append(addrs, addr.Address)
	}
	if len(addrs) == 0 {
		return nil, ErrNoRecipient
	}
	return addrs, nil
}
