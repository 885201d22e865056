// Package smtp implements a local inbound receiver that emulates the SES
// receipt rule: accepted messages are stored and then routed through the
// forwarder.
package smtp

import (
	"crypto/subtle"
	"errors"

	"github.com/emersion/go-sasl"
)

// ErrInvalidCredentials is returned for a failed AUTH attempt.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Authenticator verifies SMTP AUTH credentials against one configured
// account.
type Authenticator struct {
	username string
	password string
}

// NewAuthenticator creates an Authenticator with the given credentials.
// If either username or password is empty, authentication is disabled.
func NewAuthenticator(username, password string) *Authenticator {
	return &Authenticator{
		username: username,
		password: password,
	}
}

// Enabled returns true if authentication credentials are configured.
func (a *Authenticator) Enabled() bool {
	return a.username != "" && a.password != ""
}

// Verify compares username and password in constant time.
func (a *Authenticator) Verify(username, password string) error {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(a.password)) == 1
	if !userOK || !passOK {
		return ErrInvalidCredentials
	}
	return nil
}

// PlainServer returns a SASL PLAIN server that calls onSuccess with the
// authenticated username. The authorization identity must be empty or equal
// to the username.
func (a *Authenticator) PlainServer(onSuccess func(username string)) sasl.Server {
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if identity != "" && identity != username {
			return ErrInvalidCredentials
		}
		if err := a.Verify(username, password); err != nil {
			return err
		}
		onSuccess(username)
		return nil
	})
}
