package graph

// sendMailRequest is the JSON body of a sendMail call built from plain fields.
type sendMailRequest struct {
	Message         sendMailMessage `json:"message"`
	SaveToSentItems bool            `json:"saveToSentItems"`
}

// sendMailMessage represents the message portion of a sendMail request.
type sendMailMessage struct {
	Subject      string      `json:"subject"`
	Body         messageBody `json:"body"`
	ToRecipients []recipient `json:"toRecipients"`
	ReplyTo      []recipient `json:"replyTo,omitempty"`
}

// messageBody represents the body of an email message.
type messageBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

// recipient represents an email recipient.
type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

// emailAddress represents an email address in a Graph API request.
type emailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// tokenResponse represents the OAuth2 token endpoint response.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// graphErrorResponse represents an error response from the Graph API.
type graphErrorResponse struct {
	Error graphError `json:"error"`
}

// graphError represents the error detail in a Graph API error response.
type graphError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newRecipients(addrs ...string) []recipient {
	var out []recipient
	for _, addr := range addrs {
		if addr == "" {
			continue
		}
		out = append(out, recipient{EmailAddress: emailAddress{Address: addr}})
	}
	return out
}
