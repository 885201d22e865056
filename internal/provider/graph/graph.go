// Package graph implements a Provider that sends emails through the
// Microsoft Graph sendMail API of a mailbox in the tenant.
package graph

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jpillora/backoff"

	"github.com/shineum/ses-forwarder/internal/mime"
	"github.com/shineum/ses-forwarder/internal/provider"
)

// maxRetries is the maximum number of retry attempts for transient failures.
const maxRetries = 3

const (
	defaultGraphURL = "https://graph.microsoft.com/v1.0"
	minRetryDelay   = 1 * time.Second
	maxRetryDelay   = 8 * time.Second
)

// Config holds the configuration for creating a Provider.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string
}

// Provider sends messages as the from mailbox using OAuth2 client
// credentials.
type Provider struct {
	baseURL    string
	httpClient *http.Client
	token      *tokenCache
	minDelay   time.Duration
	maxDelay   time.Duration
}

var (
	_ provider.Provider     = (*Provider)(nil)
	_ provider.SimpleSender = (*Provider)(nil)
)

// New creates a new Provider with the given configuration.
func New(cfg Config) *Provider {
	tokenURL := fmt.Sprintf(
		"https://login.microsoftonline.com/%s/oauth2/v2.0/token",
		url.PathEscape(cfg.TenantID),
	)
	client := &http.Client{Timeout: 30 * time.Second}
	return newWithOverrides(cfg, defaultGraphURL, tokenURL, client)
}

// newWithOverrides creates a Provider with custom URLs and HTTP client,
// used for testing.
func newWithOverrides(cfg Config, baseURL, tokenURL string, client *http.Client) *Provider {
	return &Provider{
		baseURL:    baseURL,
		httpClient: client,
		token:      newTokenCache(tokenURL, cfg.ClientID, cfg.ClientSecret, client),
		minDelay:   minRetryDelay,
		maxDelay:   maxRetryDelay,
	}
}

// SendRaw submits raw in MIME format. Graph expects the message base64
// encoded with a text/plain content type and reads recipients from the
// headers, so Cc and Bcc are dropped first and only To is delivered. The
// returned id is the request-id Graph assigns to the call.
func (p *Provider) SendRaw(ctx context.Context, raw []byte, from string) (string, error) {
	if _, err := mime.ToAddresses(raw); err != nil {
		return "", err
	}
	raw, err := mime.DropHeaders(raw, "Cc", "Bcc")
	if err != nil {
		return "", err
	}

	body := make([]byte, base64.StdEncoding.EncodedLen(len(raw)))
	base64.StdEncoding.Encode(body, raw)
	return p.send(ctx, mime.ExtractEmailAddress(from), "text/plain", body)
}

// SendSimple submits a plain-text message built from msg.
func (p *Provider) SendSimple(ctx context.Context, msg provider.SimpleMessage) (string, error) {
	req := &sendMailRequest{
		Message: sendMailMessage{
			Subject:      msg.Subject,
			Body:         messageBody{ContentType: "text", Content: msg.Body},
			ToRecipients: newRecipients(msg.To),
			ReplyTo:      newRecipients(msg.ReplyTo),
		},
		SaveToSentItems: false,
	}
	bodyJSON, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}
	return p.send(ctx, mime.ExtractEmailAddress(msg.From), "application/json", bodyJSON)
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "msgraph"
}

// send posts body to the sendMail endpoint of mailbox. It retries transient
// failures with exponential backoff, honours Retry-After on 429 and
// refreshes the token once on 401.
func (p *Provider) send(ctx context.Context, mailbox, contentType string, body []byte) (string, error) {
	endpoint := fmt.Sprintf("%s/users/%s/sendMail", p.baseURL, url.PathEscape(mailbox))
	b := &backoff.Backoff{Min: p.minDelay, Max: p.maxDelay, Factor: 2}

	var lastErr error
	tokenRefreshed := false

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			slog.Debug("retrying Graph API request",
				"attempt", attempt,
				"max_retries", maxRetries,
			)
		}

		id, err := p.doSendRequest(ctx, endpoint, contentType, body)
		if err == nil {
			return id, nil
		}

		lastErr = err

		var graphErr *sendError
		if !errors.As(err, &graphErr) {
			return "", err
		}

		switch {
		case graphErr.permanent:
			return "", graphErr
		case graphErr.statusCode == http.StatusUnauthorized && !tokenRefreshed:
			slog.Info("refreshing Graph API token after 401")
			if _, refreshErr := p.token.ForceRefresh(ctx); refreshErr != nil {
				return "", fmt.Errorf("token refresh failed: %w", refreshErr)
			}
			tokenRefreshed = true
		case graphErr.statusCode == http.StatusTooManyRequests:
			delay := retryAfterDelay(graphErr.retryAfter, b.Duration())
			slog.Info("rate limited by Graph API",
				"retry_after", delay,
			)
			if err := sleepWithContext(ctx, delay); err != nil {
				return "", fmt.Errorf("context cancelled during retry wait: %w", err)
			}
		case graphErr.transient:
			delay := b.Duration()
			slog.Info("transient Graph API error, retrying",
				"status", graphErr.statusCode,
				"delay", delay,
			)
			if err := sleepWithContext(ctx, delay); err != nil {
				return "", fmt.Errorf("context cancelled during retry wait: %w", err)
			}
		default:
			return "", graphErr
		}
	}

	return "", fmt.Errorf("Graph API request failed after %d retries: %w", maxRetries, lastErr)
}

// doSendRequest performs a single sendMail call.
func (p *Provider) doSendRequest(ctx context.Context, endpoint, contentType string, body []byte) (string, error) {
	token, err := p.token.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get access token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("HTTP request failed: %w", ctx.Err())
		}
		return "", &sendError{
			message:   fmt.Sprintf("HTTP request failed: %v", err),
			transient: true,
		}
	}
	defer resp.Body.Close()

	// HTTP 202 Accepted is success for sendMail
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return resp.Header.Get("request-id"), nil
	}

	respBody, _ := io.ReadAll(resp.Body)

	var graphErrResp graphErrorResponse
	if jsonErr := json.Unmarshal(respBody, &graphErrResp); jsonErr == nil && graphErrResp.Error.Message != "" {
		return "", classifyError(resp.StatusCode, graphErrResp.Error.Message, resp.Header.Get("Retry-After"))
	}

	return "", classifyError(resp.StatusCode, string(respBody), resp.Header.Get("Retry-After"))
}

// sendError is a failed sendMail call classified for retry decisions.
type sendError struct {
	message    string
	statusCode int
	permanent  bool
	transient  bool
	retryAfter string
}

func (e *sendError) Error() string {
	return fmt.Sprintf("Graph API error (HTTP %d): %s", e.statusCode, e.message)
}

// Unwrap exposes rate limiting as provider.ErrThrottled.
func (e *sendError) Unwrap() error {
	if e.statusCode == http.StatusTooManyRequests {
		return provider.ErrThrottled
	}
	return nil
}

// classifyError categorizes an HTTP error response for retry decisions.
func classifyError(statusCode int, message, retryAfter string) *sendError {
	err := &sendError{
		message:    message,
		statusCode: statusCode,
		retryAfter: retryAfter,
	}

	switch {
	case statusCode == http.StatusUnauthorized,
		statusCode == http.StatusTooManyRequests,
		statusCode >= 500:
		err.transient = true
	default:
		err.permanent = true
	}

	return err
}

// retryAfterDelay returns the Retry-After delay in seconds, or fallback when
// the header is missing or unparseable.
func retryAfterDelay(retryAfter string, fallback time.Duration) time.Duration {
	seconds, err := strconv.Atoi(retryAfter)
	if err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return fallback
}

// sleepWithContext waits for the specified duration or until the context is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
