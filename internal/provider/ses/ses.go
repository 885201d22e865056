// Package ses implements a Provider that sends emails via AWS SES v2.
package ses

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"
	"github.com/jpillora/backoff"

	"github.com/shineum/ses-forwarder/internal/mime"
	"github.com/shineum/ses-forwarder/internal/provider"
)

// DefaultMaxRetries is the number of retries after a throttled request.
const DefaultMaxRetries = 3

const (
	minRetryDelay = 1 * time.Second
	maxRetryDelay = 16 * time.Second
)

// throttleCodes are the SES error codes that indicate a rate limit.
var throttleCodes = map[string]struct{}{
	"Throttling":               {},
	"ThrottlingException":      {},
	"TooManyRequestsException": {},
	"MaxSendingRateExceeded":   {},
	"RequestLimitExceeded":     {},
}

// Config holds the configuration for creating a Provider.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	MaxRetries      int
}

// Provider sends emails via the AWS SES v2 API.
type Provider struct {
	client     SendEmailAPI
	maxRetries int
	minDelay   time.Duration
	maxDelay   time.Duration
}

var (
	_ provider.Provider     = (*Provider)(nil)
	_ provider.SimpleSender = (*Provider)(nil)
)

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// New creates a new Provider with the given configuration.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewWithClient(sesv2.NewFromConfig(awsCfg), cfg.MaxRetries), nil
}

// NewWithClient creates a Provider with a custom client, used for testing.
func NewWithClient(client SendEmailAPI, maxRetries int) *Provider {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Provider{
		client:     client,
		maxRetries: maxRetries,
		minDelay:   minRetryDelay,
		maxDelay:   maxRetryDelay,
	}
}

// SendRaw delivers raw unchanged with from as the envelope sender. The
// destination is set to the To header explicitly, otherwise SES would also
// deliver to every Cc and Bcc address in the headers.
func (p *Provider) SendRaw(ctx context.Context, raw []byte, from string) (string, error) {
	to, err := mime.ToAddresses(raw)
	if err != nil {
		return "", err
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination: &types.Destination{
			ToAddresses: to,
		},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{
				Data: raw,
			},
		},
	}
	return p.send(ctx, input)
}

// SendSimple delivers a plain-text message built by SES from msg.
func (p *Provider) SendSimple(ctx context.Context, msg provider.SimpleMessage) (string, error) {
	return p.send(ctx, buildSimpleInput(msg))
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "ses"
}

// send calls SendEmail and retries only when SES throttles the request.
// Any other error is returned immediately.
func (p *Provider) send(ctx context.Context, input *sesv2.SendEmailInput) (string, error) {
	b := &backoff.Backoff{
		Min:    p.minDelay,
		Max:    p.maxDelay,
		Factor: 2,
		Jitter: true,
	}

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			delay := b.Duration()
			slog.Debug("retrying throttled SES request",
				"attempt", attempt,
				"max_retries", p.maxRetries,
				"delay", delay,
			)
			if err := sleepWithContext(ctx, delay); err != nil {
				return "", fmt.Errorf("context cancelled during retry wait: %w", err)
			}
		}

		out, err := p.client.SendEmail(ctx, input)
		if err == nil {
			return aws.ToString(out.MessageId), nil
		}

		if !isThrottle(err) {
			return "", fmt.Errorf("SES API request failed: %w", err)
		}

		lastErr = fmt.Errorf("%w: %w", provider.ErrThrottled, err)
		slog.Warn("SES API throttled",
			"attempt", attempt,
			"error", err,
		)
	}

	return "", fmt.Errorf("SES API request failed after %d retries: %w", p.maxRetries, lastErr)
}

// buildSimpleInput creates a SES SendEmailInput with simple content.
func buildSimpleInput(msg provider.SimpleMessage) *sesv2.SendEmailInput {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From),
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(msg.Subject),
					Charset: aws.String("UTF-8"),
				},
				Body: &types.Body{
					Text: &types.Content{
						Data:    aws.String(msg.Body),
						Charset: aws.String("UTF-8"),
					},
				},
			},
		},
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}
	return input
}

// isThrottle reports whether err is an SES rate-limit error.
func isThrottle(err error) bool {
	var tooMany *types.TooManyRequestsException
	if errors.As(err, &tooMany) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		_, ok := throttleCodes[apiErr.ErrorCode()]
		return ok
	}
	return false
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
