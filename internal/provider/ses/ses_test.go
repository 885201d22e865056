package ses

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	"github.com/shineum/ses-forwarder/internal/mime"
	"github.com/shineum/ses-forwarder/internal/provider"
)

const retryRaw = "To: f@y.com\r\n\r\nx"

// mockSESClient implements SendEmailAPI for testing.
type mockSESClient struct {
	sendFn    func(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
	callCount int
	lastInput *sesv2.SendEmailInput
}

func (m *mockSESClient) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	m.callCount++
	m.lastInput = params
	if m.sendFn != nil {
		return m.sendFn(ctx, params, optFns...)
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("test-message-id")}, nil
}

// newTestProvider returns a Provider whose retry delays are short enough
// for tests.
func newTestProvider(client SendEmailAPI, maxRetries int) *Provider {
	p := NewWithClient(client, maxRetries)
	p.minDelay = time.Millisecond
	p.maxDelay = 2 * time.Millisecond
	return p
}

func throttled() error {
	return &smithy.GenericAPIError{Code: "Throttling", Message: "Maximum sending rate exceeded."}
}

func TestName(t *testing.T) {
	t.Parallel()
	p := NewWithClient(&mockSESClient{}, DefaultMaxRetries)
	if got := p.Name(); got != "ses" {
		t.Errorf("Name(): got %q, want %q", got, "ses")
	}
}

func TestSendRaw(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := newTestProvider(mock, DefaultMaxRetries)

	raw := []byte("From: \"Jane\" (via y.com) <fwd@y.com>\r\nTo: contact@y.com\r\n\r\nHello")
	id, err := p.SendRaw(context.Background(), raw, "fwd@y.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "test-message-id" {
		t.Errorf("id: got %q, want %q", id, "test-message-id")
	}

	input := mock.lastInput
	if input.Content.Raw == nil {
		t.Fatal("expected raw email content, got nil")
	}
	if string(input.Content.Raw.Data) != string(raw) {
		t.Errorf("raw data: got %q, want %q", input.Content.Raw.Data, raw)
	}
	if got := aws.ToString(input.FromEmailAddress); got != "fwd@y.com" {
		t.Errorf("FromEmailAddress: got %q, want %q", got, "fwd@y.com")
	}
	if input.Destination == nil || len(input.Destination.ToAddresses) != 1 || input.Destination.ToAddresses[0] != "contact@y.com" {
		t.Errorf("Destination: got %+v, want To [contact@y.com]", input.Destination)
	}
}

func TestSendRawDestinationExcludesCc(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := newTestProvider(mock, DefaultMaxRetries)

	raw := []byte("Cc: outsider@z.com\r\nBcc: hidden@z.com\r\nFrom: fwd@y.com\r\nTo: owner@y.com\r\n\r\nHello")
	if _, err := p.SendRaw(context.Background(), raw, "fwd@y.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	dest := mock.lastInput.Destination
	if dest == nil {
		t.Fatal("expected explicit destination, got nil")
	}
	if len(dest.ToAddresses) != 1 || dest.ToAddresses[0] != "owner@y.com" {
		t.Errorf("ToAddresses: got %v, want [owner@y.com]", dest.ToAddresses)
	}
	if len(dest.CcAddresses) != 0 || len(dest.BccAddresses) != 0 {
		t.Errorf("Cc/Bcc: got %v / %v, want none", dest.CcAddresses, dest.BccAddresses)
	}
}

func TestSendRawWithoutToIsNotSent(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := newTestProvider(mock, DefaultMaxRetries)

	_, err := p.SendRaw(context.Background(), []byte("From: fwd@y.com\r\n\r\nHello"), "fwd@y.com")
	if !errors.Is(err, mime.ErrNoRecipient) {
		t.Errorf("got %v, want ErrNoRecipient", err)
	}
	if mock.lastInput != nil {
		t.Error("SendEmail must not be called without a recipient")
	}
}

func TestSendSimple(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := newTestProvider(mock, DefaultMaxRetries)

	_, err := p.SendSimple(context.Background(), provider.SimpleMessage{
		From:    "\"Jane\" (via y.com) <fwd@y.com>",
		To:      "contact@y.com",
		ReplyTo: "jane@x.com",
		Subject: "Hi",
		Body:    "Hello",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	input := mock.lastInput
	if input.Content.Simple == nil {
		t.Fatal("expected simple email content, got nil")
	}
	if got := *input.Content.Simple.Subject.Data; got != "Hi" {
		t.Errorf("Subject: got %q, want %q", got, "Hi")
	}
	if got := *input.Content.Simple.Body.Text.Data; got != "Hello" {
		t.Errorf("Body: got %q, want %q", got, "Hello")
	}
	if len(input.Destination.ToAddresses) != 1 || input.Destination.ToAddresses[0] != "contact@y.com" {
		t.Errorf("ToAddresses: got %v", input.Destination.ToAddresses)
	}
	if len(input.ReplyToAddresses) != 1 || input.ReplyToAddresses[0] != "jane@x.com" {
		t.Errorf("ReplyToAddresses: got %v", input.ReplyToAddresses)
	}
}

func TestBuildSimpleInputWithoutReplyTo(t *testing.T) {
	t.Parallel()

	input := buildSimpleInput(provider.SimpleMessage{From: "a@b.c", To: "d@e.f", Subject: "s", Body: "b"})
	if input.ReplyToAddresses != nil {
		t.Errorf("ReplyToAddresses: got %v, want nil", input.ReplyToAddresses)
	}
	if got := *input.Content.Simple.Subject.Charset; got != "UTF-8" {
		t.Errorf("Charset: got %q, want UTF-8", got)
	}
}

func TestSendRaw_RetryOnThrottle(t *testing.T) {
	t.Parallel()

	callCount := 0
	mock := &mockSESClient{
		sendFn: func(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
			callCount++
			if callCount <= 2 {
				return nil, throttled()
			}
			return &sesv2.SendEmailOutput{MessageId: aws.String("ok")}, nil
		},
	}
	p := newTestProvider(mock, DefaultMaxRetries)

	id, err := p.SendRaw(context.Background(), []byte(retryRaw), "f@y.com")
	if err != nil {
		t.Fatalf("expected success after retry, got: %v", err)
	}
	if id != "ok" {
		t.Errorf("id: got %q, want %q", id, "ok")
	}
	if callCount != 3 {
		t.Errorf("call count: got %d, want 3", callCount)
	}
}

func TestSendRaw_AllRetriesExhausted(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{
		sendFn: func(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
			return nil, &types.TooManyRequestsException{Message: aws.String("slow down")}
		},
	}
	p := newTestProvider(mock, DefaultMaxRetries)

	_, err := p.SendRaw(context.Background(), []byte(retryRaw), "f@y.com")
	if err == nil {
		t.Fatal("expected error after all retries exhausted")
	}
	if !errors.Is(err, provider.ErrThrottled) {
		t.Errorf("got %v, want ErrThrottled", err)
	}
	if !strings.Contains(err.Error(), "after 3 retries") {
		t.Errorf("error message: got %q, want to contain 'after 3 retries'", err.Error())
	}
	// 1 initial + 3 retries = 4 total
	if mock.callCount != 4 {
		t.Errorf("call count: got %d, want 4", mock.callCount)
	}
}

func TestSendRaw_NonThrottleErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{
		sendFn: func(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
			return nil, &smithy.GenericAPIError{Code: "MessageRejected", Message: "Email address is not verified."}
		},
	}
	p := newTestProvider(mock, DefaultMaxRetries)

	_, err := p.SendRaw(context.Background(), []byte(retryRaw), "f@y.com")
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, provider.ErrThrottled) {
		t.Error("rejection must not be reported as throttling")
	}
	if mock.callCount != 1 {
		t.Errorf("call count: got %d, want 1", mock.callCount)
	}
}

func TestSendRaw_ZeroRetries(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{
		sendFn: func(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
			return nil, throttled()
		},
	}
	p := newTestProvider(mock, 0)

	_, err := p.SendRaw(context.Background(), []byte(retryRaw), "f@y.com")
	if !errors.Is(err, provider.ErrThrottled) {
		t.Errorf("got %v, want ErrThrottled", err)
	}
	if mock.callCount != 1 {
		t.Errorf("call count: got %d, want 1", mock.callCount)
	}
}

func TestSendRaw_ContextCancelled(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{
		sendFn: func(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
			return nil, throttled()
		},
	}
	p := NewWithClient(mock, DefaultMaxRetries)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	_, err := p.SendRaw(ctx, []byte(retryRaw), "f@y.com")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if mock.callCount != 1 {
		t.Errorf("call count: got %d, want 1", mock.callCount)
	}
}

func TestIsThrottle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"throttling code", throttled(), true},
		{"too many requests type", &types.TooManyRequestsException{}, true},
		{"wrapped", errors.Join(errors.New("outer"), throttled()), true},
		{"rejected", &smithy.GenericAPIError{Code: "MessageRejected"}, false},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		if got := isThrottle(tt.err); got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}
