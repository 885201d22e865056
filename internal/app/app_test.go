package app

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"testing"

	"github.com/shineum/ses-forwarder/internal/config"
	"github.com/shineum/ses-forwarder/internal/forwarder"
	"github.com/shineum/ses-forwarder/internal/storage/memory"
	"github.com/shineum/ses-forwarder/internal/storage/s3store"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.level); got != tt.want {
			t.Errorf("ParseLevel(%q): got %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestSetupLoggerTo(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	SetupLoggerTo(&buf, "warn")

	slog.Info("hidden")
	slog.Warn("shown", "message_id", "abc")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record written at warn level: %s", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) || !strings.Contains(out, `"message_id":"abc"`) {
		t.Errorf("expected JSON warn record, got %s", out)
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Storage: config.StorageConfig{Bucket: "mail-bucket", Prefix: "incoming"},
		Forward: config.ForwardConfig{
			To:                "owner@example.com",
			MaxSizeMB:         7,
			SiteDomain:        "example.com",
			Mode:              "simple",
			PrimaryLocalParts: []string{"contact"},
		},
		Provider: "stdout",
	}
}

func TestForwarderConfig(t *testing.T) {
	t.Parallel()

	got := ForwarderConfig(testConfig())

	if got.Bucket != "mail-bucket" || got.Prefix != "incoming" {
		t.Errorf("location: got %q/%q", got.Bucket, got.Prefix)
	}
	if got.ForwardTo != "owner@example.com" {
		t.Errorf("ForwardTo: got %q", got.ForwardTo)
	}
	if got.MaxSizeMB != 7 {
		t.Errorf("MaxSizeMB: got %d, want 7", got.MaxSizeMB)
	}
	if got.ForwarderAddress != "forwarder@example.com" {
		t.Errorf("ForwarderAddress: got %q, want %q", got.ForwarderAddress, "forwarder@example.com")
	}
	if got.Mode != forwarder.ModeSimple {
		t.Errorf("Mode: got %q, want %q", got.Mode, forwarder.ModeSimple)
	}
	if !reflect.DeepEqual(got.Policy.PrimaryLocalParts, []string{"contact"}) {
		t.Errorf("Policy: got %v", got.Policy.PrimaryLocalParts)
	}
}

func TestStoreConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		storage config.StorageConfig
		want    s3store.Config
	}{
		{
			name:    "default credential chain",
			storage: config.StorageConfig{Region: "eu-west-1"},
			want:    s3store.Config{Region: "eu-west-1"},
		},
		{
			name:    "storage keys",
			storage: config.StorageConfig{Region: "eu-west-1", AccessKeyID: "s3-key", SecretAccessKey: "s3-secret"},
			want:    s3store.Config{Region: "eu-west-1", AccessKeyID: "s3-key", SecretAccessKey: "s3-secret"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := testConfig()
			cfg.Storage = tt.storage
			cfg.SES.AccessKeyID = "ses-key"
			cfg.SES.SecretAccessKey = "ses-secret"

			if got := StoreConfig(cfg); got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestSelectProvider(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		mutate   func(*config.Config)
		wantName string
		wantErr  error
	}{
		{name: "stdout", mutate: func(*config.Config) {}, wantName: "stdout"},
		{
			name: "graph",
			mutate: func(c *config.Config) {
				c.Provider = "graph"
				c.Graph = config.GraphConfig{TenantID: "t", ClientID: "c", ClientSecret: "s"}
			},
			wantName: "msgraph",
		},
		{
			name: "smtp",
			mutate: func(c *config.Config) {
				c.Provider = "smtp"
				c.Relay.Addr = "localhost:2525"
			},
			wantName: "smtp",
		},
		{name: "graph without credentials", mutate: func(c *config.Config) { c.Provider = "graph" }, wantErr: config.ErrMissingValue},
		{name: "smtp without addr", mutate: func(c *config.Config) { c.Provider = "smtp" }, wantErr: config.ErrMissingValue},
		{name: "unknown", mutate: func(c *config.Config) { c.Provider = "fax" }, wantErr: config.ErrInvalidValue},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := testConfig()
			tt.mutate(cfg)

			p, err := SelectProvider(context.Background(), cfg)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("got %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.Name() != tt.wantName {
				t.Errorf("Name(): got %q, want %q", p.Name(), tt.wantName)
			}
		})
	}
}

func TestNewForwarder(t *testing.T) {
	t.Parallel()

	f, err := NewForwarder(context.Background(), testConfig(), memory.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f == nil {
		t.Fatal("expected forwarder, got nil")
	}
}
