// Package app wires configuration into the content store, the outbound
// provider and the forwarder.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/shineum/ses-forwarder/internal/config"
	"github.com/shineum/ses-forwarder/internal/forwarder"
	"github.com/shineum/ses-forwarder/internal/provider"
	"github.com/shineum/ses-forwarder/internal/provider/graph"
	"github.com/shineum/ses-forwarder/internal/provider/ses"
	"github.com/shineum/ses-forwarder/internal/provider/smtprelay"
	"github.com/shineum/ses-forwarder/internal/provider/stdout"
	"github.com/shineum/ses-forwarder/internal/routing"
	"github.com/shineum/ses-forwarder/internal/storage"
	"github.com/shineum/ses-forwarder/internal/storage/s3store"
)

// SetupLogger configures the global slog logger with JSON output on stdout
// and the specified log level.
func SetupLogger(level string) {
	SetupLoggerTo(os.Stdout, level)
}

// SetupLoggerTo is SetupLogger with an explicit destination.
func SetupLoggerTo(w io.Writer, level string) {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})
	slog.SetDefault(slog.New(handler))
}

// ParseLevel maps debug, info, warn and error to slog levels. Anything else
// is info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Build creates the S3 store and the configured provider and returns the
// forwarder that uses them. cfg must have passed Validate.
func Build(ctx context.Context, cfg *config.Config) (*forwarder.Forwarder, error) {
	store, err := s3store.New(ctx, StoreConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 store: %w", err)
	}

	p, err := SelectProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return forwarder.New(store, p, ForwarderConfig(cfg)), nil
}

// StoreConfig translates cfg into S3 store settings. The store has its own
// keys and never reuses the SES ones; without keys it uses the default AWS
// credential chain.
func StoreConfig(cfg *config.Config) s3store.Config {
	return s3store.Config{
		Region:          cfg.Storage.Region,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
	}
}

// ForwarderConfig translates cfg into forwarder settings.
func ForwarderConfig(cfg *config.Config) forwarder.Config {
	return forwarder.Config{
		Bucket:           cfg.Storage.Bucket,
		Prefix:           cfg.Storage.Prefix,
		ForwardTo:        cfg.Forward.To,
		MaxSizeMB:        cfg.Forward.MaxSizeMB,
		SiteDomain:       cfg.Forward.SiteDomain,
		ForwarderAddress: cfg.ForwarderAddress(),
		Mode:             forwarder.Mode(cfg.Forward.Mode),
		Policy:           routing.Policy{PrimaryLocalParts: cfg.Forward.PrimaryLocalParts},
	}
}

// NewForwarder builds a forwarder over an existing store, selecting the
// provider from cfg.
func NewForwarder(ctx context.Context, cfg *config.Config, store storage.Store) (*forwarder.Forwarder, error) {
	p, err := SelectProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return forwarder.New(store, p, ForwarderConfig(cfg)), nil
}

// SelectProvider chooses the email delivery backend based on configuration.
func SelectProvider(ctx context.Context, cfg *config.Config) (provider.Provider, error) {
	switch cfg.Provider {
	case "ses":
		slog.Info("using AWS SES provider",
			"region", cfg.SES.Region,
			"max_retries", cfg.SES.MaxRetries,
		)
		p, err := ses.New(ctx, ses.Config{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
			MaxRetries:      cfg.SES.MaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create SES provider: %w", err)
		}
		return p, nil

	case "graph":
		if !cfg.GraphConfigured() {
			return nil, fmt.Errorf("%w: graph provider requires GRAPH_TENANT_ID, GRAPH_CLIENT_ID and GRAPH_CLIENT_SECRET", config.ErrMissingValue)
		}
		slog.Info("using Microsoft Graph provider")
		return graph.New(graph.Config{
			TenantID:     cfg.Graph.TenantID,
			ClientID:     cfg.Graph.ClientID,
			ClientSecret: cfg.Graph.ClientSecret,
		}), nil

	case "smtp":
		if cfg.Relay.Addr == "" {
			return nil, fmt.Errorf("%w: SMTP_RELAY_ADDR", config.ErrMissingValue)
		}
		slog.Info("using SMTP relay provider",
			"addr", cfg.Relay.Addr,
			"auth_enabled", cfg.Relay.Username != "",
			"starttls", cfg.Relay.StartTLS,
		)
		return smtprelay.New(smtprelay.Config{
			Addr:     cfg.Relay.Addr,
			Username: cfg.Relay.Username,
			Password: cfg.Relay.Password,
			StartTLS: cfg.Relay.StartTLS,
		}), nil

	case "stdout":
		slog.Info("using stdout provider")
		return stdout.New(), nil

	default:
		return nil, fmt.Errorf("%w: unknown provider %q", config.ErrInvalidValue, cfg.Provider)
	}
}
