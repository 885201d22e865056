package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shineum/ses-forwarder/internal/app"
	"github.com/shineum/ses-forwarder/internal/config"
	"github.com/shineum/ses-forwarder/internal/smtp"
	"github.com/shineum/ses-forwarder/internal/storage"
	"github.com/shineum/ses-forwarder/internal/storage/memory"
	"github.com/shineum/ses-forwarder/internal/storage/s3store"
	smtptls "github.com/shineum/ses-forwarder/internal/tls"
)

const (
	storeMemory = "memory"
	storeS3     = "s3"

	localBucket = "local"
	localPrefix = "incoming"
)

func newReceiveCommand(opts *rootOptions) *cobra.Command {
	var (
		listen        string
		storeKind     string
		noTLS         bool
		insecureAuth  bool
		maxMessageMiB int
	)

	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Accept mail over SMTP and forward it like the SES receipt rule",
		Long: "Run a local SMTP receiver. Every accepted message is stored, then\n" +
			"routed for its first recipient and forwarded through the configured\n" +
			"provider. Use --store s3 to store into EMAIL_BUCKET.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := opts.cfg
			if listen != "" {
				cfg.Inbound.Listen = listen
			}
			if storeKind == storeMemory {
				if cfg.Storage.Bucket == "" {
					cfg.Storage.Bucket = localBucket
				}
				if cfg.Storage.Prefix == "" {
					cfg.Storage.Prefix = localPrefix
				}
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			store, err := newReadWriter(ctx, storeKind, cfg)
			if err != nil {
				return err
			}
			fwd, err := app.NewForwarder(ctx, cfg, store)
			if err != nil {
				return err
			}

			serverCfg := smtp.ServerConfig{
				ListenAddr:        cfg.Inbound.Listen,
				Hostname:          cfg.Inbound.Hostname,
				Store:             store,
				Bucket:            cfg.Storage.Bucket,
				Prefix:            cfg.Storage.Prefix,
				Router:            fwd,
				AuthUsername:      cfg.Inbound.Username,
				AuthPassword:      cfg.Inbound.Password,
				AllowInsecureAuth: insecureAuth,
				MaxMessageBytes:   cfg.Inbound.MaxMessageSize,
			}
			if maxMessageMiB > 0 {
				serverCfg.MaxMessageBytes = int64(maxMessageMiB) * 1024 * 1024
			}

			tlsMode := "disabled"
			if !noTLS {
				tlsConfig, source, err := smtptls.ServerConfig(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.Inbound.Hostname)
				if err != nil {
					return fmt.Errorf("failed to setup TLS: %w", err)
				}
				serverCfg.TLSConfig = tlsConfig
				tlsMode = string(source)
			}

			slog.Info("starting SMTP receiver",
				"listen", cfg.Inbound.Listen,
				"store", storeKind,
				"provider", cfg.Provider,
				"auth_enabled", cfg.AuthEnabled(),
				"tls_mode", tlsMode,
			)

			if err := smtp.New(serverCfg).ListenAndServe(ctx); err != nil {
				return err
			}
			attrs := []any{"store", storeKind}
			if n, ok := storedCount(store); ok {
				attrs = append(attrs, "stored_messages", n)
			}
			slog.Info("SMTP receiver stopped", attrs...)
			return nil
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address, overrides INBOUND_LISTEN")
	cmd.Flags().StringVar(&storeKind, "store", storeMemory, "where accepted messages are stored (memory or s3)")
	cmd.Flags().BoolVar(&noTLS, "no-tls", false, "do not offer STARTTLS")
	cmd.Flags().BoolVar(&insecureAuth, "insecure-auth", false, "allow AUTH before STARTTLS")
	cmd.Flags().IntVar(&maxMessageMiB, "max-message-mb", 0, "maximum accepted message size in MB")

	return cmd
}

// storedCount reports how many messages an in-process store holds. Other
// stores cannot be counted cheaply.
func storedCount(store storage.ReadWriter) (int, bool) {
	mem, ok := store.(*memory.Store)
	if !ok {
		return 0, false
	}
	return mem.Len(), true
}

func newReadWriter(ctx context.Context, kind string, cfg *config.Config) (storage.ReadWriter, error) {
	switch kind {
	case storeMemory:
		return memory.New(), nil
	case storeS3:
		store, err := s3store.New(ctx, app.StoreConfig(cfg))
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store %q", kind)
	}
}
