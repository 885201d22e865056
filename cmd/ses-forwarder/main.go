// Package main is the Lambda entry point of the SES forwarder.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/shineum/ses-forwarder/internal/app"
	"github.com/shineum/ses-forwarder/internal/config"
	"github.com/shineum/ses-forwarder/internal/handler"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	app.SetupLogger(cfg.Logging.Level)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	fwd, err := app.Build(context.Background(), cfg)
	if err != nil {
		slog.Error("failed to initialize forwarder", "error", err)
		os.Exit(1)
	}

	slog.Info("starting ses-forwarder",
		"bucket", cfg.Storage.Bucket,
		"prefix", cfg.Storage.Prefix,
		"forward_to", cfg.Forward.To,
		"provider", cfg.Provider,
		"mode", cfg.Forward.Mode,
		"max_size_mb", cfg.Forward.MaxSizeMB,
	)

	lambda.Start(handler.New(fwd).Handle)
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}
