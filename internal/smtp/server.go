package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/emersion/go-smtp"

	"github.com/shineum/ses-forwarder/internal/storage"
)

// shutdownTimeout is the maximum time to wait for in-flight connections
// during graceful shutdown.
const shutdownTimeout = 30 * time.Second

const (
	defaultMaxMessageBytes = 10 * 1024 * 1024
	connectionTimeout      = 60 * time.Second
	maxRecipients          = 50
)

// ServerConfig holds the configuration for the receiver.
type ServerConfig struct {
	// ListenAddr is the address to listen on (e.g., ":2525").
	ListenAddr string

	// Hostname is the server hostname used in the greeting and EHLO responses.
	Hostname string

	// Store receives every accepted message under Bucket and Prefix.
	Store  storage.Writer
	Bucket string
	Prefix string

	// Router is notified after a message is stored.
	Router Router

	// TLSConfig is the TLS configuration for STARTTLS support.
	// If nil, STARTTLS is not advertised.
	TLSConfig *tls.Config

	// AuthUsername and AuthPassword configure SMTP AUTH PLAIN.
	// If either is empty, authentication is not required.
	AuthUsername string
	AuthPassword string

	// AllowInsecureAuth permits AUTH before STARTTLS.
	AllowInsecureAuth bool

	// MaxMessageBytes defaults to 10 MB.
	MaxMessageBytes int64
}

// Server accepts inbound mail and hands it to the forwarder the same way an
// SES receipt rule does.
type Server struct {
	config ServerConfig
	auth   *Authenticator

	mu       sync.Mutex
	listener net.Listener
}

// New creates a new receiver with the given configuration.
func New(cfg ServerConfig) *Server {
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = defaultMaxMessageBytes
	}

	return &Server{
		config: cfg,
		auth:   NewAuthenticator(cfg.AuthUsername, cfg.AuthPassword),
	}
}

// ListenAndServe listens on the configured address and serves until ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln and blocks until ctx is cancelled. On
// cancellation it stops accepting new connections and waits up to 30 seconds
// for in-flight sessions to complete.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	srv := s.newSMTPServer(ctx)

	slog.Info("SMTP receiver listening",
		"addr", ln.Addr().String(),
		"bucket", s.config.Bucket,
		"prefix", s.config.Prefix,
		"auth_enabled", s.auth.Enabled(),
		"tls_enabled", s.config.TLSConfig != nil,
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, smtp.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down SMTP receiver")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("shutdown timeout reached, forcing close", "error", err)
		srv.Close()
	}
	<-errCh
	slog.Info("all sessions completed")
	return nil
}

// Addr returns the listener address, or empty string if not listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func (s *Server) newSMTPServer(ctx context.Context) *smtp.Server {
	be := &backend{
		// Sessions outlive a cancelled serve context while draining.
		ctx:    context.WithoutCancel(ctx),
		auth:   s.auth,
		store:  s.config.Store,
		bucket: s.config.Bucket,
		prefix: s.config.Prefix,
		router: s.config.Router,
		newID:  defaultID,
	}

	srv := smtp.NewServer(be)
	srv.Domain = s.config.Hostname
	srv.ReadTimeout = connectionTimeout
	srv.WriteTimeout = connectionTimeout
	srv.MaxMessageBytes = s.config.MaxMessageBytes
	srv.MaxRecipients = maxRecipients
	srv.AllowInsecureAuth = s.config.AllowInsecureAuth
	srv.TLSConfig = s.config.TLSConfig
	srv.ErrorLog = slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn)
	return srv
}
