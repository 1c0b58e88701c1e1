// Package api provides the HTTP server: the gateway webhooks, a liveness
// endpoint and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bsl-salud/whatsbot/internal/messaging"
	"github.com/bsl-salud/whatsbot/internal/metrics"
)

// Server defaults.
const (
	DefaultAddr            = ":8080"
	DefaultShutdownTimeout = 15 * time.Second
	maxWebhookBody         = 1 << 20
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr          string
	WhapiHandler  messaging.EventHandler
	TwilioWebhook http.HandlerFunc
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		if addr != "" {
			o.Addr = addr
		}
	}
}

// WithWhapiWebhook accepts Whapi deliveries on POST /webhook and dispatches
// them to handler. Without it /webhook only answers the liveness GET.
func WithWhapiWebhook(handler messaging.EventHandler) Option {
	return func(o *Opts) { o.WhapiHandler = handler }
}

// WithTwilioWebhook mounts the Twilio form webhook at /webhook/twilio.
func WithTwilioWebhook(h http.HandlerFunc) Option {
	return func(o *Opts) { o.TwilioWebhook = h }
}

// Server serves the webhook endpoints.
type Server struct {
	addr    string
	handler messaging.EventHandler
	mux     *http.ServeMux
}

// NewServer creates a server with the routes enabled by opts.
func NewServer(opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Server{addr: cfg.Addr, handler: cfg.WhapiHandler, mux: http.NewServeMux()}
	s.mux.HandleFunc("/webhook", s.webhookHandler)
	s.mux.Handle("/metrics", metrics.Handler())
	if cfg.TwilioWebhook != nil {
		s.mux.HandleFunc("/webhook/twilio", cfg.TwilioWebhook)
	}
	slog.Debug("Server.NewServer: routes registered", "addr", s.addr, "whapi", s.handler != nil, "twilio", cfg.TwilioWebhook != nil)
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Server.Run: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
