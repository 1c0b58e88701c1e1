// Package whapi is a client for the Whapi.Cloud WhatsApp HTTP gateway and a
// parser for its webhook payloads.
package whapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Defaults for the gateway client.
const (
	DefaultBaseURL = "https://gate.whapi.cloud"
	DefaultTimeout = 30 * time.Second
	maxMediaBytes  = 10 << 20
)

// Opts holds configuration options for the Whapi client.
type Opts struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Option defines a configuration option for the Whapi client.
type Option func(*Opts)

// WithBaseURL overrides DefaultBaseURL.
func WithBaseURL(u string) Option {
	return func(o *Opts) { o.BaseURL = u }
}

// WithToken sets the bearer token.
func WithToken(token string) Option {
	return func(o *Opts) { o.Token = token }
}

// WithTimeout bounds each gateway call.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// Client sends messages and downloads media through Whapi.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a Whapi client.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{BaseURL: DefaultBaseURL, Timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("whapi token must be provided")
	}
	slog.Debug("whapi.NewClient: configured", "baseURL", cfg.BaseURL, "timeout", cfg.Timeout)
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type sendTextRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

// SendMessage sends a text message. to may be a phone number or a full chat id.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	payload, err := json.Marshal(sendTextRequest{To: to, Body: body})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages/text", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		slog.Error("Client.SendMessage failed", "to", to, "error", err)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		slog.Error("Client.SendMessage rejected", "to", to, "status", resp.StatusCode, "body", string(detail))
		return fmt.Errorf("failed to send message to %s: status %d", to, resp.StatusCode)
	}
	slog.Debug("Client.SendMessage: sent", "to", to, "body_length", len(body))
	return nil
}

// FetchMedia downloads a media object by id and returns its bytes and MIME type.
func (c *Client) FetchMedia(ctx context.Context, mediaID string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/media/"+mediaID, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build media request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch media %s: %w", mediaID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch media %s: status %d", mediaID, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes))
	if err != nil {
		return nil, "", fmt.Errorf("read media %s: %w", mediaID, err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}
