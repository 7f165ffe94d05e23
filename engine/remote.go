package engine

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/veritaslabs/aletheia/netguard"
	"github.com/veritaslabs/aletheia/protocol"
)

// RemoteConfig configures the HTTP verification service adapter.
type RemoteConfig struct {
	BaseURL   string        // service root, e.g. "https://verify.internal:8443"
	Timeout   time.Duration // per-request timeout. Default: 60s.
	MaxBytes  int64         // max verdict response size. Default: 10MB.
	UserAgent string
}

func (c *RemoteConfig) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10 * 1024 * 1024
	}
	if c.UserAgent == "" {
		c.UserAgent = "aletheia/1.0"
	}
}

// Remote verifies images against an HTTP verification service: POST the
// payload to /verify with its media type, receive a verdict JSON.
type Remote struct {
	client *http.Client
	config RemoteConfig
}

// NewRemote creates a Remote adapter for the service at cfg.BaseURL.
func NewRemote(cfg RemoteConfig) *Remote {
	cfg.defaults()
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Remote{
		client: &http.Client{Timeout: cfg.Timeout},
		config: cfg,
	}
}

// Init probes the service health endpoint. A down service is a retriable
// init failure.
func (r *Remote) Init(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.config.BaseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("%w: new request: %v", ErrInit, err)
	}
	req.Header.Set("User-Agent", r.config.UserAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInit, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health check returned http %d", ErrInit, resp.StatusCode)
	}
	return nil
}

// Verify posts the image payload and parses the service's verdict.
func (r *Remote) Verify(ctx context.Context, data []byte, mimeType string) (*protocol.Verdict, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		r.config.BaseURL+"/verify", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("engine: new request: %w", err)
	}
	req.Header.Set("Content-Type", mimeType)
	req.Header.Set("User-Agent", r.config.UserAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("engine: verify: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("engine: verify returned http %d", resp.StatusCode)
	}

	body, err := netguard.LimitedReadAll(resp.Body, r.config.MaxBytes)
	if err != nil {
		return nil, fmt.Errorf("engine: read verdict: %w", err)
	}
	v, err := protocol.ParseVerdict(body)
	if err != nil {
		return nil, fmt.Errorf("engine: parse verdict: %w", err)
	}
	return v, nil
}
