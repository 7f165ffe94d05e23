package verifier

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/veritaslabs/aletheia/netguard"
)

// FetchConfig configures the privileged image fetcher.
type FetchConfig struct {
	Timeout   time.Duration // HTTP timeout. Default: 30s.
	MaxBytes  int64         // max image size. Default: netguard.MaxImageBytes.
	UserAgent string
	// URLValidator vets locators before fetch. Default: netguard.ValidateURL.
	URLValidator func(string) error
}

func (c *FetchConfig) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = netguard.MaxImageBytes
	}
	if c.UserAgent == "" {
		c.UserAgent = "aletheia/1.0"
	}
	if c.URLValidator == nil {
		c.URLValidator = netguard.ValidateURL
	}
}

// Fetcher retrieves image payloads on behalf of pages. It runs in the
// orchestrator context, outside any page's cross-origin restrictions, so
// every locator is validated before the request and again on redirects.
type Fetcher struct {
	client *http.Client
	config FetchConfig
}

// NewFetcher creates a Fetcher with redirect validation.
func NewFetcher(cfg FetchConfig) *Fetcher {
	cfg.defaults()
	validate := cfg.URLValidator
	return &Fetcher{
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				if err := validate(req.URL.String()); err != nil {
					return fmt.Errorf("redirect blocked: %w", err)
				}
				return nil
			},
		},
		config: cfg,
	}
}

// Fetch retrieves the image at locator, bounded by MaxBytes.
func (f *Fetcher) Fetch(ctx context.Context, locator string) ([]byte, error) {
	if err := f.config.URLValidator(locator); err != nil {
		return nil, fmt.Errorf("verifier: locator blocked: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, fmt.Errorf("verifier: new request: %w", err)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("verifier: http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return nil, fmt.Errorf("verifier: http %d", resp.StatusCode)
	}

	body, err := netguard.LimitedReadAll(resp.Body, f.config.MaxBytes)
	if err != nil {
		return nil, fmt.Errorf("verifier: read body: %w", err)
	}
	return body, nil
}
