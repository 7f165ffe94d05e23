// Package panel renders the detailed verification view a user opens from a
// resolved badge. The panel is a stateless render of a verdict payload with
// its own open/closed lifecycle: exactly one instance at a time, and every
// close affordance (the close button, a click outside the content region,
// the cancel key) converges on the same idempotent teardown.
package panel

import (
	"log/slog"
	"sync"

	"github.com/veritaslabs/aletheia/protocol"
)

// Host displays panel markup in the page and removes it again. The page
// driver implements this; tests use a recording fake.
type Host interface {
	Show(markup string)
	Hide()
}

// Panel manages the single panel instance for one page.
type Panel struct {
	mu      sync.Mutex
	host    Host
	logger  *slog.Logger
	current *instance
}

type instance struct {
	locator string
	once    sync.Once
}

// Option configures a Panel.
type Option func(*Panel)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Panel) { p.logger = l }
}

// New creates a Panel rendering through host.
func New(host Host, opts ...Option) *Panel {
	p := &Panel{host: host, logger: slog.Default()}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Present shows the verdict for locator. When a panel is already open it is
// replaced atomically: the old markup is removed and the new inserted under
// one lock, so no observer sees two panels.
func (p *Panel) Present(locator string, v *protocol.Verdict) {
	markup := Render(locator, v)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current != nil {
		p.host.Hide()
	}
	p.current = &instance{locator: locator}
	p.host.Show(markup)
	p.logger.Debug("panel: presented", "locator", locator, "status", v.Status)
}

// Close tears the panel down. Safe to call when nothing is open and safe to
// call twice: the teardown of one instance runs at most once.
func (p *Panel) Close() {
	p.mu.Lock()
	inst := p.current
	p.current = nil
	p.mu.Unlock()

	if inst == nil {
		return
	}
	inst.once.Do(p.host.Hide)
}

// Open reports whether a panel is currently presented.
func (p *Panel) Open() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current != nil
}

// Locator returns the locator of the open panel, or "".
func (p *Panel) Locator() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return ""
	}
	return p.current.locator
}
