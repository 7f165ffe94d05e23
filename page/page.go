// Package page runs the per-page agent: a single-goroutine event loop that
// owns one page's DOM snapshot, overlay badges and verification panel,
// and speaks the message protocol with the orchestrator over the bus.
//
// All notification handling is keyed by image URL and resolved against the
// snapshot on arrival. A notification whose locator no longer resolves is
// dropped silently; with a lossy transport the page can never assume it
// saw every message of a request.
package page

import (
	"context"
	"log/slog"

	"github.com/veritaslabs/aletheia/bus"
	"github.com/veritaslabs/aletheia/dom"
	"github.com/veritaslabs/aletheia/overlay"
	"github.com/veritaslabs/aletheia/panel"
	"github.com/veritaslabs/aletheia/protocol"
	"github.com/veritaslabs/aletheia/resolve"
	"github.com/veritaslabs/aletheia/stats"
)

// EventKind tags a DriverEvent.
type EventKind int

const (
	// EventImageInserted reports an image added to the live page.
	EventImageInserted EventKind = iota
	// EventImageRemoved reports an image element leaving the page.
	EventImageRemoved
	// EventBadgeClicked reports a click on a badge; opens the panel when a
	// verdict is available.
	EventBadgeClicked
	// EventBadgeDismissed reports the badge's own dismiss affordance.
	EventBadgeDismissed
	// EventVerifyImage is the user's explicit request on an image element.
	EventVerifyImage
	// EventPanelClosed reports any of the panel's close affordances: the
	// close button, a click outside the panel, the cancel key.
	EventPanelClosed
)

// DriverEvent is one user or DOM event from the concrete page.
type DriverEvent struct {
	Kind      EventKind
	Image     *dom.Image // EventImageInserted
	ElementID string     // EventImageRemoved, EventBadgeClicked, EventBadgeDismissed, EventVerifyImage
}

// Driver is the concrete page behind the agent: a live Chrome tab or a
// test fake. The agent consumes Events from its own goroutine only.
type Driver interface {
	// Document parses the page into a snapshot. Called once at attach.
	Document(ctx context.Context) (*dom.Document, error)
	Events() <-chan DriverEvent
	Renderer() overlay.Renderer
	Viewport() overlay.Viewport
	PanelHost() panel.Host
	// Toast shows an auto-dismissing error notification.
	Toast(message string)
}

// SettingsSource provides the persisted user flags. *stats.Store satisfies it.
type SettingsSource interface {
	Settings(ctx context.Context) (stats.Settings, error)
}

// Agent is one page's event loop.
type Agent struct {
	conn     *bus.PageConn
	bus      *bus.Bus
	driver   Driver
	settings SettingsSource
	logger   *slog.Logger

	doc     *dom.Document
	overlay *overlay.Manager
	panel   *panel.Panel

	// autoScanned tracks which locators were last requested by the
	// automatic scan rather than by the user, for none-badge gating.
	autoScanned map[string]bool
}

// Option configures an Agent.
type Option func(*Agent)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) { a.logger = l }
}

// New creates an Agent for the page behind driver, attached to b as conn.
func New(conn *bus.PageConn, b *bus.Bus, driver Driver, settings SettingsSource, opts ...Option) *Agent {
	a := &Agent{
		conn:        conn,
		bus:         b,
		driver:      driver,
		settings:    settings,
		logger:      slog.Default(),
		autoScanned: make(map[string]bool),
	}
	for _, o := range opts {
		o(a)
	}
	a.overlay = overlay.NewManager(driver.Renderer(),
		overlay.WithViewport(driver.Viewport()), overlay.WithLogger(a.logger))
	a.panel = panel.New(driver.PanelHost(), panel.WithLogger(a.logger))
	return a
}

// Run executes the event loop until ctx is cancelled or the page detaches.
// When autoVerify is set, every image in the initial snapshot is submitted
// before the loop starts.
func (a *Agent) Run(ctx context.Context) error {
	doc, err := a.driver.Document(ctx)
	if err != nil {
		return err
	}
	a.doc = doc

	cfg, err := a.settings.Settings(ctx)
	if err != nil {
		a.logger.Error("page: reading settings", "page_id", a.conn.ID(), "error", err)
		cfg = stats.Settings{}
	}
	if cfg.AutoVerify {
		for _, img := range doc.Images() {
			a.submit(img, true)
		}
	}

	for {
		select {
		case <-ctx.Done():
			a.teardown()
			return ctx.Err()
		case <-a.conn.Detached():
			a.teardown()
			return nil
		case msg := <-a.conn.Receive():
			a.handleMessage(ctx, msg)
		case ev := <-a.driver.Events():
			a.handleEvent(ctx, ev, cfg)
		}
	}
}

func (a *Agent) teardown() {
	a.panel.Close()
	a.overlay.Clear()
}

// submit requests verification of one image. The loading badge appears
// only when the started notification comes back; a submission the
// orchestrator never saw leaves no trace.
func (a *Agent) submit(img *dom.Image, auto bool) {
	locator := img.CurrentSrc
	if locator == "" {
		locator = img.Src
	}
	if locator == "" {
		return
	}
	a.autoScanned[locator] = auto
	err := a.bus.Submit(a.conn.ID(), protocol.Message{
		Action:   protocol.ActionVerifyImageURL,
		ImageURL: locator,
	})
	if err != nil {
		a.logger.Warn("page: submit failed", "page_id", a.conn.ID(),
			"image_url", locator, "error", err)
	}
}

func (a *Agent) handleMessage(ctx context.Context, msg protocol.Message) {
	img, ok := resolve.Locate(a.doc, msg.ImageURL)
	if !ok {
		// The element is gone or never matched; nothing to paint.
		a.logger.Debug("page: unresolved locator", "page_id", a.conn.ID(),
			"action", msg.Action, "image_url", msg.ImageURL)
		return
	}

	switch msg.Action {
	case protocol.ActionVerificationStarted:
		a.overlay.Begin(img.ID)
	case protocol.ActionShowVerificationResult:
		if a.suppressNoneBadge(ctx, msg) {
			a.overlay.ElementRemoved(img.ID)
			return
		}
		a.overlay.Apply(img.ID, msg.Result)
	case protocol.ActionShowVerificationError:
		a.overlay.Fail(img.ID)
		a.driver.Toast(msg.Error)
	default:
		a.logger.Debug("page: ignoring message", "action", msg.Action)
	}
}

// suppressNoneBadge applies the showNoCredentials setting: a none verdict
// from the automatic scan renders no badge unless the user opted in.
// Explicit requests always render their outcome.
func (a *Agent) suppressNoneBadge(ctx context.Context, msg protocol.Message) bool {
	if msg.Result == nil || msg.Result.Status != protocol.StatusNone {
		return false
	}
	if !a.autoScanned[msg.ImageURL] {
		return false
	}
	cfg, err := a.settings.Settings(ctx)
	if err != nil {
		a.logger.Error("page: reading settings", "error", err)
		return false
	}
	return !cfg.ShowNoCredentials
}

func (a *Agent) handleEvent(ctx context.Context, ev DriverEvent, cfg stats.Settings) {
	switch ev.Kind {
	case EventImageInserted:
		if ev.Image == nil {
			return
		}
		a.doc.AddImage(ev.Image)
		if cfg.AutoVerify {
			a.submit(ev.Image, true)
		}
	case EventImageRemoved:
		a.doc.RemoveImage(ev.ElementID)
		a.overlay.ElementRemoved(ev.ElementID)
	case EventBadgeClicked:
		a.openPanel(ev.ElementID)
	case EventBadgeDismissed:
		a.overlay.Dismiss(ev.ElementID)
	case EventVerifyImage:
		if img := a.doc.ImageByID(ev.ElementID); img != nil {
			a.submit(img, false)
		}
	case EventPanelClosed:
		a.panel.Close()
	}
}

// openPanel presents the panel for a badge carrying a verdict. Loading and
// empty badges have nothing to show yet.
func (a *Agent) openPanel(elementID string) {
	state, verdict := a.overlay.Snapshot(elementID)
	if verdict == nil || !state.Verdict() {
		return
	}
	img := a.doc.ImageByID(elementID)
	if img == nil {
		return
	}
	locator := img.CurrentSrc
	if locator == "" {
		locator = img.Src
	}
	a.panel.Present(locator, verdict)
}
