package browser

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/veritaslabs/aletheia/dom"
	"github.com/veritaslabs/aletheia/overlay"
	"github.com/veritaslabs/aletheia/page"
	"github.com/veritaslabs/aletheia/panel"
)

//go:embed inject.js
var injectJS string

const bindingName = "__aletheia_binding"

// Tab wraps a rod page and implements the page driver contract against the
// injected runtime.
//
// Identity invariant: inject.js tags image elements with data-aletheia-id
// in document order using the same img_%04d scheme Document parsing uses,
// so snapshot ids address live elements.
type Tab struct {
	page    *rod.Page
	pageURL string
	pageID  string
	logger  *slog.Logger

	events   chan page.DriverEvent
	viewport *viewportHub

	ctx    context.Context
	cancel context.CancelFunc
}

// OpenTab creates a tab, navigates it, installs the runtime binding and
// injects the page runtime.
func OpenTab(ctx context.Context, mgr *Manager, pageURL, pageID string, logger *slog.Logger) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}
	if logger == nil {
		logger = slog.Default()
	}

	p, err := b.Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	navCtx, cancelNav := context.WithTimeout(ctx, 30*time.Second)
	defer cancelNav()

	if err := p.Context(navCtx).Navigate(pageURL); err != nil {
		p.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := p.Context(navCtx).WaitLoad(); err != nil {
		logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}

	tabCtx, cancel := context.WithCancel(ctx)
	t := &Tab{
		page:     p,
		pageURL:  pageURL,
		pageID:   pageID,
		logger:   logger,
		events:   make(chan page.DriverEvent, 256),
		viewport: newViewportHub(),
		ctx:      tabCtx,
		cancel:   cancel,
	}

	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(p); err != nil {
		logger.Warn("browser: add binding failed (may already exist)", "error", err)
	}
	go t.listenBinding()

	if _, err := p.Eval(injectJS); err != nil {
		t.Close()
		return nil, fmt.Errorf("browser: inject runtime: %w", err)
	}
	return t, nil
}

// Close tears the tab down.
func (t *Tab) Close() error {
	t.cancel()
	if t.page != nil {
		return t.page.Close()
	}
	return nil
}

// Document serialises the live DOM and parses it into a snapshot.
func (t *Tab) Document(ctx context.Context) (*dom.Document, error) {
	res, err := t.page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return nil, fmt.Errorf("browser: get DOM: %w", err)
	}
	return dom.Parse(t.pageURL, strings.NewReader(res.Value.Str()))
}

// Events is the user/DOM event feed decoded from binding calls.
func (t *Tab) Events() <-chan page.DriverEvent { return t.events }

// Renderer draws badges through the injected runtime.
func (t *Tab) Renderer() overlay.Renderer { return &tabRenderer{t} }

// Viewport delivers the page's debounced scroll/resize events.
func (t *Tab) Viewport() overlay.Viewport { return t.viewport }

// PanelHost displays the verification panel in the page.
func (t *Tab) PanelHost() panel.Host { return &tabPanelHost{t} }

// Toast shows an auto-dismissing error notification.
func (t *Tab) Toast(message string) {
	t.eval(`(msg) => window.__aletheia.toast(msg)`, message)
}

func (t *Tab) eval(js string, args ...any) {
	if _, err := t.page.Context(t.ctx).Eval(js, args...); err != nil {
		t.logger.Debug("browser: eval failed", "page_id", t.pageID, "error", err)
	}
}

// listenBinding decodes binding calls from the injected runtime into
// driver events. Layout signals fan out to viewport subscribers instead of
// the event channel.
func (t *Tab) listenBinding() {
	t.page.Context(t.ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != bindingName {
			return
		}
		ev, layout, err := decodeEvent([]byte(e.Payload))
		if err != nil {
			t.logger.Warn("browser: bad binding payload", "error", err)
			return
		}
		if layout {
			t.viewport.fire()
			return
		}
		select {
		case t.events <- ev:
		default:
			t.logger.Warn("browser: event channel full, dropping",
				"page_id", t.pageID, "kind", ev.Kind)
		}
	})()
}

// bindingEvent is the wire shape inject.js emits.
type bindingEvent struct {
	Kind  string `json:"kind"`
	ID    string `json:"id"`
	Image *struct {
		ID         string   `json:"id"`
		Src        string   `json:"src"`
		CurrentSrc string   `json:"current_src"`
		Srcset     string   `json:"srcset"`
		Alt        string   `json:"alt"`
		Rect       dom.Rect `json:"rect"`
	} `json:"image,omitempty"`
}

// decodeEvent maps a binding payload onto a driver event. The second
// return is true for layout signals, which have no driver event.
func decodeEvent(payload []byte) (page.DriverEvent, bool, error) {
	var raw bindingEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return page.DriverEvent{}, false, fmt.Errorf("browser: decode event: %w", err)
	}

	switch raw.Kind {
	case "layout":
		return page.DriverEvent{}, true, nil
	case "inserted":
		if raw.Image == nil {
			return page.DriverEvent{}, false, fmt.Errorf("browser: inserted event without image")
		}
		img := &dom.Image{
			ID:         raw.Image.ID,
			Src:        raw.Image.Src,
			CurrentSrc: raw.Image.CurrentSrc,
			Srcset:     dom.ParseSrcset(raw.Image.Srcset),
			Alt:        raw.Image.Alt,
			Rect:       raw.Image.Rect,
		}
		return page.DriverEvent{Kind: page.EventImageInserted, Image: img}, false, nil
	case "removed":
		return page.DriverEvent{Kind: page.EventImageRemoved, ElementID: raw.ID}, false, nil
	case "badge_click":
		return page.DriverEvent{Kind: page.EventBadgeClicked, ElementID: raw.ID}, false, nil
	case "badge_dismiss":
		return page.DriverEvent{Kind: page.EventBadgeDismissed, ElementID: raw.ID}, false, nil
	case "verify":
		return page.DriverEvent{Kind: page.EventVerifyImage, ElementID: raw.ID}, false, nil
	case "panel_closed":
		return page.DriverEvent{Kind: page.EventPanelClosed}, false, nil
	}
	return page.DriverEvent{}, false, fmt.Errorf("browser: unknown event kind %q", raw.Kind)
}

// viewportHub fans one page's layout events out to badge subscriptions.
type viewportHub struct {
	mu   sync.Mutex
	next int
	subs map[int]func()
}

func newViewportHub() *viewportHub {
	return &viewportHub{subs: make(map[int]func())}
}

func (h *viewportHub) Subscribe(fn func()) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	h.subs[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs, id)
	}
}

func (h *viewportHub) fire() {
	h.mu.Lock()
	fns := make([]func(), 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

type tabRenderer struct{ t *Tab }

func (r *tabRenderer) Mount(b *overlay.Badge) {
	r.t.eval(`(id, state) => window.__aletheia.mountBadge(id, state)`, b.ElementID, string(b.State))
}

func (r *tabRenderer) Update(b *overlay.Badge) {
	r.t.eval(`(id, state) => window.__aletheia.updateBadge(id, state)`, b.ElementID, string(b.State))
}

func (r *tabRenderer) Unmount(b *overlay.Badge) {
	r.t.eval(`(id) => window.__aletheia.unmountBadge(id)`, b.ElementID)
}

type tabPanelHost struct{ t *Tab }

func (h *tabPanelHost) Show(markup string) {
	h.t.eval(`(html) => window.__aletheia.showPanel(html)`, markup)
}

func (h *tabPanelHost) Hide() {
	h.t.eval(`() => window.__aletheia.hidePanel()`)
}
