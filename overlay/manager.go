package overlay

import (
	"log/slog"
	"sync"

	"github.com/veritaslabs/aletheia/protocol"
)

// Badge is the per-element overlay instance. Field access outside the
// Manager is read-only.
type Badge struct {
	ElementID string
	State     State
	Verdict   *protocol.Verdict // nil while loading

	unsubscribe func()
	detached    bool
}

// Renderer draws badges. Implementations must tolerate Update before any
// geometry is known and Unmount for a badge that was never visible.
type Renderer interface {
	// Mount creates the badge's visual slot next to its element.
	Mount(b *Badge)
	// Update re-renders the badge in its existing slot. Used both for
	// state changes and for repositioning, to avoid recreate flicker.
	Update(b *Badge)
	// Unmount removes the badge's visual slot.
	Unmount(b *Badge)
}

// Viewport delivers layout-affecting events (scroll, resize). Subscribe
// returns a cancel function; the Manager guarantees it is called exactly
// once per badge.
type Viewport interface {
	Subscribe(fn func()) (cancel func())
}

// Manager tracks all live badges for one page, keyed by element identity.
// Keying by element, never by message arrival order, is what keeps two
// interleaved requests for different images from corrupting each other.
type Manager struct {
	mu       sync.Mutex
	renderer Renderer
	viewport Viewport
	logger   *slog.Logger
	badges   map[string]*Badge
}

// Option configures a Manager.
type Option func(*Manager)

// WithViewport attaches a geometry event source. Without one, badges are
// positioned once at mount time only.
func WithViewport(v Viewport) Option {
	return func(m *Manager) { m.viewport = v }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a Manager rendering through r.
func NewManager(r Renderer, opts ...Option) *Manager {
	m := &Manager{
		renderer: r,
		logger:   slog.Default(),
		badges:   make(map[string]*Badge),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Begin puts the element into loading. Any pre-existing badge for the same
// element is discarded unconditionally first: a new request supersedes
// whatever was there, including an older in-flight one.
func (m *Manager) Begin(elementID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old := m.badges[elementID]; old != nil {
		m.detach(old)
	}

	b := &Badge{ElementID: elementID, State: StateLoading}
	m.badges[elementID] = b

	if m.viewport != nil {
		b.unsubscribe = m.viewport.Subscribe(func() { m.reposition(elementID) })
	}
	m.renderer.Mount(b)
}

// Apply delivers a terminal verdict to the element's badge. A badge is
// created on the spot when none exists: the started notification may have
// been lost, which must not suppress the result.
func (m *Manager) Apply(elementID string, v *protocol.Verdict) {
	m.event(elementID, Event{Kind: EventResult, Verdict: v}, v)
}

// Fail marks the element's badge as errored.
func (m *Manager) Fail(elementID string) {
	m.event(elementID, Event{Kind: EventFail}, nil)
}

func (m *Manager) event(elementID string, e Event, v *protocol.Verdict) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.badges[elementID]
	if b == nil {
		b = &Badge{ElementID: elementID, State: StateNone}
		next, ok := Transition(b.State, e)
		if !ok {
			return
		}
		b.State = next
		b.Verdict = v
		m.badges[elementID] = b
		if m.viewport != nil {
			b.unsubscribe = m.viewport.Subscribe(func() { m.reposition(elementID) })
		}
		m.renderer.Mount(b)
		return
	}

	next, ok := Transition(b.State, e)
	if !ok {
		m.logger.Debug("overlay: event rejected",
			"element", elementID, "state", b.State, "event", e.Kind)
		return
	}
	b.State = next
	b.Verdict = v
	// Same visual slot, re-rendered in place.
	m.renderer.Update(b)
}

// Dismiss tears down the element's badge on explicit user action. Reports
// whether a badge was dismissed. Dismissal is local to the badge: it never
// touches statistics and never re-queries the engine.
func (m *Manager) Dismiss(elementID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.badges[elementID]
	if b == nil {
		return false
	}
	if _, ok := Transition(b.State, Event{Kind: EventDismiss}); !ok {
		return false
	}
	m.detach(b)
	delete(m.badges, elementID)
	return true
}

// ElementRemoved cleans up after the owning image left the document.
func (m *Manager) ElementRemoved(elementID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.badges[elementID]
	if b == nil {
		return
	}
	m.detach(b)
	delete(m.badges, elementID)
}

// detach unmounts a badge and releases its viewport subscription exactly
// once. Caller holds m.mu.
func (m *Manager) detach(b *Badge) {
	if b.detached {
		return
	}
	b.detached = true
	if b.unsubscribe != nil {
		b.unsubscribe()
		b.unsubscribe = nil
	}
	m.renderer.Unmount(b)
}

// reposition re-renders one badge after a layout-affecting event.
func (m *Manager) reposition(elementID string) {
	m.mu.Lock()
	b := m.badges[elementID]
	if b == nil || b.detached {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.renderer.Update(b)
}

// Snapshot returns the element's current state and verdict, or StateNone
// when no badge exists. The page layer uses this to gate interaction:
// clicks are meaningful only in verdict states.
func (m *Manager) Snapshot(elementID string) (State, *protocol.Verdict) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.badges[elementID]
	if b == nil {
		return StateNone, nil
	}
	return b.State, b.Verdict
}

// Count returns the number of live badges.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.badges)
}

// Clear detaches every badge, for page teardown.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, b := range m.badges {
		m.detach(b)
		delete(m.badges, id)
	}
}
