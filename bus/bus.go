// Package bus is the transport connecting the orchestrator context with
// page contexts. Delivery is asynchronous with no cross-context ordering
// guarantee between different requests, and delivery to a detached page is
// silently dropped: the platform contract tolerates message loss, so every
// consumer must too.
//
// Within one mailbox, messages published from a single goroutine stay in
// order. The orchestrator relies on this for the started-before-terminal
// guarantee of a single request; nothing else may rely on ordering.
package bus

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/veritaslabs/aletheia/protocol"
)

// Request is a page-originated verification request with its return address.
type Request struct {
	PageID string
	Msg    protocol.Message
}

// Bus routes protocol messages between contexts.
type Bus struct {
	mu       sync.Mutex
	pages    map[string]*PageConn
	requests chan Request
	logger   *slog.Logger
	closed   bool
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// New creates a Bus with an empty page registry.
func New(opts ...Option) *Bus {
	b := &Bus{
		pages:    make(map[string]*PageConn),
		requests: make(chan Request, 256),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// PageConn is one page context's mailbox. A page consumes Receive() from a
// single goroutine (its event loop) and calls Detach when the page goes away.
type PageConn struct {
	id       string
	bus      *Bus
	mail     chan protocol.Message
	detached chan struct{}
	once     sync.Once
}

// ID returns the page identifier this mailbox belongs to.
func (c *PageConn) ID() string { return c.id }

// Receive is the page's incoming mail. It is never closed; consumers must
// also select on Detached.
func (c *PageConn) Receive() <-chan protocol.Message { return c.mail }

// Detached is closed when the page leaves the bus.
func (c *PageConn) Detached() <-chan struct{} { return c.detached }

// Detach removes the page from the bus. Mail sent afterwards is dropped.
// Safe to call more than once.
func (c *PageConn) Detach() {
	c.once.Do(func() {
		c.bus.mu.Lock()
		if c.bus.pages[c.id] == c {
			delete(c.bus.pages, c.id)
		}
		c.bus.mu.Unlock()
		close(c.detached)
	})
}

// AttachPage registers a page context and returns its mailbox. Attaching an
// ID that is already attached supersedes the old connection: the old mailbox
// is detached and its undelivered mail discarded.
func (b *Bus) AttachPage(id string) *PageConn {
	conn := &PageConn{
		id:       id,
		bus:      b,
		mail:     make(chan protocol.Message, 256),
		detached: make(chan struct{}),
	}

	b.mu.Lock()
	old := b.pages[id]
	b.pages[id] = conn
	b.mu.Unlock()

	if old != nil {
		old.Detach()
		// Detach of a superseded conn deletes only itself; re-register ours.
		b.mu.Lock()
		b.pages[id] = conn
		b.mu.Unlock()
	}
	return conn
}

// Publish delivers a message to one page. A message to a detached page, or
// to a page whose mailbox is full, is dropped. By contract this is not an
// error, only a debug-level event.
func (b *Bus) Publish(pageID string, msg protocol.Message) {
	b.mu.Lock()
	conn := b.pages[pageID]
	b.mu.Unlock()

	if conn == nil {
		b.logger.Debug("bus: dropping message for detached page",
			"page_id", pageID, "action", msg.Action)
		return
	}

	select {
	case conn.mail <- msg:
	default:
		b.logger.Warn("bus: page mailbox full, dropping message",
			"page_id", pageID, "action", msg.Action)
	}
}

// Submit sends a page-originated message to the orchestrator.
func (b *Bus) Submit(pageID string, msg protocol.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return fmt.Errorf("bus: closed")
	}

	select {
	case b.requests <- Request{PageID: pageID, Msg: msg}:
		return nil
	default:
		return fmt.Errorf("bus: request queue full")
	}
}

// Requests is the orchestrator's incoming queue.
func (b *Bus) Requests() <-chan Request { return b.requests }

// Close detaches every page and closes the request queue.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	conns := make([]*PageConn, 0, len(b.pages))
	for _, c := range b.pages {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	for _, c := range conns {
		c.Detach()
	}
	close(b.requests)
}
