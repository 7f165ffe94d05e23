// Package verifier is the orchestrator: it consumes verification requests
// from the bus, fetches and classifies the image, runs the engine and
// notifies the requesting page. The engine is initialised lazily on the
// first request and the attempt is memoised; a failed attempt is cleared
// so the next request retries.
//
// Failure policy: a fetch, init or execution failure ends the request with
// a generic user-facing error and leaves the statistics untouched. An
// engine verdict of status error is a completed verification and counts.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/veritaslabs/aletheia/bus"
	"github.com/veritaslabs/aletheia/engine"
	"github.com/veritaslabs/aletheia/protocol"
	"github.com/veritaslabs/aletheia/stats"
)

// ErrFetch tags failures to retrieve the image payload.
var ErrFetch = errors.New("verifier: fetch failed")

// User-facing failure strings. Internal error detail stays in the logs;
// pages only ever see these.
const (
	msgFetchFailed  = "Failed to fetch image"
	msgEngineDown   = "Verification engine unavailable"
	msgVerifyFailed = "Verification failed"
)

// Verifier owns the orchestrator side of the message protocol.
type Verifier struct {
	bus     *bus.Bus
	engine  engine.Engine
	fetcher *Fetcher
	stats   *stats.Store
	logger  *slog.Logger
	workers int

	initMu sync.Mutex
	init   *initAttempt
}

// initAttempt memoises one engine initialisation shared by all requests
// that arrive while it runs.
type initAttempt struct {
	done chan struct{}
	err  error
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *Verifier) { v.logger = l }
}

// WithWorkers bounds concurrent verifications. Default: 8.
func WithWorkers(n int) Option {
	return func(v *Verifier) {
		if n > 0 {
			v.workers = n
		}
	}
}

// New creates a Verifier serving requests from b.
func New(b *bus.Bus, eng engine.Engine, fetcher *Fetcher, store *stats.Store, opts ...Option) *Verifier {
	v := &Verifier{
		bus:     b,
		engine:  eng,
		fetcher: fetcher,
		stats:   store,
		logger:  slog.Default(),
		workers: 8,
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Run consumes the request queue until ctx is cancelled or the bus closes.
// Requests run concurrently up to the worker bound; each request's
// notifications are published from its own goroutine, which preserves
// started-before-terminal order within the request.
func (v *Verifier) Run(ctx context.Context) {
	sem := make(chan struct{}, v.workers)
	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case req, ok := <-v.bus.Requests():
			if !ok {
				wg.Wait()
				return
			}
			if req.Msg.Action != protocol.ActionVerifyImageURL {
				v.logger.Warn("verifier: ignoring unexpected action",
					"action", req.Msg.Action, "page_id", req.PageID)
				continue
			}
			sem <- struct{}{}
			wg.Add(1)
			go func(r bus.Request) {
				defer func() { <-sem; wg.Done() }()
				v.HandleRequest(ctx, r.PageID, r.Msg.ImageURL)
			}(req)
		}
	}
}

// HandleRequest runs one verification end to end and notifies pageID.
// The started notification always precedes the terminal one.
func (v *Verifier) HandleRequest(ctx context.Context, pageID, imageURL string) {
	v.bus.Publish(pageID, protocol.Message{
		Action:   protocol.ActionVerificationStarted,
		ImageURL: imageURL,
	})

	verdict, err := v.Verify(ctx, imageURL)
	if err != nil {
		v.fail(pageID, imageURL, userMessage(err))
		return
	}

	v.bus.Publish(pageID, protocol.Message{
		Action:   protocol.ActionShowVerificationResult,
		ImageURL: imageURL,
		Result:   verdict,
	})
}

// Verify runs the fetch/classify/verify pipeline for one locator and
// records the outcome. It is the synchronous core behind both the bus
// request loop and the tool surfaces. Returned errors are tagged with
// ErrFetch or engine.ErrInit so callers can map them to user-facing text.
func (v *Verifier) Verify(ctx context.Context, imageURL string) (*protocol.Verdict, error) {
	data, err := v.fetcher.Fetch(ctx, imageURL)
	if err != nil {
		v.logger.Error("verifier: fetch failed", "image_url", imageURL, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}

	mimeType := DetectMimeType(data, imageURL)

	if err := v.ensureEngine(ctx); err != nil {
		v.logger.Error("verifier: engine init failed", "error", err)
		if errors.Is(err, engine.ErrInit) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", engine.ErrInit, err)
	}

	verdict, err := v.engine.Verify(ctx, data, mimeType)
	if err != nil {
		v.logger.Error("verifier: engine execution failed",
			"image_url", imageURL, "mime_type", mimeType, "error", err)
		return nil, err
	}

	// The engine completed, whatever it concluded: the attempt counts.
	if err := v.stats.RecordVerification(ctx, verdict.Status); err != nil {
		v.logger.Error("verifier: stats update failed", "error", err)
	}

	v.logger.Info("verifier: verified", "image_url", imageURL,
		"mime_type", mimeType, "status", verdict.Status)
	return verdict, nil
}

// userMessage maps an internal failure to the generic text a page sees.
func userMessage(err error) string {
	switch {
	case errors.Is(err, ErrFetch):
		return msgFetchFailed
	case errors.Is(err, engine.ErrInit):
		return msgEngineDown
	default:
		return msgVerifyFailed
	}
}

func (v *Verifier) fail(pageID, imageURL, msg string) {
	v.bus.Publish(pageID, protocol.Message{
		Action:   protocol.ActionShowVerificationError,
		ImageURL: imageURL,
		Error:    msg,
	})
}

// ensureEngine initialises the engine at most once, sharing the in-flight
// attempt among concurrent requests. A failed attempt is forgotten so the
// next request starts a fresh one.
func (v *Verifier) ensureEngine(ctx context.Context) error {
	v.initMu.Lock()
	attempt := v.init
	if attempt == nil {
		attempt = &initAttempt{done: make(chan struct{})}
		v.init = attempt
		go func() {
			attempt.err = v.engine.Init(context.WithoutCancel(ctx))
			close(attempt.done)
		}()
	}
	v.initMu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-attempt.done:
	}

	if attempt.err != nil {
		v.initMu.Lock()
		if v.init == attempt {
			v.init = nil
		}
		v.initMu.Unlock()
		return attempt.err
	}
	return nil
}
