// Package engine defines the boundary to the external verification engine
// and its two production adapters: a remote HTTP verification service and
// a local c2patool subprocess. The engine is expensive to initialise, so
// adapters separate Init from Verify and the orchestrator decides when to
// pay the init cost.
package engine

import (
	"context"
	"errors"

	"github.com/veritaslabs/aletheia/protocol"
)

// ErrInit marks a failed engine initialisation. Init failures are
// retriable: the orchestrator may call Init again on the next request.
var ErrInit = errors.New("engine: init failed")

// Engine verifies image payloads.
//
// Init prepares the engine and may be called more than once; after a
// successful Init further calls must be cheap no-ops. Verify reports an
// error only for execution failures; an image without credentials is a
// successful verification with status none.
type Engine interface {
	Init(ctx context.Context) error
	Verify(ctx context.Context, data []byte, mimeType string) (*protocol.Verdict, error)
}
