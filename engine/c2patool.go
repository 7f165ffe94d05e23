package engine

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/veritaslabs/aletheia/idgen"
	"github.com/veritaslabs/aletheia/manifest"
	"github.com/veritaslabs/aletheia/protocol"
)

// C2PAToolConfig configures the c2patool subprocess adapter.
type C2PAToolConfig struct {
	Binary  string        // path or name of the c2patool binary. Default: "c2patool".
	WorkDir string        // where payloads are staged. Default: os.TempDir().
	Timeout time.Duration // per-verification timeout. Default: 30s.
}

func (c *C2PAToolConfig) defaults() {
	if c.Binary == "" {
		c.Binary = "c2patool"
	}
	if c.WorkDir == "" {
		c.WorkDir = os.TempDir()
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
}

// C2PATool verifies images by invoking the c2patool CLI on a staged copy
// of the payload and interpreting the manifest store JSON it prints.
type C2PATool struct {
	config C2PAToolConfig
	ids    idgen.Generator
}

// NewC2PATool creates a subprocess adapter.
func NewC2PATool(cfg C2PAToolConfig) *C2PATool {
	cfg.defaults()
	return &C2PATool{config: cfg, ids: idgen.Prefixed("stage_", idgen.Default)}
}

// Init resolves the binary and runs it once. A missing or broken binary is
// a retriable init failure (the operator may install it while the daemon
// runs).
func (c *C2PATool) Init(ctx context.Context) error {
	path, err := exec.LookPath(c.config.Binary)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInit, err)
	}
	cmd := exec.CommandContext(ctx, path, "--version")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInit, strings.TrimSpace(string(out)), err)
	}
	return nil
}

// Verify stages the payload under a format-matching extension, runs the
// tool and interprets its report. An exit signalling "no claim found" is a
// successful verification with status none, not an error.
func (c *C2PATool) Verify(ctx context.Context, data []byte, mimeType string) (*protocol.Verdict, error) {
	path := filepath.Join(c.config.WorkDir, c.ids()+extForMime(mimeType))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, fmt.Errorf("engine: stage payload: %w", err)
	}
	defer os.Remove(path)

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.config.Binary, path)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if noClaim(stderr.String()) || noClaim(stdout.String()) {
			return &protocol.Verdict{Status: protocol.StatusNone}, nil
		}
		return nil, fmt.Errorf("engine: c2patool: %s: %w", strings.TrimSpace(stderr.String()), err)
	}

	return manifest.Interpret(stdout.Bytes()), nil
}

// noClaim recognises the tool's "image has no credentials" exits across
// the phrasings different releases use.
func noClaim(out string) bool {
	lower := strings.ToLower(out)
	return strings.Contains(lower, "no claim found") ||
		strings.Contains(lower, "no manifest") ||
		strings.Contains(lower, "jumbf not found")
}

func extForMime(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}
