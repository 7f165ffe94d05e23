// Package mcptool exposes the daemon's operations as MCP tools so agent
// clients can verify images and read statistics over the same pipeline
// pages use.
package mcptool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/veritaslabs/aletheia/kit"
	"github.com/veritaslabs/aletheia/stats"
	"github.com/veritaslabs/aletheia/verifier"
)

// Register adds the verification tools to an MCP server.
func Register(srv *mcp.Server, v *verifier.Verifier, store *stats.Store) {
	registerVerifyTool(srv, v)
	registerStatsTool(srv, store)
	registerSettingsTool(srv, store)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// --- verify_image ---

type verifyReq struct {
	ImageURL string `json:"imageUrl"`
}

func registerVerifyTool(srv *mcp.Server, v *verifier.Verifier) {
	tool := &mcp.Tool{
		Name:        "aletheia_verify_image",
		Description: "Fetch an image by URL and verify its content credentials. Returns the structured verdict.",
		InputSchema: inputSchema(map[string]any{
			"imageUrl": map[string]any{"type": "string", "description": "Image URL to verify"},
		}, []string{"imageUrl"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*verifyReq)
		return v.Verify(ctx, r.ImageURL)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r verifyReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		if r.ImageURL == "" {
			return nil, fmt.Errorf("imageUrl is required")
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- stats ---

func registerStatsTool(srv *mcp.Server, store *stats.Store) {
	tool := &mcp.Tool{
		Name:        "aletheia_stats",
		Description: "Read the verification counters and success rate.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		c, err := store.Counters(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"imagesChecked":    c.ImagesChecked,
			"credentialsFound": c.CredentialsFound,
			"successRate":      c.SuccessRate(),
		}, nil
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- settings ---

type settingsReq struct {
	AutoVerify        *bool `json:"autoVerify,omitempty"`
	ShowNoCredentials *bool `json:"showNoCredentials,omitempty"`
}

func registerSettingsTool(srv *mcp.Server, store *stats.Store) {
	tool := &mcp.Tool{
		Name:        "aletheia_settings",
		Description: "Read the persisted settings, optionally updating the provided flags first.",
		InputSchema: inputSchema(map[string]any{
			"autoVerify":        map[string]any{"type": "boolean", "description": "Scan pages automatically"},
			"showNoCredentials": map[string]any{"type": "boolean", "description": "Badge images without credentials on auto-scan"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*settingsReq)
		if r.AutoVerify != nil {
			if err := store.SetAutoVerify(ctx, *r.AutoVerify); err != nil {
				return nil, err
			}
		}
		if r.ShowNoCredentials != nil {
			if err := store.SetShowNoCredentials(ctx, *r.ShowNoCredentials); err != nil {
				return nil, err
			}
		}
		return store.Settings(ctx)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r settingsReq
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
				return nil, err
			}
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
