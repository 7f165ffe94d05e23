package mcptool

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/veritaslabs/aletheia/bus"
	"github.com/veritaslabs/aletheia/dbopen"
	"github.com/veritaslabs/aletheia/protocol"
	"github.com/veritaslabs/aletheia/stats"
	"github.com/veritaslabs/aletheia/verifier"
)

var testMCPImpl = &mcp.Implementation{Name: "aletheia-test", Version: "0.1.0"}

// stubEngine returns a fixed verdict without initialisation cost.
type stubEngine struct {
	verdict *protocol.Verdict
}

func (e *stubEngine) Init(context.Context) error { return nil }
func (e *stubEngine) Verify(context.Context, []byte, string) (*protocol.Verdict, error) {
	return e.verdict, nil
}

func mcpSession(t *testing.T) (*mcp.ClientSession, *stats.Store, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte{0xFF, 0xD8, 0xFF, 0xE0})
	}))
	t.Cleanup(srv.Close)

	store, err := stats.New(dbopen.OpenMemory(t))
	if err != nil {
		t.Fatalf("stats.New: %v", err)
	}

	b := bus.New()
	t.Cleanup(b.Close)
	v := verifier.New(b,
		&stubEngine{verdict: &protocol.Verdict{Status: protocol.StatusValid}},
		verifier.NewFetcher(verifier.FetchConfig{
			URLValidator: func(string) error { return nil },
		}),
		store)

	mcpSrv := mcp.NewServer(testMCPImpl, nil)
	Register(mcpSrv, v, store)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = mcpSrv.Run(ctx, serverT) }()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session, store, srv
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args any) string {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if err := result.GetError(); err != nil {
		t.Fatalf("CallTool(%s) tool error: %v", name, err)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent", name)
	}
	return tc.Text
}

func TestMCP_VerifyImage(t *testing.T) {
	session, store, srv := mcpSession(t)

	text := callTool(t, session, "aletheia_verify_image",
		map[string]any{"imageUrl": srv.URL + "/photo.jpg"})

	var verdict protocol.Verdict
	if err := json.Unmarshal([]byte(text), &verdict); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if verdict.Status != protocol.StatusValid {
		t.Errorf("status: got %s, want valid", verdict.Status)
	}

	// Tool-surface verifications count like page verifications.
	c, err := store.Counters(context.Background())
	if err != nil {
		t.Fatalf("Counters: %v", err)
	}
	if c.ImagesChecked != 1 || c.CredentialsFound != 1 {
		t.Errorf("counters: got %+v, want 1/1", c)
	}
}

func TestMCP_VerifyImage_RequiresURL(t *testing.T) {
	session, _, _ := mcpSession(t)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "aletheia_verify_image",
		Arguments: map[string]any{},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !result.IsError {
		t.Fatal("want tool error for missing imageUrl")
	}
}

func TestMCP_Stats(t *testing.T) {
	session, store, _ := mcpSession(t)
	ctx := context.Background()

	if err := store.RecordVerification(ctx, protocol.StatusExpired); err != nil {
		t.Fatalf("RecordVerification: %v", err)
	}

	text := callTool(t, session, "aletheia_stats", map[string]any{})

	var resp struct {
		ImagesChecked    int64  `json:"imagesChecked"`
		CredentialsFound int64  `json:"credentialsFound"`
		SuccessRate      string `json:"successRate"`
	}
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.ImagesChecked != 1 || resp.CredentialsFound != 1 {
		t.Errorf("counters: got %+v", resp)
	}
	if resp.SuccessRate != "100.0" {
		t.Errorf("successRate: got %q", resp.SuccessRate)
	}
}

func TestMCP_Settings(t *testing.T) {
	session, _, _ := mcpSession(t)

	text := callTool(t, session, "aletheia_settings",
		map[string]any{"autoVerify": true})

	var cfg stats.Settings
	if err := json.Unmarshal([]byte(text), &cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !cfg.AutoVerify {
		t.Error("autoVerify not persisted")
	}
	if cfg.ShowNoCredentials {
		t.Error("showNoCredentials flipped without being set")
	}
}
