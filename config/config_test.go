package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "aletheia.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
listen: ":9090"
db_path: /var/lib/aletheia/state.db
engine:
  type: remote
  base_url: http://engine:8100
  timeout: 45s
fetch:
  max_bytes: 20971520
browser:
  recycle_interval: 2h
pages:
  - id: news
    url: https://news.example.com
mcp:
  quic_addr: ":9444"
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":9090" {
		t.Errorf("listen: got %q", cfg.Listen)
	}
	if cfg.Engine.Type != "remote" || cfg.Engine.BaseURL != "http://engine:8100" {
		t.Errorf("engine: got %+v", cfg.Engine)
	}
	if cfg.Engine.Timeout != 45*time.Second {
		t.Errorf("engine timeout: got %v", cfg.Engine.Timeout)
	}
	if cfg.Browser.RecycleInterval != 2*time.Hour {
		t.Errorf("recycle: got %v", cfg.Browser.RecycleInterval)
	}
	if len(cfg.Pages) != 1 || cfg.Pages[0].ID != "news" {
		t.Errorf("pages: got %+v", cfg.Pages)
	}
	if cfg.MCP.QUICAddr != ":9444" {
		t.Errorf("mcp addr: got %q", cfg.MCP.QUICAddr)
	}
}

func TestLoadFile_Defaults(t *testing.T) {
	path := writeConfig(t, "pages: []\n")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":8087" {
		t.Errorf("listen default: got %q", cfg.Listen)
	}
	if cfg.Engine.Type != "c2patool" {
		t.Errorf("engine default: got %q", cfg.Engine.Type)
	}
	if cfg.Browser.MemoryLimit != 1<<30 {
		t.Errorf("memory limit default: got %d", cfg.Browser.MemoryLimit)
	}
	if cfg.Workers != 8 {
		t.Errorf("workers default: got %d", cfg.Workers)
	}
}

func TestLoadFile_RemoteRequiresBaseURL(t *testing.T) {
	path := writeConfig(t, "engine:\n  type: remote\n")
	if _, err := LoadFile(path); err == nil {
		t.Fatal("want error for remote engine without base_url")
	}
}

func TestLoadFile_UnknownEngine(t *testing.T) {
	path := writeConfig(t, "engine:\n  type: wasm\n")
	if _, err := LoadFile(path); err == nil {
		t.Fatal("want error for unknown engine type")
	}
}

func TestLoadFile_PageWithoutURL(t *testing.T) {
	path := writeConfig(t, "pages:\n  - id: p1\n")
	if _, err := LoadFile(path); err == nil {
		t.Fatal("want error for page without url")
	}
}
