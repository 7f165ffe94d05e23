// Command aletheia is the image authenticity daemon. It attaches to web
// pages through Chrome, verifies the content credentials of the images they
// show and paints the verdicts back onto the page. An HTTP admin surface
// and an optional MCP-over-QUIC tool surface share the same pipeline.
//
// Usage:
//
//	aletheia -config aletheia.yaml         # full daemon from YAML config
//	aletheia -url https://example.com      # quick single-page session
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/veritaslabs/aletheia/admin"
	"github.com/veritaslabs/aletheia/browser"
	"github.com/veritaslabs/aletheia/bus"
	"github.com/veritaslabs/aletheia/config"
	"github.com/veritaslabs/aletheia/dbopen"
	"github.com/veritaslabs/aletheia/engine"
	"github.com/veritaslabs/aletheia/idgen"
	"github.com/veritaslabs/aletheia/mcpquic"
	"github.com/veritaslabs/aletheia/mcptool"
	"github.com/veritaslabs/aletheia/page"
	"github.com/veritaslabs/aletheia/stats"
	"github.com/veritaslabs/aletheia/verifier"
)

func main() {
	configPath := flag.String("config", "", "path to aletheia.yaml config file")
	singleURL := flag.String("url", "", "attach to a single URL")
	dbPath := flag.String("db", "", "override the SQLite database path")
	listen := flag.String("listen", "", "override the admin HTTP listen address")
	autoVerify := flag.Bool("auto-verify", false, "persist the auto-verify setting at startup")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := loadConfig(*configPath, *singleURL, *dbPath, *listen)
	if err != nil {
		logger.Error("aletheia: config", "error", err)
		os.Exit(1)
	}

	var setAutoVerify *bool
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "auto-verify" {
			setAutoVerify = autoVerify
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, cfg, setAutoVerify); err != nil {
		logger.Error("aletheia: fatal", "error", err)
		os.Exit(1)
	}
}

func loadConfig(path, singleURL, dbPath, listen string) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		cfg = loaded
	}
	if singleURL != "" {
		cfg.Pages = append(cfg.Pages, config.PageConfig{URL: singleURL})
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if listen != "" {
		cfg.Listen = listen
	}
	return cfg, nil
}

func run(ctx context.Context, logger *slog.Logger, cfg *config.Config, setAutoVerify *bool) error {
	db, err := dbopen.Open(cfg.DBPath, dbopen.WithMkdirAll())
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	store, err := stats.New(db, stats.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("stats store: %w", err)
	}
	if setAutoVerify != nil {
		if err := store.SetAutoVerify(ctx, *setAutoVerify); err != nil {
			return fmt.Errorf("set auto-verify: %w", err)
		}
	}

	b := bus.New()
	defer b.Close()

	eng, err := buildEngine(cfg.Engine)
	if err != nil {
		return err
	}

	fetcher := verifier.NewFetcher(verifier.FetchConfig{
		Timeout:   cfg.Fetch.Timeout,
		MaxBytes:  cfg.Fetch.MaxBytes,
		UserAgent: cfg.Fetch.UserAgent,
	})
	v := verifier.New(b, eng, fetcher, store,
		verifier.WithLogger(logger), verifier.WithWorkers(cfg.Workers))
	go v.Run(ctx)

	// Admin HTTP surface.
	adminSrv := admin.New(store, b, admin.WithLogger(logger))
	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           adminSrv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("aletheia: admin listening", "addr", cfg.Listen)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("aletheia: admin server", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}()

	// Optional MCP-over-QUIC tool surface.
	if cfg.MCP.QUICAddr != "" {
		if err := startMCP(ctx, logger, cfg.MCP, v, store); err != nil {
			logger.Error("aletheia: MCP QUIC disabled", "error", err)
		}
	}

	// Page agents over live Chrome, one per configured page.
	if len(cfg.Pages) > 0 {
		if err := runPages(ctx, logger, cfg, b, store); err != nil {
			return err
		}
	}

	<-ctx.Done()
	return nil
}

func buildEngine(cfg config.EngineConfig) (engine.Engine, error) {
	switch cfg.Type {
	case "remote":
		return engine.NewRemote(engine.RemoteConfig{
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
		}), nil
	case "c2patool":
		return engine.NewC2PATool(engine.C2PAToolConfig{
			Binary:  cfg.Binary,
			WorkDir: cfg.WorkDir,
			Timeout: cfg.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unknown engine type %q", cfg.Type)
	}
}

func startMCP(ctx context.Context, logger *slog.Logger, cfg config.MCPConfig, v *verifier.Verifier, store *stats.Store) error {
	mcpSrv := mcp.NewServer(&mcp.Implementation{
		Name:    "aletheia",
		Version: "1.0.0",
	}, nil)
	mcptool.Register(mcpSrv, v, store)

	var tlsCfg *tls.Config
	var err error
	if cfg.TLSCert != "" && cfg.TLSKey != "" {
		tlsCfg, err = mcpquic.ServerTLSConfig(cfg.TLSCert, cfg.TLSKey)
	} else {
		tlsCfg, err = mcpquic.SelfSignedTLSConfig()
	}
	if err != nil {
		return fmt.Errorf("tls: %w", err)
	}

	ql, err := mcpquic.NewListener(cfg.QUICAddr, tlsCfg, mcpSrv, logger)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	go func() {
		logger.Info("aletheia: MCP QUIC listening", "addr", cfg.QUICAddr)
		if err := ql.Serve(ctx); err != nil && ctx.Err() == nil {
			logger.Error("aletheia: MCP QUIC", "error", err)
		}
		ql.Close()
	}()
	return nil
}

func runPages(ctx context.Context, logger *slog.Logger, cfg *config.Config, b *bus.Bus, store *stats.Store) error {
	mgr := browser.NewManager(browser.Config{
		RemoteURL:       cfg.Browser.Remote,
		MemoryLimit:     cfg.Browser.MemoryLimit,
		RecycleInterval: cfg.Browser.RecycleInterval,
		Logger:          logger,
	})
	if _, err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("browser start: %w", err)
	}
	go func() {
		<-ctx.Done()
		mgr.Close()
	}()

	for _, pc := range cfg.Pages {
		pageID := pc.ID
		if pageID == "" {
			pageID = idgen.New()
		}
		go supervisePage(ctx, logger, mgr, b, store, pageID, pc.URL)
	}
	return nil
}

// supervisePage keeps one page attached for the life of the daemon. A lost
// tab (crash, browser recycle) detaches the agent; the page is reopened
// with the same id after a short pause.
func supervisePage(ctx context.Context, logger *slog.Logger, mgr *browser.Manager, b *bus.Bus, store *stats.Store, pageID, url string) {
	for ctx.Err() == nil {
		err := attachOnce(ctx, logger, mgr, b, store, pageID, url)
		if ctx.Err() != nil {
			return
		}
		logger.Warn("aletheia: page session ended, reattaching",
			"page_id", pageID, "url", url, "error", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func attachOnce(ctx context.Context, logger *slog.Logger, mgr *browser.Manager, b *bus.Bus, store *stats.Store, pageID, url string) error {
	tab, err := browser.OpenTab(ctx, mgr, url, pageID, logger)
	if err != nil {
		return fmt.Errorf("open tab: %w", err)
	}
	defer tab.Close()

	conn := b.AttachPage(pageID)
	defer conn.Detach()

	agent := page.New(conn, b, tab, store, page.WithLogger(logger))
	return agent.Run(ctx)
}
