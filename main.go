package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"huddle/internal/advice"
	"huddle/internal/config"
	"huddle/internal/core"
	"huddle/internal/httpapi"
	"huddle/internal/linkpreview"
	"huddle/internal/logging"
	"huddle/internal/relay"
	"huddle/internal/store"
	"huddle/internal/wt"
)

// Version is injected at build time with -ldflags.
var Version = "0.1.0-dev"

func main() {
	addr := flag.String("addr", "", "HTTP listen address (env HUDDLE_ADDR, default :8080)")
	dbPath := flag.String("db", "", "SQLite archive path (env HUDDLE_DB, default huddle.db)")
	publicDir := flag.String("public", "", "Static web client directory (env HUDDLE_PUBLIC)")
	wtAddr := flag.String("wt-addr", "", "WebTransport listen address, empty disables (env HUDDLE_WT_ADDR)")
	aiURL := flag.String("ai-url", "", "Chat completion endpoint (env HUDDLE_AI_URL)")
	aiModel := flag.String("ai-model", "", "Chat completion model (env HUDDLE_AI_MODEL)")
	aiOffline := flag.Bool("ai-offline", false, "Answer advice requests locally when no API key is set")
	linkPreviews := flag.Bool("link-previews", true, "Fetch previews for links posted in chat")
	testBot := flag.String("testbot", "", "Join this room with a headless bot participant")
	debug := flag.Bool("debug", false, "Enable debug logging (auto-enabled for dev builds)")
	flag.Parse()

	level := slog.LevelInfo
	if *debug || strings.Contains(Version, "dev") {
		level = slog.LevelDebug
	}
	logging.Init(level)

	opts := config.ServerOptions{
		Addr:      *addr,
		DBPath:    *dbPath,
		PublicDir: *publicDir,
		WTAddr:    *wtAddr,
		AIURL:     *aiURL,
		AIModel:   *aiModel,
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "ai-offline":
			opts.AIOffline = aiOffline
		case "link-previews":
			opts.LinkPreviews = linkPreviews
		}
	})
	cfg, err := config.LoadServer(opts)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	if handled, err := RunCLI(flag.Args(), cfg.DBPath, os.Stdout); handled {
		if err != nil {
			slog.Error("command failed", "err", err)
			os.Exit(1)
		}
		return
	}

	slog.Info("starting server", "version", Version, "addr", cfg.Addr, "db", cfg.DBPath)

	sqliteStore, err := store.Open(cfg.DBPath)
	if err != nil {
		slog.Error("open sqlite store", "err", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := sqliteStore.Close(); closeErr != nil {
			slog.Error("close sqlite store", "err", closeErr)
		}
	}()

	registry := core.NewRegistry()
	relayOpts := []relay.Option{relay.WithArchive(sqliteStore)}
	if cfg.LinkPreviews {
		relayOpts = append(relayOpts, relay.WithPreviewer(linkpreview.NewFetcher(linkpreview.DefaultTimeout)))
	}
	rl := relay.New(registry, core.NewSessions(), relayOpts...)

	gateway := advice.NewGateway(
		advice.NewClient(cfg.AIURL, cfg.AIKey, cfg.AIModel, 30*time.Second),
		advice.WithHistory(registry),
		advice.WithOffline(cfg.AIOffline),
	)
	if cfg.AIKey == "" {
		slog.Warn("no advice API key configured", "offline", cfg.AIOffline)
	}

	server := httpapi.New(rl,
		httpapi.WithArchive(sqliteStore),
		httpapi.WithAdvisor(gateway),
		httpapi.WithPublicDir(cfg.PublicDir),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		slog.Info("received interrupt, shutting down")
		cancel()
	}()

	if cfg.WTAddr != "" {
		cert, err := wt.NewCertificate(wt.MaxPinnedValidity, "")
		if err != nil {
			slog.Error("generate webtransport certificate", "err", err)
			os.Exit(1)
		}
		slog.Info("webtransport certificate", "sha256", cert.Fingerprint, "not_after", cert.NotAfter)
		go func() {
			if err := wt.NewServer(cfg.WTAddr, cert.TLS, rl).Run(ctx); err != nil {
				slog.Error("webtransport server", "err", err)
			}
		}()
	}

	go RunMetrics(ctx, rl, 30*time.Second)

	if *testBot != "" {
		go RunTestBot(ctx, localURL(cfg.Addr), *testBot, "huddle-bot")
	}

	slog.Info("listening", "addr", cfg.Addr)
	if err := server.Run(ctx, cfg.Addr); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
	rl.Wait()
	slog.Info("server stopped")
}

// localURL turns a listen address into a URL the in-process bot can dial.
func localURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "http://127.0.0.1" + addr
	}
	return "http://" + addr
}
