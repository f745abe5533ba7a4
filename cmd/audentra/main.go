// Command audentra is the main entry point for the Audentra form-filling server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/DanielWill-1/audentra/internal/app"
	"github.com/DanielWill-1/audentra/internal/config"
	"github.com/DanielWill-1/audentra/internal/observe"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload log level and dialog settings when the config file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "audentra: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "audentra: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(os.Stderr, cfg.Server.LogFormat, level))

	slog.Info("audentra starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"store", cfg.Store.Backend,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "audentra",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	application, err := app.New(ctx, cfg, app.WithLogLevel(level))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	if *watch {
		if err := application.WatchConfig(*configPath); err != nil {
			slog.Error("failed to watch config", "err", err)
			return 1
		}
	}

	printStartupSummary(cfg)

	code := 0
	if err := application.Run(ctx); err != nil {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	if err := otelShutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return code
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        Audentra · startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("ASR", cfg.Providers.ASR)
	printProvider("TTS", cfg.Providers.TTS)
	printProvider("LLM", cfg.Providers.LLM)
	fmt.Printf("║  Store           : %-19s ║\n", cfg.Store.Backend)
	fmt.Printf("║  Enhancement     : %-19s ║\n", onOff(cfg.Enhancement.Enabled && cfg.Providers.LLM.Name != ""))
	fmt.Printf("║  Paraphrase      : %-19s ║\n", onOff(cfg.Paraphrase.Enabled && cfg.Providers.LLM.Name != ""))
	fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind string, e config.ProviderEntry) {
	value := e.Name
	switch {
	case value == "" && kind == "LLM":
		value = "(not configured)"
	case value == "":
		value = "text"
	case e.Model != "":
		value = e.Name + " / " + e.Model
	}
	if n := len(e.Fallbacks); n > 0 {
		value = fmt.Sprintf("%s +%d", value, n)
	}
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(w io.Writer, format config.LogFormat, level slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
