// Command yuva is the terminal client for the YUVA voice assistant.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/yuva/internal/app"
	"github.com/MrWong99/yuva/internal/config"
	"github.com/MrWong99/yuva/internal/console"
	"github.com/MrWong99/yuva/internal/observe"
)

var _ console.Controller = (*app.App)(nil)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "yuva: %v\n", err)
		os.Exit(1)
	}
}

func runClient(cmd *cobra.Command, _ []string) error {
	// ── Load configuration ────────────────────────────────────────────────────
	cfg, watch, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.LogLevel.SlogLevel())
	slog.SetDefault(newLogger(level))

	slog.Info("yuva starting",
		"version", version,
		"config", configPath,
		"log_level", cfg.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Application ───────────────────────────────────────────────────────────
	opts := []app.Option{app.WithLogLevel(level)}
	if watch {
		opts = append(opts, app.WithConfigWatcher(configPath))
	}
	application, err := app.New(cfg, opts...)
	if err != nil {
		return fmt.Errorf("initialise application: %w", err)
	}

	printStartupSummary(cmd, cfg)

	uiCtx, stopUI := context.WithCancel(ctx)
	defer stopUI()

	runErr := make(chan error, 1)
	go func() {
		runErr <- application.Run(ctx)
		stopUI()
	}()

	ui := console.New(application, os.Stdin, cmd.OutOrStdout())
	uiErr := ui.Run(uiCtx)

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if uiErr != nil && !errors.Is(uiErr, console.ErrQuit) {
		return uiErr
	}
	slog.Info("goodbye")
	return nil
}

// ── Startup summary ──────────────────────────────────────────────────────────

func printStartupSummary(cmd *cobra.Command, cfg *config.Config) {
	out := cmd.OutOrStdout()
	row := func(label, value string) {
		if len(value) > 19 {
			value = value[:16] + "..."
		}
		fmt.Fprintf(out, "║  %-15s : %-19s ║\n", label, value)
	}

	fmt.Fprintln(out, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(out, "║          YUVA OS  startup summary     ║")
	fmt.Fprintln(out, "╠═══════════════════════════════════════╣")
	row("Backend", cfg.Backend.HTTPURL)
	row("Core channel", cfg.Backend.WSURL)
	row("Language", cfg.Session.Language)
	row("Speech", cfg.Speech.Adapter)
	if cfg.Session.Quantum.Enabled {
		row("Quantum", cfg.Session.Quantum.Tint)
	} else {
		row("Quantum", "(off)")
	}
	if cfg.Diagnostics.ListenAddr != "" {
		row("Diagnostics", cfg.Diagnostics.ListenAddr)
	} else {
		row("Diagnostics", "(disabled)")
	}
	fmt.Fprintln(out, "╚═══════════════════════════════════════╝")
	fmt.Fprintln(out, "type /help for commands")
}

// ── Logger ───────────────────────────────────────────────────────────────────

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
