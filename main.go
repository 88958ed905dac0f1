// lingogen is the structured-generation gateway between the Parlo language
// app and its LLM backends. It normalizes and repairs model output, caches
// repeatable responses, and lets the active provider be switched at runtime.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/parloapp/lingogen/internal/config"
	"github.com/parloapp/lingogen/internal/engine"
	"github.com/parloapp/lingogen/internal/ollama"
	"github.com/parloapp/lingogen/internal/openrouter"
	"github.com/parloapp/lingogen/internal/tasks"
)

// Build vars.
var (
	//nolint: gochecknoglobals
	version = "dev"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		listen     string
		configPath string
		dataDir    string
		debug      bool
	)
	cmd := &cobra.Command{
		Use:           "lingogen",
		Short:         "Structured-generation gateway for the Parlo app",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), listen, configPath, dataDir, debug)
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", ":8721", "address to listen on")
	cmd.Flags().StringVar(&configPath, "config", "", "path to the settings file (default: XDG config dir)")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "directory for the usage ledger and model cache (default: XDG data dir)")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	return cmd
}

func serve(ctx context.Context, listen, configPath, dataDir string, debug bool) error {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if configPath == "" {
		p, err := xdg.ConfigFile("lingogen/settings.env")
		if err != nil {
			return fmt.Errorf("resolve config path: %w", err)
		}
		configPath = p
	}
	if dataDir == "" {
		dataDir = filepath.Join(xdg.DataHome, "lingogen")
	}

	registry := tasks.New(log)
	store, err := config.Load(configPath, log, registry.Go)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	db, err := openLedger(filepath.Join(dataDir, "usage.db"))
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck

	remote := openrouter.New(store, log, registry.Go, func(u openrouter.Usage) {
		if err := db.Record(u); err != nil {
			log.Error("usage record failed", "generation", u.GenerationID, "error", err)
		}
	})
	if err := remote.SetModelsDir(filepath.Join(dataDir, "models")); err != nil {
		log.Warn("model list cache disabled", "error", err)
	}
	local := ollama.New(store, log)

	srv := &server{
		log:    log,
		store:  store,
		engine: engine.New(store, log, remote, local, 0),
		remote: remote,
		local:  local,
		ledger: db,
	}
	httpSrv := &http.Server{
		Addr:              listen,
		Handler:           srv.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", "addr", listen, "config", configPath, "data", dataDir)
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutCtx); err != nil {
			log.Warn("shutdown incomplete", "error", err)
		}
		// Let in-flight follow-ups (cost fetches, settings writes) land
		// before the process exits.
		if err := registry.Drain(shutCtx); err != nil {
			log.Warn("background tasks not drained", "error", err)
		}
		return nil
	})
	return g.Wait()
}
