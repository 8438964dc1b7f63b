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
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/user/pilotsync/internal/config"
	"github.com/user/pilotsync/internal/hub"
	"github.com/user/pilotsync/internal/notify"
	"github.com/user/pilotsync/internal/pilot"
	"github.com/user/pilotsync/internal/server"
	"github.com/user/pilotsync/internal/state"
	"github.com/user/pilotsync/internal/telegram"
	"github.com/user/pilotsync/internal/types"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the pilotsync daemon",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func pidPath(dataDir string) string {
	return filepath.Join(dataDir, "pilotsync.pid")
}

func writePIDFile(dataDir string) (string, error) {
	path := pidPath(dataDir)
	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return path, nil
}

func watchStore(cfg *config.Config) *state.WatchStore {
	return state.NewWatchStore(filepath.Join(cfg.DataDir, "watches.json"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	pidFile, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidFile)

	// Stores
	canvases := state.NewCanvasStore(cfg.DataDir)
	dispatches := state.NewDispatchLog(cfg.DataDir)
	watches := watchStore(cfg)

	// Pilot API
	client := newClient(cfg)

	// Notifications
	notifier := notify.NewRegistry()
	notifier.Subscribe("", notify.LogHandler)

	h := hub.New(client, client,
		func(id types.CanvasID) types.Canvas { return canvases.Board(id) },
		hub.Config{
			PollInterval:  cfg.PollInterval(),
			Layout:        pilot.Layout{Margin: cfg.Layout.Margin, RowSpacing: cfg.Layout.RowSpacing},
			MaxConcurrent: int64(cfg.MaxConcurrent),
		},
		hub.WithWatchStore(watches),
		hub.WithDispatchLog(dispatches),
		hub.WithNotifier(notifier),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	h.Start(ctx)
	defer h.Stop()

	restored, err := h.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore watches: %w", err)
	}

	slog.Info("pilotsync started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"max_concurrent", cfg.MaxConcurrent,
		"pilot_base_url", cfg.Pilot.BaseURL,
		"poll_interval", cfg.PollInterval(),
		"restored_watches", restored,
		"pid_file", pidFile,
	)

	g, gctx := errgroup.WithContext(ctx)

	// Telegram adapter
	if cfg.Telegram.Token != "" {
		adapter, err := telegram.New(cfg.Telegram.Token, cfg.Telegram.ChatID, h)
		if err != nil {
			return fmt.Errorf("create telegram adapter: %w", err)
		}
		notifier.Subscribe("step.dispatched", adapter.Notify)
		notifier.Subscribe("dispatch.error", adapter.Notify)
		notifier.Subscribe("fetch.error", adapter.Notify)
		g.Go(func() error {
			adapter.Start(gctx)
			return nil
		})
		slog.Info("telegram adapter started", "chat_id", cfg.Telegram.ChatID)
	} else {
		slog.Warn("telegram adapter disabled (no token)")
	}

	// Control API
	if cfg.HTTP.Enabled {
		httpServer := &http.Server{
			Addr:              cfg.HTTP.Listen,
			Handler:           server.New(h, client),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			slog.Info("control server started", "listen", cfg.HTTP.Listen)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("control server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
	}

	// SIGHUP re-execs the binary in place.
	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				slog.Info("received SIGHUP, restarting")
				restart(cfg, pidFile)
			}
		}
	})

	err = g.Wait()
	slog.Info("shutting down")
	return err
}

// restart replaces the running process with a fresh copy of itself. It only
// returns when the exec failed.
func restart(cfg *config.Config, pidFile string) {
	execPath, err := os.Executable()
	if err != nil {
		slog.Error("failed to get executable path", "error", err)
		return
	}
	os.Remove(pidFile)
	if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
		slog.Error("failed to re-exec", "error", err)
		if _, writeErr := writePIDFile(cfg.DataDir); writeErr != nil {
			slog.Error("failed to re-write PID file", "error", writeErr)
		}
	}
}
