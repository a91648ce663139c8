package main

import (
	"context"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/loopd/internal/mcp"
	"github.com/fyrsmithlabs/loopd/internal/memory"
	"github.com/fyrsmithlabs/loopd/internal/telemetry"
	"github.com/fyrsmithlabs/loopd/internal/trajectory"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve loop state to MCP clients over stdio",
		Long: `Serve read-only loop tools over the Model Context Protocol on stdin and
stdout: loop_status, get_item, analyze_trajectory, recovery_frame and
search_lessons. Logs go to stderr.

Examples:
  # Register with a generator that speaks MCP
  claude mcp add loopd -- loopd mcp`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
				defer done()
				_ = tel.Shutdown(shutdownCtx)
			}()

			logger, err := newLogger(cfg, tel)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			var lessons mcp.LessonSearcher
			if cfg.Memory.IndexEnabled {
				dir := cfg.Memory.IndexDir
				if dir == "" {
					dir = filepath.Join(cfg.Loop.StateDir, indexDirName)
				}
				index, err := memory.OpenLessonIndex(dir, logger)
				if err != nil {
					return err
				}
				lessons = index
			}

			srv, err := mcp.NewServer(mcp.Config{
				Version:      version,
				ManifestPath: cfg.Loop.Manifest,
				Logger:       logger,
				Meter:        tel.Meter("github.com/fyrsmithlabs/loopd/internal/mcp"),
			}, trajectory.NewStore(cfg.Loop.StateDir), lessons)
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}
}
