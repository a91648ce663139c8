package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/loopd/internal/config"
	"github.com/fyrsmithlabs/loopd/internal/escalate"
	"github.com/fyrsmithlabs/loopd/internal/events"
	"github.com/fyrsmithlabs/loopd/internal/gates"
	"github.com/fyrsmithlabs/loopd/internal/generator"
	loophttp "github.com/fyrsmithlabs/loopd/internal/http"
	"github.com/fyrsmithlabs/loopd/internal/logging"
	"github.com/fyrsmithlabs/loopd/internal/memory"
	"github.com/fyrsmithlabs/loopd/internal/orchestrator"
	"github.com/fyrsmithlabs/loopd/internal/telemetry"
	"github.com/fyrsmithlabs/loopd/internal/trajectory"
	"github.com/fyrsmithlabs/loopd/pkg/git"
	"github.com/fyrsmithlabs/loopd/pkg/secrets"
)

// indexDirName is the lesson index directory inside the state directory.
const indexDirName = "index"

func newRunCmd() *cobra.Command {
	var maxIterations int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the iteration loop",
		Long: `Run the iteration loop until no item is ready, the iteration cap is
reached or a stop is requested.

A stop is requested by SIGINT or SIGTERM, or by creating the STOP file in
the state directory. The loop finishes the current iteration first; a
second signal aborts it.

Examples:
  # Run with loopd.yaml from the current directory
  loopd run

  # At most five iterations
  loopd run --max-iterations 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("max-iterations") {
				cfg.Loop.MaxIterations = maxIterations
			}
			return runLoop(cmd, cfg)
		},
	}
	cmd.Flags().IntVarP(&maxIterations, "max-iterations", "n", 0, "iteration cap, overrides loop.max_iterations (0 for none)")
	return cmd
}

func runLoop(cmd *cobra.Command, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

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

	if degraded, problem := tel.Degraded(); degraded {
		logger.Warn(ctx, "telemetry degraded, continuing without export", zap.Error(problem))
	}

	redactor, err := newRedactor(cfg, logger)
	if err != nil {
		return err
	}

	mem, err := newMemory(ctx, cfg, redactor, logger)
	if err != nil {
		return err
	}

	gen, err := generator.New(cfg.Generator, cfg.Loop.RepoDir, logger)
	if err != nil {
		return err
	}

	stop := orchestrator.NewStopSignal(cfg.Loop.StateDir, logger)
	if removed, err := stop.Clear(); err != nil {
		return err
	} else if removed {
		logger.Info(ctx, "removed stale stop file", zap.String("path", stop.Path()))
	}
	stop.OnForce(cancel)
	if err := stop.Start(ctx, syscall.SIGINT, syscall.SIGTERM); err != nil {
		return err
	}
	defer func() { _ = stop.Close() }()

	runID := uuid.NewString()
	reporters := []orchestrator.Reporter{printReport(cmd)}

	var pub *events.Publisher
	if cfg.Events.Enabled() {
		pub, err = events.Connect(cfg.Events, runID, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := pub.Close(); err != nil {
				logger.Warn(ctx, "closing event publisher failed", zap.Error(err))
			}
		}()
		reporters = append(reporters, pub.Reporter(ctx))
	}

	if cfg.Escalation.Enabled() {
		esc, err := escalate.New(ctx, cfg.Escalation, runID, escalate.WithLogger(logger))
		if err != nil {
			return err
		}
		reporters = append(reporters, esc.Reporter(ctx))
	}

	opts := orchestrator.Options{
		ManifestPath:  cfg.Loop.Manifest,
		MaxIterations: cfg.Loop.MaxIterations,
		Gates:         gates.FromConfig(cfg.Gates),
		Generate:      generator.OptionsFrom(cfg.Generator),
		Reporter:      fanOut(reporters...),
		Stop:          stop,
		Logger:        logger,
		Telemetry:     tel,
		RunID:         runID,
	}
	if redactor != nil {
		opts.Redactor = redactor
	}

	orch, err := orchestrator.New(gen,
		gates.NewShellRunner(cfg.Loop.RepoDir, logger),
		mem,
		trajectory.NewStore(cfg.Loop.StateDir),
		opts)
	if err != nil {
		return err
	}

	if cfg.Server.Enabled {
		srv, err := loophttp.NewServer(orch, logger, loophttp.Config{
			Host:    cfg.Server.Host,
			Port:    cfg.Server.Port,
			Version: version,
			Meter:   tel.Meter("github.com/fyrsmithlabs/loopd/internal/http"),
		})
		if err != nil {
			return err
		}
		go func() {
			if err := srv.Start(); err != nil {
				logger.Error(ctx, "status server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
			defer done()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn(ctx, "status server shutdown failed", zap.Error(err))
			}
		}()
	}

	if pub != nil {
		if err := pub.RunStarted(ctx); err != nil {
			logger.Warn(ctx, "publishing run start failed", zap.Error(err))
		}
	}

	summary, err := orch.Run(ctx)
	printSummary(cmd, summary)
	if pub != nil {
		if perr := pub.RunFinished(context.WithoutCancel(ctx), summary); perr != nil {
			logger.Warn(ctx, "publishing run summary failed", zap.Error(perr))
		}
	}
	if err != nil {
		if errors.Is(err, orchestrator.ErrPersistence) {
			return fmt.Errorf("loop halted: %w", err)
		}
		return err
	}
	return nil
}

func newLogger(cfg *config.Config, tel *telemetry.Telemetry) (*logging.Logger, error) {
	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return nil, err
	}
	if tel.IsEnabled() {
		return logging.NewLogger(logCfg, global.GetLoggerProvider())
	}
	return logging.NewLogger(logCfg, nil)
}

// newRedactor returns nil when redaction is turned off.
func newRedactor(cfg *config.Config, logger *logging.Logger) (*secrets.Redactor, error) {
	if !cfg.Secrets.Redact {
		return nil, nil
	}
	return secrets.NewRedactor(cfg.Loop.RepoDir, cfg.Secrets.Allowlist, logger)
}

func newMemory(ctx context.Context, cfg *config.Config, redactor *secrets.Redactor, logger *logging.Logger) (*memory.Store, error) {
	opts := memory.Options{
		KnowledgePath: cfg.Loop.Knowledge,
		CommitWindow:  cfg.Loop.CommitWindow,
		MaxLearnings:  cfg.Memory.MaxLearnings,
		IndexResults:  cfg.Memory.IndexResults,
		Budget:        cfg.Loop.ContextBudget,
		Logger:        logger,
	}
	if redactor != nil {
		opts.Redactor = redactor
	}

	repo, err := git.Open(cfg.Loop.RepoDir)
	switch {
	case err == nil:
		opts.CommitLog = repo
		if branch, err := repo.Branch(); err == nil && git.IsMainBranch(branch) {
			logger.Warn(ctx, "running on the main branch, generated changes land there directly", zap.String("branch", branch))
		}
	case errors.Is(err, git.ErrNotGitRepo):
		logger.Info(ctx, "not a git repository, commit history is left out of prompts", zap.String("dir", cfg.Loop.RepoDir))
	default:
		return nil, err
	}

	if cfg.Memory.IndexEnabled {
		dir := cfg.Memory.IndexDir
		if dir == "" {
			dir = filepath.Join(cfg.Loop.StateDir, indexDirName)
		}
		index, err := memory.OpenLessonIndex(dir, logger)
		if err != nil {
			return nil, err
		}
		opts.Index = index
	}

	return memory.NewStore(opts)
}

// fanOut calls every reporter in order.
func fanOut(reporters ...orchestrator.Reporter) orchestrator.Reporter {
	return func(r orchestrator.IterationReport) {
		for _, report := range reporters {
			report(r)
		}
	}
}

func printReport(cmd *cobra.Command) orchestrator.Reporter {
	out := cmd.OutOrStdout()
	return func(r orchestrator.IterationReport) {
		mark := successStyle.Render("done")
		switch {
		case r.Abandoned:
			mark = failureStyle.Render("gave up")
		case r.Aborted:
			mark = warnStyle.Render("aborted")
		case !r.Success:
			mark = warnStyle.Render("failed")
		}
		line := fmt.Sprintf("[%d] %s %s", r.Iteration, r.ItemID, mark)
		if r.Recovered {
			line += dimStyle.Render(" (reframed)")
		}
		if !r.Success && r.FailureReason != "" {
			line += dimStyle.Render(": " + r.FailureReason)
		}
		fmt.Fprintln(out, line)
	}
}

func printSummary(cmd *cobra.Command, s orchestrator.Summary) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\n%s after %d iteration(s) in %s\n",
		headerStyle.Render(string(s.Reason)), s.Iterations, s.Duration.Round(time.Second))
	fmt.Fprintf(out, "completed %d, gave up %d, pending %d, blocked %d\n",
		len(s.Completed), len(s.Abandoned), s.Counts.Pending, s.Counts.Blocked)
}
