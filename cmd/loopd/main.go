// Loopd runs an autonomous iteration loop over a task manifest.
//
// Each iteration picks the next ready work item, asks a text generator to
// implement it, checks the result with quality gates and records what
// happened. Items that keep failing are reframed from what went wrong.
//
// Usage:
//
//	loopd init                 # write loopd.yaml, TASKS.md and KNOWLEDGE.md
//	loopd run                  # run until nothing is ready
//	loopd status               # show manifest progress
//	loopd next                 # print the next ready item
//	loopd complete <id>        # mark an item complete by hand
//	loopd analyze <id>         # inspect a stored trajectory
//	loopd frame <id>           # print the recovery prompt for a trajectory
//	loopd mcp                  # serve loop state to MCP clients over stdio
//	loopd watch                # dashboard for a running loop
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/loopd/internal/config"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	configPath   string
	manifestFlag string
	stateDirFlag string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "loopd",
		Short: "Autonomous iteration loop over a task manifest",
		Long: `loopd works through the items of a markdown task manifest one at a time.
It generates an implementation for each ready item, runs the configured
quality gates and keeps a trajectory of every attempt. When an item keeps
failing, loopd reframes it from the constraints its failures revealed.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default loopd.yaml)")
	root.PersistentFlags().StringVar(&manifestFlag, "manifest", "", "task manifest, overrides loop.manifest")
	root.PersistentFlags().StringVar(&stateDirFlag, "state-dir", "", "state directory, overrides loop.state_dir")

	root.AddCommand(
		newRunCmd(),
		newStatusCmd(),
		newNextCmd(),
		newCompleteCmd(),
		newAnalyzeCmd(),
		newFrameCmd(),
		newMCPCmd(),
		newWatchCmd(),
		newInitCmd(),
		newVersionCmd(),
	)
	return root
}

// loadConfig loads the configuration and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if manifestFlag != "" {
		cfg.Loop.Manifest = manifestFlag
	}
	if stateDirFlag != "" {
		cfg.Loop.StateDir = stateDirFlag
	}
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "loopd %s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "  commit: %s\n", gitCommit)
			fmt.Fprintf(cmd.OutOrStdout(), "  built:  %s\n", buildDate)
		},
	}
}
