package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/loopd/internal/config"
	"github.com/fyrsmithlabs/loopd/internal/memory"
	"github.com/fyrsmithlabs/loopd/internal/registry"
)

const configTemplate = `# loopd configuration. LOOPD_* environment variables override these values,
# for example LOOPD_GENERATOR_MODEL=claude-sonnet-4-5.
loop:
  manifest: TASKS.md
  knowledge: KNOWLEDGE.md
  state_dir: .loopd
  max_iterations: 50

generator:
  backend: claude-cli
  timeout: 20m
  allowed_tools: [Read, Edit, Write, Bash]

gates:
  - name: build
    command: go build ./...
  - name: test
    command: go test ./...
    timeout: 10m

server:
  enabled: false
  port: 9191

# Publish run and iteration events to NATS.
# events:
#   url: nats://127.0.0.1:4222
#   subject: loopd

# Open a GitHub issue for every item the loop gives up on. Set the token
# with LOOPD_ESCALATION_TOKEN.
# escalation:
#   repo: owner/name
#   labels: [loopd]
`

const manifestTemplate = `# Tasks

## High Priority

- [ ] Describe the first task here
  - an acceptance criterion
`

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a starter config, manifest and knowledge document",
		Long: `Create loopd.yaml, the task manifest and the knowledge document in the
current directory. Existing files are left alone unless --force is given.

Examples:
  loopd init
  loopd init --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()

			cfgFile := configPath
			if cfgFile == "" {
				cfgFile = config.DefaultFile
			}
			wrote, err := writeIfAbsent(cfgFile, []byte(configTemplate), force)
			if err != nil {
				return err
			}
			report(cmd, cfgFile, wrote)

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			wrote, err = writeIfAbsent(cfg.Loop.Manifest, []byte(manifestTemplate), force)
			if err != nil {
				return err
			}
			report(cmd, cfg.Loop.Manifest, wrote)

			if _, err := os.Stat(cfg.Loop.Knowledge); errors.Is(err, fs.ErrNotExist) || force {
				if err := memory.SaveKnowledge(cfg.Loop.Knowledge, memory.NewKnowledge()); err != nil {
					return err
				}
				report(cmd, cfg.Loop.Knowledge, true)
			} else {
				report(cmd, cfg.Loop.Knowledge, false)
			}

			if err := os.MkdirAll(cfg.Loop.StateDir, 0o750); err != nil {
				return fmt.Errorf("creating state directory: %w", err)
			}
			fmt.Fprintf(out, "state directory %s\n", filepath.Clean(cfg.Loop.StateDir))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite existing files")
	return cmd
}

// writeIfAbsent writes data to path unless the file exists and force is
// false. It reports whether it wrote.
func writeIfAbsent(path string, data []byte, force bool) (bool, error) {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return false, err
		}
	}
	if err := registry.WriteAtomic(path, data); err != nil {
		return false, err
	}
	// Gate commands run from this file, so keep it private.
	if err := os.Chmod(path, 0o600); err != nil {
		return false, fmt.Errorf("restricting %s: %w", path, err)
	}
	return true, nil
}

func report(cmd *cobra.Command, path string, wrote bool) {
	if wrote {
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "kept %s\n", dimStyle.Render(path))
}
