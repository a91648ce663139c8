package main

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/loopd/internal/monitor"
)

func newWatchCmd() *cobra.Command {
	var (
		url      string
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch a running loop in a terminal dashboard",
		Long: `Poll the status server of a running loop and show progress, the current
item, recent iterations and tokens per iteration. The loop must run with
server.enabled: true.

Examples:
  loopd watch
  loopd watch --url http://127.0.0.1:9191 --interval 1s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if url == "" {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				url = "http://" + cfg.Server.Addr()
			}
			if interval <= 0 {
				return fmt.Errorf("interval must be positive, got %s", interval)
			}

			model := monitor.NewModel(monitor.NewStatusClient(url), interval)
			_, err := tea.NewProgram(model,
				tea.WithAltScreen(),
				tea.WithContext(cmd.Context()),
				tea.WithOutput(cmd.OutOrStdout()),
			).Run()
			return err
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "status server URL (default from server.host and server.port)")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "refresh interval")
	return cmd
}
