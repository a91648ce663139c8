package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/loopd/internal/registry"
	"github.com/fyrsmithlabs/loopd/internal/trajectory"
	"github.com/fyrsmithlabs/loopd/pkg/git"
)

func newStatusCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show manifest progress",
		Long: `Show item counts, the next ready item and items with a stored trajectory.

Examples:
  loopd status
  loopd status --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			state, err := registry.LoadFile(cfg.Loop.Manifest)
			if err != nil {
				return err
			}
			state = registry.Refresh(state)

			inFlight, err := trajectory.NewStore(cfg.Loop.StateDir).List()
			if err != nil {
				return err
			}

			// Outside a git repository the branch is left out.
			branch, _ := git.DetectBranch(cfg.Loop.RepoDir)

			if asJSON {
				return writeStatusJSON(cmd.OutOrStdout(), branch, state, inFlight)
			}
			renderStatus(cmd.OutOrStdout(), cfg.Loop.Manifest, branch, state, inFlight)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

type statusJSON struct {
	Branch       string          `json:"branch,omitempty"`
	Counts       registry.Counts `json:"counts"`
	Next         *registry.Item  `json:"next,omitempty"`
	Trajectories []string        `json:"trajectories"`
	Items        []registry.Item `json:"items"`
}

func writeStatusJSON(w io.Writer, branch string, state registry.State, inFlight []string) error {
	out := statusJSON{Branch: branch, Counts: state.Counts, Trajectories: inFlight, Items: state.Items}
	if out.Trajectories == nil {
		out.Trajectories = []string{}
	}
	if out.Items == nil {
		out.Items = []registry.Item{}
	}
	if next, ok := registry.NextReady(state); ok {
		out.Next = &next
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func renderStatus(w io.Writer, manifest, branch string, state registry.State, inFlight []string) {
	c := state.Counts
	fmt.Fprintln(w, headerStyle.Render("loopd status")+" "+dimStyle.Render(manifest))
	fmt.Fprintln(w)

	if branch != "" {
		fmt.Fprintln(w, labelStyle.Render("branch")+branch)
	}
	fmt.Fprintln(w, labelStyle.Render("complete")+successStyle.Render(fmt.Sprintf("%d/%d", c.Complete, c.Total)))
	fmt.Fprintln(w, labelStyle.Render("pending")+fmt.Sprint(c.Pending))
	fmt.Fprintln(w, labelStyle.Render("in progress")+warnStyle.Render(fmt.Sprint(c.InProgress)))
	fmt.Fprintln(w, labelStyle.Render("blocked")+failureStyle.Render(fmt.Sprint(c.Blocked)))
	fmt.Fprintln(w)

	if next, ok := registry.NextReady(state); ok {
		fmt.Fprintln(w, labelStyle.Render("next")+next.ID+dimStyle.Render(" "+next.Title))
	} else {
		fmt.Fprintln(w, labelStyle.Render("next")+dimStyle.Render("nothing ready"))
	}

	if len(inFlight) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, sectionStyle.Render("Trajectories"))
		fmt.Fprintln(w, "  "+strings.Join(inFlight, ", "))
	}

	var blocked []string
	for _, it := range state.Items {
		if it.Status == registry.StatusBlocked {
			blocked = append(blocked, fmt.Sprintf("  %s %s", it.ID,
				dimStyle.Render("waiting on "+strings.Join(registry.Unresolved(state, it), ", "))))
		}
	}
	if len(blocked) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, sectionStyle.Render("Blocked"))
		for _, b := range blocked {
			fmt.Fprintln(w, b)
		}
	}
}
