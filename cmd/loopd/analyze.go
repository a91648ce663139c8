package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/loopd/internal/recovery"
	"github.com/fyrsmithlabs/loopd/internal/registry"
	"github.com/fyrsmithlabs/loopd/internal/trajectory"
)

// loadTrajectory reads the stored trajectory of an item.
func loadTrajectory(id string) (*trajectory.Trajectory, error) {
	if err := registry.ValidateID(id); err != nil {
		return nil, err
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	traj, ok, err := trajectory.NewStore(cfg.Loop.StateDir).Load(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("no trajectory stored for %q", id)
	}
	return traj, nil
}

func newAnalyzeCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "analyze <id>",
		Short: "Analyze a stored trajectory",
		Long: `Report stuck symptoms, the recovery decision, the likely root cause and
the cost of continuing against restarting for an item's trajectory.

Examples:
  loopd analyze wire-the-loop
  loopd analyze wire-the-loop --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			traj, err := loadTrajectory(args[0])
			if err != nil {
				return err
			}

			a := recovery.Assess(traj)

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(a)
			}
			renderAnalysis(cmd.OutOrStdout(), traj, a)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func renderAnalysis(w io.Writer, traj *trajectory.Trajectory, a recovery.Assessment) {
	fmt.Fprintln(w, headerStyle.Render(a.ItemID)+" "+dimStyle.Render(traj.Problem))
	fmt.Fprintln(w)

	for _, at := range traj.Attempts {
		mark := failureStyle.Render("x")
		if at.Success {
			mark = successStyle.Render("ok")
		}
		line := fmt.Sprintf("  %d. %s %s", at.Seq, mark, at.Approach)
		if at.FailureReason != "" {
			line += dimStyle.Render(" (" + at.FailureReason + ")")
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, labelStyle.Render("attempts")+fmt.Sprintf("%d (%d failed)", a.Attempts, a.Failed))
	fmt.Fprintln(w, labelStyle.Render("tokens")+fmt.Sprint(a.Totals.Tokens))
	fmt.Fprintln(w, labelStyle.Render("confidence")+fmt.Sprintf("%d%%", a.Symptoms.StuckConfidence))
	if s := a.Symptoms.Symptoms(); len(s) > 0 {
		fmt.Fprintln(w, labelStyle.Render("symptoms")+strings.Join(s, ", "))
	}

	decision := dimStyle.Render("keep going")
	if a.Decision.Trigger {
		decision = warnStyle.Render("reframe: " + a.Decision.Reason)
	}
	fmt.Fprintln(w, labelStyle.Render("decision")+decision)
	fmt.Fprintln(w, labelStyle.Render("root cause")+a.RootCause)
	fmt.Fprintln(w, labelStyle.Render("recommend")+fmt.Sprintf("%s (%s)", a.Comparison.Recommendation, a.Comparison.Reason))
}

func newFrameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "frame <id>",
		Short: "Print the recovery prompt for a stored trajectory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			traj, err := loadTrajectory(args[0])
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), recovery.FormatPrompt(recovery.BuildFrame(traj)))
			return nil
		},
	}
}
