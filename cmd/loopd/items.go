package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/loopd/internal/registry"
)

func newNextCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "next",
		Short: "Print the next ready item",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			state, err := registry.LoadFile(cfg.Loop.Manifest)
			if err != nil {
				return err
			}

			next, ok := registry.NextReady(registry.Refresh(state))
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing ready")
				return nil
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\t%s\n", next.ID, next.Title)
			for _, c := range next.AcceptanceCriteria {
				fmt.Fprintf(out, "  - %s\n", c)
			}
			return nil
		},
	}
}

func newCompleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete <id>",
		Short: "Mark an item complete",
		Long: `Mark an item complete and unblock the items that depended on it.

Examples:
  loopd complete parse-config`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			state, err := registry.LoadFile(cfg.Loop.Manifest)
			if err != nil {
				return err
			}

			before := registry.Refresh(state)
			after, err := registry.Complete(before, args[0])
			if err != nil {
				return err
			}
			if err := registry.SaveFile(cfg.Loop.Manifest, after); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "completed %s\n", args[0])
			if unblocked := newlyPending(before, after); len(unblocked) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "unblocked %s\n", strings.Join(unblocked, ", "))
			}
			return nil
		},
	}
}

// newlyPending returns the ids blocked in before and pending in after.
func newlyPending(before, after registry.State) []string {
	var out []string
	for _, it := range after.Items {
		if it.Status != registry.StatusPending {
			continue
		}
		prev, err := registry.Find(before, it.ID)
		if err == nil && prev.Status == registry.StatusBlocked {
			out = append(out, it.ID)
		}
	}
	return out
}
