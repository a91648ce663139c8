package orchestrator

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/loopd/internal/recovery"
	"github.com/fyrsmithlabs/loopd/internal/registry"
	"github.com/fyrsmithlabs/loopd/internal/trajectory"
)

const (
	maxApproachLen = 240
	maxOutcomeLen  = 1500
)

const instructions = `## Instructions

Implement the task above in this repository. Work only on this task.
When you are done, list anything a later task should know under a
"## Learnings" heading, one bullet per learning.
`

// buildPrompt assembles the prompt for one attempt: the work item, the
// memory context, the last failure when retrying and the recovery frame
// when reframing.
func buildPrompt(item registry.Item, memoryContext string, traj *trajectory.Trajectory, frame *recovery.Frame) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Task: %s\n\n", item.Title)
	fmt.Fprintf(&b, "ID: %s\n", item.ID)
	if item.Section != "" {
		fmt.Fprintf(&b, "Section: %s\n", item.Section)
	}
	if item.Priority != "" {
		fmt.Fprintf(&b, "Priority: %s\n", item.Priority)
	}
	if len(item.AcceptanceCriteria) > 0 {
		b.WriteString("\nAcceptance criteria:\n")
		for _, c := range item.AcceptanceCriteria {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	b.WriteString("\n")

	if memoryContext != "" {
		b.WriteString(memoryContext)
		if !strings.HasSuffix(memoryContext, "\n") {
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	switch {
	case frame != nil:
		b.WriteString(recovery.FormatPrompt(*frame))
		b.WriteString("\n")
	case traj != nil:
		if last, ok := traj.LastAttempt(); ok && last.Failed() {
			fmt.Fprintf(&b, "## Previous attempt\n\nAttempt %d failed: %s\n", last.Seq, last.FailureReason)
			if last.Outcome != "" && last.Outcome != last.FailureReason {
				fmt.Fprintf(&b, "\n%s\n", last.Outcome)
			}
			b.WriteString("\n")
		}
	}

	b.WriteString(instructions)
	return b.String()
}

// approachOf summarizes generated output as the approach of an attempt: its
// first line of prose, without markdown markers.
func approachOf(output string) string {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#*->` "))
		if line == "" {
			continue
		}
		return truncate(line, maxApproachLen)
	}
	return "(no output)"
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-3]) + "..."
}
