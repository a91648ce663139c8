package memory

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/loopd/internal/registry"
	"github.com/fyrsmithlabs/loopd/pkg/git"
)

const (
	upcomingItems    = 5
	contextMistakes  = 5
	contextDecisions = 5
	truncatedMarker  = "... (truncated)"
)

// Layers is the raw material for one iteration's memory context.
type Layers struct {
	// State is the registry, for progress and the next items (layer 3).
	State registry.State
	// Knowledge is the project knowledge document (layer 2).
	Knowledge *Knowledge
	// Commits is the recent commit window (layer 1).
	Commits []git.Commit
	// Lessons are index hits for the item in flight.
	Lessons []Lesson
}

// BuildContext renders the layers as markdown, most important first:
// progress, knowledge, relevant lessons, then commits. Sections are added
// whole while they fit in budget characters; the first one that does not
// fit is cut at a line boundary and the rest are dropped. A budget of zero
// or less means unbounded.
func BuildContext(l Layers, budget int) string {
	sections := []string{
		renderProgress(l.State),
		renderKnowledge(l.Knowledge),
		renderLessons(l.Lessons),
		renderCommits(l.Commits),
	}

	var b strings.Builder
	for _, s := range sections {
		if s == "" {
			continue
		}
		if b.Len() > 0 {
			s = "\n" + s
		}
		if budget > 0 && b.Len()+len(s) > budget {
			b.WriteString(truncateLines(s, budget-b.Len()))
			break
		}
		b.WriteString(s)
	}
	return b.String()
}

// truncateLines keeps whole lines of s within limit characters, marker
// included. It returns "" when not even the marker fits.
func truncateLines(s string, limit int) string {
	room := limit - len(truncatedMarker) - 1
	if room <= 0 {
		return ""
	}
	var b strings.Builder
	for _, line := range strings.SplitAfter(s, "\n") {
		if b.Len()+len(line) > room {
			break
		}
		b.WriteString(line)
	}
	if b.Len() == 0 {
		return ""
	}
	b.WriteString(truncatedMarker + "\n")
	return b.String()
}

func renderProgress(state registry.State) string {
	c := state.Counts
	if c.Total == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("## Progress\n\n")
	fmt.Fprintf(&b, "%d/%d complete, %d in progress, %d pending, %d blocked\n",
		c.Complete, c.Total, c.InProgress, c.Pending, c.Blocked)

	var next []string
	for _, it := range state.Items {
		if it.Status == registry.StatusPending && len(registry.Unresolved(state, it)) == 0 {
			next = append(next, it.Title)
			if len(next) == upcomingItems {
				break
			}
		}
	}
	if len(next) > 0 {
		b.WriteString("\nUp next:\n")
		for _, t := range next {
			fmt.Fprintf(&b, "- %s\n", t)
		}
	}
	return b.String()
}

func renderKnowledge(k *Knowledge) string {
	if k == nil {
		return ""
	}

	var b strings.Builder
	list := func(title string, entries []string) {
		if len(entries) == 0 {
			return
		}
		fmt.Fprintf(&b, "\n### %s\n", title)
		for _, e := range entries {
			fmt.Fprintf(&b, "- %s\n", e)
		}
	}

	list(SectionTechStack, k.TechStack)
	list(SectionPatterns, k.Patterns)

	var mistakes []string
	for _, m := range k.TopMistakes(contextMistakes) {
		mistakes = append(mistakes, m.String())
	}
	list(SectionMistakes, mistakes)

	decisions := k.Decisions
	if len(decisions) > contextDecisions {
		decisions = decisions[len(decisions)-contextDecisions:]
	}
	list(SectionDecisions, decisions)

	var learnings []string
	for _, l := range k.Learnings {
		learnings = append(learnings, l.Text)
	}
	list(SectionLearnings, learnings)

	if b.Len() == 0 {
		return ""
	}
	return "## Project knowledge\n" + b.String()
}

func renderLessons(lessons []Lesson) string {
	if len(lessons) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Relevant lessons\n\n")
	for _, l := range lessons {
		fmt.Fprintf(&b, "- (%s) %s\n", l.Kind, l.Text)
	}
	return b.String()
}

func renderCommits(commits []git.Commit) string {
	if len(commits) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Recent commits\n\n")
	for _, c := range commits {
		fmt.Fprintf(&b, "- %s %s\n", c.ShortHash(), c.Subject)
		for _, lesson := range c.Lessons {
			fmt.Fprintf(&b, "  - Lesson: %s\n", lesson)
		}
	}
	return b.String()
}
