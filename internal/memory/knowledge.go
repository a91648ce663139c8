package memory

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/loopd/internal/registry"
)

// Section headings of the knowledge document.
const (
	SectionTechStack = "Tech Stack"
	SectionPatterns  = "Patterns"
	SectionMistakes  = "Common Mistakes"
	SectionDecisions = "Decision Log"
	SectionLearnings = "Recent Learnings"

	defaultTitle = "Project Knowledge"
)

// Mistake is a recurring failure with the number of times it was recorded.
type Mistake struct {
	Text  string
	Count int
}

// Learning is one rolling entry, tagged with the item that produced it.
type Learning struct {
	ItemID string
	Text   string
}

// Knowledge is the parsed knowledge document. Sections loopd does not
// recognize are kept verbatim in Trailing and written back after the known
// ones.
type Knowledge struct {
	Title     string
	Preamble  string
	TechStack []string
	Patterns  []string
	Mistakes  []Mistake
	Decisions []string
	Learnings []Learning
	Trailing  string
}

var (
	mistakeCount = regexp.MustCompile(`^(.*?)\s*\(seen (\d+)x\)$`)
	learningTag  = regexp.MustCompile(`^\[([^\]]+)\]\s+(.+)$`)
	bulletPrefix = regexp.MustCompile(`^\s*(?:[-*+]|\d+[.)])\s+`)
)

// NewKnowledge returns an empty document.
func NewKnowledge() *Knowledge {
	return &Knowledge{Title: defaultTitle}
}

// ParseKnowledge parses a knowledge document. It never fails: text before
// the first section is the preamble and unknown sections are preserved.
func ParseKnowledge(text string) *Knowledge {
	k := NewKnowledge()

	var (
		section   string
		preamble  []string
		trailing  []string
		inOpaque  bool
		titleSeen bool
	)

	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "# ") && !titleSeen && section == "" && !inOpaque &&
			strings.TrimSpace(strings.Join(preamble, "")) == "" {
			k.Title = strings.TrimSpace(trimmed[2:])
			titleSeen = true
			preamble = nil
			continue
		}
		if strings.HasPrefix(trimmed, "## ") {
			name := canonicalSection(strings.TrimSpace(trimmed[3:]))
			if name != "" {
				section, inOpaque = name, false
				continue
			}
			section, inOpaque = "", true
		}

		switch {
		case inOpaque:
			trailing = append(trailing, line)
		case section == "":
			preamble = append(preamble, line)
		case trimmed != "":
			k.addEntry(section, bulletPrefix.ReplaceAllString(trimmed, ""))
		}
	}

	k.Preamble = strings.TrimSpace(strings.Join(preamble, "\n"))
	k.Trailing = strings.TrimSpace(strings.Join(trailing, "\n"))
	return k
}

func canonicalSection(heading string) string {
	for _, s := range []string{SectionTechStack, SectionPatterns, SectionMistakes, SectionDecisions, SectionLearnings} {
		if strings.EqualFold(heading, s) {
			return s
		}
	}
	return ""
}

func (k *Knowledge) addEntry(section, entry string) {
	switch section {
	case SectionTechStack:
		k.TechStack = append(k.TechStack, entry)
	case SectionPatterns:
		k.Patterns = append(k.Patterns, entry)
	case SectionDecisions:
		k.Decisions = append(k.Decisions, entry)
	case SectionMistakes:
		m := Mistake{Text: entry, Count: 1}
		if match := mistakeCount.FindStringSubmatch(entry); match != nil {
			if n, err := strconv.Atoi(match[2]); err == nil && n > 0 {
				m = Mistake{Text: match[1], Count: n}
			}
		}
		k.Mistakes = append(k.Mistakes, m)
	case SectionLearnings:
		l := Learning{Text: entry}
		if match := learningTag.FindStringSubmatch(entry); match != nil {
			l = Learning{ItemID: match[1], Text: match[2]}
		}
		k.Learnings = append(k.Learnings, l)
	}
}

// Serialize renders the document. Every known section is written, even
// when empty, so a fresh file shows its layout.
func (k *Knowledge) Serialize() string {
	var b strings.Builder

	title := k.Title
	if title == "" {
		title = defaultTitle
	}
	fmt.Fprintf(&b, "# %s\n", title)
	if k.Preamble != "" {
		fmt.Fprintf(&b, "\n%s\n", k.Preamble)
	}

	writeList := func(name string, entries []string) {
		fmt.Fprintf(&b, "\n## %s\n", name)
		if len(entries) > 0 {
			b.WriteString("\n")
		}
		for _, e := range entries {
			fmt.Fprintf(&b, "- %s\n", e)
		}
	}

	writeList(SectionTechStack, k.TechStack)
	writeList(SectionPatterns, k.Patterns)

	mistakes := make([]string, len(k.Mistakes))
	for i, m := range k.Mistakes {
		mistakes[i] = m.String()
	}
	writeList(SectionMistakes, mistakes)

	writeList(SectionDecisions, k.Decisions)

	learnings := make([]string, len(k.Learnings))
	for i, l := range k.Learnings {
		learnings[i] = l.String()
	}
	writeList(SectionLearnings, learnings)

	if k.Trailing != "" {
		fmt.Fprintf(&b, "\n%s\n", k.Trailing)
	}
	return b.String()
}

func (m Mistake) String() string {
	if m.Count > 1 {
		return fmt.Sprintf("%s (seen %dx)", m.Text, m.Count)
	}
	return m.Text
}

func (l Learning) String() string {
	if l.ItemID != "" {
		return "[" + l.ItemID + "] " + l.Text
	}
	return l.Text
}

// AddLearnings appends texts not already present (case-insensitive) and
// drops the oldest entries beyond max. A max of zero or less means no cap.
// It returns the learnings actually added.
func (k *Knowledge) AddLearnings(itemID string, texts []string, max int) []Learning {
	seen := make(map[string]bool, len(k.Learnings))
	for _, l := range k.Learnings {
		seen[normalize(l.Text)] = true
	}

	var added []Learning
	for _, t := range texts {
		t = strings.TrimSpace(t)
		key := normalize(t)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		l := Learning{ItemID: itemID, Text: t}
		k.Learnings = append(k.Learnings, l)
		added = append(added, l)
	}

	if max > 0 && len(k.Learnings) > max {
		k.Learnings = append([]Learning(nil), k.Learnings[len(k.Learnings)-max:]...)
	}
	return added
}

// RecordMistake increments the count of a known mistake or adds it.
// It returns the new count.
func (k *Knowledge) RecordMistake(text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	key := normalize(text)
	for i := range k.Mistakes {
		if normalize(k.Mistakes[i].Text) == key {
			k.Mistakes[i].Count++
			return k.Mistakes[i].Count
		}
	}
	k.Mistakes = append(k.Mistakes, Mistake{Text: text, Count: 1})
	return 1
}

// AddDecision appends an entry to the decision log.
func (k *Knowledge) AddDecision(entry string) {
	if entry = strings.TrimSpace(entry); entry != "" {
		k.Decisions = append(k.Decisions, entry)
	}
}

// TopMistakes returns up to n mistakes, most frequent first. Ties keep
// document order.
func (k *Knowledge) TopMistakes(n int) []Mistake {
	out := append([]Mistake(nil), k.Mistakes...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// LoadKnowledge reads the document at path. A missing file yields an
// empty document.
func LoadKnowledge(path string) (*Knowledge, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return NewKnowledge(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading knowledge document: %w", err)
	}
	return ParseKnowledge(string(data)), nil
}

// SaveKnowledge writes k to path atomically.
func SaveKnowledge(path string, k *Knowledge) error {
	if err := registry.WriteAtomic(path, []byte(k.Serialize())); err != nil {
		return fmt.Errorf("writing knowledge document: %w", err)
	}
	return nil
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
