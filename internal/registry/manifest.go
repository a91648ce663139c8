package registry

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// tokenKind tags a manifest line.
type tokenKind int

const (
	tokOther tokenKind = iota
	tokBlank
	tokHeading
	tokItem
	tokCriterion
)

// token is one tagged manifest line.
type token struct {
	kind tokenKind
	line int

	// heading
	heading string

	// item
	mark  byte
	title string

	// criterion
	text string
}

var (
	itemPattern      = regexp.MustCompile(`^\s*[-*+]\s+\[([ xX~!])\]\s+(.*\S)\s*$`)
	criterionPattern = regexp.MustCompile(`^(?:\s{2,}|\t)[-*+]\s+(.*\S)\s*$`)
	headingPattern   = regexp.MustCompile(`^#{1,6}\s+(.*?)\s*#*\s*$`)

	completedSuffix = regexp.MustCompile(`(?i)\s*\(completed:\s*([^()]*)\)\s*$`)
	dependsSuffix   = regexp.MustCompile(`(?i)\s*\((?:depends on|depends|after):\s*([^()]*)\)\s*$`)
	idSuffix        = regexp.MustCompile(`\s*\{#([^}\s]+)\}\s*$`)

	idPattern   = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)
	slugReplace = regexp.MustCompile(`[^a-z0-9]+`)
)

const maxSlugLen = 48

// tokenize splits manifest text into tagged lines.
func tokenize(text string) []token {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	tokens := make([]token, 0, len(lines))
	for i, raw := range lines {
		tok := token{kind: tokOther, line: i + 1}
		switch {
		case strings.TrimSpace(raw) == "":
			tok.kind = tokBlank
		case itemPattern.MatchString(raw):
			m := itemPattern.FindStringSubmatch(raw)
			tok.kind = tokItem
			tok.mark = m[1][0]
			tok.title = m[2]
		case criterionPattern.MatchString(raw):
			tok.kind = tokCriterion
			tok.text = criterionPattern.FindStringSubmatch(raw)[1]
		case headingPattern.MatchString(raw):
			// A heading with no text names no section.
			if h := headingPattern.FindStringSubmatch(raw)[1]; h != "" {
				tok.kind = tokHeading
				tok.heading = h
			}
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

// Parse reads a work manifest. Parsing is tolerant: lines that are not
// recognized items, criteria or headings are skipped, never fatal.
func Parse(manifest string) State {
	var (
		state    State
		section  string
		priority Priority
		seen     = make(map[string]bool)
		current  = -1
	)

	for _, tok := range tokenize(manifest) {
		switch tok.kind {
		case tokHeading:
			section = tok.heading
			priority = priorityFromHeading(tok.heading)
			current = -1
		case tokItem:
			it, ok := parseItem(tok)
			if !ok {
				current = -1
				continue
			}
			id := uniqueID(it.ID, seen)
			if ValidateID(id) != nil {
				id = uniqueID(Slug(it.Title), seen)
			}
			it.ID = id
			seen[it.ID] = true
			it.Section = section
			it.Priority = priority
			state.Items = append(state.Items, it)
			current = len(state.Items) - 1
		case tokCriterion:
			if current >= 0 {
				state.Items[current].AcceptanceCriteria = append(state.Items[current].AcceptanceCriteria, tok.text)
			}
		case tokBlank:
			// Criteria may be separated from their item by blank lines.
		default:
			current = -1
		}
	}

	normalizeBlocked(&state)
	state.recount()
	return state
}

// parseItem builds an Item from an item token, peeling suffix annotations
// off the end of the title in any order.
func parseItem(tok token) (Item, bool) {
	it := Item{Status: statusFromMark(tok.mark)}
	title := tok.title
	explicitID := ""
	var completedRaw string

	for {
		if m := completedSuffix.FindStringSubmatchIndex(title); m != nil {
			completedRaw = strings.TrimSpace(title[m[2]:m[3]])
			title = title[:m[0]]
			continue
		}
		if m := dependsSuffix.FindStringSubmatchIndex(title); m != nil {
			it.DependsOn = append(splitList(title[m[2]:m[3]]), it.DependsOn...)
			title = title[:m[0]]
			continue
		}
		if m := idSuffix.FindStringSubmatchIndex(title); m != nil {
			explicitID = title[m[2]:m[3]]
			title = title[:m[0]]
			continue
		}
		break
	}

	it.Title = strings.TrimSpace(title)
	if it.Title == "" {
		return Item{}, false
	}

	if explicitID != "" && ValidateID(explicitID) == nil {
		it.ID = explicitID
	} else {
		it.ID = Slug(it.Title)
	}

	if it.Status == StatusComplete && completedRaw != "" {
		if t, ok := parseTimestamp(completedRaw); ok {
			it.CompletedAt = t
		}
	}
	return it, true
}

// Serialize renders state in canonical manifest form. Parse(Serialize(s))
// reproduces every recognized item of s.
func Serialize(state State) string {
	var b strings.Builder
	section := ""
	for i, it := range state.Items {
		if it.Section != section {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			if it.Section != "" {
				fmt.Fprintf(&b, "## %s\n\n", it.Section)
			}
			section = it.Section
		}
		b.WriteString(formatItem(it, i, state.Items))
		b.WriteString("\n")
		for _, c := range it.AcceptanceCriteria {
			fmt.Fprintf(&b, "  - %s\n", c)
		}
	}
	return b.String()
}

// formatItem renders one item line. An explicit id is written only when the
// id would not be re-derived from the title at this position.
func formatItem(it Item, pos int, all []Item) string {
	var b strings.Builder
	fmt.Fprintf(&b, "- [%c] %s", markFromStatus(it.Status), it.Title)
	if it.ID != derivedID(pos, all) {
		fmt.Fprintf(&b, " {#%s}", it.ID)
	}
	if len(it.DependsOn) > 0 {
		fmt.Fprintf(&b, " (depends: %s)", strings.Join(it.DependsOn, ", "))
	}
	if it.Status == StatusComplete && !it.CompletedAt.IsZero() {
		fmt.Fprintf(&b, " (Completed: %s)", formatTimestamp(it.CompletedAt))
	}
	return b.String()
}

// derivedID replays id assignment for the item at pos as Parse would do it
// without an explicit id.
func derivedID(pos int, all []Item) string {
	seen := make(map[string]bool, pos)
	for i := 0; i < pos; i++ {
		seen[all[i].ID] = true
	}
	return uniqueID(Slug(all[pos].Title), seen)
}

// Slug turns a title into an id: lower-case alphanumerics joined by hyphens.
func Slug(title string) string {
	s := slugReplace.ReplaceAllString(strings.ToLower(title), "-")
	s = strings.Trim(s, "-")
	if len(s) > maxSlugLen {
		s = strings.TrimRight(s[:maxSlugLen], "-")
	}
	if s == "" {
		return "item"
	}
	return s
}

// ValidateID checks if an explicit id is safe for use in file names.
func ValidateID(id string) error {
	if id == "" || len(id) > 128 {
		return ErrInvalidID
	}
	if !idPattern.MatchString(id) {
		return ErrInvalidID
	}
	if id == "." || id == ".." || filepath.Clean(id) != id {
		return ErrInvalidID
	}
	return nil
}

func uniqueID(base string, seen map[string]bool) string {
	if !seen[base] {
		return base
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s-%d", base, n)
		if !seen[candidate] {
			return candidate
		}
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func statusFromMark(mark byte) Status {
	switch mark {
	case 'x', 'X':
		return StatusComplete
	case '~':
		return StatusInProgress
	case '!':
		return StatusBlocked
	default:
		return StatusPending
	}
}

func markFromStatus(s Status) byte {
	switch s {
	case StatusComplete:
		return 'x'
	case StatusInProgress:
		return '~'
	case StatusBlocked:
		return '!'
	default:
		return ' '
	}
}

func priorityFromHeading(heading string) Priority {
	lower := strings.ToLower(heading)
	switch {
	case strings.Contains(lower, "high"):
		return PriorityHigh
	case strings.Contains(lower, "medium"):
		return PriorityMedium
	case strings.Contains(lower, "low"):
		return PriorityLow
	default:
		return PriorityNone
	}
}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

func parseTimestamp(raw string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// formatTimestamp writes a bare date when the time of day carries no
// information, otherwise full RFC 3339.
func formatTimestamp(t time.Time) string {
	t = t.UTC()
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format("2006-01-02")
	}
	return t.Format(time.RFC3339Nano)
}
