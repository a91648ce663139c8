package memory

import (
	"regexp"
	"strings"
)

var (
	learningsHeading = regexp.MustCompile(`(?i)^(?:#{1,6}\s*)?(?:\*\*)?(?:key\s+)?(?:learnings|lessons(?:\s+learned)?):?(?:\*\*)?\s*:?\s*$`)
	anyHeading       = regexp.MustCompile(`^#{1,6}\s+\S`)
	boldLabel        = regexp.MustCompile(`^\*\*[^*]+\*\*\s*:?\s*$`)
)

// MineLearnings extracts the learnings written under a "Learnings" or
// "Lessons learned" heading in generated output. Each bullet is one
// learning, and so is each paragraph of prose. The block runs to the next
// heading or bold label. Several such blocks are merged; duplicates are
// dropped case-insensitively.
func MineLearnings(output string) []string {
	var (
		out     []string
		seen    = make(map[string]bool)
		para    []string
		inBlock bool
		inItem  bool
	)

	add := func(text string) {
		key := normalize(text)
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		out = append(out, text)
	}
	flush := func() {
		if len(para) > 0 {
			add(strings.Join(para, " "))
			para = para[:0]
		}
	}

	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)

		if learningsHeading.MatchString(trimmed) {
			flush()
			inBlock, inItem = true, false
			continue
		}
		if !inBlock {
			continue
		}

		switch {
		case anyHeading.MatchString(trimmed), boldLabel.MatchString(trimmed):
			flush()
			inBlock = false
		case trimmed == "":
			flush()
			inItem = false
		case bulletPrefix.MatchString(trimmed):
			flush()
			inItem = true
			add(strings.TrimSpace(bulletPrefix.ReplaceAllString(trimmed, "")))
		case inItem && (line[0] == ' ' || line[0] == '\t'):
			// Indented text continues the bullet above.
		default:
			inItem = false
			para = append(para, trimmed)
		}
	}
	flush()
	return out
}
