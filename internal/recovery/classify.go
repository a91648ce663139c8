package recovery

import (
	"strings"

	"github.com/fyrsmithlabs/loopd/internal/trajectory"
)

const noFailures = "no failures to analyze"

// family is a keyword class used by the rule-based classifiers below.
type family struct {
	name     string
	keywords []string
	advice   string
}

// causeFamilies are checked in order; the first family any failure reason
// matches is the root cause.
var causeFamilies = []family{
	{
		name:     "interface/API limitation",
		keywords: []string{"api", "endpoint", "interface", "not supported", "unsupported", "limitation"},
		advice:   "Find a different interface that supports the operation, or restructure the task so it no longer needs it.",
	},
	{
		name:     "type/structural mismatch",
		keywords: []string{"type", "mismatch", "schema", "cannot convert", "incompatible"},
		advice:   "Introduce an explicit conversion at the boundary instead of forcing the shapes to match.",
	},
	{
		name:     "permission/authorization",
		keywords: []string{"permission", "denied", "unauthorized", "forbidden", "auth"},
		advice:   "Work within the access that is already granted, or make the missing permission an explicit prerequisite.",
	},
}

// mechanismFamilies classify approaches. When every failed approach falls in
// one family the suggestion points at a different class of mechanism.
var mechanismFamilies = []family{
	{
		name:     "refresh",
		keywords: []string{"refresh", "renew", "reload", "re-fetch", "refetch"},
		advice:   "Stop refreshing the existing resource; obtain a new one through a different flow.",
	},
	{
		name:     "retry",
		keywords: []string{"retry", "retries", "backoff", "try again", "re-run", "rerun"},
		advice:   "Stop retrying the same call; change what is called or how the result is produced.",
	},
	{
		name:     "polling",
		keywords: []string{"poll", "wait", "sleep", "timeout"},
		advice:   "Replace waiting or polling with an event, callback or synchronous path.",
	},
	{
		name:     "caching",
		keywords: []string{"cache", "caching", "memoize", "store locally"},
		advice:   "Take caching out of the path and work directly against the source of truth.",
	},
	{
		name:     "configuration",
		keywords: []string{"config", "setting", "flag", "environment variable", "env var"},
		advice:   "Stop adjusting configuration; change the code path itself.",
	},
	{
		name:     "manual patching",
		keywords: []string{"patch", "monkey", "hardcode", "hard-code", "override", "workaround", "work around"},
		advice:   "Replace local patches with a change at the interface boundary.",
	},
}

func (f family) matches(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range f.keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func failureReasons(t *trajectory.Trajectory) (reasons []string, failures int) {
	for _, a := range t.Attempts {
		if a.Success {
			continue
		}
		failures++
		if r := strings.TrimSpace(a.FailureReason); r != "" {
			reasons = append(reasons, r)
		}
	}
	return reasons, failures
}

// RootCause classifies the failure reasons of t by keyword family. Reasons
// that match no family are summarized by the first two distinct ones.
func RootCause(t *trajectory.Trajectory) string {
	if t == nil {
		return noFailures
	}
	reasons, failures := failureReasons(t)
	if failures == 0 {
		return noFailures
	}

	if f, ok := causeFamily(reasons); ok {
		return f.name
	}

	distinct := distinctFold(reasons)
	switch len(distinct) {
	case 0:
		return "unclassified: no failure reason recorded"
	case 1:
		return "unclassified: " + distinct[0]
	default:
		return "multiple causes: " + distinct[0] + "; " + distinct[1]
	}
}

func causeFamily(reasons []string) (family, bool) {
	for _, f := range causeFamilies {
		for _, r := range reasons {
			if f.matches(r) {
				return f, true
			}
		}
	}
	return family{}, false
}

func distinctFold(values []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, v := range values {
		k := strings.ToLower(v)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, v)
	}
	return out
}

// suggest picks a new direction. A mechanism shared by every failed approach
// comes first, then the advice for the classified root cause.
func suggest(t *trajectory.Trajectory) string {
	var approaches []string
	for _, a := range t.Attempts {
		if !a.Success {
			approaches = append(approaches, a.Approach)
		}
	}
	if len(approaches) == 0 {
		return ""
	}

	for _, f := range mechanismFamilies {
		all := true
		for _, a := range approaches {
			if !f.matches(a) {
				all = false
				break
			}
		}
		if all {
			return "Every attempt relied on " + f.name + ". " + f.advice
		}
	}

	reasons, _ := failureReasons(t)
	if f, ok := causeFamily(reasons); ok {
		return f.advice
	}
	return ""
}
