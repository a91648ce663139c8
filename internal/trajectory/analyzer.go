package trajectory

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// failurePrefixLen is how much of an earlier failure reason a later
	// approach must repeat to count as circular.
	failurePrefixLen = 20

	// minAttempts is the attempt count below which repetition and decline
	// are not judged.
	minAttempts = 3

	// declineRatio is the fraction of the first approach's length below
	// which the last approach counts as declining.
	declineRatio = 0.7

	// FailureThreshold is the failed-attempt count at which a trajectory is
	// considered over budget and recovery always triggers.
	FailureThreshold = 3

	// StuckThreshold is the confidence at which IsStuck is set.
	StuckThreshold = 50

	// RecoveryConfidence is the confidence that triggers recovery on its own.
	RecoveryConfidence = 75

	weightRepeated  = 25
	weightCircular  = 30
	weightDeclining = 20
	weightThreshold = 25
)

// SymptomReport is derived from a trajectory and never stored.
type SymptomReport struct {
	RepeatedApproaches bool `json:"repeated_approaches"`
	CircularReasoning  bool `json:"circular_reasoning"`
	DecliningQuality   bool `json:"declining_quality"`
	ThresholdExceeded  bool `json:"threshold_exceeded"`

	// StuckConfidence is 0-100.
	StuckConfidence int  `json:"stuck_confidence"`
	IsStuck         bool `json:"is_stuck"`
}

// Symptoms names the qualitative symptoms that are set.
func (r SymptomReport) Symptoms() []string {
	var out []string
	if r.RepeatedApproaches {
		out = append(out, "repeated approaches")
	}
	if r.CircularReasoning {
		out = append(out, "circular reasoning")
	}
	if r.DecliningQuality {
		out = append(out, "declining quality")
	}
	return out
}

// Analyze inspects a trajectory for signs that further attempts are unlikely
// to succeed without reframing. Matching is plain string comparison.
func Analyze(t *Trajectory) SymptomReport {
	var r SymptomReport
	if t == nil {
		return r
	}

	r.RepeatedApproaches = repeatedApproaches(t.Attempts)
	r.CircularReasoning = circularReasoning(t.Attempts)
	r.DecliningQuality = decliningQuality(t.Attempts)
	r.ThresholdExceeded = t.FailedCount() >= FailureThreshold

	if r.RepeatedApproaches {
		r.StuckConfidence += weightRepeated
	}
	if r.CircularReasoning {
		r.StuckConfidence += weightCircular
	}
	if r.DecliningQuality {
		r.StuckConfidence += weightDeclining
	}
	if r.ThresholdExceeded {
		r.StuckConfidence += weightThreshold
	}
	r.IsStuck = r.StuckConfidence >= StuckThreshold
	return r
}

// Decision is the outcome of ShouldTriggerRecovery.
type Decision struct {
	Trigger bool   `json:"trigger"`
	Reason  string `json:"reason,omitempty"`
}

// ShouldTriggerRecovery decides whether to reframe. The first matching rule
// wins: failed-attempt threshold, then high confidence, then two or more
// qualitative symptoms.
func ShouldTriggerRecovery(failedCount int, r SymptomReport) Decision {
	if failedCount >= FailureThreshold {
		return Decision{
			Trigger: true,
			Reason:  fmt.Sprintf("%d failed attempts (threshold %d)", failedCount, FailureThreshold),
		}
	}
	if r.StuckConfidence >= RecoveryConfidence {
		return Decision{
			Trigger: true,
			Reason:  fmt.Sprintf("stuck confidence %d (threshold %d)", r.StuckConfidence, RecoveryConfidence),
		}
	}
	if symptoms := r.Symptoms(); len(symptoms) >= 2 {
		return Decision{
			Trigger: true,
			Reason:  "multiple symptoms: " + strings.Join(symptoms, ", "),
		}
	}
	return Decision{}
}

func normalizeApproach(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func repeatedApproaches(attempts []Attempt) bool {
	if len(attempts) < minAttempts {
		return false
	}
	distinct := make(map[string]struct{}, len(attempts))
	for _, a := range attempts {
		distinct[normalizeApproach(a.Approach)] = struct{}{}
	}
	return len(distinct) < len(attempts)
}

func circularReasoning(attempts []Attempt) bool {
	for i := 2; i < len(attempts); i++ {
		approach := strings.ToLower(attempts[i].Approach)
		for j := 0; j < i; j++ {
			prefix := reasonPrefix(attempts[j].FailureReason)
			if prefix != "" && strings.Contains(approach, prefix) {
				return true
			}
		}
	}
	return false
}

func reasonPrefix(reason string) string {
	reason = strings.ToLower(strings.TrimSpace(reason))
	if utf8.RuneCountInString(reason) <= failurePrefixLen {
		return reason
	}
	return string([]rune(reason)[:failurePrefixLen])
}

// decliningQuality compares raw approach lengths. It is a weak proxy and
// misfires on terse but correct restatements.
func decliningQuality(attempts []Attempt) bool {
	if len(attempts) < minAttempts {
		return false
	}
	first := utf8.RuneCountInString(attempts[0].Approach)
	last := utf8.RuneCountInString(attempts[len(attempts)-1].Approach)
	return float64(last) < declineRatio*float64(first)
}
