package recovery

import (
	"fmt"
	"math"
	"time"

	"github.com/fyrsmithlabs/loopd/internal/trajectory"
)

// Recommendation is the outcome of a cost comparison.
type Recommendation string

const (
	RecommendContinue   Recommendation = "continue"
	RecommendCleanSlate Recommendation = "clean_slate"
)

const (
	continueAttempts   = 3
	continueBase       = 0.5
	continuePenalty    = 0.1
	continueFloor      = 0.05
	restartAttempts    = 2
	restartBase        = 0.5
	restartBonus       = 0.05
	restartCeiling     = 0.7
	savingsThreshold   = 10000 // tokens
	gainThresholdPoint = 20    // percentage points
)

// Estimate projects one strategy.
type Estimate struct {
	Attempts           int     `json:"attempts"`
	SuccessProbability float64 `json:"success_probability"`

	// ExpectedTokens is the token cost per expected success.
	ExpectedTokens  float64       `json:"expected_tokens"`
	ExpectedElapsed time.Duration `json:"expected_elapsed"`
}

// CostComparison weighs continuing the current line of attempts against
// restarting from a recovery frame.
type CostComparison struct {
	Continue Estimate `json:"continue"`
	Restart  Estimate `json:"restart"`

	// Savings is Continue.ExpectedTokens minus Restart.ExpectedTokens.
	Savings float64 `json:"savings"`

	// ProbabilityGain is in percentage points.
	ProbabilityGain float64 `json:"probability_gain"`

	Recommendation Recommendation `json:"recommendation"`
	Reason         string         `json:"reason"`
}

// CompareCosts projects the cost of continuing against the cost of a clean
// slate, from the observed average cost per attempt. Continuing loses
// success probability with every failure; restarting gains a little with
// every constraint learned, within a ceiling.
func CompareCosts(t *trajectory.Trajectory) CostComparison {
	var (
		failures    int
		constraints int
		avgTokens   float64
		avgElapsed  time.Duration
	)
	if t != nil {
		failures = t.FailedCount()
		constraints = len(ExtractConstraints(t))
		if n := len(t.Attempts); n > 0 {
			avgTokens = float64(t.Totals.Tokens) / float64(n)
			avgElapsed = t.Totals.Elapsed / time.Duration(n)
		}
	}

	pContinue := math.Max(continueFloor, continueBase-continuePenalty*float64(failures))
	pRestart := math.Min(restartCeiling, restartBase+restartBonus*float64(constraints))

	cmp := CostComparison{
		Continue: project(continueAttempts, pContinue, avgTokens, avgElapsed),
		Restart:  project(restartAttempts, pRestart, avgTokens, avgElapsed),
	}
	cmp.Savings = cmp.Continue.ExpectedTokens - cmp.Restart.ExpectedTokens
	cmp.ProbabilityGain = math.Round((pRestart-pContinue)*1000) / 10

	switch {
	case failures == 0:
		cmp.Recommendation = RecommendContinue
		cmp.Reason = "no failed attempts to recover from"
	case cmp.Savings > savingsThreshold:
		cmp.Recommendation = RecommendCleanSlate
		cmp.Reason = fmt.Sprintf("restart saves about %.0f tokens", cmp.Savings)
	case cmp.ProbabilityGain > gainThresholdPoint:
		cmp.Recommendation = RecommendCleanSlate
		cmp.Reason = fmt.Sprintf("restart raises success probability by %.1f points", cmp.ProbabilityGain)
	default:
		cmp.Recommendation = RecommendContinue
		cmp.Reason = fmt.Sprintf("restart saves %.0f tokens and %.1f points, below thresholds", cmp.Savings, cmp.ProbabilityGain)
	}
	return cmp
}

func project(attempts int, p, avgTokens float64, avgElapsed time.Duration) Estimate {
	return Estimate{
		Attempts:           attempts,
		SuccessProbability: p,
		ExpectedTokens:     float64(attempts) * avgTokens / p,
		ExpectedElapsed:    time.Duration(float64(attempts) * float64(avgElapsed) / p),
	}
}
