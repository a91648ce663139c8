package recovery

import "github.com/fyrsmithlabs/loopd/internal/trajectory"

// Assessment is everything the recovery layer can say about a trajectory
// without acting on it.
type Assessment struct {
	ItemID     string                   `json:"item_id"`
	Attempts   int                      `json:"attempts"`
	Failed     int                      `json:"failed"`
	Totals     trajectory.Cost          `json:"totals"`
	Symptoms   trajectory.SymptomReport `json:"symptoms"`
	Decision   trajectory.Decision      `json:"decision"`
	RootCause  string                   `json:"root_cause"`
	Comparison CostComparison           `json:"comparison"`
}

// Assess analyzes t and compares the cost of continuing with restarting.
func Assess(t *trajectory.Trajectory) Assessment {
	symptoms := trajectory.Analyze(t)
	return Assessment{
		ItemID:     t.ItemID,
		Attempts:   len(t.Attempts),
		Failed:     t.FailedCount(),
		Totals:     t.Totals,
		Symptoms:   symptoms,
		Decision:   trajectory.ShouldTriggerRecovery(t.FailedCount(), symptoms),
		RootCause:  RootCause(t),
		Comparison: CompareCosts(t),
	}
}
