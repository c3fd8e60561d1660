package scheduler

import (
	"fmt"
	"sort"

	"github.com/xraph/fairqueue"
)

// imbalanceThreshold is the queue-length spread past which the
// optimizer recommends rebalancing.
const imbalanceThreshold = 0.5

// Optimization is the output of OptimizeConfiguration: human-readable
// recommendations, the service share expected to be redistributed if
// the changes are applied, and a policy update ready to hand to
// ConfigurePolicy.
type Optimization struct {
	Recommendations     []string               `json:"recommendations"`
	ExpectedImprovement float64                `json:"expected_improvement"`
	Changes             fairqueue.PolicyUpdate `json:"changes"`
}

// OptimizeConfiguration analyzes the recent processing window against
// the current policy and suggests weight changes for tiers whose
// service share diverges from their entitlement. The suggestions are
// advisory: nothing is applied until the caller passes Changes to
// ConfigurePolicy.
func (s *Scheduler) OptimizeConfiguration() Optimization {
	pol := s.Policy()
	report := s.controller.Analyze(s.store.Snapshot(), pol)

	var opt Optimization

	violations := report.FairnessViolations
	sort.Slice(violations, func(i, j int) bool {
		return violations[i].Tier < violations[j].Tier
	})
	for _, v := range violations {
		gap := v.ActualShare - v.EntitledShare
		opt.ExpectedImprovement += abs(gap)
		if gap > 0 {
			opt.Recommendations = append(opt.Recommendations, fmt.Sprintf(
				"tier %q receives %.0f%% of service against an entitled %.0f%%; lower its weight or raise others",
				v.Tier, v.ActualShare*100, v.EntitledShare*100))
		} else {
			opt.Recommendations = append(opt.Recommendations, fmt.Sprintf(
				"tier %q receives %.0f%% of service against an entitled %.0f%%; raise its weight",
				v.Tier, v.ActualShare*100, v.EntitledShare*100))
		}
	}

	if report.QueueImbalance > imbalanceThreshold {
		opt.Recommendations = append(opt.Recommendations, fmt.Sprintf(
			"queue lengths are skewed (imbalance %.2f); consider per-tier capacity limits or weight changes",
			report.QueueImbalance))
	}
	if report.StarvationIncidents > 0 {
		opt.Recommendations = append(opt.Recommendations, fmt.Sprintf(
			"%d starvation incident(s) in the window; consider shortening max starvation time",
			report.StarvationIncidents))
	}

	if opt.ExpectedImprovement > 1 {
		opt.ExpectedImprovement = 1
	}
	if len(report.SuggestedWeights) > 0 {
		opt.Changes = fairqueue.PolicyUpdate{TierWeights: report.SuggestedWeights}
	}
	return opt
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
