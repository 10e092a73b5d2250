package domain

import (
	"fmt"
	"math"
	"time"
)

// ProgressSource identifies which signal produced the authoritative value.
type ProgressSource string

// ProgressSource values, in priority order.
const (
	ProgressSourceManual    ProgressSource = "manual"
	ProgressSourceMilestone ProgressSource = "milestone"
	ProgressSourceDefault   ProgressSource = "default"
)

// ProgressResult is the reconciled completion state for one work item.
type ProgressResult struct {
	Final    float64
	Source   ProgressSource
	Warnings []string
}

// ConsistencyReport collects soft anomalies for human review. Issues never
// block an operation; callers decide whether to act on them.
type ConsistencyReport struct {
	IsValid         bool
	Issues          []string
	Recommendations []string
}

// Deviation and involvement thresholds for consistency checks.
const (
	manualDeviationThreshold   = 10.0
	highInvolvementThreshold   = 200.0
	severeInvolvementThreshold = 500.0
	singleAssignmentThreshold  = 50.0
)

// ReconcileProgress derives one authoritative completion percentage from the
// item's candidate signals: a manual override wins, then the milestone
// completion ratio, then a time-based heuristic. The item is never mutated.
func ReconcileProgress(item WorkItem, now time.Time) ProgressResult {
	result := ProgressResult{Warnings: []string{}}

	switch {
	case item.ManualProgress != nil:
		result.Final = *item.ManualProgress
		result.Source = ProgressSourceManual
		if ratio, ok := item.MilestoneRatio(); ok {
			if deviation := math.Abs(result.Final - ratio); deviation > manualDeviationThreshold {
				result.Warnings = append(result.Warnings, fmt.Sprintf(
					"manual progress %s%% deviates from milestone completion %s%% by %s points",
					formatPercent(result.Final), formatPercent(ratio), formatPercent(deviation)))
			}
		}
	case len(item.Milestones) > 0:
		ratio, _ := item.MilestoneRatio()
		result.Final = ratio
		result.Source = ProgressSourceMilestone
	default:
		result.Final = defaultProgress(item, now)
		result.Source = ProgressSourceDefault
	}

	if result.Final < 0 || result.Final > 100 {
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"reconciled progress %s%% outside [0, 100], clamped", formatPercent(result.Final)))
		result.Final = math.Min(100, math.Max(0, result.Final))
	}
	return result
}

// defaultProgress is the time-based fallback used when neither a manual
// override nor milestones exist.
func defaultProgress(item WorkItem, now time.Time) float64 {
	start := item.CreatedAt
	if item.StartAt != nil {
		start = *item.StartAt
	}
	if now.Before(start) {
		return 0
	}
	switch item.Status {
	case StatusCompleted:
		return 100
	case StatusCancelled:
		return 0
	}

	// Items without a due date are treated as fully elapsed.
	elapsedRatio := 1.0
	if item.DueAt != nil && item.DueAt.After(start) {
		elapsedRatio = now.Sub(start).Seconds() / item.DueAt.Sub(start).Seconds()
	}
	base := math.Min(95, elapsedRatio*100)
	progress := base * statusMultiplier(item.Status)
	if progress < 5 {
		progress = 5
	}
	return progress
}

// statusMultiplier scales elapsed-time progress by lifecycle confidence.
func statusMultiplier(status Status) float64 {
	switch status {
	case StatusPending:
		return 0.1
	case StatusActive:
		return 0.8
	case StatusOnHold:
		return 0.3
	default:
		return 0.5
	}
}

// ValidateConsistency inspects a single work item for soft anomalies:
// reconciliation warnings, over-involvement, and milestone/progress
// disagreement. It never mutates the item.
func ValidateConsistency(item WorkItem, now time.Time) ConsistencyReport {
	report := ConsistencyReport{
		Issues:          []string{},
		Recommendations: []string{},
	}

	reconciled := ReconcileProgress(item, now)
	report.Issues = append(report.Issues, reconciled.Warnings...)

	total := item.TotalInvolvement()
	switch {
	case total > severeInvolvementThreshold:
		report.Issues = append(report.Issues, fmt.Sprintf(
			"total assignment involvement %s%% is extremely high", formatPercent(total)))
		report.Recommendations = append(report.Recommendations,
			"block further assignments until involvement is reduced")
	case total > highInvolvementThreshold:
		report.Issues = append(report.Issues, fmt.Sprintf(
			"total assignment involvement %s%% is high", formatPercent(total)))
		report.Recommendations = append(report.Recommendations,
			"monitor aggregate involvement on this item")
	}

	for _, a := range item.Assignments {
		if a.Involvement > singleAssignmentThreshold {
			report.Issues = append(report.Issues, fmt.Sprintf(
				"assignment for %s at %s%% exceeds %s%% of one person's capacity",
				a.PersonID, formatPercent(a.Involvement), formatPercent(singleAssignmentThreshold)))
			report.Recommendations = append(report.Recommendations,
				fmt.Sprintf("consider rebalancing work assigned to %s", a.PersonID))
		}
	}

	if ratio, ok := item.MilestoneRatio(); ok && ratio == 100 && reconciled.Final < 100 {
		report.Issues = append(report.Issues, fmt.Sprintf(
			"all milestones complete but reconciled progress is %s%%", formatPercent(reconciled.Final)))
		report.Recommendations = append(report.Recommendations,
			"correct the item status or manual progress to reflect completion")
	}

	report.IsValid = len(report.Issues) == 0
	return report
}
