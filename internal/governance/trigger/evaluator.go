// Package trigger decides, per workflow, what a validation outcome requires:
// nothing, a synthesized auto-approval, or a human approval request.
//
// Evaluate is pure: no I/O, no clock, no randomness.
//
// Import Path: tollgate.io/tollgate/internal/governance/trigger
package trigger

import (
	"sort"

	"tollgate.io/tollgate/internal/domain"
)

// Action is the evaluator's verdict for one workflow.
type Action string

const (
	ActionSkip        Action = "skip"
	ActionAutoApprove Action = "autoApprove"
	ActionOpenRequest Action = "openRequest"
)

// Reason explains a verdict. Surfaced in API responses and logs.
type Reason string

const (
	ReasonInactive        Reason = "workflow_inactive"
	ReasonTriggerDisabled Reason = "trigger_disabled"
	ReasonPassed          Reason = "no_qualifying_violations"
	ReasonUnderThreshold  Reason = "under_max_violations"
	ReasonQualified       Reason = "qualifying_violations"
)

// Evaluation is the verdict for a single workflow.
type Evaluation struct {
	Workflow        *domain.Workflow
	Action          Action
	Reason          Reason
	QualifyingCount int
}

// Evaluate applies every workflow's trigger condition to the outcome
// independently. The result is ordered by workflow creation time, then id.
func Evaluate(outcome domain.ValidationOutcome, workflows []*domain.Workflow) []Evaluation {
	ordered := make([]*domain.Workflow, 0, len(workflows))
	for _, wf := range workflows {
		if wf != nil {
			ordered = append(ordered, wf)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
		}
		return ordered[i].ID < ordered[j].ID
	})

	out := make([]Evaluation, 0, len(ordered))
	for _, wf := range ordered {
		out = append(out, evaluateOne(outcome, wf))
	}
	return out
}

func evaluateOne(outcome domain.ValidationOutcome, wf *domain.Workflow) Evaluation {
	ev := Evaluation{Workflow: wf, Action: ActionSkip}
	if !wf.IsActive() {
		ev.Reason = ReasonInactive
		return ev
	}
	if !wf.TriggerOnValidation {
		ev.Reason = ReasonTriggerDisabled
		return ev
	}

	ev.QualifyingCount = outcome.Violations.AtOrAbove(wf.MinSeverity)

	// A clean outcome at this workflow's severity floor counts as a pass,
	// even when the total is over maxViolations.
	if ev.QualifyingCount == 0 {
		ev.Reason = ReasonPassed
		if wf.AutoApproveOnPass {
			ev.Action = ActionAutoApprove
		}
		return ev
	}

	if wf.MaxViolations != nil && outcome.Violations.Total() <= *wf.MaxViolations {
		ev.Reason = ReasonUnderThreshold
		return ev
	}

	ev.Action = ActionOpenRequest
	ev.Reason = ReasonQualified
	return ev
}

// Firing returns the evaluations whose action is not skip.
func Firing(evals []Evaluation) []Evaluation {
	out := make([]Evaluation, 0, len(evals))
	for _, ev := range evals {
		if ev.Action != ActionSkip {
			out = append(out, ev)
		}
	}
	return out
}
