// Package usecase provides application use cases.
//
// Use cases orchestrate the governance services and are shared by the HTTP
// handlers and the CLI tools.
//
// Import Path: tollgate.io/tollgate/internal/usecase
package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"tollgate.io/tollgate/internal/domain"
	"tollgate.io/tollgate/internal/governance/approval"
	"tollgate.io/tollgate/internal/governance/trigger"
	apperrors "tollgate.io/tollgate/internal/pkg/errors"
	"tollgate.io/tollgate/internal/pkg/logger"
)

// WorkflowLister lists an owner's live workflows.
type WorkflowLister interface {
	List(ctx context.Context, ownerID string) ([]*domain.Workflow, error)
}

// RequestOpener opens approval requests.
type RequestOpener interface {
	Open(ctx context.Context, params approval.OpenParams) (*domain.ApprovalRequest, error)
	AutoApprove(ctx context.Context, params approval.OpenParams) (*domain.ApprovalRequest, error)
}

// OutcomeInput is a completed validation run reported by the external
// validation system.
type OutcomeInput struct {
	OwnerID   string                   `json:"owner_id"`
	Outcome   domain.ValidationOutcome `json:"outcome"`
	Context   string                   `json:"context,omitempty"`
	ExpiresAt *time.Time               `json:"expires_at,omitempty"`
}

// OutcomeResult is what happened for one workflow.
type OutcomeResult struct {
	WorkflowID      string                  `json:"workflow_id"`
	WorkflowName    string                  `json:"workflow_name"`
	Action          trigger.Action          `json:"action"`
	Reason          trigger.Reason          `json:"reason"`
	QualifyingCount int                     `json:"qualifying_count"`
	Request         *domain.ApprovalRequest `json:"request,omitempty"`
}

// OutcomeOutput aggregates the per-workflow results. BlockMerge is true
// when any request tied to the run has blockMerge set and is not approved,
// which is the same rule Ledger.Gate applies.
type OutcomeOutput struct {
	ValidationRunID string          `json:"validation_run_id,omitempty"`
	PRValidationID  string          `json:"pr_validation_id,omitempty"`
	BlockMerge      bool            `json:"block_merge"`
	Results         []OutcomeResult `json:"results"`
}

// HandleOutcomeUseCase feeds a validation outcome through the trigger
// evaluator and into the request ledger.
type HandleOutcomeUseCase struct {
	workflows WorkflowLister
	ledger    RequestOpener
}

// NewHandleOutcomeUseCase creates a HandleOutcomeUseCase.
func NewHandleOutcomeUseCase(workflows WorkflowLister, ledger RequestOpener) *HandleOutcomeUseCase {
	return &HandleOutcomeUseCase{workflows: workflows, ledger: ledger}
}

// Execute evaluates every workflow of the owner against the outcome and opens
// or auto-approves a request for each one that fires. Reporting the same
// validation run twice returns the requests opened the first time.
func (uc *HandleOutcomeUseCase) Execute(ctx context.Context, actor string, input OutcomeInput) (*OutcomeOutput, error) {
	input.OwnerID = strings.TrimSpace(input.OwnerID)
	input.Outcome.Normalize()
	if err := input.Outcome.Validate(); err != nil {
		return nil, err
	}
	if input.OwnerID == "" {
		return nil, apperrors.Validation(apperrors.FieldError{Field: "owner_id", Code: "required", Message: "must not be empty"})
	}

	workflows, err := uc.workflows.List(ctx, input.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("list workflows of %s: %w", input.OwnerID, err)
	}

	out := &OutcomeOutput{
		ValidationRunID: input.Outcome.ValidationRunID,
		PRValidationID:  input.Outcome.PRValidationID,
		Results:         make([]OutcomeResult, 0, len(workflows)),
	}
	for _, ev := range trigger.Evaluate(input.Outcome, workflows) {
		res := OutcomeResult{
			WorkflowID:      ev.Workflow.ID,
			WorkflowName:    ev.Workflow.Name,
			Action:          ev.Action,
			Reason:          ev.Reason,
			QualifyingCount: ev.QualifyingCount,
		}
		if ev.Action != trigger.ActionSkip {
			req, err := uc.fire(ctx, actor, input, ev)
			switch {
			case apperrors.IsNotFound(err):
				// Deactivated or deleted after it was listed.
				res.Action = trigger.ActionSkip
				res.Reason = trigger.ReasonInactive
			case err != nil:
				return nil, err
			default:
				res.Request = req
				if req.BlockMerge && req.Status != domain.RequestApproved {
					out.BlockMerge = true
				}
			}
		}
		out.Results = append(out.Results, res)
	}

	logger.Info("Validation outcome handled",
		zap.String("owner_id", input.OwnerID),
		zap.String("validation_run_id", out.ValidationRunID),
		zap.String("pr_validation_id", out.PRValidationID),
		zap.Int("workflows", len(out.Results)),
		zap.Int("fired", countFired(out.Results)),
		zap.Bool("block_merge", out.BlockMerge),
	)
	return out, nil
}

func (uc *HandleOutcomeUseCase) fire(ctx context.Context, actor string, input OutcomeInput, ev trigger.Evaluation) (*domain.ApprovalRequest, error) {
	params := approval.OpenParams{
		WorkflowID:      ev.Workflow.ID,
		ValidationRunID: input.Outcome.ValidationRunID,
		PRValidationID:  input.Outcome.PRValidationID,
		RequestedBy:     actor,
		Context:         input.Context,
		ExpiresAt:       input.ExpiresAt,
	}
	if ev.Action == trigger.ActionAutoApprove {
		return uc.ledger.AutoApprove(ctx, params)
	}
	return uc.ledger.Open(ctx, params)
}

func countFired(results []OutcomeResult) int {
	n := 0
	for _, r := range results {
		if r.Request != nil {
			n++
		}
	}
	return n
}
