package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tollgate.io/tollgate/internal/domain"
	apperrors "tollgate.io/tollgate/internal/pkg/errors"
	"tollgate.io/tollgate/internal/pkg/logger"
	"tollgate.io/tollgate/internal/pkg/metrics"
	"tollgate.io/tollgate/internal/pkg/worker"
)

// Triggers turns request lifecycle events into notifications:
//  1. REQUEST_CREATED: notify designated approvers (or the workflow owner)
//  2. REQUEST_RESOLVED: notify the requester of approval or rejection
//  3. REQUEST_EXPIRED: notify the requester that the gate timed out
type Triggers struct {
	sender     Sender
	dispatcher *domain.EventDispatcher
	pools      *worker.Pools
}

// NewTriggers creates the trigger service. With nil pools delivery runs on
// the caller goroutine.
func NewTriggers(sender Sender, pools *worker.Pools) *Triggers {
	t := &Triggers{
		sender:     sender,
		dispatcher: domain.NewEventDispatcher(),
		pools:      pools,
	}
	t.dispatcher.Subscribe(t.onRequestCreated, domain.EventRequestCreated)
	t.dispatcher.Subscribe(t.onRequestResolved, domain.EventRequestResolved)
	t.dispatcher.Subscribe(t.onRequestExpired, domain.EventRequestExpired)
	return t
}

// Notify publishes a lifecycle event for req. It never blocks on delivery
// and never returns an error: a committed transition stays committed.
func (t *Triggers) Notify(ctx context.Context, eventType domain.EventType, req *domain.ApprovalRequest, wf *domain.Workflow, actor string) {
	if !t.dispatcher.Subscribed(eventType) {
		return
	}
	raw, err := domain.NewRequestPayload(req, wf, actor).ToJSON()
	if err != nil {
		logger.Error("Encode notification payload failed",
			zap.String("request_id", req.ID),
			zap.Error(err),
		)
		return
	}

	eventID, err := uuid.NewV7()
	if err != nil {
		eventID = uuid.New()
	}
	event := &domain.DomainEvent{
		EventID:       eventID.String(),
		EventType:     eventType,
		AggregateType: domain.AggregateApprovalRequest,
		AggregateID:   req.ID,
		Payload:       raw,
		CreatedBy:     actor,
		CreatedAt:     time.Now().UTC(),
	}

	deliver := func(ctx context.Context) {
		if err := t.dispatcher.Dispatch(ctx, event); err != nil {
			logger.Warn("Notification dispatch failed",
				zap.String("event_type", string(eventType)),
				zap.String("request_id", req.ID),
				zap.Error(apperrors.ErrNotificationFailed(err)),
			)
			metrics.RecordNotification(string(eventType), "failed")
			return
		}
		metrics.RecordNotification(string(eventType), "sent")
	}

	if t.pools == nil {
		deliver(ctx)
		return
	}
	if err := t.pools.SubmitDetached(worker.PoolNotify, deliver); err != nil {
		logger.Warn("Notification dropped",
			zap.String("event_type", string(eventType)),
			zap.String("request_id", req.ID),
			zap.Error(err),
		)
		metrics.RecordNotification(string(eventType), "dropped")
	}
}

func decodePayload(event *domain.DomainEvent) (domain.RequestEventPayload, error) {
	var p domain.RequestEventPayload
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		return p, fmt.Errorf("decode %s payload: %w", event.EventType, err)
	}
	return p, nil
}

func (t *Triggers) onRequestCreated(ctx context.Context, event *domain.DomainEvent) error {
	p, err := decodePayload(event)
	if err != nil {
		return err
	}

	recipients := p.Approvers
	if len(recipients) == 0 {
		recipients = []string{p.OwnerID}
	}

	subject := p.ValidationRunID
	if subject == "" {
		subject = p.PRValidationID
	}
	return t.sender.SendToMany(ctx, recipients, Params{
		Type:         TypeApprovalPending,
		Title:        fmt.Sprintf("Approval requested: %s", p.WorkflowName),
		Message:      fmt.Sprintf("Validation %s requires approval under workflow %s", subject, p.WorkflowName),
		ResourceType: domain.AggregateApprovalRequest,
		ResourceID:   p.RequestID,
		Payload:      event.Payload,
	})
}

func (t *Triggers) onRequestResolved(ctx context.Context, event *domain.DomainEvent) error {
	p, err := decodePayload(event)
	if err != nil {
		return err
	}

	params := Params{
		RecipientID:  requester(p),
		ResourceType: domain.AggregateApprovalRequest,
		ResourceID:   p.RequestID,
		Payload:      event.Payload,
	}
	switch p.Status {
	case domain.RequestApproved:
		params.Type = TypeApprovalCompleted
		params.Title = fmt.Sprintf("Approved: %s", p.WorkflowName)
		if p.AutoApproved {
			params.Message = fmt.Sprintf("Request %s was approved automatically: no qualifying violations", p.RequestID)
		} else {
			params.Message = fmt.Sprintf("Request %s was approved by %s", p.RequestID, p.Actor)
		}
	case domain.RequestRejected:
		params.Type = TypeApprovalRejected
		params.Title = fmt.Sprintf("Rejected: %s", p.WorkflowName)
		params.Message = fmt.Sprintf("Request %s was rejected by %s", p.RequestID, p.Actor)
	default:
		return fmt.Errorf("resolved event with non-terminal status %q", p.Status)
	}
	return t.sender.Send(ctx, params)
}

func (t *Triggers) onRequestExpired(ctx context.Context, event *domain.DomainEvent) error {
	p, err := decodePayload(event)
	if err != nil {
		return err
	}
	return t.sender.Send(ctx, Params{
		RecipientID:  requester(p),
		Type:         TypeApprovalExpired,
		Title:        fmt.Sprintf("Expired: %s", p.WorkflowName),
		Message:      fmt.Sprintf("Request %s expired before reaching a decision", p.RequestID),
		ResourceType: domain.AggregateApprovalRequest,
		ResourceID:   p.RequestID,
		Payload:      event.Payload,
	})
}

// requester is the notification target for resolution events: the actor who
// opened the request, falling back to the workflow owner.
func requester(p domain.RequestEventPayload) string {
	if p.RequestedBy != "" {
		return p.RequestedBy
	}
	return p.OwnerID
}
