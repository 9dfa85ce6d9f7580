package domain

import (
	"encoding/json"
	"time"
)

// EventType defines the type of domain event.
type EventType string

const (
	EventRequestCreated  EventType = "REQUEST_CREATED"
	EventRequestResolved EventType = "REQUEST_RESOLVED"
	EventRequestExpired  EventType = "REQUEST_EXPIRED"
)

// DomainEvent is an immutable notification about an approval request.
// Events are not persisted; they feed the notification dispatcher.
type DomainEvent struct {
	EventID       string    `json:"event_id"`
	EventType     EventType `json:"event_type"`
	AggregateType string    `json:"aggregate_type"`
	AggregateID   string    `json:"aggregate_id"`
	Payload       []byte    `json:"payload"`
	CreatedBy     string    `json:"created_by,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// AggregateApprovalRequest is the aggregate type for request events.
const AggregateApprovalRequest = "approval_request"

// RequestEventPayload is the payload for all request lifecycle events.
type RequestEventPayload struct {
	RequestID       string        `json:"request_id"`
	WorkflowID      string        `json:"workflow_id"`
	WorkflowName    string        `json:"workflow_name"`
	OwnerID         string        `json:"owner_id"`
	ValidationRunID string        `json:"validation_run_id,omitempty"`
	PRValidationID  string        `json:"pr_validation_id,omitempty"`
	RequestedBy     string        `json:"requested_by,omitempty"`
	Status          RequestStatus `json:"status"`
	AutoApproved    bool          `json:"auto_approved,omitempty"`
	BlockMerge      bool          `json:"block_merge"`
	// Approvers lists designated approvers, if the workflow restricts them.
	Approvers []string `json:"approvers,omitempty"`
	Actor     string   `json:"actor,omitempty"`
}

// ToJSON converts payload to JSON bytes.
func (p RequestEventPayload) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}

// NewRequestPayload builds the event payload from a request and its workflow.
func NewRequestPayload(req *ApprovalRequest, wf *Workflow, actor string) RequestEventPayload {
	p := RequestEventPayload{
		RequestID:       req.ID,
		WorkflowID:      req.WorkflowID,
		ValidationRunID: req.ValidationRunID,
		PRValidationID:  req.PRValidationID,
		RequestedBy:     req.RequestedBy,
		Status:          req.Status,
		AutoApproved:    req.AutoApproved,
		BlockMerge:      req.BlockMerge,
		Actor:           actor,
	}
	if wf != nil {
		p.WorkflowName = wf.Name
		p.OwnerID = wf.OwnerID
		p.Approvers = append([]string(nil), wf.Approvers...)
	}
	return p
}
