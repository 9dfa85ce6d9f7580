// Package notification delivers approval lifecycle notifications.
//
// Delivery is best-effort and never part of the transaction that changed a
// request: Triggers hands events to the notify worker pool after commit, and
// a failed delivery is logged, counted and dropped.
//
// Import Path: tollgate.io/tollgate/internal/notification
package notification

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"tollgate.io/tollgate/internal/pkg/logger"
)

// Type constants carried on every notification.
const (
	TypeApprovalPending   = "APPROVAL_PENDING"
	TypeApprovalCompleted = "APPROVAL_COMPLETED"
	TypeApprovalRejected  = "APPROVAL_REJECTED"
	TypeApprovalExpired   = "APPROVAL_EXPIRED"
)

// Params holds the fields of one notification.
type Params struct {
	RecipientID  string `json:"recipient_id"`
	Type         string `json:"type"`
	Title        string `json:"title"`
	Message      string `json:"message"`
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
	// Payload is the originating event payload, passed through verbatim.
	Payload []byte `json:"payload,omitempty"`
}

// Sender delivers notifications to a channel.
type Sender interface {
	// Send delivers a notification to a single recipient.
	Send(ctx context.Context, params Params) error

	// SendToMany delivers to multiple recipients.
	// Best-effort: logs errors but does not abort on individual failures.
	SendToMany(ctx context.Context, recipientIDs []string, params Params) error
}

// LogSender writes notifications as structured log lines. It is the default
// channel when no broker is configured.
type LogSender struct {
	log *zap.Logger
}

// NewLogSender creates a LogSender on the global logger.
func NewLogSender() *LogSender {
	return &LogSender{}
}

func (s *LogSender) logger() *zap.Logger {
	if s.log != nil {
		return s.log
	}
	return logger.L().Named("notification")
}

// Send logs a single notification.
func (s *LogSender) Send(_ context.Context, params Params) error {
	if err := validateParams(params); err != nil {
		return fmt.Errorf("notification params invalid: %w", err)
	}
	s.logger().Info("notification",
		zap.String("recipient", params.RecipientID),
		zap.String("type", params.Type),
		zap.String("title", params.Title),
		zap.String("message", params.Message),
		zap.String("resource_type", params.ResourceType),
		zap.String("resource_id", params.ResourceID),
	)
	return nil
}

// SendToMany logs one line per recipient.
func (s *LogSender) SendToMany(ctx context.Context, recipientIDs []string, params Params) error {
	return sendEach(ctx, s, recipientIDs, params)
}

// compile-time check
var _ Sender = (*LogSender)(nil)

// sendEach fans out over recipients with Send, continuing past failures.
func sendEach(ctx context.Context, s Sender, recipientIDs []string, params Params) error {
	if len(recipientIDs) == 0 {
		return nil
	}

	var failCount int
	for _, recipientID := range recipientIDs {
		p := params
		p.RecipientID = recipientID
		if err := s.Send(ctx, p); err != nil {
			failCount++
			logger.Error("notification delivery failed",
				zap.String("recipient", recipientID),
				zap.String("type", params.Type),
				zap.Error(err),
			)
		}
	}

	if failCount > 0 {
		return fmt.Errorf("notification delivery failed for %d/%d recipients", failCount, len(recipientIDs))
	}
	return nil
}

func validateParams(p Params) error {
	if p.RecipientID == "" {
		return fmt.Errorf("recipient_id is required")
	}
	if p.Title == "" {
		return fmt.Errorf("title is required")
	}
	if p.Message == "" {
		return fmt.Errorf("message is required")
	}
	switch p.Type {
	case TypeApprovalPending, TypeApprovalCompleted, TypeApprovalRejected, TypeApprovalExpired:
	default:
		return fmt.Errorf("unknown notification type: %s", p.Type)
	}
	return nil
}
