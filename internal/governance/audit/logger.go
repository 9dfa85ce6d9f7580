// Package audit writes the approval audit trail.
//
// Audit entries are structured log lines on the "audit" logger; the log
// shipper routes them to the compliance sink. Writing an entry never fails
// the operation being audited.
//
// Import Path: tollgate.io/tollgate/internal/governance/audit
package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tollgate.io/tollgate/internal/pkg/logger"
)

// Resource types.
const (
	ResourceWorkflow = "workflow"
	ResourceRequest  = "approval_request"
)

// Logger writes audit records.
type Logger struct {
	base *zap.Logger
}

// NewLogger creates an audit Logger on the global audit logger.
func NewLogger() *Logger {
	return &Logger{}
}

// NewLoggerWith creates an audit Logger writing to base. Tests use it with an
// observer core.
func NewLoggerWith(base *zap.Logger) *Logger {
	return &Logger{base: base}
}

func (l *Logger) log() *zap.Logger {
	if l.base != nil {
		return l.base
	}
	return logger.Audit()
}

// LogAction records an auditable action.
func (l *Logger) LogAction(_ context.Context, action, resourceType, resourceID, actor string, details map[string]interface{}) {
	if l == nil {
		return
	}
	fields := []zap.Field{
		zap.String("audit_id", generateAuditID()),
		zap.String("action", action),
		zap.String("resource_type", resourceType),
		zap.String("resource_id", resourceID),
		zap.String("actor", actor),
	}
	if len(details) > 0 {
		fields = append(fields, zap.Any("details", details))
	}
	l.log().Info("audit", fields...)
}

// LogWorkflow records a policy change.
func (l *Logger) LogWorkflow(ctx context.Context, operation, workflowID, actor string) {
	l.LogAction(ctx, "workflow."+operation, ResourceWorkflow, workflowID, actor, nil)
}

// LogDecision records an approver's decision and the resulting status.
func (l *Logger) LogDecision(ctx context.Context, requestID, decision, actor, status string) {
	l.LogAction(ctx, "request."+decision, ResourceRequest, requestID, actor, map[string]interface{}{
		"decision": decision,
		"status":   status,
	})
}

func generateAuditID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return fmt.Sprintf("audit-%s", id.String())
}
