// Package policy implements the Policy Store: CRUD over approval workflows.
//
// Import Path: tollgate.io/tollgate/internal/governance/policy
package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tollgate.io/tollgate/internal/domain"
	"tollgate.io/tollgate/internal/governance/audit"
	apperrors "tollgate.io/tollgate/internal/pkg/errors"
	"tollgate.io/tollgate/internal/pkg/logger"
	"tollgate.io/tollgate/internal/repository"
)

// Store manages workflow definitions.
type Store struct {
	repo  repository.Store
	audit *audit.Logger
	now   func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a Policy Store. auditLogger may be nil.
func NewStore(repo repository.Store, auditLogger *audit.Logger, opts ...Option) *Store {
	s := &Store{repo: repo, audit: auditLogger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// Create validates and persists a new workflow. ID, timestamps and
// CreatedBy are assigned here; caller-supplied values are ignored.
func (s *Store) Create(ctx context.Context, actor string, wf domain.Workflow) (*domain.Workflow, error) {
	wf.Normalize()
	if err := wf.Validate(); err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate workflow id: %w", err)
	}
	now := s.timestamp()
	wf.ID = id.String()
	wf.CreatedBy = actor
	wf.CreatedAt = now
	wf.UpdatedAt = now
	wf.DeletedAt = nil

	if err := s.repo.InsertWorkflow(ctx, &wf); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, nameTaken(wf.OwnerID, wf.Name)
		}
		return nil, fmt.Errorf("insert workflow %q: %w", wf.Name, err)
	}

	s.audit.LogWorkflow(ctx, "create", wf.ID, actor)
	logger.Info("Workflow created",
		zap.String("workflow_id", wf.ID),
		zap.String("owner_id", wf.OwnerID),
		zap.String("name", wf.Name),
		zap.String("actor", actor),
	)
	return &wf, nil
}

// Update applies a partial update to a live workflow. In-flight requests keep
// the thresholds they captured when opened.
func (s *Store) Update(ctx context.Context, actor, id string, patch domain.WorkflowPatch) (*domain.Workflow, error) {
	var updated domain.Workflow
	err := s.repo.InTx(ctx, func(q repository.Querier) error {
		current, err := q.LockWorkflow(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperrors.ErrWorkflowNotFoundf(id)
			}
			return fmt.Errorf("get workflow %s: %w", id, err)
		}
		if current.IsDeleted() {
			return apperrors.ErrWorkflowNotFoundf(id)
		}

		updated = patch.Apply(*current)
		updated.Normalize()
		if err := updated.Validate(); err != nil {
			return err
		}
		updated.UpdatedAt = s.timestamp()

		if err := q.UpdateWorkflow(ctx, &updated); err != nil {
			switch {
			case errors.Is(err, repository.ErrDuplicate):
				return nameTaken(updated.OwnerID, updated.Name)
			case errors.Is(err, repository.ErrNotFound):
				return apperrors.ErrWorkflowNotFoundf(id)
			}
			return fmt.Errorf("update workflow %s: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.LogWorkflow(ctx, "update", id, actor)
	logger.Info("Workflow updated",
		zap.String("workflow_id", id),
		zap.String("status", string(updated.Status)),
		zap.String("actor", actor),
	)
	return &updated, nil
}

// Get returns a workflow, including a soft-deleted one.
func (s *Store) Get(ctx context.Context, id string) (*domain.Workflow, error) {
	wf, err := s.repo.GetWorkflow(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.ErrWorkflowNotFoundf(id)
		}
		return nil, fmt.Errorf("get workflow %s: %w", id, err)
	}
	return wf, nil
}

// List returns the non-deleted workflows of an owner (all owners when
// ownerID is empty), oldest first.
func (s *Store) List(ctx context.Context, ownerID string) ([]*domain.Workflow, error) {
	list, err := s.repo.ListWorkflows(ctx, repository.WorkflowFilter{OwnerID: ownerID})
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	return list, nil
}

// FindByName returns the live workflow of owner with the given name.
func (s *Store) FindByName(ctx context.Context, ownerID, name string) (*domain.Workflow, error) {
	list, err := s.List(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	for _, wf := range list {
		if wf.Name == name {
			return wf, nil
		}
	}
	return nil, apperrors.NotFound(apperrors.CodeWorkflowNotFound, "workflow not found").
		WithParams(map[string]interface{}{"owner_id": ownerID, "name": name})
}

// Delete soft-deletes a workflow. It refuses while any request of the
// workflow is still pending; historical requests are never removed.
func (s *Store) Delete(ctx context.Context, actor, id string) error {
	err := s.repo.InTx(ctx, func(q repository.Querier) error {
		wf, err := q.LockWorkflow(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperrors.ErrWorkflowNotFoundf(id)
			}
			return fmt.Errorf("get workflow %s: %w", id, err)
		}
		if wf.IsDeleted() {
			return apperrors.ErrWorkflowNotFoundf(id)
		}

		pending, err := q.CountPendingRequests(ctx, id)
		if err != nil {
			return fmt.Errorf("count pending requests of %s: %w", id, err)
		}
		if pending > 0 {
			return apperrors.Conflict(apperrors.CodeWorkflowHasPending,
				fmt.Sprintf("workflow has %d pending approval requests", pending)).
				WithParams(map[string]interface{}{"workflow_id": id, "pending": pending})
		}

		if err := q.SoftDeleteWorkflow(ctx, id, s.timestamp()); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperrors.ErrWorkflowNotFoundf(id)
			}
			return fmt.Errorf("delete workflow %s: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.audit.LogWorkflow(ctx, "delete", id, actor)
	logger.Info("Workflow deleted", zap.String("workflow_id", id), zap.String("actor", actor))
	return nil
}

func nameTaken(ownerID, name string) *apperrors.AppError {
	return apperrors.Conflict(apperrors.CodeWorkflowNameTaken, "workflow name already in use").
		WithParams(map[string]interface{}{"owner_id": ownerID, "name": name})
}
