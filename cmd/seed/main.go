// Package main seeds workflows from a YAML file and can mint API tokens for
// CI systems and approvers.
//
// Seeding is idempotent: a workflow is matched by (owner_id, name) and
// updated in place when it already exists.
//
// Import Path: tollgate.io/tollgate/cmd/seed
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"tollgate.io/tollgate/internal/api/middleware"
	"tollgate.io/tollgate/internal/config"
	"tollgate.io/tollgate/internal/domain"
	"tollgate.io/tollgate/internal/governance/audit"
	"tollgate.io/tollgate/internal/governance/policy"
	"tollgate.io/tollgate/internal/infrastructure"
	apperrors "tollgate.io/tollgate/internal/pkg/errors"
	"tollgate.io/tollgate/internal/pkg/logger"
)

const seedActor = "system:seed"

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "seed error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	file := fs.String("file", "", "YAML file with workflows to seed")
	tokenFor := fs.String("token-for", "", "print a signed API token for this user id")
	perms := fs.String("permissions", middleware.PermAdmin, "comma-separated permissions for -token-for")
	ttl := fs.Duration("token-ttl", 24*time.Hour, "lifetime of the minted token")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" && *tokenFor == "" {
		return errors.New("nothing to do: pass -file and/or -token-for")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if *file != "" {
		if err := seedFile(context.Background(), cfg, *file); err != nil {
			return err
		}
	}
	if *tokenFor != "" {
		token, expiresAt, err := middleware.GenerateToken(middleware.JWTConfig{
			SigningKey: []byte(cfg.Security.JWTSecret),
			Issuer:     cfg.Security.JWTIssuer,
			ExpiresIn:  *ttl,
		}, *tokenFor, nil, splitList(*perms))
		if err != nil {
			return fmt.Errorf("mint token: %w", err)
		}
		logger.Info("Minted API token", zap.String("user_id", *tokenFor), zap.Time("expires_at", expiresAt))
		fmt.Fprintln(out, token)
	}
	return nil
}

func seedFile(ctx context.Context, cfg *config.Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	doc, err := parseSeed(data)
	if err != nil {
		return err
	}

	db, err := infrastructure.NewDatabaseClients(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer db.Close()
	if cfg.Database.AutoMigrate || db.Driver == config.DriverSQLite {
		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	store := policy.NewStore(db.Store, audit.NewLogger())
	created, updated, err := seedWorkflows(ctx, store, doc.Workflows)
	logger.Info("Workflow seeding finished", zap.Int("created", created), zap.Int("updated", updated))
	return err
}

// seedDoc is the seed file layout.
type seedDoc struct {
	Workflows []seedWorkflow `yaml:"workflows"`
}

type seedWorkflow struct {
	OwnerID             string   `yaml:"owner_id"`
	Name                string   `yaml:"name"`
	Description         string   `yaml:"description"`
	TriggerOnValidation bool     `yaml:"trigger_on_validation"`
	MinSeverity         string   `yaml:"min_severity"`
	MaxViolations       *int     `yaml:"max_violations"`
	RequiredApprovers   int      `yaml:"required_approvers"`
	Approvers           []string `yaml:"approvers"`
	AutoApproveOnPass   bool     `yaml:"auto_approve_on_pass"`
	BlockMerge          bool     `yaml:"block_merge"`
	NotifyOnRequest     bool     `yaml:"notify_on_request"`
	NotifyOnApproval    bool     `yaml:"notify_on_approval"`
	RequestTTL          string   `yaml:"request_ttl"`
	Status              string   `yaml:"status"`
}

func parseSeed(data []byte) (*seedDoc, error) {
	var doc seedDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	if len(doc.Workflows) == 0 {
		return nil, errors.New("seed file declares no workflows")
	}
	return &doc, nil
}

func (s seedWorkflow) toDomain() (domain.Workflow, error) {
	var ttl time.Duration
	if s.RequestTTL != "" {
		d, err := time.ParseDuration(s.RequestTTL)
		if err != nil {
			return domain.Workflow{}, fmt.Errorf("workflow %q: request_ttl: %w", s.Name, err)
		}
		ttl = d
	}
	minSeverity := domain.Severity(s.MinSeverity)
	if minSeverity == "" {
		minSeverity = domain.SeverityInfo
	}
	return domain.Workflow{
		OwnerID:             s.OwnerID,
		Name:                s.Name,
		Description:         s.Description,
		TriggerOnValidation: s.TriggerOnValidation,
		MinSeverity:         minSeverity,
		MaxViolations:       s.MaxViolations,
		RequiredApprovers:   s.RequiredApprovers,
		Approvers:           s.Approvers,
		AutoApproveOnPass:   s.AutoApproveOnPass,
		BlockMerge:          s.BlockMerge,
		NotifyOnRequest:     s.NotifyOnRequest,
		NotifyOnApproval:    s.NotifyOnApproval,
		RequestTTL:          ttl,
		Status:              domain.WorkflowStatus(s.Status),
	}, nil
}

// asPatch overwrites every seeded field of an existing workflow.
func asPatch(wf domain.Workflow) domain.WorkflowPatch {
	approvers := wf.Approvers
	if approvers == nil {
		approvers = []string{}
	}
	status := wf.Status
	if status == "" {
		status = domain.WorkflowActive
	}
	patch := domain.WorkflowPatch{
		Description:         &wf.Description,
		TriggerOnValidation: &wf.TriggerOnValidation,
		MinSeverity:         &wf.MinSeverity,
		MaxViolations:       wf.MaxViolations,
		ClearMaxViolations:  wf.MaxViolations == nil,
		RequiredApprovers:   &wf.RequiredApprovers,
		Approvers:           &approvers,
		AutoApproveOnPass:   &wf.AutoApproveOnPass,
		BlockMerge:          &wf.BlockMerge,
		NotifyOnRequest:     &wf.NotifyOnRequest,
		NotifyOnApproval:    &wf.NotifyOnApproval,
		Status:              &status,
	}
	if wf.RequestTTL > 0 {
		patch.RequestTTL = &wf.RequestTTL
	} else {
		patch.ClearRequestTTL = true
	}
	return patch
}

type workflowStore interface {
	Create(ctx context.Context, actor string, wf domain.Workflow) (*domain.Workflow, error)
	Update(ctx context.Context, actor, id string, patch domain.WorkflowPatch) (*domain.Workflow, error)
	FindByName(ctx context.Context, ownerID, name string) (*domain.Workflow, error)
}

// seedWorkflows upserts each workflow. Every entry is attempted; failures
// are joined.
func seedWorkflows(ctx context.Context, store workflowStore, entries []seedWorkflow) (created, updated int, err error) {
	var errs []error
	for _, entry := range entries {
		wf, convErr := entry.toDomain()
		if convErr != nil {
			errs = append(errs, convErr)
			continue
		}

		existing, findErr := store.FindByName(ctx, strings.TrimSpace(wf.OwnerID), strings.TrimSpace(wf.Name))
		switch {
		case findErr == nil:
			if _, upErr := store.Update(ctx, seedActor, existing.ID, asPatch(wf)); upErr != nil {
				errs = append(errs, fmt.Errorf("update workflow %q: %w", wf.Name, upErr))
				continue
			}
			updated++
			logger.Info("Updated workflow", zap.String("owner_id", wf.OwnerID), zap.String("name", wf.Name))
		case apperrors.IsNotFound(findErr):
			if _, createErr := store.Create(ctx, seedActor, wf); createErr != nil {
				errs = append(errs, fmt.Errorf("create workflow %q: %w", wf.Name, createErr))
				continue
			}
			created++
			logger.Info("Seeded workflow", zap.String("owner_id", wf.OwnerID), zap.String("name", wf.Name))
		default:
			errs = append(errs, fmt.Errorf("look up workflow %q: %w", wf.Name, findErr))
		}
	}
	return created, updated, errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
