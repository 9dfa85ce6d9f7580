// Package app is the composition root: bootstrap stays orchestration-only.
package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/riverqueue/river"

	"tollgate.io/tollgate/internal/api/handlers"
	"tollgate.io/tollgate/internal/api/middleware"
	"tollgate.io/tollgate/internal/app/modules"
	"tollgate.io/tollgate/internal/config"
	"tollgate.io/tollgate/internal/infrastructure"
	"tollgate.io/tollgate/internal/pkg/worker"
)

// Application holds composed application dependencies.
type Application struct {
	Config  *config.Config
	Router  *gin.Engine
	DB      *infrastructure.DatabaseClients
	Pools   *worker.Pools
	Modules []modules.Module

	infra *modules.Infrastructure
}

// Bootstrap initializes all dependencies using module-oriented manual DI.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Application, error) {
	infra, err := modules.NewInfrastructure(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init infrastructure: %w", err)
	}

	approvalModule, err := modules.NewApprovalModule(infra)
	if err != nil {
		infra.Close()
		return nil, fmt.Errorf("init approval module: %w", err)
	}
	governanceModule, err := modules.NewGovernanceModule(infra, approvalModule.Ledger())
	if err != nil {
		infra.Close()
		return nil, fmt.Errorf("init governance module: %w", err)
	}
	allModules := []modules.Module{approvalModule, governanceModule}

	if infra.DB.HasJobQueue() {
		workers := river.NewWorkers()
		var periodic []*river.PeriodicJob
		for _, mod := range allModules {
			mod.RegisterWorkers(workers)
			if p, ok := mod.(modules.PeriodicJobProvider); ok {
				periodic = append(periodic, p.PeriodicJobs()...)
			}
		}
		if err := infra.InitRiver(workers, periodic); err != nil {
			infra.Close()
			return nil, fmt.Errorf("init river workers: %w", err)
		}
	}

	server := handlers.NewServer(modules.NewServerDeps(infra, allModules))
	jwtCfg := middleware.JWTConfig{
		SigningKey: []byte(cfg.Security.JWTSecret),
		Issuer:     cfg.Security.JWTIssuer,
	}

	return &Application{
		Config:  cfg,
		Router:  newRouter(cfg, server, jwtCfg),
		DB:      infra.DB,
		Pools:   infra.Pools,
		Modules: allModules,
		infra:   infra,
	}, nil
}
