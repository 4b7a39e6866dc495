package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/sift-labs/sift/config"
	"github.com/sift-labs/sift/internal/agent/core"
	"github.com/sift-labs/sift/internal/agent/telemetry"
	"github.com/sift-labs/sift/internal/ambiguity"
	"github.com/sift-labs/sift/internal/catalog"
	"github.com/sift-labs/sift/internal/evaluator"
	"github.com/sift-labs/sift/internal/executor"
	"github.com/sift-labs/sift/internal/plancache"
	"github.com/sift-labs/sift/internal/planner"
	"github.com/sift-labs/sift/internal/recovery"
	"github.com/sift-labs/sift/internal/server"
	"github.com/sift-labs/sift/internal/session"
	"github.com/sift-labs/sift/internal/state"
	"github.com/sift-labs/sift/internal/store"
	"github.com/sift-labs/sift/provider/openai"
)

func serveCMD() *cobra.Command {
	var cfgPath string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run the search session API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	serve.Flags().StringVarP(&cfgPath, "config", "c", "", "config file path")
	return serve
}

func runServe(parent context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := log.New(log.Writer(), "[SIFT] ", log.LstdFlags)

	cat, err := catalog.New(nil, nil)
	if err != nil {
		return fmt.Errorf("building catalog: %w", err)
	}
	defer cat.Close()

	reg := executor.NewRegistry()
	if err := catalog.RegisterTools(reg, cat); err != nil {
		return fmt.Errorf("registering tools: %w", err)
	}

	var plan core.Planner = planner.NewRulesPlanner(nil)
	if cfg.Agent.UseLLMPlanner {
		provider, err := openai.New(cfg.LLM.APIKey, cfg.LLM.BaseURL, nil)
		if err != nil {
			return fmt.Errorf("building llm provider: %w", err)
		}
		plan = planner.NewLLMPlanner(provider, cfg.LLM.Model, planner.NewRulesPlanner(nil), nil)
	}

	var cache core.PlanCache
	if cfg.Storage.Redis.Enabled {
		rc, err := plancache.New(ctx, cfg.Storage.Redis.Addr, cfg.Storage.Redis.Password, cfg.Storage.Redis.DB, cfg.Storage.Redis.PlanTTL, nil)
		if err != nil {
			return fmt.Errorf("connecting plan cache: %w", err)
		}
		defer rc.Close()
		cache = rc
	}

	var st *store.Store
	if cfg.Storage.Postgres.Enabled {
		st, err = store.Open(ctx, cfg.Storage.Postgres.DSN, nil)
		if err != nil {
			return fmt.Errorf("connecting postgres: %w", err)
		}
		defer st.Close()
	}

	var metrics *telemetry.Telemetry
	if cfg.Telemetry.Enabled {
		metrics = telemetry.New(prometheus.DefaultRegisterer)
	}

	svc, err := session.NewService(session.Config{
		Detector:  ambiguity.NewDetector(nil),
		Planner:   plan,
		Executor:  executor.New(reg, nil),
		Evaluator: evaluator.New(nil),
		States:    state.NewManager(nil, nil),
		Recovery:  recovery.NewDefaultManager(nil),
		Cache:     cache,
		Metrics:   metrics,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("building session service: %w", err)
	}

	srv := server.New(cfg.Server, svc, st, metrics, logger)
	return srv.Start(ctx)
}
