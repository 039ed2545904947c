package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/trialgate/trialgate/internal/persistence/postgres"
	"github.com/trialgate/trialgate/internal/pipeline"
	"github.com/trialgate/trialgate/internal/resolver"
)

func resolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve trial sponsors to canonical companies",
		Long: `Runs the deterministic and probabilistic sponsor resolver over trials with
no canonical company. Accepts write through to the trial; uncertain matches
land on the review queue; academic and government sponsors are ignored.`,
		RunE: runResolve,
	}
	cmd.Flags().Int("limit", 0, "max trials to examine (default from config)")
	return cmd
}

func runResolve(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	if limit <= 0 {
		limit = a.cfg.Pipeline.ResolveBatch
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	decisions := postgres.NewResolverRepo(a.db, a.db)
	res := resolver.New(postgres.NewCompaniesRepo(a.db), decisions, a.cfg.Resolver)

	// LLM escalation is opt-in: no key, no calls.
	var assist *resolver.LLMAssist
	if a.cfg.LLMKey != "" {
		assist = resolver.NewLLMAssist(resolver.NewOpenAIClient(a.cfg.LLMKey, a.cfg.Resolver.LLMModel), decisions)
	}

	_, err = pipeline.ResolveBatch(ctx, a.trials, res, assist, a.metrics, limit)
	return err
}
