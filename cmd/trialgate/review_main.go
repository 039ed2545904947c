package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/trialgate/trialgate/internal/persistence/postgres"
	"github.com/trialgate/trialgate/internal/resolver"
)

func reviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Work the sponsor review queue",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List pending review items with their candidates",
		RunE:  runReviewList,
	}
	listCmd.Flags().Int("limit", 50, "max items to show")

	acceptCmd := &cobra.Command{
		Use:   "accept <review-id>",
		Short: "Accept a review item, optionally forcing a company id",
		Args:  cobra.ExactArgs(1),
		RunE:  runReviewAccept,
	}
	acceptCmd.Flags().Int64("company", 0, "company id to accept (default: top candidate)")
	acceptCmd.Flags().Bool("label", true, "record a calibration label")

	rejectCmd := &cobra.Command{
		Use:   "reject <review-id>",
		Short: "Reject a review item",
		Args:  cobra.ExactArgs(1),
		RunE:  runReviewReject,
	}
	rejectCmd.Flags().Bool("label", true, "record a negative calibration label")

	cmd.AddCommand(listCmd, acceptCmd, rejectCmd)
	return cmd
}

func runReviewList(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	queue := resolver.NewReviewQueue(postgres.NewResolverRepo(a.db, a.db))
	items, err := queue.ListPending(context.Background(), limit)
	if err != nil {
		return err
	}
	a.metrics.ReviewQueueDepth.Set(float64(len(items)))

	for _, item := range items {
		fmt.Printf("%s  %s  %q\n", item.ID, item.NCTID, item.SponsorText)
		for _, c := range item.Candidates {
			fmt.Printf("    p=%.3f  company=%d  %s\n", c.Probability, c.CompanyID, c.CompanyName)
		}
	}
	fmt.Printf("%d pending\n", len(items))
	return nil
}

func runReviewAccept(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	var companyID *int64
	if id, _ := cmd.Flags().GetInt64("company"); id > 0 {
		companyID = &id
	}
	writeLabel, _ := cmd.Flags().GetBool("label")

	queue := resolver.NewReviewQueue(postgres.NewResolverRepo(a.db, a.db))
	decision, err := queue.Accept(context.Background(), args[0], companyID, writeLabel)
	if err != nil {
		return err
	}

	// Write the accepted sponsor through to the trial row.
	trial, err := a.trials.GetByNCTID(context.Background(), decision.NCTID)
	if err != nil {
		return err
	}
	if decision.CompanyID != nil {
		if err := a.trials.UpdateSponsor(context.Background(), trial.ID, *decision.CompanyID); err != nil {
			return err
		}
	}
	log.Info().Str("review_id", args[0]).Str("nct_id", decision.NCTID).Msg("review accepted")
	return nil
}

func runReviewReject(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	writeLabel, _ := cmd.Flags().GetBool("label")
	queue := resolver.NewReviewQueue(postgres.NewResolverRepo(a.db, a.db))
	if err := queue.Reject(context.Background(), args[0], writeLabel); err != nil {
		return err
	}
	log.Info().Str("review_id", args[0]).Msg("review rejected")
	return nil
}
