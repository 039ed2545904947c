package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/trialgate/trialgate/internal/catalyst"
	"github.com/trialgate/trialgate/internal/pipeline"
)

func windowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "window <nct-id>",
		Short: "Infer and persist the catalyst window for a trial",
		Long: `Fuses the trial's estimated primary completion date with any timing hints
(one per line of the hints file: press release sentences, conference
mentions, guidance quarters) into a single dated window with a certainty
score. Completed and terminated trials collapse to their terminal date.`,
		Args: cobra.ExactArgs(1),
		RunE: runWindow,
	}
	cmd.Flags().String("hints", "", "path to a file of raw timing hints, one per line")
	cmd.Flags().Float64("slip-mean", 0, "sponsor mean slip days")
	cmd.Flags().Float64("slip-p10", 0, "sponsor slip p10 days")
	cmd.Flags().Float64("slip-p90", 0, "sponsor slip p90 days")
	cmd.Flags().Int("slip-n", 0, "sponsor slip sample size")
	return cmd
}

func runWindow(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	slip := catalyst.SlipStats{}
	slip.MeanSlipDays, _ = cmd.Flags().GetFloat64("slip-mean")
	slip.P10Days, _ = cmd.Flags().GetFloat64("slip-p10")
	slip.P90Days, _ = cmd.Flags().GetFloat64("slip-p90")
	slip.NEvents, _ = cmd.Flags().GetInt("slip-n")

	var hints []pipeline.HintText
	if path, _ := cmd.Flags().GetString("hints"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			hints = append(hints, pipeline.HintText{Text: line, CapturedAt: time.Now()})
		}
		if err := scanner.Err(); err != nil {
			return err
		}
	}

	w := pipeline.NewWindower(a.trials, a.scores, a.cfg.Catalyst.Conferences, slip)
	window, err := w.Compute(context.Background(), args[0], hints)
	if err != nil {
		return err
	}
	if window == nil {
		fmt.Println("no window inferable")
		return nil
	}
	fmt.Printf("%s .. %s  certainty %.2f  sources %v\n",
		window.Start.Format("2006-01-02"), window.End.Format("2006-01-02"),
		window.Certainty, window.Sources)
	return nil
}
