package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/trialgate/trialgate/internal/catalyst"
	"github.com/trialgate/trialgate/internal/persistence"
)

// Windower infers and persists catalyst windows.
type Windower struct {
	trials      persistence.TrialsRepo
	scores      persistence.ScoresRepo
	conferences map[string]catalyst.ConferenceWindow
	slip        catalyst.SlipStats
	now         func() time.Time
}

// NewWindower creates a windower with the configured conference calendar and
// sponsor slip statistics.
func NewWindower(trials persistence.TrialsRepo, scores persistence.ScoresRepo, conferences map[string]catalyst.ConferenceWindow, slip catalyst.SlipStats) *Windower {
	return &Windower{trials: trials, scores: scores, conferences: conferences, slip: slip, now: time.Now}
}

// HintText is one raw timing statement attached to a trial.
type HintText struct {
	Text       string
	URL        string
	CapturedAt time.Time
}

// Compute parses the hint texts, anchors on the trial's estimated primary
// completion date, fuses, and upserts the window. A completed or terminated
// trial collapses to its terminal date.
func (w *Windower) Compute(ctx context.Context, nctID string, hints []HintText) (*catalyst.Window, error) {
	trial, err := w.trials.GetByNCTID(ctx, nctID)
	if err != nil {
		return nil, err
	}

	in := catalyst.Inputs{Slip: w.slip, Now: w.now()}

	latest, err := w.trials.LatestVersion(ctx, trial.ID)
	if err == nil {
		in.EPCD = latest.EstPrimaryCompletion
		in.EPCDAgeDays = w.now().Sub(latest.CapturedAt).Hours() / 24
	} else if !errors.Is(err, persistence.ErrNotFound) {
		return nil, err
	}

	if trial.Status != nil {
		switch *trial.Status {
		case "COMPLETED", "TERMINATED":
			status := "Completed"
			if *trial.Status == "TERMINATED" {
				status = "Terminated"
			}
			date := w.now()
			if in.EPCD != nil {
				date = *in.EPCD
			}
			in.Terminal = &catalyst.TerminalEvent{Status: status, Date: date}
		}
	}

	for _, h := range hints {
		parsed := catalyst.ParseHint(h.Text, h.CapturedAt, w.conferences)
		if parsed == nil {
			continue
		}
		parsed.StudyID = nctID
		parsed.URL = h.URL
		in.Hints = append(in.Hints, *parsed)
	}

	window := catalyst.Infer(in)
	if window == nil {
		log.Debug().Str("nct_id", nctID).Msg("no catalyst window inferable")
		return nil, nil
	}

	err = w.scores.UpsertCatalystWindow(ctx, &persistence.CatalystWindow{
		TrialID:     trial.ID,
		WindowStart: window.Start,
		WindowEnd:   window.End,
		Certainty:   window.Certainty,
		Sources:     window.Sources,
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("nct_id", nctID).
		Time("start", window.Start).
		Time("end", window.End).
		Float64("certainty", window.Certainty).
		Msg("catalyst window updated")
	return window, nil
}
