package catalyst

import (
	"math"
	"sort"
	"time"
)

// Slip adjustment bounds.
const (
	slipShiftMin = -30.0
	slipShiftMax = 75.0
	slipWidenCap = 14.0

	recencyHalfRange = 180.0

	baseAnchorWeight   = 0.40
	baseAnchorPreDays  = 14
	baseAnchorPostDays = 28

	intersectSpanScale = 30.0
	unionSpanScale     = 45.0
)

// SlipStats is the sponsor's historical readout-slip distribution.
type SlipStats struct {
	MeanSlipDays float64 `json:"mean_slip_days"`
	P10Days      float64 `json:"p10_days"`
	P90Days      float64 `json:"p90_days"`
	NEvents      int     `json:"n_events"`
}

// TerminalEvent overrides inference when the trial already read out.
type TerminalEvent struct {
	Status string // Completed, Terminated
	Date   time.Time
}

// Window is the fused catalyst window.
type Window struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Certainty float64   `json:"certainty"`
	Sources   []string  `json:"sources"`
}

// Inputs to window inference.
type Inputs struct {
	EPCD        *time.Time
	EPCDAgeDays float64 // age of the version that reported the EPCD
	Hints       []Hint
	Slip        SlipStats
	Terminal    *TerminalEvent
	Now         time.Time
}

type candidate struct {
	start  time.Time
	end    time.Time
	weight float64
	source string
}

// Infer fuses the EPCD anchor and the parsed hints into a single window
// with a certainty score. A terminal event short-circuits everything.
func Infer(in Inputs) *Window {
	if in.Terminal != nil && (in.Terminal.Status == "Completed" || in.Terminal.Status == "Terminated") {
		return &Window{
			Start:     in.Terminal.Date,
			End:       in.Terminal.Date,
			Certainty: 1.0,
			Sources:   []string{"terminal_event"},
		}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var candidates []candidate
	for _, h := range in.Hints {
		age := hintAgeDays(h, now)
		start, end := slipAdjust(h.Start, h.End, in.Slip)
		candidates = append(candidates, candidate{
			start:  start,
			end:    end,
			weight: h.Weight * RecencyDecay(age),
			source: h.Kind,
		})
	}
	if in.EPCD != nil {
		start, end := slipAdjust(
			in.EPCD.AddDate(0, 0, -baseAnchorPreDays),
			in.EPCD.AddDate(0, 0, baseAnchorPostDays),
			in.Slip)
		candidates = append(candidates, candidate{
			start:  start,
			end:    end,
			weight: baseAnchorWeight * RecencyDecay(in.EPCDAgeDays),
			source: "epcd_anchor",
		})
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].weight > candidates[j].weight
	})

	if len(candidates) == 1 {
		c := candidates[0]
		return &Window{Start: c.start, End: c.end, Certainty: c.weight, Sources: []string{c.source}}
	}

	c1, c2 := candidates[0], candidates[1]
	wMax := math.Max(c1.weight, c2.weight)

	iStart := maxTime(c1.start, c2.start)
	iEnd := minTime(c1.end, c2.end)
	if !iStart.After(iEnd) {
		span := iEnd.Sub(iStart).Hours() / 24
		return &Window{
			Start:     iStart,
			End:       iEnd,
			Certainty: clampUnit(1 - (span/intersectSpanScale)*(1-wMax)),
			Sources:   []string{c1.source, c2.source},
		}
	}

	uStart := minTime(c1.start, c2.start)
	uEnd := maxTime(c1.end, c2.end)
	span := uEnd.Sub(uStart).Hours() / 24
	return &Window{
		Start:     uStart,
		End:       uEnd,
		Certainty: clampUnit(1 - (span/unionSpanScale)*(1-wMax)),
		Sources:   []string{c1.source, c2.source},
	}
}

// slipAdjust shifts a window by the clamped mean slip and widens it by half
// the p10-p90 spread, capped.
func slipAdjust(start, end time.Time, slip SlipStats) (time.Time, time.Time) {
	shift := math.Max(slipShiftMin, math.Min(slipShiftMax, slip.MeanSlipDays))
	widen := math.Min(slipWidenCap, (slip.P90Days-slip.P10Days)/2)
	if widen < 0 {
		widen = 0
	}
	return start.AddDate(0, 0, int(shift-widen)), end.AddDate(0, 0, int(shift+widen))
}

// RecencyDecay is non-negative and monotone non-increasing in age.
func RecencyDecay(ageDays float64) float64 {
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Min(1.0, 0.5+0.5*math.Exp(-ageDays/recencyHalfRange))
}

func hintAgeDays(h Hint, now time.Time) float64 {
	if h.CapturedAt.IsZero() {
		// An unknown capture time gets no recency credit.
		return math.Inf(1)
	}
	return now.Sub(h.CapturedAt).Hours() / 24
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
