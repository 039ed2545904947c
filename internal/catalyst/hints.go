package catalyst

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Hint kinds in parse-priority order.
const (
	KindExactDate  = "exact_date"
	KindQuarter    = "quarter"
	KindHalf       = "half"
	KindYear       = "year"
	KindConference = "conference"
)

// Base weights per hint kind.
const (
	weightExactDate  = 0.95
	weightConference = 0.80
	weightCoarse     = 0.60 // quarter, half, bare year
)

// Hint is a parsed readout-date hint from study-card text.
type Hint struct {
	Kind       string    `json:"kind"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Weight     float64   `json:"weight"`
	RawText    string    `json:"raw_text"`
	StudyID    string    `json:"study_id,omitempty"`
	URL        string    `json:"url,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}

// ConferenceWindow is the typical annual band of a known conference.
type ConferenceWindow struct {
	StartMonth time.Month `yaml:"start_month"`
	StartDay   int        `yaml:"start_day"`
	EndMonth   time.Month `yaml:"end_month"`
	EndDay     int        `yaml:"end_day"`
}

// DefaultConferences maps known acronyms to their typical dates.
func DefaultConferences() map[string]ConferenceWindow {
	return map[string]ConferenceWindow{
		"ASCO": {StartMonth: time.May, StartDay: 31, EndMonth: time.June, EndDay: 4},
		"ESMO": {StartMonth: time.September, StartDay: 13, EndMonth: time.September, EndDay: 17},
		"ASH":  {StartMonth: time.December, StartDay: 6, EndMonth: time.December, EndDay: 9},
		"AACR": {StartMonth: time.April, StartDay: 5, EndMonth: time.April, EndDay: 10},
		"AAN":  {StartMonth: time.April, StartDay: 13, EndMonth: time.April, EndDay: 18},
		"ADA":  {StartMonth: time.June, StartDay: 20, EndMonth: time.June, EndDay: 24},
		"ACC":  {StartMonth: time.March, StartDay: 29, EndMonth: time.March, EndDay: 31},
	}
}

var (
	exactDateRe  = regexp.MustCompile(`(?i)\b(January|February|March|April|May|June|July|August|September|October|November|December|Jan|Feb|Mar|Apr|Jun|Jul|Aug|Sep|Sept|Oct|Nov|Dec)\.?\s+(\d{1,2}),?\s+(\d{4})\b`)
	quarterRe    = regexp.MustCompile(`(?i)\bQ([1-4])\s*(\d{4})\b`)
	halfRe       = regexp.MustCompile(`(?i)\bH([12])\s*(\d{4})\b`)
	yearRe       = regexp.MustCompile(`\b(20\d{2})\b`)
	conferenceRe = regexp.MustCompile(`\b(ASCO|ESMO|ASH|AACR|AAN|ADA|ACC)\b[^\d]{0,10}(\d{4})`)
)

var monthAbbrev = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June, "jul": time.July,
	"aug": time.August, "sep": time.September, "sept": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

// ParseHint extracts the strongest hint from a fragment of study-card text.
// capturedAt is the actual capture time of the hint, used for recency decay.
func ParseHint(text string, capturedAt time.Time, conferences map[string]ConferenceWindow) *Hint {
	if conferences == nil {
		conferences = DefaultConferences()
	}

	if m := exactDateRe.FindStringSubmatch(text); m != nil {
		month, ok := monthAbbrev[strings.ToLower(m[1])[:3]]
		if len(strings.ToLower(m[1])) >= 4 && strings.ToLower(m[1])[:4] == "sept" {
			month, ok = time.September, true
		}
		if ok {
			day, _ := strconv.Atoi(m[2])
			year, _ := strconv.Atoi(m[3])
			d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
			return &Hint{
				Kind: KindExactDate, RawText: m[0], CapturedAt: capturedAt,
				Start: d.AddDate(0, 0, -1), End: d.AddDate(0, 0, 2), Weight: weightExactDate,
			}
		}
	}

	if m := conferenceRe.FindStringSubmatch(text); m != nil {
		if cw, ok := conferences[strings.ToUpper(m[1])]; ok {
			year, _ := strconv.Atoi(m[2])
			start := time.Date(year, cw.StartMonth, cw.StartDay, 0, 0, 0, 0, time.UTC)
			end := time.Date(year, cw.EndMonth, cw.EndDay, 0, 0, 0, 0, time.UTC)
			return &Hint{
				Kind: KindConference, RawText: m[0], CapturedAt: capturedAt,
				Start: start.AddDate(0, 0, -2), End: end.AddDate(0, 0, 1), Weight: weightConference,
			}
		}
	}

	if m := quarterRe.FindStringSubmatch(text); m != nil {
		q, _ := strconv.Atoi(m[1])
		year, _ := strconv.Atoi(m[2])
		start := time.Date(year, time.Month(3*(q-1)+1), 1, 0, 0, 0, 0, time.UTC)
		return &Hint{
			Kind: KindQuarter, RawText: m[0], CapturedAt: capturedAt,
			Start: start, End: start.AddDate(0, 3, -1), Weight: weightCoarse,
		}
	}

	if m := halfRe.FindStringSubmatch(text); m != nil {
		h, _ := strconv.Atoi(m[1])
		year, _ := strconv.Atoi(m[2])
		start := time.Date(year, time.Month(6*(h-1)+1), 1, 0, 0, 0, 0, time.UTC)
		return &Hint{
			Kind: KindHalf, RawText: m[0], CapturedAt: capturedAt,
			Start: start, End: start.AddDate(0, 6, -1), Weight: weightCoarse,
		}
	}

	if m := yearRe.FindStringSubmatch(text); m != nil {
		year, _ := strconv.Atoi(m[1])
		start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
		return &Hint{
			Kind: KindYear, RawText: m[0], CapturedAt: capturedAt,
			Start: start, End: time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC), Weight: weightCoarse,
		}
	}

	return nil
}
