package log

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Progress emits periodic progress lines for long-running batch operations.
// It is safe for concurrent use.
type Progress struct {
	mu        sync.Mutex
	name      string
	total     int // 0 means unknown
	current   int
	errors    int
	startTime time.Time
	lastEmit  time.Time
	interval  time.Duration
}

// NewProgress starts tracking a named operation. total may be zero when the
// upper bound is unknown ahead of time.
func NewProgress(name string, total int) *Progress {
	now := time.Now()
	return &Progress{
		name:      name,
		total:     total,
		startTime: now,
		lastEmit:  now,
		interval:  10 * time.Second,
	}
}

// Increment records one processed item and emits a line when the interval
// has elapsed.
func (p *Progress) Increment() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current++
	p.maybeEmit()
}

// Error records a failed item.
func (p *Progress) Error() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errors++
	p.maybeEmit()
}

func (p *Progress) maybeEmit() {
	if time.Since(p.lastEmit) < p.interval {
		return
	}
	p.lastEmit = time.Now()
	p.emit("progress")
}

// Done emits the final summary line with totals and elapsed time.
func (p *Progress) Done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.emit("done")
}

func (p *Progress) emit(stage string) {
	elapsed := time.Since(p.startTime)
	ev := log.Info().
		Str("op", p.name).
		Str("stage", stage).
		Int("processed", p.current).
		Int("errors", p.errors).
		Dur("elapsed", elapsed)
	if p.total > 0 {
		ev = ev.Int("total", p.total)
	}
	if p.current > 0 && elapsed > 0 {
		ev = ev.Float64("rate_per_s", float64(p.current)/elapsed.Seconds())
	}
	ev.Msg("batch progress")
}
