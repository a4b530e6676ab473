// Package driver exercises an exclusive section with a pool of concurrent
// callers and records when each of them held the lock.
package driver

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/juju/clock"
	"golang.org/x/sync/errgroup"

	"filemutex/internal/config"
)

const timestampLayout = "2006-01-02T15:04:05.000000"

// Section is the critical section the driver runs. *section.Section
// implements it.
type Section interface {
	Label() string
	Do(ctx context.Context, work func(ctx context.Context) error) error
}

// Interval is one completed critical section.
type Interval struct {
	Worker int
	Call   int
	Start  time.Time
	End    time.Time
}

// Report collects the intervals recorded by a run.
type Report struct {
	Label     string
	Intervals []Interval
	Elapsed   time.Duration
}

// Overlapping returns the first pair of intervals that overlap in time, if any.
func (r *Report) Overlapping() (Interval, Interval, bool) {
	sorted := append([]Interval(nil), r.Intervals...)
	if len(sorted) < 2 {
		return Interval{}, Interval{}, false
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })
	// latest is the interval with the furthest end among those already visited.
	latest := sorted[0]
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Start.Before(latest.End) {
			return latest, sorted[i], true
		}
		if sorted[i].End.After(latest.End) {
			latest = sorted[i]
		}
	}
	return Interval{}, Interval{}, false
}

// Driver runs Calls critical sections over a pool of Workers goroutines.
type Driver struct {
	section Section
	out     io.Writer
	clock   clock.Clock
	workers int
	calls   int
	hold    time.Duration

	startColor *color.Color
	endColor   *color.Color
	errColor   *color.Color

	outMu sync.Mutex
}

// Option configures a Driver.
type Option func(*Driver)

// WithClock replaces the wall clock used for the simulated hold.
func WithClock(c clock.Clock) Option {
	return func(d *Driver) { d.clock = c }
}

// New returns a Driver for sec using the pool sizes and hold duration of cfg.
// Progress lines are written to out; a nil out discards them.
func New(cfg *config.Config, sec Section, out io.Writer, opts ...Option) (*Driver, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if sec == nil {
		return nil, fmt.Errorf("section is required")
	}
	if cfg.Workers < 1 || cfg.Calls < 1 {
		return nil, fmt.Errorf("workers and calls must be positive, got %d and %d", cfg.Workers, cfg.Calls)
	}
	if out == nil {
		out = io.Discard
	}
	d := &Driver{
		section:    sec,
		out:        out,
		clock:      clock.WallClock,
		workers:    cfg.Workers,
		calls:      cfg.Calls,
		hold:       cfg.HoldDuration,
		startColor: color.New(color.FgGreen),
		endColor:   color.New(color.FgCyan),
		errColor:   color.New(color.FgRed, color.Bold),
	}
	if cfg.NoColor {
		d.startColor.DisableColor()
		d.endColor.DisableColor()
		d.errColor.DisableColor()
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Run executes all calls and returns the recorded intervals. The first failing
// call cancels the calls still waiting and its error is returned together with
// the intervals completed so far.
func (d *Driver) Run(ctx context.Context) (*Report, error) {
	report := &Report{Label: d.section.Label()}
	var mu sync.Mutex

	ids := make(chan int, d.workers)
	for i := 1; i <= d.workers; i++ {
		ids <- i
	}

	started := d.clock.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)

	for call := 1; call <= d.calls; call++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			worker := <-ids
			defer func() { ids <- worker }()

			var iv Interval
			err := d.section.Do(gctx, func(ctx context.Context) error {
				iv = Interval{Worker: worker, Call: call, Start: time.Now()}
				d.printf(d.startColor, "%s start %s worker-%d\n", report.Label, iv.Start.Format(timestampLayout), worker)
				if err := d.simulateWork(ctx); err != nil {
					return err
				}
				iv.End = time.Now()
				d.printf(d.endColor, "%s end   %s worker-%d\n", report.Label, iv.End.Format(timestampLayout), worker)
				return nil
			})
			if err != nil {
				d.printf(d.errColor, "%s call %d worker-%d failed: %v\n", report.Label, call, worker, err)
				return fmt.Errorf("call %d: %w", call, err)
			}

			mu.Lock()
			report.Intervals = append(report.Intervals, iv)
			mu.Unlock()
			return nil
		})
	}

	err := g.Wait()
	report.Elapsed = d.clock.Now().Sub(started)
	return report, err
}

func (d *Driver) simulateWork(ctx context.Context) error {
	if d.hold <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-d.clock.After(d.hold):
		return nil
	}
}

func (d *Driver) printf(c *color.Color, format string, args ...interface{}) {
	d.outMu.Lock()
	defer d.outMu.Unlock()
	_, _ = c.Fprintf(d.out, format, args...)
}
