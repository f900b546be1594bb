// Package report summarizes readback activity: periodically to the log on a
// cron schedule, and as a table at shutdown.
package report

import (
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/nmxmxh/collision-readback/internal/readback"
)

// StatsSource returns the current scheduler counters.
type StatsSource func() readback.Stats

// Reporter logs the counter deltas since its previous run.
type Reporter struct {
	source StatsSource
	cron   *cron.Cron
	log    *zap.Logger

	mu   sync.Mutex
	last readback.Stats
	runs int
}

func NewReporter(source StatsSource, log *zap.Logger) *Reporter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reporter{
		source: source,
		cron:   cron.New(),
		log:    log.With(zap.String("module", "report")),
	}
}

// Start schedules Report with a standard cron expression or descriptor such as
// "@every 10s" and starts the scheduler.
func (r *Reporter) Start(schedule string) error {
	if _, err := r.cron.AddFunc(schedule, func() { r.Report() }); err != nil {
		return fmt.Errorf("invalid report schedule %q: %w", schedule, err)
	}
	r.cron.Start()
	r.log.Info("Reporter started", zap.String("schedule", schedule))
	return nil
}

// Stop stops the scheduler and waits for a running report to finish.
func (r *Reporter) Stop() {
	<-r.cron.Stop().Done()
}

// Report logs one summary and returns the delta it logged.
func (r *Reporter) Report() readback.Stats {
	cur := r.source()

	r.mu.Lock()
	delta := diff(cur, r.last)
	r.last = cur
	r.runs++
	r.mu.Unlock()

	r.log.Info("readback summary",
		zap.Uint64("issued", delta.Issued),
		zap.Uint64("completed", delta.Completed),
		zap.Uint64("skipped", delta.Skipped),
		zap.Uint64("stale", delta.Stale),
		zap.Uint64("failed", delta.Failed),
		zap.Uint64("decoded", delta.Decoded),
		zap.Uint64("truncated", delta.Truncated))
	return delta
}

// Runs returns how many reports have been logged.
func (r *Reporter) Runs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}

func diff(a, b readback.Stats) readback.Stats {
	return readback.Stats{
		Issued:     a.Issued - b.Issued,
		Completed:  a.Completed - b.Completed,
		Skipped:    a.Skipped - b.Skipped,
		Stale:      a.Stale - b.Stale,
		Failed:     a.Failed - b.Failed,
		Decoded:    a.Decoded - b.Decoded,
		Truncated:  a.Truncated - b.Truncated,
		Dispatches: a.Dispatches - b.Dispatches,
	}
}

// Render writes the lifetime counters as a table. Non-zero loss counters
// (stale, failed, truncated) are highlighted.
func Render(w io.Writer, s readback.Stats) error {
	table := tablewriter.NewWriter(w)
	if err := table.Append([]string{"Counter", "Value"}); err != nil {
		return fmt.Errorf("failed to append header row: %w", err)
	}

	rows := []struct {
		name  string
		value uint64
		loss  bool
	}{
		{"issued", s.Issued, false},
		{"completed", s.Completed, false},
		{"skipped ticks", s.Skipped, false},
		{"stale callbacks", s.Stale, true},
		{"failed", s.Failed, true},
		{"decoded records", s.Decoded, false},
		{"truncated records", s.Truncated, true},
		{"consumer calls", s.Dispatches, false},
	}
	for _, row := range rows {
		val := strconv.FormatUint(row.value, 10)
		switch {
		case row.loss && row.value > 0:
			val = color.New(color.FgHiRed, color.Bold).Sprint(val)
		case !row.loss:
			val = color.New(color.FgHiBlue).Sprint(val)
		}
		name := color.New(color.FgHiBlack).Sprint(row.name)
		if err := table.Append([]string{name, val}); err != nil {
			return fmt.Errorf("failed to append row: %w", err)
		}
	}
	return table.Render()
}
