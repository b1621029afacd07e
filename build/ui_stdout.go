package build

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"go-repack/broadcast"
	"go-repack/pkg"
	"go-repack/stats"
)

var _ UI = (*StdoutUI)(nil)

// StdoutUI implements UI using plain line output
type StdoutUI struct {
	broadcast.Identity

	mu        sync.Mutex
	out       io.Writer
	total     int
	done      int
	failed    int
	start     time.Time
	lastPrint time.Time // Last time stats were printed (throttle to every 5s)
}

// NewStdoutUI creates a UI writing to out (os.Stdout when nil) for a
// session of total items.
func NewStdoutUI(out io.Writer, total int) *StdoutUI {
	if out == nil {
		out = os.Stdout
	}
	return &StdoutUI{
		Identity: broadcast.NewIdentity(),
		out:      out,
		total:    total,
	}
}

// Start records the session start time
func (ui *StdoutUI) Start() error {
	ui.mu.Lock()
	defer ui.mu.Unlock()
	ui.start = time.Now()
	return nil
}

// Stop is a no-op for line output
func (ui *StdoutUI) Stop() {}

// OnItemStarted implements progress.Subscriber
func (ui *StdoutUI) OnItemStarted(p *pkg.Package) {
	ui.mu.Lock()
	defer ui.mu.Unlock()
	fmt.Fprintf(ui.out, "[start] %s\n", p)
}

// OnItemFinished implements progress.Subscriber
func (ui *StdoutUI) OnItemFinished(p *pkg.Package, output string, err error) {
	ui.mu.Lock()
	defer ui.mu.Unlock()

	ui.done++
	if err != nil {
		ui.failed++
		fmt.Fprintf(ui.out, "[fail]  %s: %s\n", p, failureReason(err))
	} else {
		fmt.Fprintf(ui.out, "[ok]    %s -> %s\n", p, output)
	}
	ui.printProgressLocked()
}

// OnBatchFinished implements progress.Subscriber
func (ui *StdoutUI) OnBatchFinished() {
	ui.mu.Lock()
	defer ui.mu.Unlock()
	fmt.Fprintf(ui.out, "Engine finished after %s\n", formatDuration(time.Since(ui.start)))
}

func (ui *StdoutUI) printProgressLocked() {
	fmt.Fprintf(ui.out, "Progress: %d/%d (S:%d F:%d) %s elapsed\n",
		ui.done, ui.total, ui.done-ui.failed, ui.failed, formatDuration(time.Since(ui.start)))
}

// OnStatsUpdate implements stats.StatsConsumer
// Prints condensed status line every 5 seconds to reduce spam
func (ui *StdoutUI) OnStatsUpdate(info stats.TopInfo) {
	ui.mu.Lock()
	defer ui.mu.Unlock()

	now := time.Now()
	if now.Sub(ui.lastPrint) < 5*time.Second {
		return
	}
	ui.lastPrint = now

	fmt.Fprintf(ui.out, "[%s] Rate %s/hr Active %d Built %d Failed %d Remaining %d\n",
		stats.FormatDuration(info.Elapsed), stats.FormatRate(info.Rate),
		info.Active, info.Built, info.Failed, info.Remaining)
}

// ShowResult prints the session summary and the failed items
func (ui *StdoutUI) ShowResult(r Result) {
	ui.mu.Lock()
	defer ui.mu.Unlock()

	if r.SessionID == "" {
		fmt.Fprintf(ui.out, "Rebuild not started: %v\n", r.Err)
		return
	}

	fmt.Fprintf(ui.out, "Session %s %s in %s: %d succeeded, %d failed of %d\n",
		r.SessionID, r.State, formatDuration(r.Duration),
		r.Summary.Succeeded, r.Summary.Failed, r.Summary.Total)

	var failed []string
	for k, o := range r.Outcomes {
		if !o.Succeeded {
			failed = append(failed, fmt.Sprintf("  %s: %s", k, failureReason(o.Err)))
		}
	}
	sort.Strings(failed)
	for _, line := range failed {
		fmt.Fprintln(ui.out, line)
	}

	if r.Err != nil {
		fmt.Fprintf(ui.out, "Error: %v\n", r.Err)
	}
	if r.PersistErr != nil {
		fmt.Fprintf(ui.out, "Warning: archives were built but not recorded: %v\n", r.PersistErr)
	}
}

// formatDuration formats a duration for display
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
