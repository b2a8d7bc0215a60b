package progress

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

const (
	// clearLine rewinds and erases the current terminal line so the
	// readout overwrites itself instead of scrolling.
	clearLine = "\r\033[K"

	maxActiveShown = 3
)

// Reporter renders a consolidated progress line at a fixed cadence,
// independent of the workers feeding the table.
type Reporter struct {
	table    *Table
	out      io.Writer
	interval time.Duration
}

// NewReporter creates a reporter ticking once per interval.
func NewReporter(table *Table, out io.Writer, interval time.Duration) *Reporter {
	return &Reporter{table: table, out: out, interval: interval}
}

// Run renders until every pack is terminal or the context is
// cancelled. It only ever reads snapshots, never the live table.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprint(r.out, clearLine+renderLine(r.table.Snapshot()))

			if r.table.Done() {
				return
			}
		}
	}
}

// Summary writes the final report, replacing the live readout.
func (r *Reporter) Summary(failed []int) {
	counts := r.table.Counts()

	fmt.Fprint(r.out, clearLine)
	fmt.Fprintf(r.out, "Download complete: %d/%d successful, %d failed\n",
		counts.Completed, counts.Total, counts.Failed)

	if len(failed) > 0 {
		sorted := append([]int(nil), failed...)
		sort.Ints(sorted)

		parts := make([]string, 0, len(sorted))
		for _, pack := range sorted {
			parts = append(parts, fmt.Sprintf("%d", pack))
		}

		fmt.Fprintf(r.out, "Failed packs: %s\n", strings.Join(parts, ", "))
	}
}

// renderLine builds the single-line readout from a snapshot: overall
// counts, then up to maxActiveShown in-flight items, then a summarized
// remainder so the line stays bounded at any worker count.
func renderLine(snap Snapshot) string {
	var b strings.Builder

	done := snap.Counts.Completed + snap.Counts.Failed

	percent := 0.0
	if snap.Counts.Total > 0 {
		percent = float64(done) / float64(snap.Counts.Total) * 100
	}

	fmt.Fprintf(&b, "Progress: %d/%d complete, %d failed (%.1f%%)",
		snap.Counts.Completed, snap.Counts.Total, snap.Counts.Failed, percent)

	if len(snap.Active) == 0 {
		return b.String()
	}

	shown := snap.Active
	if len(shown) > maxActiveShown {
		shown = shown[:maxActiveShown]
	}

	parts := make([]string, 0, len(shown))
	for _, a := range shown {
		parts = append(parts, fmt.Sprintf("Pack #%d: %.1f%% at %s/s",
			a.Pack, a.Percent, humanize.Bytes(uint64(a.Speed))))
	}

	fmt.Fprintf(&b, " | %s", strings.Join(parts, ", "))

	if rest := len(snap.Active) - len(shown); rest > 0 {
		fmt.Fprintf(&b, " (+ %d more)", rest)
	}

	return b.String()
}
