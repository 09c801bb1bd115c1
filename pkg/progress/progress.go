// Package progress implements C7: aggregating per-file extraction events
// from many concurrent workers into a single throughput estimate and
// ASCII progress bar, the way a CLI extraction run reports status.
//
// Grounded on original_source/crates/core/main.rs's progress-reporting
// loop; byte-size formatting uses github.com/dustin/go-humanize, matching
// the human-readable-size convention the rest of the example pack
// (dolthub-dolt) reaches for instead of hand-rolled KB/MB suffixing.
package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// EventKind tags what an Event reports.
type EventKind int

const (
	// EventSize announces a file's total size as it's queued, before any
	// bytes of it have been written.
	EventSize EventKind = iota
	// EventProgress announces that n more bytes of queued file data have
	// been processed.
	EventProgress
	// EventEnd announces that a file was handled without error (written, or
	// skipped); a worker that hits an error stops without sending it.
	EventEnd
)

// Event is one unit of work reported by an extraction worker over a shared
// channel (§7).
type Event struct {
	Kind EventKind
	Size int64 // for EventSize: total bytes; for EventProgress: bytes just processed
}

// windowSize bounds the sliding window of recent samples used for the
// throughput estimate (§7: 200-sample window).
const windowSize = 200

// barWidth is the fixed width, in characters, of the rendered ASCII bar.
const barWidth = 50

// Aggregator consumes Events from one channel shared by every extraction
// worker and periodically renders a progress line to an io.Writer.
type Aggregator struct {
	events chan Event
	out    io.Writer

	mu         sync.Mutex
	totalBytes int64
	doneBytes  int64
	filesTotal int
	filesDone  int
	samples    []sample
}

type sample struct {
	at    time.Time
	bytes int64
}

// NewAggregator returns an Aggregator that reads from events and renders to
// out. Callers push every worker's Events into the same channel and close
// it when extraction is finished.
func NewAggregator(events chan Event, out io.Writer) *Aggregator {
	return &Aggregator{events: events, out: out}
}

// Run drains events until the channel is closed, rendering a progress line
// after every event, and returns once draining completes. The
// caller typically runs this in its own goroutine alongside the extraction
// workers.
func (a *Aggregator) Run() {
	for ev := range a.events {
		a.apply(ev)
		a.render()
	}
	a.renderFinal()
}

func (a *Aggregator) apply(ev Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch ev.Kind {
	case EventSize:
		a.totalBytes += ev.Size
		a.filesTotal++
	case EventProgress:
		a.doneBytes += ev.Size
		a.pushSample(ev.Size)
	case EventEnd:
		a.filesDone++
	}
}

func (a *Aggregator) pushSample(n int64) {
	a.samples = append(a.samples, sample{at: monotonicNow(), bytes: n})
	if len(a.samples) > windowSize {
		a.samples = a.samples[len(a.samples)-windowSize:]
	}
}

// throughput returns bytes/sec estimated from the sliding window. Must be
// called with mu held.
func (a *Aggregator) throughput() float64 {
	if len(a.samples) < 2 {
		return 0
	}
	first := a.samples[0]
	last := a.samples[len(a.samples)-1]
	elapsed := last.at.Sub(first.at).Seconds()
	if elapsed <= 0 {
		return 0
	}
	var sum int64
	for _, s := range a.samples {
		sum += s.bytes
	}
	return float64(sum) / elapsed
}

func (a *Aggregator) render() {
	a.mu.Lock()
	total, done := a.totalBytes, a.doneBytes
	filesTotal, filesDone := a.filesTotal, a.filesDone
	rate := a.throughput()
	a.mu.Unlock()

	fmt.Fprintf(a.out, "\r%s  %d/%d files  %s/s   ",
		Bar(done, total, barWidth), filesDone, filesTotal, humanize.Bytes(uint64(rate)))
}

func (a *Aggregator) renderFinal() {
	a.mu.Lock()
	total, done := a.totalBytes, a.doneBytes
	filesTotal, filesDone := a.filesTotal, a.filesDone
	a.mu.Unlock()

	fmt.Fprintf(a.out, "\r%s  %d/%d files  %s extracted\n",
		Bar(done, total, barWidth), filesDone, filesTotal, humanize.Bytes(uint64(done)))
	_ = total
}

// Bar renders a fixed-width ASCII progress bar for done/total.
func Bar(done, total int64, width int) string {
	if total <= 0 {
		return "[" + strings.Repeat(" ", width) + "]"
	}
	frac := float64(done) / float64(total)
	if frac > 1 {
		frac = 1
	}
	if frac < 0 {
		frac = 0
	}
	filled := int(frac * float64(width))
	return "[" + strings.Repeat("=", filled) + strings.Repeat(" ", width-filled) + "]"
}

// monotonicNow is a thin wrapper so tests can't accidentally depend on wall
// clock formatting; kept separate from time.Now for clarity at call sites.
func monotonicNow() time.Time { return time.Now() }
