// Package progress renders a terminal progress bar with pass/fail counts
// and an ETA weighted toward recent throughput. It observes command state
// from its own goroutine; the execution core never calls into it.
package progress

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"

	"hostrun/internal/message"
)

// ewmaAlpha weights the most recent rate sample in the ETA estimate.
const ewmaAlpha = 0.3

// minSamples before an ETA is displayed at all.
const minSamples = 5

var spinnerFrames = []string{"|", "/", "-", "\\"}

// Progress tracks completed work items. All methods are safe for
// concurrent use; a renderer goroutine and worker goroutines can share one
// instance.
type Progress struct {
	mu         sync.Mutex
	total      int
	pass       int
	fail       int
	start      time.Time
	lastSample time.Time
	rate       float64 // percent per second, exponentially smoothed
	samples    int
	spinner    int
	finished   bool
}

// New builds a Progress expecting total items. Indefinite progress is not
// supported.
func New(total int) *Progress {
	now := time.Now()
	return &Progress{total: total, start: now, lastSample: now}
}

// Pass records one successful item.
func (p *Progress) Pass() { p.increment(false) }

// Fail records one failed item.
func (p *Progress) Fail() { p.increment(true) }

func (p *Progress) increment(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pass+p.fail >= p.total {
		return
	}
	before := p.percentLocked()
	if fail {
		p.fail++
	} else {
		p.pass++
	}

	now := time.Now()
	elapsed := now.Sub(p.lastSample).Seconds()
	if elapsed > 0 {
		sample := (p.percentLocked() - before) / elapsed
		if p.samples == 0 {
			p.rate = sample
		} else {
			p.rate = ewmaAlpha*sample + (1-ewmaAlpha)*p.rate
		}
		p.samples++
		p.lastSample = now
	}
}

func (p *Progress) percentLocked() float64 {
	if p.total == 0 {
		return 100
	}
	return float64(p.pass+p.fail) / float64(p.total) * 100
}

// Percent returns total completion in [0, 100].
func (p *Progress) Percent() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.percentLocked()
}

// Counts returns (passed, failed, total).
func (p *Progress) Counts() (int, int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pass, p.fail, p.total
}

// ETA estimates time remaining from the smoothed rate. ok is false until
// enough samples exist.
func (p *Progress) ETA() (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.etaLocked()
}

func (p *Progress) etaLocked() (time.Duration, bool) {
	if p.samples < minSamples || p.rate <= 0 {
		return 0, false
	}
	remaining := 100 - p.percentLocked()
	return time.Duration(remaining / p.rate * float64(time.Second)), true
}

// Finished reports whether a Summary has been rendered at 100%.
func (p *Progress) Finished() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finished
}

// SummaryOptions tune the Summary line.
type SummaryOptions struct {
	// HideFailed omits the failure tail even when failures occurred.
	HideFailed bool
	// MaxWidth caps the line length; the terminal width wins when smaller.
	MaxWidth int
}

// Summary builds one status line with message-package color tags, sized to
// the terminal:
//
//	 81% (35/43) [########      ] eta 0:00:06 / 14% ( 5/35) failed
func (p *Progress) Summary(opts SummaryOptions) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	done := p.pass + p.fail
	percent := p.percentLocked()

	etaStr := "-:--:--"
	eta, ok := p.etaLocked()
	if ok {
		etaStr = formatDuration(eta)
	}
	if percent >= 100 {
		etaStr = formatDuration(0)
	}

	p.spinner = (p.spinner + 1) % len(spinnerFrames)
	spinner := spinnerFrames[p.spinner]

	totalStr := fmt.Sprintf("%d", p.total)
	head := fmt.Sprintf(" [hicyan]%3d%%[/all] (%*d/%s)", int(percent), len(totalStr), done, totalStr)

	var etaPart string
	if ok && eta <= 10*time.Second {
		etaPart = fmt.Sprintf(" eta [higreen]%s[/all] %s", etaStr, spinner)
	} else {
		etaPart = fmt.Sprintf(" eta %s %s", etaStr, spinner)
	}

	tail := " "
	if p.fail > 0 && !opts.HideFailed && done > 0 {
		failPercent := float64(p.fail) / float64(done) * 100
		tail = fmt.Sprintf(" [hired]%d%% (%*d/%d) failed[/all] ", int(failPercent), len(totalStr), p.fail, done)
	}

	width := terminalWidth()
	if opts.MaxWidth > 0 && opts.MaxWidth < width {
		width = opts.MaxWidth
	}

	plainLen := len(message.Strip(head + etaPart + tail))
	bar := ""
	barSize := width - plainLen - 3
	if barSize >= 3 {
		fill := int(percent / 100 * float64(barSize))
		bar = fmt.Sprintf(" [hiblue][[yellow]%s[hiblue]%s][/all]",
			strings.Repeat("#", fill), strings.Repeat(" ", barSize-fill))
	}

	if percent >= 100 {
		p.finished = true
	}
	return head + bar + etaPart + tail
}

// Display renders the summary to msg every interval from a background
// goroutine until progress is finished or the returned stop function is
// called. The stop function blocks until the renderer exits.
func (p *Progress) Display(msg *message.Message, opts SummaryOptions, interval time.Duration) func() {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			msg.Raw("\r" + p.Summary(opts))
			if p.Finished() {
				msg.Raw("\n")
				return
			}
			select {
			case <-stop:
				msg.Raw("\n")
				return
			case <-ticker.C:
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(stop) })
		<-done
	}
}

// formatDuration renders H:MM:SS like 0:00:06.
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Seconds())
	return fmt.Sprintf("%d:%02d:%02d", total/3600, total%3600/60, total%60)
}

func terminalWidth() int {
	if term.IsTerminal(int(os.Stdout.Fd())) {
		if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
			return w
		}
	}
	return 80
}
