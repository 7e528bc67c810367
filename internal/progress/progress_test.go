package progress

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"hostrun/internal/message"
)

func TestCountsAndPercent(t *testing.T) {
	p := New(4)

	p.Pass()
	p.Pass()
	p.Fail()

	pass, fail, total := p.Counts()
	if pass != 2 || fail != 1 || total != 4 {
		t.Errorf("Counts() = (%d, %d, %d), want (2, 1, 4)", pass, fail, total)
	}
	if got := p.Percent(); got != 75 {
		t.Errorf("Percent() = %v, want 75", got)
	}
}

func TestIncrementStopsAtTotal(t *testing.T) {
	p := New(2)
	p.Pass()
	p.Pass()
	p.Pass() // over-counting is ignored

	pass, _, _ := p.Counts()
	if pass != 2 {
		t.Errorf("pass = %d, want 2", pass)
	}
	if got := p.Percent(); got != 100 {
		t.Errorf("Percent() = %v, want 100", got)
	}
}

func TestETANeedsSamples(t *testing.T) {
	p := New(100)
	p.Pass()
	p.Pass()

	if _, ok := p.ETA(); ok {
		t.Error("expected no ETA with too few samples")
	}

	for i := 0; i < 10; i++ {
		time.Sleep(time.Millisecond)
		p.Pass()
	}
	if eta, ok := p.ETA(); !ok || eta <= 0 {
		t.Errorf("expected a positive ETA, got %v ok=%v", eta, ok)
	}
}

func TestSummaryShape(t *testing.T) {
	p := New(43)
	for i := 0; i < 35; i++ {
		if i < 5 {
			p.Fail()
		} else {
			p.Pass()
		}
	}

	line := message.Strip(p.Summary(SummaryOptions{MaxWidth: 70}))
	if !strings.Contains(line, "81%") {
		t.Errorf("summary missing percent: %q", line)
	}
	if !strings.Contains(line, "(35/43)") {
		t.Errorf("summary missing counts: %q", line)
	}
	if !strings.Contains(line, "failed") {
		t.Errorf("summary missing failure tail: %q", line)
	}
	if len(line) > 70 {
		t.Errorf("summary length %d exceeds max width 70: %q", len(line), line)
	}

	hidden := message.Strip(p.Summary(SummaryOptions{MaxWidth: 70, HideFailed: true}))
	if strings.Contains(hidden, "failed") {
		t.Errorf("HideFailed summary still shows failures: %q", hidden)
	}
}

func TestSummaryMarksFinished(t *testing.T) {
	p := New(1)
	p.Pass()
	if p.Finished() {
		t.Fatal("Finished should require a rendered 100% summary")
	}
	_ = p.Summary(SummaryOptions{})
	if !p.Finished() {
		t.Fatal("expected Finished after rendering at 100%")
	}
}

func TestDisplayStopsWhenDone(t *testing.T) {
	var out, errOut bytes.Buffer
	msg := message.New(message.WithOutput(&out, &errOut))

	p := New(3)
	stop := p.Display(msg, SummaryOptions{MaxWidth: 60}, 5*time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Pass()
		}()
	}
	wg.Wait()

	deadline := time.After(2 * time.Second)
	for !p.Finished() {
		select {
		case <-deadline:
			t.Fatal("renderer never observed completion")
		case <-time.After(5 * time.Millisecond):
		}
	}
	stop()

	if !strings.Contains(out.String(), "100%") {
		t.Errorf("display output missing final summary: %q", out.String())
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0:00:00"},
		{6 * time.Second, "0:00:06"},
		{90 * time.Second, "0:01:30"},
		{2*time.Hour + 3*time.Minute + 4*time.Second, "2:03:04"},
		{-time.Second, "0:00:00"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.in); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
