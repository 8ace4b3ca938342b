package main

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/JakeFAU/follower-audit/internal/progress"
	"github.com/JakeFAU/follower-audit/internal/progress/sinks"
)

// progressPrinter renders recorder snapshots as one status line per update.
type progressPrinter struct {
	mu  sync.Mutex
	out io.Writer
}

func newProgressPrinter() *progressPrinter {
	return &progressPrinter{out: os.Stderr}
}

// Update is called on the hub goroutine after every batch of events.
func (p *progressPrinter) Update(s sinks.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	line := renderSnapshot(s)
	if line == "" {
		return
	}
	fmt.Fprintln(p.out, line)
}

// renderSnapshot picks the line for the phase the session is in. The recorder
// only tracks lifecycle stages, so the counters tell collection and analysis
// apart.
func renderSnapshot(s sinks.Snapshot) string {
	switch {
	case s.Stage == progress.StageSessionPaused:
		return "paused (send SIGUSR1 to resume)"
	case s.Stage.Terminal():
		return ""
	case s.Processed() > 0:
		return fmt.Sprintf("analyzed %d/%d  skipped %d  failed %d  suspicious %d  last @%s",
			s.Processed(), s.Collected, s.Skipped, s.Failed, s.Suspicious, s.LastHandle)
	case s.Collected > 0 || s.Total > 0:
		return fmt.Sprintf("collecting followers: %d/%d (%.1f%%)", s.Collected, s.Total, s.CollectPercent)
	default:
		return fmt.Sprintf("auditing @%s (%s)", s.Target, s.Note)
	}
}
