package progress

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// Display periodically renders migration progress to the terminal
type Display struct {
	tracker  *Tracker
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
	once     sync.Once
}

// NewDisplay creates a new progress display
func NewDisplay(tracker *Tracker, interval time.Duration) *Display {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Display{
		tracker:  tracker,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// IsTerminalSupported reports whether stdout is an interactive terminal.
func IsTerminalSupported() bool {
	if fileInfo, _ := os.Stdout.Stat(); (fileInfo.Mode() & os.ModeCharDevice) == 0 {
		return false
	}
	return true
}

// Start begins rendering progress lines until Stop is called.
func (d *Display) Start() {
	go d.loop()
}

// Stop halts rendering and prints a final line.
func (d *Display) Stop() {
	d.once.Do(func() {
		close(d.stopCh)
		<-d.doneCh
	})
}

func (d *Display) loop() {
	defer close(d.doneCh)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.render(false)
		case <-d.stopCh:
			d.render(true)
			fmt.Println()
			return
		}
	}
}

func (d *Display) render(final bool) {
	s := d.tracker.GetStatus()
	pct := d.tracker.GetProgressPercent()

	line := fmt.Sprintf(
		"\rchannels %d/%d | messages %d/%d (%.1f%%) | sent %d skipped %d failed %d | reactions %d | %s | ETA %s",
		s.ChannelsDone, s.TotalChannels,
		s.ProcessedMessages, s.TotalMessages, pct,
		s.SentMessages, s.SkippedMessages, s.FailedMessages,
		s.Reactions,
		FormatRate(s.AverageRate),
		FormatDuration(s.ETA),
	)
	if final {
		line = fmt.Sprintf(
			"\rchannels %d/%d | messages %d sent, %d skipped, %d failed | reactions %d | memberships %d | elapsed %s",
			s.ChannelsDone, s.TotalChannels,
			s.SentMessages, s.SkippedMessages, s.FailedMessages,
			s.Reactions, s.Memberships,
			FormatDuration(time.Since(s.StartTime).Round(time.Second)),
		)
	}
	fmt.Print(line)
}
