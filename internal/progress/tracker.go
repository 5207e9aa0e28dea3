package progress

import (
	"fmt"
	"sync"
	"time"
)

// Status represents the current migration status
type Status struct {
	TotalMessages     int64
	ProcessedMessages int64
	SentMessages      int64
	FailedMessages    int64
	SkippedMessages   int64
	Reactions         int64
	Memberships       int64
	ChannelsDone      int64
	TotalChannels     int64
	StartTime         time.Time
	LastUpdateTime    time.Time
	AverageRate       float64 // messages/second
	ETA               time.Duration
}

// Tracker tracks migration progress
type Tracker struct {
	mu     sync.RWMutex
	status Status
}

// NewTracker creates a new progress tracker
func NewTracker() *Tracker {
	now := time.Now()
	return &Tracker{
		status: Status{
			StartTime:      now,
			LastUpdateTime: now,
		},
	}
}

// SetTotals sets the expected channel and message counts.
func (t *Tracker) SetTotals(channels, messages int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.TotalChannels = channels
	t.status.TotalMessages = messages
}

// AddSent increments the sent-message count.
func (t *Tracker) AddSent() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.SentMessages++
	t.status.ProcessedMessages++
	t.update()
}

// AddFailed increments the failed-message count.
func (t *Tracker) AddFailed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.FailedMessages++
	t.status.ProcessedMessages++
	t.update()
}

// AddSkipped increments the skipped-message count.
func (t *Tracker) AddSkipped() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.SkippedMessages++
	t.status.ProcessedMessages++
	t.update()
}

// AddReactions adds to the replayed-reaction count.
func (t *Tracker) AddReactions(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Reactions += n
	t.update()
}

// AddMemberships adds to the created-membership count.
func (t *Tracker) AddMemberships(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Memberships += n
	t.update()
}

// ChannelDone increments the completed-channel count.
func (t *Tracker) ChannelDone() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.ChannelsDone++
	t.update()
}

// update recalculates rate and ETA (must be called with lock held)
func (t *Tracker) update() {
	now := time.Now()
	elapsed := now.Sub(t.status.StartTime)
	if elapsed > 0 {
		t.status.AverageRate = float64(t.status.ProcessedMessages) / elapsed.Seconds()
	}

	remaining := t.status.TotalMessages - t.status.ProcessedMessages
	if remaining > 0 && t.status.AverageRate > 0 {
		t.status.ETA = time.Duration(float64(remaining)/t.status.AverageRate) * time.Second
	} else {
		t.status.ETA = 0
	}
	t.status.LastUpdateTime = now
}

// GetStatus returns the current status (thread-safe)
func (t *Tracker) GetStatus() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// GetProgressPercent returns the progress percentage
func (t *Tracker) GetProgressPercent() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.status.TotalMessages == 0 {
		return 0
	}
	return float64(t.status.ProcessedMessages) / float64(t.status.TotalMessages) * 100
}

// FormatRate formats a message rate in human readable form
func FormatRate(perSecond float64) string {
	if perSecond < 1 {
		return fmt.Sprintf("%.2f msg/s", perSecond)
	}
	return fmt.Sprintf("%.1f msg/s", perSecond)
}

// FormatDuration formats duration in human readable format
func FormatDuration(d time.Duration) string {
	if d == 0 {
		return "--"
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
