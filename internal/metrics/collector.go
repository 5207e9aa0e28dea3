package metrics

import (
	"net/http"
	"time"

	"slack2chat/internal/progress"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector collects and exposes migration metrics
type Collector struct {
	registry         *prometheus.Registry
	messagesTotal    *prometheus.CounterVec
	reactionsTotal   *prometheus.CounterVec
	membershipsTotal *prometheus.CounterVec
	spacesCreated    prometheus.Counter
	apiDuration      prometheus.Histogram
	progressTracker  *progress.Tracker
}

// New creates a new metrics collector
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		messagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "migrate_messages_total",
				Help: "Total number of messages processed",
			},
			[]string{"status"},
		),
		reactionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "migrate_reactions_total",
				Help: "Total number of reactions processed",
			},
			[]string{"status"},
		),
		membershipsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "migrate_memberships_total",
				Help: "Total number of memberships created",
			},
			[]string{"kind", "status"},
		),
		spacesCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "migrate_spaces_created_total",
				Help: "Total number of import-mode spaces created",
			},
		),
		apiDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "migrate_api_call_duration_seconds",
				Help:    "Time taken by destination API calls",
				Buckets: prometheus.DefBuckets,
			},
		),
		progressTracker: progress.NewTracker(),
	}

	c.registry.MustRegister(c.messagesTotal)
	c.registry.MustRegister(c.reactionsTotal)
	c.registry.MustRegister(c.membershipsTotal)
	c.registry.MustRegister(c.spacesCreated)
	c.registry.MustRegister(c.apiDuration)

	return c
}

// IncSent increments the sent message counter
func (c *Collector) IncSent() {
	c.messagesTotal.WithLabelValues("sent").Inc()
	c.progressTracker.AddSent()
}

// IncSkipped increments the skipped message counter
func (c *Collector) IncSkipped(reason string) {
	c.messagesTotal.WithLabelValues("skipped_" + reason).Inc()
	c.progressTracker.AddSkipped()
}

// IncFailed increments the failed message counter
func (c *Collector) IncFailed() {
	c.messagesTotal.WithLabelValues("failed").Inc()
	c.progressTracker.AddFailed()
}

// AddReactions adds to the replayed reaction counter
func (c *Collector) AddReactions(n int) {
	c.reactionsTotal.WithLabelValues("created").Add(float64(n))
	c.progressTracker.AddReactions(int64(n))
}

// IncReactionFailed increments the failed reaction counter
func (c *Collector) IncReactionFailed() {
	c.reactionsTotal.WithLabelValues("failed").Inc()
}

// IncReactionSkipped increments the skipped (unmapped/external) reaction counter
func (c *Collector) IncReactionSkipped() {
	c.reactionsTotal.WithLabelValues("skipped").Inc()
}

// IncMembership increments the membership counter for a kind/status pair
func (c *Collector) IncMembership(kind, status string) {
	c.membershipsTotal.WithLabelValues(kind, status).Inc()
	if status == "ok" {
		c.progressTracker.AddMemberships(1)
	}
}

// IncSpaceCreated increments the created space counter
func (c *Collector) IncSpaceCreated() {
	c.spacesCreated.Inc()
}

// ObserveAPICall observes a destination API call duration
func (c *Collector) ObserveAPICall(duration time.Duration) {
	c.apiDuration.Observe(duration.Seconds())
}

// ChannelDone marks one channel as fully processed for progress tracking
func (c *Collector) ChannelDone() {
	c.progressTracker.ChannelDone()
}

// StartServer starts the metrics HTTP server
func (c *Collector) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	return http.ListenAndServe(addr, mux)
}

// GetProgressTracker returns the progress tracker
func (c *Collector) GetProgressTracker() *progress.Tracker {
	return c.progressTracker
}

// SetTotals sets expected totals for progress tracking
func (c *Collector) SetTotals(channels, messages int64) {
	c.progressTracker.SetTotals(channels, messages)
}
