package metrics

import (
	"time"

	"media-share/internal/logging"
)

// StatsProvider interface for collecting stats
type StatsProvider interface {
	GetStats() Stats
}

// Stats holds the current statistics
type Stats struct {
	PendingJobs    int
	ProcessingJobs int
	FailedJobs     int
	TotalAssets    int
	TotalUsers     int
}

// Collector periodically collects and updates metrics
type Collector struct {
	statsProvider StatsProvider
	interval      time.Duration
	stopChan      chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(provider StatsProvider, interval time.Duration) *Collector {
	return &Collector{
		statsProvider: provider,
		interval:      interval,
		stopChan:      make(chan struct{}),
	}
}

// Start begins the metrics collection loop
func (c *Collector) Start() {
	go c.collectLoop()
}

// Stop stops the metrics collection
func (c *Collector) Stop() {
	close(c.stopChan)
}

func (c *Collector) collectLoop() {
	c.collect()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stopChan:
			return
		}
	}
}

func (c *Collector) collect() {
	if c.statsProvider == nil {
		return
	}

	stats := c.statsProvider.GetStats()

	QueueJobsByStatus.WithLabelValues("pending").Set(float64(stats.PendingJobs))
	QueueJobsByStatus.WithLabelValues("processing").Set(float64(stats.ProcessingJobs))
	QueueJobsByStatus.WithLabelValues("failed").Set(float64(stats.FailedJobs))
	CatalogAssetsTotal.Set(float64(stats.TotalAssets))
	CatalogUsersTotal.Set(float64(stats.TotalUsers))

	logging.Debug("Metrics collected: pending=%d, processing=%d, failed=%d, assets=%d",
		stats.PendingJobs, stats.ProcessingJobs, stats.FailedJobs, stats.TotalAssets)
}
