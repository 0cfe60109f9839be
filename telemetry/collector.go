package telemetry

import (
	"sync"
	"time"
)

// AnnouncerStatsProvider reports the announcer's slot state
type AnnouncerStatsProvider interface {
	Busy() bool
	Pending() bool
}

// MetricsCollector periodically collects stats and updates telemetry gauges
type MetricsCollector struct {
	announcer AnnouncerStatsProvider
	interval  time.Duration
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(announcer AnnouncerStatsProvider, interval time.Duration) *MetricsCollector {
	return &MetricsCollector{
		announcer: announcer,
		interval:  interval,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the periodic collection
func (mc *MetricsCollector) Start() {
	mc.wg.Add(1)
	go mc.collectLoop()
}

// Stop stops the collector
func (mc *MetricsCollector) Stop() {
	mc.stopOnce.Do(func() { close(mc.stopCh) })
	mc.wg.Wait()
}

func (mc *MetricsCollector) collectLoop() {
	defer mc.wg.Done()

	ticker := time.NewTicker(mc.interval)
	defer ticker.Stop()

	mc.collect()

	for {
		select {
		case <-ticker.C:
			mc.collect()
		case <-mc.stopCh:
			return
		}
	}
}

func (mc *MetricsCollector) collect() {
	if mc.announcer == nil {
		return
	}

	AnnouncerBusy.Set(boolGauge(mc.announcer.Busy()))
	AnnouncerPending.Set(boolGauge(mc.announcer.Pending()))
}
